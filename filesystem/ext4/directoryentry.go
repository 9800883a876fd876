package ext4

import (
	"encoding/binary"
	"fmt"
)

// directoryFileType is the on-disk file-type byte recorded alongside each
// directory entry when the filetype feature is enabled, which it is on
// essentially every ext4 filesystem in existence.
type directoryFileType uint8

const (
	dirFileTypeUnknown directoryFileType = iota
	dirFileTypeRegular
	dirFileTypeDirectory
	dirFileTypeCharacterDevice
	dirFileTypeBlockDevice
	dirFileTypeFIFO
	dirFileTypeSocket
	dirFileTypeSymlink
)

// minDirEntryLength is the size of a directory entry's fixed header
// (inode, rec_len, name_len, file_type) before its variable-length name.
const minDirEntryLength = 8

// dirEntryTailSize is the size of the fake trailing "entry" appended to
// each directory block when metadata_csum is enabled, carrying the
// block's checksum.
const dirEntryTailSize = minDirEntryLength + 4

// dirEntryTailFileType is the sentinel file_type value used to mark the
// checksum tail so it is never mistaken for a real entry.
const dirEntryTailFileType = 0xde

// directoryEntry represents a single entry in an ext4 directory: a name,
// the inode it points to, and the type of file it refers to.
type directoryEntry struct {
	inode    uint32
	filename string
	fileType directoryFileType
}

// align4 rounds n up to the next multiple of 4, the alignment ext4
// requires for directory entry record lengths.
func align4(n int) int {
	return (n + 3) &^ 3
}

// dirEntryLength returns the natural (minimum) on-disk size of an entry
// for the given filename, before any rec_len slack is added.
func dirEntryLength(filename string) int {
	return align4(minDirEntryLength + len(filename))
}

// toBytesSized renders the entry into exactly size bytes; size must be at
// least dirEntryLength(de.filename), with any excess becoming the entry's
// rec_len slack (used to absorb the rest of a directory block).
func (de *directoryEntry) toBytesSized(size int) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0:4], de.inode)
	binary.LittleEndian.PutUint16(b[4:6], uint16(size))
	b[6] = uint8(len(de.filename))
	b[7] = uint8(de.fileType)
	copy(b[8:], de.filename)
	return b
}

// parseDirEntriesLinear parses the classic (non-htree) linear directory
// entry format out of one or more blocksize-sized directory blocks,
// skipping the metadata_csum checksum tail at the end of each block when
// present. Deleted entries (inode == 0) are skipped.
func parseDirEntriesLinear(b []byte, metadataChecksums bool, blocksize, inodeNumber, nfsFileVersion, checksumSeed uint32) ([]*directoryEntry, error) {
	_ = inodeNumber
	_ = nfsFileVersion
	_ = checksumSeed // parsing does not itself validate the checksum

	if blocksize == 0 {
		return nil, fmt.Errorf("invalid block size 0")
	}

	var entries []*directoryEntry
	for blockStart := 0; blockStart+int(blocksize) <= len(b); blockStart += int(blocksize) {
		block := b[blockStart : blockStart+int(blocksize)]
		limit := len(block)
		if metadataChecksums {
			limit -= dirEntryTailSize
		}
		offset := 0
		for offset+minDirEntryLength <= limit {
			inode := binary.LittleEndian.Uint32(block[offset : offset+4])
			recLen := int(binary.LittleEndian.Uint16(block[offset+4 : offset+6]))
			nameLen := int(block[offset+6])
			fType := directoryFileType(block[offset+7])
			if recLen <= 0 {
				break
			}
			if inode != 0 {
				if offset+minDirEntryLength+nameLen > len(block) {
					return nil, fmt.Errorf("corrupt directory entry at offset %d: name overruns block", offset)
				}
				name := string(block[offset+minDirEntryLength : offset+minDirEntryLength+nameLen])
				entries = append(entries, &directoryEntry{
					inode:    inode,
					filename: name,
					fileType: fType,
				})
			}
			offset += recLen
		}
	}

	return entries, nil
}

// treeRoot is the parsed root of an htree directory index block. This
// driver never creates htree-indexed directories and does not implement
// htree traversal; parseDirectoryTreeRoot/parseDirEntriesHashed exist only
// to give hashedDirectoryIndexes inodes encountered on read a clear error
// instead of a nil-pointer panic.
type treeRoot struct {
	depth      uint8
	dotEntry   *directoryEntry
	dotDotEntry *directoryEntry
}

// parseDirectoryTreeRoot would parse an htree directory's root block. Not
// supported by this driver.
func parseDirectoryTreeRoot(b []byte, largeDirectory bool) (*treeRoot, error) {
	_ = b
	_ = largeDirectory
	return nil, fmt.Errorf("htree-indexed directories are not supported")
}

// parseDirEntriesHashed would parse an htree directory's leaf blocks. Not
// supported by this driver.
func parseDirEntriesHashed(b []byte, depth uint8, root *treeRoot, blocksize uint32, metadataChecksums bool, inodeNumber, nfsFileVersion, checksumSeed uint32) ([]*directoryEntry, error) {
	_, _, _, _, _, _, _, _ = b, depth, root, blocksize, metadataChecksums, inodeNumber, nfsFileVersion, checksumSeed
	return nil, fmt.Errorf("htree-indexed directories are not supported")
}
