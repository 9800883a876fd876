package ext4

import (
	"encoding/binary"

	"github.com/ext4-tools/ext4fs/filesystem/ext4/crc"
)

// Directory represents an ext4 directory: the directory entry describing
// it in its parent (embedded), plus the entries it itself contains.
type Directory struct {
	directoryEntry
	root    bool
	entries []*directoryEntry
}

// toBytes renders the directory's entries into one or more
// bytesPerBlock-sized blocks using the classic linear directory layout,
// where the final entry in each block absorbs all remaining space via its
// rec_len. If appender is non-nil (metadata_csum is enabled), it is
// invoked once per block with the entries packed into the usable region
// (bytesPerBlock minus the checksum tail) and must return the full block
// with the tail appended.
func (dir *Directory) toBytes(bytesPerBlock uint32, appender func([]byte) []byte) []byte {
	usable := int(bytesPerBlock)
	if appender != nil {
		usable -= dirEntryTailSize
	}

	var out []byte
	var block []byte
	used := 0

	flush := func() {
		if block == nil {
			return
		}
		if used < usable {
			growLastEntry(block, usable-used)
		}
		if appender != nil {
			block = appender(block)
		}
		out = append(out, block...)
		block = nil
		used = 0
	}

	for _, e := range dir.entries {
		entryLen := dirEntryLength(e.filename)
		if block != nil && used+entryLen > usable {
			flush()
		}
		if block == nil {
			block = make([]byte, 0, usable)
		}
		block = append(block, e.toBytesSized(entryLen)...)
		used += entryLen
	}
	flush()

	return out
}

// growLastEntry walks the rec_len chain of a packed directory block and
// extends the final entry's rec_len by extra bytes, so it reaches exactly
// to the end of block.
func growLastEntry(block []byte, extra int) {
	if extra <= 0 {
		return
	}
	offset := 0
	for offset < len(block) {
		recLen := int(binary.LittleEndian.Uint16(block[offset+4 : offset+6]))
		if recLen <= 0 {
			return
		}
		if offset+recLen >= len(block) {
			binary.LittleEndian.PutUint16(block[offset+4:offset+6], uint16(recLen+extra))
			return
		}
		offset += recLen
	}
}

// directoryChecksumAppender returns a function that appends the
// metadata_csum checksum tail to a directory block's packed entries,
// matching the on-disk ext4_dir_entry_tail / dirblock checksum algorithm:
// crc32c(crc32c(crc32c(seed, uuid), inode||generation), block contents).
func directoryChecksumAppender(checksumSeed, inodeNumber, generation uint32) func([]byte) []byte {
	return func(content []byte) []byte {
		var prefix [8]byte
		binary.LittleEndian.PutUint32(prefix[0:4], inodeNumber)
		binary.LittleEndian.PutUint32(prefix[4:8], generation)
		seed := crc.CRC32c(checksumSeed, prefix[:])
		checksum := crc.CRC32c(seed, content)

		tail := make([]byte, dirEntryTailSize)
		// inode = 0 (bytes already zero), rec_len = tail size
		binary.LittleEndian.PutUint16(tail[4:6], uint16(dirEntryTailSize))
		// name_len = 0 (already zero), file_type = tail sentinel
		tail[7] = dirEntryTailFileType
		binary.LittleEndian.PutUint32(tail[8:12], checksum)

		out := make([]byte, 0, len(content)+len(tail))
		out = append(out, content...)
		out = append(out, tail...)
		return out
	}
}
