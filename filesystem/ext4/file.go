package ext4

import (
	"fmt"
	iofs "io/fs"
	"io"
	"time"
)

// File represents a single open file (or directory, opened for the
// low-level block writes initFile/mkDirEntry use to lay out "." and
// "..") in an ext4 filesystem.
type File struct {
	*inode
	filename      string
	fileType      directoryFileType
	isReadWrite   bool
	isAppend      bool
	offset        int64
	filesystem    *FileSystem
	extents       extents
	dirEntriesPos int
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF
// reads from the last known offset in the file from last read or write
// use Seek() to set at a particular point
func (fl *File) Read(b []byte) (int, error) {
	var (
		fileSize  = int64(fl.size)
		blocksize = uint64(fl.filesystem.superblock.blockSize)
	)
	if fl.offset >= fileSize {
		return 0, io.EOF
	}

	// Calculate the number of bytes to read
	bytesToRead := int64(len(b))
	if fl.offset+bytesToRead > fileSize {
		bytesToRead = fileSize - fl.offset
	}

	// Create a buffer to hold the bytes to be read
	readBytes := int64(0)
	b = b[:bytesToRead]

	// the offset given for reading is relative to the file, so we need to calculate
	// where these are in the extents relative to the file
	readStartBlock := uint64(fl.offset) / blocksize
	for _, e := range fl.extents {
		// if the last block of the extent is before the first block we want to read, skip it
		if uint64(e.fileBlock)+uint64(e.count) <= readStartBlock {
			continue
		}
		// extentSize is the number of bytes on the disk for the extent
		extentSize := int64(e.count) * int64(blocksize)
		// where do we start and end in the extent?
		startPositionInExtent := fl.offset - int64(e.fileBlock)*int64(blocksize)
		leftInExtent := extentSize - startPositionInExtent
		// how many bytes are left to read
		toReadInOffset := bytesToRead - readBytes
		if toReadInOffset > leftInExtent {
			toReadInOffset = leftInExtent
		}
		// read those bytes
		startPosOnDisk := e.startingBlock*blocksize + uint64(startPositionInExtent)
		b2 := make([]byte, toReadInOffset)
		read, err := fl.filesystem.backend.ReadAt(b2, int64(startPosOnDisk))
		if err != nil {
			return int(readBytes), fmt.Errorf("failed to read bytes: %v", err)
		}
		copy(b[readBytes:], b2[:read])
		readBytes += int64(read)
		fl.offset += int64(read)

		if readBytes >= bytesToRead {
			break
		}
	}
	var err error
	if fl.offset >= fileSize {
		err = io.EOF
	}

	return int(readBytes), err
}

// Write writes len(p) bytes to the File, starting at its current offset
// (or at the end of the file, if opened with O_APPEND). Blocks already
// covered by the file's extent tree are updated via a read-modify-write
// when the write does not fill the whole block; blocks beyond the
// current end of the file are allocated one at a time from the block
// allocator and folded into the inode's extent tree via insertExtent.
// If the write extends past the current size, inode.size grows and the
// inode is written back to disk with an updated checksum.
func (fl *File) Write(p []byte) (int, error) {
	if !fl.isReadWrite {
		return 0, fmt.Errorf("file not opened for writing")
	}
	if len(p) == 0 {
		return 0, nil
	}
	fs := fl.filesystem
	blocksize := uint64(fs.superblock.blockSize)
	writableFile, err := fs.backend.Writable()
	if err != nil {
		return 0, fmt.Errorf("filesystem is not writable: %w", err)
	}
	if fl.isAppend {
		fl.offset = int64(fl.size)
	}

	var (
		written int
		pos     = fl.offset
	)
	for len(p) > 0 {
		blockIndex := uint64(pos) / blocksize
		blockOffset := uint64(pos) % blocksize
		chunk := blocksize - blockOffset
		if uint64(len(p)) < chunk {
			chunk = uint64(len(p))
		}

		pblock, existed, err := fl.blockForLogical(blockIndex)
		if err != nil {
			return written, err
		}
		if !existed {
			pblock, err = fl.appendBlock(blockIndex)
			if err != nil {
				return written, err
			}
		}

		buf := make([]byte, blocksize)
		if existed && (blockOffset != 0 || chunk != blocksize) {
			if _, err := fs.backend.ReadAt(buf, int64(pblock*blocksize)); err != nil {
				return written, fmt.Errorf("failed to read block %d for read-modify-write: %w", pblock, err)
			}
		}
		copy(buf[blockOffset:], p[:chunk])
		if _, err := writableFile.WriteAt(buf, int64(pblock*blocksize)); err != nil {
			return written, fmt.Errorf("failed to write block %d: %w", pblock, err)
		}

		written += int(chunk)
		pos += int64(chunk)
		p = p[chunk:]
	}

	fl.offset = pos
	if uint64(pos) > fl.size {
		fl.size = uint64(pos)
		if fl.inode != nil {
			fl.inode.size = fl.size
			fl.inode.modifyTime = time.Now()
			if err := fs.writeInode(fl.inode); err != nil {
				return written, fmt.Errorf("failed to write updated inode: %w", err)
			}
		}
	}
	return written, nil
}

// blockForLogical resolves logical block blockIndex against the file's
// already-known extents. It reports whether a mapping already existed.
func (fl *File) blockForLogical(blockIndex uint64) (uint64, bool, error) {
	for _, e := range fl.extents {
		if blockIndex >= uint64(e.fileBlock) && blockIndex < uint64(e.fileBlock)+uint64(e.count) {
			return e.startingBlock + (blockIndex - uint64(e.fileBlock)), true, nil
		}
	}
	return 0, false, nil
}

// appendBlock allocates one new physical block for logical block
// blockIndex, inserts it into the inode's extent tree, bumps
// inode.blocks by the 512-byte-unit count the block represents, and
// refreshes fl.extents from the updated tree.
func (fl *File) appendBlock(blockIndex uint64) (uint64, error) {
	fs := fl.filesystem
	alloc, err := fs.allocateExtents(uint64(fs.superblock.blockSize), nil)
	if err != nil {
		return 0, fmt.Errorf("could not allocate block for file offset: %w", err)
	}
	allocated := *alloc
	if len(allocated) == 0 {
		return 0, fmt.Errorf("block allocator returned no extents")
	}
	pblock := allocated[0].startingBlock
	newex := extent{fileBlock: uint32(blockIndex), startingBlock: pblock, count: 1}

	updated, _, err := insertExtent(fl.inode.extents, &newex, fs)
	if err != nil {
		return 0, fmt.Errorf("could not insert extent into tree: %w", err)
	}
	fl.inode.extents = updated
	fl.inode.blocks += uint64(fs.superblock.blockSize) / 512

	refreshed, err := fl.inode.extents.blocks(fs)
	if err != nil {
		return 0, fmt.Errorf("could not reread extent tree: %w", err)
	}
	fl.extents = refreshed
	return pblock, nil
}

// Stat returns file metadata, satisfying fs.ReadDirFile.
func (fl *File) Stat() (iofs.FileInfo, error) {
	return &FileInfo{
		modTime: fl.inode.modifyTime,
		name:    fl.filename,
		size:    int64(fl.inode.size),
		isDir:   fl.fileType == dirFileTypeDirectory,
		mode:    fl.inode.permissionsToMode(),
		sys: &StatT{
			UID: fl.inode.owner,
			GID: fl.inode.group,
		},
	}, nil
}

// ReadDir reads directory entries from a File opened on a directory,
// satisfying fs.ReadDirFile. If n <= 0, all remaining entries are
// returned at once; otherwise at most n are returned, tracked by
// dirEntriesPos across calls.
func (fl *File) ReadDir(n int) ([]iofs.DirEntry, error) {
	if fl.fileType != dirFileTypeDirectory {
		return nil, fmt.Errorf("%s is not a directory", fl.filename)
	}
	entries, err := fl.filesystem.readDirectory(fl.inode.number)
	if err != nil {
		return nil, fmt.Errorf("could not read directory %s: %w", fl.filename, err)
	}
	var ret []iofs.DirEntry
	for ; fl.dirEntriesPos < len(entries); fl.dirEntriesPos++ {
		e := entries[fl.dirEntriesPos]
		if e.filename == "." || e.filename == ".." || e.filename == "" {
			continue
		}
		in, err := fl.filesystem.readInode(e.inode)
		if err != nil {
			return ret, fmt.Errorf("could not read inode %d in directory %s: %w", e.inode, fl.filename, err)
		}
		ret = append(ret, &directoryEntryInfo{inode: in, directoryEntry: e})
		if n > 0 && len(ret) >= n {
			fl.dirEntriesPos++
			return ret, nil
		}
	}
	if n > 0 && len(ret) == 0 {
		return ret, io.EOF
	}
	return ret, nil
}

// Seek set the offset to a particular point in the file
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	newOffset := int64(0)
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.size) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// Close close a file that is being read
func (fl *File) Close() error {
	*fl = File{}
	return nil
}
