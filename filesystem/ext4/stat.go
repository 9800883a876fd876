package ext4

import (
	iofs "io/fs"
	"time"
)

// StatT is the ext4-specific payload of iofs.FileInfo.Sys(), exposing the
// owning uid/gid recorded in the inode.
type StatT struct {
	UID uint32
	GID uint32
}

// FileInfo implements iofs.FileInfo for a single ext4 directory entry.
type FileInfo struct {
	modTime time.Time
	name    string
	size    int64
	isDir   bool
	mode    iofs.FileMode
	sys     interface{}
}

func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return fi.size }
func (fi *FileInfo) Mode() iofs.FileMode { return fi.mode }
func (fi *FileInfo) ModTime() time.Time { return fi.modTime }
func (fi *FileInfo) IsDir() bool        { return fi.isDir }
func (fi *FileInfo) Sys() interface{}   { return fi.sys }

// directoryEntryInfo implements iofs.DirEntry by pairing a parsed
// directory entry with the inode it points to.
type directoryEntryInfo struct {
	inode          *inode
	directoryEntry *directoryEntry
}

func (d *directoryEntryInfo) Name() string {
	return d.directoryEntry.filename
}

func (d *directoryEntryInfo) IsDir() bool {
	return d.directoryEntry.fileType == dirFileTypeDirectory
}

func (d *directoryEntryInfo) Type() iofs.FileMode {
	return d.inode.permissionsToMode().Type()
}

func (d *directoryEntryInfo) Info() (iofs.FileInfo, error) {
	return &FileInfo{
		modTime: d.inode.modifyTime,
		name:    d.directoryEntry.filename,
		size:    int64(d.inode.size),
		isDir:   d.IsDir(),
		mode:    d.inode.permissionsToMode(),
		sys: &StatT{
			UID: d.inode.owner,
			GID: d.inode.group,
		},
	}, nil
}

// interface guards
var (
	_ iofs.FileInfo = (*FileInfo)(nil)
	_ iofs.DirEntry = (*directoryEntryInfo)(nil)
)
