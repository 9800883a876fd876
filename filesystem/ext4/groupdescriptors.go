package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/ext4-tools/ext4fs/filesystem/ext4/crc"
)

// blockGroupFlags mirrors the group descriptor's bg_flags field: whether a
// group's metadata still needs lazy initialization.
type blockGroupFlags struct {
	inodeTableZeroed         bool
	inodesUninitialized      bool
	blockBitmapUninitialized bool
}

const (
	bgFlagInodeTableZeroed         uint16 = 0x0004
	bgFlagInodesUninitialized      uint16 = 0x0001
	bgFlagBlockBitmapUninitialized uint16 = 0x0002
)

func blockGroupFlagsFromUint16(v uint16) blockGroupFlags {
	return blockGroupFlags{
		inodeTableZeroed:         v&bgFlagInodeTableZeroed != 0,
		inodesUninitialized:      v&bgFlagInodesUninitialized != 0,
		blockBitmapUninitialized: v&bgFlagBlockBitmapUninitialized != 0,
	}
}

func (f blockGroupFlags) toUint16() uint16 {
	var v uint16
	if f.inodeTableZeroed {
		v |= bgFlagInodeTableZeroed
	}
	if f.inodesUninitialized {
		v |= bgFlagInodesUninitialized
	}
	if f.blockBitmapUninitialized {
		v |= bgFlagBlockBitmapUninitialized
	}
	return v
}

// groupDescriptor is a single entry in the group descriptor table,
// describing the location of one block group's bitmaps and inode table.
type groupDescriptor struct {
	number                           uint16
	size                             uint16
	blockBitmapLocation              uint64
	inodeBitmapLocation              uint64
	inodeTableLocation               uint64
	freeBlocks                       uint32
	freeInodes                      uint32
	usedDirectories                  uint32
	unusedInodes                     uint32
	flags                            blockGroupFlags
	blockBitmapChecksum              uint32
	inodeBitmapChecksum              uint32
	snapshotExclusionBitmapLocation  uint64
}

// groupDescriptors is the full group descriptor table.
type groupDescriptors struct {
	descriptors []groupDescriptor
}

// groupDescriptorFromBytes parses a single group descriptor entry of
// groupDescriptorSize bytes (32 for legacy, 64 with the 64bit feature) out
// of b, which must begin at the entry's offset within the table.
func groupDescriptorFromBytes(b []byte, groupDescriptorSize uint16, number int, checksumType gdtChecksumType, checksumSeed uint32) (*groupDescriptor, error) {
	_ = checksumType
	_ = checksumSeed
	if len(b) < int(groupDescriptorSize) {
		return nil, fmt.Errorf("group descriptor data too short: %d bytes, need %d", len(b), groupDescriptorSize)
	}
	b = b[:groupDescriptorSize]

	gd := &groupDescriptor{
		number: uint16(number),
		size:   groupDescriptorSize,
	}

	blockBitmapLo := binary.LittleEndian.Uint32(b[0x00:0x04])
	inodeBitmapLo := binary.LittleEndian.Uint32(b[0x04:0x08])
	inodeTableLo := binary.LittleEndian.Uint32(b[0x08:0x0c])
	freeBlocksLo := binary.LittleEndian.Uint16(b[0x0c:0x0e])
	freeInodesLo := binary.LittleEndian.Uint16(b[0x0e:0x10])
	usedDirsLo := binary.LittleEndian.Uint16(b[0x10:0x12])
	gd.flags = blockGroupFlagsFromUint16(binary.LittleEndian.Uint16(b[0x12:0x14]))
	exclusionBitmapLo := binary.LittleEndian.Uint32(b[0x14:0x18])
	blockBitmapChecksumLo := binary.LittleEndian.Uint16(b[0x18:0x1a])
	inodeBitmapChecksumLo := binary.LittleEndian.Uint16(b[0x1a:0x1c])
	unusedInodesLo := binary.LittleEndian.Uint16(b[0x1c:0x1e])

	var (
		blockBitmapHi, inodeBitmapHi, inodeTableHi                 uint32
		freeBlocksHi, freeInodesHi, usedDirsHi, unusedInodesHi      uint16
		exclusionBitmapHi                                          uint32
		blockBitmapChecksumHi, inodeBitmapChecksumHi               uint16
	)
	if groupDescriptorSize >= 64 {
		blockBitmapHi = binary.LittleEndian.Uint32(b[0x20:0x24])
		inodeBitmapHi = binary.LittleEndian.Uint32(b[0x24:0x28])
		inodeTableHi = binary.LittleEndian.Uint32(b[0x28:0x2c])
		freeBlocksHi = binary.LittleEndian.Uint16(b[0x2c:0x2e])
		freeInodesHi = binary.LittleEndian.Uint16(b[0x2e:0x30])
		usedDirsHi = binary.LittleEndian.Uint16(b[0x30:0x32])
		unusedInodesHi = binary.LittleEndian.Uint16(b[0x32:0x34])
		exclusionBitmapHi = binary.LittleEndian.Uint32(b[0x34:0x38])
		blockBitmapChecksumHi = binary.LittleEndian.Uint16(b[0x38:0x3a])
		inodeBitmapChecksumHi = binary.LittleEndian.Uint16(b[0x3a:0x3c])
	}

	gd.blockBitmapLocation = uint64(blockBitmapHi)<<32 | uint64(blockBitmapLo)
	gd.inodeBitmapLocation = uint64(inodeBitmapHi)<<32 | uint64(inodeBitmapLo)
	gd.inodeTableLocation = uint64(inodeTableHi)<<32 | uint64(inodeTableLo)
	gd.freeBlocks = uint32(freeBlocksHi)<<16 | uint32(freeBlocksLo)
	gd.freeInodes = uint32(freeInodesHi)<<16 | uint32(freeInodesLo)
	gd.usedDirectories = uint32(usedDirsHi)<<16 | uint32(usedDirsLo)
	gd.unusedInodes = uint32(unusedInodesHi)<<16 | uint32(unusedInodesLo)
	gd.snapshotExclusionBitmapLocation = uint64(exclusionBitmapHi)<<32 | uint64(exclusionBitmapLo)
	gd.blockBitmapChecksum = uint32(blockBitmapChecksumHi)<<16 | uint32(blockBitmapChecksumLo)
	gd.inodeBitmapChecksum = uint32(inodeBitmapChecksumHi)<<16 | uint32(inodeBitmapChecksumLo)

	return gd, nil
}

// toBytes renders a single group descriptor entry into gd.size bytes (32
// or 64; groupDescriptorSize when gd.size is 0), including its checksum
// recomputed according to checksumType.
func (gd *groupDescriptor) toBytes(checksumType gdtChecksumType, checksumSeed uint32) []byte {
	size := gd.size
	if size == 0 {
		size = groupDescriptorSize
	}
	b := make([]byte, size)

	binary.LittleEndian.PutUint32(b[0x00:0x04], uint32(gd.blockBitmapLocation))
	binary.LittleEndian.PutUint32(b[0x04:0x08], uint32(gd.inodeBitmapLocation))
	binary.LittleEndian.PutUint32(b[0x08:0x0c], uint32(gd.inodeTableLocation))
	binary.LittleEndian.PutUint16(b[0x0c:0x0e], uint16(gd.freeBlocks))
	binary.LittleEndian.PutUint16(b[0x0e:0x10], uint16(gd.freeInodes))
	binary.LittleEndian.PutUint16(b[0x10:0x12], uint16(gd.usedDirectories))
	binary.LittleEndian.PutUint16(b[0x12:0x14], gd.flags.toUint16())
	binary.LittleEndian.PutUint32(b[0x14:0x18], uint32(gd.snapshotExclusionBitmapLocation))
	binary.LittleEndian.PutUint16(b[0x18:0x1a], uint16(gd.blockBitmapChecksum))
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], uint16(gd.inodeBitmapChecksum))
	binary.LittleEndian.PutUint16(b[0x1c:0x1e], uint16(gd.unusedInodes))

	if size >= 64 {
		binary.LittleEndian.PutUint32(b[0x20:0x24], uint32(gd.blockBitmapLocation>>32))
		binary.LittleEndian.PutUint32(b[0x24:0x28], uint32(gd.inodeBitmapLocation>>32))
		binary.LittleEndian.PutUint32(b[0x28:0x2c], uint32(gd.inodeTableLocation>>32))
		binary.LittleEndian.PutUint16(b[0x2c:0x2e], uint16(gd.freeBlocks>>16))
		binary.LittleEndian.PutUint16(b[0x2e:0x30], uint16(gd.freeInodes>>16))
		binary.LittleEndian.PutUint16(b[0x30:0x32], uint16(gd.usedDirectories>>16))
		binary.LittleEndian.PutUint16(b[0x32:0x34], uint16(gd.unusedInodes>>16))
		binary.LittleEndian.PutUint32(b[0x34:0x38], uint32(gd.snapshotExclusionBitmapLocation>>32))
		binary.LittleEndian.PutUint16(b[0x38:0x3a], uint16(gd.blockBitmapChecksum>>16))
		binary.LittleEndian.PutUint16(b[0x3a:0x3c], uint16(gd.inodeBitmapChecksum>>16))
	}

	checksum := gd.checksum(checksumType, checksumSeed, b)
	binary.LittleEndian.PutUint16(b[0x1e:0x20], checksum)

	return b
}

// checksum computes the group descriptor checksum over rendered (but not
// yet checksummed) bytes b: crc32c seeded from the filesystem checksum
// seed and this group's number when metadata_csum is enabled, or the
// legacy crc16 over the uuid, group number, and descriptor contents
// (skipping the checksum field itself) otherwise.
func (gd *groupDescriptor) checksum(checksumType gdtChecksumType, checksumSeed uint32, rendered []byte) uint16 {
	switch checksumType {
	case gdtChecksumCRC32c:
		var numberBytes [4]byte
		binary.LittleEndian.PutUint32(numberBytes[:], uint32(gd.number))
		seed := crc.CRC32c(checksumSeed, numberBytes[:])
		full := crc.CRC32c(seed, rendered[:0x1e])
		if len(rendered) > 0x20 {
			full = crc.CRC32c(full, rendered[0x20:])
		}
		return uint16(full & 0xffff)
	case gdtChecksumCRC16:
		var numberBytes [2]byte
		binary.LittleEndian.PutUint16(numberBytes[:], gd.number)
		seed := crc.CRC16(0xffff, numberBytes[:])
		full := crc.CRC16(seed, rendered[:0x1e])
		if len(rendered) > 0x20 {
			full = crc.CRC16(full, rendered[0x20:])
		}
		return full
	default:
		return 0
	}
}

// groupDescriptorsFromBytes parses the entire group descriptor table out
// of b, which must hold exactly len(b)/groupDescriptorSize entries back to
// back.
func groupDescriptorsFromBytes(b []byte, groupDescriptorSize uint16, checksumSeed uint32, checksumType gdtChecksumType) (*groupDescriptors, error) {
	if groupDescriptorSize == 0 {
		return nil, fmt.Errorf("invalid group descriptor size 0")
	}
	count := len(b) / int(groupDescriptorSize)
	descs := make([]groupDescriptor, 0, count)
	for i := 0; i < count; i++ {
		start := i * int(groupDescriptorSize)
		gd, err := groupDescriptorFromBytes(b[start:start+int(groupDescriptorSize)], groupDescriptorSize, i, checksumType, checksumSeed)
		if err != nil {
			return nil, fmt.Errorf("error parsing group descriptor %d: %w", i, err)
		}
		descs = append(descs, *gd)
	}
	return &groupDescriptors{descriptors: descs}, nil
}

// toBytes renders the entire group descriptor table, entry by entry.
func (gds *groupDescriptors) toBytes(checksumType gdtChecksumType, checksumSeed uint32) []byte {
	var out []byte
	for i := range gds.descriptors {
		out = append(out, gds.descriptors[i].toBytes(checksumType, checksumSeed)...)
	}
	return out
}

// equal reports whether gds and other describe the same group layout.
func (gds *groupDescriptors) equal(other *groupDescriptors) bool {
	if gds == nil || other == nil {
		return gds == other
	}
	if len(gds.descriptors) != len(other.descriptors) {
		return false
	}
	for i := range gds.descriptors {
		a, b := gds.descriptors[i], other.descriptors[i]
		if a.number != b.number ||
			a.blockBitmapLocation != b.blockBitmapLocation ||
			a.inodeBitmapLocation != b.inodeBitmapLocation ||
			a.inodeTableLocation != b.inodeTableLocation ||
			a.freeBlocks != b.freeBlocks ||
			a.freeInodes != b.freeInodes ||
			a.usedDirectories != b.usedDirectories {
			return false
		}
	}
	return true
}
