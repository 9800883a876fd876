package ext4

// featureFlags tracks the ext4 compat/incompat/ro_compat feature bits
// relevant to this driver, collapsed into named booleans rather than the
// three separate on-disk 32-bit bitmasks.
type featureFlags struct {
	// compat
	directoryIndices bool
	hasJournal       bool
	resizeInode      bool
	sparseSuperblock bool
	extendedAttributes bool

	// incompat
	extents                        bool
	fs64Bit                        bool
	metaBlockGroups                bool
	flexBlockGroups                bool
	largeDirectory                 bool
	directoryEntriesRecordFileType bool

	// ro_compat
	sparseSuperblockV2               bool
	largeFile                        bool
	hugeFile                         bool
	largeSubdirectoryCount           bool
	largeInodes                      bool
	metadataChecksums                bool
	metadataChecksumSeedInSuperblock bool
	orphanFile                       bool
	projectQuotas                    bool

	// bigalloc (ro_compat) and separateJournalDevice (incompat) map to
	// their own on-disk bits; reservedGDTBlocksForExpansion has none and
	// is carried by resize_inode
	bigalloc              bool
	separateJournalDevice bool
	reservedGDTBlocksForExpansion bool
}

// defaultFeatureFlags mirrors mke2fs.conf's stock "ext4" feature set:
// has_journal,extent,huge_file,flex_bg,64bit,dir_nlink,extra_isize,
// metadata_csum,sparse_super,large_file,filetype,resize_inode,dir_index,ext_attr
var defaultFeatureFlags = featureFlags{
	directoryIndices:              true,
	hasJournal:                    true,
	resizeInode:                   true,
	sparseSuperblock:              true,
	extendedAttributes:            true,
	extents:                       true,
	fs64Bit:                       true,
	flexBlockGroups:               true,
	directoryEntriesRecordFileType: true,
	largeFile:                     true,
	hugeFile:                      true,
	largeSubdirectoryCount:        true,
	largeInodes:                   true,
	metadataChecksums:             true,
	reservedGDTBlocksForExpansion: true,
}

// FeatureOpt modifies a featureFlags set; used via the functional-options
// pattern in Params.Features.
type FeatureOpt func(*featureFlags)

// WithFeatureHasJournal enables or disables the has_journal feature. When
// enabled, Create reserves and formats an (unused, but structurally
// valid) internal journal inode.
func WithFeatureHasJournal(enable bool) FeatureOpt {
	return func(f *featureFlags) { f.hasJournal = enable }
}

// WithFeatureSeparateJournalDevice enables or disables use of an external
// journal device, supplied via Params.JournalDevice.
func WithFeatureSeparateJournalDevice(enable bool) FeatureOpt {
	return func(f *featureFlags) { f.separateJournalDevice = enable }
}

// WithFeatureMetadataChecksums enables or disables metadata_csum, which
// adds CRC32c checksums to the superblock, group descriptors, inodes,
// directory blocks, and bitmaps.
func WithFeatureMetadataChecksums(enable bool) FeatureOpt {
	return func(f *featureFlags) { f.metadataChecksums = enable }
}

// WithFeatureReservedGDTBlocksForExpansion enables or disables reserving
// extra group descriptor table blocks for future online resize.
func WithFeatureReservedGDTBlocksForExpansion(enable bool) FeatureOpt {
	return func(f *featureFlags) { f.reservedGDTBlocksForExpansion = enable }
}

// WithFeature64Bit enables or disables the 64bit feature, widening block
// and inode counts and the group descriptor size to 64 bits.
func WithFeature64Bit(enable bool) FeatureOpt {
	return func(f *featureFlags) { f.fs64Bit = enable }
}

// WithFeatureFlexBlockGroups enables or disables flex_bg, which packs the
// bitmaps and inode tables of several block groups together.
func WithFeatureFlexBlockGroups(enable bool) FeatureOpt {
	return func(f *featureFlags) { f.flexBlockGroups = enable }
}

// WithFeatureProjectQuotas enables or disables the on-disk project quota
// inode.
func WithFeatureProjectQuotas(enable bool) FeatureOpt {
	return func(f *featureFlags) { f.projectQuotas = enable }
}

// miscFlags mirrors the superblock's s_flags field.
type miscFlags struct {
	signedDirectoryHash   bool
	unsignedDirectoryHash bool
	developmentTest       bool
}

// defaultMiscFlags matches what mke2fs stamps on a freshly created
// filesystem built on a signed-char platform.
var defaultMiscFlags = miscFlags{
	signedDirectoryHash: true,
}

// mountOptions mirrors the superblock's default mount options field
// (s_default_mount_opts).
type mountOptions struct {
	userspaceExtendedAttributes bool
	posixACLs                   bool
}

// defaultMountOptions matches mke2fs.conf's stock "acl,user_xattr".
var defaultMountOptions = mountOptions{
	userspaceExtendedAttributes: true,
	posixACLs:                   true,
}

// MountOpt modifies a mountOptions set; used via the functional-options
// pattern in Params.DefaultMountOpts.
type MountOpt func(*mountOptions)

// WithDefaultMountOptionUserspaceXattrs enables or disables the
// user_xattr default mount option.
func WithDefaultMountOptionUserspaceXattrs(enable bool) MountOpt {
	return func(m *mountOptions) { m.userspaceExtendedAttributes = enable }
}

// WithDefaultMountOptionPOSIXACLs enables or disables the acl default
// mount option.
func WithDefaultMountOptionPOSIXACLs(enable bool) MountOpt {
	return func(m *mountOptions) { m.posixACLs = enable }
}

// defaultMountOptionsFromOpts builds a mountOptions set from
// defaultMountOptions plus any overrides.
func defaultMountOptionsFromOpts(opts []MountOpt) *mountOptions {
	m := defaultMountOptions
	for _, opt := range opts {
		opt(&m)
	}
	return &m
}

// on-disk feature bit values, per the ext2/ext3/ext4 superblock
// s_feature_compat/s_feature_incompat/s_feature_ro_compat fields.
const (
	featureCompatDirIndex    uint32 = 0x0020
	featureCompatHasJournal  uint32 = 0x0004
	featureCompatResizeInode uint32 = 0x0010
	featureCompatExtAttr     uint32 = 0x0008
	featureCompatSparseSuper2 uint32 = 0x0200

	featureIncompatFiletype   uint32 = 0x0002
	featureIncompatJournalDev uint32 = 0x0008
	featureIncompatMetaBG     uint32 = 0x0010
	featureIncompatExtents    uint32 = 0x0040
	featureIncompat64Bit      uint32 = 0x0080
	featureIncompatFlexBG     uint32 = 0x0200
	featureIncompatCsumSeed   uint32 = 0x2000
	featureIncompatLargeDir   uint32 = 0x4000

	featureROCompatSparseSuper  uint32 = 0x0001
	featureROCompatLargeFile    uint32 = 0x0002
	featureROCompatHugeFile     uint32 = 0x0008
	featureROCompatGDTCsum      uint32 = 0x0010
	featureROCompatDirNlink     uint32 = 0x0020
	featureROCompatExtraIsize   uint32 = 0x0040
	featureROCompatBigalloc     uint32 = 0x0200
	featureROCompatMetadataCsum uint32 = 0x0400
	featureROCompatProject      uint32 = 0x2000
	featureROCompatOrphanFile   uint32 = 0x10000
)

// toBitmasks packs f into the three on-disk 32-bit feature fields.
func (f featureFlags) toBitmasks() (compat, incompat, roCompat uint32) {
	if f.directoryIndices {
		compat |= featureCompatDirIndex
	}
	if f.hasJournal {
		compat |= featureCompatHasJournal
	}
	if f.resizeInode || f.reservedGDTBlocksForExpansion {
		compat |= featureCompatResizeInode
	}
	if f.extendedAttributes {
		compat |= featureCompatExtAttr
	}
	if f.sparseSuperblockV2 {
		compat |= featureCompatSparseSuper2
	}

	if f.directoryEntriesRecordFileType {
		incompat |= featureIncompatFiletype
	}
	if f.separateJournalDevice {
		incompat |= featureIncompatJournalDev
	}
	if f.metaBlockGroups {
		incompat |= featureIncompatMetaBG
	}
	if f.extents {
		incompat |= featureIncompatExtents
	}
	if f.fs64Bit {
		incompat |= featureIncompat64Bit
	}
	if f.flexBlockGroups {
		incompat |= featureIncompatFlexBG
	}
	if f.metadataChecksumSeedInSuperblock {
		incompat |= featureIncompatCsumSeed
	}
	if f.largeDirectory {
		incompat |= featureIncompatLargeDir
	}

	if f.sparseSuperblock {
		roCompat |= featureROCompatSparseSuper
	}
	if f.largeFile {
		roCompat |= featureROCompatLargeFile
	}
	if f.hugeFile {
		roCompat |= featureROCompatHugeFile
	}
	if f.largeSubdirectoryCount {
		roCompat |= featureROCompatDirNlink
	}
	if f.largeInodes {
		roCompat |= featureROCompatExtraIsize
	}
	if f.bigalloc {
		roCompat |= featureROCompatBigalloc
	}
	if f.metadataChecksums {
		roCompat |= featureROCompatMetadataCsum
	}
	if f.projectQuotas {
		roCompat |= featureROCompatProject
	}
	if f.orphanFile {
		roCompat |= featureROCompatOrphanFile
	}
	return compat, incompat, roCompat
}

// featuresFromBitmasks unpacks the three on-disk 32-bit feature fields
// into a featureFlags set.
func featuresFromBitmasks(compat, incompat, roCompat uint32) featureFlags {
	return featureFlags{
		directoryIndices:   compat&featureCompatDirIndex != 0,
		hasJournal:         compat&featureCompatHasJournal != 0,
		resizeInode:        compat&featureCompatResizeInode != 0,
		extendedAttributes: compat&featureCompatExtAttr != 0,
		sparseSuperblockV2: compat&featureCompatSparseSuper2 != 0,

		directoryEntriesRecordFileType: incompat&featureIncompatFiletype != 0,
		separateJournalDevice:          incompat&featureIncompatJournalDev != 0,
		metaBlockGroups:                incompat&featureIncompatMetaBG != 0,
		extents:                        incompat&featureIncompatExtents != 0,
		fs64Bit:                        incompat&featureIncompat64Bit != 0,
		flexBlockGroups:                incompat&featureIncompatFlexBG != 0,
		metadataChecksumSeedInSuperblock: incompat&featureIncompatCsumSeed != 0,
		largeDirectory:                   incompat&featureIncompatLargeDir != 0,

		sparseSuperblock:        roCompat&featureROCompatSparseSuper != 0,
		largeFile:               roCompat&featureROCompatLargeFile != 0,
		hugeFile:                roCompat&featureROCompatHugeFile != 0,
		largeSubdirectoryCount:  roCompat&featureROCompatDirNlink != 0,
		largeInodes:             roCompat&featureROCompatExtraIsize != 0,
		bigalloc:                roCompat&featureROCompatBigalloc != 0,
		metadataChecksums:       roCompat&featureROCompatMetadataCsum != 0,
		projectQuotas:           roCompat&featureROCompatProject != 0,
		orphanFile:              roCompat&featureROCompatOrphanFile != 0,
		// reservedGDTBlocksForExpansion has no dedicated on-disk bit; it
		// rides along with resize_inode, which is what it actually reserves
		// GDT blocks on behalf of.
		reservedGDTBlocksForExpansion: compat&featureCompatResizeInode != 0,
	}
}
