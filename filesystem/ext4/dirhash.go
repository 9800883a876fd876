package ext4

import "github.com/ext4-tools/ext4fs/filesystem/ext4/md4"

// hashVersion identifies a directory hashing algorithm, as stored in the
// superblock's default hash version field and used for htree indexing.
type hashVersion uint8

const (
	hashLegacy hashVersion = iota
	hashHalfMD4
	hashTea
	hashLegacyUnsigned
	hashHalfMD4Unsigned
	hashTeaUnsigned
	hashSIPHash
)

// Exported aliases matching the ext4 on-disk constant names, for callers
// building a dx_hash_info equivalent.
const (
	HashVersionLegacy          = hashLegacy
	HashVersionHalfMD4         = hashHalfMD4
	HashVersionTEA             = hashTea
	HashVersionLegacyUnsigned  = hashLegacyUnsigned
	HashVersionHalfMD4Unsigned = hashHalfMD4Unsigned
	HashVersionTEAUnsigned     = hashTeaUnsigned
	HashVersionSIP             = hashSIPHash
)

var teaMagic = [4]uint32{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476}

const teaDelta uint32 = 0x9e3779b9

// TEATransform runs 16 rounds of the Tiny Encryption Algorithm mixing
// function over one 16-byte chunk (in, 4 words), matching the Linux
// kernel's TEA_transform in fs/ext4/hash.c, and returns the updated 4-word
// state.
func TEATransform(buf [4]uint32, in []uint32) [4]uint32 {
	b0, b1 := buf[0], buf[1]
	a, b, c, d := in[0], in[1], in[2], in[3]
	var sum uint32
	for n := 0; n < 16; n++ {
		sum += teaDelta
		b0 += ((b1 << 4) + a) ^ (b1 + sum) ^ ((b1 >> 5) + b)
		b1 += ((b0 << 4) + c) ^ (b0 + sum) ^ ((b0 >> 5) + d)
	}
	buf[0] += b0
	buf[1] += b1
	return buf
}

// str2hashbuf packs up to num words worth of msg into a fixed 8-word
// buffer, padding the tail with a length-derived pad word, matching the
// kernel's str2hashbuf_signed/str2hashbuf_unsigned.
func str2hashbuf(msg string, num int, signedChar bool) []uint32 {
	var buf [8]uint32
	length := len(msg)

	pad := uint32(length) | (uint32(length) << 8)
	pad |= pad << 16

	val := pad
	use := length
	if use > num*4 {
		use = num * 4
	}

	pos := 0
	remaining := num
	for i := 0; i < use; i++ {
		var ch uint32
		if signedChar {
			ch = uint32(int32(int8(msg[i])))
		} else {
			ch = uint32(msg[i])
		}
		val = ch + (val << 8)
		if i%4 == 3 {
			if pos < len(buf) {
				buf[pos] = val
				pos++
			}
			val = pad
			remaining--
		}
	}
	remaining--
	if remaining >= 0 && pos < len(buf) {
		buf[pos] = val
		pos++
	}
	for remaining > 0 {
		remaining--
		if pos < len(buf) {
			buf[pos] = pad
			pos++
		}
	}
	return buf[:]
}

// dxHackHash is the legacy (pre-htree) directory name hash, matching the
// kernel's dx_hack_hash_signed/dx_hack_hash_unsigned.
func dxHackHash(name string, signedChar bool) uint32 {
	hash0 := uint32(0x12a3fe2d)
	hash1 := uint32(0x37abe8f9)
	for i := 0; i < len(name); i++ {
		var ch int32
		if signedChar {
			ch = int32(int8(name[i]))
		} else {
			ch = int32(uint8(name[i]))
		}
		hash := hash1 + (hash0 ^ uint32(ch*7152373))
		if hash&0x80000000 != 0 {
			hash -= 0x7fffffff
		}
		hash1 = hash0
		hash0 = hash
	}
	return hash0 << 1
}

// ext4fsDirhash computes the htree hash of name under the given hash
// version and seed (the superblock's hash_seed, or nil/all-zero for the
// default TEA magic constants), matching fs/ext4/hash.c's ext4fs_dirhash.
// Returns (0, 0) for unsupported/unknown hash versions.
func ext4fsDirhash(name string, version hashVersion, seed []uint32) (hash uint32, minorHash uint32) {
	buf := teaMagic
	if len(seed) == 4 && seed[0]|seed[1]|seed[2]|seed[3] != 0 {
		buf = [4]uint32{seed[0], seed[1], seed[2], seed[3]}
	}

	switch version {
	case hashLegacyUnsigned:
		hash = dxHackHash(name, false)
	case hashLegacy:
		hash = dxHackHash(name, true)
	case hashHalfMD4Unsigned, hashHalfMD4:
		signedChar := version == hashHalfMD4
		remaining := len(name)
		pos := 0
		for remaining > 0 {
			in := str2hashbuf(name[pos:], 8, signedChar)
			buf = md4.Transform(buf, in)
			remaining -= 32
			pos += 32
		}
		hash = buf[1]
		minorHash = buf[2]
	case hashTeaUnsigned, hashTea:
		signedChar := version == hashTea
		remaining := len(name)
		pos := 0
		for remaining > 0 {
			in := str2hashbuf(name[pos:], 4, signedChar)
			buf = TEATransform(buf, in)
			remaining -= 16
			pos += 16
		}
		hash = buf[0]
		minorHash = buf[1]
	default:
		return 0, 0
	}

	hash &^= 1
	return hash, minorHash
}
