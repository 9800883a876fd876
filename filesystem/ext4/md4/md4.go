// Package md4 implements the "half MD4" transform used by ext4's htree
// directory hashing (HASH_HALF_MD4), matching the Linux kernel's
// lib/halfmd4.c bit for bit.
package md4

const (
	k1 uint32 = 0
	k2 uint32 = 0x5a827999
	k3 uint32 = 0x6ed9eba1
)

func rotateLeft(x uint32, s uint) uint32 {
	return (x << s) | (x >> (32 - s))
}

func f(x, y, z uint32) uint32 { return z ^ (x & (y ^ z)) }
func g(x, y, z uint32) uint32 { return (x & y) + ((x ^ y) & z) }
func h(x, y, z uint32) uint32 { return x ^ y ^ z }

func round(fn func(x, y, z uint32) uint32, a, b, c, d, x uint32, s uint) uint32 {
	return rotateLeft(a+fn(b, c, d)+x, s)
}

// transform runs the 48-step half-MD4 compression function over in (8
// words) starting from buf, and returns the updated 4-word state.
func transform(buf [4]uint32, in []uint32) [4]uint32 {
	a, b, c, d := buf[0], buf[1], buf[2], buf[3]

	// round 1
	a = round(f, a, b, c, d, in[0]+k1, 3)
	d = round(f, d, a, b, c, in[1]+k1, 7)
	c = round(f, c, d, a, b, in[2]+k1, 11)
	b = round(f, b, c, d, a, in[3]+k1, 19)
	a = round(f, a, b, c, d, in[4]+k1, 3)
	d = round(f, d, a, b, c, in[5]+k1, 7)
	c = round(f, c, d, a, b, in[6]+k1, 11)
	b = round(f, b, c, d, a, in[7]+k1, 19)

	// round 2
	a = round(g, a, b, c, d, in[1]+k2, 3)
	d = round(g, d, a, b, c, in[3]+k2, 5)
	c = round(g, c, d, a, b, in[5]+k2, 9)
	b = round(g, b, c, d, a, in[7]+k2, 13)
	a = round(g, a, b, c, d, in[0]+k2, 3)
	d = round(g, d, a, b, c, in[2]+k2, 5)
	c = round(g, c, d, a, b, in[4]+k2, 9)
	b = round(g, b, c, d, a, in[6]+k2, 13)

	// round 3
	a = round(h, a, b, c, d, in[3]+k3, 3)
	d = round(h, d, a, b, c, in[7]+k3, 9)
	c = round(h, c, d, a, b, in[2]+k3, 11)
	b = round(h, b, c, d, a, in[6]+k3, 15)
	a = round(h, a, b, c, d, in[1]+k3, 3)
	d = round(h, d, a, b, c, in[5]+k3, 9)
	c = round(h, c, d, a, b, in[0]+k3, 11)
	b = round(h, b, c, d, a, in[4]+k3, 15)

	buf[0] += a
	buf[1] += b
	buf[2] += c
	buf[3] += d

	return buf
}

// Transform runs the half-MD4 compression function over one 32-byte chunk
// (in, 8 words) and returns the full updated 4-word state, for callers that
// need to chain chunks together (as ext4's directory hashing does for names
// longer than 32 bytes).
func Transform(buf [4]uint32, in []uint32) [4]uint32 {
	return transform(buf, in)
}

// HalfMD4Transform runs the half-MD4 compression function over one 32-byte
// chunk and returns buf[1], matching the Linux kernel's half_md4_transform
// return value.
func HalfMD4Transform(buf [4]uint32, in []uint32) uint32 {
	return transform(buf, in)[1]
}
