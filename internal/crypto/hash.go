// Package crypto wraps the key generation, signing, verification, hashing,
// and Merkle-root primitives used throughout the consensus core. Nothing in
// this package is stateful; every function is a pure transformation over its
// inputs.
package crypto

import "crypto/sha256"

// HashSize is the fixed width, in bytes, of every content hash produced by
// this package.
const HashSize = sha256.Size

// Hash is a fixed-width 256-bit content hash.
type Hash [HashSize]byte

// ZeroHash is the all-zero sentinel used as the parent hash of the genesis
// block and as the Merkle root of an empty sequence.
var ZeroHash Hash

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, HashSize*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// HashFromBytes copies b into a Hash. It panics if len(b) != HashSize; callers
// at a trust boundary (decoding wire data) must check the length themselves
// before calling this.
func HashFromBytes(b []byte) Hash {
	if len(b) != HashSize {
		panic("crypto: hash has wrong length")
	}
	var h Hash
	copy(h[:], b)
	return h
}

// SumBytes computes the content hash of an arbitrary byte string.
func SumBytes(data []byte) Hash {
	return sha256.Sum256(data)
}

// SumConcat computes the content hash of the ordered concatenation of the
// given byte strings, without allocating an intermediate joined slice.
func SumConcat(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
