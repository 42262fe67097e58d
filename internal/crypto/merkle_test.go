package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/irohad/sumeragi/internal/crypto"
)

func TestMerkleRootOfEmptySequenceIsZero(t *testing.T) {
	assert.Equal(t, crypto.ZeroHash, crypto.MerkleRoot(nil))
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := crypto.SumBytes([]byte("solo"))
	assert.Equal(t, leaf, crypto.MerkleRoot([]crypto.Hash{leaf}))
}

func TestMerkleRootIsOrderSensitive(t *testing.T) {
	a := crypto.SumBytes([]byte("a"))
	b := crypto.SumBytes([]byte("b"))

	rootAB := crypto.MerkleRoot([]crypto.Hash{a, b})
	rootBA := crypto.MerkleRoot([]crypto.Hash{b, a})

	assert.NotEqual(t, rootAB, rootBA)
}

func TestMerkleRootOddLevelDuplicatesLast(t *testing.T) {
	a := crypto.SumBytes([]byte("a"))
	b := crypto.SumBytes([]byte("b"))
	c := crypto.SumBytes([]byte("c"))

	got := crypto.MerkleRoot([]crypto.Hash{a, b, c})
	want := crypto.SumConcat(
		crypto.SumConcat(a[:], b[:]).Bytes(),
		crypto.SumConcat(c[:], c[:]).Bytes(),
	)
	assert.Equal(t, want, got)
}
