// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package merkle

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLeaves(n int) []common.Hash {
	leaves := make([]common.Hash, n)
	for i := range leaves {
		leaves[i] = HashLeaf([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestEmptyTreeRoot(t *testing.T) {
	tree := New(nil)
	assert.Equal(t, common.Hash{}, tree.Root())
}

func TestSingleLeafRoot(t *testing.T) {
	leaf := HashLeaf([]byte("only"))
	tree := New([]common.Hash{leaf})
	assert.Equal(t, leaf, tree.Root(), "single leaf tree root must equal the leaf")
}

func TestRootChangesWithContent(t *testing.T) {
	tree1 := New(testLeaves(4))
	leaves := testLeaves(4)
	leaves[2] = HashLeaf([]byte("mutated"))
	tree2 := New(leaves)
	assert.NotEqual(t, tree1.Root(), tree2.Root())
}

func TestRootIsDeterministic(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13, 64} {
		a := New(testLeaves(n))
		b := New(testLeaves(n))
		assert.Equal(t, a.Root(), b.Root(), "n=%d", n)
	}
}

func TestLeafDomainSeparation(t *testing.T) {
	// A leaf must never collide with the internal-node encoding of its content.
	left, right := HashLeaf([]byte("l")), HashLeaf([]byte("r"))
	internal := New([]common.Hash{left, right}).Root()

	forged := make([]byte, 64)
	copy(forged, left.Bytes())
	copy(forged[32:], right.Bytes())
	assert.NotEqual(t, internal, HashLeaf(forged))
}

func TestProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7, 16, 33} {
		leaves := testLeaves(n)
		tree := New(leaves)
		for i := 0; i < n; i++ {
			proof := tree.Proof(i)
			require.True(t, VerifyProof(leaves[i], proof, tree.Root()),
				"proof for leaf %d of %d must verify", i, n)
		}
	}
}

func TestProofRejectsWrongLeaf(t *testing.T) {
	leaves := testLeaves(8)
	tree := New(leaves)
	proof := tree.Proof(3)
	assert.False(t, VerifyProof(leaves[4], proof, tree.Root()))
}

func TestProofRejectsWrongRoot(t *testing.T) {
	leaves := testLeaves(8)
	tree := New(leaves)
	proof := tree.Proof(0)
	assert.False(t, VerifyProof(leaves[0], proof, HashLeaf([]byte("other"))))
}

func TestProofOutOfRange(t *testing.T) {
	tree := New(testLeaves(4))
	assert.Nil(t, tree.Proof(-1))
	assert.Nil(t, tree.Proof(4))
	assert.Nil(t, New(nil).Proof(0))
}
