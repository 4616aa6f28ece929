// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.
//
// The go-luxtensor library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-luxtensor library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-luxtensor library. If not, see <http://www.gnu.org/licenses/>.

// Package merkle implements the domain-separated Merkle tree used for every
// commitment in the protocol: transaction roots, receipt roots and the state
// sub-roots.
//
// Leaf hashes are computed as Keccak256(0x00 || data) and internal nodes as
// Keccak256(0x01 || left || right). Without the separator an attacker could
// present a 64-byte "leaf" colliding with an internal node and forge proofs.
package merkle

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	leafPrefix = byte(0x00)
	nodePrefix = byte(0x01)
)

// ProofElement is one step of a positional Merkle proof: the sibling hash and
// which side of the pair it sits on.
type ProofElement struct {
	Hash   common.Hash
	IsLeft bool
}

// Tree is a Merkle tree over a fixed leaf set. The zero-leaf tree has the
// all-zero root; a single-leaf tree's root is the leaf itself.
type Tree struct {
	leaves []common.Hash
	root   common.Hash
}

// HashLeaf hashes raw leaf data with the 0x00 domain separator.
func HashLeaf(data []byte) common.Hash {
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, leafPrefix)
	buf = append(buf, data...)
	return crypto.Keccak256Hash(buf)
}

// hashPair hashes two child hashes with the 0x01 domain separator.
func hashPair(left, right common.Hash) common.Hash {
	buf := make([]byte, 0, 65)
	buf = append(buf, nodePrefix)
	buf = append(buf, left.Bytes()...)
	buf = append(buf, right.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// New builds a tree over the given leaf hashes. The leaves are expected to be
// already domain-separated via HashLeaf (or to be commitments in their own
// right, e.g. receipt hashes).
func New(leaves []common.Hash) *Tree {
	t := &Tree{leaves: append([]common.Hash(nil), leaves...)}
	t.root = computeRoot(t.leaves)
	return t
}

// Root returns the tree root. Empty trees commit to the zero hash.
func (t *Tree) Root() common.Hash {
	return t.root
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.leaves)
}

func computeRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}
	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Odd node is paired with itself.
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

// Proof returns the positional proof for the leaf at index. The proof is nil
// when the index is out of range or the tree is empty.
func (t *Tree) Proof(index int) []ProofElement {
	if len(t.leaves) == 0 || index < 0 || index >= len(t.leaves) {
		return nil
	}
	var proof []ProofElement
	level := append([]common.Hash(nil), t.leaves...)
	for len(level) > 1 {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, ProofElement{
				Hash:   level[sibling],
				IsLeft: index%2 == 1,
			})
		} else {
			// Odd tail duplicates itself; sibling sits on the right.
			proof = append(proof, ProofElement{Hash: level[index], IsLeft: false})
		}

		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
		index /= 2
	}
	return proof
}

// VerifyProof checks a positional proof against a root. An empty proof is
// valid only when the leaf is the root (single-leaf tree).
func VerifyProof(leaf common.Hash, proof []ProofElement, root common.Hash) bool {
	current := leaf
	for _, elem := range proof {
		if elem.IsLeft {
			current = hashPair(elem.Hash, current)
		} else {
			current = hashPair(current, elem.Hash)
		}
	}
	return current == root
}
