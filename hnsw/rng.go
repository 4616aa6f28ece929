// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package hnsw

import (
	"encoding/binary"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Rng is a Keccak-chained PRNG seeded from consensus artifacts. Two
// validators constructing the index for the same transaction in the same
// block observe identical sequences, which drives identical level
// assignments and therefore identical graph topology.
//
// The seed is Keccak256(txHash XOR blockHash): the XOR prevents grinding a
// favourable seed through the transaction alone, since the block hash is
// unknown at submission time.
type Rng struct {
	state   common.Hash
	counter uint64
}

// NewRng seeds the generator from the transaction and block hashes.
func NewRng(txHash, blockHash common.Hash) *Rng {
	var xored [32]byte
	for i := 0; i < 32; i++ {
		xored[i] = txHash[i] ^ blockHash[i]
	}
	return &Rng{state: crypto.Keccak256Hash(xored[:])}
}

// NewRngFromSeed seeds the generator from raw bytes, for tests and replay.
func NewRngFromSeed(seed [32]byte) *Rng {
	return &Rng{state: crypto.Keccak256Hash(seed[:])}
}

// advance chains the state: state <- Keccak256(state || counter_le), then
// increments the counter.
func (r *Rng) advance() {
	var input [40]byte
	copy(input[:32], r.state[:])
	binary.LittleEndian.PutUint64(input[32:], r.counter)
	r.state = crypto.Keccak256Hash(input[:])
	r.counter++
}

// NextUint64 returns the first 8 bytes of the next state, little-endian.
func (r *Rng) NextUint64() uint64 {
	r.advance()
	return binary.LittleEndian.Uint64(r.state[:8])
}

// NextFloat64 maps the 53 high bits of NextUint64 into [0, 1). The float is
// only ever used for the discrete level draw, never for distances.
func (r *Rng) NextFloat64() float64 {
	return float64(r.NextUint64()>>11) * (1.0 / float64(uint64(1)<<53))
}

// NextLevel draws an HNSW level from the geometric distribution
// floor(-ln(U)*ml), capped at maxLevel.
func (r *Rng) NextLevel(maxLevel uint8, ml float64) uint8 {
	u := r.NextFloat64()
	if u == 0 {
		return maxLevel
	}
	level := math.Floor(-math.Log(u) * ml)
	if level >= float64(maxLevel) {
		return maxLevel
	}
	return uint8(level)
}

// NextIntn returns a value in [0, n), or 0 when n == 0.
func (r *Rng) NextIntn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.NextUint64() % uint64(n))
}
