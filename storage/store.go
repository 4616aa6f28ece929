// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package storage defines the persistence collaborator contract the
// consensus core writes through, plus a LevelDB implementation for nodes and
// an in-memory one for tests. Writes are idempotent keyed by (height, hash).
package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxtensor/go-luxtensor/core/types"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("storage: not found")

// BlockStore is the durable store the core hands sealed blocks, receipts,
// fork-choice scores and state roots to. Implementations must order writes
// durably per key space and support startup recovery via LatestHeight plus
// height lookups.
type BlockStore interface {
	PutBlock(block *types.Block) error
	GetBlock(hash common.Hash) (*types.Block, error)
	GetBlockByHeight(height uint64) (*types.Block, error)
	HasBlock(hash common.Hash) bool

	PutReceipts(blockHash common.Hash, receipts []*types.Receipt) error
	GetReceipts(blockHash common.Hash) ([]*types.Receipt, error)

	PutBlockScore(hash common.Hash, score uint64) error
	GetBlockScore(hash common.Hash) (uint64, error)

	PutStateRoot(height uint64, root common.Hash) error
	GetStateRoot(height uint64) (common.Hash, error)

	// LatestHeight reports the highest stored block, false when empty.
	LatestHeight() (uint64, bool)

	Close() error
}

// Key space prefixes shared by the implementations.
const (
	prefixBlock    = 'b' // hash -> block
	prefixHeight   = 'n' // height -> canonical hash
	prefixReceipts = 'r' // block hash -> receipts
	prefixScore    = 's' // block hash -> score
	prefixState    = 't' // height -> state root
)

func blockKey(hash common.Hash) []byte {
	return append([]byte{prefixBlock}, hash.Bytes()...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixHeight
	for i := 0; i < 8; i++ {
		key[1+i] = byte(height >> (56 - 8*i))
	}
	return key
}

func receiptsKey(hash common.Hash) []byte {
	return append([]byte{prefixReceipts}, hash.Bytes()...)
}

func scoreKey(hash common.Hash) []byte {
	return append([]byte{prefixScore}, hash.Bytes()...)
}

func stateKey(height uint64) []byte {
	key := heightKey(height)
	key[0] = prefixState
	return key
}

func encodeReceipts(receipts []*types.Receipt) []byte {
	var buf []byte
	buf = appendUint64(buf, uint64(len(receipts)))
	for _, r := range receipts {
		raw := r.EncodeBinary()
		buf = appendUint64(buf, uint64(len(raw)))
		buf = append(buf, raw...)
	}
	return buf
}

func decodeReceipts(data []byte) ([]*types.Receipt, error) {
	if len(data) < 8 {
		return nil, errors.New("storage: corrupt receipts")
	}
	count := readUint64(data)
	off := 8
	receipts := make([]*types.Receipt, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+8 > len(data) {
			return nil, errors.New("storage: corrupt receipts")
		}
		n := int(readUint64(data[off:]))
		off += 8
		if off+n > len(data) {
			return nil, errors.New("storage: corrupt receipts")
		}
		r, err := types.DecodeReceipt(data[off : off+n])
		if err != nil {
			return nil, err
		}
		off += n
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func readUint64(data []byte) uint64 {
	return uint64(data[0]) | uint64(data[1])<<8 | uint64(data[2])<<16 | uint64(data[3])<<24 |
		uint64(data[4])<<32 | uint64(data[5])<<40 | uint64(data[6])<<48 | uint64(data[7])<<56
}
