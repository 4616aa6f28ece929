// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package storage

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxtensor/go-luxtensor/core/types"
)

// MemStore is the in-memory BlockStore used by tests and ephemeral dev
// nodes. It round-trips through the canonical encodings so serialization
// bugs surface in unit tests too.
type MemStore struct {
	mu        sync.RWMutex
	blocks    map[common.Hash][]byte
	byHeight  map[uint64]common.Hash
	receipts  map[common.Hash][]byte
	scores    map[common.Hash]uint64
	roots     map[uint64]common.Hash
	hasBlocks bool
	latest    uint64
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		blocks:   make(map[common.Hash][]byte),
		byHeight: make(map[uint64]common.Hash),
		receipts: make(map[common.Hash][]byte),
		scores:   make(map[common.Hash]uint64),
		roots:    make(map[uint64]common.Hash),
	}
}

func (s *MemStore) PutBlock(block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := block.Hash()
	s.blocks[hash] = block.EncodeBinary()
	s.byHeight[block.Height()] = hash
	if !s.hasBlocks || block.Height() > s.latest {
		s.latest = block.Height()
		s.hasBlocks = true
	}
	return nil
}

func (s *MemStore) GetBlock(hash common.Hash) (*types.Block, error) {
	s.mu.RLock()
	raw, ok := s.blocks[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return types.DecodeBlock(raw)
}

func (s *MemStore) GetBlockByHeight(height uint64) (*types.Block, error) {
	s.mu.RLock()
	hash, ok := s.byHeight[height]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetBlock(hash)
}

func (s *MemStore) HasBlock(hash common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[hash]
	return ok
}

func (s *MemStore) PutReceipts(blockHash common.Hash, receipts []*types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[blockHash] = encodeReceipts(receipts)
	return nil
}

func (s *MemStore) GetReceipts(blockHash common.Hash) ([]*types.Receipt, error) {
	s.mu.RLock()
	raw, ok := s.receipts[blockHash]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeReceipts(raw)
}

func (s *MemStore) PutBlockScore(hash common.Hash, score uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[hash] = score
	return nil
}

func (s *MemStore) GetBlockScore(hash common.Hash) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[hash]
	if !ok {
		return 0, ErrNotFound
	}
	return score, nil
}

func (s *MemStore) PutStateRoot(height uint64, root common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[height] = root
	return nil
}

func (s *MemStore) GetStateRoot(height uint64) (common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, ok := s.roots[height]
	if !ok {
		return common.Hash{}, ErrNotFound
	}
	return root, nil
}

func (s *MemStore) LatestHeight() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasBlocks
}

func (s *MemStore) Close() error { return nil }
