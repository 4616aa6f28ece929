// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package storage

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/luxtensor/go-luxtensor/core/types"
)

// blockCacheSize is the fastcache budget for hot block bodies (32 MiB).
const blockCacheSize = 32 * 1024 * 1024

// LevelStore is the LevelDB-backed BlockStore. Recent block bodies are
// fronted by a fastcache so fork-choice and RPC reads skip the disk.
type LevelStore struct {
	db    *leveldb.DB
	cache *fastcache.Cache

	mu           sync.RWMutex
	latestHeight uint64
	hasBlocks    bool
}

// NewLevelStore opens (or creates) the database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	store := &LevelStore{
		db:    db,
		cache: fastcache.New(blockCacheSize),
	}
	store.recoverLatestHeight()
	return store, nil
}

// recoverLatestHeight scans the height index on startup.
func (s *LevelStore) recoverLatestHeight() {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) == 9 && key[0] == prefixHeight {
			height := uint64(0)
			for i := 0; i < 8; i++ {
				height = height<<8 | uint64(key[1+i])
			}
			if !s.hasBlocks || height > s.latestHeight {
				s.latestHeight = height
				s.hasBlocks = true
			}
		}
	}
	if s.hasBlocks {
		log.Info("Recovered block store", "latestHeight", s.latestHeight)
	}
}

// PutBlock stores a block by hash and indexes it by height. Re-writing the
// same (height, hash) is a no-op overwrite.
func (s *LevelStore) PutBlock(block *types.Block) error {
	hash := block.Hash()
	raw := block.EncodeBinary()
	if err := s.db.Put(blockKey(hash), raw, nil); err != nil {
		return err
	}
	if err := s.db.Put(heightKey(block.Height()), hash.Bytes(), nil); err != nil {
		return err
	}
	s.cache.Set(blockKey(hash), raw)

	s.mu.Lock()
	if !s.hasBlocks || block.Height() > s.latestHeight {
		s.latestHeight = block.Height()
		s.hasBlocks = true
	}
	s.mu.Unlock()
	return nil
}

// GetBlock loads a block by hash, preferring the cache.
func (s *LevelStore) GetBlock(hash common.Hash) (*types.Block, error) {
	if raw := s.cache.Get(nil, blockKey(hash)); len(raw) > 0 {
		return types.DecodeBlock(raw)
	}
	raw, err := s.db.Get(blockKey(hash), nil)
	if err == errors.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cache.Set(blockKey(hash), raw)
	return types.DecodeBlock(raw)
}

// GetBlockByHeight resolves the height index then loads the block.
func (s *LevelStore) GetBlockByHeight(height uint64) (*types.Block, error) {
	hashRaw, err := s.db.Get(heightKey(height), nil)
	if err == errors.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetBlock(common.BytesToHash(hashRaw))
}

// HasBlock reports block presence.
func (s *LevelStore) HasBlock(hash common.Hash) bool {
	if s.cache.Has(blockKey(hash)) {
		return true
	}
	ok, err := s.db.Has(blockKey(hash), nil)
	return err == nil && ok
}

// PutReceipts stores a block's receipts.
func (s *LevelStore) PutReceipts(blockHash common.Hash, receipts []*types.Receipt) error {
	return s.db.Put(receiptsKey(blockHash), encodeReceipts(receipts), nil)
}

// GetReceipts loads a block's receipts.
func (s *LevelStore) GetReceipts(blockHash common.Hash) ([]*types.Receipt, error) {
	raw, err := s.db.Get(receiptsKey(blockHash), nil)
	if err == errors.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeReceipts(raw)
}

// PutBlockScore persists a fork-choice score.
func (s *LevelStore) PutBlockScore(hash common.Hash, score uint64) error {
	return s.db.Put(scoreKey(hash), appendUint64(nil, score), nil)
}

// GetBlockScore loads a fork-choice score.
func (s *LevelStore) GetBlockScore(hash common.Hash) (uint64, error) {
	raw, err := s.db.Get(scoreKey(hash), nil)
	if err == errors.ErrNotFound {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, ErrNotFound
	}
	return readUint64(raw), nil
}

// PutStateRoot persists the committed root for a height.
func (s *LevelStore) PutStateRoot(height uint64, root common.Hash) error {
	return s.db.Put(stateKey(height), root.Bytes(), nil)
}

// GetStateRoot loads the committed root for a height.
func (s *LevelStore) GetStateRoot(height uint64) (common.Hash, error) {
	raw, err := s.db.Get(stateKey(height), nil)
	if err == errors.ErrNotFound {
		return common.Hash{}, ErrNotFound
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(raw), nil
}

// LatestHeight returns the highest stored height.
func (s *LevelStore) LatestHeight() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestHeight, s.hasBlocks
}

// Close flushes and closes the database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
