// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package txpool implements the pending-transaction pool feeding block
// production: signature-gated admission, expiry eviction, bounded capacity
// and crash-safe persistence across restarts.
package txpool

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/params"
)

var (
	ErrPoolFull     = errors.New("txpool: pool is full")
	ErrDuplicate    = errors.New("txpool: duplicate transaction")
	ErrKnownOnChain = errors.New("txpool: transaction already included")
)

type pendingTx struct {
	tx      *types.Transaction
	addedAt time.Time
}

// Pool is the mempool. Admission verifies the signature (unless the
// development override disables it), capacity is a hard bound, and entries
// older than the configured expiration are evicted on cleanup.
type Pool struct {
	mu      sync.RWMutex
	pending map[common.Hash]*pendingTx
	config  *params.TxPoolConfig

	// included remembers hashes the chain already consumed so at-least-once
	// gossip redelivery is deduplicated cheaply.
	included mapset.Set[common.Hash]

	now func() time.Time // injectable clock for tests
}

// New creates a pool with the given configuration.
func New(config *params.TxPoolConfig) *Pool {
	if config == nil {
		config = params.DefaultTxPoolConfig()
	}
	return &Pool{
		pending:  make(map[common.Hash]*pendingTx),
		config:   config,
		included: mapset.NewSet[common.Hash](),
		now:      time.Now,
	}
}

// Add admits a transaction into the pool.
func (p *Pool) Add(tx *types.Transaction) error {
	if p.config.ValidateSignatures {
		if err := tx.VerifySignature(); err != nil {
			log.Warn("Rejected transaction with invalid signature", "tx", tx.Hash(), "err", err)
			return err
		}
	}
	hash := tx.Hash()
	if p.included.Contains(hash) {
		return fmt.Errorf("%w: %s", ErrKnownOnChain, hash)
	}

	p.cleanupExpired()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[hash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, hash)
	}
	if len(p.pending) >= p.config.MaxSize {
		return fmt.Errorf("%w: %d entries", ErrPoolFull, len(p.pending))
	}
	p.pending[hash] = &pendingTx{tx: tx, addedAt: p.now()}
	return nil
}

// Get returns the pending transaction with the given hash, nil if absent.
func (p *Pool) Get(hash common.Hash) *types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if entry, ok := p.pending[hash]; ok {
		return entry.tx
	}
	return nil
}

// Pending returns every pooled transaction in priority order.
func (p *Pool) Pending() []*types.Transaction {
	return p.TransactionsForBlock(len(p.pending))
}

// TransactionsForBlock returns up to limit transactions ordered by gas price
// descending, ties broken by hash. The order is deterministic for a given
// pool content.
func (p *Pool) TransactionsForBlock(limit int) []*types.Transaction {
	p.mu.RLock()
	txs := make([]*types.Transaction, 0, len(p.pending))
	for _, entry := range p.pending {
		txs = append(txs, entry.tx)
	}
	p.mu.RUnlock()

	sort.Slice(txs, func(i, j int) bool {
		if txs[i].GasPrice != txs[j].GasPrice {
			return txs[i].GasPrice > txs[j].GasPrice
		}
		hi, hj := txs[i].Hash(), txs[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})
	if limit >= 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs
}

// Remove drops the given hashes and records them as included on chain.
func (p *Pool) Remove(hashes []common.Hash) {
	p.mu.Lock()
	for _, hash := range hashes {
		delete(p.pending, hash)
	}
	p.mu.Unlock()
	for _, hash := range hashes {
		p.included.Add(hash)
	}
}

// Forget drops hashes without marking them included (reorg path: the
// transactions may become valid again).
func (p *Pool) Forget(hashes []common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hash := range hashes {
		delete(p.pending, hash)
	}
}

// Readmit returns reorged-out transactions to the pool, clearing their
// included marker first.
func (p *Pool) Readmit(txs []*types.Transaction) {
	for _, tx := range txs {
		p.included.Remove(tx.Hash())
		if err := p.Add(tx); err != nil {
			log.Debug("Dropped reorged transaction", "tx", tx.Hash(), "err", err)
		}
	}
}

// CleanupExpired evicts entries older than the configured expiration and
// returns how many were removed.
func (p *Pool) CleanupExpired() int {
	return p.cleanupExpired()
}

func (p *Pool) cleanupExpired() int {
	expiry := time.Duration(p.config.TxExpiration) * time.Second
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for hash, entry := range p.pending {
		if now.Sub(entry.addedAt) >= expiry {
			delete(p.pending, hash)
			removed++
		}
	}
	if removed > 0 {
		log.Info("Cleaned up expired transactions", "removed", removed, "remaining", len(p.pending))
	}
	return removed
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// Clear drops every pending transaction.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = make(map[common.Hash]*pendingTx)
}

// SaveToFile persists the pending set. The write goes through a temp file
// and rename so a crash never leaves a torn backup.
func (p *Pool) SaveToFile(path string) (int, error) {
	txs := p.Pending()
	if len(txs) == 0 {
		return 0, nil
	}
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(txs)))
	for _, tx := range txs {
		raw := tx.EncodeBinary()
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(raw)))
		buf = append(buf, raw...)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, err
	}
	log.Info("Saved mempool", "transactions", len(txs), "path", path)
	return len(txs), nil
}

// LoadFromFile restores a saved pending set, skipping duplicates, and removes
// the backup file on success. A missing file is not an error.
func (p *Pool) LoadFromFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) < 8 {
		return 0, fmt.Errorf("txpool: truncated backup %s", path)
	}
	count := binary.LittleEndian.Uint64(raw[:8])
	off := 8
	loaded := 0
	for i := uint64(0); i < count; i++ {
		if off+8 > len(raw) {
			return loaded, fmt.Errorf("txpool: truncated backup %s", path)
		}
		n := int(binary.LittleEndian.Uint64(raw[off : off+8]))
		off += 8
		if off+n > len(raw) {
			return loaded, fmt.Errorf("txpool: truncated backup %s", path)
		}
		tx, err := types.DecodeTransaction(raw[off : off+n])
		if err != nil {
			return loaded, fmt.Errorf("txpool: corrupt backup %s: %w", path, err)
		}
		off += n
		if err := p.Add(tx); err == nil {
			loaded++
		}
	}
	if err := os.Remove(path); err != nil {
		log.Warn("Failed to remove mempool backup", "path", path, "err", err)
	}
	log.Info("Loaded mempool", "transactions", loaded, "path", path)
	return loaded, nil
}
