// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package forkchoice

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/luxtensor/go-luxtensor/params"
)

var ErrStaleCheckpoint = errors.New("forkchoice: checkpoint height must increase")

// Checkpoint pins one block for weak-subjectivity sync.
type Checkpoint struct {
	BlockHash common.Hash
	Height    uint64
	Epoch     uint64
	StateRoot common.Hash
	Timestamp uint64
}

// LongRangeProtection guards against long-range attacks: it keeps an ordered
// checkpoint list pinned at genesis, rejects candidate blocks conflicting
// with a checkpoint, and bounds reorg depth independently of the resolver.
type LongRangeProtection struct {
	mu sync.RWMutex

	config      *params.CheckpointConfig
	checkpoints []Checkpoint

	finalizedHash   common.Hash
	finalizedHeight uint64
}

// NewLongRangeProtection creates the guard with a pinned genesis checkpoint.
func NewLongRangeProtection(cfg *params.CheckpointConfig, genesisHash common.Hash) *LongRangeProtection {
	if cfg == nil {
		cfg = params.DefaultCheckpointConfig()
	}
	return &LongRangeProtection{
		config:        cfg,
		checkpoints:   []Checkpoint{{BlockHash: genesisHash}},
		finalizedHash: genesisHash,
	}
}

// IsWithinWeakSubjectivity reports whether a block height is inside the
// trusted window relative to the finalized height.
func (l *LongRangeProtection) IsWithinWeakSubjectivity(height uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	window := l.finalizedHeight
	if window > l.config.WeakSubjectivityPeriod {
		window -= l.config.WeakSubjectivityPeriod
	} else {
		window = 0
	}
	return height >= window
}

// IsReorgAllowed bounds reorg depth by the long-range limit.
func (l *LongRangeProtection) IsReorgAllowed(depth uint64) bool {
	return depth <= l.config.MaxReorgDepth
}

// AddCheckpoint appends a checkpoint; heights must strictly increase.
func (l *LongRangeProtection) AddCheckpoint(cp Checkpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last := l.checkpoints[len(l.checkpoints)-1]; cp.Height <= last.Height {
		return ErrStaleCheckpoint
	}
	l.checkpoints = append(l.checkpoints, cp)
	log.Info("Checkpoint recorded", "height", cp.Height, "hash", cp.BlockHash, "epoch", cp.Epoch)
	return nil
}

// UpdateFinalized records a newly finalized block and, at checkpoint
// intervals, pins it.
func (l *LongRangeProtection) UpdateFinalized(hash common.Hash, height, epoch uint64, stateRoot common.Hash, timestamp uint64) {
	l.mu.Lock()
	l.finalizedHash = hash
	l.finalizedHeight = height
	l.mu.Unlock()

	if height != 0 && height%l.config.CheckpointInterval == 0 {
		if err := l.AddCheckpoint(Checkpoint{
			BlockHash: hash,
			Height:    height,
			Epoch:     epoch,
			StateRoot: stateRoot,
			Timestamp: timestamp,
		}); err != nil {
			log.Debug("Skipped duplicate checkpoint", "height", height, "err", err)
		}
	}
}

// ValidateAgainstCheckpoints rejects a block whose height coincides with a
// checkpoint but whose hash differs. Non-checkpoint heights pass.
func (l *LongRangeProtection) ValidateAgainstCheckpoints(hash common.Hash, height uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, cp := range l.checkpoints {
		if cp.Height == height {
			return cp.BlockHash == hash
		}
	}
	return true
}

// IsFinalized reports whether the height is at or below the finalized height.
func (l *LongRangeProtection) IsFinalized(height uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return height <= l.finalizedHeight
}

// FinalizedHeight returns the current finalized height.
func (l *LongRangeProtection) FinalizedHeight() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.finalizedHeight
}

// LatestCheckpoint returns the most recent checkpoint.
func (l *LongRangeProtection) LatestCheckpoint() Checkpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkpoints[len(l.checkpoints)-1]
}

// Checkpoints returns a copy of the checkpoint list.
func (l *LongRangeProtection) Checkpoints() []Checkpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Checkpoint(nil), l.checkpoints...)
}

// PruneOldCheckpoints keeps only the most recent keep entries (the genesis
// pin may be dropped once enough later checkpoints secure the chain).
func (l *LongRangeProtection) PruneOldCheckpoints(keep int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if keep < 1 {
		keep = 1
	}
	if len(l.checkpoints) > keep {
		l.checkpoints = append([]Checkpoint(nil), l.checkpoints[len(l.checkpoints)-keep:]...)
	}
}
