// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package forkchoice

import (
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/params"
)

var (
	ErrReorgTooDeep      = errors.New("forkchoice: reorg too deep")
	ErrFinalityViolation = errors.New("forkchoice: reorg would remove finalized block")
	ErrNonSequential     = errors.New("forkchoice: non-sequential heights")
	ErrBadParentLink     = errors.New("forkchoice: invalid parent link")
)

// ReorgInfo describes a pending chain reorganisation.
type ReorgInfo struct {
	CommonAncestorHeight uint64
	ReorgDepth           uint64
	BlocksToRemove       []*types.Block
	BlocksToAdd          []*types.Block
}

// Resolver detects reorganisations, enforces the depth limit, and tracks
// finality. Once a hash enters the finalized set it never leaves: finality
// is monotonic.
type Resolver struct {
	mu sync.RWMutex

	finalityThreshold uint64
	maxReorgDepth     uint64
	finalized         mapset.Set[common.Hash]
}

// NewResolver creates a resolver with the given fork limits.
func NewResolver(cfg *params.ForkConfig) *Resolver {
	if cfg == nil {
		cfg = params.DefaultForkConfig()
	}
	return &Resolver{
		finalityThreshold: cfg.FinalityThreshold,
		maxReorgDepth:     cfg.MaxReorgDepth,
		finalized:         mapset.NewSet[common.Hash](),
	}
}

// DetectReorg compares the current canonical chain against a candidate and
// returns the reorg plan, nil when no reorg is needed. Fails when the depth
// exceeds the limit or a finalized block would be removed.
func (r *Resolver) DetectReorg(current, candidate []*types.Block) (*ReorgInfo, error) {
	if len(current) == 0 || len(candidate) == 0 {
		return nil, nil
	}
	if len(current) == len(candidate) {
		same := true
		for i := range current {
			if current[i].Hash() != candidate[i].Hash() {
				same = false
				break
			}
		}
		if same {
			return nil, nil
		}
	}

	ancestorHeight, found := commonAncestor(current, candidate)
	if !found {
		return nil, nil
	}

	headHeight := current[len(current)-1].Height()
	reorgDepth := headHeight - ancestorHeight
	if reorgDepth > r.maxReorgDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds limit %d", ErrReorgTooDeep, reorgDepth, r.maxReorgDepth)
	}

	baseHeight := current[0].Height()
	removeFrom := int(ancestorHeight-baseHeight) + 1
	var toRemove []*types.Block
	if removeFrom < len(current) {
		toRemove = current[removeFrom:]
	}
	for _, block := range toRemove {
		if r.IsFinalized(block.Hash()) {
			return nil, fmt.Errorf("%w: block %s at height %d", ErrFinalityViolation, block.Hash(), block.Height())
		}
	}

	candBase := candidate[0].Height()
	addFrom := int(ancestorHeight-candBase) + 1
	var toAdd []*types.Block
	if addFrom < len(candidate) {
		toAdd = candidate[addFrom:]
	}

	if len(toRemove) == 0 && len(toAdd) == 0 {
		return nil, nil
	}
	log.Info("Reorg detected",
		"depth", reorgDepth,
		"ancestorHeight", ancestorHeight,
		"removing", len(toRemove),
		"adding", len(toAdd))

	return &ReorgInfo{
		CommonAncestorHeight: ancestorHeight,
		ReorgDepth:           reorgDepth,
		BlocksToRemove:       append([]*types.Block(nil), toRemove...),
		BlocksToAdd:          append([]*types.Block(nil), toAdd...),
	}, nil
}

// commonAncestor returns the height of the deepest block present in both
// chains.
func commonAncestor(a, b []*types.Block) (uint64, bool) {
	known := make(map[common.Hash]uint64, len(a))
	for _, block := range a {
		known[block.Hash()] = block.Height()
	}
	for i := len(b) - 1; i >= 0; i-- {
		if height, ok := known[b[i].Hash()]; ok {
			return height, true
		}
	}
	return 0, false
}

// Finalize marks a hash as permanently un-reorgable.
func (r *Resolver) Finalize(hash common.Hash) {
	if r.finalized.Add(hash) {
		log.Debug("Block finalized", "hash", hash)
	}
}

// IsFinalized reports whether the hash has been finalized.
func (r *Resolver) IsFinalized(hash common.Hash) bool {
	return r.finalized.Contains(hash)
}

// FinalizedCount returns the size of the finalized set.
func (r *Resolver) FinalizedCount() int {
	return r.finalized.Cardinality()
}

// ProcessFinalization finalizes every canonical block buried at least
// finalityThreshold under the head and returns the newly finalized hashes.
func (r *Resolver) ProcessFinalization(chain []*types.Block) []common.Hash {
	if len(chain) == 0 {
		return nil
	}
	headHeight := chain[len(chain)-1].Height()

	var newlyFinalized []common.Hash
	for _, block := range chain {
		if headHeight-block.Height() < r.finalityThreshold {
			break
		}
		hash := block.Hash()
		if r.finalized.Add(hash) {
			newlyFinalized = append(newlyFinalized, hash)
		}
	}
	if len(newlyFinalized) > 0 {
		log.Info("Finalized blocks", "count", len(newlyFinalized), "headHeight", headHeight)
	}
	return newlyFinalized
}

// ValidateChain checks sequential heights and parent links across a chain
// segment.
func (r *Resolver) ValidateChain(chain []*types.Block) error {
	for i := 1; i < len(chain); i++ {
		prev, current := chain[i-1], chain[i]
		if current.Height() != prev.Height()+1 {
			return fmt.Errorf("%w: %d -> %d", ErrNonSequential, prev.Height(), current.Height())
		}
		if current.ParentHash() != prev.Hash() {
			return fmt.Errorf("%w: at height %d", ErrBadParentLink, current.Height())
		}
	}
	return nil
}

// FinalityThreshold returns the configured burial depth for finality.
func (r *Resolver) FinalityThreshold() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalityThreshold
}

// MaxReorgDepth returns the configured reorg limit.
func (r *Resolver) MaxReorgDepth() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxReorgDepth
}
