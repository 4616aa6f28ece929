// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package forkchoice tracks the block DAG and picks the canonical head with
// the GHOST rule over persisted scores. Blocks reference parents by hash
// only; navigation is always a map lookup, never a pointer walk.
package forkchoice

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/luxtensor/go-luxtensor/core/types"
)

var (
	ErrDuplicateBlock = errors.New("forkchoice: duplicate block")
	ErrOrphanBlock    = errors.New("forkchoice: orphan block")
	ErrBlockNotFound  = errors.New("forkchoice: block not found")
)

// ForkChoice holds every known block with its GHOST score. The score of a
// block is parent score + 1; the head is the highest-scored block with ties
// broken by earliest insertion, which is stable across restarts because
// scores are parent-derived.
type ForkChoice struct {
	mu sync.RWMutex

	blocks map[common.Hash]*types.Block
	scores map[common.Hash]uint64
	// arrival records insertion order for the stable tie-break.
	arrival map[common.Hash]uint64
	seq     uint64

	head        common.Hash
	genesisHash common.Hash
}

// New creates a fork choice rooted at the genesis block.
func New(genesis *types.Block) *ForkChoice {
	hash := genesis.Hash()
	fc := &ForkChoice{
		blocks:      map[common.Hash]*types.Block{hash: genesis},
		scores:      map[common.Hash]uint64{hash: 0},
		arrival:     map[common.Hash]uint64{hash: 0},
		seq:         1,
		head:        hash,
		genesisHash: hash,
	}
	return fc
}

// AddBlock ingests a block: the parent must exist (or be the zero hash for
// genesis-rooted blocks) and the hash must be new.
func (fc *ForkChoice) AddBlock(block *types.Block) error {
	hash := block.Hash()
	parent := block.ParentHash()

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if _, ok := fc.blocks[hash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, hash)
	}
	parentScore, haveParent := fc.scores[parent]
	if !haveParent && parent != (common.Hash{}) {
		return fmt.Errorf("%w: block %s, parent %s", ErrOrphanBlock, hash, parent)
	}

	score := parentScore + 1
	fc.blocks[hash] = block
	fc.scores[hash] = score
	fc.arrival[hash] = fc.seq
	fc.seq++

	fc.updateHead()
	return nil
}

// updateHead scans for the max-score block; caller holds the write lock.
func (fc *ForkChoice) updateHead() {
	best := fc.head
	bestScore, bestArrival := fc.scores[best], fc.arrival[best]
	for hash, score := range fc.scores {
		if score > bestScore || (score == bestScore && fc.arrival[hash] < bestArrival) {
			best, bestScore, bestArrival = hash, score, fc.arrival[hash]
		}
	}
	if best != fc.head {
		log.Debug("Fork choice head updated", "head", best, "score", bestScore)
		fc.head = best
	}
}

// Head returns the current canonical head block.
func (fc *ForkChoice) Head() (*types.Block, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	block, ok := fc.blocks[fc.head]
	if !ok {
		return nil, fmt.Errorf("%w: head %s", ErrBlockNotFound, fc.head)
	}
	return block, nil
}

// HeadHash returns the canonical head hash.
func (fc *ForkChoice) HeadHash() common.Hash {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.head
}

// GetBlock returns the block with the given hash.
func (fc *ForkChoice) GetBlock(hash common.Hash) (*types.Block, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	block, ok := fc.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return block, nil
}

// HasBlock reports whether the hash is known.
func (fc *ForkChoice) HasBlock(hash common.Hash) bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	_, ok := fc.blocks[hash]
	return ok
}

// Score returns the GHOST score of a block.
func (fc *ForkChoice) Score(hash common.Hash) (uint64, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	score, ok := fc.scores[hash]
	return score, ok
}

// Len returns the number of tracked blocks.
func (fc *ForkChoice) Len() int {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return len(fc.blocks)
}

// CanonicalChain walks back from the head and returns the chain in
// genesis-to-head order.
func (fc *ForkChoice) CanonicalChain() []*types.Block {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	var chain []*types.Block
	current := fc.head
	for current != (common.Hash{}) {
		block, ok := fc.blocks[current]
		if !ok {
			break
		}
		chain = append(chain, block)
		current = block.ParentHash()
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// BlocksAtHeight returns every known block at a height, ordered by hash so
// callers observe a stable listing.
func (fc *ForkChoice) BlocksAtHeight(height uint64) []*types.Block {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	var out []*types.Block
	for _, block := range fc.blocks {
		if block.Height() == height {
			out = append(out, block)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].Hash(), out[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})
	return out
}

// RecomputeScores rebuilds every score with a BFS from genesis. Needed after
// pruning and on cold start, when parent-derived scores are not incrementally
// available.
func (fc *ForkChoice) RecomputeScores() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	children := make(map[common.Hash][]common.Hash, len(fc.blocks))
	for hash, block := range fc.blocks {
		children[block.ParentHash()] = append(children[block.ParentHash()], hash)
	}
	// Stable child order inside the BFS keeps nothing consensus-visible, but
	// a sorted walk makes debugging reproducible.
	for _, kids := range children {
		sort.Slice(kids, func(i, j int) bool { return bytes.Compare(kids[i][:], kids[j][:]) < 0 })
	}

	// Roots are genesis plus any retained block whose parent was pruned;
	// their score is their height, which equals the genesis-path score.
	fc.scores = make(map[common.Hash]uint64, len(fc.blocks))
	var queue []common.Hash
	for hash, block := range fc.blocks {
		if hash == fc.genesisHash {
			fc.scores[hash] = 0
			queue = append(queue, hash)
			continue
		}
		if _, ok := fc.blocks[block.ParentHash()]; !ok {
			fc.scores[hash] = block.Height()
			queue = append(queue, hash)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return bytes.Compare(queue[i][:], queue[j][:]) < 0 })
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			fc.scores[child] = fc.scores[current] + 1
			queue = append(queue, child)
		}
	}
	fc.updateHead()
}

// Prune drops blocks whose height falls below head height minus keepDepth,
// keeping non-canonical siblings of the retained suffix. Returns the number
// of removed blocks.
func (fc *ForkChoice) Prune(keepDepth uint64) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	headBlock, ok := fc.blocks[fc.head]
	if !ok || headBlock.Height() < keepDepth {
		return 0
	}
	cutoff := headBlock.Height() - keepDepth

	removed := 0
	for hash, block := range fc.blocks {
		if hash == fc.genesisHash {
			continue
		}
		if block.Height() < cutoff {
			delete(fc.blocks, hash)
			delete(fc.scores, hash)
			delete(fc.arrival, hash)
			removed++
		}
	}
	if removed > 0 {
		log.Info("Pruned fork choice", "removed", removed, "kept", len(fc.blocks), "cutoffHeight", cutoff)
	}
	return removed
}
