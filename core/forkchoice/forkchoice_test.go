// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package forkchoice

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/params"
)

func testBlock(height uint64, parent common.Hash, salt byte) *types.Block {
	header := &types.Header{
		Version:    types.HeaderVersion,
		Height:     height,
		Timestamp:  1000 + height,
		ParentHash: parent,
		GasLimit:   1_000_000,
		ExtraData:  []byte{salt},
	}
	return types.NewBlock(header, nil)
}

func buildChain(length int, salt byte) []*types.Block {
	chain := make([]*types.Block, 0, length)
	parent := common.Hash{}
	for i := 0; i < length; i++ {
		block := testBlock(uint64(i), parent, salt)
		parent = block.Hash()
		chain = append(chain, block)
	}
	return chain
}

func TestNewForkChoice(t *testing.T) {
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	assert.Equal(t, 1, fc.Len())
	head, err := fc.Head()
	require.NoError(t, err)
	assert.Equal(t, genesis.Hash(), head.Hash())

	score, ok := fc.Score(genesis.Hash())
	require.True(t, ok)
	assert.Equal(t, uint64(0), score)
}

func TestAddBlockScoring(t *testing.T) {
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	b1 := testBlock(1, genesis.Hash(), 0)
	require.NoError(t, fc.AddBlock(b1))

	score, ok := fc.Score(b1.Hash())
	require.True(t, ok)
	assert.Equal(t, uint64(1), score, "score is parent score + 1")
	assert.Equal(t, b1.Hash(), fc.HeadHash())
}

func TestAddDuplicateBlock(t *testing.T) {
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	b1 := testBlock(1, genesis.Hash(), 0)
	require.NoError(t, fc.AddBlock(b1))
	assert.ErrorIs(t, fc.AddBlock(b1), ErrDuplicateBlock)
}

func TestAddOrphanBlock(t *testing.T) {
	fc := New(testBlock(0, common.Hash{}, 0))
	orphan := testBlock(1, common.Hash{0xde, 0xad}, 0)
	assert.ErrorIs(t, fc.AddBlock(orphan), ErrOrphanBlock)
}

func TestCanonicalChain(t *testing.T) {
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	parent := genesis.Hash()
	for i := uint64(1); i <= 3; i++ {
		block := testBlock(i, parent, 0)
		require.NoError(t, fc.AddBlock(block))
		parent = block.Hash()
	}

	chain := fc.CanonicalChain()
	require.Len(t, chain, 4)
	for i, block := range chain {
		assert.Equal(t, uint64(i), block.Height())
	}
}

func TestForkSelectionLongestWins(t *testing.T) {
	// G -> A1 -> A2 versus G -> B1 -> B2 -> B3: after B3 lands, the head is
	// B3 and the canonical chain is the B branch.
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	a1 := testBlock(1, genesis.Hash(), 0xa)
	a2 := testBlock(2, a1.Hash(), 0xa)
	require.NoError(t, fc.AddBlock(a1))
	require.NoError(t, fc.AddBlock(a2))
	assert.Equal(t, a2.Hash(), fc.HeadHash())

	b1 := testBlock(1, genesis.Hash(), 0xb)
	b2 := testBlock(2, b1.Hash(), 0xb)
	b3 := testBlock(3, b2.Hash(), 0xb)
	require.NoError(t, fc.AddBlock(b1))
	require.NoError(t, fc.AddBlock(b2))
	assert.Equal(t, a2.Hash(), fc.HeadHash(), "equal-score tie keeps the earlier arrival")
	require.NoError(t, fc.AddBlock(b3))

	assert.Equal(t, b3.Hash(), fc.HeadHash())
	chain := fc.CanonicalChain()
	require.Len(t, chain, 4)
	assert.Equal(t, genesis.Hash(), chain[0].Hash())
	assert.Equal(t, b1.Hash(), chain[1].Hash())
	assert.Equal(t, b2.Hash(), chain[2].Hash())
	assert.Equal(t, b3.Hash(), chain[3].Hash())
}

func TestBlocksAtHeight(t *testing.T) {
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	require.NoError(t, fc.AddBlock(testBlock(1, genesis.Hash(), 0xa)))
	require.NoError(t, fc.AddBlock(testBlock(1, genesis.Hash(), 0xb)))

	assert.Len(t, fc.BlocksAtHeight(1), 2)
	assert.Len(t, fc.BlocksAtHeight(2), 0)
}

func TestRecomputeScores(t *testing.T) {
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	parent := genesis.Hash()
	var last common.Hash
	for i := uint64(1); i <= 5; i++ {
		block := testBlock(i, parent, 0)
		require.NoError(t, fc.AddBlock(block))
		parent = block.Hash()
		last = block.Hash()
	}

	headBefore := fc.HeadHash()
	fc.RecomputeScores()
	assert.Equal(t, headBefore, fc.HeadHash())
	score, ok := fc.Score(last)
	require.True(t, ok)
	assert.Equal(t, uint64(5), score)
}

func TestPruneKeepsRecentSiblings(t *testing.T) {
	genesis := testBlock(0, common.Hash{}, 0)
	fc := New(genesis)

	parent := genesis.Hash()
	var blocks []*types.Block
	for i := uint64(1); i <= 10; i++ {
		block := testBlock(i, parent, 0)
		require.NoError(t, fc.AddBlock(block))
		parent = block.Hash()
		blocks = append(blocks, block)
	}
	// A non-canonical sibling near the head must survive pruning.
	sibling := testBlock(9, blocks[7].Hash(), 0xcc)
	require.NoError(t, fc.AddBlock(sibling))

	removed := fc.Prune(3)
	assert.Greater(t, removed, 0)
	assert.True(t, fc.HasBlock(sibling.Hash()), "recent sibling must be kept")
	assert.True(t, fc.HasBlock(blocks[9].Hash()))
	assert.False(t, fc.HasBlock(blocks[2].Hash()), "deep blocks are pruned")

	fc.RecomputeScores()
	assert.Equal(t, blocks[9].Hash(), fc.HeadHash())
}

func TestDetectReorgSimple(t *testing.T) {
	resolver := NewResolver(params.DefaultForkConfig())
	main := buildChain(10, 0)

	// Fork at height 7: same first 8 blocks, then a different block 8.
	fork := append([]*types.Block(nil), main[:8]...)
	alt := testBlock(8, main[7].Hash(), 0xff)
	fork = append(fork, alt)

	info, err := resolver.DetectReorg(main, fork)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, uint64(7), info.CommonAncestorHeight)
	assert.Equal(t, uint64(2), info.ReorgDepth)
	assert.Len(t, info.BlocksToRemove, 2)
	assert.Len(t, info.BlocksToAdd, 1)
	assert.Equal(t, alt.Hash(), info.BlocksToAdd[0].Hash())
}

func TestDetectReorgIdenticalChains(t *testing.T) {
	resolver := NewResolver(nil)
	chain := buildChain(10, 0)
	info, err := resolver.DetectReorg(chain, chain)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestReorgDepthBoundary(t *testing.T) {
	cfg := &params.ForkConfig{FinalityThreshold: 5, MaxReorgDepth: 3}
	resolver := NewResolver(cfg)
	main := buildChain(10, 0)

	// Depth exactly maxReorgDepth succeeds: fork at height 6 replaces 7..9.
	fork := append([]*types.Block(nil), main[:7]...)
	fork = append(fork, testBlock(7, main[6].Hash(), 0xee))
	info, err := resolver.DetectReorg(main, fork)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, uint64(3), info.ReorgDepth)

	// Depth maxReorgDepth+1 fails.
	fork = append([]*types.Block(nil), main[:6]...)
	fork = append(fork, testBlock(6, main[5].Hash(), 0xee))
	_, err = resolver.DetectReorg(main, fork)
	assert.ErrorIs(t, err, ErrReorgTooDeep)
}

func TestFinalityViolation(t *testing.T) {
	// With threshold 2 and 5 blocks, heights 0..2 finalize; a reorg touching
	// height 2 must fail.
	cfg := &params.ForkConfig{FinalityThreshold: 2, MaxReorgDepth: 64}
	resolver := NewResolver(cfg)
	chain := buildChain(5, 0)

	finalized := resolver.ProcessFinalization(chain)
	require.Len(t, finalized, 3)
	for i := 0; i <= 2; i++ {
		assert.True(t, resolver.IsFinalized(chain[i].Hash()), "height %d", i)
	}
	assert.False(t, resolver.IsFinalized(chain[3].Hash()))

	fork := append([]*types.Block(nil), chain[:2]...)
	fork = append(fork, testBlock(2, chain[1].Hash(), 0xdd))
	_, err := resolver.DetectReorg(chain, fork)
	assert.ErrorIs(t, err, ErrFinalityViolation)
}

func TestFinalityIsMonotonic(t *testing.T) {
	resolver := NewResolver(nil)
	hash := common.Hash{0x01}
	resolver.Finalize(hash)
	for i := 0; i < 3; i++ {
		assert.True(t, resolver.IsFinalized(hash))
	}
	assert.Equal(t, 1, resolver.FinalizedCount())
}

func TestValidateChain(t *testing.T) {
	resolver := NewResolver(nil)
	require.NoError(t, resolver.ValidateChain(buildChain(10, 0)))
	require.NoError(t, resolver.ValidateChain(nil))

	b0 := testBlock(0, common.Hash{}, 0)
	gap := testBlock(2, b0.Hash(), 0)
	assert.ErrorIs(t, resolver.ValidateChain([]*types.Block{b0, gap}), ErrNonSequential)

	b1 := testBlock(1, common.Hash{0xba, 0xad}, 0)
	assert.ErrorIs(t, resolver.ValidateChain([]*types.Block{b0, b1}), ErrBadParentLink)
}

func TestLongRangeProtection(t *testing.T) {
	genesisHash := common.Hash{0x01}
	lrp := NewLongRangeProtection(params.DefaultCheckpointConfig(), genesisHash)

	assert.Equal(t, uint64(0), lrp.FinalizedHeight())
	assert.Equal(t, genesisHash, lrp.LatestCheckpoint().BlockHash)

	assert.True(t, lrp.IsReorgAllowed(100))
	assert.False(t, lrp.IsReorgAllowed(2000))

	lrp.UpdateFinalized(common.Hash{0x02}, 1000, 31, common.Hash{0x03}, 12345)
	assert.Equal(t, uint64(1000), lrp.FinalizedHeight())
	assert.True(t, lrp.IsFinalized(999))
	assert.False(t, lrp.IsFinalized(1001))
	assert.True(t, lrp.IsWithinWeakSubjectivity(500))

	// Height 1000 is a multiple of the checkpoint interval: pinned.
	cp := lrp.LatestCheckpoint()
	assert.Equal(t, uint64(1000), cp.Height)
	assert.Equal(t, common.Hash{0x02}, cp.BlockHash)
}

func TestCheckpointConflictRejected(t *testing.T) {
	lrp := NewLongRangeProtection(nil, common.Hash{0x01})
	require.NoError(t, lrp.AddCheckpoint(Checkpoint{BlockHash: common.Hash{0x05}, Height: 100}))

	assert.True(t, lrp.ValidateAgainstCheckpoints(common.Hash{0x05}, 100))
	assert.False(t, lrp.ValidateAgainstCheckpoints(common.Hash{0x06}, 100))
	assert.True(t, lrp.ValidateAgainstCheckpoints(common.Hash{0x07}, 101))

	assert.ErrorIs(t, lrp.AddCheckpoint(Checkpoint{Height: 100}), ErrStaleCheckpoint)
	assert.ErrorIs(t, lrp.AddCheckpoint(Checkpoint{Height: 50}), ErrStaleCheckpoint)
}

func TestCheckpointPruning(t *testing.T) {
	lrp := NewLongRangeProtection(nil, common.Hash{0x01})
	for h := uint64(100); h <= 500; h += 100 {
		require.NoError(t, lrp.AddCheckpoint(Checkpoint{BlockHash: common.Hash{byte(h / 100)}, Height: h}))
	}
	lrp.PruneOldCheckpoints(3)
	cps := lrp.Checkpoints()
	require.Len(t, cps, 3)
	assert.Equal(t, uint64(300), cps[0].Height)
	assert.Equal(t, uint64(500), cps[2].Height)
}
