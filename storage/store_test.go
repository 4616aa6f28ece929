// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package storage

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxtensor/go-luxtensor/core/types"
)

func storeBlock(height uint64, parent common.Hash) *types.Block {
	return types.NewBlock(&types.Header{
		Version:    types.HeaderVersion,
		Height:     height,
		Timestamp:  1000 + height,
		ParentHash: parent,
		GasLimit:   1_000_000,
	}, nil)
}

// runStoreSuite exercises the BlockStore contract against any implementation.
func runStoreSuite(t *testing.T, store BlockStore) {
	t.Helper()

	_, ok := store.LatestHeight()
	assert.False(t, ok, "empty store has no latest height")

	b1 := storeBlock(1, common.Hash{0x01})
	require.NoError(t, store.PutBlock(b1))
	require.True(t, store.HasBlock(b1.Hash()))

	got, err := store.GetBlock(b1.Hash())
	require.NoError(t, err)
	assert.Equal(t, b1.Hash(), got.Hash())

	byHeight, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash(), byHeight.Hash())

	// Idempotent rewrite of the same (height, hash).
	require.NoError(t, store.PutBlock(b1))

	_, err = store.GetBlock(common.Hash{0xff})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetBlockByHeight(99)
	assert.ErrorIs(t, err, ErrNotFound)

	receipts := []*types.Receipt{{
		TxHash:      common.Hash{0x02},
		BlockHeight: 1,
		BlockHash:   b1.Hash(),
		GasUsed:     21000,
		Status:      types.ReceiptStatusSuccessful,
	}}
	require.NoError(t, store.PutReceipts(b1.Hash(), receipts))
	gotReceipts, err := store.GetReceipts(b1.Hash())
	require.NoError(t, err)
	require.Len(t, gotReceipts, 1)
	assert.Equal(t, receipts[0].EncodeBinary(), gotReceipts[0].EncodeBinary())

	require.NoError(t, store.PutBlockScore(b1.Hash(), 7))
	score, err := store.GetBlockScore(b1.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), score)

	require.NoError(t, store.PutStateRoot(1, common.Hash{0x03}))
	root, err := store.GetStateRoot(1)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{0x03}, root)

	height, ok := store.LatestHeight()
	require.True(t, ok)
	assert.Equal(t, uint64(1), height)

	b5 := storeBlock(5, b1.Hash())
	require.NoError(t, store.PutBlock(b5))
	height, _ = store.LatestHeight()
	assert.Equal(t, uint64(5), height)
}

func TestMemStore(t *testing.T) {
	runStoreSuite(t, NewMemStore())
}

func TestLevelStore(t *testing.T) {
	store, err := NewLevelStore(filepath.Join(t.TempDir(), "chaindata"))
	require.NoError(t, err)
	defer store.Close()
	runStoreSuite(t, store)
}

func TestLevelStoreRecovery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chaindata")

	store, err := NewLevelStore(dir)
	require.NoError(t, err)
	b1 := storeBlock(1, common.Hash{0x01})
	b2 := storeBlock(2, b1.Hash())
	require.NoError(t, store.PutBlock(b1))
	require.NoError(t, store.PutBlock(b2))
	require.NoError(t, store.Close())

	reopened, err := NewLevelStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	height, ok := reopened.LatestHeight()
	require.True(t, ok)
	assert.Equal(t, uint64(2), height)

	got, err := reopened.GetBlock(b2.Hash())
	require.NoError(t, err)
	assert.Equal(t, b2.Hash(), got.Hash())
}
