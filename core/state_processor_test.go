// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package core

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxtensor/go-luxtensor/core/state"
	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/params"
)

func newAccount(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func newProcessorState(t *testing.T) *state.StateDB {
	t.Helper()
	cfg := params.DefaultHnswConfig()
	cfg.Dimension = 8
	return state.New(1, cfg)
}

func signedTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to *common.Address, value *uint256.Int, gasPrice, gasLimit uint64, data []byte) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction(1, nonce, crypto.PubkeyToAddress(key.PublicKey), to, value, gasPrice, gasLimit, data)
	require.NoError(t, tx.Sign(key))
	return tx
}

func TestIntrinsicGas(t *testing.T) {
	assert.Equal(t, uint64(21000), IntrinsicGas(nil, false))
	assert.Equal(t, uint64(21000+68*10), IntrinsicGas(make([]byte, 10), false))
	assert.Equal(t, uint64(21000+68*10+32000+200*10), IntrinsicGas(make([]byte, 10), true))
}

func TestSimpleTransfer(t *testing.T) {
	// The canonical transfer scenario: A pre-funded with 1e20, sends 1e18 to
	// B at base fee, gas limit 21000.
	key, sender := newAccount(t)
	recipient := common.HexToAddress("0xbb")
	statedb := newProcessorState(t)

	initial := new(uint256.Int).Mul(uint256.NewInt(100), uint256.NewInt(params.Ether))
	require.NoError(t, statedb.Credit(sender, initial))

	baseFee := uint256.NewInt(params.GWei)
	value := uint256.NewInt(params.Ether)
	tx := signedTx(t, key, 0, &recipient, value, params.GWei, 21000, nil)

	p := NewStateProcessor(1)
	receipt, err := p.ApplyTransaction(statedb, tx, baseFee, 1, common.Hash{0x01}, 0)
	require.NoError(t, err)

	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, uint64(21000), receipt.GasUsed)

	fee := new(uint256.Int).Mul(uint256.NewInt(21000), baseFee)
	want := new(uint256.Int).Sub(initial, value)
	want.Sub(want, fee)
	assert.Equal(t, want, statedb.GetBalance(sender))
	assert.Equal(t, value, statedb.GetBalance(recipient))
	assert.Equal(t, uint64(1), statedb.GetNonce(sender))
}

func TestRejectsBadSignature(t *testing.T) {
	key, _ := newAccount(t)
	recipient := common.HexToAddress("0xbb")
	tx := signedTx(t, key, 0, &recipient, uint256.NewInt(1), 1, 21000, nil)
	tx.Value = uint256.NewInt(2) // invalidate

	statedb := newProcessorState(t)
	p := NewStateProcessor(1)
	_, err := p.ApplyTransaction(statedb, tx, nil, 1, common.Hash{}, 0)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), statedb.GetNonce(tx.From), "no state mutation on rejected tx")
}

func TestRejectsNonceMismatch(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, uint256.NewInt(1_000_000_000)))

	recipient := common.HexToAddress("0xbb")
	tx := signedTx(t, key, 5, &recipient, uint256.NewInt(1), 1, 21000, nil)

	p := NewStateProcessor(1)
	_, err := p.ApplyTransaction(statedb, tx, nil, 1, common.Hash{}, 0)
	assert.ErrorIs(t, err, ErrNonceMismatch)
}

func TestRejectsGasPriceBelowBaseFee(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, uint256.NewInt(1_000_000_000)))

	recipient := common.HexToAddress("0xbb")
	tx := signedTx(t, key, 0, &recipient, uint256.NewInt(1), 5, 21000, nil)

	p := NewStateProcessor(1)
	_, err := p.ApplyTransaction(statedb, tx, uint256.NewInt(10), 1, common.Hash{}, 0)
	assert.ErrorIs(t, err, ErrGasPriceBelowBase)
}

func TestGasLimitTooLowChargesFee(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, new(uint256.Int).Mul(uint256.NewInt(1), uint256.NewInt(params.Ether))))

	recipient := common.HexToAddress("0xbb")
	tx := signedTx(t, key, 0, &recipient, uint256.NewInt(1), 1, 20000, nil)

	p := NewStateProcessor(1)
	receipt, err := p.ApplyTransaction(statedb, tx, nil, 1, common.Hash{}, 0)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, uint64(21000), receipt.GasUsed, "failed tx still reports intrinsic gas")
	assert.Equal(t, uint64(1), statedb.GetNonce(sender))
}

func TestInsufficientValueBalanceChargesFeeOnly(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	// Enough for the fee, nowhere near enough for the value.
	require.NoError(t, statedb.Credit(sender, uint256.NewInt(50_000)))

	recipient := common.HexToAddress("0xbb")
	tx := signedTx(t, key, 0, &recipient, uint256.NewInt(1_000_000), 1, 21000, nil)

	p := NewStateProcessor(1)
	receipt, err := p.ApplyTransaction(statedb, tx, nil, 1, common.Hash{}, 0)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, uint256.NewInt(50_000-21_000), statedb.GetBalance(sender))
	assert.True(t, statedb.GetBalance(recipient).IsZero())
}

func TestUnaffordableFeeIsNotIncludable(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, uint256.NewInt(100)))

	recipient := common.HexToAddress("0xbb")
	tx := signedTx(t, key, 0, &recipient, uint256.NewInt(1_000_000), 1, 21000, nil)

	p := NewStateProcessor(1)
	_, err := p.ApplyTransaction(statedb, tx, nil, 1, common.Hash{}, 0)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, uint256.NewInt(100), statedb.GetBalance(sender), "no partial debit")
	assert.Equal(t, uint64(0), statedb.GetNonce(sender))
}

func TestContractDeployment(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, new(uint256.Int).Mul(uint256.NewInt(1), uint256.NewInt(params.Ether))))

	code := []byte{0x60, 0x00, 0xfd}
	tx := signedTx(t, key, 0, nil, uint256.NewInt(0), 1, 100_000, code)

	p := NewStateProcessor(1)
	receipt, err := p.ApplyTransaction(statedb, tx, nil, 1, common.Hash{}, 0)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	contractAddr := CreateAddress(sender, 0)
	assert.True(t, statedb.HasCode(contractAddr))
	assert.Equal(t, code, statedb.GetCode(contractAddr))
}

func TestProcessBlockSequentialNonces(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, new(uint256.Int).Mul(uint256.NewInt(10), uint256.NewInt(params.Ether))))

	recipient := common.HexToAddress("0xbb")
	txs := []*types.Transaction{
		signedTx(t, key, 0, &recipient, uint256.NewInt(1000), 1, 21000, nil),
		signedTx(t, key, 1, &recipient, uint256.NewInt(2000), 1, 21000, nil),
	}
	header := &types.Header{Version: types.HeaderVersion, Height: 1, GasLimit: 30_000_000, TxsRoot: types.TxsRoot(txs)}
	block := types.NewBlock(header, txs)

	p := NewStateProcessor(1)
	result, err := p.Process(statedb, block, nil)
	require.NoError(t, err)

	assert.Len(t, result.Receipts, 2)
	assert.Equal(t, uint64(42000), result.GasUsed)
	assert.Equal(t, uint256.NewInt(3000), statedb.GetBalance(recipient))
	assert.Equal(t, uint64(2), statedb.GetNonce(sender))
	assert.Equal(t, types.ReceiptsRoot(result.Receipts), result.ReceiptsRoot)
	assert.Equal(t, uint256.NewInt(42000), result.FeesPaid)
}

func TestProcessRejectsWholeBlockOnBadTx(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, new(uint256.Int).Mul(uint256.NewInt(10), uint256.NewInt(params.Ether))))

	recipient := common.HexToAddress("0xbb")
	txs := []*types.Transaction{
		signedTx(t, key, 0, &recipient, uint256.NewInt(1000), 1, 21000, nil),
		signedTx(t, key, 7, &recipient, uint256.NewInt(2000), 1, 21000, nil), // nonce gap
	}
	header := &types.Header{Version: types.HeaderVersion, Height: 1, GasLimit: 30_000_000}
	block := types.NewBlock(header, txs)

	p := NewStateProcessor(1)
	_, err := p.Process(statedb, block, nil)
	assert.ErrorIs(t, err, ErrNonceMismatch)
}

func TestReceiptsRootMatchesFreshComputation(t *testing.T) {
	key, sender := newAccount(t)
	statedb := newProcessorState(t)
	require.NoError(t, statedb.Credit(sender, new(uint256.Int).Mul(uint256.NewInt(10), uint256.NewInt(params.Ether))))

	recipient := common.HexToAddress("0xbb")
	txs := []*types.Transaction{signedTx(t, key, 0, &recipient, uint256.NewInt(5), 1, 21000, nil)}
	header := &types.Header{Version: types.HeaderVersion, Height: 1, GasLimit: 30_000_000}
	block := types.NewBlock(header, txs)

	p := NewStateProcessor(1)
	result, err := p.Process(statedb, block, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptsRoot(result.Receipts), result.ReceiptsRoot)
}
