// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

// Package core wires the state transition machinery: the transaction
// executor that applies signed transactions to the unified state, and the
// genesis configuration that seeds it.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/luxtensor/go-luxtensor/core/state"
	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/params"
)

var (
	ErrNonceMismatch     = errors.New("invalid nonce")
	ErrGasLimitTooLow    = errors.New("gas limit below intrinsic gas")
	ErrFeeOverflow       = errors.New("fee computation overflow")
	ErrInsufficientFunds = errors.New("insufficient funds for value + fee")
	ErrGasPriceBelowBase = errors.New("gas price below base fee")
	ErrBlockGasLimitHit  = errors.New("block gas limit exceeded")
)

// IntrinsicGas computes the gas consumed before any execution: the base cost,
// the payload cost, and the deployment surcharge for contract creations.
func IntrinsicGas(data []byte, contractCreation bool) uint64 {
	gas := params.TxGas + params.TxDataGas*uint64(len(data))
	if contractCreation {
		gas += params.TxContractCreationGas + params.TxCodeDepositGas*uint64(len(data))
	}
	return gas
}

// CreateAddress derives the address of a contract deployed by sender at the
// given nonce.
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	buf := make([]byte, 0, 28)
	buf = append(buf, sender.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

// StateProcessor validates and applies transactions in block order. All
// checks precede every mutation, so a failed transaction leaves no partial
// writes behind.
type StateProcessor struct {
	chainID uint64
}

// NewStateProcessor creates an executor bound to a chain id.
func NewStateProcessor(chainID uint64) *StateProcessor {
	return &StateProcessor{chainID: chainID}
}

// ApplyTransaction executes one transaction against the state.
//
// Validation failures split two ways, mirroring the inclusion rules:
//   - signature or nonce failures return an error and no receipt; the
//     transaction must not be included in a block;
//   - downstream failures (gas limit, overflow, insufficient balance for the
//     value) charge the intrinsic fee when the sender can afford it and yield
//     a Failed receipt; when even the fee is unaffordable the transaction is
//     likewise not includable.
func (p *StateProcessor) ApplyTransaction(
	statedb *state.StateDB,
	tx *types.Transaction,
	baseFee *uint256.Int,
	blockHeight uint64,
	blockHash common.Hash,
	txIndex int,
) (*types.Receipt, error) {
	if err := tx.VerifySignature(); err != nil {
		return nil, err
	}
	if tx.ChainID != p.chainID {
		return nil, fmt.Errorf("wrong chain id %d, want %d (tx %s)", tx.ChainID, p.chainID, tx.Hash())
	}
	sender := tx.From
	if nonce := statedb.GetNonce(sender); nonce != tx.Nonce {
		return nil, fmt.Errorf("%w: expected %d, got %d (tx %s)", ErrNonceMismatch, nonce, tx.Nonce, tx.Hash())
	}
	if baseFee != nil && uint256.NewInt(tx.GasPrice).Lt(baseFee) {
		return nil, fmt.Errorf("%w: %d < %s (tx %s)", ErrGasPriceBelowBase, tx.GasPrice, baseFee, tx.Hash())
	}

	intrinsic := IntrinsicGas(tx.Data, tx.IsContractCreation())
	fee := new(uint256.Int).Mul(uint256.NewInt(intrinsic), uint256.NewInt(tx.GasPrice))

	receipt := &types.Receipt{
		TxHash:      tx.Hash(),
		BlockHeight: blockHeight,
		BlockHash:   blockHash,
		TxIndex:     uint32(txIndex),
		From:        sender,
		To:          tx.To,
		GasUsed:     intrinsic,
		Status:      types.ReceiptStatusSuccessful,
	}

	// failTx charges the intrinsic fee when affordable and marks the receipt
	// failed; otherwise the transaction is reported as not includable.
	failTx := func(cause error) (*types.Receipt, error) {
		if statedb.GetBalance(sender).Lt(fee) {
			return nil, cause
		}
		if err := statedb.Debit(sender, fee); err != nil {
			return nil, cause
		}
		if err := statedb.IncrementNonce(sender); err != nil {
			return nil, err
		}
		receipt.Status = types.ReceiptStatusFailed
		log.Debug("Transaction failed", "tx", tx.Hash(), "err", cause)
		return receipt, nil
	}

	if intrinsic > tx.GasLimit {
		return failTx(fmt.Errorf("%w: need %d, limit %d (tx %s)", ErrGasLimitTooLow, intrinsic, tx.GasLimit, tx.Hash()))
	}

	total, overflow := new(uint256.Int).AddOverflow(fee, tx.Value)
	if overflow {
		return failTx(fmt.Errorf("%w (tx %s)", ErrFeeOverflow, tx.Hash()))
	}
	if statedb.GetBalance(sender).Lt(total) {
		return failTx(fmt.Errorf("%w: have %s, need %s (tx %s)", ErrInsufficientFunds, statedb.GetBalance(sender), total, tx.Hash()))
	}

	// Every check passed; apply once.
	if err := statedb.Debit(sender, total); err != nil {
		return nil, err
	}
	if err := statedb.IncrementNonce(sender); err != nil {
		return nil, err
	}
	if tx.To != nil {
		if err := statedb.Credit(*tx.To, tx.Value); err != nil {
			return nil, err
		}
	} else {
		contractAddr := CreateAddress(sender, tx.Nonce)
		statedb.DeployContract(contractAddr, tx.Data, sender)
		if err := statedb.Credit(contractAddr, tx.Value); err != nil {
			return nil, err
		}
		receipt.To = nil
		log.Debug("Contract deployed", "address", contractAddr, "deployer", sender, "codeSize", len(tx.Data))
	}
	return receipt, nil
}

// ProcessResult is the outcome of applying a full block body.
type ProcessResult struct {
	Receipts     []*types.Receipt
	GasUsed      uint64
	ReceiptsRoot common.Hash
	FeesPaid     *uint256.Int
}

// Process applies every transaction of a block in order. Any invalid
// transaction aborts the whole block: during sync a block carrying one is
// rejected outright.
//
// Receipts commit with a zero block hash: the sealed hash is not known at
// assembly time, and the commitment must replay identically on import. The
// indexer backfills the realized hash when serving receipts.
func (p *StateProcessor) Process(
	statedb *state.StateDB,
	block *types.Block,
	baseFee *uint256.Int,
) (*ProcessResult, error) {
	var (
		receipts = make([]*types.Receipt, 0, len(block.Transactions))
		gasUsed  uint64
		fees     = new(uint256.Int)
	)
	for i, tx := range block.Transactions {
		receipt, err := p.ApplyTransaction(statedb, tx, baseFee, block.Height(), common.Hash{}, i)
		if err != nil {
			return nil, fmt.Errorf("tx %d (%s) in block %d: %w", i, tx.Hash(), block.Height(), err)
		}
		gasUsed += receipt.GasUsed
		if gasUsed > block.Header.GasLimit {
			return nil, fmt.Errorf("%w: %d > %d at block %d", ErrBlockGasLimitHit, gasUsed, block.Header.GasLimit, block.Height())
		}
		fees.Add(fees, new(uint256.Int).Mul(uint256.NewInt(receipt.GasUsed), uint256.NewInt(tx.GasPrice)))
		receipts = append(receipts, receipt)
	}
	return &ProcessResult{
		Receipts:     receipts,
		GasUsed:      gasUsed,
		ReceiptsRoot: types.ReceiptsRoot(receipts),
		FeesPaid:     fees,
	}, nil
}
