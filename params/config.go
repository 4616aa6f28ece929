// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.
//
// The go-luxtensor library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-luxtensor library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-luxtensor library. If not, see <http://www.gnu.org/licenses/>.

// Package params holds the protocol constants and configuration structures
// shared by the consensus engine, state machine and node.
package params

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Gas cost constants for the transaction executor.
const (
	TxGas                 uint64 = 21000 // Base cost of any transaction
	TxDataGas             uint64 = 68    // Per byte of transaction payload
	TxContractCreationGas uint64 = 32000 // Surcharge for contract deployment
	TxCodeDepositGas      uint64 = 200   // Per byte of deployed contract code
)

// Wei denominations.
const (
	Wei   = 1
	GWei  = 1e9
	Ether = 1e18
)

// ConsensusConfig are the tunables of the PoS engine.
type ConsensusConfig struct {
	SlotDuration uint64 // Seconds per slot
	EpochLength  uint64 // Slots per epoch
	MinStake     *big.Int
	BlockReward  *big.Int // Legacy fixed reward, superseded by the emission controller
	GenesisTime  uint64
	// RequireVRF makes the engine reject blocks produced through the
	// stake-weighted fallback path. Production genesis sets this true.
	RequireVRF bool
}

// DefaultConsensusConfig returns the mainnet consensus parameters:
// 12 second slots, 32-slot epochs, 32 LUX minimum stake.
func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		SlotDuration: 12,
		EpochLength:  32,
		MinStake:     new(big.Int).Mul(big.NewInt(32), big.NewInt(Ether)),
		BlockReward:  new(big.Int).Mul(big.NewInt(2), big.NewInt(Ether)),
		RequireVRF:   true,
	}
}

// RotationConfig controls validator activation and exit queues.
type RotationConfig struct {
	EpochLength           uint64
	ActivationDelayEpochs uint64
	ExitDelayEpochs       uint64
	MaxValidators         int
	MinStake              *big.Int
}

// DefaultRotationConfig returns the default rotation parameters.
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		EpochLength:           32,
		ActivationDelayEpochs: 2,
		ExitDelayEpochs:       2,
		MaxValidators:         100,
		MinStake:              new(big.Int).Mul(big.NewInt(32), big.NewInt(Ether)),
	}
}

// FeeConfig are the EIP-1559 fee market parameters.
type FeeConfig struct {
	BlockGasLimit        uint64
	TargetGasUsed        uint64
	InitialBaseFee       *uint256.Int
	BaseFeeChangeDenom   uint64
	MinBaseFee           *uint256.Int
	MaxBaseFee           *uint256.Int
}

// DefaultFeeConfig returns the default fee market parameters: 30M gas blocks
// with a 50% target, 12.5% max change per block, base fee clamped to
// [0.1 gwei, 100 gwei].
func DefaultFeeConfig() *FeeConfig {
	return &FeeConfig{
		BlockGasLimit:      30_000_000,
		TargetGasUsed:      15_000_000,
		InitialBaseFee:     uint256.NewInt(500_000_000),
		BaseFeeChangeDenom: 8,
		MinBaseFee:         uint256.NewInt(100_000_000),
		MaxBaseFee:         uint256.NewInt(100_000_000_000),
	}
}

// EmissionConfig controls per-block emission, the halving schedule and the
// utility modulation.
type EmissionConfig struct {
	MaxSupply       *uint256.Int
	InitialEmission *uint256.Int
	HalvingInterval uint64
	MaxHalvings     uint32
	MinEmission     *uint256.Int
	// UtilityWeight scales how strongly the utility score moves emission,
	// expressed in percent (0-100).
	UtilityWeight uint8
}

// DefaultEmissionConfig returns the mainnet emission schedule: 21M LUX cap,
// 2 LUX initial per-block emission halving every 8,760,000 blocks
// (~3.3 years at 12s slots), floored at 0.1 LUX.
func DefaultEmissionConfig() *EmissionConfig {
	maxSupply := new(uint256.Int).Mul(uint256.NewInt(21_000_000), uint256.NewInt(Ether))
	return &EmissionConfig{
		MaxSupply:       maxSupply,
		InitialEmission: new(uint256.Int).Mul(uint256.NewInt(2), uint256.NewInt(Ether)),
		HalvingInterval: 8_760_000,
		MaxHalvings:     10,
		MinEmission:     uint256.NewInt(100_000_000_000_000_000),
		UtilityWeight:   30,
	}
}

// BurnConfig carries the four burn-category rates in basis points so the
// manager never touches floating point.
type BurnConfig struct {
	TxFeeBurnBps      uint64 // Share of every tx fee destroyed
	SubnetBurnBps     uint64 // Share of subnet registration burned; rest to grants
	UnmetQuotaBurnBps uint64
	SlashingBurnBps   uint64
}

// DefaultBurnConfig returns the tokenomics v3 burn split.
func DefaultBurnConfig() *BurnConfig {
	return &BurnConfig{
		TxFeeBurnBps:      5000,
		SubnetBurnBps:     5000,
		UnmetQuotaBurnBps: 10000,
		SlashingBurnBps:   8000,
	}
}

// ForkConfig bounds reorganisations and finality.
type ForkConfig struct {
	FinalityThreshold uint64 // Blocks buried this deep are final
	MaxReorgDepth     uint64
}

// DefaultForkConfig returns the default reorg limits: 32-block finality,
// 64-block maximum reorg.
func DefaultForkConfig() *ForkConfig {
	return &ForkConfig{
		FinalityThreshold: 32,
		MaxReorgDepth:     64,
	}
}

// CheckpointConfig protects against long-range attacks.
type CheckpointConfig struct {
	WeakSubjectivityPeriod uint64
	CheckpointInterval     uint64
	MaxReorgDepth          uint64
	MinConfirmations       uint64
}

// DefaultCheckpointConfig returns the default long-range protection window.
func DefaultCheckpointConfig() *CheckpointConfig {
	return &CheckpointConfig{
		WeakSubjectivityPeriod: 403_200,
		CheckpointInterval:     100,
		MaxReorgDepth:          1000,
		MinConfirmations:       32,
	}
}

// TxPoolConfig bounds the mempool.
type TxPoolConfig struct {
	MaxSize      int
	TxExpiration uint64 // Seconds a pending tx may wait before eviction
	// ValidateSignatures may only be disabled on development chains.
	ValidateSignatures bool
}

// DefaultTxPoolConfig returns the production mempool limits.
func DefaultTxPoolConfig() *TxPoolConfig {
	return &TxPoolConfig{
		MaxSize:            10_000,
		TxExpiration:       30 * 60,
		ValidateSignatures: true,
	}
}

// HnswConfig are the vector-index construction parameters. They are consensus
// critical: all validators must run identical values.
type HnswConfig struct {
	M              int // Max neighbors per node per layer (layer 0 uses 2M)
	EfConstruction int
	MaxLevel       uint8
	Dimension      int
}

// DefaultHnswConfig returns the protocol HNSW parameters.
func DefaultHnswConfig() *HnswConfig {
	return &HnswConfig{
		M:              16,
		EfConstruction: 200,
		MaxLevel:       16,
		Dimension:      768,
	}
}

// MainnetChainID and friends identify the known networks. Development genesis
// with pre-funded accounts is rejected on MainnetChainID.
const (
	MainnetChainID uint64 = 1_888
	TestnetChainID uint64 = 1_889
	DevChainID     uint64 = 31_337
)
