// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package pos

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

// ErrFeeCapTooLow is returned when a transaction's fee cap cannot cover the
// current base fee.
var ErrFeeCapTooLow = errors.New("pos: max fee per gas below base fee")

// FeeMarket is the EIP-1559 fee state. The base fee moves at most
// 1/denominator per block towards demand and stays clamped to the configured
// band. All arithmetic saturates.
type FeeMarket struct {
	mu sync.RWMutex

	baseFee     *uint256.Int
	lastGasUsed uint64
	blockNumber uint64

	blockGasLimit uint64
	targetGasUsed uint64
	changeDenom   uint64
	minBaseFee    *uint256.Int
	maxBaseFee    *uint256.Int
}

// FeeMarketConfig mirrors params.FeeConfig; it exists so callers outside the
// node wiring can construct a market directly.
type FeeMarketConfig struct {
	BlockGasLimit  uint64
	TargetGasUsed  uint64
	InitialBaseFee *uint256.Int
	ChangeDenom    uint64
	MinBaseFee     *uint256.Int
	MaxBaseFee     *uint256.Int
}

// NewFeeMarket creates a fee market from the configuration.
func NewFeeMarket(cfg FeeMarketConfig) *FeeMarket {
	return &FeeMarket{
		baseFee:       cfg.InitialBaseFee.Clone(),
		blockGasLimit: cfg.BlockGasLimit,
		targetGasUsed: cfg.TargetGasUsed,
		changeDenom:   cfg.ChangeDenom,
		minBaseFee:    cfg.MinBaseFee.Clone(),
		maxBaseFee:    cfg.MaxBaseFee.Clone(),
	}
}

// BaseFee returns the current base fee.
func (fm *FeeMarket) BaseFee() *uint256.Int {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.baseFee.Clone()
}

// BlockGasLimit returns the per-block gas budget.
func (fm *FeeMarket) BlockGasLimit() uint64 {
	return fm.blockGasLimit
}

// BlockNumber returns how many blocks have been applied.
func (fm *FeeMarket) BlockNumber() uint64 {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.blockNumber
}

// CalcNextBaseFee computes the base fee that follows a parent block using
// parentGasUsed gas:
//
//	at target:    unchanged
//	above target: +max(1, base*(used-target)/target/denominator)
//	below target: -base*(target-used)/target/denominator
//
// clamped to [minBaseFee, maxBaseFee].
func (fm *FeeMarket) CalcNextBaseFee(parentGasUsed uint64) *uint256.Int {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.calcNextBaseFee(parentGasUsed)
}

func (fm *FeeMarket) calcNextBaseFee(parentGasUsed uint64) *uint256.Int {
	target := fm.targetGasUsed
	if parentGasUsed == target {
		return fm.baseFee.Clone()
	}

	next := new(uint256.Int)
	if parentGasUsed > target {
		delta := new(uint256.Int).Mul(fm.baseFee, uint256.NewInt(parentGasUsed-target))
		delta.Div(delta, uint256.NewInt(target))
		delta.Div(delta, uint256.NewInt(fm.changeDenom))
		if delta.IsZero() {
			delta.SetOne()
		}
		if _, overflow := next.AddOverflow(fm.baseFee, delta); overflow {
			next.Set(fm.maxBaseFee)
		}
	} else {
		delta := new(uint256.Int).Mul(fm.baseFee, uint256.NewInt(target-parentGasUsed))
		delta.Div(delta, uint256.NewInt(target))
		delta.Div(delta, uint256.NewInt(fm.changeDenom))
		if delta.Gt(fm.baseFee) {
			next.Clear()
		} else {
			next.Sub(fm.baseFee, delta)
		}
	}

	if next.Lt(fm.minBaseFee) {
		next.Set(fm.minBaseFee)
	}
	if next.Gt(fm.maxBaseFee) {
		next.Set(fm.maxBaseFee)
	}
	return next
}

// OnBlockProduced folds a produced block's gas usage into the market.
func (fm *FeeMarket) OnBlockProduced(gasUsed uint64) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.baseFee = fm.calcNextBaseFee(gasUsed)
	fm.lastGasUsed = gasUsed
	fm.blockNumber++
}

// EffectiveGasPrice resolves a (maxFee, maxPriority) pair against the current
// base fee: price = base + min(maxPriority, maxFee - base). Transactions
// whose cap is below the base fee are rejected.
func (fm *FeeMarket) EffectiveGasPrice(maxFee, maxPriority *uint256.Int) (price, tip *uint256.Int, err error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	if maxFee.Lt(fm.baseFee) {
		return nil, nil, ErrFeeCapTooLow
	}
	tip = new(uint256.Int).Sub(maxFee, fm.baseFee)
	if maxPriority.Lt(tip) {
		tip.Set(maxPriority)
	}
	price, overflow := new(uint256.Int).AddOverflow(fm.baseFee, tip)
	if overflow {
		price.SetAllOne()
	}
	return price, tip, nil
}

// EstimateFastMaxFee suggests a cap for next-block inclusion (2x base).
func (fm *FeeMarket) EstimateFastMaxFee() *uint256.Int {
	base := fm.BaseFee()
	out, overflow := new(uint256.Int).AddOverflow(base, base)
	if overflow {
		out.SetAllOne()
	}
	return out
}

// EstimateNormalMaxFee suggests a cap for normal inclusion (1.5x base).
func (fm *FeeMarket) EstimateNormalMaxFee() *uint256.Int {
	base := fm.BaseFee()
	half := new(uint256.Int).Div(base, uint256.NewInt(2))
	return new(uint256.Int).Add(base, half)
}

// EstimateSlowMaxFee suggests a cap for eventual inclusion (1.1x base).
func (fm *FeeMarket) EstimateSlowMaxFee() *uint256.Int {
	base := fm.BaseFee()
	tenth := new(uint256.Int).Div(base, uint256.NewInt(10))
	return new(uint256.Int).Add(base, tenth)
}

// SuggestedPriorityFee proposes a tip from the last block's congestion, in
// whole gwei.
func (fm *FeeMarket) SuggestedPriorityFee() *uint256.Int {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	var gwei uint64
	switch {
	case fm.lastGasUsed > fm.targetGasUsed+fm.targetGasUsed/2:
		gwei = 5
	case fm.lastGasUsed > fm.targetGasUsed:
		gwei = 3
	case fm.lastGasUsed > fm.targetGasUsed/2:
		gwei = 2
	default:
		gwei = 1
	}
	return new(uint256.Int).Mul(uint256.NewInt(gwei), uint256.NewInt(1_000_000_000))
}
