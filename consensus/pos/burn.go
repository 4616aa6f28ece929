// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package pos

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/luxtensor/go-luxtensor/params"
)

// BurnType labels the four burn categories.
type BurnType uint8

const (
	BurnTxFee BurnType = iota
	BurnSubnetRegistration
	BurnUnmetQuota
	BurnSlashing
)

func (t BurnType) String() string {
	switch t {
	case BurnTxFee:
		return "tx-fee"
	case BurnSubnetRegistration:
		return "subnet-registration"
	case BurnUnmetQuota:
		return "unmet-quota"
	case BurnSlashing:
		return "slashing"
	default:
		return "unknown"
	}
}

// BurnEvent records one burn.
type BurnEvent struct {
	Type        BurnType
	Amount      *uint256.Int
	BlockHeight uint64
	Source      *common.Address
}

// BurnStats is a read-only totals snapshot. No counter ever decreases.
type BurnStats struct {
	TotalBurned      *uint256.Int
	TxFeeBurned      *uint256.Int
	SubnetBurned     *uint256.Int
	QuotaBurned      *uint256.Int
	SlashingBurned   *uint256.Int
	RecycledToGrants *uint256.Int
}

// maxBurnEvents bounds the in-memory event ring.
const maxBurnEvents = 4096

// BurnManager accumulates the four burn categories. Rates are basis points
// so the split is exact integer arithmetic; for input x the burn is
// floor(x*rate/10000).
type BurnManager struct {
	mu sync.RWMutex

	config *params.BurnConfig

	totalBurned      *uint256.Int
	txFeeBurned      *uint256.Int
	subnetBurned     *uint256.Int
	quotaBurned      *uint256.Int
	slashingBurned   *uint256.Int
	recycledToGrants *uint256.Int

	events []BurnEvent
}

// NewBurnManager creates a manager with zeroed counters.
func NewBurnManager(cfg *params.BurnConfig) *BurnManager {
	if cfg == nil {
		cfg = params.DefaultBurnConfig()
	}
	return &BurnManager{
		config:           cfg,
		totalBurned:      new(uint256.Int),
		txFeeBurned:      new(uint256.Int),
		subnetBurned:     new(uint256.Int),
		quotaBurned:      new(uint256.Int),
		slashingBurned:   new(uint256.Int),
		recycledToGrants: new(uint256.Int),
	}
}

func burnShare(amount *uint256.Int, bps uint64) *uint256.Int {
	out := new(uint256.Int).Mul(amount, uint256.NewInt(bps))
	return out.Div(out, uint256.NewInt(10_000))
}

// BurnTxFee splits a transaction fee into (burned, remaining-for-producer).
func (bm *BurnManager) BurnTxFee(fee *uint256.Int, height uint64) (burned, remaining *uint256.Int) {
	burned = burnShare(fee, bm.config.TxFeeBurnBps)
	remaining = new(uint256.Int).Sub(fee, burned)

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.txFeeBurned.Add(bm.txFeeBurned, burned)
	bm.totalBurned.Add(bm.totalBurned, burned)
	bm.recordEvent(BurnEvent{Type: BurnTxFee, Amount: burned.Clone(), BlockHeight: height})
	return burned, remaining
}

// BurnSubnetRegistration burns the configured fraction of a registration fee
// and credits the rest to the grants counter (paid out by the treasury
// collaborator).
func (bm *BurnManager) BurnSubnetRegistration(fee *uint256.Int, height uint64, owner common.Address) (burned, recycled *uint256.Int) {
	burned = burnShare(fee, bm.config.SubnetBurnBps)
	recycled = new(uint256.Int).Sub(fee, burned)

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.subnetBurned.Add(bm.subnetBurned, burned)
	bm.totalBurned.Add(bm.totalBurned, burned)
	bm.recycledToGrants.Add(bm.recycledToGrants, recycled)
	bm.recordEvent(BurnEvent{Type: BurnSubnetRegistration, Amount: burned.Clone(), BlockHeight: height, Source: &owner})
	return burned, recycled
}

// BurnUnmetQuota burns the configured fraction of an unmet-quota penalty.
func (bm *BurnManager) BurnUnmetQuota(amount *uint256.Int, height uint64, participant common.Address) *uint256.Int {
	burned := burnShare(amount, bm.config.UnmetQuotaBurnBps)

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.quotaBurned.Add(bm.quotaBurned, burned)
	bm.totalBurned.Add(bm.totalBurned, burned)
	bm.recordEvent(BurnEvent{Type: BurnUnmetQuota, Amount: burned.Clone(), BlockHeight: height, Source: &participant})
	return burned
}

// BurnSlashing splits slashed stake into (burned, remaining-for-treasury).
func (bm *BurnManager) BurnSlashing(amount *uint256.Int, height uint64, validator common.Address) (burned, remaining *uint256.Int) {
	burned = burnShare(amount, bm.config.SlashingBurnBps)
	remaining = new(uint256.Int).Sub(amount, burned)

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.slashingBurned.Add(bm.slashingBurned, burned)
	bm.totalBurned.Add(bm.totalBurned, burned)
	bm.recordEvent(BurnEvent{Type: BurnSlashing, Amount: burned.Clone(), BlockHeight: height, Source: &validator})
	log.Warn("Slashed stake burned", "validator", validator, "burned", burned, "height", height)
	return burned, remaining
}

// recordEvent appends to the ring when the amount is non-zero; caller holds
// the write lock.
func (bm *BurnManager) recordEvent(ev BurnEvent) {
	if ev.Amount.IsZero() {
		return
	}
	bm.events = append(bm.events, ev)
	if len(bm.events) > maxBurnEvents {
		bm.events = bm.events[len(bm.events)-maxBurnEvents:]
	}
}

// GetStats returns the counter snapshot.
func (bm *BurnManager) GetStats() BurnStats {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return BurnStats{
		TotalBurned:      bm.totalBurned.Clone(),
		TxFeeBurned:      bm.txFeeBurned.Clone(),
		SubnetBurned:     bm.subnetBurned.Clone(),
		QuotaBurned:      bm.quotaBurned.Clone(),
		SlashingBurned:   bm.slashingBurned.Clone(),
		RecycledToGrants: bm.recycledToGrants.Clone(),
	}
}

// TotalBurned returns the grand total.
func (bm *BurnManager) TotalBurned() *uint256.Int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.totalBurned.Clone()
}

// RecycledToGrants returns the grants counter.
func (bm *BurnManager) RecycledToGrants() *uint256.Int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.recycledToGrants.Clone()
}

// RecentEvents returns up to count most recent events, newest first.
func (bm *BurnManager) RecentEvents(count int) []BurnEvent {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	if count > len(bm.events) {
		count = len(bm.events)
	}
	out := make([]BurnEvent, 0, count)
	for i := len(bm.events) - 1; i >= len(bm.events)-count; i-- {
		out = append(out, bm.events[i])
	}
	return out
}
