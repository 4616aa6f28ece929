// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package pos

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/luxtensor/go-luxtensor/params"
)

// Utility-score fixed point: scores live in [500, 1500] thousandths so the
// emission math never touches floating point.
const (
	utilityScoreFloor = 500
	utilityScoreScale = 1000
)

// UtilityMetrics feed the emission modulation. Each ratio saturates at 1.0
// independently before weighting.
type UtilityMetrics struct {
	ActiveValidators uint64
	ActiveSubnets    uint64
	EpochTxs         uint64
	EpochAITasks     uint64
	// BlockUtilization is the average fill ratio of recent blocks in percent.
	BlockUtilization uint8
}

// Score returns the utility score in thousandths, in [500, 1500]. The
// weighting is 30% validators, 20% transactions, 30% AI tasks, 20% block
// utilization, against targets of 100 validators, 10k txs and 1k tasks per
// epoch.
func (u UtilityMetrics) Score() uint64 {
	validatorScore := saturatedRatio(u.ActiveValidators, 100)
	txScore := saturatedRatio(u.EpochTxs, 10_000)
	aiScore := saturatedRatio(u.EpochAITasks, 1_000)
	utilization := uint64(u.BlockUtilization)
	if utilization > 100 {
		utilization = 100
	}
	utilScore := utilization * 10

	weighted := (3*validatorScore + 2*txScore + 3*aiScore + 2*utilScore) / 10
	return utilityScoreFloor + weighted
}

func saturatedRatio(value, target uint64) uint64 {
	if value >= target {
		return utilityScoreScale
	}
	return value * utilityScoreScale / target
}

// EmissionResult reports one block's minting.
type EmissionResult struct {
	Amount          *uint256.Int
	BlockHeight     uint64
	CurrentSupply   *uint256.Int
	HalvingEra      uint32
	HalvingOccurred bool
	UtilityScore    uint64
}

// EmissionController produces per-block emission under the halving schedule,
// modulated by network utility and capped by remaining supply.
type EmissionController struct {
	mu sync.Mutex

	config        *params.EmissionConfig
	currentSupply *uint256.Int
	halvingEra    uint32
}

// NewEmissionController creates a controller starting from zero supply.
func NewEmissionController(cfg *params.EmissionConfig) *EmissionController {
	if cfg == nil {
		cfg = params.DefaultEmissionConfig()
	}
	return &EmissionController{config: cfg, currentSupply: new(uint256.Int)}
}

// NewEmissionControllerWithSupply resumes from a persisted supply.
func NewEmissionControllerWithSupply(cfg *params.EmissionConfig, supply *uint256.Int) *EmissionController {
	ec := NewEmissionController(cfg)
	ec.currentSupply = supply.Clone()
	return ec
}

// BaseEmission returns the pre-modulation emission at a height:
// initialEmission >> (height / halvingInterval), floored at minEmission
// inside the halving schedule and zero beyond maxHalvings.
func (ec *EmissionController) BaseEmission(height uint64) *uint256.Int {
	halvings := height / ec.config.HalvingInterval
	if halvings > uint64(ec.config.MaxHalvings) {
		return new(uint256.Int)
	}
	emission := new(uint256.Int).Rsh(ec.config.InitialEmission, uint(halvings))
	if emission.Lt(ec.config.MinEmission) {
		return ec.config.MinEmission.Clone()
	}
	return emission
}

// AdjustedEmission applies the utility modulation
// base * (1 + (score-1)*weight/100) and caps by remaining supply.
func (ec *EmissionController) AdjustedEmission(height uint64, utility UtilityMetrics) *uint256.Int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.adjustedEmission(height, utility)
}

func (ec *EmissionController) adjustedEmission(height uint64, utility UtilityMetrics) *uint256.Int {
	base := ec.BaseEmission(height)
	score := utility.Score()
	weight := uint64(ec.config.UtilityWeight)

	// factor (thousandths) = 1000 + (score - 1000) * weight / 100.
	// score >= 500, weight <= 100, so the factor stays in [500, 1500].
	factor := int64(utilityScoreScale) + (int64(score)-int64(utilityScoreScale))*int64(weight)/100
	if factor < 0 {
		factor = 0
	}
	adjusted := new(uint256.Int).Mul(base, uint256.NewInt(uint64(factor)))
	adjusted.Div(adjusted, uint256.NewInt(utilityScoreScale))

	remaining := new(uint256.Int)
	if ec.config.MaxSupply.Gt(ec.currentSupply) {
		remaining.Sub(ec.config.MaxSupply, ec.currentSupply)
	}
	if adjusted.Gt(remaining) {
		adjusted.Set(remaining)
	}
	return adjusted
}

// ProcessBlock mints the block's emission, advancing supply and the halving
// era.
func (ec *EmissionController) ProcessBlock(height uint64, utility UtilityMetrics) EmissionResult {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	amount := ec.adjustedEmission(height, utility)
	supply, overflow := new(uint256.Int).AddOverflow(ec.currentSupply, amount)
	if overflow {
		supply.Set(ec.config.MaxSupply)
	}
	ec.currentSupply = supply

	era := uint32(height / ec.config.HalvingInterval)
	halved := era > ec.halvingEra
	if halved {
		ec.halvingEra = era
	}
	return EmissionResult{
		Amount:          amount,
		BlockHeight:     height,
		CurrentSupply:   ec.currentSupply.Clone(),
		HalvingEra:      ec.halvingEra,
		HalvingOccurred: halved,
		UtilityScore:    utility.Score(),
	}
}

// CurrentSupply returns the minted supply so far.
func (ec *EmissionController) CurrentSupply() *uint256.Int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.currentSupply.Clone()
}

// RemainingSupply returns what is left to mint.
func (ec *EmissionController) RemainingSupply() *uint256.Int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.config.MaxSupply.Lt(ec.currentSupply) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(ec.config.MaxSupply, ec.currentSupply)
}

// HalvingEra returns the current era (0 before the first halving).
func (ec *EmissionController) HalvingEra(height uint64) uint32 {
	era := uint32(height / ec.config.HalvingInterval)
	if era > ec.config.MaxHalvings {
		era = ec.config.MaxHalvings
	}
	return era
}

// BlocksUntilHalving returns the distance to the next halving boundary, zero
// once the schedule is exhausted.
func (ec *EmissionController) BlocksUntilHalving(height uint64) uint64 {
	era := ec.HalvingEra(height)
	if era >= ec.config.MaxHalvings {
		return 0
	}
	next := (uint64(era) + 1) * ec.config.HalvingInterval
	if next <= height {
		return 0
	}
	return next - height
}

// ProjectedTotalEmission sums the full halving schedule (geometric series
// truncated at the minimum-emission floor), ignoring utility modulation.
func (ec *EmissionController) ProjectedTotalEmission() *uint256.Int {
	total := new(uint256.Int)
	perEra := uint256.NewInt(ec.config.HalvingInterval)
	for era := uint32(0); era <= ec.config.MaxHalvings; era++ {
		reward := new(uint256.Int).Rsh(ec.config.InitialEmission, uint(era))
		if reward.Lt(ec.config.MinEmission) {
			reward = ec.config.MinEmission.Clone()
		}
		total.Add(total, new(uint256.Int).Mul(perEra, reward))
	}
	if total.Gt(ec.config.MaxSupply) {
		return ec.config.MaxSupply.Clone()
	}
	return total
}
