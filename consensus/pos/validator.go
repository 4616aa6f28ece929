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

// Package pos implements the LuxTensor proof-of-stake consensus engine:
// stake-weighted VRF-seeded leader selection, validator rotation, slashing,
// the EIP-1559 fee market, and the emission/burn tokenomics that together
// produce per-block rewards.
package pos

import (
	"bytes"
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/luxtensor/go-luxtensor/crypto/vrf"
)

var (
	errValidatorExists   = errors.New("validator already exists")
	errValidatorUnknown  = errors.New("validator not found")
	errZeroStake         = errors.New("validator stake must be greater than zero")
	errNoActiveStake     = errors.New("no active stake to select from")
	errSlashExceedsStake = errors.New("slash amount exceeds stake")
)

// Validator is one staked participant.
type Validator struct {
	Address        common.Address
	Stake          *big.Int
	VrfPubkey      vrf.PublicKey // published at registration so peers can verify proofs
	Active         bool
	Rewards        *big.Int
	LastActiveSlot uint64
}

// NewValidator creates an active validator with zero rewards.
func NewValidator(addr common.Address, stake *big.Int, vrfPub vrf.PublicKey) *Validator {
	return &Validator{
		Address:   addr,
		Stake:     new(big.Int).Set(stake),
		VrfPubkey: vrfPub,
		Active:    true,
		Rewards:   new(big.Int),
	}
}

// ValidatorSet is the stake-weighted membership. totalStake caches the sum of
// active stake and is kept in lockstep with every mutation.
type ValidatorSet struct {
	mu         sync.RWMutex
	validators map[common.Address]*Validator
	totalStake *big.Int // Σ stake over active validators
}

// NewValidatorSet creates an empty set.
func NewValidatorSet() *ValidatorSet {
	return &ValidatorSet{
		validators: make(map[common.Address]*Validator),
		totalStake: new(big.Int),
	}
}

// Add inserts a new validator.
func (vs *ValidatorSet) Add(v *Validator) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, ok := vs.validators[v.Address]; ok {
		return errValidatorExists
	}
	if v.Stake.Sign() <= 0 {
		return errZeroStake
	}
	vs.validators[v.Address] = v
	if v.Active {
		vs.totalStake.Add(vs.totalStake, v.Stake)
	}
	return nil
}

// Remove deletes a validator.
func (vs *ValidatorSet) Remove(addr common.Address) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return errValidatorUnknown
	}
	if v.Active {
		vs.totalStake.Sub(vs.totalStake, v.Stake)
	}
	delete(vs.validators, addr)
	return nil
}

// UpdateStake replaces a validator's stake.
func (vs *ValidatorSet) UpdateStake(addr common.Address, newStake *big.Int) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return errValidatorUnknown
	}
	if v.Active {
		vs.totalStake.Sub(vs.totalStake, v.Stake)
		vs.totalStake.Add(vs.totalStake, newStake)
	}
	v.Stake = new(big.Int).Set(newStake)
	return nil
}

// Slash removes up to amount from a validator's stake and returns what was
// actually taken.
func (vs *ValidatorSet) Slash(addr common.Address, amount *big.Int) (*big.Int, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return nil, errValidatorUnknown
	}
	slashed := new(big.Int).Set(amount)
	if slashed.Cmp(v.Stake) > 0 {
		slashed.Set(v.Stake)
	}
	v.Stake.Sub(v.Stake, slashed)
	if v.Active {
		vs.totalStake.Sub(vs.totalStake, slashed)
	}
	return slashed, nil
}

// Deactivate jails a validator, removing its stake from the active total.
func (vs *ValidatorSet) Deactivate(addr common.Address) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return errValidatorUnknown
	}
	if v.Active {
		v.Active = false
		vs.totalStake.Sub(vs.totalStake, v.Stake)
	}
	return nil
}

// Activate unjails a validator.
func (vs *ValidatorSet) Activate(addr common.Address) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return errValidatorUnknown
	}
	if !v.Active {
		v.Active = true
		vs.totalStake.Add(vs.totalStake, v.Stake)
	}
	return nil
}

// UpdateLastActive records the most recent slot the validator produced in.
func (vs *ValidatorSet) UpdateLastActive(addr common.Address, slot uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return errValidatorUnknown
	}
	v.LastActiveSlot = slot
	return nil
}

// AddReward accumulates a block reward. The counter only increases.
func (vs *ValidatorSet) AddReward(addr common.Address, amount *big.Int) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return errValidatorUnknown
	}
	v.Rewards.Add(v.Rewards, amount)
	return nil
}

// Get returns a copy of the validator record.
func (vs *ValidatorSet) Get(addr common.Address) (*Validator, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	v, ok := vs.validators[addr]
	if !ok {
		return nil, false
	}
	return copyValidator(v), true
}

// Contains reports membership.
func (vs *ValidatorSet) Contains(addr common.Address) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	_, ok := vs.validators[addr]
	return ok
}

// Validators returns every validator in stable address order.
func (vs *ValidatorSet) Validators() []*Validator {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	out := make([]*Validator, 0, len(vs.validators))
	for _, v := range vs.validators {
		out = append(out, copyValidator(v))
	}
	sortByAddress(out)
	return out
}

// ActiveValidators returns the active subset in stable address order. The
// order is consensus critical: weighted selection walks it.
func (vs *ValidatorSet) ActiveValidators() []*Validator {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	out := make([]*Validator, 0, len(vs.validators))
	for _, v := range vs.validators {
		if v.Active {
			out = append(out, copyValidator(v))
		}
	}
	sortByAddress(out)
	return out
}

// TotalStake returns the cached sum of active stake.
func (vs *ValidatorSet) TotalStake() *big.Int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return new(big.Int).Set(vs.totalStake)
}

// Len returns the number of validators, active or not.
func (vs *ValidatorSet) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.validators)
}

// SelectBySeed performs stake-weighted selection: the low 128 bits of the
// seed, taken little-endian, modulo the total active stake give a target;
// the walk over active validators in address order accumulates stake until
// the target is strictly exceeded.
func (vs *ValidatorSet) SelectBySeed(seed common.Hash) (common.Address, error) {
	active := vs.ActiveValidators()
	if len(active) == 0 {
		return common.Address{}, errNoActiveStake
	}
	activeStake := new(big.Int)
	for _, v := range active {
		activeStake.Add(activeStake, v.Stake)
	}
	if activeStake.Sign() == 0 {
		return common.Address{}, errNoActiveStake
	}

	seedValue := new(big.Int)
	for i := 15; i >= 0; i-- {
		seedValue.Lsh(seedValue, 8)
		seedValue.Or(seedValue, big.NewInt(int64(seed[i])))
	}
	target := seedValue.Mod(seedValue, activeStake)

	accumulated := new(big.Int)
	for _, v := range active {
		accumulated.Add(accumulated, v.Stake)
		if accumulated.Cmp(target) > 0 {
			return v.Address, nil
		}
	}
	// Unreachable: the accumulated total always exceeds target mod total.
	return active[0].Address, nil
}

// VrfPubkeyOf returns the registered VRF public key for a validator.
func (vs *ValidatorSet) VrfPubkeyOf(addr common.Address) (vrf.PublicKey, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	v, ok := vs.validators[addr]
	if !ok {
		return vrf.PublicKey{}, false
	}
	return v.VrfPubkey, true
}

// CheckInvariant verifies the cached total equals the recomputed active sum,
// logging loudly on drift. Used by tests and the health callback.
func (vs *ValidatorSet) CheckInvariant() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	sum := new(big.Int)
	for _, v := range vs.validators {
		if v.Active {
			sum.Add(sum, v.Stake)
		}
	}
	if sum.Cmp(vs.totalStake) != 0 {
		log.Error("Validator set stake invariant violated", "cached", vs.totalStake, "actual", sum)
		return false
	}
	return true
}

func copyValidator(v *Validator) *Validator {
	return &Validator{
		Address:        v.Address,
		Stake:          new(big.Int).Set(v.Stake),
		VrfPubkey:      v.VrfPubkey,
		Active:         v.Active,
		Rewards:        new(big.Int).Set(v.Rewards),
		LastActiveSlot: v.LastActiveSlot,
	}
}

func sortByAddress(vals []*Validator) {
	sort.Slice(vals, func(i, j int) bool {
		return bytes.Compare(vals[i].Address[:], vals[j].Address[:]) < 0
	})
}
