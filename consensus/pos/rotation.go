// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package pos

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/luxtensor/go-luxtensor/params"
)

var (
	ErrInsufficientStake = errors.New("pos: stake below minimum")
	ErrAlreadyExiting    = errors.New("pos: validator already scheduled to exit")
)

// pendingValidator is a registration waiting out the activation delay.
type pendingValidator struct {
	validator       *Validator
	activationEpoch uint64
}

// EpochTransitionResult reports what an epoch boundary changed.
type EpochTransitionResult struct {
	Activated []common.Address
	Exited    []common.Address
	NewEpoch  uint64
}

// Rotation separates joining validators (activation queue) from leaving ones
// (exit queue) and applies both at epoch boundaries.
type Rotation struct {
	mu sync.Mutex

	current *ValidatorSet
	pending map[common.Address]*pendingValidator
	exiting map[common.Address]uint64 // address -> exit epoch

	config       *params.RotationConfig
	currentEpoch uint64
}

// NewRotation creates a rotation manager over an existing validator set.
func NewRotation(cfg *params.RotationConfig, current *ValidatorSet) *Rotation {
	if cfg == nil {
		cfg = params.DefaultRotationConfig()
	}
	return &Rotation{
		current: current,
		pending: make(map[common.Address]*pendingValidator),
		exiting: make(map[common.Address]uint64),
		config:  cfg,
	}
}

// Validators returns the live set.
func (r *Rotation) Validators() *ValidatorSet {
	return r.current
}

// RequestAddition queues a validator for activation and returns the epoch it
// becomes active.
func (r *Rotation) RequestAddition(v *Validator) (uint64, error) {
	if v.Stake.Cmp(r.config.MinStake) < 0 {
		return 0, fmt.Errorf("%w: have %s, need %s", ErrInsufficientStake, v.Stake, r.config.MinStake)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.Contains(v.Address) {
		return 0, errValidatorExists
	}
	if _, ok := r.pending[v.Address]; ok {
		return 0, errValidatorExists
	}
	activationEpoch := r.currentEpoch + r.config.ActivationDelayEpochs
	r.pending[v.Address] = &pendingValidator{validator: v, activationEpoch: activationEpoch}
	log.Info("Validator queued for activation", "validator", v.Address, "activationEpoch", activationEpoch)
	return activationEpoch, nil
}

// RequestExit queues a voluntary exit and returns the epoch it takes effect.
func (r *Rotation) RequestExit(addr common.Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.current.Contains(addr) {
		return 0, errValidatorUnknown
	}
	if _, ok := r.exiting[addr]; ok {
		return 0, ErrAlreadyExiting
	}
	exitEpoch := r.currentEpoch + r.config.ExitDelayEpochs
	r.exiting[addr] = exitEpoch
	log.Info("Validator queued for exit", "validator", addr, "exitEpoch", exitEpoch)
	return exitEpoch, nil
}

// ProcessEpochTransition advances to newEpoch: due pending validators are
// promoted (overflow beyond maxValidators is requeued one epoch out), then
// due exits are processed. Queues are walked in address order so every node
// applies the same sequence.
func (r *Rotation) ProcessEpochTransition(newEpoch uint64) EpochTransitionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentEpoch = newEpoch

	result := EpochTransitionResult{NewEpoch: newEpoch}

	for _, addr := range sortedKeys(r.pending) {
		pending := r.pending[addr]
		if pending.activationEpoch > newEpoch {
			continue
		}
		if r.current.Len() >= r.config.MaxValidators {
			pending.activationEpoch = newEpoch + 1
			log.Warn("Activation deferred, validator set full", "validator", addr, "retryEpoch", pending.activationEpoch)
			continue
		}
		if err := r.current.Add(pending.validator); err != nil {
			log.Error("Failed to activate validator", "validator", addr, "err", err)
			delete(r.pending, addr)
			continue
		}
		delete(r.pending, addr)
		result.Activated = append(result.Activated, addr)
		log.Info("Validator activated", "validator", addr, "epoch", newEpoch)
	}

	for _, addr := range sortedKeys(r.exiting) {
		if r.exiting[addr] > newEpoch {
			continue
		}
		if err := r.current.Remove(addr); err != nil {
			log.Error("Failed to exit validator", "validator", addr, "err", err)
		}
		delete(r.exiting, addr)
		result.Exited = append(result.Exited, addr)
		log.Info("Validator exited", "validator", addr, "epoch", newEpoch)
	}
	return result
}

// Slash reduces a validator's stake; dropping below the minimum schedules an
// involuntary exit at the usual delay.
func (r *Rotation) Slash(addr common.Address, amount *big.Int) (*big.Int, error) {
	slashed, err := r.current.Slash(addr, amount)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.current.Get(addr)
	if ok && v.Stake.Cmp(r.config.MinStake) < 0 {
		if _, exiting := r.exiting[addr]; !exiting {
			exitEpoch := r.currentEpoch + r.config.ExitDelayEpochs
			r.exiting[addr] = exitEpoch
			log.Warn("Validator stake below minimum, exit scheduled",
				"validator", addr, "stake", v.Stake, "exitEpoch", exitEpoch)
		}
	}
	return slashed, nil
}

// CurrentEpoch returns the rotation's epoch counter.
func (r *Rotation) CurrentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentEpoch
}

// PendingCount returns the activation queue length.
func (r *Rotation) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ExitingCount returns the exit queue length.
func (r *Rotation) ExitingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exiting)
}

// Stats is a rotation snapshot for observability.
type Stats struct {
	CurrentEpoch      uint64
	ActiveValidators  int
	PendingValidators int
	ExitingValidators int
	TotalStake        *big.Int
}

// GetStats returns a snapshot.
func (r *Rotation) GetStats() Stats {
	r.mu.Lock()
	pending, exiting, epoch := len(r.pending), len(r.exiting), r.currentEpoch
	r.mu.Unlock()
	return Stats{
		CurrentEpoch:      epoch,
		ActiveValidators:  len(r.current.ActiveValidators()),
		PendingValidators: pending,
		ExitingValidators: exiting,
		TotalStake:        r.current.TotalStake(),
	}
}

func sortedKeys[V any](m map[common.Address]V) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for addr := range m {
		keys = append(keys, addr)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}
