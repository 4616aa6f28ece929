// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package pos

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/luxtensor/go-luxtensor/core/types"
	"github.com/luxtensor/go-luxtensor/crypto/vrf"
	"github.com/luxtensor/go-luxtensor/params"
)

var (
	ErrWrongProducer   = errors.New("pos: wrong producer for slot")
	ErrMissingVrfProof = errors.New("pos: missing VRF proof")
	ErrUnknownVrfKey   = errors.New("pos: producer has no registered VRF key")
	ErrInvalidVrfProof = errors.New("pos: invalid VRF proof")
	ErrStakeOutOfRange = errors.New("pos: stake exceeds 128-bit range")
	ErrNoLocalVrfKey   = errors.New("pos: no local VRF key configured")
)

// RewardOutcome breaks down what a committed block paid its producer.
type RewardOutcome struct {
	Emission       *uint256.Int
	FeesBurned     *uint256.Int
	FeesToProducer *uint256.Int
	TotalReward    *uint256.Int
}

// Engine is the proof-of-stake consensus engine. It owns no I/O: blocks
// arrive through the node's ingest path and leave through the miner; the
// engine answers who leads a slot, whether a producer is legitimate, and
// what a committed block earns.
//
// Every collaborator is constructor-injected; nothing reads ambient state.
type Engine struct {
	config    *params.ConsensusConfig
	rotation  *Rotation
	feeMarket *FeeMarket
	emission  *EmissionController
	burn      *BurnManager

	mu                sync.RWMutex
	currentEpoch      uint64
	lastFinalizedHash common.Hash

	localValidator common.Address
	localVrfKey    *vrf.SecretKey
}

// New creates the engine from its injected collaborators.
func New(cfg *params.ConsensusConfig, rotation *Rotation, feeMarket *FeeMarket, emission *EmissionController, burn *BurnManager) *Engine {
	if cfg == nil {
		cfg = params.DefaultConsensusConfig()
	}
	return &Engine{
		config:    cfg,
		rotation:  rotation,
		feeMarket: feeMarket,
		emission:  emission,
		burn:      burn,
	}
}

// Config returns the consensus parameters.
func (e *Engine) Config() *params.ConsensusConfig { return e.config }

// Validators returns the live validator set.
func (e *Engine) Validators() *ValidatorSet { return e.rotation.Validators() }

// Rotation returns the rotation manager.
func (e *Engine) Rotation() *Rotation { return e.rotation }

// FeeMarket returns the fee market.
func (e *Engine) FeeMarket() *FeeMarket { return e.feeMarket }

// Emission returns the emission controller.
func (e *Engine) Emission() *EmissionController { return e.emission }

// Burn returns the burn manager.
func (e *Engine) Burn() *BurnManager { return e.burn }

// SetLocalValidator configures this node's producer identity and VRF secret.
func (e *Engine) SetLocalValidator(addr common.Address, key *vrf.SecretKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localValidator = addr
	e.localVrfKey = key
	log.Info("Validator identity configured", "address", addr, "vrf", key != nil)
}

// LocalValidator returns the configured producer address.
func (e *Engine) LocalValidator() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.localValidator
}

// SlotOf maps a timestamp to its slot.
func (e *Engine) SlotOf(timestamp uint64) uint64 {
	if timestamp < e.config.GenesisTime {
		return 0
	}
	return (timestamp - e.config.GenesisTime) / e.config.SlotDuration
}

// EpochOf maps a slot to its epoch.
func (e *Engine) EpochOf(slot uint64) uint64 {
	return slot / e.config.EpochLength
}

// SlotStart returns the wall-clock second a slot opens.
func (e *Engine) SlotStart(slot uint64) uint64 {
	return e.config.GenesisTime + slot*e.config.SlotDuration
}

// UpdateLastFinalized feeds the latest finalized hash into future seeds. The
// finalized term is what keeps a prospective leader from predicting seeds
// ahead of finality.
func (e *Engine) UpdateLastFinalized(hash common.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFinalizedHash = hash
}

// ComputeSeed derives the slot seed:
// Keccak256(epoch_le || slot_le || lastFinalizedHash).
func (e *Engine) ComputeSeed(slot uint64) common.Hash {
	e.mu.RLock()
	lastHash := e.lastFinalizedHash
	e.mu.RUnlock()

	buf := make([]byte, 0, 48)
	buf = binary.LittleEndian.AppendUint64(buf, e.EpochOf(slot))
	buf = binary.LittleEndian.AppendUint64(buf, slot)
	buf = append(buf, lastHash.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// SelectLeader returns the validator expected to produce the slot's block.
func (e *Engine) SelectLeader(slot uint64) (common.Address, error) {
	return e.Validators().SelectBySeed(e.ComputeSeed(slot))
}

// IsLocalTurn reports whether this node leads the slot.
func (e *Engine) IsLocalTurn(slot uint64) bool {
	leader, err := e.SelectLeader(slot)
	if err != nil {
		return false
	}
	local := e.LocalValidator()
	return local != (common.Address{}) && leader == local
}

// ProveLeadership produces the VRF proof over the slot seed with the local
// key. The proof rides in the block header.
func (e *Engine) ProveLeadership(slot uint64) ([]byte, error) {
	e.mu.RLock()
	key := e.localVrfKey
	e.mu.RUnlock()
	if key == nil {
		return nil, ErrNoLocalVrfKey
	}
	seed := e.ComputeSeed(slot)
	proof, _, err := vrf.Prove(*key, seed.Bytes())
	return proof, err
}

// VerifyProducer validates that a block header was produced by the slot's
// legitimate leader: the leader matches the seed-weighted selection, the
// header signature recovers to it, and (when required or attached) the VRF
// proof verifies under the producer's registered key.
//
// The stake-weighted fallback without a proof is for development networks
// only; with RequireVRF set a proofless block is rejected outright.
func (e *Engine) VerifyProducer(header *types.Header) error {
	slot := e.SlotOf(header.Timestamp)
	expected, err := e.SelectLeader(slot)
	if err != nil {
		return err
	}
	if header.Validator != expected {
		return fmt.Errorf("%w: slot %d expects %s, got %s", ErrWrongProducer, slot, expected, header.Validator)
	}
	if err := header.VerifySignature(); err != nil {
		return err
	}

	if header.VrfProof == nil {
		if e.config.RequireVRF {
			return fmt.Errorf("%w: block %d", ErrMissingVrfProof, header.Height)
		}
		return nil
	}
	pubkey, ok := e.Validators().VrfPubkeyOf(header.Validator)
	if !ok || pubkey == (vrf.PublicKey{}) {
		return fmt.Errorf("%w: %s", ErrUnknownVrfKey, header.Validator)
	}
	seed := e.ComputeSeed(slot)
	if _, err := vrf.Verify(pubkey, header.VrfProof, seed.Bytes()); err != nil {
		return fmt.Errorf("%w: block %d: %v", ErrInvalidVrfProof, header.Height, err)
	}
	return nil
}

// RegisterValidator stakes a new validator through the rotation queue.
func (e *Engine) RegisterValidator(addr common.Address, stake *big.Int, vrfPub vrf.PublicKey) (uint64, error) {
	return e.rotation.RequestAddition(NewValidator(addr, stake, vrfPub))
}

// OnBlockCommit settles a committed block: mints emission, burns the fee
// share, pays the producer, updates fee market state and advances the epoch
// when the slot crosses a boundary. All arithmetic saturates.
func (e *Engine) OnBlockCommit(header *types.Header, feesPaid *uint256.Int, utility UtilityMetrics) (*RewardOutcome, error) {
	minted := e.emission.ProcessBlock(header.Height, utility)
	burned, remaining := e.burn.BurnTxFee(feesPaid, header.Height)

	total, overflow := new(uint256.Int).AddOverflow(minted.Amount, remaining)
	if overflow {
		total.SetAllOne()
	}
	if err := e.Validators().AddReward(header.Validator, total.ToBig()); err != nil {
		return nil, err
	}
	slot := e.SlotOf(header.Timestamp)
	if err := e.Validators().UpdateLastActive(header.Validator, slot); err != nil {
		return nil, err
	}
	e.feeMarket.OnBlockProduced(header.GasUsed)

	if epoch := e.EpochOf(slot); epoch > e.CurrentEpoch() {
		e.advanceEpoch(epoch)
	}
	if minted.HalvingOccurred {
		log.Info("Emission halved", "era", minted.HalvingEra, "height", header.Height)
	}
	return &RewardOutcome{
		Emission:       minted.Amount,
		FeesBurned:     burned,
		FeesToProducer: remaining,
		TotalReward:    total,
	}, nil
}

// CurrentEpoch returns the engine's epoch counter.
func (e *Engine) CurrentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentEpoch
}

func (e *Engine) advanceEpoch(epoch uint64) {
	e.mu.Lock()
	e.currentEpoch = epoch
	e.mu.Unlock()

	result := e.rotation.ProcessEpochTransition(epoch)
	if len(result.Activated) > 0 || len(result.Exited) > 0 {
		log.Info("Epoch rotation applied",
			"epoch", epoch,
			"activated", len(result.Activated),
			"exited", len(result.Exited))
	}
}

// Slash penalises a validator by a basis-point fraction of its stake, burns
// the configured share, and schedules an involuntary exit if the remainder
// falls below the minimum.
func (e *Engine) Slash(addr common.Address, fractionBps uint64, height uint64, reason string) (*uint256.Int, error) {
	v, ok := e.Validators().Get(addr)
	if !ok {
		return nil, errValidatorUnknown
	}
	amount := new(big.Int).Mul(v.Stake, new(big.Int).SetUint64(fractionBps))
	amount.Div(amount, big.NewInt(10_000))

	slashed, err := e.rotation.Slash(addr, amount)
	if err != nil {
		return nil, err
	}
	slashed256, overflow := uint256.FromBig(slashed)
	if overflow {
		return nil, ErrStakeOutOfRange
	}
	burned, _ := e.burn.BurnSlashing(slashed256, height, addr)
	log.Warn("Validator slashed",
		"validator", addr,
		"slashed", slashed,
		"burned", burned,
		"reason", reason)
	return slashed256, nil
}
