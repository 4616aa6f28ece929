// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package pos

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxtensor/go-luxtensor/params"
)

func rotationConfig() *params.RotationConfig {
	return &params.RotationConfig{
		EpochLength:           32,
		ActivationDelayEpochs: 2,
		ExitDelayEpochs:       2,
		MaxValidators:         4,
		MinStake:              big.NewInt(1000),
	}
}

func TestRequestAddition(t *testing.T) {
	r := NewRotation(rotationConfig(), NewValidatorSet())

	epoch, err := r.RequestAddition(testValidator(1, 1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), epoch)
	assert.Equal(t, 1, r.PendingCount())

	_, err = r.RequestAddition(testValidator(1, 1000))
	assert.ErrorIs(t, err, errValidatorExists)
}

func TestRequestAdditionInsufficientStake(t *testing.T) {
	r := NewRotation(rotationConfig(), NewValidatorSet())
	_, err := r.RequestAddition(testValidator(1, 999))
	assert.ErrorIs(t, err, ErrInsufficientStake)
}

func TestActivationAtEpochBoundary(t *testing.T) {
	r := NewRotation(rotationConfig(), NewValidatorSet())
	_, err := r.RequestAddition(testValidator(1, 1000))
	require.NoError(t, err)

	// Too early: nothing activates.
	result := r.ProcessEpochTransition(1)
	assert.Empty(t, result.Activated)
	assert.Equal(t, 1, r.PendingCount())

	result = r.ProcessEpochTransition(2)
	require.Len(t, result.Activated, 1)
	assert.Equal(t, testAddr(1), result.Activated[0])
	assert.Equal(t, 0, r.PendingCount())
	assert.True(t, r.Validators().Contains(testAddr(1)))
}

func TestActivationOverflowRequeues(t *testing.T) {
	cfg := rotationConfig()
	cfg.MaxValidators = 2
	set := NewValidatorSet()
	require.NoError(t, set.Add(testValidator(10, 1000)))
	require.NoError(t, set.Add(testValidator(11, 1000)))

	r := NewRotation(cfg, set)
	_, err := r.RequestAddition(testValidator(1, 1000))
	require.NoError(t, err)

	result := r.ProcessEpochTransition(2)
	assert.Empty(t, result.Activated, "full set defers activation")
	assert.Equal(t, 1, r.PendingCount())

	// Once a slot frees up, the next boundary promotes the deferred entry.
	// Activations run before exits, so the slot freed at epoch 4 is taken at
	// epoch 5.
	_, err = r.RequestExit(testAddr(10))
	require.NoError(t, err)
	result = r.ProcessEpochTransition(4)
	assert.Contains(t, result.Exited, testAddr(10))
	result = r.ProcessEpochTransition(5)
	assert.Contains(t, result.Activated, testAddr(1))
}

func TestRequestExit(t *testing.T) {
	set := NewValidatorSet()
	require.NoError(t, set.Add(testValidator(1, 1000)))
	r := NewRotation(rotationConfig(), set)

	epoch, err := r.RequestExit(testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), epoch)
	assert.Equal(t, 1, r.ExitingCount())

	_, err = r.RequestExit(testAddr(1))
	assert.ErrorIs(t, err, ErrAlreadyExiting)

	_, err = r.RequestExit(testAddr(9))
	assert.ErrorIs(t, err, errValidatorUnknown)

	// Exit waits for its epoch.
	result := r.ProcessEpochTransition(1)
	assert.Empty(t, result.Exited)
	result = r.ProcessEpochTransition(2)
	require.Len(t, result.Exited, 1)
	assert.False(t, r.Validators().Contains(testAddr(1)))
}

func TestSlashSchedulesExitBelowMinimum(t *testing.T) {
	set := NewValidatorSet()
	require.NoError(t, set.Add(testValidator(1, 1000)))
	r := NewRotation(rotationConfig(), set)

	slashed, err := r.Slash(testAddr(1), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), slashed)
	assert.Equal(t, 1, r.ExitingCount(), "dropping below minimum schedules an exit")

	r.ProcessEpochTransition(2)
	assert.False(t, r.Validators().Contains(testAddr(1)))
}

func TestSlashAboveMinimumKeepsValidator(t *testing.T) {
	set := NewValidatorSet()
	require.NoError(t, set.Add(testValidator(1, 2000)))
	r := NewRotation(rotationConfig(), set)

	_, err := r.Slash(testAddr(1), big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, 0, r.ExitingCount())

	v, ok := r.Validators().Get(testAddr(1))
	require.True(t, ok)
	assert.Equal(t, big.NewInt(1500), v.Stake)
}

func TestGetStats(t *testing.T) {
	set := NewValidatorSet()
	require.NoError(t, set.Add(testValidator(1, 1000)))
	r := NewRotation(rotationConfig(), set)
	_, err := r.RequestAddition(testValidator(2, 1000))
	require.NoError(t, err)

	stats := r.GetStats()
	assert.Equal(t, 1, stats.ActiveValidators)
	assert.Equal(t, 1, stats.PendingValidators)
	assert.Equal(t, 0, stats.ExitingValidators)
	assert.Equal(t, big.NewInt(1000), stats.TotalStake)
}
