// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.

package pos

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxtensor/go-luxtensor/crypto/vrf"
)

func testAddr(b byte) common.Address {
	var addr common.Address
	addr[0] = b
	return addr
}

func testValidator(b byte, stake int64) *Validator {
	return NewValidator(testAddr(b), big.NewInt(stake), vrf.PublicKey{})
}

func TestValidatorSetAddRemove(t *testing.T) {
	vs := NewValidatorSet()
	assert.Equal(t, 0, vs.Len())

	require.NoError(t, vs.Add(testValidator(1, 1000)))
	assert.Equal(t, 1, vs.Len())
	assert.Equal(t, big.NewInt(1000), vs.TotalStake())

	assert.ErrorIs(t, vs.Add(testValidator(1, 500)), errValidatorExists)
	assert.ErrorIs(t, vs.Add(testValidator(2, 0)), errZeroStake)

	require.NoError(t, vs.Remove(testAddr(1)))
	assert.Equal(t, 0, vs.Len())
	assert.Equal(t, big.NewInt(0), vs.TotalStake())
	assert.ErrorIs(t, vs.Remove(testAddr(1)), errValidatorUnknown)
}

func TestUpdateStakeKeepsTotal(t *testing.T) {
	vs := NewValidatorSet()
	require.NoError(t, vs.Add(testValidator(1, 1000)))
	require.NoError(t, vs.UpdateStake(testAddr(1), big.NewInt(2000)))
	assert.Equal(t, big.NewInt(2000), vs.TotalStake())
	assert.True(t, vs.CheckInvariant())
}

func TestSlashCapsAtStake(t *testing.T) {
	vs := NewValidatorSet()
	require.NoError(t, vs.Add(testValidator(1, 1000)))

	slashed, err := vs.Slash(testAddr(1), big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(400), slashed)
	assert.Equal(t, big.NewInt(600), vs.TotalStake())

	slashed, err = vs.Slash(testAddr(1), big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(600), slashed, "slash is capped at remaining stake")
	assert.Equal(t, big.NewInt(0), vs.TotalStake())
	assert.True(t, vs.CheckInvariant())
}

func TestDeactivateActivateTotalStake(t *testing.T) {
	// Total stake tracks the active subset only.
	vs := NewValidatorSet()
	require.NoError(t, vs.Add(testValidator(1, 1000)))
	require.NoError(t, vs.Add(testValidator(2, 2000)))
	assert.Equal(t, big.NewInt(3000), vs.TotalStake())

	require.NoError(t, vs.Deactivate(testAddr(2)))
	assert.Equal(t, big.NewInt(1000), vs.TotalStake())
	assert.Len(t, vs.ActiveValidators(), 1)
	assert.True(t, vs.CheckInvariant())

	require.NoError(t, vs.Activate(testAddr(2)))
	assert.Equal(t, big.NewInt(3000), vs.TotalStake())

	// Both operations are idempotent.
	require.NoError(t, vs.Activate(testAddr(2)))
	assert.Equal(t, big.NewInt(3000), vs.TotalStake())
}

func TestValidatorsStableOrder(t *testing.T) {
	vs := NewValidatorSet()
	for _, b := range []byte{9, 3, 7, 1} {
		require.NoError(t, vs.Add(testValidator(b, 100)))
	}
	vals := vs.Validators()
	require.Len(t, vals, 4)
	for i := 1; i < len(vals); i++ {
		assert.True(t, vals[i-1].Address[0] < vals[i].Address[0], "address order must be ascending")
	}
}

func TestSelectBySeedDeterministic(t *testing.T) {
	vs := NewValidatorSet()
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, vs.Add(testValidator(i, int64(i)*1000)))
	}
	seed := common.Hash{0x42}
	first, err := vs.SelectBySeed(seed)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := vs.SelectBySeed(seed)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelectBySeedWeighting(t *testing.T) {
	// A validator holding ~97% of stake must win the overwhelming majority
	// of seeds.
	vs := NewValidatorSet()
	require.NoError(t, vs.Add(testValidator(1, 30_000)))
	require.NoError(t, vs.Add(testValidator(2, 1_000)))

	wins := 0
	for i := 0; i < 200; i++ {
		var seed common.Hash
		seed[0], seed[1] = byte(i), byte(i>>4)
		seed[20] = byte(i * 7)
		selected, err := vs.SelectBySeed(seed)
		require.NoError(t, err)
		if selected == testAddr(1) {
			wins++
		}
	}
	assert.Greater(t, wins, 150, "heavy staker won only %d/200", wins)
}

func TestSelectBySeedSkipsInactive(t *testing.T) {
	vs := NewValidatorSet()
	require.NoError(t, vs.Add(testValidator(1, 1000)))
	require.NoError(t, vs.Add(testValidator(2, 1_000_000)))
	require.NoError(t, vs.Deactivate(testAddr(2)))

	for i := 0; i < 20; i++ {
		selected, err := vs.SelectBySeed(common.Hash{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, testAddr(1), selected)
	}
}

func TestSelectBySeedEmptySet(t *testing.T) {
	vs := NewValidatorSet()
	_, err := vs.SelectBySeed(common.Hash{})
	assert.ErrorIs(t, err, errNoActiveStake)
}

func TestAddRewardMonotonic(t *testing.T) {
	vs := NewValidatorSet()
	require.NoError(t, vs.Add(testValidator(1, 1000)))
	require.NoError(t, vs.AddReward(testAddr(1), big.NewInt(50)))
	require.NoError(t, vs.AddReward(testAddr(1), big.NewInt(25)))

	v, ok := vs.Get(testAddr(1))
	require.True(t, ok)
	assert.Equal(t, big.NewInt(75), v.Rewards)
}

func TestGetReturnsCopy(t *testing.T) {
	vs := NewValidatorSet()
	require.NoError(t, vs.Add(testValidator(1, 1000)))
	v, ok := vs.Get(testAddr(1))
	require.True(t, ok)
	v.Stake.SetInt64(0)

	fresh, _ := vs.Get(testAddr(1))
	assert.Equal(t, big.NewInt(1000), fresh.Stake, "mutating a copy must not touch the set")
}
