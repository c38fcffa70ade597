package pool

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolscope/internal/fixedpoint"
)

func TestTierTableRate(t *testing.T) {
	tiers := DefaultTiers()

	testCases := []struct {
		name    string
		seconds uint64
		want    string
	}{
		{name: "zero clamps to first tier", seconds: 0, want: "0.05"},
		{name: "below first tier", seconds: 7 * SecondsPerDay, want: "0.05"},
		{name: "exact 14d", seconds: 14 * SecondsPerDay, want: "0.05"},
		{name: "exact 31d", seconds: 31 * SecondsPerDay, want: "0.12"},
		{name: "exact 90d", seconds: 90 * SecondsPerDay, want: "0.4"},
		{name: "exact 180d", seconds: 180 * SecondsPerDay, want: "0.85"},
		{name: "exact 365d", seconds: 365 * SecondsPerDay, want: "1.8"},
		{name: "midpoint 14d-31d", seconds: (14 + 31) * SecondsPerDay / 2, want: "0.085"},
		{name: "midpoint 90d-180d", seconds: 135 * SecondsPerDay, want: "0.625"},
		{name: "above last tier", seconds: 1000 * SecondsPerDay, want: "1.8"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fixedpoint.Format(tiers.Rate(tc.seconds)))
		})
	}
}

func TestTierTableRateDecreasing(t *testing.T) {
	tiers, err := ParseTiers("10=0.5,20=0.1")
	require.NoError(t, err)

	assert.Equal(t, "0.3", fixedpoint.Format(tiers.Rate(15*SecondsPerDay)))
	assert.Equal(t, "0.1", fixedpoint.Format(tiers.Rate(40*SecondsPerDay)))
}

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers(" 90=0.40, 14=0.05 ,31=0.12")
	require.NoError(t, err)
	assert.Equal(t, "14d=0.05,31d=0.12,90d=0.4", tiers.String())

	for _, input := range []string{"", "14", "x=0.1", "14=abc", "14=0.1,14=0.2", "-1=0.1"} {
		_, err := ParseTiers(input)
		assert.ErrorIs(t, err, ErrInvalidTiers, "input %q", input)
	}
}

func TestTiersReturnsCopy(t *testing.T) {
	tiers := DefaultTiers()
	copied := tiers.Tiers()
	copied[0].Rate.SetUint64(0)

	assert.Equal(t, "0.05", fixedpoint.Format(tiers.Rate(0)))
}

func expectedReward(balanceSeconds *big.Int, rate *uint256.Int) *big.Int {
	reward := new(big.Int).Mul(balanceSeconds, rate.ToBig())
	reward.Quo(reward, fixedpoint.One.ToBig())
	return reward.Quo(reward, big.NewInt(SecondsPerYear))
}

func TestAccrueIsTimeWeighted(t *testing.T) {
	history := []checkpoint{
		{timestamp: 0, balance: units(100)},
		{timestamp: 50, balance: units(200)},
	}

	got, err := accrue(history, 0, 100, fixedpoint.One)
	require.NoError(t, err)

	// 100 for 50s then 200 for 50s.
	assert.Equal(t, expectedReward(units(15000).ToBig(), fixedpoint.One).String(), got.Dec())

	latestOnly := expectedReward(new(big.Int).Mul(units(200).ToBig(), big.NewInt(100)), fixedpoint.One)
	assert.Equal(t, -1, got.ToBig().Cmp(latestOnly))
}

func TestAccrueUsesBalanceInEffectAtWindowStart(t *testing.T) {
	history := []checkpoint{
		{timestamp: 0, balance: units(100)},
		{timestamp: 10, balance: units(40)},
		{timestamp: 200, balance: units(0)},
	}

	got, err := accrue(history, 50, 150, fixedpoint.One)
	require.NoError(t, err)

	balanceSeconds := new(big.Int).Mul(units(40).ToBig(), big.NewInt(100))
	assert.Equal(t, expectedReward(balanceSeconds, fixedpoint.One).String(), got.Dec())
}

func TestAccrueWithoutHistoryIsZero(t *testing.T) {
	got, err := accrue(nil, 0, 100, fixedpoint.One)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	// History that starts after the window ends.
	got, err = accrue([]checkpoint{{timestamp: 500, balance: units(1)}}, 0, 100, fixedpoint.One)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = accrue([]checkpoint{{timestamp: 0, balance: units(1)}}, 100, 100, fixedpoint.One)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestCalculateRewardsUnknownHolder(t *testing.T) {
	s := seededState(t, 100, 100)

	got, err := s.calculateRewards(bob, 90*SecondsPerDay, t0.Unix()+90*SecondsPerDay, DefaultTiers())
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestLockedFor90DaysEarnsAt40Percent(t *testing.T) {
	s := seededState(t, 100, 100)
	start := t0.Unix()

	created, err := s.lockPosition(alice, 90*SecondsPerDay, start, DefaultTiers())
	require.NoError(t, err)
	assert.Equal(t, "0.4", fixedpoint.Format(created.rate))
	assert.Equal(t, start+90*SecondsPerDay, created.end)

	want := expectedReward(new(big.Int).Mul(units(100).ToBig(), big.NewInt(90*SecondsPerDay)), fixedpoint.MustParse("0.4"))

	got, err := s.lockedRewards(alice, start+90*SecondsPerDay)
	require.NoError(t, err)
	assert.Equal(t, want.String(), got.Dec())
	assert.Equal(t, "9.863013698630136986", fixedpoint.Format(got))

	// Accrual stops at the end of the lock.
	later, err := s.lockedRewards(alice, start+120*SecondsPerDay)
	require.NoError(t, err)
	assert.True(t, later.Eq(got))

	// Halfway through the lock earns half, rounded down.
	half, err := s.lockedRewards(alice, start+45*SecondsPerDay)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Quo(want, big.NewInt(2)).String(), half.Dec())

	trailing, err := s.calculateRewards(alice, 90*SecondsPerDay, start+90*SecondsPerDay, DefaultTiers())
	require.NoError(t, err)
	assert.True(t, trailing.Eq(got))
}

func TestLockStateMachine(t *testing.T) {
	s := seededState(t, 100, 100)
	start := t0.Unix()

	_, err := s.lockPosition(bob, 0, start, DefaultTiers())
	assert.ErrorIs(t, err, ErrNoPosition)

	created, err := s.lockPosition(alice, 0, start, DefaultTiers())
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultLockSeconds), created.tierSeconds)
	assert.Equal(t, "0.05", fixedpoint.Format(created.rate))

	_, err = s.lockPosition(alice, 31*SecondsPerDay, start+SecondsPerDay, DefaultTiers())
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	expiry := start + DefaultLockSeconds
	assert.True(t, s.holders[alice].lock.activeAt(expiry-1))
	assert.False(t, s.holders[alice].lock.activeAt(expiry))

	relocked, err := s.lockPosition(alice, 31*SecondsPerDay, expiry, DefaultTiers())
	require.NoError(t, err)
	assert.Equal(t, "0.12", fixedpoint.Format(relocked.rate))
}
