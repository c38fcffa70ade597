package pool

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolscope/internal/fixedpoint"
)

const (
	SecondsPerDay  = 86_400
	SecondsPerYear = 365 * SecondsPerDay

	// DefaultLockSeconds applies when a lock is requested without a duration.
	DefaultLockSeconds = 14 * SecondsPerDay
)

// ErrInvalidTiers is returned for a malformed reward tier table.
var ErrInvalidTiers = errors.New("invalid reward tiers")

// Tier is one commitment bracket. Rate is an annualized 18-decimal fraction.
type Tier struct {
	DurationSeconds uint64
	Rate            *uint256.Int
}

// TierTable maps commitment durations to annualized rates.
type TierTable struct {
	tiers []Tier
}

// DefaultTiers is the canonical 14/31/90/180/365 day table.
func DefaultTiers() TierTable {
	table, _ := NewTierTable([]Tier{
		{DurationSeconds: 14 * SecondsPerDay, Rate: fixedpoint.MustParse("0.05")},
		{DurationSeconds: 31 * SecondsPerDay, Rate: fixedpoint.MustParse("0.12")},
		{DurationSeconds: 90 * SecondsPerDay, Rate: fixedpoint.MustParse("0.40")},
		{DurationSeconds: 180 * SecondsPerDay, Rate: fixedpoint.MustParse("0.85")},
		{DurationSeconds: 365 * SecondsPerDay, Rate: fixedpoint.MustParse("1.80")},
	})
	return table
}

// NewTierTable sorts and validates tiers.
func NewTierTable(tiers []Tier) (TierTable, error) {
	if len(tiers) == 0 {
		return TierTable{}, fmt.Errorf("%w: empty table", ErrInvalidTiers)
	}
	sorted := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Rate == nil {
			return TierTable{}, fmt.Errorf("%w: missing rate for %ds", ErrInvalidTiers, tier.DurationSeconds)
		}
		sorted = append(sorted, Tier{DurationSeconds: tier.DurationSeconds, Rate: tier.Rate.Clone()})
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DurationSeconds < sorted[j].DurationSeconds
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].DurationSeconds == sorted[i-1].DurationSeconds {
			return TierTable{}, fmt.Errorf("%w: duplicate duration %ds", ErrInvalidTiers, sorted[i].DurationSeconds)
		}
	}
	return TierTable{tiers: sorted}, nil
}

// ParseTiers reads "days=rate" pairs such as "14=0.05,90=0.40".
func ParseTiers(input string) (TierTable, error) {
	var tiers []Tier
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		daysText, rateText, ok := strings.Cut(part, "=")
		if !ok {
			return TierTable{}, fmt.Errorf("%w: %q", ErrInvalidTiers, part)
		}
		days, err := strconv.ParseUint(strings.TrimSpace(daysText), 10, 32)
		if err != nil {
			return TierTable{}, fmt.Errorf("%w: days %q: %v", ErrInvalidTiers, daysText, err)
		}
		rate, err := fixedpoint.Parse(rateText)
		if err != nil {
			return TierTable{}, fmt.Errorf("%w: rate %q: %v", ErrInvalidTiers, rateText, err)
		}
		tiers = append(tiers, Tier{DurationSeconds: days * SecondsPerDay, Rate: rate})
	}
	return NewTierTable(tiers)
}

// Tiers returns a copy of the sorted table.
func (t TierTable) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	for i, tier := range t.tiers {
		out[i] = Tier{DurationSeconds: tier.DurationSeconds, Rate: tier.Rate.Clone()}
	}
	return out
}

func (t TierTable) String() string {
	parts := make([]string, 0, len(t.tiers))
	for _, tier := range t.tiers {
		parts = append(parts, fmt.Sprintf("%dd=%s", tier.DurationSeconds/SecondsPerDay, fixedpoint.Format(tier.Rate)))
	}
	return strings.Join(parts, ",")
}

func (t TierTable) empty() bool {
	return len(t.tiers) == 0
}

// Rate interpolates linearly between the bracketing tiers and clamps at both
// ends of the table. The interpolated step is rounded down.
func (t TierTable) Rate(durationSeconds uint64) *uint256.Int {
	if t.empty() {
		return new(uint256.Int)
	}
	first, last := t.tiers[0], t.tiers[len(t.tiers)-1]
	if durationSeconds <= first.DurationSeconds {
		return first.Rate.Clone()
	}
	if durationSeconds >= last.DurationSeconds {
		return last.Rate.Clone()
	}

	hi := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].DurationSeconds >= durationSeconds
	})
	upper, lower := t.tiers[hi], t.tiers[hi-1]
	if upper.DurationSeconds == durationSeconds {
		return upper.Rate.Clone()
	}

	elapsed := uint256.NewInt(durationSeconds - lower.DurationSeconds)
	span := uint256.NewInt(upper.DurationSeconds - lower.DurationSeconds)
	if upper.Rate.Lt(lower.Rate) {
		delta := new(uint256.Int).Sub(lower.Rate, upper.Rate)
		step, _ := fixedpoint.MulDiv(delta, elapsed, span)
		return new(uint256.Int).Sub(lower.Rate, step)
	}
	delta := new(uint256.Int).Sub(upper.Rate, lower.Rate)
	step, _ := fixedpoint.MulDiv(delta, elapsed, span)
	return new(uint256.Int).Add(lower.Rate, step)
}

var (
	bigSecondsPerYear = big.NewInt(SecondsPerYear)
	bigOne            = fixedpoint.One.ToBig()
)

// accrue integrates balance*rate*dt/year over [from, to]. The balance in
// effect at from is the last checkpoint at or before it. A history that
// starts after to yields zero.
func accrue(history []checkpoint, from, to int64, rate *uint256.Int) (*uint256.Int, error) {
	if to <= from || len(history) == 0 || history[0].timestamp > to {
		return new(uint256.Int), nil
	}

	balanceSeconds := new(big.Int)
	current := new(big.Int)
	cursor := from
	for _, cp := range history {
		if cp.timestamp > to {
			break
		}
		if cp.timestamp > cursor {
			dt := big.NewInt(cp.timestamp - cursor)
			balanceSeconds.Add(balanceSeconds, dt.Mul(dt, current))
			cursor = cp.timestamp
		}
		current = cp.balance.ToBig()
	}
	if to > cursor {
		dt := big.NewInt(to - cursor)
		balanceSeconds.Add(balanceSeconds, dt.Mul(dt, current))
	}

	reward := balanceSeconds.Mul(balanceSeconds, rate.ToBig())
	reward.Quo(reward, bigOne)
	reward.Quo(reward, bigSecondsPerYear)

	out, overflow := uint256.FromBig(reward)
	if overflow {
		return nil, fmt.Errorf("accrue rewards: %w", ErrOverflow)
	}
	return out, nil
}

// calculateRewards accrues over the trailing window ending at now using the
// rate of the window length. Unknown holders earn nothing.
func (s *state) calculateRewards(addr common.Address, durationSeconds uint64, now int64, tiers TierTable) (*uint256.Int, error) {
	h, ok := s.holders[addr]
	if !ok || durationSeconds == 0 {
		return new(uint256.Int), nil
	}
	from := now - clampSeconds(durationSeconds)
	return accrue(h.history, from, now, tiers.Rate(durationSeconds))
}

// lockPosition commits the holder's balance for durationSeconds at the rate
// in effect now.
func (s *state) lockPosition(addr common.Address, durationSeconds uint64, now int64, tiers TierTable) (*lock, error) {
	current, ok := s.holders[addr]
	if !ok || current.balance.IsZero() {
		return nil, ErrNoPosition
	}
	if current.lock.activeAt(now) {
		return nil, fmt.Errorf("%w: until %d", ErrAlreadyLocked, current.lock.end)
	}
	if durationSeconds == 0 {
		durationSeconds = DefaultLockSeconds
	}
	if durationSeconds > uint64(math.MaxInt64-now) {
		return nil, fmt.Errorf("lock duration: %w", ErrOverflow)
	}

	l := &lock{
		tierSeconds: durationSeconds,
		rate:        tiers.Rate(durationSeconds),
		start:       now,
		end:         now + int64(durationSeconds),
	}
	h := s.mutableHolder(addr)
	h.lock = l
	return l, nil
}

// lockedRewards accrues from lock start to min(now, end) at the snapshotted
// rate. Holders without a lock earn nothing.
func (s *state) lockedRewards(addr common.Address, now int64) (*uint256.Int, error) {
	h, ok := s.holders[addr]
	if !ok || h.lock == nil {
		return new(uint256.Int), nil
	}
	to := now
	if h.lock.end < to {
		to = h.lock.end
	}
	return accrue(h.history, h.lock.start, to, h.lock.rate)
}

func clampSeconds(seconds uint64) int64 {
	if seconds > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(seconds)
}
