package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"poolscope/internal/fixedpoint"
)

type depositResult struct {
	amountA *uint256.Int
	amountB *uint256.Int
	shares  *uint256.Int
}

type withdrawResult struct {
	amountA *uint256.Int
	amountB *uint256.Int
}

// deposit mints shares for amountA plus its counterpart. bootstrapB is only
// consulted while the pool is empty, where it sets the initial price. A holder
// cannot add to a position while it is locked.
func (s *state) deposit(addr common.Address, amountA, bootstrapB *uint256.Int, now int64) (depositResult, error) {
	if amountA == nil || amountA.IsZero() {
		return depositResult{}, ErrZeroAmount
	}
	if current, ok := s.holders[addr]; ok && current.lock.activeAt(now) {
		return depositResult{}, fmt.Errorf("%w: until %d", ErrPositionLocked, current.lock.end)
	}

	var (
		amountB *uint256.Int
		minted  *uint256.Int
		err     error
	)
	if !s.initialized() {
		if bootstrapB == nil || bootstrapB.IsZero() {
			return depositResult{}, fmt.Errorf("%w: initial deposit needs both assets", ErrZeroAmount)
		}
		amountB = bootstrapB
		minted = fixedpoint.SqrtProduct(amountA, amountB)
	} else {
		amountB, err = s.requiredCounterpart(amountA)
		if err != nil {
			return depositResult{}, err
		}
		byA, err := fixedpoint.MulDiv(s.totalShares, amountA, s.reserveA)
		if err != nil {
			return depositResult{}, err
		}
		byB, err := fixedpoint.MulDiv(s.totalShares, amountB, s.reserveB)
		if err != nil {
			return depositResult{}, err
		}
		minted = fixedpoint.Min(byA, byB)
	}
	if minted.IsZero() {
		return depositResult{}, fmt.Errorf("%w: deposit mints no shares", ErrZeroAmount)
	}

	reserveA, err := fixedpoint.Add(s.reserveA, amountA)
	if err != nil {
		return depositResult{}, err
	}
	reserveB, err := fixedpoint.Add(s.reserveB, amountB)
	if err != nil {
		return depositResult{}, err
	}
	totalShares, err := fixedpoint.Add(s.totalShares, minted)
	if err != nil {
		return depositResult{}, err
	}

	h := s.mutableHolder(addr)
	balance, err := fixedpoint.Add(h.balance, minted)
	if err != nil {
		return depositResult{}, err
	}
	h.setBalance(balance, now)

	s.reserveA = reserveA
	s.reserveB = reserveB
	s.totalShares = totalShares

	return depositResult{amountA: amountA.Clone(), amountB: amountB.Clone(), shares: minted.Clone()}, nil
}

// withdraw burns shares for a pro-rata slice of both reserves, rounded down.
func (s *state) withdraw(addr common.Address, shares *uint256.Int, now int64) (withdrawResult, error) {
	if shares == nil || shares.IsZero() {
		return withdrawResult{}, ErrZeroAmount
	}
	current, ok := s.holders[addr]
	if !ok || current.balance.Lt(shares) {
		return withdrawResult{}, fmt.Errorf("%w: have %s, want %s", ErrInsufficientShares, s.balanceOf(addr), shares)
	}
	if current.lock.activeAt(now) {
		return withdrawResult{}, fmt.Errorf("%w: until %d", ErrPositionLocked, current.lock.end)
	}

	amountA, err := fixedpoint.MulDiv(s.reserveA, shares, s.totalShares)
	if err != nil {
		return withdrawResult{}, err
	}
	amountB, err := fixedpoint.MulDiv(s.reserveB, shares, s.totalShares)
	if err != nil {
		return withdrawResult{}, err
	}
	if amountA.IsZero() && amountB.IsZero() {
		return withdrawResult{}, fmt.Errorf("%w: withdrawal pays out nothing", ErrZeroAmount)
	}

	h := s.mutableHolder(addr)
	h.setBalance(new(uint256.Int).Sub(h.balance, shares), now)
	s.reserveA = new(uint256.Int).Sub(s.reserveA, amountA)
	s.reserveB = new(uint256.Int).Sub(s.reserveB, amountB)
	s.totalShares = new(uint256.Int).Sub(s.totalShares, shares)

	return withdrawResult{amountA: amountA, amountB: amountB}, nil
}
