package pool

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

// BpsDenominator is the basis-point scale of the swap fee.
const BpsDenominator = 10_000

func validatePair(assetIn, assetOut model.Asset) error {
	if !assetIn.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAsset, assetIn)
	}
	if !assetOut.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAsset, assetOut)
	}
	if assetIn == assetOut {
		return ErrSameAsset
	}
	return nil
}

// quoteSwap prices amountIn of assetIn against the constant-product curve.
// The fee is taken from the input; the output is rounded down.
func (s *state) quoteSwap(assetIn model.Asset, amountIn *uint256.Int, assetOut model.Asset, feeBps uint32) (*uint256.Int, error) {
	if err := validatePair(assetIn, assetOut); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	if !s.initialized() {
		return nil, ErrPoolUninitialized
	}

	reserveIn := s.reserve(assetIn)
	reserveOut := s.reserve(assetOut)
	if _, err := fixedpoint.Add(reserveIn, amountIn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientLiquidity, err)
	}

	netIn, err := fixedpoint.MulDiv(amountIn, uint256.NewInt(uint64(BpsDenominator-feeBps)), uint256.NewInt(BpsDenominator))
	if err != nil {
		return nil, err
	}
	// reserveIn+netIn <= reserveIn+amountIn, already checked above.
	denominator := new(uint256.Int).Add(reserveIn, netIn)
	amountOut, err := fixedpoint.MulDiv(netIn, reserveOut, denominator)
	if err != nil {
		return nil, err
	}

	if amountOut.IsZero() {
		return nil, fmt.Errorf("%w: output rounds to zero", ErrInsufficientLiquidity)
	}
	if !amountOut.Lt(reserveOut) {
		return nil, fmt.Errorf("%w: output would drain reserve", ErrInsufficientLiquidity)
	}
	return amountOut, nil
}

// applySwap moves the gross input into the pool and the output out of it.
func (s *state) applySwap(assetIn model.Asset, amountIn *uint256.Int, assetOut model.Asset, amountOut *uint256.Int) error {
	before := s.product()

	reserveIn, err := fixedpoint.Add(s.reserve(assetIn), amountIn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInsufficientLiquidity, err)
	}
	reserveOut, err := fixedpoint.Sub(s.reserve(assetOut), amountOut)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInsufficientLiquidity, err)
	}
	s.setReserve(assetIn, reserveIn)
	s.setReserve(assetOut, reserveOut)

	if after := s.product(); after.Cmp(before) < 0 {
		return fmt.Errorf("%w: k decreased from %s to %s", ErrInvariant, before, after)
	}
	return nil
}

// requiredCounterpart returns the amount of B that keeps the pool ratio for a
// deposit of amountA, rounded down.
func (s *state) requiredCounterpart(amountA *uint256.Int) (*uint256.Int, error) {
	if amountA == nil || amountA.IsZero() {
		return nil, ErrZeroAmount
	}
	if !s.initialized() {
		return nil, ErrPoolUninitialized
	}
	return fixedpoint.MulDiv(amountA, s.reserveB, s.reserveA)
}

// product returns reserveA*reserveB, which may exceed 256 bits.
func (s *state) product() *big.Int {
	return new(big.Int).Mul(s.reserveA.ToBig(), s.reserveB.ToBig())
}
