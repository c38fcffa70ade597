package pool

import (
	"errors"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

var (
	ErrZeroAmount            = errors.New("zero amount")
	ErrPoolUninitialized     = errors.New("pool uninitialized")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrPositionLocked        = errors.New("position locked")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrSameAsset             = errors.New("asset in equals asset out")
	ErrAlreadyLocked         = errors.New("position already locked")
	ErrNoPosition            = errors.New("no share position")
	ErrInvalidSnapshot       = errors.New("invalid snapshot")
	ErrPersistFailed         = errors.New("persist failed")

	// ErrInvariant signals a broken internal invariant, never a caller mistake.
	ErrInvariant = errors.New("ledger invariant violated")

	ErrOverflow     = fixedpoint.ErrOverflow
	ErrInvalidAsset = model.ErrInvalidAsset
)
