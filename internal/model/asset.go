package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAsset is returned for an asset outside the pool pair.
var ErrInvalidAsset = errors.New("invalid asset")

// Asset identifies one side of the pool pair.
type Asset string

const (
	AssetA Asset = "A"
	AssetB Asset = "B"
)

// ParseAsset accepts "a"/"b" as well as the token0/token1 aliases.
func ParseAsset(input string) (Asset, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "a", "alpha", "token0":
		return AssetA, nil
	case "b", "beta", "token1":
		return AssetB, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, input)
	}
}

// Valid reports whether the asset is one of the pair.
func (a Asset) Valid() bool {
	return a == AssetA || a == AssetB
}

// Other returns the opposite side of the pair.
func (a Asset) Other() Asset {
	if a == AssetA {
		return AssetB
	}
	return AssetA
}
