// Package reconcile compares ledger reserves with what the pool contract
// actually holds on chain.
package reconcile

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"poolscope/internal/chain"
	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

// Status of one asset after comparison.
const (
	StatusMatch   = "match"
	StatusSurplus = "surplus"
	StatusDeficit = "deficit"
)

// AssetReport compares one side of the pair. Amounts are 18-decimal units.
type AssetReport struct {
	Asset   model.Asset
	Token   model.TokenMeta
	Ledger  *uint256.Int
	OnChain *big.Int
	Drift   *big.Int
	Status  string
}

// Report is the outcome of a reconciliation run.
type Report struct {
	ChainID   uint64
	Pool      string
	Block     uint64
	BlockTime time.Time
	Assets    [2]AssetReport
}

// OK reports whether every asset is within tolerance.
func (r Report) OK() bool {
	return r.Assets[0].Status == StatusMatch && r.Assets[1].Status == StatusMatch
}

// Compare checks ledger reserves against on-chain balances. A surplus means
// the contract holds more than the ledger accounts for. Differences of at
// most tolerance units count as a match.
func Compare(reserveA, reserveB *uint256.Int, onchain chain.PoolBalances, tolerance *uint256.Int) (Report, error) {
	if tolerance == nil {
		tolerance = new(uint256.Int)
	}
	report := Report{
		ChainID:   onchain.ChainID,
		Pool:      onchain.Pool.Hex(),
		Block:     onchain.Block,
		BlockTime: time.Unix(int64(onchain.Timestamp), 0).UTC(),
	}

	ledger := [2]*uint256.Int{reserveA, reserveB}
	for i, asset := range []model.Asset{model.AssetA, model.AssetB} {
		if onchain.Balances[i] == nil {
			return Report{}, fmt.Errorf("missing on-chain balance for %s", asset)
		}
		normalized, err := Normalize(onchain.Balances[i], onchain.Tokens[i].Decimals)
		if err != nil {
			return Report{}, fmt.Errorf("normalize %s: %w", asset, err)
		}
		drift := new(big.Int).Sub(normalized, ledger[i].ToBig())

		status := StatusMatch
		if new(big.Int).Abs(drift).Cmp(tolerance.ToBig()) > 0 {
			if drift.Sign() > 0 {
				status = StatusSurplus
			} else {
				status = StatusDeficit
			}
		}
		report.Assets[i] = AssetReport{
			Asset:   asset,
			Token:   onchain.Tokens[i],
			Ledger:  ledger[i].Clone(),
			OnChain: normalized,
			Drift:   drift,
			Status:  status,
		}
	}
	return report, nil
}

// Normalize scales a raw token amount with the given decimals to 18-decimal
// units. Extra precision beyond 18 decimals is truncated.
func Normalize(raw *big.Int, decimals uint8) (*big.Int, error) {
	if raw.Sign() < 0 {
		return nil, fmt.Errorf("negative balance %s", raw)
	}
	out := new(big.Int).Set(raw)
	switch {
	case decimals < fixedpoint.Decimals:
		out.Mul(out, pow10(fixedpoint.Decimals-int(decimals)))
	case decimals > fixedpoint.Decimals:
		out.Quo(out, pow10(int(decimals)-fixedpoint.Decimals))
	}
	return out, nil
}

// FormatSigned renders a signed 18-decimal amount.
func FormatSigned(v *big.Int) string {
	if v.Sign() >= 0 {
		return formatBig(v)
	}
	return "-" + formatBig(new(big.Int).Neg(v))
}

func formatBig(v *big.Int) string {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return new(big.Rat).SetFrac(v, pow10(fixedpoint.Decimals)).FloatString(fixedpoint.Decimals)
	}
	return fixedpoint.Format(u)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
