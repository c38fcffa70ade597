// Package fixedpoint implements unsigned 18-decimal quantities on top of
// 256-bit integers. One whole token is represented as 1e18 units.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of implied decimal places.
const Decimals = 18

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixed-point overflow")
	// ErrDivisionByZero is returned for a zero divisor.
	ErrDivisionByZero = errors.New("fixed-point division by zero")
	// ErrInvalidDecimal is returned when a decimal string cannot be parsed.
	ErrInvalidDecimal = errors.New("invalid decimal amount")

	// One is 1.0 in fixed-point units. It MUST NOT be modified.
	One = uint256.NewInt(1_000_000_000_000_000_000)

	oneBig = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Parse converts a decimal token amount such as "1.5" into fixed-point units.
// At most 18 fractional digits are accepted.
func Parse(input string) (*uint256.Int, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDecimal)
	}

	intPart, fracPart, hasDot := strings.Cut(value, ".")
	if hasDot && fracPart == "" && intPart == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, input)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, input)
	}
	if len(fracPart) > Decimals {
		return nil, fmt.Errorf("%w: more than %d fractional digits in %q", ErrInvalidDecimal, Decimals, input)
	}

	digits := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", Decimals-len(fracPart)), "0")
	if digits == "" {
		return Zero(), nil
	}
	parsed, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, input)
	}
	return parsed, nil
}

// MustParse is Parse for constants known to be valid.
func MustParse(input string) *uint256.Int {
	v, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseUnits parses a raw base-10 integer amount of units (no implied decimals).
func ParseUnits(input string) (*uint256.Int, error) {
	value := strings.TrimLeft(strings.TrimSpace(input), "0")
	if value == "" {
		if strings.TrimSpace(input) == "" {
			return nil, fmt.Errorf("%w: empty", ErrInvalidDecimal)
		}
		return Zero(), nil
	}
	if !isDigits(value) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, input)
	}
	parsed, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, input)
	}
	return parsed, nil
}

// Format renders a fixed-point value as a decimal token amount with trailing
// zeros removed.
func Format(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(value.ToBig(), oneBig)
	text := rat.FloatString(Decimals)
	if strings.Contains(text, ".") {
		text = strings.TrimRight(text, "0")
		text = strings.TrimSuffix(text, ".")
	}
	return text
}

// ToFloat converts a fixed-point value to a float64 token amount. Precision
// is lost; it is meant for metrics only.
func ToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(value.ToBig(), oneBig).Float64()
	return f
}

// Add returns x+y.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x-y and fails when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("%w: negative result", ErrOverflow)
	}
	return z, nil
}

// MulDiv returns floor(x*y/d) using a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// SqrtProduct returns floor(sqrt(x*y)) without overflowing the intermediate
// product.
func SqrtProduct(x, y *uint256.Int) *uint256.Int {
	product := new(big.Int).Mul(x.ToBig(), y.ToBig())
	root := new(big.Int).Sqrt(product)
	// sqrt of a 512-bit value always fits in 256 bits.
	return uint256.MustFromBig(root)
}

// Min returns the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x
	}
	return y
}

func isDigits(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
