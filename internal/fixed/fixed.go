// Package fixed implements the 18-fractional-digit fixed-point arithmetic used
// for every value that participates in a solvency invariant.
//
// Values are shopspring decimals. Division and square root are performed on
// integer atoms (10^-18 units) and always round toward zero, so results are
// deterministic and never overstate an amount owed by the curve.
package fixed

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by monetary values.
const Scale int32 = 18

// BpsDenominator is 100% in basis points.
const BpsDenominator int64 = 10_000

var bpsDen = big.NewInt(BpsDenominator)

// Trunc truncates d to Scale fractional digits.
func Trunc(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// ToAtoms converts d to integer 10^-Scale units, truncating extra digits.
func ToAtoms(d decimal.Decimal) *big.Int {
	return d.Shift(Scale).BigInt()
}

// FromAtoms converts integer atoms back to a decimal.
func FromAtoms(a *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(a, -Scale)
}

// Atom is the smallest representable amount.
func Atom() decimal.Decimal {
	return decimal.New(1, -Scale)
}

// Parse parses s and rejects values with more than Scale fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.Equal(Trunc(d)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d fractional digits", s, Scale)
	}
	return d, nil
}

// DivFloor returns a/b truncated toward zero at Scale digits. b must be non-zero.
func DivFloor(a, b decimal.Decimal) decimal.Decimal {
	return DivFloorAt(a, b, Scale)
}

// DivFloorAt returns a/b truncated toward zero at prec fractional digits.
func DivFloorAt(a, b decimal.Decimal, prec int32) decimal.Decimal {
	if b.IsZero() {
		panic("fixed: division by zero")
	}
	// Align both operands to integers sharing one exponent, then shift the
	// numerator by prec so the integer quotient carries prec digits.
	exp := a.Exponent()
	if b.Exponent() < exp {
		exp = b.Exponent()
	}
	num := a.Shift(-exp).BigInt()
	den := b.Shift(-exp).BigInt()
	num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(prec)), nil))
	q := new(big.Int).Quo(num, den)
	return decimal.NewFromBigInt(q, -prec)
}

// SqrtFloorAt returns the square root of d truncated at prec fractional digits.
// d must be non-negative.
func SqrtFloorAt(d decimal.Decimal, prec int32) decimal.Decimal {
	if d.Sign() < 0 {
		panic("fixed: square root of negative value")
	}
	// sqrt(x) * 10^prec == sqrt(x * 10^(2*prec))
	scaled := d.Shift(2 * prec).BigInt()
	root := new(big.Int).Sqrt(scaled)
	return decimal.NewFromBigInt(root, -prec)
}

// MulBpsFloor returns floor(d * bps / 10000) at Scale digits.
func MulBpsFloor(d decimal.Decimal, bps int64) decimal.Decimal {
	a := ToAtoms(d)
	a.Mul(a, big.NewInt(bps))
	a.Quo(a, bpsDen)
	return FromAtoms(a)
}

// MulTrunc returns a*b truncated at Scale digits.
func MulTrunc(a, b decimal.Decimal) decimal.Decimal {
	return Trunc(a.Mul(b))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ValidBps reports whether bps lies in [0, 10000].
func ValidBps(bps int64) bool {
	return bps >= 0 && bps <= BpsDenominator
}
