// Package fx converts curve-native amounts into the display currency and
// keeps the write-once FX snapshots every trade and candle is priced with.
package fx

import (
	"strings"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/fixed"
)

// Unit is a display unit with its presentation precision.
type Unit struct {
	Code   string
	Places int32
}

// Common units
var (
	USD    = Unit{Code: "USD", Places: 2}
	Native = Unit{Code: "PROMPT", Places: 6}
)

// UnitFor returns the known unit for code, or code with two places.
func UnitFor(code string) Unit {
	switch strings.ToUpper(code) {
	case "", USD.Code:
		return USD
	case Native.Code:
		return Native
	default:
		return Unit{Code: strings.ToUpper(code), Places: 2}
	}
}

// ToDisplay converts a native amount with rate, truncated to fixed.Scale.
func ToDisplay(native, rate decimal.Decimal) decimal.Decimal {
	return fixed.MulTrunc(native, rate)
}

// Format renders amount rounded half-even to the unit precision with
// thousands separators, e.g. "80,049.47 USD".
func Format(amount decimal.Decimal, unit Unit) string {
	s := amount.StringFixedBank(unit.Places)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	if unit.Code != "" {
		b.WriteByte(' ')
		b.WriteString(unit.Code)
	}
	return b.String()
}
