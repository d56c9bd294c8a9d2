// Package units converts between human-readable currency amounts and the
// smallest-unit integers the contract works with.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// EtherDecimals is the precision of the native currency.
const EtherDecimals = 18

var ErrAmountFormat = errors.New("invalid amount")

// ParseUnits converts a non-negative decimal string such as "1.5" to its
// smallest-unit integer. Fractional digits beyond decimals are truncated.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative precision %d", ErrAmountFormat, decimals)
	}
	whole, frac, found := strings.Cut(amount, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrAmountFormat, amount)
	}
	if found && strings.Contains(frac, ".") {
		return nil, fmt.Errorf("%w: %q", ErrAmountFormat, amount)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("%w: %q", ErrAmountFormat, amount)
	}

	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAmountFormat, amount)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return nil, fmt.Errorf("%w: %q exceeds uint256", ErrAmountFormat, amount)
	}
	return v, nil
}

// FormatUnits renders a smallest-unit integer as a decimal string with
// trailing fractional zeros removed.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	s := new(big.Int).Abs(v).String()
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
	}
	if decimals <= 0 {
		return sign + s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

// ParseEther is ParseUnits with EtherDecimals.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, EtherDecimals)
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
