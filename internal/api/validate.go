// validate.go - Boundary validation and 1e7 boundary scaling.
//
// Quantities and prices cross the API as trader-facing decimal strings and
// live inside the engine as integers scaled by 1e7.

package api

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point factor between trader decimals and engine
// integers.
const Scale = 10_000_000

const (
	addressLen   = 56
	maxSymbolLen = 12
)

// Compliance-whitelisted addresses are Stellar contract strkeys: 56
// characters of base32 beginning with 'C'.
func validateAddress(kind, addr string) error {
	if len(addr) != addressLen {
		return fmt.Errorf("%s address must be %d characters", kind, addressLen)
	}
	if addr[0] != 'C' {
		return fmt.Errorf("%s address must begin with 'C'", kind)
	}
	for _, r := range addr[1:] {
		if !((r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7')) {
			return fmt.Errorf("%s address contains invalid character %q", kind, r)
		}
	}
	return nil
}

// normalizeSymbol uppercases and validates an asset symbol.
func normalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if len(s) > maxSymbolLen {
		return "", fmt.Errorf("symbol exceeds %d characters", maxSymbolLen)
	}
	return s, nil
}

var maxInt64 = big.NewInt(int64(^uint64(0) >> 1))

// scaleAmount converts a trader-facing decimal string into the engine's
// scaled integer. More than seven fractional digits is an error, not a
// rounding.
func scaleAmount(name, s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid decimal %q", name, s)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	scaled := d.Shift(7)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%s has more than 7 decimal places", name)
	}
	bi := scaled.BigInt()
	if bi.Cmp(maxInt64) > 0 {
		return 0, fmt.Errorf("%s is out of range", name)
	}
	return bi.Int64(), nil
}

// descale renders a scaled integer back to a trader-facing decimal string.
func descale(v int64) string {
	return decimal.New(v, -7).String()
}
