package order

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for amounts that are not non-negative
	// decimals.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountPrecision is returned when an amount has more fractional
	// digits than the token supports.
	ErrAmountPrecision = errors.New("amount exceeds token precision")
	// ErrAmountOverflow is returned when an amount does not fit in 64 bits of
	// base units.
	ErrAmountOverflow = errors.New("amount overflows base units")
)

var maxBaseUnits = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ParseAmount converts a decimal token amount such as "12.5" into base
// units for a token with the given decimals.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	units := d.Shift(int32(decimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q with %d decimals", ErrAmountPrecision, s, decimals)
	}
	if units.GreaterThan(maxBaseUnits) {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}
	return units.BigInt().Uint64(), nil
}

// FormatAmount renders base units as a decimal token amount without
// trailing zeros.
func FormatAmount(units uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).String()
}
