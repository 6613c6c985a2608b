package paypal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies PayPal treats as having no minor unit.
var zeroDecimal = map[string]bool{"JPY": true, "HUF": true, "TWD": true}

func exponent(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// FormatAmount renders integer minor units as the decimal string PayPal expects.
func FormatAmount(minor int64, currency string) string {
	exp := exponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}

// ParseAmount converts a PayPal decimal string into integer minor units.
// Values with more precision than the currency allows are rejected.
func ParseAmount(value, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrResponseInvalid, value, err)
	}
	shifted := d.Shift(exponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %q has too many decimals for %s", ErrResponseInvalid, value, currency)
	}
	return shifted.IntPart(), nil
}
