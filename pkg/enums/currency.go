package enums

import "slices"

// Currency represents supported monetary denominations for payment intents.
type Currency string

const (
	CurrencyKRW Currency = "KRW"
	CurrencyUSD Currency = "USD"
)

var validCurrencies = []Currency{
	CurrencyKRW,
	CurrencyUSD,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	return slices.Contains(validCurrencies, c)
}

// MinorUnits returns the number of decimal places the currency carries.
// Amounts are always stored as integers in the smallest unit.
func (c Currency) MinorUnits() int32 {
	if c == CurrencyKRW {
		return 0
	}
	return 2
}

// ParseCurrency converts a raw string into a Currency.
func ParseCurrency(value string) (Currency, error) {
	return parseEnum("currency", validCurrencies, value)
}
