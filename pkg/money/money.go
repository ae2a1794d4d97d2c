package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
	"CLP": {},
	"ISK": {},
}

const defaultPrecision int32 = 2

// Precision returns the number of minor-unit digits for an ISO-4217 code.
func Precision(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[NormalizeCurrency(currency)]; ok {
		return 0
	}
	return defaultPrecision
}

// Round rounds half away from zero to the currency precision.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Precision(currency))
}

// FitsPrecision reports whether amount carries no more decimals than the
// currency allows.
func FitsPrecision(amount decimal.Decimal, currency string) bool {
	return amount.Equal(Round(amount, currency))
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidCurrency accepts three letter alphabetic codes.
func ValidCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
