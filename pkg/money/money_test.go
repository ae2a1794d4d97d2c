package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"12.345", "GBP", "12.35"},
		{"12.344", "GBP", "12.34"},
		{"12.5", "JPY", "13"},
		{"12.4", "jpy", "12"},
		{"-1.005", "EUR", "-1.01"},
		{"100", "USD", "100"},
	}

	for _, tt := range tests {
		got := Round(decimal.RequireFromString(tt.amount), tt.currency)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s %s: got %s want %s", tt.amount, tt.currency, got, tt.want)
	}
}

func TestFitsPrecision(t *testing.T) {
	assert.True(t, FitsPrecision(decimal.RequireFromString("10.25"), "GBP"))
	assert.False(t, FitsPrecision(decimal.RequireFromString("10.255"), "GBP"))
	assert.True(t, FitsPrecision(decimal.RequireFromString("1000"), "JPY"))
	assert.False(t, FitsPrecision(decimal.RequireFromString("1000.5"), "JPY"))
}

func TestCurrency(t *testing.T) {
	assert.Equal(t, "GBP", NormalizeCurrency(" gbp "))
	assert.True(t, ValidCurrency("GBP"))
	assert.False(t, ValidCurrency("GB"))
	assert.False(t, ValidCurrency("gbp"))
	assert.False(t, ValidCurrency("G1P"))
	assert.Equal(t, int32(0), Precision("JPY"))
	assert.Equal(t, int32(2), Precision("GBP"))
}
