package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"usd dollars to cents", "10.50", "USD", 1050},
		{"usd whole amount", "100", "usd", 10000},
		{"eur fraction", "0.99", "EUR", 99},
		{"jpy has no minor unit", "500", "JPY", 500},
		{"krw has no minor unit", "1250", "KRW", 1250},
		{"sub-cent rounds to nearest", "10.005", "USD", 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			assert.Equal(t, tt.want, MinorUnits(amount, tt.currency))
		})
	}
}

func TestMajorUnits(t *testing.T) {
	assert.True(t, decimal.RequireFromString("10.50").Equal(MajorUnits(1050, "USD")))
	assert.True(t, decimal.NewFromInt(500).Equal(MajorUnits(500, "JPY")))
	assert.True(t, decimal.RequireFromString("0.01").Equal(MajorUnits(1, "EUR")))
}

func TestMinorMajorRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("123.45")
	assert.True(t, amount.Equal(MajorUnits(MinorUnits(amount, "USD"), "USD")))
}
