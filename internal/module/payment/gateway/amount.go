package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit at the gateway.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// currencyExponent returns the number of minor-unit digits for a currency.
func currencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// MinorUnits converts a major-unit decimal amount to the gateway's
// minor-unit integer convention.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(currencyExponent(currency)).Round(0).IntPart()
}

// MajorUnits converts a gateway minor-unit integer back to a decimal amount.
func MajorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-currencyExponent(currency))
}
