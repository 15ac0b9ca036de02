package paypal

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paysync/internal/webhook/domain"
)

// minorUnitExponents lists ISO 4217 currencies whose minor unit is not 2.
var minorUnitExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "HUF": 0, "ISK": 0, "JPY": 0,
	"KMF": 0, "KRW": 0, "PYG": 0, "RWF": 0, "TWD": 0, "UGX": 0, "VND": 0,
	"VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

func minorUnitExponent(currency string) int32 {
	if exp, ok := minorUnitExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return 2
}

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// toMinorUnits converts a decimal amount string ("600.00") into integer minor
// units for currency. A blank value is zero.
func toMinorUnits(value, currency string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, domain.ErrInvalidPayload
	}
	if amount.IsNegative() {
		return 0, domain.ErrInvalidAmount
	}
	minor := amount.Shift(minorUnitExponent(currency))
	if !minor.Equal(minor.Truncate(0)) || minor.GreaterThan(maxMinorUnits) {
		return 0, domain.ErrInvalidAmount
	}
	return minor.IntPart(), nil
}
