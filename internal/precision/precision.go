// Package precision enforces the outbound numeric contract of aggregation
// reports: two decimal places, round half up on a decimal representation,
// and percentages bounded to [0,100].
package precision

import (
	"math"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places of every emitted statistic.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round2 rounds x to two decimal places, halves away from zero. Non-finite
// values become 0.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return decimal.NewFromFloat(x).Round(Places).InexactFloat64()
}

// ToPct converts a ratio to a percentage rounded to two places and bounded
// to [0,100].
func ToPct(ratio float64) float64 {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}
	pct := decimal.NewFromFloat(ratio).Mul(hundred).Round(Places)
	return ClampPct(pct.InexactFloat64())
}

// ClampPct bounds a percentage to [0,100].
func ClampPct(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
