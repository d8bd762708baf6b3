package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round rounds half away from zero to places decimals, independent of float formatting.
// NaN and infinities round to 0.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Round3 is Round(v, 3).
func Round3(v float64) float64 { return Round(v, 3) }
