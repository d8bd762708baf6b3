package util

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloatWithCommas parses "1,234.50" style strings. Empty, "-" and garbage give 0.
func ToFloatWithCommas(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "-" || s == "--" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ToIntWithCommas parses integer-like strings, rounding fractional input.
func ToIntWithCommas(s string) int64 {
	clean := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if clean == "" || clean == "-" || clean == "--" {
		return 0
	}
	if v, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return v
	}
	f := ToFloatWithCommas(clean)
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(math.Round(f))
}

// LooseNumber decodes a JSON number, numeric string, or null.
type LooseNumber struct {
	raw   string
	valid bool
}

func (n *LooseNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*n = LooseNumber{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			*n = LooseNumber{}
			return nil
		}
		s = str
	}
	*n = LooseNumber{raw: s, valid: true}
	return nil
}

// Present reports whether the field carried a value.
func (n LooseNumber) Present() bool { return n.valid }

// Int returns the value as an integer, 0 when absent or malformed.
func (n LooseNumber) Int() int64 { return ToIntWithCommas(n.raw) }

// Float returns the value as a float, 0 when absent or malformed.
func (n LooseNumber) Float() float64 { return ToFloatWithCommas(n.raw) }

// SafeDiv returns num/den, or 0 when den is zero.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
