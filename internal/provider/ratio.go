package provider

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var plainDecimal = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

// FormatRatio renders a ratio reported as a float with two decimals.
// Non-positive and non-finite values are treated as absent.
func FormatRatio(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return ""
	}
	d := decimal.NewFromFloat(v).Round(2)
	if !d.IsPositive() {
		return ""
	}
	return d.StringFixed(2)
}

// NormalizeDecimal strips thousands separators and returns s when it is a
// plain positive decimal, otherwise "".
func NormalizeDecimal(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if !plainDecimal.MatchString(s) {
		return ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return ""
	}
	return s
}

// ValidRatio reports whether s is the sentinel or a positive decimal.
func ValidRatio(s string) bool {
	return s == NA || (s != "" && NormalizeDecimal(s) == s)
}

// InRange reports whether the decimal string s lies in [lo, hi].
func InRange(s string, lo, hi float64) bool {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return d.GreaterThanOrEqual(decimal.NewFromFloat(lo)) && d.LessThanOrEqual(decimal.NewFromFloat(hi))
}
