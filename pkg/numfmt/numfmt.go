// Package numfmt formats clinical quantities for documentation output:
// values are rounded to a caller-specified decimal precision, then trailing
// zeros (and a trailing decimal point) are stripped so whole numbers read as
// integers.
package numfmt

import (
	"math"
	"strconv"
	"strings"
)

const maxPrecision = 10

// Format rounds value to precision decimals and strips trailing zeros.
// Precision is clamped to [0, 10]. Non-finite values format as "0".
func Format(value float64, precision int) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "0"
	}
	if precision < 0 {
		precision = 0
	}
	if precision > maxPrecision {
		precision = maxPrecision
	}

	shift := math.Pow(10, float64(precision))
	rounded := math.Round(value*shift) / shift
	if rounded == 0 {
		// normalize -0
		rounded = 0
	}

	s := strconv.FormatFloat(rounded, 'f', precision, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}
