// Package stats holds the small numeric helpers used by summaries.
package stats

import (
	"math"

	"github.com/codalotl/toolcallbench/internal/types"
)

// Z95 is the standard normal quantile for a two-sided 95% interval.
const Z95 = 1.96

type MeanStd struct {
	Mean float64
	Std  float64
}

// MeanStdOf returns the population mean and standard deviation of values.
// An empty sample yields zeros.
func MeanStdOf(values []float64) MeanStd {
	if len(values) == 0 {
		return MeanStd{}
	}
	n := float64(len(values))
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return MeanStd{Mean: mean, Std: math.Sqrt(sq / n)}
}

// WilsonInterval returns the 95% Wilson score interval for successes/total.
// Center is the Wilson point estimate, not the raw proportion.
func WilsonInterval(successes, total int) types.Interval {
	if total <= 0 {
		return types.Interval{}
	}
	n := float64(total)
	z := Z95
	phat := float64(successes) / n
	denom := 1 + z*z/n
	center := (phat + z*z/(2*n)) / denom
	half := (z / denom) * math.Sqrt((phat*(1-phat)+z*z/(4*n))/n)
	return types.Interval{
		Center: center,
		Low:    math.Max(0, center-half),
		High:   math.Min(1, center+half),
	}
}
