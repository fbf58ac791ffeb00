// Package stats holds the benchmark arithmetic shared by the compare
// and per-vehicle aggregate endpoints.
package stats

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PercentileAtOrBelow returns the proportion of values at or below v as
// an integer 0-100, truncated. A value below every sample yields 0; at
// or above every sample yields 100. An empty slice yields 0.
func PercentileAtOrBelow(values []float64, v float64) int {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, g := range values {
		if g <= v {
			count++
		}
	}
	return count * 100 / len(values)
}
