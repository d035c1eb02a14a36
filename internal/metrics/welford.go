package metrics

import "math"

// Welford holds running statistics using Welford's online algorithm.
// Mean and standard deviation are updated in O(1) without storing the
// observations.
type Welford struct {
	count int
	mean  float64
	m2    float64 // sum of squared differences from the mean
}

// Add records one observation
func (w *Welford) Add(value float64) {
	w.count++
	delta := value - w.mean
	w.mean += delta / float64(w.count)
	delta2 := value - w.mean
	w.m2 += delta * delta2
}

// Mean returns the running mean, 0 before the first observation
func (w *Welford) Mean() float64 {
	return w.mean
}

// StdDev returns the population standard deviation.
// Returns 0 if fewer than 2 observations.
func (w *Welford) StdDev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

// Count returns the number of observations
func (w *Welford) Count() int {
	return w.count
}

// Reset clears all observations
func (w *Welford) Reset() {
	*w = Welford{}
}
