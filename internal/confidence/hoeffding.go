// Package confidence provides upper confidence bounds on an unknown failure
// probability estimated from a finite number of Bernoulli trials.
package confidence

import "math"

// #region hoeffding
// HoeffdingUCB returns pHat + sqrt(ln(1/delta) / (2n)), the distribution-free
// upper bound that holds with probability at least 1-delta.
// Returns 1.0 when n is zero or delta lies outside (0, 1).
func HoeffdingUCB(pHat float64, n int, delta float64) float64 {
	if n <= 0 {
		return 1.0
	}
	if !(delta > 0 && delta < 1) {
		return 1.0
	}
	return pHat + math.Sqrt(math.Log(1/delta)/(2*float64(n)))
}

// #endregion hoeffding
