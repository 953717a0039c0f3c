package confidence

import "math"

// #region constants
const (
	// lentzTiny replaces any continued-fraction denominator that falls below it.
	lentzTiny = 1e-30

	// lentzMaxTerms bounds the continued-fraction expansion.
	lentzMaxTerms = 200

	// lentzEpsilon is the relative convergence threshold for a Lentz step.
	lentzEpsilon = 1e-15

	// bisectIterations is fixed; 64 halvings of [0,1] exhaust float64 precision.
	bisectIterations = 64

	// jeffreysPrior is the Beta(0.5, 0.5) pseudo-count added to each outcome.
	jeffreysPrior = 0.5
)

// #endregion constants

// #region beta-binomial
// BetaBinomialUCB returns the confidence quantile of the Jeffreys posterior
// Beta(failures+0.5, total-failures+0.5) on the failure probability.
// Returns 1.0 when total is zero. The result is never below failures/total.
func BetaBinomialUCB(failures, total int, confidence float64) float64 {
	if total <= 0 {
		return 1.0
	}
	if failures < 0 {
		failures = 0
	}
	if failures >= total {
		return 1.0
	}
	pHat := float64(failures) / float64(total)
	if !(confidence > 0 && confidence < 1) {
		return 1.0
	}

	a := float64(failures) + jeffreysPrior
	b := float64(total-failures) + jeffreysPrior
	q := InvRegIncBeta(confidence, a, b)
	if q < pHat {
		return pHat
	}
	return q
}

// #endregion beta-binomial

// #region incomplete-beta
// RegIncBeta evaluates the regularized incomplete beta function I_x(a, b)
// using Lentz's continued fraction. For x past the mean region it evaluates
// 1 - I_{1-x}(b, a), where the fraction converges quickly.
func RegIncBeta(x, a, b float64) float64 {
	switch {
	case math.IsNaN(x) || a <= 0 || b <= 0:
		return math.NaN()
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	}

	if x > (a+1)/(a+b+2) {
		return 1 - prefix(1-x, b, a)*continuedFraction(1-x, b, a)/b
	}
	return prefix(x, a, b) * continuedFraction(x, a, b) / a
}

// prefix computes x^a (1-x)^b / B(a, b) in log space.
func prefix(x, a, b float64) float64 {
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	return math.Exp(a*math.Log(x) + b*math.Log1p(-x) - (la + lb - lab))
}

// continuedFraction is the modified Lentz evaluation of the incomplete beta
// continued fraction. Bounded by lentzMaxTerms.
func continuedFraction(x, a, b float64) float64 {
	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := clampTiny(1 - qab*x/qap)
	d = 1 / d
	h := d

	for m := 1; m <= lentzMaxTerms; m++ {
		fm := float64(m)
		m2 := 2 * fm

		// even step
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 / clampTiny(1+aa*d)
		c = clampTiny(1 + aa/c)
		h *= d * c

		// odd step
		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 / clampTiny(1+aa*d)
		c = clampTiny(1 + aa/c)
		del := d * c
		h *= del

		if math.Abs(del-1) < lentzEpsilon {
			break
		}
	}
	return h
}

func clampTiny(v float64) float64 {
	if math.Abs(v) < lentzTiny {
		return lentzTiny
	}
	return v
}

// #endregion incomplete-beta

// #region inverse
// InvRegIncBeta returns x such that I_x(a, b) = p, found by a fixed-length
// bisection over [0, 1].
func InvRegIncBeta(p, a, b float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < bisectIterations; i++ {
		mid := 0.5 * (lo + hi)
		if RegIncBeta(mid, a, b) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// #endregion inverse
