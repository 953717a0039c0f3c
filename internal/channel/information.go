package channel

import "math"

// #region constants
const (
	// outputMarginalFloor keeps r(y) away from zero so ln(P/r) stays finite.
	outputMarginalFloor = 1e-300

	// capacityTolerance stops Blahut–Arimoto once no prior coordinate moves more.
	capacityTolerance = 1e-8

	// capacityMaxIterations bounds Blahut–Arimoto regardless of convergence.
	capacityMaxIterations = 200
)

// #endregion constants

// #region mutual-information
// MutualInformation computes I(X;Y) in bits over the empirical joint
// distribution, using 0·log 0 = 0. Returns 0 for an empty matrix.
func MutualInformation(cm ConfusionMatrix) float64 {
	if cm.total == 0 {
		return 0
	}
	n := float64(cm.total)

	px := make([]float64, len(cm.inAlphabet))
	py := make([]float64, len(cm.outAlphabet))
	for i, row := range cm.counts {
		for j, c := range row {
			p := float64(c) / n
			px[i] += p
			py[j] += p
		}
	}

	var mi float64
	for i, row := range cm.counts {
		for j, c := range row {
			if c == 0 {
				continue
			}
			pxy := float64(c) / n
			mi += pxy * math.Log2(pxy/(px[i]*py[j]))
		}
	}
	if mi < 0 {
		return 0
	}
	return mi
}

// #endregion mutual-information

// #region capacity
// CapacityResult reports a Blahut–Arimoto run.
type CapacityResult struct {
	Bits       float64
	InputPrior []float64
	Iterations int
	Converged  bool
}

// ChannelCapacity returns the capacity in bits of the channel law estimated
// from cm.
func ChannelCapacity(cm ConfusionMatrix) float64 {
	return Capacity(cm).Bits
}

// Capacity runs Blahut–Arimoto from a uniform input prior. It stops when the
// largest prior coordinate change drops below 1e-8 or after 200 iterations.
// A single-symbol input alphabet has capacity 0 and is not iterated.
func Capacity(cm ConfusionMatrix) CapacityResult {
	nIn := len(cm.inAlphabet)
	nOut := len(cm.outAlphabet)
	if nIn <= 1 || nOut == 0 {
		prior := make([]float64, nIn)
		for i := range prior {
			prior[i] = 1
		}
		return CapacityResult{Bits: 0, InputPrior: prior, Converged: true}
	}

	p := cm.ConditionalDistribution()
	q := make([]float64, nIn)
	for i := range q {
		q[i] = 1 / float64(nIn)
	}

	r := make([]float64, nOut)
	c := make([]float64, nIn)
	iterations := 0
	converged := false

	for iterations < capacityMaxIterations {
		iterations++
		outputMarginal(q, p, r)

		var z float64
		for x := range q {
			c[x] = math.Exp(divergence(p[x], r))
			z += q[x] * c[x]
		}

		var maxDelta float64
		for x := range q {
			next := q[x] * c[x] / z
			if d := math.Abs(next - q[x]); d > maxDelta {
				maxDelta = d
			}
			q[x] = next
		}
		if maxDelta < capacityTolerance {
			converged = true
			break
		}
	}

	outputMarginal(q, p, r)
	var bits float64
	for x := range q {
		bits += q[x] * divergence(p[x], r)
	}
	bits /= math.Ln2
	if bits < 0 {
		bits = 0
	}

	return CapacityResult{Bits: bits, InputPrior: q, Iterations: iterations, Converged: converged}
}

// outputMarginal writes r = q·P into r, floored at outputMarginalFloor.
func outputMarginal(q []float64, p [][]float64, r []float64) {
	for y := range r {
		r[y] = 0
	}
	for x, qx := range q {
		for y, pxy := range p[x] {
			r[y] += qx * pxy
		}
	}
	for y := range r {
		if r[y] < outputMarginalFloor {
			r[y] = outputMarginalFloor
		}
	}
}

// divergence is D(P(.|x) || r) in nats; zero-probability terms contribute 0.
func divergence(row, r []float64) float64 {
	var d float64
	for y, pxy := range row {
		if pxy == 0 {
			continue
		}
		d += pxy * math.Log(pxy/r[y])
	}
	return d
}

// #endregion capacity
