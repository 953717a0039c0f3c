package channel

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

// #region helpers
func symbols(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}

func mustCounts(t *testing.T, in, out []string, counts [][]int) ConfusionMatrix {
	t.Helper()
	cm, err := FromCounts(in, out, counts)
	if err != nil {
		t.Fatalf("FromCounts: %v", err)
	}
	return cm
}

func identity(n, perRow int) [][]int {
	c := make([][]int, n)
	for i := range c {
		c[i] = make([]int, n)
		c[i][i] = perRow
	}
	return c
}

func randomCounts(rng *rand.Rand, rows, cols int) [][]int {
	c := make([][]int, rows)
	for i := range c {
		c[i] = make([]int, cols)
		if rng.Intn(5) == 0 {
			continue // leave some rows empty
		}
		for j := range c[i] {
			c[i][j] = rng.Intn(20)
		}
	}
	return c
}

// #endregion helpers

// #region matrix-tests
func TestNewConfusionMatrixIgnoresUnknownSymbols(t *testing.T) {
	obs := []Observation{
		{InputSymbol: "a", OutputSymbol: "ok"},
		{InputSymbol: "a", OutputSymbol: "ok"},
		{InputSymbol: "b", OutputSymbol: "error"},
		{InputSymbol: "zzz", OutputSymbol: "ok"},
		{InputSymbol: "a", OutputSymbol: "unknown"},
	}
	cm := NewConfusionMatrix(obs, []string{"a", "b"}, []string{"ok", "error"})

	if cm.Total() != 3 {
		t.Fatalf("expected 3 counted observations, got %d", cm.Total())
	}
	if cm.Count(0, 0) != 2 {
		t.Fatalf("expected count 2 at (a,ok), got %d", cm.Count(0, 0))
	}
	if cm.Count(1, 1) != 1 {
		t.Fatalf("expected count 1 at (b,error), got %d", cm.Count(1, 1))
	}
}

func TestNewConfusionMatrixDedupesAlphabet(t *testing.T) {
	cm := NewConfusionMatrix(nil, []string{"a", "b", "a"}, []string{"x"})
	if got := len(cm.InputAlphabet()); got != 2 {
		t.Fatalf("expected 2 input symbols, got %d", got)
	}
}

func TestCountsReturnsCopy(t *testing.T) {
	cm := mustCounts(t, []string{"a"}, []string{"x", "y"}, [][]int{{1, 2}})
	c := cm.Counts()
	c[0][0] = 99
	if cm.Count(0, 0) != 1 {
		t.Fatal("mutating Counts() result changed the matrix")
	}
}

func TestFromCountsShapeErrors(t *testing.T) {
	_, err := FromCounts([]string{"a", "b"}, []string{"x"}, [][]int{{1}})
	if !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for missing row, got %v", err)
	}
	_, err = FromCounts([]string{"a"}, []string{"x"}, [][]int{{-1}})
	if !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for negative count, got %v", err)
	}
}

func TestConditionalDistributionZeroRowIsUniform(t *testing.T) {
	cm := mustCounts(t, []string{"a", "b"}, []string{"x", "y", "z", "w"}, [][]int{
		{3, 1, 0, 0},
		{0, 0, 0, 0},
	})
	p := cm.ConditionalDistribution()
	for j, v := range p[1] {
		if v != 0.25 {
			t.Fatalf("expected uniform 0.25 at column %d, got %f", j, v)
		}
	}
	if p[0][0] != 0.75 || p[0][1] != 0.25 {
		t.Fatalf("unexpected normalized row: %v", p[0])
	}
}

// #endregion matrix-tests

// #region information-tests
func TestMutualInformationEmpty(t *testing.T) {
	cm := NewConfusionMatrix(nil, []string{"a", "b"}, []string{"x", "y"})
	if mi := MutualInformation(cm); mi != 0 {
		t.Fatalf("expected 0 for empty matrix, got %f", mi)
	}
}

func TestMutualInformationBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		rows := 1 + rng.Intn(6)
		cols := 1 + rng.Intn(6)
		cm := mustCounts(t, symbols("i", rows), symbols("o", cols), randomCounts(rng, rows, cols))
		mi := MutualInformation(cm)
		upper := math.Log2(math.Min(float64(rows), float64(cols)))
		if mi < 0 || mi > upper+1e-9 {
			t.Fatalf("trial %d: MI %f outside [0, %f]", trial, mi, upper)
		}
	}
}

func TestCapacityDominatesMutualInformation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 200; trial++ {
		rows := 1 + rng.Intn(6)
		cols := 1 + rng.Intn(6)
		cm := mustCounts(t, symbols("i", rows), symbols("o", cols), randomCounts(rng, rows, cols))
		mi := MutualInformation(cm)
		capacity := ChannelCapacity(cm)
		if capacity < mi-0.01 {
			t.Fatalf("trial %d: capacity %f below MI %f", trial, capacity, mi)
		}
	}
}

func TestCapacityIdentitySeven(t *testing.T) {
	cm := mustCounts(t, symbols("i", 7), symbols("o", 7), identity(7, 10))
	got := ChannelCapacity(cm)
	if math.Abs(got-math.Log2(7)) > 0.05 {
		t.Fatalf("expected ~%.3f bits, got %.4f", math.Log2(7), got)
	}
	if math.Abs(got-2.807) > 0.001 {
		t.Fatalf("expected 2.807 bits, got %.4f", got)
	}
}

func TestCapacityBijectiveSizes(t *testing.T) {
	for _, n := range []int{2, 3, 5, 12, 20} {
		cm := mustCounts(t, symbols("i", n), symbols("o", n), identity(n, 4))
		if got := ChannelCapacity(cm); math.Abs(got-math.Log2(float64(n))) > 0.05 {
			t.Fatalf("n=%d: expected %f, got %f", n, math.Log2(float64(n)), got)
		}
	}
}

func TestUniformNoiseCarriesNoInformation(t *testing.T) {
	counts := [][]int{{5, 5, 5}, {5, 5, 5}, {5, 5, 5}}
	cm := mustCounts(t, symbols("i", 3), symbols("o", 3), counts)
	if mi := MutualInformation(cm); mi >= 0.01 {
		t.Fatalf("expected MI < 0.01, got %f", mi)
	}
	if c := ChannelCapacity(cm); c >= 0.01 {
		t.Fatalf("expected capacity < 0.01, got %f", c)
	}
}

func TestCapacitySingleInputSymbol(t *testing.T) {
	cm := mustCounts(t, []string{"only"}, []string{"x", "y"}, [][]int{{4, 6}})
	res := Capacity(cm)
	if res.Bits != 0 || res.Iterations != 0 {
		t.Fatalf("expected 0 bits without iterating, got %f after %d", res.Bits, res.Iterations)
	}
}

func TestCapacityIterationsBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 50; trial++ {
		cm := mustCounts(t, symbols("i", 20), symbols("o", 20), randomCounts(rng, 20, 20))
		if res := Capacity(cm); res.Iterations > capacityMaxIterations {
			t.Fatalf("iterations %d exceed bound", res.Iterations)
		}
	}
}

func TestCapacityBinarySymmetric(t *testing.T) {
	// crossover 0.1 → 1 - H(0.1) ≈ 0.531 bits
	cm := mustCounts(t, []string{"0", "1"}, []string{"0", "1"}, [][]int{{90, 10}, {10, 90}})
	if got := ChannelCapacity(cm); math.Abs(got-0.531) > 0.001 {
		t.Fatalf("expected ~0.531, got %f", got)
	}
}

// #endregion information-tests

// #region efficiency-tests
func TestEfficiencyZeroDenominatorIsNoSignal(t *testing.T) {
	perCost, perToken, perTime := Efficiency(2, 0, 4, 0)
	if !IsNoSignal(perCost) || !IsNoSignal(perTime) {
		t.Fatalf("expected +Inf sentinels, got %f %f", perCost, perTime)
	}
	if perToken != 0.5 {
		t.Fatalf("expected 0.5 bits/token, got %f", perToken)
	}
}

func TestComputeUsesMeans(t *testing.T) {
	obs := []Observation{
		{InputSymbol: "a", OutputSymbol: "x", Cost: 1, TokenCount: 10, Latency: time.Second},
		{InputSymbol: "b", OutputSymbol: "y", Cost: 3, TokenCount: 30, Latency: 3 * time.Second},
	}
	cm := NewConfusionMatrix(obs, []string{"a", "b"}, []string{"x", "y"})
	m := Compute(cm, obs)

	if m.NObservations != 2 {
		t.Fatalf("expected 2 observations, got %d", m.NObservations)
	}
	if math.Abs(m.CapacityBits-1) > 1e-6 {
		t.Fatalf("expected 1 bit capacity, got %f", m.CapacityBits)
	}
	if math.Abs(m.EfficiencyPerCost-0.5) > 1e-6 {
		t.Fatalf("expected 0.5 bits per unit cost, got %f", m.EfficiencyPerCost)
	}
	if math.Abs(m.EfficiencyPerToken-0.05) > 1e-6 {
		t.Fatalf("expected 0.05 bits per token, got %f", m.EfficiencyPerToken)
	}
}

func TestEffectivePFailPrefersUCB(t *testing.T) {
	ucb := 0.4
	m := Metrics{PFail: 0.3, PFailUCB: &ucb}
	if m.EffectivePFail() != 0.4 {
		t.Fatalf("expected UCB, got %f", m.EffectivePFail())
	}
	m.PFailUCB = nil
	if m.EffectivePFail() != 0.3 {
		t.Fatalf("expected point estimate, got %f", m.EffectivePFail())
	}
}

// #endregion efficiency-tests

// #region bottleneck-tests
func TestBottleneckRanksByCapacity(t *testing.T) {
	report := Bottleneck(map[string]Metrics{
		"extract":  {CapacityBits: 2.0, MutualInformationBits: 1.0, NObservations: 40},
		"classify": {CapacityBits: 0.5, MutualInformationBits: 0.5, NObservations: 40},
		"idle":     {CapacityBits: 0, NObservations: 0},
	})
	if report.ChannelID != "classify" {
		t.Fatalf("expected classify as bottleneck, got %q", report.ChannelID)
	}
	if len(report.Ranking) != 2 {
		t.Fatalf("expected channels without data to be excluded, got %d entries", len(report.Ranking))
	}
	if report.Ranking[1].Utilization != 0.5 {
		t.Fatalf("expected utilization 0.5, got %f", report.Ranking[1].Utilization)
	}
}

func TestBottleneckEmpty(t *testing.T) {
	if r := Bottleneck(nil); r.ChannelID != "" || len(r.Ranking) != 0 {
		t.Fatalf("expected empty report, got %+v", r)
	}
}

// #endregion bottleneck-tests
