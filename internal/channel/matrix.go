// Package channel models a pipeline stage as a discrete memoryless channel:
// empirical confusion matrices, mutual information, and Blahut–Arimoto capacity.
package channel

import (
	"errors"
	"fmt"
)

// #region confusion-matrix
// ConfusionMatrix is an empirical joint count table between input and output
// symbols. It is never mutated after construction; accessors return copies.
type ConfusionMatrix struct {
	inAlphabet  []string
	outAlphabet []string
	counts      [][]int
	total       int
}

// ErrShape is returned by FromCounts when counts do not match the alphabets.
var ErrShape = errors.New("confusion matrix shape mismatch")

// NewConfusionMatrix counts observations by alphabet lookup. Symbols outside
// the declared alphabets are not counted. Duplicate alphabet entries are
// dropped, keeping the first occurrence.
func NewConfusionMatrix(obs []Observation, inAlphabet, outAlphabet []string) ConfusionMatrix {
	in := dedupe(inAlphabet)
	out := dedupe(outAlphabet)

	inIdx := indexOf(in)
	outIdx := indexOf(out)

	counts := newCounts(len(in), len(out))
	total := 0
	for _, o := range obs {
		i, ok := inIdx[o.InputSymbol]
		if !ok {
			continue
		}
		j, ok := outIdx[o.OutputSymbol]
		if !ok {
			continue
		}
		counts[i][j]++
		total++
	}

	return ConfusionMatrix{inAlphabet: in, outAlphabet: out, counts: counts, total: total}
}

// FromCounts builds a matrix from an explicit count table.
func FromCounts(inAlphabet, outAlphabet []string, counts [][]int) (ConfusionMatrix, error) {
	in := dedupe(inAlphabet)
	out := dedupe(outAlphabet)
	if len(in) != len(inAlphabet) || len(out) != len(outAlphabet) {
		return ConfusionMatrix{}, fmt.Errorf("duplicate alphabet symbols: %w", ErrShape)
	}
	if len(counts) != len(in) {
		return ConfusionMatrix{}, fmt.Errorf("%d rows for %d inputs: %w", len(counts), len(in), ErrShape)
	}

	cp := newCounts(len(in), len(out))
	total := 0
	for i, row := range counts {
		if len(row) != len(out) {
			return ConfusionMatrix{}, fmt.Errorf("row %d has %d cells for %d outputs: %w", i, len(row), len(out), ErrShape)
		}
		for j, c := range row {
			if c < 0 {
				return ConfusionMatrix{}, fmt.Errorf("negative count at (%d,%d): %w", i, j, ErrShape)
			}
			cp[i][j] = c
			total += c
		}
	}
	return ConfusionMatrix{inAlphabet: in, outAlphabet: out, counts: cp, total: total}, nil
}

// #endregion confusion-matrix

// #region accessors
// InputAlphabet returns the ordered input symbols.
func (cm ConfusionMatrix) InputAlphabet() []string {
	return append([]string(nil), cm.inAlphabet...)
}

// OutputAlphabet returns the ordered output symbols.
func (cm ConfusionMatrix) OutputAlphabet() []string {
	return append([]string(nil), cm.outAlphabet...)
}

// Counts returns a copy of the count table.
func (cm ConfusionMatrix) Counts() [][]int {
	cp := newCounts(len(cm.inAlphabet), len(cm.outAlphabet))
	for i := range cm.counts {
		copy(cp[i], cm.counts[i])
	}
	return cp
}

// Count returns the count at row i, column j.
func (cm ConfusionMatrix) Count(i, j int) int {
	return cm.counts[i][j]
}

// Total returns the number of counted observations.
func (cm ConfusionMatrix) Total() int {
	return cm.total
}

// #endregion accessors

// #region conditional
// ConditionalDistribution row-normalizes the counts into P(y|x). A row with no
// counts is replaced by the uniform distribution over the output alphabet.
func (cm ConfusionMatrix) ConditionalDistribution() [][]float64 {
	nOut := len(cm.outAlphabet)
	p := make([][]float64, len(cm.inAlphabet))
	for i, row := range cm.counts {
		p[i] = make([]float64, nOut)
		sum := 0
		for _, c := range row {
			sum += c
		}
		if sum == 0 {
			for j := range p[i] {
				p[i][j] = 1 / float64(nOut)
			}
			continue
		}
		for j, c := range row {
			p[i][j] = float64(c) / float64(sum)
		}
	}
	return p
}

// #endregion conditional

// #region helpers
func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func indexOf(symbols []string) map[string]int {
	idx := make(map[string]int, len(symbols))
	for i, s := range symbols {
		idx[s] = i
	}
	return idx
}

func newCounts(rows, cols int) [][]int {
	c := make([][]int, rows)
	for i := range c {
		c[i] = make([]int, cols)
	}
	return c
}

// #endregion helpers
