package goals

import (
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

// OutputIn fails any observation whose output symbol is in the set.
type OutputIn struct {
	Symbols []string
}

func (p OutputIn) Failed(obs channel.Observation) bool {
	for _, s := range p.Symbols {
		if obs.OutputSymbol == s {
			return true
		}
	}
	return false
}

// InputOutputPair fails when the input is Input and the output is anything
// other than Expected.
type InputOutputPair struct {
	Input    string
	Expected string
}

func (p InputOutputPair) Failed(obs channel.Observation) bool {
	return obs.InputSymbol == p.Input && obs.OutputSymbol != p.Expected
}

// LatencyAbove fails observations slower than Limit.
type LatencyAbove struct {
	Limit time.Duration
}

func (p LatencyAbove) Failed(obs channel.Observation) bool {
	return obs.Latency > p.Limit
}

// AnyOf fails when any of its predicates fails.
type AnyOf []Predicate

func (p AnyOf) Failed(obs channel.Observation) bool {
	for _, q := range p {
		if q != nil && q.Failed(obs) {
			return true
		}
	}
	return false
}

// CountFailures returns how many observations fail the predicate.
func CountFailures(p Predicate, obs []channel.Observation) int {
	n := 0
	for _, o := range obs {
		if p.Failed(o) {
			n++
		}
	}
	return n
}
