// Package replay plays recorded traffic through the escalation controller
// on a simulated clock, for regression fixtures and offline what-if runs.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cache"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/escalation"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/health"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/instrument"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

// #region types

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{t: start.UTC()} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// StepResult captures one replayed cycle.
type StepResult struct {
	Step   int
	Name   string
	At     time.Time
	Cycle  escalation.CycleResult
	Levels map[string]registry.Level // active level per channel after the cycle
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Cycles        int
	Escalations   int
	DeEscalations int
	CacheHits     int
	Triggers      int
	FinalLevels   map[string]registry.Level
}

// #endregion types

// #region harness

// Harness owns an in-memory controller driven by a Clock.
type Harness struct {
	Controller *escalation.Controller
	Source     *instrument.MemorySource
	Clock      *Clock
}

// NewHarness builds a controller from the fixture's manifest and config.
// audit may be nil.
func NewHarness(f *Fixture, audit escalation.AuditSink, log logrus.FieldLogger) (*Harness, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m, err := f.Manifest()
	if err != nil {
		return nil, err
	}
	clock := NewClock(f.Start)
	src := instrument.NewMemorySource(0)
	c := cache.New(nil, cache.DefaultCostWeights(), log)
	c.SetClock(clock.Now)

	goalReg := goals.NewRegistry(log)
	ctrl, err := escalation.New(f.Config.ControllerConfig(), escalation.Deps{
		Registry: registry.NewStore(log, nil),
		Goals:    goalReg,
		Cache:    c,
		Source:   src,
		Health:   health.Static(f.Health),
		Audit:    audit,
		Log:      log,
		Now:      clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}
	if err := m.Apply(ctrl, goalReg); err != nil {
		return nil, fmt.Errorf("apply manifest: %w", err)
	}
	return &Harness{Controller: ctrl, Source: src, Clock: clock}, nil
}

// Run plays every step: advance the clock, record the step's traffic, run
// one cycle.
func (h *Harness) Run(ctx context.Context, steps []FixtureStep) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		h.Clock.Advance(time.Duration(step.Advance))
		now := h.Clock.Now()
		for _, b := range step.Observations {
			h.Source.Append(b.Expand(now)...)
		}

		cycle, err := h.Controller.EvaluateCycle(ctx)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i, err)
		}
		levels := make(map[string]registry.Level, len(cycle.Decisions))
		for id := range cycle.Decisions {
			if cfg, err := h.Controller.ActiveConfiguration(id); err == nil {
				levels[id] = cfg.Level
			}
		}
		results = append(results, StepResult{Step: i, Name: step.Name, At: now, Cycle: cycle, Levels: levels})
	}
	return results, nil
}

// #endregion harness

// #region summary

// Summarize computes aggregate stats from replay results.
func Summarize(results []StepResult) Summary {
	s := Summary{Cycles: len(results), FinalLevels: make(map[string]registry.Level)}
	for _, r := range results {
		for _, ev := range r.Cycle.SwitchEvents {
			switch ev.Direction {
			case logging.Escalated:
				s.Escalations++
			case logging.DeEscalated:
				s.DeEscalations++
			case logging.CacheHit:
				s.CacheHits++
			}
		}
		s.Triggers += len(r.Cycle.Triggers)
		for id, lvl := range r.Levels {
			s.FinalLevels[id] = lvl
		}
	}
	return s
}

// Check compares each step's switch events against the fixture's
// expectations and returns one message per mismatch.
func Check(steps []FixtureStep, results []StepResult) []string {
	var diffs []string
	if len(results) != len(steps) {
		diffs = append(diffs, fmt.Sprintf("expected %d steps, got %d", len(steps), len(results)))
	}
	for i := 0; i < len(steps) && i < len(results); i++ {
		want := steps[i].Expect
		got := results[i].Cycle.SwitchEvents
		if len(want) != len(got) {
			diffs = append(diffs, fmt.Sprintf("step %d (%s): expected %d events, got %d", i, steps[i].Name, len(want), len(got)))
			continue
		}
		for j, w := range want {
			g := got[j]
			if g.ChannelID != w.Channel || string(g.Direction) != w.Direction || g.ToLevel != w.ToLevel {
				diffs = append(diffs, fmt.Sprintf("step %d (%s) event %d: expected %s %s->%d, got %s %s->%d",
					i, steps[i].Name, j, w.Channel, w.Direction, w.ToLevel, g.ChannelID, g.Direction, g.ToLevel))
			}
		}
	}
	return diffs
}

// #endregion summary
