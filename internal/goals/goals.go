// Package goals declares failure tolerances and the predicates that decide
// which observations count as failures.
package goals

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// #region registry
// Registry holds declared goals. Read-only to the controller except for
// tolerance modulation of operational goals.
type Registry struct {
	mu    sync.RWMutex
	goals map[string]Goal
	log   logrus.FieldLogger
}

// NewRegistry creates an empty goal registry.
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		goals: make(map[string]Goal),
		log:   log.WithField("component", "goals"),
	}
}

// Register validates and adds a goal. IDs are unique.
func (r *Registry) Register(g Goal) error {
	if err := validate(g); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.goals[g.ID]; ok {
		return fmt.Errorf("goal %s already registered: %w", g.ID, ErrInvalidGoal)
	}
	r.goals[g.ID] = g
	return nil
}

func validate(g Goal) error {
	if g.ID == "" {
		return fmt.Errorf("empty goal id: %w", ErrInvalidGoal)
	}
	switch g.Tier {
	case MissionCritical:
		if g.Tolerance != 0 {
			return fmt.Errorf("goal %s: mission-critical tolerance must be 0, got %v: %w", g.ID, g.Tolerance, ErrInvalidGoal)
		}
	case Operational:
		if !(g.Tolerance > 0 && g.Tolerance <= 1) {
			return fmt.Errorf("goal %s: operational tolerance %v outside (0,1]: %w", g.ID, g.Tolerance, ErrInvalidGoal)
		}
	default:
		return fmt.Errorf("goal %s: unknown tier %q: %w", g.ID, g.Tier, ErrInvalidGoal)
	}
	if g.Window <= 0 {
		return fmt.Errorf("goal %s: window must be positive: %w", g.ID, ErrInvalidGoal)
	}
	if g.ChannelScope == "" {
		return fmt.Errorf("goal %s: empty channel scope: %w", g.ID, ErrInvalidGoal)
	}
	if g.Predicate == nil {
		return fmt.Errorf("goal %s: nil predicate: %w", g.ID, ErrInvalidGoal)
	}
	if g.MinTier < 0 || g.MinTier > MaxCascadeTier {
		return fmt.Errorf("goal %s: min tier %d outside 0..%d: %w", g.ID, g.MinTier, MaxCascadeTier, ErrInvalidGoal)
	}
	return nil
}

// Get returns a goal by ID.
func (r *Registry) Get(id string) (Goal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.goals[id]
	return g, ok
}

// Goals returns every goal sorted by priority, then ID.
func (r *Registry) Goals() []Goal {
	return r.filter(func(Goal) bool { return true })
}

// ForChannel returns the goals whose scope covers channelID, sorted by
// priority, then ID.
func (r *Registry) ForChannel(channelID string) []Goal {
	return r.filter(func(g Goal) bool { return g.Covers(channelID) })
}

func (r *Registry) filter(keep func(Goal) bool) []Goal {
	r.mu.RLock()
	out := make([]Goal, 0, len(r.goals))
	for _, g := range r.goals {
		if keep(g) {
			out = append(out, g)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// #endregion registry

// #region modulation
// Modulator supplies replacement tolerances for operational goals, keyed by
// goal ID. Goals it omits keep their current tolerance.
type Modulator interface {
	Tolerances(ctx context.Context, operational []Goal) (map[string]float64, error)
}

// Modulate applies the modulator's tolerances to operational goals, clamped
// to (0,1]. Mission-critical goals are never passed to the modulator and
// never written. Returns the number of goals changed.
func (r *Registry) Modulate(ctx context.Context, m Modulator) (int, error) {
	if m == nil {
		return 0, nil
	}
	var operational []Goal
	for _, g := range r.Goals() {
		if g.Tier == Operational {
			operational = append(operational, g)
		}
	}
	if len(operational) == 0 {
		return 0, nil
	}
	tols, err := m.Tolerances(ctx, operational)
	if err != nil {
		return 0, fmt.Errorf("modulate tolerances: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for id, tol := range tols {
		g, ok := r.goals[id]
		if !ok || g.Tier != Operational {
			continue
		}
		tol = clampTolerance(tol)
		if tol != g.Tolerance {
			r.log.WithFields(logrus.Fields{"goal": id, "from": g.Tolerance, "to": tol}).Debug("tolerance modulated")
			g.Tolerance = tol
			r.goals[id] = g
			changed++
		}
	}
	return changed, nil
}

// minTolerance keeps a modulated tolerance strictly positive.
const minTolerance = 1e-6

func clampTolerance(t float64) float64 {
	switch {
	case t != t || t < minTolerance: // NaN or too small
		return minTolerance
	case t > 1:
		return 1
	default:
		return t
	}
}

// #endregion modulation

// #region phase-modulator
// PhaseProvider reports the current cost-phase multiplier: above 1 relaxes
// operational tolerances (cheap phase), below 1 tightens them.
type PhaseProvider interface {
	Multiplier(ctx context.Context) (float64, error)
}

// PhaseModulator scales each operational goal's base tolerance by the
// provider's multiplier. The base is the tolerance first seen for a goal,
// so repeated cycles do not compound.
type PhaseModulator struct {
	Provider PhaseProvider

	mu   sync.Mutex
	base map[string]float64
}

// NewPhaseModulator wraps a phase provider.
func NewPhaseModulator(p PhaseProvider) *PhaseModulator {
	return &PhaseModulator{Provider: p, base: make(map[string]float64)}
}

func (m *PhaseModulator) Tolerances(ctx context.Context, operational []Goal) (map[string]float64, error) {
	mult, err := m.Provider.Multiplier(ctx)
	if err != nil {
		return nil, fmt.Errorf("cost phase: %w", err)
	}
	if !(mult > 0) {
		return nil, fmt.Errorf("cost phase multiplier %v must be positive", mult)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.base == nil {
		m.base = make(map[string]float64)
	}
	out := make(map[string]float64, len(operational))
	for _, g := range operational {
		base, ok := m.base[g.ID]
		if !ok {
			base = g.Tolerance
			m.base[g.ID] = base
		}
		out[g.ID] = base * mult
	}
	return out, nil
}

// FixedPhase is a PhaseProvider returning a constant multiplier.
type FixedPhase float64

func (f FixedPhase) Multiplier(context.Context) (float64, error) { return float64(f), nil }

// #endregion phase-modulator
