package gate

import (
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

// #region gate
// Gate decides whether a goal's failure statistics move a channel up, down,
// or nowhere. Pure: all time and history arrive in the Input.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the gate's thresholds.
func (g *Gate) Config() GateConfig { return g.config }

// Evaluate checks the data floor first, then escalation, then relaxation.
// Escalation wins over relaxation; a blocked move becomes a hold with the
// suppression recorded.
func (g *Gate) Evaluate(in Input) GateDecision {
	d := GateDecision{
		Action: ActionHold,
		From:   in.Level,
		Target: in.Level,
		Ratio:  ratio(in.EffectiveP, in.Tolerance),
	}

	// 1. Data floor
	if in.N < g.config.MinObservations {
		d.Action = ActionInsufficient
		d.Reason = fmt.Sprintf("%d observations below minimum %d", in.N, g.config.MinObservations)
		return d
	}

	// 2. Escalation
	if target, ok := g.escalationTarget(in); ok {
		if left := remaining(in.Now, in.LastEscalation, g.config.EscalationCooldown); left > 0 {
			d.Suppressions = append(d.Suppressions, Suppression{
				Type:      SuppressEscalationCooldown,
				Wanted:    target,
				Remaining: left,
				Reason:    fmt.Sprintf("escalation cooldown: %s left", left),
			})
			d.Reason = fmt.Sprintf("hold: effective p %.4f over tolerance %.4f, escalation cooling down", in.EffectiveP, in.Tolerance)
			return d
		}
		d.Action = ActionEscalate
		d.Target = target
		d.Reason = fmt.Sprintf("effective p %.4f > tolerance %.4f: level %d -> %d", in.EffectiveP, in.Tolerance, in.Level, target)
		return d
	}

	// 3. Relaxation, one level at a time
	if in.Level > registry.LevelNominal && g.relaxes(in) {
		target := in.Level - 1
		if left := remaining(in.Now, in.LastDeEscalation, g.config.DeEscalationCooldown); left > 0 {
			d.Suppressions = append(d.Suppressions, Suppression{
				Type:      SuppressDeEscalationCooldown,
				Wanted:    target,
				Remaining: left,
				Reason:    fmt.Sprintf("de-escalation cooldown: %s left", left),
			})
			d.Reason = "hold: within tolerance, de-escalation cooling down"
			return d
		}
		d.Action = ActionDeEscalate
		d.Target = target
		d.Reason = fmt.Sprintf("effective p %.4f well within tolerance %.4f: level %d -> %d", in.EffectiveP, in.Tolerance, in.Level, target)
		return d
	}

	d.Reason = fmt.Sprintf("hold: effective p %.4f against tolerance %.4f", in.EffectiveP, in.Tolerance)
	return d
}

// #endregion gate

// #region helpers
func (g *Gate) escalationTarget(in Input) (registry.Level, bool) {
	switch {
	case in.EffectiveP > g.config.SevereFactor*in.Tolerance && in.Level < registry.LevelCritical:
		return registry.LevelCritical, true
	case in.EffectiveP > in.Tolerance && in.Level < registry.LevelDegraded:
		return registry.LevelDegraded, true
	}
	return in.Level, false
}

// relaxes reports whether the goal permits stepping down. A zero-tolerance
// goal can only be relaxed with a clean window.
func (g *Gate) relaxes(in Input) bool {
	if in.MissionCritical {
		return in.Failures == 0
	}
	return in.EffectiveP < g.config.RelaxFactor*in.Tolerance
}

// remaining returns how much of the cooldown is left since last, or 0 when
// last is unset or the cooldown has elapsed.
func remaining(now, last time.Time, cooldown time.Duration) time.Duration {
	if last.IsZero() {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

func ratio(p, tol float64) float64 {
	if tol == 0 {
		if p == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return p / tol
}

// #endregion helpers
