package gate

import (
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

// #region action
// Action is what the gate wants done with a channel's level.
type Action string

const (
	ActionHold         Action = "hold"
	ActionEscalate     Action = "escalate"
	ActionDeEscalate   Action = "de_escalate"
	ActionInsufficient Action = "insufficient_data"
)

// #endregion action

// #region suppression
// SuppressionType enumerates why a wanted move was held back.
type SuppressionType string

const (
	SuppressEscalationCooldown   SuppressionType = "escalation_cooldown"
	SuppressDeEscalationCooldown SuppressionType = "de_escalation_cooldown"
)

// Suppression records a move the numbers asked for but the gate blocked.
type Suppression struct {
	Type      SuppressionType
	Wanted    registry.Level
	Remaining time.Duration
	Reason    string
}

// #endregion suppression

// #region gate-config
// GateConfig holds the escalation thresholds and cooldowns.
type GateConfig struct {
	MinObservations      int
	SevereFactor         float64 // effective p above this × tol jumps straight to critical
	RelaxFactor          float64 // effective p below this × tol allows one step down
	EscalationCooldown   time.Duration
	DeEscalationCooldown time.Duration
}

// DefaultGateConfig returns the standard control-loop constants.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinObservations:      20,
		SevereFactor:         2.0,
		RelaxFactor:          0.5,
		EscalationCooldown:   60 * time.Second,
		DeEscalationCooldown: 300 * time.Second,
	}
}

// #endregion gate-config

// #region gate-input
// Input is one goal's standing on one channel at decision time.
type Input struct {
	Level            registry.Level
	N                int
	Failures         int
	EffectiveP       float64
	Tolerance        float64
	MissionCritical  bool
	Now              time.Time
	LastEscalation   time.Time // zero when never escalated
	LastDeEscalation time.Time // zero when never de-escalated
}

// #endregion gate-input

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action       Action
	From         registry.Level
	Target       registry.Level // equals From unless Action moves the level
	Reason       string
	Ratio        float64 // effective p / tolerance; +Inf when tolerance is 0 and p > 0
	Suppressions []Suppression
}

// Moves reports whether the decision changes the level.
func (d GateDecision) Moves() bool {
	return d.Action == ActionEscalate || d.Action == ActionDeEscalate
}

// #endregion gate-decision
