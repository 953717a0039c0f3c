package eval

import (
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
)

// #region eval-config
// EvalConfig holds the statistical settings for goal evaluation.
type EvalConfig struct {
	Confidence      float64 // Beta-Binomial UCB quantile for operational goals
	MinObservations int     // below this a status is insufficient_data
}

// DefaultEvalConfig returns the standard settings.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Confidence:      0.95,
		MinObservations: 20,
	}
}

// #endregion eval-config

// #region status
// Status is a goal's standing on a channel for one cycle.
type Status string

const (
	StatusWithin       Status = "within_tolerance"
	StatusExceeded     Status = "exceeded"
	StatusInsufficient Status = "insufficient_data"
)

// #endregion status

// #region goal-status
// GoalStatus is one goal evaluated over one channel's window.
type GoalStatus struct {
	GoalID     string
	ChannelID  string
	Tier       goals.Tier
	Tolerance  float64
	Window     time.Duration
	N          int
	Failures   int
	PFail      float64
	PFailUCB   *float64 // nil for mission-critical goals
	EffectiveP float64
	Status     Status
	Reason     string
}

// MissionCritical reports whether the status belongs to a zero-tolerance goal.
func (s GoalStatus) MissionCritical() bool { return s.Tier == goals.MissionCritical }

// #endregion goal-status
