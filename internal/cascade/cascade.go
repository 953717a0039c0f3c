// Package cascade is the coarse epsilon-trigger check: a Hoeffding bound on
// each goal's failure rate that recommends which intervention tier to start
// from. It never acts on its own.
package cascade

import (
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/confidence"
)

// #region tiers
// Tier is an intervention cost tier, cheapest first.
type Tier int

const (
	ParameterTuning Tier = iota
	Reconfiguration
	BoundaryChange
	ScaleReorganization
)

var tierNames = [...]string{"parameter_tuning", "reconfiguration", "boundary_change", "scale_reorganization"}

func (t Tier) String() string {
	if t < ParameterTuning || t > ScaleReorganization {
		return "unknown"
	}
	return tierNames[t]
}

// #endregion tiers

// #region config
// Config controls the cascade thresholds.
type Config struct {
	Delta           float64 // Hoeffding failure probability
	MinObservations int
	ModerateFactor  float64 // margin above this × tol lifts to Reconfiguration
	SevereFactor    float64 // margin above this × tol lifts to BoundaryChange
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Delta:           0.05,
		MinObservations: 20,
		ModerateFactor:  3,
		SevereFactor:    5,
	}
}

// #endregion config

// #region evaluate
// Input is one goal's failure statistics on one channel.
type Input struct {
	GoalID    string
	ChannelID string
	Failures  int
	N         int
	Tolerance float64
	MinTier   int
}

// Trigger recommends an intervention tier for a goal on a channel.
type Trigger struct {
	GoalID    string  `json:"goal_id"`
	ChannelID string  `json:"channel_id"`
	UCB       float64 `json:"ucb"`
	Tolerance float64 `json:"tolerance"`
	Margin    float64 `json:"margin"`
	Tier      Tier    `json:"tier"`
}

// Evaluate returns a trigger when the Hoeffding UCB of the failure rate
// exceeds the goal's tolerance with enough observations. The bound is always
// positive, so a zero-tolerance goal triggers boundary_change on every call
// past MinObservations, failures or not.
func Evaluate(cfg Config, in Input) (Trigger, bool) {
	if in.N < cfg.MinObservations || in.N == 0 {
		return Trigger{}, false
	}
	pHat := float64(in.Failures) / float64(in.N)
	ucb := confidence.HoeffdingUCB(pHat, in.N, cfg.Delta)
	if ucb <= in.Tolerance {
		return Trigger{}, false
	}
	margin := ucb - in.Tolerance

	tier := Tier(in.MinTier)
	if margin > cfg.ModerateFactor*in.Tolerance && tier < Reconfiguration {
		tier = Reconfiguration
	}
	if margin > cfg.SevereFactor*in.Tolerance && tier < BoundaryChange {
		tier = BoundaryChange
	}
	if tier > ScaleReorganization {
		tier = ScaleReorganization
	}
	if tier < ParameterTuning {
		tier = ParameterTuning
	}
	return Trigger{
		GoalID:    in.GoalID,
		ChannelID: in.ChannelID,
		UCB:       ucb,
		Tolerance: in.Tolerance,
		Margin:    margin,
		Tier:      tier,
	}, true
}

// #endregion evaluate
