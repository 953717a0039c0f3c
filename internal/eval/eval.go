package eval

import (
	"fmt"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/confidence"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
)

// #region eval-harness
// EvalHarness evaluates goals against a channel's observation window.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run counts the goal's failures in obs and derives the effective failure
// rate: the Beta-Binomial upper bound for operational goals, the point
// estimate for mission-critical ones. obs must already be limited to the
// goal's window.
func (h *EvalHarness) Run(g goals.Goal, channelID string, obs []channel.Observation) GoalStatus {
	st := GoalStatus{
		GoalID:    g.ID,
		ChannelID: channelID,
		Tier:      g.Tier,
		Tolerance: g.Tolerance,
		Window:    g.Window,
		N:         len(obs),
	}
	if st.N == 0 {
		st.Status = StatusInsufficient
		st.Reason = "no observations in window"
		return st
	}

	st.Failures = goals.CountFailures(g.Predicate, obs)
	st.PFail = float64(st.Failures) / float64(st.N)

	if g.Tier == goals.MissionCritical {
		st.EffectiveP = st.PFail
	} else {
		ucb := confidence.BetaBinomialUCB(st.Failures, st.N, h.config.Confidence)
		st.PFailUCB = &ucb
		st.EffectiveP = ucb
	}

	switch {
	case st.N < h.config.MinObservations:
		st.Status = StatusInsufficient
		st.Reason = fmt.Sprintf("%d observations below minimum %d", st.N, h.config.MinObservations)
	case st.EffectiveP > st.Tolerance:
		st.Status = StatusExceeded
		st.Reason = fmt.Sprintf("effective p %.4f exceeds tolerance %.4f", st.EffectiveP, st.Tolerance)
	default:
		st.Status = StatusWithin
		st.Reason = fmt.Sprintf("effective p %.4f within tolerance %.4f", st.EffectiveP, st.Tolerance)
	}
	return st
}

// #endregion eval-harness
