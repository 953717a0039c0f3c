package channel

import "time"

// #region observation
// Observation is one recorded input→output transition through a channel.
// Immutable once recorded.
type Observation struct {
	ChannelID    string        `json:"channel_id"`
	InputSymbol  string        `json:"input_symbol"`
	OutputSymbol string        `json:"output_symbol"`
	Timestamp    time.Time     `json:"timestamp"`
	Latency      time.Duration `json:"latency"`
	Cost         float64       `json:"cost"`
	TokenCount   int           `json:"token_count"`
	PathID       string        `json:"path_id,omitempty"`
	TraceID      string        `json:"trace_id,omitempty"`
}

// #endregion observation

// #region metrics
// Metrics is the per-cycle summary of one channel. PFailUCB is nil when no
// upper bound applies (empty window, or a zero-tolerance goal governs).
type Metrics struct {
	PFail                 float64
	PFailUCB              *float64
	MutualInformationBits float64
	CapacityBits          float64
	EfficiencyPerCost     float64 // +Inf means no signal
	EfficiencyPerToken    float64 // +Inf means no signal
	EfficiencyPerTime     float64 // +Inf means no signal
	NObservations         int
}

// EffectivePFail returns the UCB when present, else the point estimate.
func (m Metrics) EffectivePFail() float64 {
	if m.PFailUCB != nil {
		return *m.PFailUCB
	}
	return m.PFail
}

// #endregion metrics
