package channel

import (
	"math"
	"sort"
)

// #region efficiency
// Efficiency returns capacity per unit cost, per token, and per second. Each
// ratio is +Inf when its denominator is exactly zero; callers must read +Inf
// as "no signal" and never as a large finite value.
func Efficiency(capacity, cost, tokens, seconds float64) (perCost, perToken, perTime float64) {
	return ratio(capacity, cost), ratio(capacity, tokens), ratio(capacity, seconds)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return math.Inf(1)
	}
	return num / den
}

// IsNoSignal reports whether an efficiency value is the no-signal sentinel.
func IsNoSignal(v float64) bool {
	return math.IsInf(v, 1)
}

// #endregion efficiency

// #region compute
// Compute fills the information-theoretic and efficiency fields of Metrics
// from a confusion matrix and the observations it was built from. Efficiency
// denominators are per-observation means. PFail and PFailUCB are left to the
// caller, since they depend on a goal's failure predicate.
func Compute(cm ConfusionMatrix, obs []Observation) Metrics {
	var cost, tokens, seconds float64
	for _, o := range obs {
		cost += o.Cost
		tokens += float64(o.TokenCount)
		seconds += o.Latency.Seconds()
	}
	if n := float64(len(obs)); n > 0 {
		cost /= n
		tokens /= n
		seconds /= n
	}

	capacity := ChannelCapacity(cm)
	perCost, perToken, perTime := Efficiency(capacity, cost, tokens, seconds)

	return Metrics{
		MutualInformationBits: MutualInformation(cm),
		CapacityBits:          capacity,
		EfficiencyPerCost:     perCost,
		EfficiencyPerToken:    perToken,
		EfficiencyPerTime:     perTime,
		NObservations:         len(obs),
	}
}

// #endregion compute

// #region bottleneck
// BottleneckEntry is one channel's position in the capacity ranking.
type BottleneckEntry struct {
	ChannelID             string  `json:"channel_id"`
	CapacityBits          float64 `json:"capacity_bits"`
	MutualInformationBits float64 `json:"mutual_information_bits"`
	Utilization           float64 `json:"utilization"`
}

// BottleneckReport names the lowest-capacity channel with data. End-to-end
// information through a chain of channels cannot exceed it.
type BottleneckReport struct {
	ChannelID string            `json:"channel_id,omitempty"`
	Ranking   []BottleneckEntry `json:"ranking"`
}

// Bottleneck ranks channels with at least one observation by capacity,
// ascending, with ties broken by channel ID.
func Bottleneck(metrics map[string]Metrics) BottleneckReport {
	ranking := make([]BottleneckEntry, 0, len(metrics))
	for id, m := range metrics {
		if m.NObservations == 0 {
			continue
		}
		util := 0.0
		if m.CapacityBits > 0 {
			util = m.MutualInformationBits / m.CapacityBits
		}
		ranking = append(ranking, BottleneckEntry{
			ChannelID:             id,
			CapacityBits:          m.CapacityBits,
			MutualInformationBits: m.MutualInformationBits,
			Utilization:           util,
		})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].CapacityBits != ranking[j].CapacityBits {
			return ranking[i].CapacityBits < ranking[j].CapacityBits
		}
		return ranking[i].ChannelID < ranking[j].ChannelID
	})

	report := BottleneckReport{Ranking: ranking}
	if len(ranking) > 0 {
		report.ChannelID = ranking[0].ChannelID
	}
	return report
}

// #endregion bottleneck
