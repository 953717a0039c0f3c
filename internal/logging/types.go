package logging

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

// #region number
// Number is a float64 that serializes rounded to 4 decimals, with +Inf as
// the string "inf" and NaN as null.
type Number float64

// Precision is the number of decimals kept in persisted audit records.
const Precision = 4

// Round rounds v to Precision decimals; infinities and NaN pass through.
func Round(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	p := math.Pow10(Precision)
	return math.Round(v*p) / p
}

func (n Number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(v):
		return []byte(`null`), nil
	}
	return []byte(strconv.FormatFloat(Round(v), 'f', -1, 64)), nil
}

func (n *Number) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"inf"`:
		*n = Number(math.Inf(1))
		return nil
	case `"-inf"`:
		*n = Number(math.Inf(-1))
		return nil
	case `null`:
		*n = Number(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse number %s: %w", b, err)
	}
	*n = Number(v)
	return nil
}

func numberPtr(p *float64) *Number {
	if p == nil {
		return nil
	}
	n := Number(*p)
	return &n
}

// #endregion number

// #region switch-event
// Direction is the kind of configuration switch.
type Direction string

const (
	Escalated   Direction = "escalated"
	DeEscalated Direction = "de-escalated"
	CacheHit    Direction = "cache_hit"
)

// SwitchEvent is an append-only record of one active-configuration change.
type SwitchEvent struct {
	ID                 string
	ChannelID          string
	FromConfiguration  string
	ToConfiguration    string
	FromLevel          int
	ToLevel            int
	Direction          Direction
	TriggerPFail       float64
	TriggerTolerance   float64
	GoalID             string
	ContextFingerprint string
	CacheEntryID       string // set for cache_hit
	Timestamp          time.Time
}

type switchEventJSON struct {
	ID                 string    `json:"id"`
	ChannelID          string    `json:"channel_id"`
	FromConfiguration  string    `json:"from_configuration"`
	ToConfiguration    string    `json:"to_configuration"`
	FromLevel          int       `json:"from_level"`
	ToLevel            int       `json:"to_level"`
	Direction          Direction `json:"direction"`
	TriggerPFail       Number    `json:"trigger_p_fail"`
	TriggerTolerance   Number    `json:"trigger_tolerance"`
	GoalID             string    `json:"goal_id"`
	ContextFingerprint string    `json:"context_fingerprint,omitempty"`
	CacheEntryID       string    `json:"cache_entry_id,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

func (e SwitchEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(switchEventJSON{
		ID:                 e.ID,
		ChannelID:          e.ChannelID,
		FromConfiguration:  e.FromConfiguration,
		ToConfiguration:    e.ToConfiguration,
		FromLevel:          e.FromLevel,
		ToLevel:            e.ToLevel,
		Direction:          e.Direction,
		TriggerPFail:       Number(e.TriggerPFail),
		TriggerTolerance:   Number(e.TriggerTolerance),
		GoalID:             e.GoalID,
		ContextFingerprint: e.ContextFingerprint,
		CacheEntryID:       e.CacheEntryID,
		Timestamp:          e.Timestamp.UTC(),
	})
}

func (e *SwitchEvent) UnmarshalJSON(b []byte) error {
	var w switchEventJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = SwitchEvent{
		ID:                 w.ID,
		ChannelID:          w.ChannelID,
		FromConfiguration:  w.FromConfiguration,
		ToConfiguration:    w.ToConfiguration,
		FromLevel:          w.FromLevel,
		ToLevel:            w.ToLevel,
		Direction:          w.Direction,
		TriggerPFail:       float64(w.TriggerPFail),
		TriggerTolerance:   float64(w.TriggerTolerance),
		GoalID:             w.GoalID,
		ContextFingerprint: w.ContextFingerprint,
		CacheEntryID:       w.CacheEntryID,
		Timestamp:          w.Timestamp,
	}
	return nil
}

// #endregion switch-event

// #region metrics-snapshot
// MetricsSnapshot is one channel's metrics for one cycle.
type MetricsSnapshot struct {
	CycleID   string
	ChannelID string
	Level     int
	GoalID    string // goal whose numbers fill PFail/PFailUCB
	Metrics   channel.Metrics
	Timestamp time.Time
}

type metricsSnapshotJSON struct {
	CycleID            string    `json:"cycle_id"`
	ChannelID          string    `json:"channel_id"`
	Level              int       `json:"level"`
	GoalID             string    `json:"goal_id,omitempty"`
	PFail              Number    `json:"p_fail"`
	PFailUCB           *Number   `json:"p_fail_ucb"`
	MutualInformation  Number    `json:"mutual_information_bits"`
	Capacity           Number    `json:"capacity_bits"`
	EfficiencyPerCost  Number    `json:"efficiency_per_cost"`
	EfficiencyPerToken Number    `json:"efficiency_per_token"`
	EfficiencyPerTime  Number    `json:"efficiency_per_time"`
	NObservations      int       `json:"n_observations"`
	Timestamp          time.Time `json:"timestamp"`
}

func (s MetricsSnapshot) MarshalJSON() ([]byte, error) {
	m := s.Metrics
	return json.Marshal(metricsSnapshotJSON{
		CycleID:            s.CycleID,
		ChannelID:          s.ChannelID,
		Level:              s.Level,
		GoalID:             s.GoalID,
		PFail:              Number(m.PFail),
		PFailUCB:           numberPtr(m.PFailUCB),
		MutualInformation:  Number(m.MutualInformationBits),
		Capacity:           Number(m.CapacityBits),
		EfficiencyPerCost:  Number(m.EfficiencyPerCost),
		EfficiencyPerToken: Number(m.EfficiencyPerToken),
		EfficiencyPerTime:  Number(m.EfficiencyPerTime),
		NObservations:      m.NObservations,
		Timestamp:          s.Timestamp.UTC(),
	})
}

func (s *MetricsSnapshot) UnmarshalJSON(b []byte) error {
	var w metricsSnapshotJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	unptr := func(n *Number) *float64 {
		if n == nil {
			return nil
		}
		v := float64(*n)
		return &v
	}
	*s = MetricsSnapshot{
		CycleID:   w.CycleID,
		ChannelID: w.ChannelID,
		Level:     w.Level,
		GoalID:    w.GoalID,
		Metrics: channel.Metrics{
			PFail:                 float64(w.PFail),
			PFailUCB:              unptr(w.PFailUCB),
			MutualInformationBits: float64(w.MutualInformation),
			CapacityBits:          float64(w.Capacity),
			EfficiencyPerCost:     float64(w.EfficiencyPerCost),
			EfficiencyPerToken:    float64(w.EfficiencyPerToken),
			EfficiencyPerTime:     float64(w.EfficiencyPerTime),
			NObservations:         w.NObservations,
		},
		Timestamp: w.Timestamp,
	}
	return nil
}

// #endregion metrics-snapshot
