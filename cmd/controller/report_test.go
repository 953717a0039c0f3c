package main

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/escalation"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/gate"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
)

func TestCycleReportEncodesInfinities(t *testing.T) {
	res := escalation.CycleResult{
		CycleID:   "c1",
		StartedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		ChannelMetrics: map[string]channel.Metrics{
			"b": {EfficiencyPerCost: math.Inf(1), NObservations: 3},
			"a": {NObservations: 40},
		},
		Decisions: map[string]escalation.Decision{
			"b": {GoalID: "no-errors", GateDecision: gate.GateDecision{Action: gate.ActionEscalate, Target: 2, Ratio: math.Inf(1)}},
			"a": {GateDecision: gate.GateDecision{Action: gate.ActionHold}},
		},
		Fingerprints: map[string]string{"a": "fa", "b": "fb"},
	}

	data, err := json.Marshal(newCycleReport(res))
	require.NoError(t, err)

	var out struct {
		Channels []struct {
			Channel string `json:"channel"`
			Ratio   any    `json:"ratio"`
			Target  int    `json:"target_level"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Channels, 2)
	assert.Equal(t, "a", out.Channels[0].Channel, "channels are sorted")
	assert.Equal(t, "inf", out.Channels[1].Ratio)
	assert.Equal(t, 2, out.Channels[1].Target)
}

func TestCycleReportShowsLevelAfterSwitch(t *testing.T) {
	res := escalation.CycleResult{
		CycleID:   "c2",
		StartedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Decisions: map[string]escalation.Decision{
			"extract": {GateDecision: gate.GateDecision{Action: gate.ActionEscalate, From: 0, Target: 2}},
			"rank":    {GateDecision: gate.GateDecision{Action: gate.ActionDeEscalate, From: 1, Target: 0}},
			"route":   {GateDecision: gate.GateDecision{Action: gate.ActionHold, From: 1, Target: 1}},
		},
		SwitchEvents: []logging.SwitchEvent{
			{ChannelID: "extract", FromLevel: 0, ToLevel: 2, Direction: logging.Escalated},
		},
	}

	data, err := json.Marshal(newCycleReport(res))
	require.NoError(t, err)

	var out struct {
		Channels []struct {
			Channel string `json:"channel"`
			From    int    `json:"from_level"`
			Metrics struct {
				Level int `json:"level"`
			} `json:"metrics"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Channels, 3)

	levels := map[string]int{}
	for _, c := range out.Channels {
		levels[c.Channel] = c.Metrics.Level
	}
	assert.Equal(t, 2, levels["extract"], "escalated channel reports its new level")
	assert.Equal(t, 1, levels["rank"], "a move with no switch event keeps the old level")
	assert.Equal(t, 1, levels["route"])
	assert.Equal(t, 0, out.Channels[0].From)
}
