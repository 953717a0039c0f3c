package main

import (
	"sort"
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/escalation"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
)

// #region report

// cycleReport is the JSON form of one cycle. Metrics go through
// logging.MetricsSnapshot so infinite efficiencies encode as strings.
type cycleReport struct {
	CycleID      string                `json:"cycle_id"`
	StartedAt    time.Time             `json:"started_at"`
	Channels     []channelReport       `json:"channels"`
	SwitchEvents []logging.SwitchEvent `json:"switch_events"`
	Triggers     int                   `json:"triggers"`
	Bottleneck   string                `json:"bottleneck,omitempty"`
}

type channelReport struct {
	Channel     string                  `json:"channel"`
	Action      string                  `json:"action"`
	GoalID      string                  `json:"goal_id,omitempty"`
	From        int                     `json:"from_level"`
	Target      int                     `json:"target_level"`
	Ratio       logging.Number          `json:"ratio"`
	Reason      string                  `json:"reason"`
	Fingerprint string                  `json:"fingerprint"`
	Metrics     logging.MetricsSnapshot `json:"metrics"`
}

func newCycleReport(res escalation.CycleResult) cycleReport {
	r := cycleReport{
		CycleID:      res.CycleID,
		StartedAt:    res.StartedAt,
		SwitchEvents: res.SwitchEvents,
		Triggers:     len(res.Triggers),
		Bottleneck:   res.Bottleneck.ChannelID,
	}
	ids := make([]string, 0, len(res.Decisions))
	for id := range res.Decisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	// A decision that moves but lost its swap emits no event and stays put.
	applied := make(map[string]int, len(res.SwitchEvents))
	for _, ev := range res.SwitchEvents {
		applied[ev.ChannelID] = ev.ToLevel
	}
	for _, id := range ids {
		d := res.Decisions[id]
		level, ok := applied[id]
		if !ok {
			level = int(d.From)
		}
		r.Channels = append(r.Channels, channelReport{
			Channel:     id,
			Action:      string(d.Action),
			GoalID:      d.GoalID,
			From:        int(d.From),
			Target:      int(d.Target),
			Ratio:       logging.Number(d.Ratio),
			Reason:      d.Reason,
			Fingerprint: res.Fingerprints[id],
			Metrics: logging.MetricsSnapshot{
				CycleID:   res.CycleID,
				ChannelID: id,
				Level:     level,
				GoalID:    d.GoalID,
				Metrics:   res.ChannelMetrics[id],
				Timestamp: res.StartedAt,
			},
		})
	}
	return r
}

// #endregion report
