package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the fixed-width UTC timestamp stored in audit tables, so
// text ordering matches time ordering.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region log-switch
// LogSwitch writes a switch event to the switch_events table. Numeric
// columns hold the rounded values; payload_json holds the full record.
func LogSwitch(db *sql.DB, ev SwitchEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal switch event: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO switch_events (id, channel_id, from_configuration, to_configuration, from_level, to_level,
		 direction, trigger_p_fail, trigger_tolerance, goal_id, context_fingerprint, cache_entry_id, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.ChannelID,
		ev.FromConfiguration,
		ev.ToConfiguration,
		ev.FromLevel,
		ev.ToLevel,
		string(ev.Direction),
		Round(ev.TriggerPFail),
		Round(ev.TriggerTolerance),
		nullIfEmpty(ev.GoalID),
		nullIfEmpty(ev.ContextFingerprint),
		nullIfEmpty(ev.CacheEntryID),
		string(payload),
		ev.Timestamp.UTC().Format(TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("log switch: %w", err)
	}
	return nil
}

// #endregion log-switch

// #region log-snapshot
// LogSnapshot writes a channel metrics snapshot to metrics_snapshots.
func LogSnapshot(db *sql.DB, snap MetricsSnapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO metrics_snapshots (cycle_id, channel_id, level, goal_id, n_observations, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(snap.CycleID),
		snap.ChannelID,
		snap.Level,
		nullIfEmpty(snap.GoalID),
		snap.Metrics.NObservations,
		string(payload),
		snap.Timestamp.UTC().Format(TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("log snapshot: %w", err)
	}
	return nil
}

// #endregion log-snapshot

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
