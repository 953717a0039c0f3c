// Package state is the SQLite persistence layer: recorded observations,
// the switch-event audit log, metrics snapshots, cached adaptations and
// the active-configuration pointers.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cache"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id    TEXT NOT NULL,
	input_symbol  TEXT NOT NULL,
	output_symbol TEXT NOT NULL,
	ts            INTEGER NOT NULL,
	latency_ns    INTEGER NOT NULL,
	cost          REAL NOT NULL,
	token_count   INTEGER NOT NULL,
	path_id       TEXT,
	trace_id      TEXT
);
CREATE INDEX IF NOT EXISTS idx_observations_channel_ts ON observations(channel_id, ts);

CREATE TABLE IF NOT EXISTS switch_events (
	id                  TEXT PRIMARY KEY,
	channel_id          TEXT NOT NULL,
	from_configuration  TEXT NOT NULL,
	to_configuration    TEXT NOT NULL,
	from_level          INTEGER NOT NULL,
	to_level            INTEGER NOT NULL,
	direction           TEXT NOT NULL,
	trigger_p_fail      REAL NOT NULL,
	trigger_tolerance   REAL NOT NULL,
	goal_id             TEXT,
	context_fingerprint TEXT,
	cache_entry_id      TEXT,
	payload_json        TEXT NOT NULL,
	created_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_switch_events_channel ON switch_events(channel_id, created_at);

CREATE TABLE IF NOT EXISTS metrics_snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id       TEXT,
	channel_id     TEXT NOT NULL,
	level          INTEGER NOT NULL,
	goal_id        TEXT,
	n_observations INTEGER NOT NULL,
	payload_json   TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_snapshots_channel ON metrics_snapshots(channel_id, created_at);

CREATE TABLE IF NOT EXISTS cached_adaptations (
	id                  TEXT PRIMARY KEY,
	channel_id          TEXT NOT NULL,
	context_fingerprint TEXT NOT NULL,
	cache_key           TEXT NOT NULL,
	goal_id             TEXT,
	payload_json        TEXT NOT NULL,
	competency_type     TEXT NOT NULL,
	structural_cost     REAL NOT NULL,
	reuse_count         INTEGER NOT NULL,
	success_rate        REAL NOT NULL,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cached_adaptations_lookup ON cached_adaptations(channel_id, context_fingerprint);

CREATE TABLE IF NOT EXISTS active_configurations (
	channel_id       TEXT PRIMARY KEY,
	configuration_id TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store manages controller state in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region observations
// InsertObservations appends observations in one transaction.
func (s *Store) InsertObservations(ctx context.Context, obs []channel.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (channel_id, input_symbol, output_symbol, ts, latency_ns, cost, token_count, path_id, trace_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		_, err := stmt.ExecContext(ctx,
			o.ChannelID, o.InputSymbol, o.OutputSymbol, o.Timestamp.UnixNano(),
			int64(o.Latency), o.Cost, o.TokenCount, nullIfEmpty(o.PathID), nullIfEmpty(o.TraceID),
		)
		if err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query returns a channel's observations with since <= ts < until, oldest first.
func (s *Store) Query(ctx context.Context, channelID string, since, until time.Time) ([]channel.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, input_symbol, output_symbol, ts, latency_ns, cost, token_count, path_id, trace_id
		 FROM observations WHERE channel_id = ? AND ts >= ? AND ts < ? ORDER BY ts, id`,
		channelID, since.UnixNano(), until.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []channel.Observation
	for rows.Next() {
		var o channel.Observation
		var ts, latency int64
		var pathID, traceID sql.NullString
		if err := rows.Scan(&o.ChannelID, &o.InputSymbol, &o.OutputSymbol, &ts, &latency, &o.Cost, &o.TokenCount, &pathID, &traceID); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Timestamp = time.Unix(0, ts).UTC()
		o.Latency = time.Duration(latency)
		o.PathID = pathID.String
		o.TraceID = traceID.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// #endregion observations

// #region audit
// RecordSwitch appends a switch event to the audit log.
func (s *Store) RecordSwitch(_ context.Context, ev logging.SwitchEvent) error {
	return logging.LogSwitch(s.db, ev)
}

// RecordSnapshot appends a metrics snapshot.
func (s *Store) RecordSnapshot(_ context.Context, snap logging.MetricsSnapshot) error {
	return logging.LogSnapshot(s.db, snap)
}

// ListSwitchEvents returns the most recent switch events, newest first.
// An empty channelID lists every channel.
func (s *Store) ListSwitchEvents(ctx context.Context, channelID string, limit int) ([]logging.SwitchEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM switch_events
		 WHERE (? = '' OR channel_id = ?) ORDER BY created_at DESC LIMIT ?`,
		channelID, channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list switch events: %w", err)
	}
	defer rows.Close()

	var out []logging.SwitchEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var ev logging.SwitchEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal switch event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListSnapshots returns the most recent metrics snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, channelID string, limit int) ([]logging.MetricsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM metrics_snapshots
		 WHERE (? = '' OR channel_id = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		channelID, channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []logging.MetricsSnapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var snap logging.MetricsSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// #endregion audit

// #region adaptations
// SaveAdaptation upserts a cached adaptation row by ID.
func (s *Store) SaveAdaptation(ctx context.Context, a cache.CachedAdaptation) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal adaptation payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cached_adaptations (id, channel_id, context_fingerprint, cache_key, goal_id, payload_json,
		 competency_type, structural_cost, reuse_count, success_rate, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   payload_json = excluded.payload_json,
		   reuse_count = excluded.reuse_count,
		   success_rate = excluded.success_rate,
		   updated_at = excluded.updated_at`,
		a.ID, a.ChannelID, a.ContextFingerprint, a.Key, nullIfEmpty(a.GoalID), string(payload),
		string(a.CompetencyType), a.StructuralCost, a.ReuseCount, a.SuccessRate,
		a.CreatedAt.UTC().Format(logging.TimeLayout), a.UpdatedAt.UTC().Format(logging.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("save adaptation: %w", err)
	}
	return nil
}

// LoadAdaptations returns every cached adaptation row.
func (s *Store) LoadAdaptations(ctx context.Context) ([]cache.CachedAdaptation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, context_fingerprint, cache_key, goal_id, payload_json,
		 competency_type, structural_cost, reuse_count, success_rate, created_at, updated_at
		 FROM cached_adaptations ORDER BY channel_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("load adaptations: %w", err)
	}
	defer rows.Close()

	var out []cache.CachedAdaptation
	for rows.Next() {
		var a cache.CachedAdaptation
		var goalID sql.NullString
		var payload, competency, createdStr, updatedStr string
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.ContextFingerprint, &a.Key, &goalID, &payload,
			&competency, &a.StructuralCost, &a.ReuseCount, &a.SuccessRate, &createdStr, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal adaptation %s: %w", a.ID, err)
		}
		a.GoalID = goalID.String
		a.CompetencyType = cache.CompetencyType(competency)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		out = append(out, a)
	}
	return out, rows.Err()
}

// #endregion adaptations

// #region active-pointers
// SaveActive records the channel's active configuration.
func (s *Store) SaveActive(ctx context.Context, channelID, configID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_configurations (channel_id, configuration_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET configuration_id = excluded.configuration_id, updated_at = excluded.updated_at`,
		channelID, configID, time.Now().UTC().Format(logging.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("save active: %w", err)
	}
	return nil
}

// LoadActive returns channel → configuration ID for every recorded pointer.
func (s *Store) LoadActive(ctx context.Context) (map[string]string, error) {
	recs, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.ChannelID] = r.ConfigurationID
	}
	return out, nil
}

// ListActive returns every active pointer ordered by channel.
func (s *Store) ListActive(ctx context.Context) ([]ActiveRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, configuration_id, updated_at FROM active_configurations ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("load active: %w", err)
	}
	defer rows.Close()

	var out []ActiveRecord
	for rows.Next() {
		var r ActiveRecord
		var updatedStr string
		if err := rows.Scan(&r.ChannelID, &r.ConfigurationID, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion active-pointers

// #region retention
// Prune deletes observations and snapshots older than before. The switch
// log and cached adaptations are kept.
func (s *Store) Prune(ctx context.Context, before time.Time) (PruneResult, error) {
	var res PruneResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return res, fmt.Errorf("prune observations: %w", err)
	}
	res.Observations, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, `DELETE FROM metrics_snapshots WHERE created_at < ?`, before.UTC().Format(logging.TimeLayout))
	if err != nil {
		return res, fmt.Errorf("prune snapshots: %w", err)
	}
	res.Snapshots, _ = r.RowsAffected()

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// #endregion retention

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
