package escalation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cache"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cascade"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/eval"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/gate"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/metrics"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

// #region interfaces

// ObservationSource returns a channel's observations with since <= ts < until,
// ordered by timestamp. Implemented by state.Store and instrument.MemorySource.
type ObservationSource interface {
	Query(ctx context.Context, channelID string, since, until time.Time) ([]channel.Observation, error)
}

// HealthProvider reports external resource health for the context
// fingerprint. Implemented by health.Provider and health.Static.
type HealthProvider interface {
	Snapshot(ctx context.Context) (map[string]string, error)
}

// AuditSink receives switch events and metrics snapshots. Failures are
// logged and never change a decision.
type AuditSink interface {
	RecordSwitch(ctx context.Context, ev logging.SwitchEvent) error
	RecordSnapshot(ctx context.Context, snap logging.MetricsSnapshot) error
}

// #endregion interfaces

// #region config

// Config holds the controller's decision settings.
type Config struct {
	Gate        gate.GateConfig
	Eval        eval.EvalConfig
	Cascade     cascade.Config
	Parallelism int           // channels evaluated concurrently
	ErrorWindow time.Duration // recent window for the fingerprint's error regime
}

// DefaultConfig returns the standard control-loop settings.
func DefaultConfig() Config {
	return Config{
		Gate:        gate.DefaultGateConfig(),
		Eval:        eval.DefaultEvalConfig(),
		Cascade:     cascade.DefaultConfig(),
		Parallelism: 4,
		ErrorWindow: 300 * time.Second,
	}
}

// Deps are the collaborators a controller is built from. Registry, Goals
// and Source are required; the rest are optional.
type Deps struct {
	Registry  *registry.Store
	Goals     *goals.Registry
	Cache     *cache.Cache // nil: an unpersisted cache with default weights
	Source    ObservationSource
	Health    HealthProvider
	Audit     AuditSink
	Metrics   *metrics.Collector
	Modulator goals.Modulator
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// #endregion config

// #region result

// CycleResult is everything one evaluation cycle produced.
type CycleResult struct {
	CycleID        string
	StartedAt      time.Time
	ChannelMetrics map[string]channel.Metrics
	GoalStatuses   []eval.GoalStatus
	SwitchEvents   []logging.SwitchEvent
	Triggers       []cascade.Trigger
	Decisions      map[string]Decision
	Fingerprints   map[string]string
	Bottleneck     channel.BottleneckReport
}

// Decision is the combined per-channel verdict and the goal that governed it.
type Decision struct {
	GoalID string
	gate.GateDecision
}

// #endregion result

// #region channel-state

// pendingReuse tracks a cache hit whose outcome is not yet known.
type pendingReuse struct {
	entryID string
	goalID  string
	since   time.Time
}

// #endregion channel-state
