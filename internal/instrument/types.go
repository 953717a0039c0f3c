package instrument

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

// #region interfaces

// Recorder accepts an observation without blocking. Returns false when the
// observation was dropped.
type Recorder interface {
	Record(obs channel.Observation) bool
}

// Writer persists a batch of observations. Implemented by the SQLite store
// and by MemorySource.
type Writer interface {
	InsertObservations(ctx context.Context, obs []channel.Observation) error
}

// ClassifierSource resolves a channel's classifier. Implemented by
// registry.Store.
type ClassifierSource interface {
	Classifier(channelID string) (registry.Classifier, error)
}

// Meter extracts cost and token usage from a stage result. Optional.
type Meter func(output any, err error) (cost float64, tokens int)

// #endregion interfaces

// #region config

// PipelineConfig sizes the observation queue and its flush cadence.
type PipelineConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BufferSize:    4096,
		BatchSize:     256,
		FlushInterval: time.Second,
	}
}

// #endregion config

// #region stage-spec

// StageSpec describes one instrumented stage.
type StageSpec struct {
	ChannelID   string
	PathID      string
	Classifiers ClassifierSource
	Recorder    Recorder
	Meter       Meter
	Now         func() time.Time   // defaults to time.Now
	Log         logrus.FieldLogger // defaults to logrus.StandardLogger
}

// #endregion stage-spec
