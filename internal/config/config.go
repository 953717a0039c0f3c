// Package config loads controller settings (viper, PARTITION_* env
// overrides) and the YAML channel/goal manifest.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cache"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cascade"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/eval"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/gate"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/instrument"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/sink"
)

// EnvPrefix prefixes every environment override, e.g. PARTITION_GATE_ESCALATION_COOLDOWN.
const EnvPrefix = "PARTITION"

// #region types

// Config holds the complete controller configuration.
type Config struct {
	DBPath          string        `mapstructure:"db_path"`
	LogLevel        string        `mapstructure:"log_level"`
	Manifest        string        `mapstructure:"manifest"`
	Schedule        string        `mapstructure:"schedule"`
	Parallelism     int           `mapstructure:"parallelism"`
	MinObservations int           `mapstructure:"min_observations"`
	ErrorWindow     time.Duration `mapstructure:"error_window"` // fingerprint error-regime window
	Retention       time.Duration `mapstructure:"retention"`    // 0 keeps everything

	Gate     GateSettings      `mapstructure:"gate"`
	Eval     EvalSettings      `mapstructure:"eval"`
	Cascade  CascadeSettings   `mapstructure:"cascade"`
	Pipeline PipelineSettings  `mapstructure:"pipeline"`
	Cost     cache.CostWeights `mapstructure:"cost"`
	Redis    RedisSettings     `mapstructure:"redis"`
	Health   HealthSettings    `mapstructure:"health"`
	Metrics  MetricsSettings   `mapstructure:"metrics"`
}

// GateSettings holds escalation thresholds and cooldowns.
type GateSettings struct {
	SevereFactor         float64       `mapstructure:"severe_factor"`
	RelaxFactor          float64       `mapstructure:"relax_factor"`
	EscalationCooldown   time.Duration `mapstructure:"escalation_cooldown"`
	DeEscalationCooldown time.Duration `mapstructure:"de_escalation_cooldown"`
}

// EvalSettings holds the goal evaluation quantile.
type EvalSettings struct {
	Confidence float64 `mapstructure:"confidence"`
}

// CascadeSettings holds epsilon-trigger thresholds.
type CascadeSettings struct {
	Delta          float64 `mapstructure:"delta"`
	ModerateFactor float64 `mapstructure:"moderate_factor"`
	SevereFactor   float64 `mapstructure:"severe_factor"`
}

// PipelineSettings sizes the instrumentation queue.
type PipelineSettings struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RedisSettings enables the Redis stream audit sink.
type RedisSettings struct {
	Enabled          bool `mapstructure:"enabled"`
	sink.RedisConfig `mapstructure:",squash"`
}

// HealthSettings points at a gRPC health-v1 endpoint. An empty Addr uses a
// static snapshot.
type HealthSettings struct {
	Addr     string        `mapstructure:"addr"`
	Services []string      `mapstructure:"services"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Serve    string        `mapstructure:"serve"` // listen address for the controller's own health service
}

// MetricsSettings holds the Prometheus listen address. Empty disables it.
type MetricsSettings struct {
	Addr string `mapstructure:"addr"`
}

// #endregion types

// #region defaults

// Default returns a configuration with default values.
func Default() Config {
	g := gate.DefaultGateConfig()
	e := eval.DefaultEvalConfig()
	c := cascade.DefaultConfig()
	p := instrument.DefaultPipelineConfig()
	return Config{
		DBPath:          "partition.db",
		LogLevel:        "info",
		Manifest:        "manifest.yaml",
		Schedule:        "@every 30s",
		Parallelism:     4,
		MinObservations: g.MinObservations,
		ErrorWindow:     300 * time.Second,
		Retention:       7 * 24 * time.Hour,
		Gate: GateSettings{
			SevereFactor:         g.SevereFactor,
			RelaxFactor:          g.RelaxFactor,
			EscalationCooldown:   g.EscalationCooldown,
			DeEscalationCooldown: g.DeEscalationCooldown,
		},
		Eval: EvalSettings{Confidence: e.Confidence},
		Cascade: CascadeSettings{
			Delta:          c.Delta,
			ModerateFactor: c.ModerateFactor,
			SevereFactor:   c.SevereFactor,
		},
		Pipeline: PipelineSettings{
			BufferSize:    p.BufferSize,
			BatchSize:     p.BatchSize,
			FlushInterval: p.FlushInterval,
		},
		Cost: cache.DefaultCostWeights(),
		Redis: RedisSettings{
			RedisConfig: sink.RedisConfig{Addr: "localhost:6379", Prefix: "partition", MaxLen: 10000},
		},
		Health: HealthSettings{Timeout: 2 * time.Second},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("manifest", d.Manifest)
	v.SetDefault("schedule", d.Schedule)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("min_observations", d.MinObservations)
	v.SetDefault("error_window", d.ErrorWindow)
	v.SetDefault("retention", d.Retention)

	v.SetDefault("gate.severe_factor", d.Gate.SevereFactor)
	v.SetDefault("gate.relax_factor", d.Gate.RelaxFactor)
	v.SetDefault("gate.escalation_cooldown", d.Gate.EscalationCooldown)
	v.SetDefault("gate.de_escalation_cooldown", d.Gate.DeEscalationCooldown)
	v.SetDefault("eval.confidence", d.Eval.Confidence)
	v.SetDefault("cascade.delta", d.Cascade.Delta)
	v.SetDefault("cascade.moderate_factor", d.Cascade.ModerateFactor)
	v.SetDefault("cascade.severe_factor", d.Cascade.SevereFactor)
	v.SetDefault("pipeline.buffer_size", d.Pipeline.BufferSize)
	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.flush_interval", d.Pipeline.FlushInterval)

	v.SetDefault("cost.per_changed_field", d.Cost.PerChangedField)
	v.SetDefault("cost.per_tool_added", d.Cost.PerToolAdded)
	v.SetDefault("cost.prompt_change", d.Cost.PromptChange)
	v.SetDefault("cost.model_change", d.Cost.ModelChange)
	v.SetDefault("cost.stage_added", d.Cost.StageAdded)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.max_len", d.Redis.MaxLen)

	v.SetDefault("health.addr", d.Health.Addr)
	v.SetDefault("health.services", d.Health.Services)
	v.SetDefault("health.timeout", d.Health.Timeout)
	v.SetDefault("health.serve", d.Health.Serve)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// #endregion defaults

// #region load

// Load reads path (YAML) over the defaults and applies PARTITION_*
// environment overrides. An empty path reads defaults and env only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("db_path is required")
	case c.Parallelism < 1:
		return fmt.Errorf("parallelism must be >= 1, got %d", c.Parallelism)
	case c.MinObservations < 1:
		return fmt.Errorf("min_observations must be >= 1, got %d", c.MinObservations)
	case c.ErrorWindow <= 0:
		return fmt.Errorf("error_window must be positive")
	case c.Retention < 0:
		return fmt.Errorf("retention must not be negative")
	case c.Eval.Confidence <= 0 || c.Eval.Confidence >= 1:
		return fmt.Errorf("eval.confidence must be in (0,1), got %g", c.Eval.Confidence)
	case c.Cascade.Delta <= 0 || c.Cascade.Delta >= 1:
		return fmt.Errorf("cascade.delta must be in (0,1), got %g", c.Cascade.Delta)
	case c.Gate.SevereFactor <= 1:
		return fmt.Errorf("gate.severe_factor must be > 1, got %g", c.Gate.SevereFactor)
	case c.Gate.RelaxFactor <= 0 || c.Gate.RelaxFactor >= 1:
		return fmt.Errorf("gate.relax_factor must be in (0,1), got %g", c.Gate.RelaxFactor)
	case c.Gate.EscalationCooldown < 0 || c.Gate.DeEscalationCooldown < 0:
		return fmt.Errorf("gate cooldowns must not be negative")
	case c.Pipeline.BufferSize < 1 || c.Pipeline.BatchSize < 1:
		return fmt.Errorf("pipeline buffer_size and batch_size must be >= 1")
	case c.Redis.Enabled && c.Redis.Addr == "":
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// #endregion load

// #region component-configs

// GateConfig returns the gate settings.
func (c Config) GateConfig() gate.GateConfig {
	return gate.GateConfig{
		MinObservations:      c.MinObservations,
		SevereFactor:         c.Gate.SevereFactor,
		RelaxFactor:          c.Gate.RelaxFactor,
		EscalationCooldown:   c.Gate.EscalationCooldown,
		DeEscalationCooldown: c.Gate.DeEscalationCooldown,
	}
}

func (c Config) EvalConfig() eval.EvalConfig {
	return eval.EvalConfig{Confidence: c.Eval.Confidence, MinObservations: c.MinObservations}
}

func (c Config) CascadeConfig() cascade.Config {
	return cascade.Config{
		Delta:           c.Cascade.Delta,
		MinObservations: c.MinObservations,
		ModerateFactor:  c.Cascade.ModerateFactor,
		SevereFactor:    c.Cascade.SevereFactor,
	}
}

func (c Config) PipelineConfig() instrument.PipelineConfig {
	return instrument.PipelineConfig{
		BufferSize:    c.Pipeline.BufferSize,
		BatchSize:     c.Pipeline.BatchSize,
		FlushInterval: c.Pipeline.FlushInterval,
	}
}

// #endregion component-configs
