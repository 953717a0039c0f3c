package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.DBPath, cfg.DBPath)
	assert.Equal(t, d.Schedule, cfg.Schedule)
	assert.Equal(t, d.Cost, cfg.Cost)
	assert.Equal(t, d.Redis.RedisConfig, cfg.Redis.RedisConfig)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 20, cfg.GateConfig().MinObservations)
	assert.Equal(t, 60*time.Second, cfg.GateConfig().EscalationCooldown)
	assert.Equal(t, 300*time.Second, cfg.GateConfig().DeEscalationCooldown)
	assert.Equal(t, 0.95, cfg.EvalConfig().Confidence)
	assert.Equal(t, 0.05, cfg.CascadeConfig().Delta)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "controller.yaml", `
db_path: /var/lib/partition/state.db
min_observations: 30
gate:
  escalation_cooldown: 90s
cost:
  model_change: 2.5
redis:
  enabled: true
  addr: redis:6379
  prefix: prod
`)
	t.Setenv("PARTITION_PARALLELISM", "8")
	t.Setenv("PARTITION_GATE_DE_ESCALATION_COOLDOWN", "10m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/partition/state.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, 90*time.Second, cfg.Gate.EscalationCooldown)
	assert.Equal(t, 10*time.Minute, cfg.Gate.DeEscalationCooldown)
	assert.Equal(t, 2.5, cfg.Cost.ModelChange)
	assert.Equal(t, 0.25, cfg.Cost.PerChangedField, "unset weights keep defaults")
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "prod", cfg.Redis.Prefix)

	assert.Equal(t, 30, cfg.GateConfig().MinObservations)
	assert.Equal(t, 30, cfg.EvalConfig().MinObservations)
	assert.Equal(t, 30, cfg.CascadeConfig().MinObservations)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.DBPath = "" },
		func(c *Config) { c.Parallelism = 0 },
		func(c *Config) { c.Eval.Confidence = 1 },
		func(c *Config) { c.Cascade.Delta = 0 },
		func(c *Config) { c.Gate.RelaxFactor = 1.5 },
		func(c *Config) { c.Gate.SevereFactor = 1 },
		func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" },
	}
	for i, mutate := range bad {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

const manifestYAML = `
channels:
  - id: route
    classifier:
      type: keyword
      scheme: route-kw
      input_rules:
        - symbol: billing
          keywords: [invoice, refund]
        - symbol: tech
          keywords: [error, crash]
      input_fallback: other
      output_rules:
        - symbol: billing
          keywords: [billing]
        - symbol: tech
          keywords: [tech]
      output_fallback: other
      error_symbol: error
    configurations:
      - {id: route-0, level: 0, protocol: passive}
      - {id: route-1, level: 1, protocol: confirm}
      - {id: route-2, level: 2, protocol: crosscheck, model_override: large}
  - id: extract
    classifier:
      scheme: extract-sym
      inputs: [a, b]
      outputs: [a, b, error]
      error_symbol: error
    configurations:
      - {level: 0, protocol: passive}
      - {level: 1, protocol: confirm}
      - {level: 2, protocol: crosscheck}
goals:
  - id: no-errors
    tier: mission_critical
    tolerance: 0
    window: 10m
    predicate:
      output_in: [error]
  - id: route-accuracy
    tier: operational
    tolerance: 0.1
    window: 5m
    scope: route
    priority: 1
    min_tier: 1
    predicate:
      pairs:
        - {input: billing, expected: billing}
        - {input: tech, expected: tech}
      latency_above: 2s
`

func TestManifestApply(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)
	require.Len(t, m.Channels, 2)

	reg := registry.NewStore(nil, nil)
	gr := goals.NewRegistry(nil)
	require.NoError(t, m.Apply(reg, gr))

	assert.ElementsMatch(t, []string{"route", "extract"}, reg.Channels())

	cfg, err := reg.Configuration("route", registry.LevelCritical)
	require.NoError(t, err)
	assert.Equal(t, "route-2", cfg.ID)
	assert.Equal(t, "large", cfg.ModelOverride)
	assert.Equal(t, "route-kw", cfg.ClassifierSchemeID, "scheme defaults to the classifier's")

	cls, err := reg.Classifier("route")
	require.NoError(t, err)
	assert.Equal(t, "billing", cls.ClassifyInput("Please refund my invoice"))
	assert.Equal(t, []string{"billing", "tech", "other"}, cls.InputAlphabet())

	g, ok := gr.Get("no-errors")
	require.True(t, ok)
	assert.Equal(t, goals.AllChannels, g.ChannelScope)
	assert.True(t, g.Predicate.Failed(channel.Observation{OutputSymbol: "error"}))

	acc, ok := gr.Get("route-accuracy")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, acc.Window)
	assert.True(t, acc.Predicate.Failed(channel.Observation{InputSymbol: "billing", OutputSymbol: "tech"}))
	assert.True(t, acc.Predicate.Failed(channel.Observation{InputSymbol: "tech", OutputSymbol: "tech", Latency: 3 * time.Second}))
	assert.False(t, acc.Predicate.Failed(channel.Observation{InputSymbol: "tech", OutputSymbol: "tech", Latency: time.Second}))
}

func TestManifestRejects(t *testing.T) {
	_, err := ParseManifest([]byte("channels: []\n"))
	assert.Error(t, err)

	_, err = ParseManifest([]byte("channels:\n  - id: x\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")

	m, err := ParseManifest([]byte(`
channels:
  - id: x
    classifier: {type: neural, scheme: s}
    configurations: []
`))
	require.NoError(t, err)
	err = m.Apply(registry.NewStore(nil, nil), goals.NewRegistry(nil))
	assert.True(t, errors.Is(err, registry.ErrInvalidConfiguration))

	m, err = ParseManifest([]byte(`
channels:
  - id: x
    classifier: {scheme: s, inputs: [a], outputs: [a]}
    configurations:
      - {level: 0, protocol: passive}
      - {level: 1, protocol: confirm}
      - {level: 2, protocol: crosscheck}
goals:
  - {id: empty, tier: operational, tolerance: 0.1, window: 1m}
`))
	require.NoError(t, err)
	err = m.Apply(registry.NewStore(nil, nil), goals.NewRegistry(nil))
	assert.True(t, errors.Is(err, goals.ErrInvalidGoal), "goal without predicate rejected")
}

func TestLoadManifestFile(t *testing.T) {
	path := writeFile(t, "manifest.yaml", manifestYAML)
	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Goals, 2)
}
