package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/config"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/escalation"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description  string            `json:"description"`
	Start        time.Time         `json:"start"`
	ManifestFile string            `json:"manifest_file"` // relative to the fixture
	Health       map[string]string `json:"health"`
	Config       FixtureConfig     `json:"config"`
	Steps        []FixtureStep     `json:"steps"`

	dir string
}

// FixtureConfig overrides controller settings. Zero values keep defaults.
type FixtureConfig struct {
	MinObservations      int      `json:"min_observations"`
	Confidence           float64  `json:"confidence"`
	EscalationCooldown   Duration `json:"escalation_cooldown"`
	DeEscalationCooldown Duration `json:"de_escalation_cooldown"`
	ErrorWindow          Duration `json:"error_window"`
}

// FixtureStep advances the clock, records traffic, then runs one cycle.
type FixtureStep struct {
	Name         string          `json:"name"`
	Advance      Duration        `json:"advance"`
	Observations []FixtureBatch  `json:"observations"`
	Expect       []ExpectedEvent `json:"expect"`
}

// FixtureBatch is Count identical observations spread evenly over the
// Spread preceding the step's cycle time.
type FixtureBatch struct {
	Channel string   `json:"channel"`
	Input   string   `json:"input"`
	Output  string   `json:"output"`
	Count   int      `json:"count"`
	Spread  Duration `json:"spread"`
	Latency Duration `json:"latency"`
	Cost    float64  `json:"cost"`
	Tokens  int      `json:"tokens"`
}

// ExpectedEvent is a switch event the step must emit.
type ExpectedEvent struct {
	Channel   string `json:"channel"`
	Direction string `json:"direction"`
	ToLevel   int    `json:"to_level"`
}

// Duration reads Go duration strings ("90s") from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Start.IsZero() {
		return nil, fmt.Errorf("fixture %s: start time is required", path)
	}
	f.dir = filepath.Dir(path)
	return &f, nil
}

// Manifest loads the fixture's channel/goal manifest.
func (f *Fixture) Manifest() (*config.Manifest, error) {
	if f.ManifestFile == "" {
		return nil, fmt.Errorf("fixture has no manifest_file")
	}
	path := f.ManifestFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.dir, path)
	}
	return config.LoadManifest(path)
}

// ControllerConfig applies the overrides to the default controller config.
func (fc FixtureConfig) ControllerConfig() escalation.Config {
	cfg := escalation.DefaultConfig()
	cfg.Parallelism = 1
	if fc.MinObservations > 0 {
		cfg.Gate.MinObservations = fc.MinObservations
		cfg.Eval.MinObservations = fc.MinObservations
		cfg.Cascade.MinObservations = fc.MinObservations
	}
	if fc.Confidence > 0 {
		cfg.Eval.Confidence = fc.Confidence
	}
	if fc.EscalationCooldown > 0 {
		cfg.Gate.EscalationCooldown = time.Duration(fc.EscalationCooldown)
	}
	if fc.DeEscalationCooldown > 0 {
		cfg.Gate.DeEscalationCooldown = time.Duration(fc.DeEscalationCooldown)
	}
	if fc.ErrorWindow > 0 {
		cfg.ErrorWindow = time.Duration(fc.ErrorWindow)
	}
	return cfg
}

// Expand turns the batch into observations ending just before at.
func (b FixtureBatch) Expand(at time.Time) []channel.Observation {
	if b.Count <= 0 {
		return nil
	}
	spread := time.Duration(b.Spread)
	if spread <= 0 {
		spread = time.Duration(b.Count) * time.Second
	}
	step := spread / time.Duration(b.Count)
	obs := make([]channel.Observation, b.Count)
	for i := range obs {
		obs[i] = channel.Observation{
			ChannelID:    b.Channel,
			InputSymbol:  b.Input,
			OutputSymbol: b.Output,
			Timestamp:    at.Add(-spread + time.Duration(i)*step),
			Latency:      time.Duration(b.Latency),
			Cost:         b.Cost,
			TokenCount:   b.Tokens,
		}
	}
	return obs
}

// #endregion fixture-loader
