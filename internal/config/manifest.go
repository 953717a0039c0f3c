package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

// #region manifest-types

// Manifest declares the monitored channels and the goals over them.
type Manifest struct {
	Channels []ChannelSpec `yaml:"channels"`
	Goals    []GoalSpec    `yaml:"goals"`
}

// ChannelSpec is one channel with its classifier and three configurations.
type ChannelSpec struct {
	ID             string                   `yaml:"id"`
	Classifier     ClassifierSpec           `yaml:"classifier"`
	Configurations []registry.Configuration `yaml:"configurations"`
}

// ClassifierSpec selects a classifier strategy. Type is "symbol" or "keyword".
type ClassifierSpec struct {
	Type           string                 `yaml:"type"`
	Scheme         string                 `yaml:"scheme"`
	Inputs         []string               `yaml:"inputs"`
	Outputs        []string               `yaml:"outputs"`
	InputRules     []registry.KeywordRule `yaml:"input_rules"`
	OutputRules    []registry.KeywordRule `yaml:"output_rules"`
	InputFallback  string                 `yaml:"input_fallback"`
	OutputFallback string                 `yaml:"output_fallback"`
	ErrorSymbol    string                 `yaml:"error_symbol"`
}

// GoalSpec is a goal as written in the manifest.
type GoalSpec struct {
	ID        string        `yaml:"id"`
	Tier      goals.Tier    `yaml:"tier"`
	Tolerance float64       `yaml:"tolerance"`
	Window    time.Duration `yaml:"window"`
	Scope     string        `yaml:"scope"`
	Priority  int           `yaml:"priority"`
	MinTier   int           `yaml:"min_tier"`
	Predicate PredicateSpec `yaml:"predicate"`
}

// PredicateSpec combines failure conditions; an observation fails when any
// of the set fields matches.
type PredicateSpec struct {
	OutputIn     []string      `yaml:"output_in"`
	Pairs        []PairSpec    `yaml:"pairs"`
	LatencyAbove time.Duration `yaml:"latency_above"`
}

// PairSpec fails observations with input Input whose output is not Expected.
type PairSpec struct {
	Input    string `yaml:"input"`
	Expected string `yaml:"expected"`
}

// #endregion manifest-types

// #region load

// LoadManifest reads and decodes a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest YAML. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Channels) == 0 {
		return nil, fmt.Errorf("manifest declares no channels")
	}
	return &m, nil
}

// #endregion load

// #region build

// ChannelRegistrar onboards a channel. Implemented by the escalation
// controller and registry.Store.
type ChannelRegistrar interface {
	RegisterChannel(channelID string, classifier registry.Classifier, configs []registry.Configuration) error
}

// GoalRegistrar accepts goals. Implemented by goals.Registry.
type GoalRegistrar interface {
	Register(g goals.Goal) error
}

// Apply registers every channel and goal. The first failure stops and is
// returned wrapped.
func (m *Manifest) Apply(channels ChannelRegistrar, goalReg GoalRegistrar) error {
	for _, ch := range m.Channels {
		cls, err := ch.Classifier.Build()
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.ID, err)
		}
		configs := make([]registry.Configuration, len(ch.Configurations))
		for i, c := range ch.Configurations {
			if c.ClassifierSchemeID == "" {
				c.ClassifierSchemeID = cls.SchemeID()
			}
			configs[i] = c
		}
		if err := channels.RegisterChannel(ch.ID, cls, configs); err != nil {
			return fmt.Errorf("register channel: %w", err)
		}
	}
	for _, gs := range m.Goals {
		if err := goalReg.Register(gs.Goal()); err != nil {
			return fmt.Errorf("register goal: %w", err)
		}
	}
	return nil
}

// Build returns the classifier this entry describes.
func (s ClassifierSpec) Build() (registry.Classifier, error) {
	switch s.Type {
	case "", "symbol":
		return registry.SymbolClassifier{
			Scheme:      s.Scheme,
			Inputs:      s.Inputs,
			Outputs:     s.Outputs,
			ErrorSymbol: s.ErrorSymbol,
		}, nil
	case "keyword":
		return registry.KeywordClassifier{
			Scheme:         s.Scheme,
			InputRules:     s.InputRules,
			OutputRules:    s.OutputRules,
			InputFallback:  s.InputFallback,
			OutputFallback: s.OutputFallback,
			ErrorSymbol:    s.ErrorSymbol,
		}, nil
	default:
		return nil, fmt.Errorf("unknown classifier type %q: %w", s.Type, registry.ErrInvalidConfiguration)
	}
}

// Goal converts the manifest entry. An empty scope means every channel. Validation is
// left to goals.Registry.Register.
func (s GoalSpec) Goal() goals.Goal {
	scope := s.Scope
	if scope == "" {
		scope = goals.AllChannels
	}
	return goals.Goal{
		ID:           s.ID,
		Tier:         s.Tier,
		Tolerance:    s.Tolerance,
		Window:       s.Window,
		ChannelScope: scope,
		Predicate:    s.Predicate.Build(),
		Priority:     s.Priority,
		MinTier:      s.MinTier,
	}
}

// Build returns nil when no condition is set, which Register rejects.
func (p PredicateSpec) Build() goals.Predicate {
	var preds goals.AnyOf
	if len(p.OutputIn) > 0 {
		preds = append(preds, goals.OutputIn{Symbols: p.OutputIn})
	}
	for _, pair := range p.Pairs {
		preds = append(preds, goals.InputOutputPair{Input: pair.Input, Expected: pair.Expected})
	}
	if p.LatencyAbove > 0 {
		preds = append(preds, goals.LatencyAbove{Limit: p.LatencyAbove})
	}
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	default:
		return preds
	}
}

// #endregion build
