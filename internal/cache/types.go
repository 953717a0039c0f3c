package cache

import (
	"context"
	"time"
)

// #region competency-type
// CompetencyType classifies a cached adaptation by the kind of change it made.
type CompetencyType string

const (
	Sensitization CompetencyType = "sensitization" // tier 0, escalating
	Habituation   CompetencyType = "habituation"   // tier 0, relaxing
	Associative   CompetencyType = "associative"   // tier 1
	Homeostatic   CompetencyType = "homeostatic"   // tier 2 and above
)

// #endregion competency-type

// #region adaptation
// Adaptation is the payload of a cached configuration change.
type Adaptation struct {
	ConfigurationID string   `json:"configuration_id"`
	Level           int      `json:"level"`
	ChangedFields   []string `json:"changed_fields"`
	Escalating      bool     `json:"escalating"`
	ToolsAdded      int      `json:"tools_added,omitempty"`
	PromptChanged   bool     `json:"prompt_changed,omitempty"`
	ModelChanged    bool     `json:"model_changed,omitempty"`
	StageAdded      bool     `json:"stage_added,omitempty"`
}

// CachedAdaptation is a previously successful configuration, keyed by
// channel and context fingerprint. Never deleted by the cache.
type CachedAdaptation struct {
	ID                 string
	ChannelID          string
	ContextFingerprint string
	Key                string
	GoalID             string
	Payload            Adaptation
	CompetencyType     CompetencyType
	StructuralCost     float64
	ReuseCount         int
	SuccessRate        float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// #endregion adaptation

// #region cost-weights
// CostWeights are the increments added to an adaptation's base structural
// cost. They are tunable coefficients, not derived values.
type CostWeights struct {
	PerChangedField float64 `mapstructure:"per_changed_field" yaml:"per_changed_field"`
	PerToolAdded    float64 `mapstructure:"per_tool_added" yaml:"per_tool_added"`
	PromptChange    float64 `mapstructure:"prompt_change" yaml:"prompt_change"`
	ModelChange     float64 `mapstructure:"model_change" yaml:"model_change"`
	StageAdded      float64 `mapstructure:"stage_added" yaml:"stage_added"`
}

// DefaultCostWeights returns the starting coefficients.
func DefaultCostWeights() CostWeights {
	return CostWeights{
		PerChangedField: 0.25,
		PerToolAdded:    0.5,
		PromptChange:    0.5,
		ModelChange:     1.0,
		StageAdded:      2.0,
	}
}

// #endregion cost-weights

// #region backend
// Backend persists cache rows. The in-memory index stays authoritative;
// backend writes are best-effort.
type Backend interface {
	SaveAdaptation(ctx context.Context, a CachedAdaptation) error
	LoadAdaptations(ctx context.Context) ([]CachedAdaptation, error)
}

// #endregion backend
