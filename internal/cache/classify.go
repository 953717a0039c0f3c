package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// #region classify
// ClassifyAdaptation maps an intervention tier and direction to a competency type.
func ClassifyAdaptation(tier int, payload Adaptation) CompetencyType {
	switch {
	case tier <= 0 && payload.Escalating:
		return Sensitization
	case tier <= 0:
		return Habituation
	case tier == 1:
		return Associative
	default:
		return Homeostatic
	}
}

// InferTier derives the intervention tier from what a payload changed:
// an added stage is a scale reorganization (3), a protocol change moves a
// boundary (2), a model change is a reconfiguration (1), anything else is
// parameter tuning (0).
func InferTier(payload Adaptation) int {
	if payload.StageAdded {
		return 3
	}
	tier := 0
	for _, f := range payload.ChangedFields {
		switch f {
		case "protocol":
			if tier < 2 {
				tier = 2
			}
		case "model_override":
			if tier < 1 {
				tier = 1
			}
		}
	}
	if payload.ModelChanged && tier < 1 {
		tier = 1
	}
	return tier
}

// #endregion classify

// #region structural-cost
var baseCost = map[CompetencyType]float64{
	Sensitization: 1,
	Habituation:   1,
	Associative:   2,
	Homeostatic:   3,
}

// StructuralCost is the base cost of the adaptation's competency type plus
// weighted increments for each kind of change it made.
func StructuralCost(payload Adaptation, tier int, w CostWeights) float64 {
	cost := baseCost[ClassifyAdaptation(tier, payload)]
	cost += w.PerChangedField * float64(len(payload.ChangedFields))
	cost += w.PerToolAdded * float64(payload.ToolsAdded)
	if payload.PromptChanged {
		cost += w.PromptChange
	}
	if payload.ModelChanged {
		cost += w.ModelChange
	}
	if payload.StageAdded {
		cost += w.StageAdded
	}
	return cost
}

// #endregion structural-cost

// #region key
// Key is the deterministic lookup key for an adaptation: a hash of the
// channel, the goal, and the sorted set of changed field names.
func Key(channelID, goalID string, changedFields []string) string {
	fields := make([]string, 0, len(changedFields))
	seen := make(map[string]bool, len(changedFields))
	for _, f := range changedFields {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	h := sha256.New()
	h.Write([]byte(channelID))
	h.Write([]byte{0})
	h.Write([]byte(goalID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(fields, ",")))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// #endregion key
