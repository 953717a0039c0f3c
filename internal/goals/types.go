package goals

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

// #region tier
// Tier is a goal's criticality.
type Tier string

const (
	MissionCritical Tier = "mission_critical"
	Operational     Tier = "operational"
)

// AllChannels is the scope value that matches every channel.
const AllChannels = "*"

// MaxCascadeTier is the highest intervention tier a goal may declare.
const MaxCascadeTier = 3

// ErrInvalidGoal is returned by Register for malformed goals.
var ErrInvalidGoal = errors.New("invalid goal")

// #endregion tier

// #region goal
// Predicate reports whether an observation is a failure for a goal.
type Predicate interface {
	Failed(obs channel.Observation) bool
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(obs channel.Observation) bool

func (f PredicateFunc) Failed(obs channel.Observation) bool { return f(obs) }

// Goal is a declared failure tolerance over a window of observations.
// Mission-critical goals have tolerance exactly 0 and are never modulated.
type Goal struct {
	ID           string
	Tier         Tier
	Tolerance    float64
	Window       time.Duration
	ChannelScope string
	Predicate    Predicate
	Priority     int // lower value wins ties
	MinTier      int
}

// Covers reports whether the goal applies to channelID.
func (g Goal) Covers(channelID string) bool {
	return g.ChannelScope == AllChannels || g.ChannelScope == channelID
}

// #endregion goal
