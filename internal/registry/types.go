package registry

import (
	"context"
	"errors"
)

// #region level
// Level is a channel's ordered operating level.
type Level int

const (
	LevelNominal  Level = 0
	LevelDegraded Level = 1
	LevelCritical Level = 2

	// NumLevels is the number of configurations every channel registers.
	NumLevels = 3
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelNominal:
		return "nominal"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// #endregion level

// #region protocol
// Protocol is the verification protocol a configuration runs a stage under.
type Protocol string

const (
	ProtocolPassive    Protocol = "passive"
	ProtocolConfirm    Protocol = "confirm"
	ProtocolCrosscheck Protocol = "crosscheck"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolPassive, ProtocolConfirm, ProtocolCrosscheck:
		return true
	}
	return false
}

// #endregion protocol

// #region configuration
// Configuration ("theta") is one discrete operating setting for a channel.
type Configuration struct {
	ID                 string   `json:"id" yaml:"id"`
	ChannelID          string   `json:"channel_id" yaml:"channel_id"`
	Level              Level    `json:"level" yaml:"level"`
	ClassifierSchemeID string   `json:"classifier_scheme_id" yaml:"classifier_scheme_id"`
	ModelOverride      string   `json:"model_override,omitempty" yaml:"model_override,omitempty"`
	Protocol           Protocol `json:"protocol" yaml:"protocol"`
}

// ChangedFields lists the configuration fields that differ between c and other.
// Used as the structural diff when an adaptation is cached.
func (c Configuration) ChangedFields(other Configuration) []string {
	var fields []string
	if c.ClassifierSchemeID != other.ClassifierSchemeID {
		fields = append(fields, "classifier_scheme_id")
	}
	if c.ModelOverride != other.ModelOverride {
		fields = append(fields, "model_override")
	}
	if c.Protocol != other.Protocol {
		fields = append(fields, "protocol")
	}
	return fields
}

// #endregion configuration

// #region errors
var (
	// ErrInvalidConfiguration is returned for a malformed configuration set.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrChannelExists is returned when registering an already-registered channel.
	ErrChannelExists = errors.New("channel already registered")
	// ErrUnknownChannel is returned for lookups on an unregistered channel.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrStaleSwitch is returned when a compare-and-swap finds a different active configuration.
	ErrStaleSwitch = errors.New("active configuration changed concurrently")
)

// #endregion errors

// #region persister
// Persister stores the active pointer outside the process. Writes are best-effort.
type Persister interface {
	SaveActive(ctx context.Context, channelID, configurationID string) error
	LoadActive(ctx context.Context) (map[string]string, error)
}

// #endregion persister
