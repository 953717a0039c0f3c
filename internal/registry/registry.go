// Package registry holds the per-channel operating configurations and owns
// the active-configuration pointer for each channel.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// #region store-struct
type channelEntry struct {
	classifier Classifier
	configs    [NumLevels]Configuration
	active     Level
}

// Store is the configuration registry. Safe for concurrent use; the active
// pointer only moves through CompareAndSwap.
type Store struct {
	mu        sync.RWMutex
	channels  map[string]*channelEntry
	persister Persister
	log       logrus.FieldLogger
}

// #endregion store-struct

// #region constructor
// NewStore creates an empty registry. persister may be nil.
func NewStore(log logrus.FieldLogger, persister Persister) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		channels:  make(map[string]*channelEntry),
		persister: persister,
		log:       log.WithField("component", "registry"),
	}
}

// #endregion constructor

// #region register
// RegisterChannel onboards a channel with its classifier and exactly three
// configurations, one per level in order. Empty configuration IDs are
// generated; an empty ChannelID is filled in. The channel starts at level 0.
func (s *Store) RegisterChannel(channelID string, classifier Classifier, configs []Configuration) error {
	if channelID == "" {
		return fmt.Errorf("empty channel id: %w", ErrInvalidConfiguration)
	}
	if err := validateClassifier(classifier); err != nil {
		return fmt.Errorf("channel %s: %w", channelID, err)
	}
	set, err := normalizeConfigs(channelID, configs)
	if err != nil {
		return fmt.Errorf("channel %s: %w", channelID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrChannelExists)
	}
	s.channels[channelID] = &channelEntry{
		classifier: classifier,
		configs:    set,
		active:     LevelNominal,
	}
	s.log.WithFields(logrus.Fields{"channel": channelID, "scheme": classifier.SchemeID()}).Info("channel registered")
	return nil
}

func validateClassifier(c Classifier) error {
	if c == nil {
		return fmt.Errorf("nil classifier: %w", ErrInvalidConfiguration)
	}
	for name, alphabet := range map[string][]string{"input": c.InputAlphabet(), "output": c.OutputAlphabet()} {
		if len(alphabet) == 0 {
			return fmt.Errorf("empty %s alphabet: %w", name, ErrInvalidConfiguration)
		}
		seen := make(map[string]bool, len(alphabet))
		for _, sym := range alphabet {
			if sym == "" || seen[sym] {
				return fmt.Errorf("%s alphabet has empty or duplicate symbol %q: %w", name, sym, ErrInvalidConfiguration)
			}
			seen[sym] = true
		}
	}
	return nil
}

func normalizeConfigs(channelID string, configs []Configuration) ([NumLevels]Configuration, error) {
	var set [NumLevels]Configuration
	if len(configs) != NumLevels {
		return set, fmt.Errorf("expected %d configurations, got %d: %w", NumLevels, len(configs), ErrInvalidConfiguration)
	}
	ids := make(map[string]bool, NumLevels)
	for i, c := range configs {
		if c.Level != Level(i) {
			return set, fmt.Errorf("configuration %d has level %d: %w", i, c.Level, ErrInvalidConfiguration)
		}
		if c.ChannelID == "" {
			c.ChannelID = channelID
		}
		if c.ChannelID != channelID {
			return set, fmt.Errorf("configuration %d belongs to channel %s: %w", i, c.ChannelID, ErrInvalidConfiguration)
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if ids[c.ID] {
			return set, fmt.Errorf("duplicate configuration id %s: %w", c.ID, ErrInvalidConfiguration)
		}
		ids[c.ID] = true
		if !c.Protocol.Valid() {
			return set, fmt.Errorf("configuration %s has protocol %q: %w", c.ID, c.Protocol, ErrInvalidConfiguration)
		}
		if c.ClassifierSchemeID == "" {
			return set, fmt.Errorf("configuration %s has no classifier scheme: %w", c.ID, ErrInvalidConfiguration)
		}
		set[i] = c
	}
	return set, nil
}

// #endregion register

// #region restore
// Restore moves active pointers to the configurations recorded by the
// persister. Unknown channels or configuration IDs are skipped.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	active, err := s.persister.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load active: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for channelID, configID := range active {
		e, ok := s.channels[channelID]
		if !ok {
			continue
		}
		for _, c := range e.configs {
			if c.ID == configID {
				e.active = c.Level
				s.log.WithFields(logrus.Fields{"channel": channelID, "level": c.Level}).Info("restored active configuration")
			}
		}
	}
	return nil
}

// #endregion restore

// #region accessors
// Active returns the channel's active configuration.
func (s *Store) Active(channelID string) (Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.channels[channelID]
	if !ok {
		return Configuration{}, fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	}
	return e.configs[e.active], nil
}

// Configuration returns the static configuration registered for a level.
func (s *Store) Configuration(channelID string, level Level) (Configuration, error) {
	if level < LevelNominal || level > LevelCritical {
		return Configuration{}, fmt.Errorf("level %d: %w", level, ErrInvalidConfiguration)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.channels[channelID]
	if !ok {
		return Configuration{}, fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	}
	return e.configs[level], nil
}

// Lookup returns a channel's configuration by ID.
func (s *Store) Lookup(channelID, configID string) (Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.channels[channelID]
	if !ok {
		return Configuration{}, fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	}
	for _, c := range e.configs {
		if c.ID == configID {
			return c, nil
		}
	}
	return Configuration{}, fmt.Errorf("configuration %s on channel %s: %w", configID, channelID, ErrInvalidConfiguration)
}

// Classifier returns the classifier registered for a channel.
func (s *Store) Classifier(channelID string) (Classifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	}
	return e.classifier, nil
}

// Channels returns registered channel IDs in sorted order.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// #endregion accessors

// #region compare-and-swap
// CompareAndSwap moves the channel's active pointer to `to` only if the
// currently active configuration has ID fromID. The new pointer is then
// persisted best-effort; a persistence failure is logged, not returned.
func (s *Store) CompareAndSwap(ctx context.Context, channelID, fromID string, to Configuration) error {
	s.mu.Lock()
	e, ok := s.channels[channelID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	}
	if e.configs[e.active].ID != fromID {
		s.mu.Unlock()
		return fmt.Errorf("channel %s expected %s: %w", channelID, fromID, ErrStaleSwitch)
	}
	if to.Level < LevelNominal || to.Level > LevelCritical || e.configs[to.Level].ID != to.ID {
		s.mu.Unlock()
		return fmt.Errorf("configuration %s is not registered on %s: %w", to.ID, channelID, ErrInvalidConfiguration)
	}
	e.active = to.Level
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveActive(ctx, channelID, to.ID); err != nil {
			s.log.WithError(err).WithField("channel", channelID).Warn("persist active pointer failed")
		}
	}
	return nil
}

// #endregion compare-and-swap
