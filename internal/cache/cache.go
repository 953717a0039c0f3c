// Package cache remembers configurations that previously held a channel
// within tolerance under a given operating context, so the controller can
// jump straight to them when the context recurs.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// #region cache-struct
// Cache is the in-memory adaptation index with optional write-through.
// Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CachedAdaptation // by ID
	backend Backend
	weights CostWeights
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates an empty cache. backend may be nil.
func New(backend Backend, weights CostWeights, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		entries: make(map[string]*CachedAdaptation),
		backend: backend,
		weights: weights,
		log:     log.WithField("component", "cache"),
		now:     time.Now,
	}
}

// SetClock replaces the cache's time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// #endregion cache-struct

// #region warm
// Warm loads every persisted row into the index. Rows already indexed under
// the same ID are replaced.
func (c *Cache) Warm(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	rows, err := c.backend.LoadAdaptations(ctx)
	if err != nil {
		return fmt.Errorf("load adaptations: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range rows {
		row := rows[i]
		c.entries[row.ID] = &row
	}
	c.log.WithField("rows", len(rows)).Info("cache warmed")
	return nil
}

// #endregion warm

// #region lookup
// Get returns the best entry for the channel and fingerprint: highest reuse
// count, then highest success rate.
func (c *Cache) Get(channelID, fingerprint string) (CachedAdaptation, bool) {
	return c.best(channelID, fingerprint, func(*CachedAdaptation) bool { return true })
}

// GetAtLeast is Get restricted to entries whose payload level is at least level.
func (c *Cache) GetAtLeast(channelID, fingerprint string, level int) (CachedAdaptation, bool) {
	return c.best(channelID, fingerprint, func(e *CachedAdaptation) bool { return e.Payload.Level >= level })
}

func (c *Cache) best(channelID, fingerprint string, keep func(*CachedAdaptation) bool) (CachedAdaptation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pick *CachedAdaptation
	for _, e := range c.entries {
		if e.ChannelID != channelID || e.ContextFingerprint != fingerprint || !keep(e) {
			continue
		}
		if pick == nil || better(e, pick) {
			pick = e
		}
	}
	if pick == nil {
		return CachedAdaptation{}, false
	}
	return clone(pick), true
}

// better orders by reuse count, then success rate, then ID so the choice is
// stable across map iteration orders.
func better(a, b *CachedAdaptation) bool {
	if a.ReuseCount != b.ReuseCount {
		return a.ReuseCount > b.ReuseCount
	}
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate > b.SuccessRate
	}
	return a.ID < b.ID
}

// List returns a channel's entries, or every entry when channelID is empty,
// ordered by channel then the Get ordering.
func (c *Cache) List(channelID string) []CachedAdaptation {
	c.mu.RLock()
	out := make([]*CachedAdaptation, 0, len(c.entries))
	for _, e := range c.entries {
		if channelID == "" || e.ChannelID == channelID {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return better(out[i], out[j])
	})
	res := make([]CachedAdaptation, len(out))
	for i, e := range out {
		res[i] = clone(e)
	}
	return res
}

// #endregion lookup

// #region store
// Store records a successful adaptation. An entry with the same key and
// fingerprint is returned as-is, apart from its payload which is refreshed
// to the latest configuration. A new entry starts with zero reuses and a
// success rate of 1.
func (c *Cache) Store(ctx context.Context, channelID, fingerprint, goalID string, payload Adaptation, tier int) CachedAdaptation {
	key := Key(channelID, goalID, payload.ChangedFields)

	c.mu.Lock()
	now := c.now()
	for _, e := range c.entries {
		if e.Key == key && e.ContextFingerprint == fingerprint {
			e.Payload = payload
			e.UpdatedAt = now
			out := clone(e)
			c.mu.Unlock()
			c.persist(ctx, out)
			return out
		}
	}
	e := &CachedAdaptation{
		ID:                 uuid.New().String(),
		ChannelID:          channelID,
		ContextFingerprint: fingerprint,
		Key:                key,
		GoalID:             goalID,
		Payload:            payload,
		CompetencyType:     ClassifyAdaptation(tier, payload),
		StructuralCost:     StructuralCost(payload, tier, c.weights),
		ReuseCount:         0,
		SuccessRate:        1.0,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	c.entries[e.ID] = e
	out := clone(e)
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"channel":    channelID,
		"level":      payload.Level,
		"competency": e.CompetencyType,
	}).Debug("adaptation cached")
	c.persist(ctx, out)
	return out
}

// RecordReuse folds one reuse outcome into the entry's running success rate.
func (c *Cache) RecordReuse(ctx context.Context, id string, success bool) (CachedAdaptation, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return CachedAdaptation{}, fmt.Errorf("adaptation %s not cached", id)
	}
	s := 0.0
	if success {
		s = 1.0
	}
	n := float64(e.ReuseCount)
	e.SuccessRate = (e.SuccessRate*n + s) / (n + 1)
	e.ReuseCount++
	e.UpdatedAt = c.now()
	out := clone(e)
	c.mu.Unlock()

	c.persist(ctx, out)
	return out, nil
}

func (c *Cache) persist(ctx context.Context, e CachedAdaptation) {
	if c.backend == nil {
		return
	}
	if err := c.backend.SaveAdaptation(ctx, e); err != nil {
		c.log.WithError(err).WithField("id", e.ID).Warn("persist adaptation failed")
	}
}

// #endregion store

func clone(e *CachedAdaptation) CachedAdaptation {
	out := *e
	out.Payload.ChangedFields = append([]string(nil), e.Payload.ChangedFields...)
	return out
}
