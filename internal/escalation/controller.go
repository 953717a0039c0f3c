// Package escalation runs the adaptive partition control loop: per cycle it
// evaluates every channel's goals, moves the active configuration up or down
// a level with hysteresis and cooldowns, reuses cached adaptations, and
// reports cascade triggers and the bottleneck channel.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cache"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cascade"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/eval"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/gate"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/metrics"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
)

// #region controller-struct

// Controller owns the per-channel escalation state. Safe for concurrent use;
// cycles for the same channel serialize on that channel's lock.
type Controller struct {
	config  Config
	reg     *registry.Store
	goals   *goals.Registry
	cache   *cache.Cache
	source  ObservationSource
	health  HealthProvider
	audit   AuditSink
	metrics *metrics.Collector
	mod     goals.Modulator
	gate    *gate.Gate
	harness *eval.EvalHarness
	log     logrus.FieldLogger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*channelState
}

// channelState holds a channel's cooldown timestamps. mu is held across
// decide-and-apply.
type channelState struct {
	mu               sync.Mutex
	lastEscalation   time.Time
	lastDeEscalation time.Time
	pending          *pendingReuse
}

// #endregion controller-struct

// #region constructor

// New wires a controller.
func New(cfg Config, d Deps) (*Controller, error) {
	if d.Registry == nil || d.Goals == nil || d.Source == nil {
		return nil, errors.New("escalation: registry, goals and observation source are required")
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = DefaultConfig().ErrorWindow
	}
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	c := d.Cache
	if c == nil {
		c = cache.New(nil, cache.DefaultCostWeights(), log)
		c.SetClock(now)
	}
	return &Controller{
		config:  cfg,
		reg:     d.Registry,
		goals:   d.Goals,
		cache:   c,
		source:  d.Source,
		health:  d.Health,
		audit:   d.Audit,
		metrics: d.Metrics,
		mod:     d.Modulator,
		gate:    gate.NewGate(cfg.Gate),
		harness: eval.NewEvalHarness(cfg.Eval),
		log:     log.WithField("component", "escalation"),
		now:     now,
		states:  make(map[string]*channelState),
	}, nil
}

// #endregion constructor

// #region registration

// RegisterChannel onboards a channel at level 0.
func (c *Controller) RegisterChannel(channelID string, classifier registry.Classifier, configs []registry.Configuration) error {
	return c.reg.RegisterChannel(channelID, classifier, configs)
}

// ActiveConfiguration returns the channel's active configuration.
func (c *Controller) ActiveConfiguration(channelID string) (registry.Configuration, error) {
	return c.reg.Active(channelID)
}

// Goals returns the goal registry.
func (c *Controller) Goals() *goals.Registry { return c.goals }

// Cache returns the adaptation cache.
func (c *Controller) Cache() *cache.Cache { return c.cache }

func (c *Controller) state(channelID string) *channelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[channelID]
	if !ok {
		st = &channelState{}
		c.states[channelID] = st
	}
	return st
}

// #endregion registration

// #region cycle

type channelOutcome struct {
	ok          bool
	metrics     channel.Metrics
	statuses    []eval.GoalStatus
	triggers    []cascade.Trigger
	events      []logging.SwitchEvent
	decision    Decision
	fingerprint string
}

// EvaluateCycle evaluates every registered channel once. Channels run in
// parallel up to Parallelism. A channel whose observations cannot be read is
// skipped and logged; only context cancellation fails the cycle.
func (c *Controller) EvaluateCycle(ctx context.Context) (CycleResult, error) {
	started := time.Now()
	now := c.now()
	res := CycleResult{
		CycleID:        uuid.New().String(),
		StartedAt:      now,
		ChannelMetrics: make(map[string]channel.Metrics),
		Decisions:      make(map[string]Decision),
		Fingerprints:   make(map[string]string),
	}

	if c.mod != nil {
		if n, err := c.goals.Modulate(ctx, c.mod); err != nil {
			c.log.WithError(err).Warn("tolerance modulation failed, keeping current tolerances")
		} else if n > 0 {
			c.log.WithField("goals", n).Debug("tolerances modulated")
		}
	}
	snapshot := c.healthSnapshot(ctx)

	ids := c.reg.Channels()
	outcomes := make([]channelOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Parallelism)
	for i, id := range ids {
		g.Go(func() error {
			out, err := c.evaluateChannel(gctx, res.CycleID, id, now, snapshot)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	err := g.Wait()
	c.metrics.ObserveCycle(time.Since(started), err)
	if err != nil {
		return res, fmt.Errorf("evaluate cycle: %w", err)
	}

	for i, id := range ids {
		out := outcomes[i]
		if !out.ok {
			continue
		}
		res.ChannelMetrics[id] = out.metrics
		res.GoalStatuses = append(res.GoalStatuses, out.statuses...)
		res.Triggers = append(res.Triggers, out.triggers...)
		res.SwitchEvents = append(res.SwitchEvents, out.events...)
		res.Decisions[id] = out.decision
		res.Fingerprints[id] = out.fingerprint
	}
	res.Bottleneck = channel.Bottleneck(res.ChannelMetrics)

	c.log.WithFields(logrus.Fields{
		"cycle":      res.CycleID,
		"channels":   len(res.ChannelMetrics),
		"switches":   len(res.SwitchEvents),
		"triggers":   len(res.Triggers),
		"bottleneck": res.Bottleneck.ChannelID,
	}).Debug("cycle complete")
	return res, nil
}

func (c *Controller) evaluateChannel(ctx context.Context, cycleID, id string, now time.Time, snapshot map[string]string) (channelOutcome, error) {
	var out channelOutcome
	log := c.log.WithField("channel", id)

	cls, err := c.reg.Classifier(id)
	if err != nil {
		log.WithError(err).Warn("channel skipped")
		return out, nil
	}
	scoped := c.goals.ForChannel(id)
	obs, err := c.source.Query(ctx, id, now.Add(-c.lookback(scoped)), now.Add(time.Nanosecond))
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		log.WithError(err).Warn("observation query failed, channel skipped")
		return out, nil
	}
	out.ok = true

	cm := channel.NewConfusionMatrix(obs, cls.InputAlphabet(), cls.OutputAlphabet())
	m := channel.Compute(cm, obs)

	out.statuses = make([]eval.GoalStatus, 0, len(scoped))
	for _, g := range scoped {
		st := c.harness.Run(g, id, since(obs, now.Add(-g.Window)))
		out.statuses = append(out.statuses, st)
		trig, ok := cascade.Evaluate(c.config.Cascade, cascade.Input{
			GoalID:    g.ID,
			ChannelID: id,
			Failures:  st.Failures,
			N:         st.N,
			Tolerance: st.Tolerance,
			MinTier:   g.MinTier,
		})
		if ok {
			out.triggers = append(out.triggers, trig)
			c.metrics.CountTrigger(id, trig.Tier.String())
		}
	}

	out.fingerprint = ContextFingerprint(snapshot, now, failureRate(scoped, since(obs, now.Add(-c.config.ErrorWindow))))

	cs := c.state(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c.settleReuse(ctx, id, cs, scoped, obs, now)

	active, err := c.reg.Active(id)
	if err != nil {
		log.WithError(err).Warn("no active configuration, channel skipped")
		out.ok = false
		return out, nil
	}
	out.decision = c.decide(scoped, out.statuses, active.Level, now, cs)
	governing := statusFor(out.statuses, out.decision.GoalID)

	if ev, ok := c.apply(ctx, id, active, out.decision, governing, out.fingerprint, now, cs); ok {
		out.events = append(out.events, ev)
	}

	if governing != nil {
		m.PFail = governing.PFail
		m.PFailUCB = governing.PFailUCB
	}
	out.metrics = m

	level := active.Level
	if cur, err := c.reg.Active(id); err == nil {
		level = cur.Level
	}
	c.metrics.ObserveChannel(id, int(level), m)
	c.recordSnapshot(ctx, logging.MetricsSnapshot{
		CycleID:   cycleID,
		ChannelID: id,
		Level:     int(level),
		GoalID:    out.decision.GoalID,
		Metrics:   m,
		Timestamp: now,
	})
	return out, nil
}

// lookback is the longest window any scoped goal or the error regime needs.
func (c *Controller) lookback(scoped []goals.Goal) time.Duration {
	w := c.config.ErrorWindow
	for _, g := range scoped {
		if g.Window > w {
			w = g.Window
		}
	}
	return w
}

// #endregion cycle

// #region decide

// decide gates every goal with enough data and combines the verdicts:
// the highest escalation target wins (ties to the lower Priority, then the
// larger p/tol ratio); de-escalation needs every gated goal to allow it.
func (c *Controller) decide(scoped []goals.Goal, statuses []eval.GoalStatus, level registry.Level, now time.Time, cs *channelState) Decision {
	var (
		esc         *Decision
		escPriority int
		worst       *Decision
		relaxAll    = true
		gated       int
	)
	for i, s := range statuses {
		d := c.gate.Evaluate(gate.Input{
			Level:            level,
			N:                s.N,
			Failures:         s.Failures,
			EffectiveP:       s.EffectiveP,
			Tolerance:        s.Tolerance,
			MissionCritical:  s.MissionCritical(),
			Now:              now,
			LastEscalation:   cs.lastEscalation,
			LastDeEscalation: cs.lastDeEscalation,
		})
		if d.Action == gate.ActionInsufficient {
			continue
		}
		gated++
		cand := Decision{GoalID: s.GoalID, GateDecision: d}

		switch d.Action {
		case gate.ActionEscalate:
			relaxAll = false
			p := scoped[i].Priority
			if esc == nil || d.Target > esc.Target ||
				(d.Target == esc.Target && p == escPriority && d.Ratio > esc.Ratio) {
				esc, escPriority = &cand, p
			}
		case gate.ActionDeEscalate:
		default:
			relaxAll = false
		}
		if worst == nil || d.Ratio > worst.Ratio {
			worst = &cand
		}
	}

	switch {
	case esc != nil:
		return *esc
	case gated == 0:
		d := Decision{GateDecision: gate.GateDecision{
			Action: gate.ActionInsufficient,
			From:   level,
			Target: level,
			Reason: "no goal has enough observations",
		}}
		if len(statuses) > 0 {
			d.GoalID = statuses[0].GoalID
		}
		return d
	case relaxAll:
		return *worst
	}

	d := *worst
	if d.Action != gate.ActionHold {
		d.Action = gate.ActionHold
		d.Target = d.From
		d.Reason = "hold: not every goal allows de-escalation"
	}
	return d
}

// #endregion decide

// #region apply

// apply moves the active pointer for an escalate or de-escalate decision
// and emits the switch event. A lost compare-and-swap is logged and
// produces no event.
func (c *Controller) apply(ctx context.Context, id string, active registry.Configuration, dec Decision, governing *eval.GoalStatus, fp string, now time.Time, cs *channelState) (logging.SwitchEvent, bool) {
	var (
		to  registry.Configuration
		dir logging.Direction
		hit *cache.CachedAdaptation
		err error
	)
	log := c.log.WithFields(logrus.Fields{"channel": id, "goal": dec.GoalID})

	switch dec.Action {
	case gate.ActionEscalate:
		to, hit, err = c.escalationTarget(id, fp, dec.Target)
		if err != nil {
			log.WithError(err).Warn("no configuration for escalation target")
			return logging.SwitchEvent{}, false
		}
		dir = logging.Escalated
		if hit != nil {
			dir = logging.CacheHit
		}
	case gate.ActionDeEscalate:
		to, err = c.reg.Configuration(id, dec.Target)
		if err != nil {
			log.WithError(err).Warn("no configuration for de-escalation target")
			return logging.SwitchEvent{}, false
		}
		c.rememberSuccess(ctx, id, fp, dec.GoalID, active)
		dir = logging.DeEscalated
	default:
		return logging.SwitchEvent{}, false
	}

	if err := c.reg.CompareAndSwap(ctx, id, active.ID, to); err != nil {
		log.WithError(err).Warn("switch lost, active configuration changed")
		return logging.SwitchEvent{}, false
	}

	switch dir {
	case logging.DeEscalated:
		cs.lastDeEscalation = now
		if cs.pending != nil {
			c.recordReuse(ctx, cs.pending.entryID, true)
			cs.pending = nil
		}
	default:
		cs.lastEscalation = now
		if hit != nil {
			cs.pending = &pendingReuse{entryID: hit.ID, goalID: dec.GoalID, since: now}
		}
	}

	ev := logging.SwitchEvent{
		ID:                 uuid.New().String(),
		ChannelID:          id,
		FromConfiguration:  active.ID,
		ToConfiguration:    to.ID,
		FromLevel:          int(active.Level),
		ToLevel:            int(to.Level),
		Direction:          dir,
		GoalID:             dec.GoalID,
		ContextFingerprint: fp,
		Timestamp:          now,
	}
	if governing != nil {
		ev.TriggerPFail = governing.EffectiveP
		ev.TriggerTolerance = governing.Tolerance
	}
	if hit != nil {
		ev.CacheEntryID = hit.ID
	}
	c.emit(ctx, ev)
	return ev, true
}

// escalationTarget prefers a cached adaptation for this context at or above
// the target level, falling back to the registry's static configuration.
func (c *Controller) escalationTarget(id, fp string, target registry.Level) (registry.Configuration, *cache.CachedAdaptation, error) {
	if hit, ok := c.cache.GetAtLeast(id, fp, int(target)); ok {
		cfg, err := c.reg.Lookup(id, hit.Payload.ConfigurationID)
		if err == nil && cfg.Level >= target {
			return cfg, &hit, nil
		}
		c.log.WithFields(logrus.Fields{"channel": id, "entry": hit.ID}).Warn("cached adaptation no longer matches the registry")
	}
	cfg, err := c.reg.Configuration(id, target)
	return cfg, nil, err
}

// rememberSuccess caches the configuration being relaxed away from. Its
// changed fields are measured against the channel's nominal configuration.
func (c *Controller) rememberSuccess(ctx context.Context, id, fp, goalID string, active registry.Configuration) {
	base, err := c.reg.Configuration(id, registry.LevelNominal)
	if err != nil {
		return
	}
	payload := cache.Adaptation{
		ConfigurationID: active.ID,
		Level:           int(active.Level),
		ChangedFields:   base.ChangedFields(active),
		Escalating:      true,
		ModelChanged:    base.ModelOverride != active.ModelOverride,
	}
	c.cache.Store(ctx, id, fp, goalID, payload, cache.InferTier(payload))
}

// #endregion apply

// #region reuse

// settleReuse scores a pending cache hit once the escalation cooldown has
// passed and enough observations arrived after the switch.
func (c *Controller) settleReuse(ctx context.Context, id string, cs *channelState, scoped []goals.Goal, obs []channel.Observation, now time.Time) {
	p := cs.pending
	if p == nil || now.Sub(p.since) < c.config.Gate.EscalationCooldown {
		return
	}
	for _, g := range scoped {
		if g.ID != p.goalID {
			continue
		}
		from := now.Add(-g.Window)
		if p.since.After(from) {
			from = p.since
		}
		st := c.harness.Run(g, id, since(obs, from))
		if st.N < c.config.Eval.MinObservations {
			return
		}
		c.recordReuse(ctx, p.entryID, st.EffectiveP <= st.Tolerance)
		cs.pending = nil
		return
	}
	cs.pending = nil
}

func (c *Controller) recordReuse(ctx context.Context, entryID string, success bool) {
	e, err := c.cache.RecordReuse(ctx, entryID, success)
	if err != nil {
		c.log.WithError(err).Warn("record reuse failed")
		return
	}
	c.log.WithFields(logrus.Fields{
		"entry":        entryID,
		"success":      success,
		"reuse_count":  e.ReuseCount,
		"success_rate": e.SuccessRate,
	}).Debug("cache reuse scored")
}

// #endregion reuse

// #region emit

func (c *Controller) emit(ctx context.Context, ev logging.SwitchEvent) {
	c.metrics.CountSwitch(ev.ChannelID, string(ev.Direction))
	c.log.WithFields(logrus.Fields{
		"channel":   ev.ChannelID,
		"direction": ev.Direction,
		"from":      ev.FromLevel,
		"to":        ev.ToLevel,
		"goal":      ev.GoalID,
		"p":         logging.Round(ev.TriggerPFail),
		"tolerance": ev.TriggerTolerance,
	}).Info("configuration switched")
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordSwitch(ctx, ev); err != nil {
		c.log.WithError(err).WithField("channel", ev.ChannelID).Warn("audit switch event failed")
	}
}

func (c *Controller) recordSnapshot(ctx context.Context, snap logging.MetricsSnapshot) {
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordSnapshot(ctx, snap); err != nil {
		c.log.WithError(err).WithField("channel", snap.ChannelID).Warn("audit snapshot failed")
	}
}

// #endregion emit

// #region fingerprint

// Fingerprint computes a channel's current context fingerprint.
func (c *Controller) Fingerprint(ctx context.Context, channelID string) (string, error) {
	now := c.now()
	obs, err := c.source.Query(ctx, channelID, now.Add(-c.config.ErrorWindow), now.Add(time.Nanosecond))
	if err != nil {
		return "", fmt.Errorf("query %s: %w", channelID, err)
	}
	rate := failureRate(c.goals.ForChannel(channelID), obs)
	return ContextFingerprint(c.healthSnapshot(ctx), now, rate), nil
}

func (c *Controller) healthSnapshot(ctx context.Context) map[string]string {
	if c.health == nil {
		return map[string]string{}
	}
	snap, err := c.health.Snapshot(ctx)
	if err != nil {
		c.log.WithError(err).Warn("health snapshot failed")
	}
	if snap == nil {
		snap = map[string]string{}
	}
	return snap
}

// #endregion fingerprint

// #region helpers

// since returns the suffix of time-ordered obs with ts >= from.
func since(obs []channel.Observation, from time.Time) []channel.Observation {
	i := sort.Search(len(obs), func(i int) bool { return !obs[i].Timestamp.Before(from) })
	return obs[i:]
}

// failureRate is the share of obs failing any scoped goal.
func failureRate(scoped []goals.Goal, obs []channel.Observation) float64 {
	if len(obs) == 0 || len(scoped) == 0 {
		return 0
	}
	preds := make(goals.AnyOf, 0, len(scoped))
	for _, g := range scoped {
		preds = append(preds, g.Predicate)
	}
	return float64(goals.CountFailures(preds, obs)) / float64(len(obs))
}

func statusFor(statuses []eval.GoalStatus, goalID string) *eval.GoalStatus {
	for i := range statuses {
		if statuses[i].GoalID == goalID {
			return &statuses[i]
		}
	}
	return nil
}

// #endregion helpers
