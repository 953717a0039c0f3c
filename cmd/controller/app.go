package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/cache"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/config"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/escalation"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/health"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/metrics"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/registry"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/sink"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/state"
)

// #region app

// app is the wired controller and everything it owns.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	store   *state.Store
	ctrl    *escalation.Controller
	metrics *metrics.Collector
	promReg *prometheus.Registry

	closers []func() error
}

// newApp opens the store, restores cache and active pointers, applies the
// manifest and builds the controller.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, promReg: prometheus.NewRegistry()}

	a.store, err = state.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	c := cache.New(a.store, cfg.Cost, log)
	if err := c.Warm(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("warm cache: %w", err)
	}

	reg := registry.NewStore(log, a.store)
	goalReg := goals.NewRegistry(log)
	a.metrics = metrics.New(a.promReg)

	hp, err := a.healthProvider()
	if err != nil {
		a.Close()
		return nil, err
	}
	audit, err := a.auditSink()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ctrl, err = escalation.New(controllerConfig(cfg), escalation.Deps{
		Registry: reg,
		Goals:    goalReg,
		Cache:    c,
		Source:   a.store,
		Health:   hp,
		Audit:    audit,
		Metrics:  a.metrics,
		Log:      log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	m, err := config.LoadManifest(cfg.Manifest)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := m.Apply(a.ctrl, goalReg); err != nil {
		a.Close()
		return nil, fmt.Errorf("apply manifest: %w", err)
	}
	if err := reg.Restore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("restore active configurations: %w", err)
	}

	log.WithFields(logrus.Fields{
		"db":       cfg.DBPath,
		"channels": len(m.Channels),
		"goals":    len(m.Goals),
		"cached":   len(c.List("")),
	}).Info("controller ready")
	return a, nil
}

func (a *app) healthProvider() (escalation.HealthProvider, error) {
	if a.cfg.Health.Addr == "" {
		return health.Static(nil), nil
	}
	p, err := health.NewProvider(a.cfg.Health.Addr, a.cfg.Health.Services, a.log)
	if err != nil {
		return nil, fmt.Errorf("health provider: %w", err)
	}
	if a.cfg.Health.Timeout > 0 {
		p.SetTimeout(a.cfg.Health.Timeout)
	}
	a.closers = append(a.closers, p.Close)
	return p, nil
}

// auditSink always writes to SQLite; the Redis stream is added when enabled.
func (a *app) auditSink() (escalation.AuditSink, error) {
	sinks := sink.Multi{a.store}
	if a.cfg.Redis.Enabled {
		r, err := sink.NewRedis(a.cfg.Redis.RedisConfig)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		sinks = append(sinks, r)
	}
	return sinks, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}

func controllerConfig(cfg config.Config) escalation.Config {
	return escalation.Config{
		Gate:        cfg.GateConfig(),
		Eval:        cfg.EvalConfig(),
		Cascade:     cfg.CascadeConfig(),
		Parallelism: cfg.Parallelism,
		ErrorWindow: cfg.ErrorWindow,
	}
}

// #endregion app
