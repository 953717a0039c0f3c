// Package scheduler runs evaluation cycles on a cron schedule. A new tick
// cancels the context of a cycle that is still running.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one evaluation cycle.
type Job func(ctx context.Context) error

// Scheduler manages the cycle cron entry.
type Scheduler struct {
	cron *cron.Cron
	job  Job
	log  logrus.FieldLogger

	mu     sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	seq    uint64
	wg     sync.WaitGroup
}

// New parses spec ("@every 30s" or a five-field cron expression) and
// registers job.
func New(spec string, job Job, log logrus.FieldLogger) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler: nil job")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{
		cron:   cron.New(),
		job:    job,
		log:    log.WithField("component", "scheduler"),
		parent: context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Tick() }); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins ticking. Cycles derive their context from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the schedule, cancels the running cycle and waits for it.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	<-done.Done()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Tick supersedes any running cycle and runs a new one synchronously.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.seq++
	seq := s.seq
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	start := time.Now()
	err := s.job(ctx)

	s.mu.Lock()
	if s.seq == seq {
		s.cancel = nil
	}
	s.mu.Unlock()
	cancel()

	entry := s.log.WithFields(logrus.Fields{"cycle": seq, "elapsed": time.Since(start)})
	switch {
	case err != nil && ctx.Err() != nil:
		entry.WithError(err).Warn("cycle superseded")
	case err != nil:
		entry.WithError(err).Error("cycle failed")
	default:
		entry.Debug("cycle complete")
	}
}
