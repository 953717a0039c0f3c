package instrument

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

// #region pipeline

// Pipeline is a buffered, non-blocking Recorder that batches observations
// to one or more writers. When the buffer is full new observations are
// dropped and counted.
type Pipeline struct {
	config  PipelineConfig
	queue   chan channel.Observation
	writers []Writer
	log     logrus.FieldLogger

	dropped  atomic.Uint64
	written  atomic.Uint64
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewPipeline creates a pipeline. Call Run to start draining.
func NewPipeline(config PipelineConfig, log logrus.FieldLogger, writers ...Writer) *Pipeline {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultPipelineConfig().BufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultPipelineConfig().BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultPipelineConfig().FlushInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		config:  config,
		queue:   make(chan channel.Observation, config.BufferSize),
		writers: writers,
		log:     log.WithField("component", "instrument"),
		done:    make(chan struct{}),
	}
}

// Record enqueues obs without blocking.
func (p *Pipeline) Record(obs channel.Observation) bool {
	select {
	case p.queue <- obs:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped returns how many observations were discarded because the buffer was full.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Written returns how many observations reached the writers.
func (p *Pipeline) Written() uint64 { return p.written.Load() }

// #endregion pipeline

// #region run

// Run drains the queue until ctx is cancelled or Stop is called, flushing
// on batch size or interval. The remaining queue is flushed before return.
func (p *Pipeline) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]channel.Observation, 0, p.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.write(batch)
		batch = make([]channel.Observation, 0, p.config.BatchSize)
	}

	for {
		select {
		case obs := <-p.queue:
			batch = append(batch, obs)
			if len(batch) >= p.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			p.drain(&batch)
			flush()
			return
		case <-p.done:
			p.drain(&batch)
			flush()
			return
		}
	}
}

// Stop makes Run flush and return.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

func (p *Pipeline) drain(batch *[]channel.Observation) {
	for {
		select {
		case obs := <-p.queue:
			*batch = append(*batch, obs)
		default:
			return
		}
	}
}

// write hands the batch to every writer. Writer failures are logged; the
// batch is not retried.
func (p *Pipeline) write(batch []channel.Observation) {
	// writers get their own context so a cancelled Run still flushes
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, w := range p.writers {
		if err := w.InsertObservations(ctx, batch); err != nil {
			p.log.WithError(err).WithField("batch", len(batch)).Warn("write observations failed")
		}
	}
	p.written.Add(uint64(len(batch)))
}

// #endregion run
