// Package instrument turns pipeline-stage calls into channel observations
// without ever changing what the stage returns.
package instrument

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

// #region trace-context

type traceKey struct{}

// WithTraceID attaches a trace ID that instrumented stages copy into their
// observations.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace ID attached to ctx, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// #endregion trace-context

// #region wrap

// Stage is a pipeline stage: a context-aware call from In to Out.
type Stage[In, Out any] func(ctx context.Context, in In) (Out, error)

// Wrap returns a stage that behaves exactly like stage and additionally
// records one observation per call. Classification runs after the stage
// returns; a classifier panic or a missing classifier is logged and only
// loses the observation.
func Wrap[In, Out any](spec StageSpec, stage Stage[In, Out]) Stage[In, Out] {
	now := spec.Now
	if now == nil {
		now = time.Now
	}
	if spec.Log == nil {
		spec.Log = logrus.StandardLogger()
	}
	return func(ctx context.Context, in In) (Out, error) {
		start := now()
		out, err := stage(ctx, in)
		elapsed := now().Sub(start)
		observe(ctx, spec, in, out, err, start, elapsed)
		return out, err
	}
}

func observe(ctx context.Context, spec StageSpec, in, out any, stageErr error, start time.Time, elapsed time.Duration) {
	log := spec.Log
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{"channel": spec.ChannelID, "panic": r}).Warn("instrumentation panicked, observation lost")
		}
	}()

	if spec.Recorder == nil || spec.Classifiers == nil {
		return
	}
	cl, err := spec.Classifiers.Classifier(spec.ChannelID)
	if err != nil {
		log.WithError(err).WithField("channel", spec.ChannelID).Warn("no classifier, observation lost")
		return
	}
	obs := channel.Observation{
		ChannelID:    spec.ChannelID,
		InputSymbol:  cl.ClassifyInput(in),
		OutputSymbol: cl.ClassifyOutput(out, stageErr),
		Timestamp:    start,
		Latency:      elapsed,
		PathID:       spec.PathID,
		TraceID:      TraceID(ctx),
	}
	if spec.Meter != nil {
		obs.Cost, obs.TokenCount = spec.Meter(out, stageErr)
	}
	spec.Recorder.Record(obs)
}

// #endregion wrap
