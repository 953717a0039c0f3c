// Package sink fans switch events and metrics snapshots out to audit
// destinations beyond the local store.
package sink

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
)

// Sink receives audit records.
type Sink interface {
	RecordSwitch(ctx context.Context, ev logging.SwitchEvent) error
	RecordSnapshot(ctx context.Context, snap logging.MetricsSnapshot) error
}

// Multi delivers each record to every sink. Every sink is attempted; the
// errors are joined.
type Multi []Sink

func (m Multi) RecordSwitch(ctx context.Context, ev logging.SwitchEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.RecordSwitch(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordSnapshot(ctx context.Context, snap logging.MetricsSnapshot) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.RecordSnapshot(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
