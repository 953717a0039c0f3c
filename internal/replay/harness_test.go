package replay

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/escalation"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
)

func quietLog(t *testing.T) logrus.FieldLogger {
	t.Helper()
	log, err := logging.NewWithOutput("error", io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	return log
}

func extractFixture(t *testing.T) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", "extract_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return f
}

func TestBatchExpand(t *testing.T) {
	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	obs := FixtureBatch{Channel: "c", Input: "a", Output: "b", Count: 4, Spread: Duration(8 * time.Second)}.Expand(at)
	if len(obs) != 4 {
		t.Fatalf("expected 4 observations, got %d", len(obs))
	}
	if !obs[0].Timestamp.Equal(at.Add(-8*time.Second)) || !obs[3].Timestamp.Equal(at.Add(-2*time.Second)) {
		t.Fatalf("unexpected spread: %v .. %v", obs[0].Timestamp, obs[3].Timestamp)
	}
	for _, o := range obs {
		if !o.Timestamp.Before(at) {
			t.Fatal("observations must precede the cycle")
		}
	}
	if got := (FixtureBatch{Count: 0}).Expand(at); got != nil {
		t.Fatalf("empty batch should expand to nil, got %v", got)
	}
}

func TestHarness_ClockDrivesController(t *testing.T) {
	f := extractFixture(t)
	h, err := NewHarness(f, nil, quietLog(t))
	if err != nil {
		t.Fatal(err)
	}
	results, err := h.Run(t.Context(), f.Steps[:2])
	if err != nil {
		t.Fatal(err)
	}
	if !results[1].At.Equal(f.Start.Add(5 * time.Minute)) {
		t.Fatalf("second step should run at start+5m, got %v", results[1].At)
	}
	ev := results[1].Cycle.SwitchEvents
	if len(ev) != 1 || !ev[0].Timestamp.Equal(results[1].At) {
		t.Fatalf("switch events should carry the simulated time: %+v", ev)
	}
}

type captureSink struct {
	switches  []logging.SwitchEvent
	snapshots int
}

func (c *captureSink) RecordSwitch(_ context.Context, ev logging.SwitchEvent) error {
	c.switches = append(c.switches, ev)
	return nil
}

func (c *captureSink) RecordSnapshot(context.Context, logging.MetricsSnapshot) error {
	c.snapshots++
	return nil
}

var _ escalation.AuditSink = (*captureSink)(nil)

func TestHarness_AuditReceivesEvents(t *testing.T) {
	f := extractFixture(t)
	sink := &captureSink{}
	h, err := NewHarness(f, sink, quietLog(t))
	if err != nil {
		t.Fatal(err)
	}
	results, err := h.Run(t.Context(), f.Steps)
	if err != nil {
		t.Fatal(err)
	}
	s := Summarize(results)
	if len(sink.switches) != s.Escalations+s.DeEscalations+s.CacheHits {
		t.Fatalf("audit saw %d switches, summary counts %+v", len(sink.switches), s)
	}
	if sink.snapshots == 0 {
		t.Fatal("expected per-channel snapshots")
	}
}

func TestCheck_ReportsMismatches(t *testing.T) {
	f := extractFixture(t)
	h, err := NewHarness(f, nil, quietLog(t))
	if err != nil {
		t.Fatal(err)
	}
	results, err := h.Run(t.Context(), f.Steps[:1])
	if err != nil {
		t.Fatal(err)
	}

	wrong := []FixtureStep{{Name: "degrade", Expect: []ExpectedEvent{{Channel: "extract", Direction: "escalated", ToLevel: 1}}}}
	if diffs := Check(wrong, results); len(diffs) != 1 {
		t.Fatalf("expected one level mismatch, got %v", diffs)
	}
	if diffs := Check(f.Steps, results); len(diffs) != 1 {
		t.Fatalf("expected a step-count mismatch, got %v", diffs)
	}
}

func TestNewHarness_MissingManifest(t *testing.T) {
	f := extractFixture(t)
	f.ManifestFile = "absent.yaml"
	if _, err := NewHarness(f, nil, quietLog(t)); err == nil {
		t.Fatal("expected manifest error")
	}
}
