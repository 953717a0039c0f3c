package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// #region fixture-tests

// TestFixture_ExtractSession replays the extract session and compares every
// step's switch events against the recorded expectations. Drift in the gate,
// the estimator or the cache shows up here.
func TestFixture_ExtractSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "extract_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	h, err := NewHarness(f, nil, quietLog(t))
	if err != nil {
		t.Fatalf("NewHarness: %v", err)
	}
	results, err := h.Run(t.Context(), f.Steps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, d := range Check(f.Steps, results) {
		t.Error(d)
	}

	s := Summarize(results)
	if s.Cycles != 5 || s.Escalations != 1 || s.DeEscalations != 3 || s.CacheHits != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.FinalLevels["extract"] != 1 {
		t.Errorf("extract should end at level 1, got %d", s.FinalLevels["extract"])
	}
	if s.FinalLevels["summarize"] != 0 {
		t.Errorf("summarize never had traffic, got level %d", s.FinalLevels["summarize"])
	}

	entries := h.Controller.Cache().List("extract")
	if len(entries) != 2 {
		t.Fatalf("expected level-1 and level-2 adaptations cached, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Payload.Level == 2 && (e.ReuseCount != 1 || e.SuccessRate != 1) {
			t.Errorf("reused entry should be scored once as a success: %+v", e)
		}
	}
}

func TestLoadFixture_Errors(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"start": "2026-03-02T14:00:00Z", "config": {"escalation_cooldown": 60}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(bad); err == nil {
		t.Fatal("numeric durations should be rejected")
	}

	noStart := filepath.Join(dir, "nostart.json")
	if err := os.WriteFile(noStart, []byte(`{"manifest_file": "m.yaml"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(noStart); err == nil {
		t.Fatal("start time is required")
	}
}

func TestFixtureConfig_Overrides(t *testing.T) {
	cfg := FixtureConfig{
		MinObservations:      10,
		Confidence:           0.9,
		DeEscalationCooldown: Duration(2 * time.Minute),
	}.ControllerConfig()

	if cfg.Gate.MinObservations != 10 || cfg.Eval.MinObservations != 10 || cfg.Cascade.MinObservations != 10 {
		t.Fatalf("min observations not applied everywhere: %+v", cfg)
	}
	if cfg.Eval.Confidence != 0.9 {
		t.Errorf("confidence = %v", cfg.Eval.Confidence)
	}
	if cfg.Gate.DeEscalationCooldown != 2*time.Minute {
		t.Errorf("de-escalation cooldown = %v", cfg.Gate.DeEscalationCooldown)
	}
	if cfg.Gate.EscalationCooldown != 60*time.Second {
		t.Errorf("unset escalation cooldown should keep default, got %v", cfg.Gate.EscalationCooldown)
	}
}

// #endregion fixture-tests
