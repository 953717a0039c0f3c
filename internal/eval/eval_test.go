package eval

import (
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/goals"
)

func makeObs(ok, bad int) []channel.Observation {
	var obs []channel.Observation
	for i := 0; i < ok; i++ {
		obs = append(obs, channel.Observation{ChannelID: "extract", InputSymbol: "doc", OutputSymbol: "ok"})
	}
	for i := 0; i < bad; i++ {
		obs = append(obs, channel.Observation{ChannelID: "extract", InputSymbol: "doc", OutputSymbol: "error"})
	}
	return obs
}

func opGoal(tol float64) goals.Goal {
	return goals.Goal{
		ID:           "accuracy",
		Tier:         goals.Operational,
		Tolerance:    tol,
		Window:       time.Hour,
		ChannelScope: goals.AllChannels,
		Predicate:    goals.OutputIn{Symbols: []string{"error"}},
	}
}

func TestEvalExceeded(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	st := h.Run(opGoal(0.10), "extract", makeObs(70, 30))

	if st.Status != StatusExceeded {
		t.Fatalf("expected exceeded, got %s: %s", st.Status, st.Reason)
	}
	if st.Failures != 30 || st.N != 100 {
		t.Fatalf("expected 30/100, got %d/%d", st.Failures, st.N)
	}
	if st.PFailUCB == nil {
		t.Fatal("operational goal should carry a UCB")
	}
	if *st.PFailUCB < st.PFail {
		t.Fatalf("UCB %.4f below point estimate %.4f", *st.PFailUCB, st.PFail)
	}
	if st.EffectiveP != *st.PFailUCB {
		t.Fatal("effective p should be the UCB for operational goals")
	}
}

func TestEvalWithin(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	st := h.Run(opGoal(0.10), "extract", makeObs(500, 5))

	if st.Status != StatusWithin {
		t.Fatalf("expected within, got %s: %s", st.Status, st.Reason)
	}
}

func TestEvalInsufficient(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	st := h.Run(opGoal(0.10), "extract", makeObs(10, 5))
	if st.Status != StatusInsufficient {
		t.Fatalf("expected insufficient, got %s", st.Status)
	}
	if st.Failures != 5 {
		t.Fatalf("failures still counted for reporting, got %d", st.Failures)
	}

	st = h.Run(opGoal(0.10), "extract", nil)
	if st.Status != StatusInsufficient || st.PFailUCB != nil {
		t.Fatalf("empty window: %+v", st)
	}
}

func TestEvalMissionCriticalUsesPointEstimate(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	g := goals.Goal{
		ID:           "no-leak",
		Tier:         goals.MissionCritical,
		Window:       time.Hour,
		ChannelScope: "extract",
		Predicate:    goals.OutputIn{Symbols: []string{"error"}},
	}
	st := h.Run(g, "extract", makeObs(99, 1))

	if st.PFailUCB != nil {
		t.Fatal("mission-critical goals have no UCB")
	}
	if st.EffectiveP != 0.01 {
		t.Fatalf("expected point estimate 0.01, got %v", st.EffectiveP)
	}
	if st.Status != StatusExceeded {
		t.Fatalf("any failure exceeds a zero tolerance, got %s", st.Status)
	}
	if !st.MissionCritical() {
		t.Fatal("expected MissionCritical() true")
	}

	if st := h.Run(g, "extract", makeObs(100, 0)); st.Status != StatusWithin {
		t.Fatalf("clean window should be within, got %s", st.Status)
	}
}
