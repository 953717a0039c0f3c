package cascade

import (
	"testing"
)

func TestNoTriggerBelowMinObservations(t *testing.T) {
	_, ok := Evaluate(DefaultConfig(), Input{Failures: 10, N: 19, Tolerance: 0.1})
	if ok {
		t.Fatal("expected no trigger below min observations")
	}
}

func TestNoTriggerWhenWithinTolerance(t *testing.T) {
	// 0 failures of 10000: UCB ≈ 0.0122
	_, ok := Evaluate(DefaultConfig(), Input{Failures: 0, N: 10000, Tolerance: 0.05})
	if ok {
		t.Fatal("expected no trigger")
	}
}

func TestTierFromMargin(t *testing.T) {
	cfg := DefaultConfig()

	// pHat 0.2, n 1000: UCB ≈ 0.2387, tol 0.2 → small margin
	tr, ok := Evaluate(cfg, Input{GoalID: "g", ChannelID: "c", Failures: 200, N: 1000, Tolerance: 0.2})
	if !ok {
		t.Fatal("expected trigger")
	}
	if tr.Tier != ParameterTuning {
		t.Fatalf("tier = %v, want parameter_tuning", tr.Tier)
	}
	if tr.GoalID != "g" || tr.ChannelID != "c" {
		t.Fatalf("ids not carried: %+v", tr)
	}

	// pHat 0.3, tol 0.05: margin ≈ 0.2887 > 5×0.05
	tr, _ = Evaluate(cfg, Input{Failures: 300, N: 1000, Tolerance: 0.05})
	if tr.Tier != BoundaryChange {
		t.Fatalf("tier = %v, want boundary_change", tr.Tier)
	}

	// pHat 0.3, tol 0.08: margin ≈ 0.2587 in (3×tol, 5×tol]
	tr, _ = Evaluate(cfg, Input{Failures: 300, N: 1000, Tolerance: 0.08})
	if tr.Tier != Reconfiguration {
		t.Fatalf("tier = %v, want reconfiguration", tr.Tier)
	}
}

func TestMinTierFloorAndCap(t *testing.T) {
	tr, ok := Evaluate(DefaultConfig(), Input{Failures: 200, N: 1000, Tolerance: 0.2, MinTier: 3})
	if !ok || tr.Tier != ScaleReorganization {
		t.Fatalf("got %+v, want scale_reorganization", tr)
	}
	tr, _ = Evaluate(DefaultConfig(), Input{Failures: 200, N: 1000, Tolerance: 0.2, MinTier: 9})
	if tr.Tier != ScaleReorganization {
		t.Fatalf("tier not capped: %v", tr.Tier)
	}
}

func TestMarginEqualsUCBMinusTolerance(t *testing.T) {
	tr, _ := Evaluate(DefaultConfig(), Input{Failures: 30, N: 100, Tolerance: 0.1})
	if d := tr.Margin - (tr.UCB - tr.Tolerance); d > 1e-12 || d < -1e-12 {
		t.Fatalf("margin %v inconsistent with ucb %v", tr.Margin, tr.UCB)
	}
}

func TestZeroToleranceAlwaysTriggersBoundaryChange(t *testing.T) {
	for _, n := range []int{20, 1000, 100000} {
		tr, ok := Evaluate(DefaultConfig(), Input{GoalID: "no_data_loss", Failures: 0, N: n, Tolerance: 0})
		if !ok {
			t.Fatalf("n=%d: expected a trigger for a clean zero-tolerance goal", n)
		}
		if tr.Tier != BoundaryChange {
			t.Fatalf("n=%d: tier = %v, want boundary_change", n, tr.Tier)
		}
		if tr.Margin <= 0 || tr.Margin != tr.UCB {
			t.Fatalf("n=%d: margin %v should equal the ucb %v", n, tr.Margin, tr.UCB)
		}
	}

	small, _ := Evaluate(DefaultConfig(), Input{N: 20})
	large, _ := Evaluate(DefaultConfig(), Input{N: 100000})
	if large.Margin >= small.Margin {
		t.Fatalf("margin should shrink with n: %v at 20, %v at 100000", small.Margin, large.Margin)
	}
}

func TestTierString(t *testing.T) {
	want := []string{"parameter_tuning", "reconfiguration", "boundary_change", "scale_reorganization"}
	for i, w := range want {
		if got := Tier(i).String(); got != w {
			t.Fatalf("Tier(%d) = %q, want %q", i, got, w)
		}
	}
	if Tier(7).String() != "unknown" {
		t.Fatal("out-of-range tier should be unknown")
	}
}
