package market

import (
	"testing"

	"github.com/oddswatch/oddswatch/internal/models"
)

var testRange = models.TargetRange{Min: 1.30, Max: 1.80}

func testThresholds() Thresholds {
	return Thresholds{MinChange: 0.02, SignificantChange: 0.10, CriticalChange: 0.50}
}

func TestClassify_EnteringRangeSignificant(t *testing.T) {
	// Price shortens from 2.10 into the target range with a large delta.
	mt, sig, ok := Classify(2.10, 1.65, testRange, testThresholds())
	if !ok {
		t.Fatal("expected a surfaced movement")
	}
	if mt != models.MovementEnteringRange {
		t.Errorf("got type %s, want %s", mt, models.MovementEnteringRange)
	}
	if sig != models.SignificanceHigh {
		t.Errorf("got significance %s, want HIGH", sig)
	}
}

func TestClassify_EnteringRangeCritical(t *testing.T) {
	th := testThresholds()
	th.CriticalChange = 0.25
	_, sig, ok := Classify(2.10, 1.65, testRange, th)
	if !ok {
		t.Fatal("expected a surfaced movement")
	}
	if sig != models.SignificanceCritical {
		t.Errorf("got significance %s, want CRITICAL", sig)
	}
}

func TestClassify_ExitingRange(t *testing.T) {
	mt, sig, ok := Classify(1.75, 1.95, testRange, testThresholds())
	if !ok {
		t.Fatal("expected a surfaced movement")
	}
	if mt != models.MovementExitingRange {
		t.Errorf("got type %s, want %s", mt, models.MovementExitingRange)
	}
	// Ends outside the range with |delta| below critical.
	if sig != models.SignificanceLow {
		t.Errorf("got significance %s, want LOW", sig)
	}
}

func TestClassify_LargeMovesOutsideRange(t *testing.T) {
	mt, sig, ok := Classify(2.50, 2.65, testRange, testThresholds())
	if !ok {
		t.Fatal("expected a surfaced movement")
	}
	if mt != models.MovementLargeIncrease {
		t.Errorf("got type %s, want %s", mt, models.MovementLargeIncrease)
	}
	if sig != models.SignificanceLow {
		t.Errorf("got significance %s, want LOW", sig)
	}

	// Same magnitude past the critical threshold rates MEDIUM even outside
	// the range.
	mt, sig, ok = Classify(2.50, 1.95, testRange, testThresholds())
	if !ok {
		t.Fatal("expected a surfaced movement")
	}
	if mt != models.MovementLargeDecrease {
		t.Errorf("got type %s, want %s", mt, models.MovementLargeDecrease)
	}
	if sig != models.SignificanceMedium {
		t.Errorf("got significance %s, want MEDIUM", sig)
	}
}

func TestClassify_BelowMinChangeIgnored(t *testing.T) {
	if _, _, ok := Classify(1.50, 1.51, testRange, testThresholds()); ok {
		t.Error("movement below min change threshold must not surface")
	}
}

func TestClassify_NormalMovementNotSurfaced(t *testing.T) {
	// In range, above min change, below significant, no range crossing.
	if _, _, ok := Classify(1.50, 1.55, testRange, testThresholds()); ok {
		t.Error("normal movement must not surface")
	}
}

func TestClassify_MonotonicSignificance(t *testing.T) {
	th := testThresholds()
	th.CriticalChange = 0.25

	// Entering the range from above with growing |delta|: significance must
	// never decrease as the delta grows.
	deltas := []float64{0.05, 0.12, 0.20, 0.30, 0.45}
	last := models.SignificanceLow
	for i, d := range deltas {
		mt, sig, ok := Classify(1.85, 1.85-d, testRange, th)
		if !ok {
			t.Fatalf("delta %.2f: expected surfaced movement", d)
		}
		if mt != models.MovementEnteringRange {
			t.Fatalf("delta %.2f: got type %s, want entering", d, mt)
		}
		if i > 0 && sig < last {
			t.Errorf("delta %.2f: significance %s lower than %s for smaller delta", d, sig, last)
		}
		last = sig
	}
}
