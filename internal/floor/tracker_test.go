package floor

import (
	"math"
	"testing"
)

func newTestTracker(t *testing.T, level int) *Tracker {
	t.Helper()
	tr, err := NewTracker(Config{TotalFloors: 3, Delta: 3.0, AdvisoryFraction: 0.6}, level)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func TestTracker_RisingAdvisoryThenCommit(t *testing.T) {
	tr := newTestTracker(t, 1)

	r := tr.Update(1.8)
	if r.State != RisingAdvisory || r.Advisory != Up || !r.AdvisoryChanged {
		t.Fatalf("after 1.8: %+v", r)
	}
	if d, ok := tr.Advisory(); !ok || d != Up {
		t.Fatalf("advisory=%v ok=%v", d, ok)
	}

	r = tr.Update(3.0)
	if !r.Committed || r.Direction != Up || r.Level != 2 {
		t.Fatalf("after 3.0: %+v", r)
	}
	if tr.State() != Stable || r.Advisory != None {
		t.Fatalf("advisory not cleared: state=%v", tr.State())
	}
	if tr.Baseline() != 3.0 || tr.Relative() != 0 {
		t.Fatalf("baseline=%v relative=%v", tr.Baseline(), tr.Relative())
	}

	// The new zero is the committed altitude.
	if r := tr.Update(4.0); r.State != Stable {
		t.Fatalf("after 4.0: %+v", r)
	}
}

func TestTracker_CancelBelowThreshold(t *testing.T) {
	tr := newTestTracker(t, 1)
	tr.Update(1.8)
	r := tr.Update(1.7)
	if r.State != Stable || !r.AdvisoryChanged || r.Committed {
		t.Fatalf("after 1.7: %+v", r)
	}
	if tr.Level() != 1 {
		t.Fatalf("level=%d want 1", tr.Level())
	}
	if _, ok := tr.Advisory(); ok {
		t.Fatalf("advisory still visible after cancel")
	}
}

func TestTracker_FallingCommit(t *testing.T) {
	tr := newTestTracker(t, 3)
	if r := tr.Update(-2.0); r.State != FallingAdvisory || r.Advisory != Down {
		t.Fatalf("after -2.0: %+v", r)
	}
	r := tr.Update(-3.2)
	if !r.Committed || r.Direction != Down || r.Level != 2 {
		t.Fatalf("after -3.2: %+v", r)
	}
}

func TestTracker_JumpPastDeltaCommitsInOneSample(t *testing.T) {
	tr := newTestTracker(t, 1)
	r := tr.Update(3.5)
	if !r.Committed || r.Level != 2 || r.State != Stable {
		t.Fatalf("after 3.5: %+v", r)
	}
}

func TestTracker_BoundsSuppressAdvisory(t *testing.T) {
	top := newTestTracker(t, 3)
	if r := top.Update(5); r.State != Stable || r.Committed || r.Level != 3 {
		t.Fatalf("top floor rose: %+v", r)
	}
	bottom := newTestTracker(t, 1)
	if r := bottom.Update(-5); r.State != Stable || r.Committed || r.Level != 1 {
		t.Fatalf("ground floor fell: %+v", r)
	}
}

func TestTracker_RestartTakesNextSampleAsZero(t *testing.T) {
	tr := newTestTracker(t, 1)
	tr.Update(1.9)
	tr.Restart()
	if tr.State() != Stable {
		t.Fatalf("restart kept advisory")
	}
	if r := tr.Update(120.0); r.State != Stable {
		t.Fatalf("first sample after restart: %+v", r)
	}
	if tr.Baseline() != 120.0 {
		t.Fatalf("baseline=%v want 120", tr.Baseline())
	}
	if r := tr.Update(122.0); r.State != RisingAdvisory {
		t.Fatalf("after +2.0: %+v", r)
	}
}

func TestTracker_ResetClampsLevel(t *testing.T) {
	tr := newTestTracker(t, 1)
	tr.Reset(9)
	if tr.Level() != 3 {
		t.Fatalf("level=%d want 3", tr.Level())
	}
	tr.Reset(0)
	if tr.Level() != 1 {
		t.Fatalf("level=%d want 1", tr.Level())
	}
}

func TestTracker_InactiveIgnoresSamples(t *testing.T) {
	tr := newTestTracker(t, 1)
	tr.SetActive(false)
	if r := tr.Update(10); r.State != Stable || r.Committed || r.Level != 1 {
		t.Fatalf("inactive tracker reacted: %+v", r)
	}
}

func TestNewTracker_RejectsBadConfig(t *testing.T) {
	if _, err := NewTracker(Config{TotalFloors: 0, Delta: 3}, 1); err == nil {
		t.Fatalf("expected error for zero floors")
	}
	if _, err := NewTracker(Config{TotalFloors: 2, Delta: 0}, 1); err == nil {
		t.Fatalf("expected error for zero delta")
	}
}

func TestPressureToAltitude(t *testing.T) {
	if got := PressureToAltitude(101325); math.Abs(got) > 1e-9 {
		t.Fatalf("sea level=%v want 0", got)
	}
	// One floor is roughly 36 Pa near sea level.
	lo := PressureToAltitude(101325)
	hi := PressureToAltitude(101325 - 36)
	if d := hi - lo; d < 2.8 || d > 3.3 {
		t.Fatalf("36 Pa drop gave %v m", d)
	}
}

func TestAltitudeToPressure_Inverse(t *testing.T) {
	for _, h := range []float64{0, 3, 12.5, -4} {
		got := PressureToAltitude(AltitudeToPressure(h))
		if math.Abs(got-h) > 1e-6 {
			t.Fatalf("round trip %v -> %v", h, got)
		}
	}
}
