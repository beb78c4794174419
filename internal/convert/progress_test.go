package convert

import "testing"

// TestProgressTrackerPercent checks timestamp to percent conversion.
func TestProgressTrackerPercent(t *testing.T) {
	var got []float64
	tracker := newProgressTracker(10, func(p float64) { got = append(got, p) })

	tracker.Line("frame=1")
	tracker.Line("out_time_us=2500000")
	tracker.Line("out_time_us=5000000")
	tracker.Line("progress=continue")
	tracker.Line("progress=end")

	want := []float64{25, 50, 100}
	if len(got) != len(want) {
		t.Fatalf("emissions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emissions = %v, want %v", got, want)
		}
	}
}

// TestProgressTrackerMonotonic checks regressions and overshoot are clamped.
func TestProgressTrackerMonotonic(t *testing.T) {
	var got []float64
	tracker := newProgressTracker(10, func(p float64) { got = append(got, p) })

	tracker.Line("out_time_us=5000000")
	tracker.Line("out_time_us=4000000")
	tracker.Line("out_time_us=5000000")
	tracker.Line("out_time_us=20000000")

	if len(got) != 2 || got[0] != 50 || got[1] != 100 {
		t.Fatalf("emissions = %v, want [50 100]", got)
	}
}

// TestProgressTrackerIgnoresGarbage checks resilience to malformed lines.
func TestProgressTrackerIgnoresGarbage(t *testing.T) {
	emitted := false
	tracker := newProgressTracker(10, func(float64) { emitted = true })

	tracker.Line("")
	tracker.Line("out_time_us=abc")
	tracker.Line("out_time_us=-5")
	tracker.Line("noequals")

	if emitted {
		t.Fatal("unexpected emission")
	}
}

// TestProgressTrackerUnknownTotal checks zero-duration inputs emit nothing
// until the stream ends.
func TestProgressTrackerUnknownTotal(t *testing.T) {
	var got []float64
	tracker := newProgressTracker(0, func(p float64) { got = append(got, p) })

	tracker.Line("out_time_us=5000000")
	tracker.Line("progress=end")

	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("emissions = %v, want [100]", got)
	}
}
