package convert

import (
	"strconv"
	"strings"
)

// progressTracker converts ffmpeg -progress key=value lines into 0-100
// percentages against a known total duration. Values are clamped so the
// reported sequence is monotonically non-decreasing for one job.
type progressTracker struct {
	totalSeconds float64
	last         float64
	emit         func(percent float64)
}

// newProgressTracker builds a tracker; emit may be nil.
func newProgressTracker(totalSeconds float64, emit func(percent float64)) *progressTracker {
	return &progressTracker{totalSeconds: totalSeconds, emit: emit}
}

// Line consumes one line from the encoder's progress stream.
func (t *progressTracker) Line(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds; ffmpeg kept the historical _ms
		// name when it added the _us alias.
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || us < 0 || t.totalSeconds <= 0 {
			return
		}
		t.report(float64(us) / 1e6 / t.totalSeconds * 100)
	case "progress":
		if strings.TrimSpace(value) == "end" {
			t.report(100)
		}
	}
}

// report emits a clamped percentage when it advances past the last value.
func (t *progressTracker) report(percent float64) {
	if percent > 100 {
		percent = 100
	}
	if percent <= t.last {
		return
	}
	t.last = percent
	if t.emit != nil {
		t.emit(percent)
	}
}
