package kernel

import (
	"fmt"
	"time"
)

// TimeWindow is an immutable half-open interval [Start, End).
type TimeWindow struct {
	start time.Time
	end   time.Time
}

// NewTimeWindow builds a window, rejecting end <= start.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if !end.After(start) {
		return TimeWindow{}, fmt.Errorf("time window: end %s is not after start %s", end, start)
	}
	return TimeWindow{start: start.UTC(), end: end.UTC()}, nil
}

// WindowEndingAt builds the window of the given duration that ends at t.
func WindowEndingAt(t time.Time, d time.Duration) TimeWindow {
	t = t.UTC()
	return TimeWindow{start: t.Add(-d), end: t}
}

func (w TimeWindow) Start() time.Time        { return w.start }
func (w TimeWindow) End() time.Time          { return w.end }
func (w TimeWindow) Duration() time.Duration { return w.end.Sub(w.start) }

// Contains reports whether t falls within [start, end).
func (w TimeWindow) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.start) && t.Before(w.end)
}

// Overlaps reports whether two windows share any instant.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.start.Before(o.end) && o.start.Before(w.end)
}
