package metrics

import (
	"sync"
	"time"
)

// Sample is one observation appended to the window.
// Samples are deltas: the tracker appends one per terminal transition and the
// worker appends one per dispatch, so window totals are sums over samples.
type Sample struct {
	At         time.Time
	Initiated  int
	Answered   int
	Failed     int
	Concurrent int

	// CallDuration is the talk time of an answered call reaching terminal
	// state with this sample. Zero for non-answered samples.
	CallDuration time.Duration
}

// Window is a bounded, time-ordered record of recent call outcomes.
//
// Invariants:
// - Samples are retained for at most the configured trailing duration.
// - Reads never mutate samples; eviction happens on append and on read.
// - All consumers (CPS controller, status endpoint) see the same totals.
type Window struct {
	mu        sync.Mutex
	retention time.Duration
	samples   []Sample
	clock     func() time.Time
}

// NewWindow creates a window retaining samples for the trailing duration.
func NewWindow(retention time.Duration) *Window {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Window{retention: retention, clock: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (w *Window) SetClock(clock func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clock = clock
}

// Append records a sample. A zero At is stamped with the window clock.
func (w *Window) Append(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.At.IsZero() {
		s.At = w.clock()
	}
	w.samples = append(w.samples, s)
	w.evictLocked(w.clock())
}

// Totals sums initiated/answered/failed over the lookback. A lookback of zero
// (or exceeding retention) uses the full window.
func (w *Window) Totals(lookback time.Duration) (initiated, answered, failed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock()
	w.evictLocked(now)
	cutoff := w.cutoff(now, lookback)
	for _, s := range w.samples {
		if s.At.Before(cutoff) {
			continue
		}
		initiated += s.Initiated
		answered += s.Answered
		failed += s.Failed
	}
	return initiated, answered, failed
}

// AnswerRate is answered/initiated over the lookback.
// ok is false when no calls were initiated (undefined rate).
func (w *Window) AnswerRate(lookback time.Duration) (rate float64, ok bool) {
	initiated, answered, _ := w.Totals(lookback)
	if initiated == 0 {
		return 0, false
	}
	return float64(answered) / float64(initiated), true
}

// SuccessRate is answered/(answered+failed) over the lookback, i.e. the share
// of terminal outcomes that connected. ok is false with no terminal outcomes.
func (w *Window) SuccessRate(lookback time.Duration) (rate float64, ok bool) {
	_, answered, failed := w.Totals(lookback)
	total := answered + failed
	if total == 0 {
		return 0, false
	}
	return float64(answered) / float64(total), true
}

// AvgCallDuration averages talk time of answered calls over the lookback.
// ok is false when no answered calls carry a duration.
func (w *Window) AvgCallDuration(lookback time.Duration) (avg time.Duration, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock()
	w.evictLocked(now)
	cutoff := w.cutoff(now, lookback)
	var total time.Duration
	var n int
	for _, s := range w.samples {
		if s.At.Before(cutoff) || s.CallDuration <= 0 {
			continue
		}
		total += s.CallDuration
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / time.Duration(n), true
}

func (w *Window) cutoff(now time.Time, lookback time.Duration) time.Time {
	if lookback <= 0 || lookback > w.retention {
		lookback = w.retention
	}
	return now.Add(-lookback)
}

func (w *Window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	i := 0
	for ; i < len(w.samples); i++ {
		if !w.samples[i].At.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}
