package metrics

import (
	"testing"
	"time"
)

func TestWindow_RatesUndefinedWhenEmpty(t *testing.T) {
	w := NewWindow(10 * time.Minute)
	if _, ok := w.AnswerRate(0); ok {
		t.Fatalf("expected undefined answer rate on empty window")
	}
	if _, ok := w.SuccessRate(0); ok {
		t.Fatalf("expected undefined success rate on empty window")
	}
	if _, ok := w.AvgCallDuration(0); ok {
		t.Fatalf("expected undefined avg duration on empty window")
	}
}

func TestWindow_RatesOverLookback(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	w := NewWindow(10 * time.Minute)
	w.SetClock(func() time.Time { return now })

	w.Append(Sample{At: now.Add(-5 * time.Minute), Initiated: 10})
	w.Append(Sample{At: now.Add(-4 * time.Minute), Answered: 3, CallDuration: 180 * time.Second})
	w.Append(Sample{At: now.Add(-3 * time.Minute), Failed: 7})

	rate, ok := w.AnswerRate(0)
	if !ok || rate != 0.3 {
		t.Fatalf("expected answer rate 0.3, got %v ok=%v", rate, ok)
	}
	sr, ok := w.SuccessRate(0)
	if !ok || sr != 0.3 {
		t.Fatalf("expected success rate 0.3, got %v ok=%v", sr, ok)
	}
	avg, ok := w.AvgCallDuration(0)
	if !ok || avg != 180*time.Second {
		t.Fatalf("expected avg 180s, got %v ok=%v", avg, ok)
	}
}

func TestWindow_EvictsOutsideRetention(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	w := NewWindow(time.Minute)
	w.SetClock(func() time.Time { return now })

	w.Append(Sample{At: now.Add(-2 * time.Minute), Initiated: 100})
	w.Append(Sample{At: now.Add(-10 * time.Second), Initiated: 1})

	initiated, _, _ := w.Totals(0)
	if initiated != 1 {
		t.Fatalf("expected old sample evicted, got initiated=%d", initiated)
	}
}

func TestWindow_LookbackNarrowerThanRetention(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	w := NewWindow(10 * time.Minute)
	w.SetClock(func() time.Time { return now })

	w.Append(Sample{At: now.Add(-8 * time.Minute), Failed: 5})
	w.Append(Sample{At: now.Add(-30 * time.Second), Answered: 1})

	sr, ok := w.SuccessRate(time.Minute)
	if !ok || sr != 1.0 {
		t.Fatalf("expected success rate 1.0 over 1m lookback, got %v ok=%v", sr, ok)
	}
	sr, ok = w.SuccessRate(0)
	if !ok || sr == 1.0 {
		t.Fatalf("expected full-window rate to include failures, got %v ok=%v", sr, ok)
	}
}
