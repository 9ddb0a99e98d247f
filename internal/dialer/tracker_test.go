package dialer

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"dialer-platform/internal/gateway"
	"dialer-platform/internal/metrics"
)

func newTestTracker(win *metrics.Window) *Tracker {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(win, log, 300*time.Second, 30*time.Second)
}

func trackCall(tr *Tracker, handle string, campaign string, dialedAt time.Time) *Call {
	c := &Call{
		ID:       "call-" + handle,
		Handle:   gateway.CallHandle(handle),
		Request:  CallRequest{ID: "req-" + handle, Destination: "+15551230000", CampaignID: campaign},
		DialedAt: dialedAt,
	}
	tr.Track(c)
	return c
}

func TestTrackerAnsweredLifecycle(t *testing.T) {
	base := time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)
	win := metrics.NewWindow(10 * time.Minute)
	win.SetClock(func() time.Time { return base.Add(time.Minute) })
	tr := newTestTracker(win)

	trackCall(tr, "h1", "c1", base)
	if got := tr.Concurrent(); got != 1 {
		t.Fatalf("Concurrent after Track = %d, want 1", got)
	}

	if _, terminal := tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventRinging, At: base.Add(2 * time.Second)}); terminal {
		t.Fatal("ringing must not be terminal")
	}
	if _, terminal := tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventAnswered, At: base.Add(5 * time.Second)}); terminal {
		t.Fatal("answered must not be terminal")
	}

	c, terminal := tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventHangup, Cause: gateway.CauseNormal, At: base.Add(35 * time.Second)})
	if !terminal {
		t.Fatal("hangup after answer must be terminal")
	}
	if c.Outcome != OutcomeAnswered {
		t.Fatalf("Outcome = %q, want answered", c.Outcome)
	}
	if got := c.Duration(); got != 30*time.Second {
		t.Fatalf("Duration = %v, want 30s", got)
	}
	if got := tr.Concurrent(); got != 0 {
		t.Fatalf("Concurrent after terminal = %d, want 0", got)
	}

	_, answered, failed := win.Totals(0)
	if answered != 1 || failed != 0 {
		t.Fatalf("window answered=%d failed=%d, want 1/0", answered, failed)
	}
}

func TestTrackerHangupCauseMapping(t *testing.T) {
	base := time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)
	cases := []struct {
		cause string
		want  Outcome
	}{
		{gateway.CauseBusy, OutcomeBusy},
		{gateway.CauseNoAnswer, OutcomeNoAnswer},
		{gateway.CauseNormal, OutcomeNoAnswer},
		{gateway.CauseFailed, OutcomeFailed},
		{"congestion", OutcomeFailed},
	}
	for _, tc := range cases {
		win := metrics.NewWindow(10 * time.Minute)
		win.SetClock(func() time.Time { return base })
		tr := newTestTracker(win)
		trackCall(tr, "h1", "c1", base)

		c, terminal := tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventHangup, Cause: tc.cause, At: base.Add(20 * time.Second)})
		if !terminal {
			t.Fatalf("cause %q: hangup must be terminal", tc.cause)
		}
		if c.Outcome != tc.want {
			t.Fatalf("cause %q: outcome = %q, want %q", tc.cause, c.Outcome, tc.want)
		}
	}
}

func TestTrackerIgnoresLateAndUnknownEvents(t *testing.T) {
	base := time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)
	win := metrics.NewWindow(10 * time.Minute)
	win.SetClock(func() time.Time { return base })
	tr := newTestTracker(win)

	if _, terminal := tr.Apply(gateway.Event{Handle: "ghost", Type: gateway.EventHangup}); terminal {
		t.Fatal("unknown handle must not produce a terminal transition")
	}

	trackCall(tr, "h1", "c1", base)
	tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventHangup, Cause: gateway.CauseBusy, At: base.Add(time.Second)})

	// Duplicate hangup after terminal: no second transition, no double release.
	if _, terminal := tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventHangup, Cause: gateway.CauseBusy, At: base.Add(2 * time.Second)}); terminal {
		t.Fatal("terminal call must ignore further events")
	}
	if got := tr.Concurrent(); got != 0 {
		t.Fatalf("Concurrent = %d, want 0", got)
	}
	_, _, failed := win.Totals(0)
	if failed != 1 {
		t.Fatalf("window failed = %d, want exactly 1", failed)
	}
}

func TestTrackerSweepForceTerminatesStaleCalls(t *testing.T) {
	base := time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)
	win := metrics.NewWindow(10 * time.Minute)
	win.SetClock(func() time.Time { return base.Add(301 * time.Second) })
	tr := newTestTracker(win)

	trackCall(tr, "stale", "c1", base)
	trackCall(tr, "fresh", "c1", base.Add(200*time.Second))

	terminated := tr.Sweep(base.Add(301 * time.Second))
	if len(terminated) != 1 {
		t.Fatalf("Sweep terminated %d calls, want 1", len(terminated))
	}
	if terminated[0].Handle != "stale" {
		t.Fatalf("Sweep terminated %q, want stale", terminated[0].Handle)
	}
	if terminated[0].Outcome != OutcomeFailed || terminated[0].HangupCause != "timeout" {
		t.Fatalf("stale call outcome = %q cause = %q, want failed/timeout", terminated[0].Outcome, terminated[0].HangupCause)
	}
	if got := tr.Concurrent(); got != 1 {
		t.Fatalf("Concurrent after sweep = %d, want 1", got)
	}
}

func TestTrackerSweepEvictsTerminalAfterGrace(t *testing.T) {
	base := time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)
	win := metrics.NewWindow(10 * time.Minute)
	win.SetClock(func() time.Time { return base })
	tr := newTestTracker(win)

	trackCall(tr, "h1", "c1", base)
	tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventHangup, Cause: gateway.CauseBusy, At: base.Add(time.Second)})

	// Within grace: late events still find the call.
	tr.Sweep(base.Add(10 * time.Second))
	if c, _ := tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventHangup, At: base.Add(11 * time.Second)}); c.ID == "" {
		t.Fatal("terminal call should remain attributable within the grace period")
	}

	// Past grace: evicted, events go to the unknown-handle path.
	tr.Sweep(base.Add(time.Second + 31*time.Second))
	if c, _ := tr.Apply(gateway.Event{Handle: "h1", Type: gateway.EventHangup, At: base.Add(45 * time.Second)}); c.ID != "" {
		t.Fatal("evicted call should no longer be tracked")
	}
}

func TestTrackerActiveHandlesFiltersByCampaign(t *testing.T) {
	base := time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)
	win := metrics.NewWindow(10 * time.Minute)
	win.SetClock(func() time.Time { return base })
	tr := newTestTracker(win)

	trackCall(tr, "a1", "alpha", base)
	trackCall(tr, "a2", "alpha", base)
	trackCall(tr, "b1", "beta", base)
	tr.Apply(gateway.Event{Handle: "a2", Type: gateway.EventHangup, Cause: gateway.CauseBusy, At: base.Add(time.Second)})

	handles := tr.ActiveHandles("alpha")
	if len(handles) != 1 || handles[0] != "a1" {
		t.Fatalf("ActiveHandles(alpha) = %v, want [a1]", handles)
	}
}
