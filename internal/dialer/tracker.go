package dialer

import (
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/gateway"
	"dialer-platform/internal/metrics"
)

// Tracker owns every Call from dial to eviction.
//
// Invariants:
// - A call is in exactly one of {Dialing, Ringing, Connected, Terminal}.
// - The transition to Terminal is one-way; late events on a terminal call are
//   ignored (the call stays attributable for a grace period, then evicts).
// - Every terminal transition appends exactly one metrics sample and releases
//   exactly one concurrency slot.
type Tracker struct {
	mu         sync.Mutex
	active     map[gateway.CallHandle]*Call
	concurrent int
	win        *metrics.Window
	log        *slog.Logger

	staleTimeout  time.Duration
	terminalGrace time.Duration
	clock         func() time.Time
}

func NewTracker(win *metrics.Window, log *slog.Logger, staleTimeout, terminalGrace time.Duration) *Tracker {
	if staleTimeout <= 0 {
		staleTimeout = 300 * time.Second
	}
	if terminalGrace <= 0 {
		terminalGrace = 30 * time.Second
	}
	return &Tracker{
		active:        map[gateway.CallHandle]*Call{},
		win:           win,
		log:           log,
		staleTimeout:  staleTimeout,
		terminalGrace: terminalGrace,
		clock:         time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (t *Tracker) SetClock(clock func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
}

// Track registers a freshly accepted call (state Dialing) and takes a
// concurrency slot.
func (t *Tracker) Track(c *Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c.State = StateDialing
	t.active[c.Handle] = c
	t.concurrent++
}

// Concurrent is the number of non-terminal tracked calls.
func (t *Tracker) Concurrent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.concurrent
}

// ActiveHandles lists non-terminal calls of one campaign (for hard pause).
func (t *Tracker) ActiveHandles(campaignID string) []gateway.CallHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []gateway.CallHandle
	for h, c := range t.active {
		if c.State != StateTerminal && c.Request.CampaignID == campaignID {
			out = append(out, h)
		}
	}
	return out
}

// Apply advances a call's state machine with a gateway event. It returns the
// call and true when the event caused a terminal transition, so the worker
// can run its retry/report path without the tracker blocking on a channel.
func (t *Tracker) Apply(ev gateway.Event) (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.active[ev.Handle]
	if !ok {
		// Unknown or already-evicted handle; event loss tolerance.
		t.log.Debug("event for unknown call", "handle", ev.Handle, "type", ev.Type)
		return Call{}, false
	}
	if c.State == StateTerminal {
		return *c, false
	}

	at := ev.At
	if at.IsZero() {
		at = t.clock()
	}

	switch ev.Type {
	case gateway.EventRinging:
		if c.State == StateDialing {
			c.State = StateRinging
		}
		return *c, false

	case gateway.EventAnswered:
		c.State = StateConnected
		c.AnsweredAt = at
		return *c, false

	case gateway.EventDtmfDigit:
		// Payload only; no state change.
		return *c, false

	case gateway.EventHangup:
		c.EndedAt = at
		if c.State == StateConnected {
			t.terminalLocked(c, OutcomeAnswered, ev.Cause, at)
		} else {
			t.terminalLocked(c, outcomeForCause(ev.Cause), ev.Cause, at)
		}
		return *c, true
	}
	return *c, false
}

// Sweep force-terminates stale calls and evicts terminal calls past their
// grace period. Returned calls went terminal during this sweep.
func (t *Tracker) Sweep(now time.Time) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	var terminated []Call
	for h, c := range t.active {
		if c.State == StateTerminal {
			if now.Sub(c.EndedAt) > t.terminalGrace {
				delete(t.active, h)
			}
			continue
		}
		if now.Sub(c.DialedAt) > t.staleTimeout {
			// Gateway event loss must not leak concurrency slots forever.
			c.EndedAt = now
			t.terminalLocked(c, OutcomeFailed, "timeout", now)
			t.log.Warn("stale call force-terminated",
				"call_id", c.ID,
				"campaign_id", c.Request.CampaignID,
				"dialed_at", c.DialedAt,
			)
			terminated = append(terminated, *c)
		}
	}
	return terminated
}

func (t *Tracker) terminalLocked(c *Call, outcome Outcome, cause string, at time.Time) {
	c.State = StateTerminal
	c.Outcome = outcome
	c.HangupCause = cause
	t.concurrent--

	s := metrics.Sample{At: at, Concurrent: t.concurrent}
	if outcome == OutcomeAnswered {
		s.Answered = 1
		s.CallDuration = c.Duration()
	} else {
		s.Failed = 1
	}
	t.win.Append(s)
}

// outcomeForCause maps hangup causes on never-answered calls.
func outcomeForCause(cause string) Outcome {
	switch cause {
	case gateway.CauseBusy:
		return OutcomeBusy
	case gateway.CauseNoAnswer, gateway.CauseNormal:
		return OutcomeNoAnswer
	default:
		return OutcomeFailed
	}
}
