package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OriginatedCall records one accepted Originate for assertions and status.
type OriginatedCall struct {
	Handle      CallHandle
	Destination string
	Cli         string
	At          time.Time
}

// Sim is a deterministic in-process gateway used by tests and the local
// environment. Tests drive signalling explicitly through Emit; local runs can
// register per-destination scripts that answer or fail calls after a delay.
type Sim struct {
	mu         sync.Mutex
	events     chan Event
	originated []OriginatedCall
	rejectNext error
	down       bool
	scripts    map[string]Script
	clock      func() time.Time
}

// Script defines automatic behavior for a destination.
type Script struct {
	// RejectOriginate makes Originate fail synchronously.
	RejectOriginate bool
	// RingAfter/AnswerAfter/HangupAfter schedule events relative to dial.
	// A zero AnswerAfter with a non-zero HangupAfter produces an unanswered
	// call terminated with Cause.
	RingAfter   time.Duration
	AnswerAfter time.Duration
	HangupAfter time.Duration
	Cause       string
}

func NewSim() *Sim {
	return &Sim{
		events:  make(chan Event, 256),
		scripts: map[string]Script{},
		clock:   time.Now,
	}
}

func (s *Sim) Name() string { return "sim" }

var errGatewayDown = errors.New("gateway: sim marked down")

func (s *Sim) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errGatewayDown
	}
	return nil
}

// SetDown toggles simulated connectivity loss.
func (s *Sim) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// RejectNext makes the next Originate fail synchronously with err.
func (s *Sim) RejectNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = err
}

// SetScript installs automatic behavior for a destination.
func (s *Sim) SetScript(destination string, sc Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[destination] = sc
}

func (s *Sim) Originate(ctx context.Context, destination, cli string, vars map[string]string) (CallHandle, error) {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return "", errGatewayDown
	}
	if err := s.rejectNext; err != nil {
		s.rejectNext = nil
		s.mu.Unlock()
		return "", err
	}
	sc, scripted := s.scripts[destination]
	if scripted && sc.RejectOriginate {
		s.mu.Unlock()
		return "", errors.New("gateway: originate rejected by script")
	}

	h := CallHandle(uuid.NewString())
	s.originated = append(s.originated, OriginatedCall{
		Handle:      h,
		Destination: destination,
		Cli:         cli,
		At:          s.clock(),
	})
	s.mu.Unlock()

	if scripted {
		go s.play(h, sc)
	}
	return h, nil
}

func (s *Sim) play(h CallHandle, sc Script) {
	if sc.RingAfter > 0 {
		time.Sleep(sc.RingAfter)
		s.Emit(Event{Handle: h, Type: EventRinging})
	}
	if sc.AnswerAfter > 0 {
		time.Sleep(sc.AnswerAfter)
		s.Emit(Event{Handle: h, Type: EventAnswered})
	}
	if sc.HangupAfter > 0 {
		time.Sleep(sc.HangupAfter)
		cause := sc.Cause
		if cause == "" {
			cause = CauseNormal
		}
		s.Emit(Event{Handle: h, Type: EventHangup, Cause: cause})
	}
}

func (s *Sim) Hangup(ctx context.Context, handle CallHandle) error {
	s.Emit(Event{Handle: handle, Type: EventHangup, Cause: CauseNormal})
	return nil
}

// Emit pushes an event as if the backend produced it.
func (s *Sim) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.clock()
	}
	s.events <- ev
}

func (s *Sim) Events() <-chan Event { return s.events }

// Originated returns a copy of all accepted originates.
func (s *Sim) Originated() []OriginatedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OriginatedCall, len(s.originated))
	copy(out, s.originated)
	return out
}
