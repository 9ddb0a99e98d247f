package gateway

import (
	"context"
	"time"
)

// CallHandle is the gateway's opaque identifier for an in-flight call.
type CallHandle string

type EventType string

const (
	EventRinging   EventType = "ringing"
	EventAnswered  EventType = "answered"
	EventHangup    EventType = "hangup"
	EventDtmfDigit EventType = "dtmf_digit"
)

// Hangup causes reported by telephony backends. Busy/no-answer arrive as
// Hangup events with the matching cause on a never-answered call.
const (
	CauseNormal   = "normal"
	CauseBusy     = "busy"
	CauseNoAnswer = "no_answer"
	CauseFailed   = "failed"
)

// Event is an asynchronous status notification for an originated call.
type Event struct {
	Handle  CallHandle
	Type    EventType
	At      time.Time
	Cause   string
	Payload map[string]string
}

// Gateway is the abstract telephony boundary.
//
// Rules:
// - Originate must return promptly (accept/reject), never wait for ring.
// - All signalling beyond acceptance arrives on the Events channel.
// - No business logic in adapters; they only translate backend events into
//   these types.
type Gateway interface {
	Name() string
	HealthCheck(ctx context.Context) error

	Originate(ctx context.Context, destination, cli string, vars map[string]string) (CallHandle, error)
	Hangup(ctx context.Context, handle CallHandle) error

	Events() <-chan Event
}
