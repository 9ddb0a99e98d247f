package dialer

import (
	"context"
	"time"

	"dialer-platform/internal/gateway"
)

// CallRequest is one queued dial instruction. Immutable except Attempts;
// ownership transfers to the pipeline at dequeue.
type CallRequest struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Country     string    `json:"country"`
	CampaignID  string    `json:"campaign_id"`
	// Priority orders dequeue within a campaign; higher dials sooner.
	Priority   int       `json:"priority"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// NotBefore delays retries; zero means immediately eligible.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// CallState is the lifecycle position of an in-flight call.
// Terminal is one-way: no transition ever leaves it.
type CallState string

const (
	StateDialing   CallState = "dialing"
	StateRinging   CallState = "ringing"
	StateConnected CallState = "connected"
	StateTerminal  CallState = "terminal"
)

// Outcome classifies how a call (or request) ended.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeBusy     Outcome = "busy"
	OutcomeNoAnswer Outcome = "no_answer"
	OutcomeFailed   Outcome = "failed"
	// OutcomeBlocked is a compliance rejection; never dialed, never retried.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeExhausted marks a request past its attempt cap.
	OutcomeExhausted Outcome = "exhausted"
)

// retryable reports whether an outcome re-enqueues the request (up to the
// attempt cap). Blocked and Answered never retry.
func retryable(o Outcome) bool {
	switch o {
	case OutcomeBusy, OutcomeNoAnswer, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Call is exclusively owned by the lifecycle tracker from dial to eviction.
type Call struct {
	ID      string             `json:"id"`
	Handle  gateway.CallHandle `json:"handle"`
	Request CallRequest        `json:"request"`
	Cli     string             `json:"cli"`

	State       CallState `json:"state"`
	DialedAt    time.Time `json:"dialed_at"`
	AnsweredAt  time.Time `json:"answered_at,omitempty"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	Outcome     Outcome   `json:"outcome,omitempty"`
	HangupCause string    `json:"hangup_cause,omitempty"`
}

// Duration is talk time for answered calls, zero otherwise.
func (c *Call) Duration() time.Duration {
	if c.AnsweredAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.AnsweredAt)
}

// OutcomeReport is what the pipeline hands back to the campaign layer when a
// request reaches a terminal disposition.
type OutcomeReport struct {
	CampaignID  string    `json:"campaign_id"`
	RequestID   string    `json:"request_id"`
	Destination string    `json:"destination"`
	Outcome     Outcome   `json:"outcome"`
	// Reason carries the compliance reason code for Blocked outcomes.
	Reason   string    `json:"reason,omitempty"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// OutcomeReporter receives terminal dispositions for downstream reporting.
// Implementations must not block the caller for long; the campaign layer owns
// persistence.
type OutcomeReporter interface {
	ReportOutcome(ctx context.Context, r OutcomeReport) error
}

// Status is the management view of the pipeline.
type Status struct {
	CurrentCPS      float64 `json:"current_cps"`
	ConcurrentCalls int     `json:"concurrent_calls"`
	QueueDepth      int     `json:"queue_depth"`
	EmergencyBrake  bool    `json:"emergency_brake"`
	State           string  `json:"state"`
	GatewayDown     bool    `json:"gateway_down"`
}

// PauseMode selects how a campaign pause treats in-flight calls.
type PauseMode string

const (
	// PauseGraceful stops new dials and lets in-flight calls finish.
	PauseGraceful PauseMode = "graceful"
	// PauseHard additionally hangs up the campaign's in-flight calls.
	PauseHard PauseMode = "hard"
)
