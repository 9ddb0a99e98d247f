package audit

import "time"

// Event is an immutable, append-only audit log record of an operator action
// against the dialer.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block control actions on
//   audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the control action being recorded.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated operator causing the event.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress should capture the original client IP when available.
	// Prefer X-Forwarded-For processing at the edge; store the resolved
	// client IP here.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// CampaignID targets the affected campaign, when the action has one.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details (override values, counts).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCampaignPause  EventType = "campaign_pause"
	EventTypeCampaignResume EventType = "campaign_resume"
	EventTypeCampaignCreate EventType = "campaign_create"
	EventTypeEnqueue        EventType = "enqueue"
	EventTypeCpsOverride    EventType = "cps_override"
)
