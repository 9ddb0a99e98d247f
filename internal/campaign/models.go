package campaign

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Campaign groups call requests under one pacing and reporting scope.
type Campaign struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	// Country is the default destination country for backlog contacts,
	// ISO 3166-1 alpha-2.
	Country  string `json:"country" db:"country"`
	Priority int    `json:"priority" db:"priority"`
	Status   Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OutcomeRecord is one persisted terminal disposition.
//
// Invariants:
// - Records are append-only; the dial history of a campaign is immutable.
// - One record per request reaching a terminal disposition (answered, blocked
//   or exhausted), not per attempt.
type OutcomeRecord struct {
	ID          string    `json:"id" db:"id"`
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	RequestID   string    `json:"request_id" db:"request_id"`
	Destination string    `json:"destination" db:"destination"`
	Outcome     string    `json:"outcome" db:"outcome"`
	Reason      string    `json:"reason,omitempty" db:"reason"`
	Attempts    int       `json:"attempts" db:"attempts"`
	At          time.Time `json:"at" db:"at"`
}

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type SummaryRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

// Summary aggregates a campaign's terminal dispositions over a range.
type Summary struct {
	CampaignID string `json:"campaign_id"`

	TotalRequests int `json:"total_requests"`
	Answered      int `json:"answered"`
	Blocked       int `json:"blocked"`
	Exhausted     int `json:"exhausted"`

	TotalAttempts int     `json:"total_attempts"`
	AnswerRate    float64 `json:"answer_rate"`
}
