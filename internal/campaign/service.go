package campaign

import (
	"context"
	"errors"
	"strings"
	"time"

	"dialer-platform/internal/dialer"

	"github.com/google/uuid"
)

var (
	ErrInvalidRequest = errors.New("campaign: invalid request")
	ErrNotFound       = errors.New("campaign: not found")
)

// Repository abstracts campaign and outcome persistence.
//
// IMPORTANT:
// - AppendOutcome must be append-only; no update or delete of dial history.
type Repository interface {
	Create(ctx context.Context, c Campaign) error
	Get(ctx context.Context, id string) (Campaign, error)
	List(ctx context.Context) ([]Campaign, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time) error

	AppendOutcome(ctx context.Context, rec OutcomeRecord) error
	ListOutcomes(ctx context.Context, campaignID string, from, to time.Time) ([]OutcomeRecord, error)
}

// BacklogMarker is implemented by repositories that persist a contact
// backlog. Marking keeps LoadBacklog from re-enqueueing contacts that
// already reached a terminal disposition in an earlier run.
type BacklogMarker interface {
	MarkDialed(ctx context.Context, contactID string) error
}

// Service owns campaign metadata and the terminal-disposition history the
// admission pipeline reports into. It implements dialer.OutcomeReporter.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

func (s *Service) Create(ctx context.Context, name, country string, priority int) (Campaign, error) {
	if s.repo == nil {
		return Campaign{}, errors.New("campaign: repository not configured")
	}
	name = strings.TrimSpace(name)
	country = strings.ToUpper(strings.TrimSpace(country))
	if name == "" || len(country) != 2 {
		return Campaign{}, ErrInvalidRequest
	}

	now := s.clock().UTC()
	c := Campaign{
		ID:        uuid.NewString(),
		Name:      name,
		Country:   country,
		Priority:  priority,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Campaign, error) {
	if id == "" {
		return Campaign{}, ErrInvalidRequest
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Campaign, error) {
	return s.repo.List(ctx)
}

// SetStatus moves a campaign between active/paused/completed.
// Completed is terminal; a completed campaign never reactivates.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	if id == "" {
		return ErrInvalidRequest
	}
	switch status {
	case StatusActive, StatusPaused, StatusCompleted:
	default:
		return ErrInvalidRequest
	}
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status == StatusCompleted && status != StatusCompleted {
		return ErrInvalidRequest
	}
	return s.repo.SetStatus(ctx, id, status, s.clock().UTC())
}

// ReportOutcome persists one terminal disposition from the pipeline.
// Best-effort contract: validation is minimal so reporting failures never
// depend on campaign metadata reads.
func (s *Service) ReportOutcome(ctx context.Context, r dialer.OutcomeReport) error {
	if s.repo == nil {
		return errors.New("campaign: repository not configured")
	}
	if r.CampaignID == "" || r.Outcome == "" {
		return ErrInvalidRequest
	}
	at := r.At
	if at.IsZero() {
		at = s.clock().UTC()
	}
	if err := s.repo.AppendOutcome(ctx, OutcomeRecord{
		ID:          uuid.NewString(),
		CampaignID:  r.CampaignID,
		RequestID:   r.RequestID,
		Destination: r.Destination,
		Outcome:     string(r.Outcome),
		Reason:      r.Reason,
		Attempts:    r.Attempts,
		At:          at,
	}); err != nil {
		return err
	}

	// Every report is terminal for its request, so the backlog contact is
	// consumed. Requests enqueued over the API carry generated ids that match
	// no contact row; the update is a no-op for those.
	if marker, ok := s.repo.(BacklogMarker); ok && r.RequestID != "" {
		return marker.MarkDialed(ctx, r.RequestID)
	}
	return nil
}

// Summary aggregates terminal dispositions for one campaign over a range.
func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.CampaignID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("campaign: repository not configured")
	}

	rows, err := s.repo.ListOutcomes(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{CampaignID: req.CampaignID}
	for _, rec := range rows {
		out.TotalRequests++
		out.TotalAttempts += rec.Attempts
		switch dialer.Outcome(rec.Outcome) {
		case dialer.OutcomeAnswered:
			out.Answered++
		case dialer.OutcomeBlocked:
			out.Blocked++
		case dialer.OutcomeExhausted:
			out.Exhausted++
		}
	}
	if out.TotalRequests > 0 {
		out.AnswerRate = float64(out.Answered) / float64(out.TotalRequests)
	}
	return out, nil
}
