package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs operator actions against the dialer.
//
// IMPORTANT:
// - Audit is internal-only; records are for ops, not end users.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCampaignAction records a pause/resume/create/enqueue against a campaign.
func (s *Service) LogCampaignAction(ctx context.Context, typ EventType, actorUserID, actorRole, ip, campaignID, message string) error {
	return s.Append(ctx, Event{
		Type:        typ,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CampaignID:  campaignID,
		Message:     message,
	})
}

// LogCpsOverride records a manual pacing override. metadata carries the pinned
// value, or the cleared state, as JSON.
func (s *Service) LogCpsOverride(ctx context.Context, actorUserID, actorRole, ip, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCpsOverride,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     "cps override changed",
		Metadata:    metadata,
	})
}
