package campaign

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	outcomes  []OutcomeRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: map[string]Campaign{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	r.campaigns[id] = c
	return nil
}

func (r *MemoryRepo) AppendOutcome(ctx context.Context, rec OutcomeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, rec)
	return nil
}

func (r *MemoryRepo) ListOutcomes(ctx context.Context, campaignID string, from, to time.Time) ([]OutcomeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeRecord, 0)
	for _, rec := range r.outcomes {
		if rec.CampaignID != campaignID {
			continue
		}
		if rec.At.Before(from) || !rec.At.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
