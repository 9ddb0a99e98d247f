package campaign

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialer-platform/internal/dialer"
)

// PostgresRepo persists campaigns, their append-only outcome history and the
// contact backlog loaded at startup.
//
// NOTE: assumes the following tables exist:
// - campaigns (id PK, name, country, priority, status, created_at, updated_at)
// - campaign_outcomes (id PK, campaign_id, request_id, destination, outcome,
//   reason, attempts, at) with an INSERT-only policy
// - campaign_contacts (id PK, campaign_id, destination, country, priority,
//   dialed bool)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const insertCampaignQuery = `
INSERT INTO campaigns (id, name, country, priority, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	_, err := r.db.ExecContext(ctx, insertCampaignQuery,
		c.ID, c.Name, c.Country, c.Priority, c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

const getCampaignQuery = `
SELECT id, name, country, priority, status, created_at, updated_at
FROM campaigns
WHERE id = $1
`

func (r *PostgresRepo) Get(ctx context.Context, id string) (Campaign, error) {
	var c Campaign
	err := r.db.QueryRowContext(ctx, getCampaignQuery, id).Scan(
		&c.ID, &c.Name, &c.Country, &c.Priority, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, err
	}
	return c, nil
}

const listCampaignsQuery = `
SELECT id, name, country, priority, status, created_at, updated_at
FROM campaigns
ORDER BY created_at
`

func (r *PostgresRepo) List(ctx context.Context) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, listCampaignsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.Priority, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const setCampaignStatusQuery = `
UPDATE campaigns
SET status = $2, updated_at = $3
WHERE id = $1
`

func (r *PostgresRepo) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, setCampaignStatusQuery, id, status, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const insertOutcomeQuery = `
INSERT INTO campaign_outcomes (id, campaign_id, request_id, destination, outcome, reason, attempts, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (r *PostgresRepo) AppendOutcome(ctx context.Context, rec OutcomeRecord) error {
	_, err := r.db.ExecContext(ctx, insertOutcomeQuery,
		rec.ID, rec.CampaignID, rec.RequestID, rec.Destination,
		rec.Outcome, rec.Reason, rec.Attempts, rec.At)
	return err
}

const listOutcomesQuery = `
SELECT id, campaign_id, request_id, destination, outcome, reason, attempts, at
FROM campaign_outcomes
WHERE campaign_id = $1 AND at >= $2 AND at < $3
ORDER BY at
`

func (r *PostgresRepo) ListOutcomes(ctx context.Context, campaignID string, from, to time.Time) ([]OutcomeRecord, error) {
	rows, err := r.db.QueryContext(ctx, listOutcomesQuery, campaignID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.RequestID, &rec.Destination,
			&rec.Outcome, &rec.Reason, &rec.Attempts, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const loadBacklogQuery = `
SELECT id, destination, country, priority
FROM campaign_contacts
WHERE campaign_id = $1 AND dialed = false
ORDER BY priority DESC, id
`

// LoadBacklog reads a campaign's undialed contacts as queueable requests, so a
// restart resumes where the previous process stopped.
func (r *PostgresRepo) LoadBacklog(ctx context.Context, campaignID string, enqueuedAt time.Time) ([]dialer.CallRequest, error) {
	rows, err := r.db.QueryContext(ctx, loadBacklogQuery, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dialer.CallRequest
	for rows.Next() {
		var req dialer.CallRequest
		if err := rows.Scan(&req.ID, &req.Destination, &req.Country, &req.Priority); err != nil {
			return nil, err
		}
		req.CampaignID = campaignID
		req.EnqueuedAt = enqueuedAt
		out = append(out, req)
	}
	return out, rows.Err()
}

const markDialedQuery = `
UPDATE campaign_contacts
SET dialed = true
WHERE id = $1
`

// MarkDialed flags a backlog contact as consumed.
func (r *PostgresRepo) MarkDialed(ctx context.Context, contactID string) error {
	_, err := r.db.ExecContext(ctx, markDialedQuery, contactID)
	return err
}
