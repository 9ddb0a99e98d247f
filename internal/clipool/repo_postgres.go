package clipool

import (
	"context"
	"database/sql"

	"dialer-platform/pkg/utils"
)

// NOTE: This repository assumes the following table exists:
// - cli_numbers (number PK, country, daily_quota, used_today, last_used_at, active)
//
// Quota and usage are persisted by the platform that owns the CLI inventory;
// the pool loads them at startup and writes usage back on reset/shutdown.

// LoadRecords reads all CLI records (active and inactive) so quota state
// survives restarts.
func LoadRecords(ctx context.Context, db *sql.DB) ([]CliRecord, error) {
	const q = `
SELECT number, country, daily_quota, used_today, last_used_at, active
FROM cli_numbers
ORDER BY number
`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CliRecord
	for rows.Next() {
		var r CliRecord
		var lastUsed sql.NullTime
		if err := rows.Scan(
			&r.Number,
			&r.Country,
			&r.DailyQuota,
			&r.UsedToday,
			&lastUsed,
			&r.Active,
		); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			r.LastUsedAt = lastUsed.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PersistUsage writes usage counters back in one transaction.
func PersistUsage(ctx context.Context, db *sql.DB, records []CliRecord) error {
	const q = `
UPDATE cli_numbers
SET used_today = $2, last_used_at = $3
WHERE number = $1
`
	return utils.WithTx(ctx, db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		for _, r := range records {
			var lastUsed any
			if !r.LastUsedAt.IsZero() {
				lastUsed = r.LastUsedAt
			}
			if _, err := tx.ExecContext(ctx, q, r.Number, r.UsedToday, lastUsed); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetDailyUsageDB zeroes persisted counters at the daily boundary.
// The in-memory pool is reset separately via Pool.ResetDailyUsage.
func ResetDailyUsageDB(ctx context.Context, db *sql.DB) error {
	const q = `
UPDATE cli_numbers
SET used_today = 0
WHERE used_today > 0
`
	_, err := db.ExecContext(ctx, q)
	return err
}
