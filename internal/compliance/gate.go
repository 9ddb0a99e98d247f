package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the persistence contract behind the gate. Data is owned by an
// external service; the gate only reads it (plus the attempt counters it
// bumps per dial).
type Store interface {
	IsBlacklisted(ctx context.Context, number string) (bool, error)
	DncLookup(ctx context.Context, number, country string) (DncEntry, bool, error)
	AttemptCounts(ctx context.Context, number string) (day, week int, err error)
	RecordAttempt(ctx context.Context, number string) error
}

var ErrInvalidCheck = errors.New("compliance: invalid check request")

// Gate is the single yes/no decision in front of every dial.
//
// Checks short-circuit cheapest-first: blacklist, DNC (lazy TTL expiry),
// calling window, frequency cap. The first failure wins.
//
// The gate sits on the admission hot path, so the store it is given should be
// wrapped in CachedStore; the gate itself performs no caching.
type Gate struct {
	store     Store
	windows   map[string]WindowPolicy
	locations map[string]*time.Location
	freq      FrequencyPolicy
	clock     func() time.Time
}

// NewGate builds a gate over the given store and policy tables. Timezones in
// the window policies are resolved once here; an unknown zone is a
// configuration error.
func NewGate(store Store, windows map[string]WindowPolicy, freq FrequencyPolicy) (*Gate, error) {
	if store == nil {
		return nil, errors.New("compliance: store is required")
	}
	locations := make(map[string]*time.Location, len(windows))
	for country, p := range windows {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, fmt.Errorf("compliance: window policy %s: %w", country, err)
		}
		locations[country] = loc
	}
	return &Gate{
		store:     store,
		windows:   windows,
		locations: locations,
		freq:      freq,
		clock:     time.Now,
	}, nil
}

// SetClock injects a deterministic clock for tests.
func (g *Gate) SetClock(clock func() time.Time) { g.clock = clock }

// Check evaluates all gates for one candidate call.
// A returned error means the backing store failed; callers must treat that as
// not-allowed rather than dialing blind.
func (g *Gate) Check(ctx context.Context, req CheckRequest) (Verdict, error) {
	number := NormalizeNumber(req.Number)
	if number == "" {
		return Verdict{}, ErrInvalidCheck
	}
	now := g.clock()

	blocked, err := g.store.IsBlacklisted(ctx, number)
	if err != nil {
		return Verdict{}, err
	}
	if blocked {
		return Verdict{Allowed: false, Reason: ReasonBlacklisted}, nil
	}

	entry, listed, err := g.store.DncLookup(ctx, number, req.Country)
	if err != nil {
		return Verdict{}, err
	}
	if listed && (entry.ExpiresAt.IsZero() || entry.ExpiresAt.After(now)) {
		return Verdict{Allowed: false, Reason: ReasonDncListed}, nil
	}

	if !g.withinWindow(req.Country, now) {
		return Verdict{Allowed: false, Reason: ReasonOutOfWindow}, nil
	}

	day, week, err := g.store.AttemptCounts(ctx, number)
	if err != nil {
		return Verdict{}, err
	}
	if (g.freq.DayLimit > 0 && day >= g.freq.DayLimit) ||
		(g.freq.WeekLimit > 0 && week >= g.freq.WeekLimit) {
		return Verdict{Allowed: false, Reason: ReasonFrequencyCapped}, nil
	}

	return Verdict{Allowed: true, Reason: ReasonAllowed}, nil
}

// RecordAttempt bumps the destination's rolling attempt counters. The worker
// calls this once per actual dial (rejections do not count).
func (g *Gate) RecordAttempt(ctx context.Context, number string) error {
	number = NormalizeNumber(number)
	if number == "" {
		return ErrInvalidCheck
	}
	return g.store.RecordAttempt(ctx, number)
}

// withinWindow checks the destination's local clock against the country
// policy. A country without a policy is treated as unrestricted; regulated
// markets must ship a policy row.
func (g *Gate) withinWindow(country string, now time.Time) bool {
	p, ok := g.windows[country]
	if !ok {
		return true
	}
	loc := g.locations[country]
	local := now.In(loc)
	r, ok := p.Days[local.Weekday()]
	if !ok {
		return false
	}
	h := local.Hour()
	return h >= r.Start && h < r.End
}

// NormalizeNumber strips formatting so blacklist/DNC matching is exact.
// Keeps a leading + and digits only.
func NormalizeNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "+" {
		return ""
	}
	return out
}
