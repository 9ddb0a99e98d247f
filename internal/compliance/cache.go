package compliance

import (
	"context"
	"sync"
	"time"
)

// CachedStore wraps a Store with a short-TTL in-process cache so the
// admission loop never waits on a network round trip for blacklist, DNC or
// attempt-counter lookups. RecordAttempt invalidates the cached counts for
// the number it bumps, so this process never undercounts its own attempts.
//
// Staleness bound: a number added to the blacklist is dialable for at most
// the cache TTL after the external store is updated, and attempts recorded
// by another process are invisible for at most the TTL. Both bounds are
// negligible against the 24h/7d frequency windows. Keep the TTL short.
type CachedStore struct {
	inner Store
	ttl   time.Duration

	mu       sync.Mutex
	blackmap map[string]cachedBool
	dncmap   map[string]cachedDnc
	countmap map[string]cachedCounts
	clock    func() time.Time
}

type cachedBool struct {
	value   bool
	expires time.Time
}

type cachedDnc struct {
	entry   DncEntry
	listed  bool
	expires time.Time
}

type cachedCounts struct {
	day     int
	week    int
	expires time.Time
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{
		inner:    inner,
		ttl:      ttl,
		blackmap: map[string]cachedBool{},
		dncmap:   map[string]cachedDnc{},
		countmap: map[string]cachedCounts{},
		clock:    time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (c *CachedStore) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

func (c *CachedStore) IsBlacklisted(ctx context.Context, number string) (bool, error) {
	c.mu.Lock()
	now := c.clock()
	if e, ok := c.blackmap[number]; ok && e.expires.After(now) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	v, err := c.inner.IsBlacklisted(ctx, number)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.blackmap[number] = cachedBool{value: v, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return v, nil
}

func (c *CachedStore) DncLookup(ctx context.Context, number, country string) (DncEntry, bool, error) {
	key := country + "|" + number
	c.mu.Lock()
	now := c.clock()
	if e, ok := c.dncmap[key]; ok && e.expires.After(now) {
		c.mu.Unlock()
		return e.entry, e.listed, nil
	}
	c.mu.Unlock()

	entry, listed, err := c.inner.DncLookup(ctx, number, country)
	if err != nil {
		return DncEntry{}, false, err
	}
	c.mu.Lock()
	c.dncmap[key] = cachedDnc{entry: entry, listed: listed, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return entry, listed, nil
}

func (c *CachedStore) AttemptCounts(ctx context.Context, number string) (int, int, error) {
	c.mu.Lock()
	now := c.clock()
	if e, ok := c.countmap[number]; ok && e.expires.After(now) {
		c.mu.Unlock()
		return e.day, e.week, nil
	}
	c.mu.Unlock()

	day, week, err := c.inner.AttemptCounts(ctx, number)
	if err != nil {
		return 0, 0, err
	}
	c.mu.Lock()
	c.countmap[number] = cachedCounts{day: day, week: week, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return day, week, nil
}

func (c *CachedStore) RecordAttempt(ctx context.Context, number string) error {
	if err := c.inner.RecordAttempt(ctx, number); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.countmap, number)
	c.mu.Unlock()
	return nil
}
