package compliance

import (
	"context"
	"testing"
	"time"
)

// tuesdayNoonUTC lands inside every default calling window for US numbers
// (07:00 local in New York).
func newTestGate(t *testing.T, store Store, now time.Time) *Gate {
	t.Helper()
	g, err := NewGate(store, DefaultWindowPolicies(), FrequencyPolicy{DayLimit: 3, WeekLimit: 7})
	if err != nil {
		t.Fatalf("gate init: %v", err)
	}
	g.SetClock(func() time.Time { return now })
	return g
}

// 17:00 UTC on a Tuesday = 12:00 in America/New_York, inside the 9-21 window.
var tuesday17UTC = time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)

func TestCheck_AllowsCleanNumber(t *testing.T) {
	store := NewMemoryStore()
	g := newTestGate(t, store, tuesday17UTC)

	v, err := g.Check(context.Background(), CheckRequest{Number: "+1 (555) 010-0001", Country: "US"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !v.Allowed || v.Reason != ReasonAllowed {
		t.Fatalf("expected allowed, got %+v", v)
	}
}

func TestCheck_BlacklistWinsFirst(t *testing.T) {
	store := NewMemoryStore()
	store.AddBlacklist("+15550100002")
	store.AddDnc("+15550100002", "US", time.Time{})
	g := newTestGate(t, store, tuesday17UTC)

	v, err := g.Check(context.Background(), CheckRequest{Number: "+1-555-010-0002", Country: "US"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if v.Allowed || v.Reason != ReasonBlacklisted {
		t.Fatalf("expected blacklisted, got %+v", v)
	}
}

func TestCheck_DncExpiryIsLazy(t *testing.T) {
	store := NewMemoryStore()
	// Expired entry: treated as not-blocked at check time.
	store.AddDnc("+15550100003", "US", tuesday17UTC.Add(-time.Hour))
	// Live entry.
	store.AddDnc("+15550100004", "US", tuesday17UTC.Add(time.Hour))
	// No expiry: blocks forever.
	store.AddDnc("+15550100005", "US", time.Time{})
	g := newTestGate(t, store, tuesday17UTC)

	v, _ := g.Check(context.Background(), CheckRequest{Number: "+15550100003", Country: "US"})
	if !v.Allowed {
		t.Fatalf("expected expired DNC entry ignored, got %+v", v)
	}
	v, _ = g.Check(context.Background(), CheckRequest{Number: "+15550100004", Country: "US"})
	if v.Allowed || v.Reason != ReasonDncListed {
		t.Fatalf("expected dnc_listed, got %+v", v)
	}
	v, _ = g.Check(context.Background(), CheckRequest{Number: "+15550100005", Country: "US"})
	if v.Allowed || v.Reason != ReasonDncListed {
		t.Fatalf("expected permanent dnc_listed, got %+v", v)
	}
}

func TestCheck_CallingWindow(t *testing.T) {
	store := NewMemoryStore()

	// 08:00 UTC Tuesday = 03:00 in New York: out of window.
	night := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	g := newTestGate(t, store, night)
	v, _ := g.Check(context.Background(), CheckRequest{Number: "+15550100006", Country: "US"})
	if v.Allowed || v.Reason != ReasonOutOfWindow {
		t.Fatalf("expected out_of_window at night, got %+v", v)
	}

	// Sunday 15:00 UTC = 10:00 New York: before the later Sunday start (12).
	sundayMorning := time.Date(2026, 2, 8, 15, 0, 0, 0, time.UTC)
	g = newTestGate(t, store, sundayMorning)
	v, _ = g.Check(context.Background(), CheckRequest{Number: "+15550100006", Country: "US"})
	if v.Allowed || v.Reason != ReasonOutOfWindow {
		t.Fatalf("expected out_of_window on Sunday morning, got %+v", v)
	}

	// Germany forbids Sunday calls entirely.
	sundayAfternoonDE := time.Date(2026, 2, 8, 14, 0, 0, 0, time.UTC)
	g = newTestGate(t, store, sundayAfternoonDE)
	v, _ = g.Check(context.Background(), CheckRequest{Number: "+493012345678", Country: "DE"})
	if v.Allowed || v.Reason != ReasonOutOfWindow {
		t.Fatalf("expected out_of_window on German Sunday, got %+v", v)
	}

	// A country without a policy is unrestricted.
	g = newTestGate(t, store, night)
	v, _ = g.Check(context.Background(), CheckRequest{Number: "+6491234567", Country: "NZ"})
	if !v.Allowed {
		t.Fatalf("expected country without policy allowed, got %+v", v)
	}
}

func TestCheck_FrequencyCap(t *testing.T) {
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return tuesday17UTC })
	g := newTestGate(t, store, tuesday17UTC)

	num := "+15550100007"
	for i := 0; i < 3; i++ {
		if err := g.RecordAttempt(context.Background(), num); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}

	v, _ := g.Check(context.Background(), CheckRequest{Number: num, Country: "US"})
	if v.Allowed || v.Reason != ReasonFrequencyCapped {
		t.Fatalf("expected frequency_capped after 3 attempts, got %+v", v)
	}

	// A different number is unaffected.
	v, _ = g.Check(context.Background(), CheckRequest{Number: "+15550100008", Country: "US"})
	if !v.Allowed {
		t.Fatalf("expected other number allowed, got %+v", v)
	}
}

func TestCachedStore_ServesFromCacheWithinTTL(t *testing.T) {
	inner := NewMemoryStore()
	now := tuesday17UTC
	cached := NewCachedStore(inner, 30*time.Second)
	cached.SetClock(func() time.Time { return now })

	blocked, err := cached.IsBlacklisted(context.Background(), "+15550100009")
	if err != nil || blocked {
		t.Fatalf("expected not blacklisted, got %v err=%v", blocked, err)
	}

	// Store change is invisible until the cache entry expires.
	inner.AddBlacklist("+15550100009")
	blocked, _ = cached.IsBlacklisted(context.Background(), "+15550100009")
	if blocked {
		t.Fatalf("expected cached negative within TTL")
	}

	now = now.Add(time.Minute)
	blocked, _ = cached.IsBlacklisted(context.Background(), "+15550100009")
	if !blocked {
		t.Fatalf("expected fresh lookup after TTL expiry")
	}
}

func TestCachedStore_AttemptCountsCachedAndInvalidated(t *testing.T) {
	inner := NewMemoryStore()
	now := tuesday17UTC
	inner.SetClock(func() time.Time { return now })
	cached := NewCachedStore(inner, 30*time.Second)
	cached.SetClock(func() time.Time { return now })

	num := "+15550100010"
	day, week, err := cached.AttemptCounts(context.Background(), num)
	if err != nil || day != 0 || week != 0 {
		t.Fatalf("expected zero counts, got day=%d week=%d err=%v", day, week, err)
	}

	// An attempt recorded behind the cache's back is invisible within TTL.
	if err := inner.RecordAttempt(context.Background(), num); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	day, _, _ = cached.AttemptCounts(context.Background(), num)
	if day != 0 {
		t.Fatalf("expected cached count within TTL, got day=%d", day)
	}

	// Recording through the cache invalidates the entry for that number.
	if err := cached.RecordAttempt(context.Background(), num); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	day, week, _ = cached.AttemptCounts(context.Background(), num)
	if day != 2 || week != 2 {
		t.Fatalf("expected fresh counts after RecordAttempt, got day=%d week=%d", day, week)
	}

	// Other numbers keep their own entries.
	day, _, _ = cached.AttemptCounts(context.Background(), "+15550100011")
	if day != 0 {
		t.Fatalf("expected unrelated number at zero, got day=%d", day)
	}
}

func TestNormalizeNumber(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-0001": "+15550100001",
		"0049 30 123":       "004930123",
		"  ":                "",
		"+":                 "",
	}
	for in, want := range cases {
		if got := NormalizeNumber(in); got != want {
			t.Fatalf("NormalizeNumber(%q) = %q, want %q", in, got, want)
		}
	}
}
