package compliance

import (
	"time"
)

// Reason is the fixed verdict taxonomy. Callers branch on it; never free text.
type Reason string

const (
	ReasonAllowed         Reason = "allowed"
	ReasonBlacklisted     Reason = "blacklisted"
	ReasonDncListed       Reason = "dnc_listed"
	ReasonOutOfWindow     Reason = "out_of_window"
	ReasonFrequencyCapped Reason = "frequency_capped"
)

// Verdict is computed fresh per call and never persisted by the gate.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// CheckRequest identifies the candidate call being gated.
type CheckRequest struct {
	Number     string
	Country    string
	CampaignID string
}

// DncEntry is a do-not-call record. A zero ExpiresAt never expires.
// Expiry is lazy: evaluated at check time, never swept eagerly.
type DncEntry struct {
	ExpiresAt time.Time
}

// HourRange is an allowed local-time calling window, [Start, End) in hours.
type HourRange struct {
	Start int
	End   int
}

// WindowPolicy holds per-country calling-window rules. This is policy data
// loaded at startup, not engine logic; Sunday commonly starts later than
// weekdays and some markets forbid Sunday calls entirely.
type WindowPolicy struct {
	// Timezone resolves the destination's local clock (IANA name).
	Timezone string
	// Days maps weekday to its allowed window. A missing weekday means
	// calling is not permitted that day.
	Days map[time.Weekday]HourRange
}

// FrequencyPolicy caps attempts per destination over trailing windows.
type FrequencyPolicy struct {
	DayLimit  int
	WeekLimit int
}

// DefaultWindowPolicies returns a starter policy catalogue. Production
// deployments replace this from configuration data; the gate only consumes
// the typed table.
func DefaultWindowPolicies() map[string]WindowPolicy {
	weekdays := func(start, end, satStart, satEnd, sunStart, sunEnd int) map[time.Weekday]HourRange {
		days := map[time.Weekday]HourRange{
			time.Monday:    {Start: start, End: end},
			time.Tuesday:   {Start: start, End: end},
			time.Wednesday: {Start: start, End: end},
			time.Thursday:  {Start: start, End: end},
			time.Friday:    {Start: start, End: end},
		}
		if satEnd > satStart {
			days[time.Saturday] = HourRange{Start: satStart, End: satEnd}
		}
		if sunEnd > sunStart {
			days[time.Sunday] = HourRange{Start: sunStart, End: sunEnd}
		}
		return days
	}

	return map[string]WindowPolicy{
		"US": {Timezone: "America/New_York", Days: weekdays(9, 21, 9, 21, 12, 21)},
		"GB": {Timezone: "Europe/London", Days: weekdays(9, 20, 9, 18, 11, 18)},
		"DE": {Timezone: "Europe/Berlin", Days: weekdays(9, 20, 9, 18, 0, 0)},
		"AU": {Timezone: "Australia/Sydney", Days: weekdays(9, 20, 9, 17, 0, 0)},
	}
}
