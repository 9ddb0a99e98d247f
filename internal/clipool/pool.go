package clipool

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// CliRecord tracks one outbound caller-ID number.
// UsedToday resets on a daily boundary; the reset is triggered by an external
// scheduler through ResetDailyUsage, the pool only exposes the operation.
type CliRecord struct {
	Number     string    `json:"number"`
	Country    string    `json:"country"`
	UsedToday  int       `json:"used_today"`
	LastUsedAt time.Time `json:"last_used_at"`
	// DailyQuota caps selections per calendar day. 0 = unlimited.
	DailyQuota int  `json:"daily_quota"`
	Active     bool `json:"active"`
}

// Policy selects among eligible CLIs.
type Policy string

const (
	PolicyRoundRobin Policy = "round_robin"
	PolicyRandom     Policy = "random"
	PolicyLeastUsed  Policy = "least_used"
)

// AreaRule describes how to extract an area code from a number of a given
// country, so selection can prefer a CLI that "looks local" to the callee.
// Policy data loaded at startup, not engine logic.
type AreaRule struct {
	// CCPrefix is the country-code prefix (with +).
	CCPrefix string
	// AreaDigits is the number of digits following the prefix that form the
	// area code.
	AreaDigits int
}

// DefaultAreaRules is a starter catalogue; deployments load the real table
// from configuration data.
func DefaultAreaRules() map[string]AreaRule {
	return map[string]AreaRule{
		"US": {CCPrefix: "+1", AreaDigits: 3},
		"GB": {CCPrefix: "+44", AreaDigits: 3},
		"DE": {CCPrefix: "+49", AreaDigits: 3},
	}
}

var (
	ErrNoEligibleCli = errors.New("clipool: no eligible cli")
	ErrUnknownPolicy = errors.New("clipool: unknown policy")
)

// Pool picks an outbound caller-ID per call under quota, cooldown and
// activity constraints.
//
// Concurrency: selection and its usage increment happen under one mutex, so
// a quota can never overrun even with concurrent selectors.
type Pool struct {
	mu        sync.Mutex
	policy    Policy
	cooldown  time.Duration
	areaRules map[string]AreaRule
	clis      []*CliRecord
	rrIndex   int
	rng       *rand.Rand
	clock     func() time.Time
}

// NewPool builds a pool over the given records. rng may be nil for
// non-deterministic behavior; tests pass a seeded source.
func NewPool(policy Policy, cooldown time.Duration, areaRules map[string]AreaRule, records []CliRecord, rng *rand.Rand) (*Pool, error) {
	switch policy {
	case PolicyRoundRobin, PolicyRandom, PolicyLeastUsed:
	default:
		return nil, ErrUnknownPolicy
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p := &Pool{
		policy:    policy,
		cooldown:  cooldown,
		areaRules: areaRules,
		rng:       rng,
		clock:     time.Now,
	}
	for i := range records {
		r := records[i]
		p.clis = append(p.clis, &r)
	}
	return p, nil
}

// SetClock injects a deterministic clock for tests.
func (p *Pool) SetClock(clock func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
}

// Select picks a CLI for the destination and atomically increments its usage
// counter. Returns ErrNoEligibleCli when quotas/cooldowns exhaust the pool;
// the admission worker treats that as backpressure, not as a call failure.
func (p *Pool) Select(destination, country string) (CliRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	eligible := p.eligibleLocked(country, now)
	if len(eligible) == 0 {
		return CliRecord{}, ErrNoEligibleCli
	}

	// Prefer CLIs sharing the destination's area code when a rule exists.
	if area := p.areaCode(destination, country); area != "" {
		var local []*CliRecord
		for _, c := range eligible {
			if p.areaCode(c.Number, c.Country) == area {
				local = append(local, c)
			}
		}
		if len(local) > 0 {
			eligible = local
		}
	}

	var chosen *CliRecord
	switch p.policy {
	case PolicyRoundRobin:
		chosen = eligible[p.rrIndex%len(eligible)]
		p.rrIndex++
	case PolicyRandom:
		chosen = eligible[p.rng.Intn(len(eligible))]
	case PolicyLeastUsed:
		least := eligible[0].UsedToday
		var ties []*CliRecord
		for _, c := range eligible {
			switch {
			case c.UsedToday < least:
				least = c.UsedToday
				ties = ties[:0]
				ties = append(ties, c)
			case c.UsedToday == least:
				ties = append(ties, c)
			}
		}
		chosen = ties[p.rng.Intn(len(ties))]
	}

	chosen.UsedToday++
	chosen.LastUsedAt = now
	return *chosen, nil
}

func (p *Pool) eligibleLocked(country string, now time.Time) []*CliRecord {
	var out []*CliRecord
	for _, c := range p.clis {
		if !c.Active {
			continue
		}
		if country != "" && c.Country != country {
			continue
		}
		if c.DailyQuota > 0 && c.UsedToday >= c.DailyQuota {
			continue
		}
		if p.cooldown > 0 && !c.LastUsedAt.IsZero() && now.Sub(c.LastUsedAt) < p.cooldown {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *Pool) areaCode(number, country string) string {
	rule, ok := p.areaRules[country]
	if !ok {
		return ""
	}
	if !strings.HasPrefix(number, rule.CCPrefix) {
		return ""
	}
	rest := number[len(rule.CCPrefix):]
	if len(rest) < rule.AreaDigits {
		return ""
	}
	return rest[:rule.AreaDigits]
}

// ResetDailyUsage zeroes all usage counters. Called by the external daily
// scheduler at the quota boundary.
func (p *Pool) ResetDailyUsage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clis {
		c.UsedToday = 0
	}
}

// Records returns a copy of the pool state for status/persistence.
func (p *Pool) Records() []CliRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CliRecord, 0, len(p.clis))
	for _, c := range p.clis {
		out = append(out, *c)
	}
	return out
}
