package dialer

import (
	"sync"
	"time"
)

// campaignQueue holds one campaign's backlog.
// Requests keep enqueue order; dequeue picks highest priority first, oldest
// first within a priority. Retries re-enter with a NotBefore delay and may
// therefore reorder relative to never-attempted requests (accepted,
// documented relaxation).
type campaignQueue struct {
	requests []CallRequest
	paused   bool
}

// QueueSet is the per-campaign backlog the admission worker dequeues from.
// Round-robin across running campaigns bounds per-campaign wait.
type QueueSet struct {
	mu        sync.Mutex
	campaigns map[string]*campaignQueue
	order     []string
	rr        int
}

func NewQueueSet() *QueueSet {
	return &QueueSet{campaigns: map[string]*campaignQueue{}}
}

// Enqueue appends a request to its campaign's backlog, creating the campaign
// queue on first use.
func (qs *QueueSet) Enqueue(req CallRequest) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q, ok := qs.campaigns[req.CampaignID]
	if !ok {
		q = &campaignQueue{}
		qs.campaigns[req.CampaignID] = q
		qs.order = append(qs.order, req.CampaignID)
	}
	q.requests = append(q.requests, req)
}

// RequeueLowPriority puts a request back at the lowest priority of its
// campaign. Used when CLI exhaustion pushes back (backpressure, not failure).
func (qs *QueueSet) RequeueLowPriority(req CallRequest) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q, ok := qs.campaigns[req.CampaignID]
	if !ok {
		q = &campaignQueue{}
		qs.campaigns[req.CampaignID] = q
		qs.order = append(qs.order, req.CampaignID)
	}
	low := 0
	for _, r := range q.requests {
		if r.Priority < low {
			low = r.Priority
		}
	}
	req.Priority = low - 1
	q.requests = append(q.requests, req)
}

// Dequeue removes and returns the next eligible request, rotating round-robin
// across non-paused campaigns. Requests with NotBefore in the future are
// skipped without being removed.
func (qs *QueueSet) Dequeue(now time.Time) (CallRequest, bool) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	n := len(qs.order)
	for i := 0; i < n; i++ {
		id := qs.order[(qs.rr+i)%n]
		q := qs.campaigns[id]
		if q.paused {
			continue
		}
		idx := bestIndex(q.requests, now)
		if idx < 0 {
			continue
		}
		req := q.requests[idx]
		q.requests = append(q.requests[:idx], q.requests[idx+1:]...)
		qs.rr = (qs.rr + i + 1) % n
		return req, true
	}
	return CallRequest{}, false
}

// bestIndex returns the eligible request with the highest priority, breaking
// ties by oldest enqueue time. -1 when nothing is eligible.
func bestIndex(reqs []CallRequest, now time.Time) int {
	best := -1
	for i, r := range reqs {
		if !r.NotBefore.IsZero() && r.NotBefore.After(now) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := reqs[best]
		if r.Priority > b.Priority ||
			(r.Priority == b.Priority && r.EnqueuedAt.Before(b.EnqueuedAt)) {
			best = i
		}
	}
	return best
}

// Pause marks a campaign paused. Pausing an already-paused campaign is a
// no-op, not an error.
func (qs *QueueSet) Pause(campaignID string) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q, ok := qs.campaigns[campaignID]
	if !ok {
		q = &campaignQueue{}
		qs.campaigns[campaignID] = q
		qs.order = append(qs.order, campaignID)
	}
	q.paused = true
}

// Resume clears a campaign's paused flag. Idempotent.
func (qs *QueueSet) Resume(campaignID string) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if q, ok := qs.campaigns[campaignID]; ok {
		q.paused = false
	}
}

// IsPaused reports a campaign's pause flag.
func (qs *QueueSet) IsPaused(campaignID string) bool {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q, ok := qs.campaigns[campaignID]
	return ok && q.paused
}

// Depth is the total number of queued requests across campaigns.
func (qs *QueueSet) Depth() int {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	var n int
	for _, q := range qs.campaigns {
		n += len(q.requests)
	}
	return n
}

// CampaignDepth is one campaign's backlog size.
func (qs *QueueSet) CampaignDepth(campaignID string) int {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if q, ok := qs.campaigns[campaignID]; ok {
		return len(q.requests)
	}
	return 0
}
