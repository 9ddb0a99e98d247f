package dialer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dialer-platform/internal/clipool"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/config"
	"dialer-platform/internal/cps"
	"dialer-platform/internal/gateway"
	"dialer-platform/internal/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidRequest = errors.New("dialer: invalid call request")
	ErrNotConfigured  = errors.New("dialer: missing dependency")
)

const (
	originateTimeout = 10 * time.Second
	reassessInterval = time.Second
	sweepInterval    = time.Second
	healthInterval   = 5 * time.Second
	healthTimeout    = 2 * time.Second
)

// Deps are the collaborators the worker coordinates.
type Deps struct {
	Queues     *QueueSet
	Gate       *compliance.Gate
	Pool       *clipool.Pool
	Controller *cps.Controller
	Gateway    gateway.Gateway
	Tracker    *Tracker
	Window     *metrics.Window
	Reporter   OutcomeReporter
	Log        *slog.Logger
}

// Worker is the admission pipeline: the single control loop converting queued
// CallRequests into originate calls under rate and concurrency limits.
//
// Concurrency model:
// - One select loop (Run) drives ticks, gateway events, originate results and
//   periodic reassessment. It never blocks on I/O.
// - Originate round trips run on a semaphore-bounded goroutine pool; their
//   results come back over a channel the loop reads.
// - Management calls (Enqueue/Pause/Resume/SetCpsOverride/Status) are safe
//   from any goroutine.
type Worker struct {
	cfg      config.DialerConfig
	queues   *QueueSet
	gate     *compliance.Gate
	pool     *clipool.Pool
	ctrl     *cps.Controller
	gw       gateway.Gateway
	tracker  *Tracker
	win      *metrics.Window
	reporter OutcomeReporter
	log      *slog.Logger

	mu           sync.Mutex
	lastDispatch time.Time
	targetCPS    float64

	pending     atomic.Int64
	gatewayDown atomic.Bool

	sem     chan struct{}
	results chan originateResult

	clock func() time.Time
}

type originateResult struct {
	req    CallRequest
	cli    string
	handle gateway.CallHandle
	err    error
	at     time.Time
}

func NewWorker(cfg config.DialerConfig, d Deps) (*Worker, error) {
	if d.Queues == nil || d.Gate == nil || d.Pool == nil || d.Controller == nil ||
		d.Gateway == nil || d.Tracker == nil || d.Window == nil || d.Reporter == nil {
		return nil, ErrNotConfigured
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	w := &Worker{
		cfg:       cfg,
		queues:    d.Queues,
		gate:      d.Gate,
		pool:      d.Pool,
		ctrl:      d.Controller,
		gw:        d.Gateway,
		tracker:   d.Tracker,
		win:       d.Window,
		reporter:  d.Reporter,
		log:       d.Log,
		targetCPS: cfg.MinCPS,
		sem:       make(chan struct{}, cfg.OriginateWorkers),
		results:   make(chan originateResult, cfg.OriginateWorkers*2),
		clock:     time.Now,
	}
	return w, nil
}

// SetClock injects a deterministic clock for tests.
func (w *Worker) SetClock(clock func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clock = clock
}

// Run drives the pipeline until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("dialer worker started",
		"tick_interval", w.cfg.TickInterval,
		"max_concurrent_calls", w.cfg.MaxConcurrentCalls,
		"originate_workers", w.cfg.OriginateWorkers,
		"gateway", w.gw.Name(),
	)

	go w.healthLoop(ctx)

	tick := time.NewTicker(w.cfg.TickInterval)
	defer tick.Stop()
	reassess := time.NewTicker(reassessInterval)
	defer reassess.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	w.reassess()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("dialer worker stopped")
			return ctx.Err()
		case <-tick.C:
			w.tick(ctx, w.now())
		case <-reassess.C:
			w.reassess()
		case <-sweep.C:
			for _, c := range w.tracker.Sweep(w.now()) {
				w.handleTerminal(ctx, c)
			}
		case ev := <-w.gw.Events():
			if c, terminal := w.tracker.Apply(ev); terminal {
				w.handleTerminal(ctx, c)
			}
		case res := <-w.results:
			w.handleOriginateResult(ctx, res)
		}
	}
}

// tick is one admission decision. At most one request is dispatched per tick;
// the pacing gate is evaluated on every tick so pacing is rate-based, not
// batch-based.
func (w *Worker) tick(ctx context.Context, now time.Time) {
	if w.ctrl.BrakeActive() || w.gatewayDown.Load() {
		return
	}
	if w.tracker.Concurrent()+int(w.pending.Load()) >= w.cfg.MaxConcurrentCalls {
		return
	}

	rate := w.currentCPS()
	if rate <= 0 {
		return
	}
	w.mu.Lock()
	last := w.lastDispatch
	w.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < time.Duration(float64(time.Second)/rate) {
		return
	}

	req, ok := w.queues.Dequeue(now)
	if !ok {
		return
	}

	verdict, err := w.gate.Check(ctx, compliance.CheckRequest{
		Number:     req.Destination,
		Country:    req.Country,
		CampaignID: req.CampaignID,
	})
	if err != nil {
		// Never dial blind on a store failure; push back and let the next
		// pass retry once the store recovers.
		w.log.Error("compliance check failed", "err", err, "campaign_id", req.CampaignID)
		w.queues.RequeueLowPriority(req)
		return
	}
	if !verdict.Allowed {
		// Rejections are free: no dial, no pacing charge.
		w.report(ctx, OutcomeReport{
			CampaignID:  req.CampaignID,
			RequestID:   req.ID,
			Destination: req.Destination,
			Outcome:     OutcomeBlocked,
			Reason:      string(verdict.Reason),
			Attempts:    req.Attempts,
			At:          now,
		})
		return
	}

	cli, err := w.pool.Select(req.Destination, req.Country)
	if err != nil {
		// Quota exhaustion everywhere is backpressure, not a call failure:
		// requeue at lowest priority and let admission self-throttle.
		w.queues.RequeueLowPriority(req)
		return
	}

	select {
	case w.sem <- struct{}{}:
	default:
		// Originate pool saturated; same backpressure path.
		w.queues.RequeueLowPriority(req)
		return
	}

	w.mu.Lock()
	w.lastDispatch = now
	w.mu.Unlock()
	req.Attempts++
	w.pending.Add(1)
	go w.originate(ctx, req, cli.Number)
}

// originate performs the gateway round trip off the control loop.
func (w *Worker) originate(ctx context.Context, req CallRequest, cli string) {
	defer func() { <-w.sem }()

	octx, cancel := context.WithTimeout(ctx, originateTimeout)
	defer cancel()

	if err := w.gate.RecordAttempt(octx, req.Destination); err != nil {
		w.log.Warn("attempt counter update failed", "err", err)
	}

	handle, err := w.gw.Originate(octx, req.Destination, cli, map[string]string{
		"campaign_id": req.CampaignID,
		"request_id":  req.ID,
	})
	select {
	case w.results <- originateResult{req: req, cli: cli, handle: handle, err: err, at: w.now()}:
	case <-ctx.Done():
	}
}

func (w *Worker) handleOriginateResult(ctx context.Context, res originateResult) {
	w.pending.Add(-1)
	if res.err != nil {
		// Gateway rejections depress CPS exactly like unanswered calls; both
		// mean something is wrong downstream.
		w.win.Append(metrics.Sample{At: res.at, Initiated: 1, Failed: 1})
		w.log.Warn("originate failed",
			"err", res.err,
			"campaign_id", res.req.CampaignID,
			"attempt", res.req.Attempts,
		)
		w.retryOrReport(ctx, res.req, OutcomeFailed, "originate_error")
		return
	}

	w.win.Append(metrics.Sample{At: res.at, Initiated: 1, Concurrent: w.tracker.Concurrent() + 1})
	w.tracker.Track(&Call{
		ID:       uuid.NewString(),
		Handle:   res.handle,
		Request:  res.req,
		Cli:      res.cli,
		DialedAt: res.at,
	})
}

func (w *Worker) handleTerminal(ctx context.Context, c Call) {
	if c.Outcome == OutcomeAnswered {
		w.report(ctx, OutcomeReport{
			CampaignID:  c.Request.CampaignID,
			RequestID:   c.Request.ID,
			Destination: c.Request.Destination,
			Outcome:     OutcomeAnswered,
			Attempts:    c.Request.Attempts,
			At:          c.EndedAt,
		})
		return
	}
	w.retryOrReport(ctx, c.Request, c.Outcome, c.HangupCause)
}

// retryOrReport re-enqueues transient failures up to the attempt cap, then
// reports the request exhausted.
func (w *Worker) retryOrReport(ctx context.Context, req CallRequest, outcome Outcome, reason string) {
	if retryable(outcome) && req.Attempts < w.cfg.MaxAttempts {
		req.NotBefore = w.now().Add(w.cfg.RetryInterval)
		w.queues.Enqueue(req)
		return
	}
	if retryable(outcome) {
		outcome = OutcomeExhausted
	}
	w.report(ctx, OutcomeReport{
		CampaignID:  req.CampaignID,
		RequestID:   req.ID,
		Destination: req.Destination,
		Outcome:     outcome,
		Reason:      reason,
		Attempts:    req.Attempts,
		At:          w.now(),
	})
}

func (w *Worker) report(ctx context.Context, r OutcomeReport) {
	if err := w.reporter.ReportOutcome(ctx, r); err != nil {
		w.log.Error("outcome report failed", "err", err, "campaign_id", r.CampaignID)
	}
}

// reassess recomputes the target CPS from live telemetry.
func (w *Worker) reassess() {
	rate := w.ctrl.ComputeTargetCPS(w.cfg.AvailableAgents, w.tracker.Concurrent())
	w.mu.Lock()
	w.targetCPS = rate
	w.mu.Unlock()
}

// healthLoop watches gateway connectivity. A severed gateway escalates to a
// pipeline-wide pause (observable in Status) rather than a crash: dialing
// into a dead gateway would silently burn the whole queue.
func (w *Worker) healthLoop(ctx context.Context) {
	t := time.NewTicker(healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hctx, cancel := context.WithTimeout(ctx, healthTimeout)
			err := w.gw.HealthCheck(hctx)
			cancel()
			wasDown := w.gatewayDown.Load()
			w.gatewayDown.Store(err != nil)
			if err != nil && !wasDown {
				w.log.Error("gateway unreachable, pipeline paused", "err", err)
			}
			if err == nil && wasDown {
				w.log.Info("gateway recovered, pipeline resumed")
			}
		}
	}
}

func (w *Worker) currentCPS() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.targetCPS
}

func (w *Worker) now() time.Time {
	w.mu.Lock()
	clock := w.clock
	w.mu.Unlock()
	return clock()
}

// --- management surface ---

// Enqueue adds a request to its campaign backlog.
func (w *Worker) Enqueue(ctx context.Context, req CallRequest) error {
	if req.Destination == "" || req.CampaignID == "" {
		return ErrInvalidRequest
	}
	if compliance.NormalizeNumber(req.Destination) == "" {
		return ErrInvalidRequest
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = w.now()
	}
	w.queues.Enqueue(req)
	return nil
}

// Pause stops new dequeues for a campaign. PauseHard additionally hangs up
// the campaign's in-flight calls. Idempotent.
func (w *Worker) Pause(ctx context.Context, campaignID string, mode PauseMode) error {
	if campaignID == "" {
		return ErrInvalidRequest
	}
	if mode == "" {
		mode = PauseGraceful
	}
	if mode != PauseGraceful && mode != PauseHard {
		return ErrInvalidRequest
	}
	w.queues.Pause(campaignID)
	w.log.Info("campaign paused", "campaign_id", campaignID, "mode", mode)

	if mode == PauseHard {
		for _, h := range w.tracker.ActiveHandles(campaignID) {
			handle := h
			go func() {
				hctx, cancel := context.WithTimeout(context.Background(), originateTimeout)
				defer cancel()
				if err := w.gw.Hangup(hctx, handle); err != nil {
					w.log.Warn("hangup failed", "handle", handle, "err", err)
				}
			}()
		}
	}
	return nil
}

// Resume re-enables dequeues for a campaign. Idempotent.
func (w *Worker) Resume(ctx context.Context, campaignID string) error {
	if campaignID == "" {
		return ErrInvalidRequest
	}
	w.queues.Resume(campaignID)
	w.log.Info("campaign resumed", "campaign_id", campaignID)
	return nil
}

// SetCpsOverride pins the target rate; nil resumes automatic control.
func (w *Worker) SetCpsOverride(v *float64) {
	w.ctrl.SetOverride(v)
	w.reassess()
}

// Status is the management view used by get_status.
func (w *Worker) Status() Status {
	snap := w.ctrl.Snapshot()
	return Status{
		CurrentCPS:      w.currentCPS(),
		ConcurrentCalls: w.tracker.Concurrent(),
		QueueDepth:      w.queues.Depth(),
		EmergencyBrake:  snap.EmergencyBrake,
		State:           string(snap.State),
		GatewayDown:     w.gatewayDown.Load(),
	}
}
