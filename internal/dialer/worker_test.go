package dialer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/clipool"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/config"
	"dialer-platform/internal/cps"
	"dialer-platform/internal/gateway"
	"dialer-platform/internal/metrics"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type captureReporter struct {
	mu      sync.Mutex
	reports []OutcomeReport
}

func (r *captureReporter) ReportOutcome(ctx context.Context, rep OutcomeReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

func (r *captureReporter) all() []OutcomeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeReport, len(r.reports))
	copy(out, r.reports)
	return out
}

type workerFixture struct {
	w        *Worker
	sim      *gateway.Sim
	store    *compliance.MemoryStore
	reporter *captureReporter
	tracker  *Tracker
	queues   *QueueSet
	win      *metrics.Window
	ctrl     *cps.Controller
	clock    *stubClock
	cfg      config.DialerConfig
}

func newWorkerFixture(t *testing.T, mutate func(*config.DialerConfig)) *workerFixture {
	t.Helper()

	cfg := config.DialerConfig{AvailableAgents: 5}
	if errs := cfg.ApplyDefaults(); len(errs) > 0 {
		t.Fatalf("config defaults: %v", errs)
	}
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &stubClock{now: time.Date(2026, 2, 3, 17, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	win := metrics.NewWindow(cfg.MetricsWindow)
	win.SetClock(clock.Now)

	ctrl := cps.NewController(cfg, win)
	ctrl.SetClock(clock.Now)

	store := compliance.NewMemoryStore()
	store.SetClock(clock.Now)
	gate, err := compliance.NewGate(store, nil, compliance.FrequencyPolicy{})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	gate.SetClock(clock.Now)

	pool, err := clipool.NewPool(clipool.PolicyRoundRobin, 0, nil, []clipool.CliRecord{
		{Number: "+15550100", Country: "US", Active: true},
	}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	pool.SetClock(clock.Now)

	tracker := NewTracker(win, log, cfg.StaleCallTimeout, cfg.TerminalGrace)
	tracker.SetClock(clock.Now)

	sim := gateway.NewSim()
	queues := NewQueueSet()
	reporter := &captureReporter{}

	w, err := NewWorker(cfg, Deps{
		Queues:     queues,
		Gate:       gate,
		Pool:       pool,
		Controller: ctrl,
		Gateway:    sim,
		Tracker:    tracker,
		Window:     win,
		Reporter:   reporter,
		Log:        log,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	w.SetClock(clock.Now)

	return &workerFixture{
		w: w, sim: sim, store: store, reporter: reporter,
		tracker: tracker, queues: queues, win: win, ctrl: ctrl,
		clock: clock, cfg: cfg,
	}
}

func (f *workerFixture) enqueueN(t *testing.T, campaign string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := f.w.Enqueue(context.Background(), CallRequest{
			Destination: fmt.Sprintf("+1555000%04d", i),
			Country:     "US",
			CampaignID:  campaign,
		})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
}

// settle waits for the in-flight originate round trip and feeds its result
// back, as Run's select loop would.
func (f *workerFixture) settle(t *testing.T) originateResult {
	t.Helper()
	select {
	case res := <-f.w.results:
		f.w.handleOriginateResult(context.Background(), res)
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for originate result")
		return originateResult{}
	}
}

// hangup drives a gateway hangup for an originated call through the tracker
// and the worker's terminal path.
func (f *workerFixture) hangup(t *testing.T, handle gateway.CallHandle, cause string) {
	t.Helper()
	c, terminal := f.tracker.Apply(gateway.Event{
		Handle: handle,
		Type:   gateway.EventHangup,
		Cause:  cause,
		At:     f.clock.Now(),
	})
	if !terminal {
		t.Fatalf("hangup on %s did not terminate", handle)
	}
	f.w.handleTerminal(context.Background(), c)
}

func TestWorkerPacingHonorsTargetRate(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	rate := 2.0
	f.w.SetCpsOverride(&rate)
	f.enqueueN(t, "c1", 20)

	// 3 seconds of 25ms ticks at 2 CPS: dispatches at 0, 500ms, ..., 3000ms.
	for i := 0; i <= 120; i++ {
		f.w.tick(ctx, f.clock.Now())
		f.clock.Advance(25 * time.Millisecond)
	}
	for i := 0; i < 7; i++ {
		f.settle(t)
	}

	if got := len(f.sim.Originated()); got != 7 {
		t.Fatalf("dispatched %d calls in 3s at 2 CPS, want 7", got)
	}
}

func TestWorkerConcurrencyCapAndRelease(t *testing.T) {
	f := newWorkerFixture(t, func(d *config.DialerConfig) {
		d.MaxConcurrentCalls = 3
	})
	ctx := context.Background()

	rate := 10.0
	f.w.SetCpsOverride(&rate)
	f.enqueueN(t, "c1", 10)

	for i := 0; i < 10; i++ {
		before := len(f.sim.Originated())
		f.w.tick(ctx, f.clock.Now())
		if len(f.sim.Originated()) > before || f.w.pending.Load() > 0 {
			f.settle(t)
		}
		f.clock.Advance(200 * time.Millisecond)
	}

	if got := len(f.sim.Originated()); got != 3 {
		t.Fatalf("originated %d calls with cap 3, want 3", got)
	}
	if got := f.tracker.Concurrent(); got != 3 {
		t.Fatalf("Concurrent = %d, want 3", got)
	}

	// Releasing one slot lets exactly one more through.
	f.hangup(t, f.sim.Originated()[0].Handle, gateway.CauseBusy)
	f.clock.Advance(200 * time.Millisecond)
	f.w.tick(ctx, f.clock.Now())
	f.settle(t)

	if got := len(f.sim.Originated()); got != 4 {
		t.Fatalf("originated %d after slot release, want 4", got)
	}
}

func TestWorkerComplianceBlocksWithoutDialing(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	blocked := "+15550001111"
	f.store.AddBlacklist(blocked)

	if err := f.w.Enqueue(ctx, CallRequest{Destination: blocked, Country: "US", CampaignID: "c1"}); err != nil {
		t.Fatalf("Enqueue blocked: %v", err)
	}
	f.clock.Advance(time.Millisecond)
	allowed := "+15550002222"
	if err := f.w.Enqueue(ctx, CallRequest{Destination: allowed, Country: "US", CampaignID: "c1"}); err != nil {
		t.Fatalf("Enqueue allowed: %v", err)
	}

	// Rejections are free of pacing: the very next tick dials.
	f.w.tick(ctx, f.clock.Now())
	f.w.tick(ctx, f.clock.Now())
	f.settle(t)

	orig := f.sim.Originated()
	if len(orig) != 1 || orig[0].Destination != allowed {
		t.Fatalf("originated = %+v, want only %s", orig, allowed)
	}

	reports := f.reporter.all()
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.Outcome != OutcomeBlocked || r.Reason != string(compliance.ReasonBlacklisted) {
		t.Fatalf("report outcome=%q reason=%q, want blocked/blacklisted", r.Outcome, r.Reason)
	}
	if r.Attempts != 0 {
		t.Fatalf("blocked report attempts = %d, want 0 (never dialed)", r.Attempts)
	}
}

func TestWorkerRetriesThenExhausts(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	rate := 5.0
	f.w.SetCpsOverride(&rate)
	if err := f.w.Enqueue(ctx, CallRequest{Destination: "+15550003333", Country: "US", CampaignID: "c1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	causes := []string{gateway.CauseBusy, gateway.CauseNoAnswer, gateway.CauseFailed}
	if len(causes) != f.cfg.MaxAttempts {
		t.Fatalf("scenario expects MaxAttempts=%d, got %d", len(causes), f.cfg.MaxAttempts)
	}
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		f.w.tick(ctx, f.clock.Now())
		res := f.settle(t)
		if res.req.Attempts != attempt {
			t.Fatalf("attempt counter = %d, want %d", res.req.Attempts, attempt)
		}
		f.hangup(t, res.handle, causes[attempt-1])
		f.clock.Advance(f.cfg.RetryInterval + time.Minute)
	}

	// Exhausted: nothing left to dial.
	f.w.tick(ctx, f.clock.Now())
	if got := len(f.sim.Originated()); got != f.cfg.MaxAttempts {
		t.Fatalf("originated %d times, want exactly %d", got, f.cfg.MaxAttempts)
	}

	reports := f.reporter.all()
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if reports[0].Outcome != OutcomeExhausted || reports[0].Attempts != f.cfg.MaxAttempts {
		t.Fatalf("report = %+v, want exhausted after %d attempts", reports[0], f.cfg.MaxAttempts)
	}
}

func TestWorkerOriginateFailureCountsAndRetries(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	f.sim.RejectNext(fmt.Errorf("trunk unavailable"))
	f.enqueueN(t, "c1", 1)

	f.w.tick(ctx, f.clock.Now())
	f.settle(t)

	initiated, answered, failed := f.win.Totals(0)
	if initiated != 1 || answered != 0 || failed != 1 {
		t.Fatalf("window = %d/%d/%d, want 1 initiated 1 failed", initiated, answered, failed)
	}
	if got := f.queues.Depth(); got != 1 {
		t.Fatalf("queue depth = %d, want 1 (requeued for retry)", got)
	}
	if got := f.tracker.Concurrent(); got != 0 {
		t.Fatalf("Concurrent = %d, want 0 (sync reject takes no slot)", got)
	}
	if got := len(f.reporter.all()); got != 0 {
		t.Fatalf("got %d reports, want 0 (retry pending)", got)
	}
}

func TestWorkerBrakeStopsDispatch(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		f.win.Append(metrics.Sample{At: f.clock.Now(), Initiated: 1, Failed: 1})
	}
	if !f.ctrl.EmergencyBrakeCheck() {
		t.Fatal("brake should engage at 0% success")
	}

	f.enqueueN(t, "c1", 3)
	f.w.tick(ctx, f.clock.Now())

	if got := len(f.sim.Originated()); got != 0 {
		t.Fatalf("originated %d calls under brake, want 0", got)
	}
	if got := f.queues.Depth(); got != 3 {
		t.Fatalf("queue depth = %d, braked pipeline must not drain the queue", got)
	}
	if st := f.w.Status(); !st.EmergencyBrake {
		t.Fatal("Status should expose the engaged brake")
	}
}

func TestWorkerGatewayDownStopsDispatch(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	f.w.gatewayDown.Store(true)
	f.enqueueN(t, "c1", 2)
	f.w.tick(ctx, f.clock.Now())

	if got := len(f.sim.Originated()); got != 0 {
		t.Fatalf("originated %d calls with gateway down, want 0", got)
	}
	if st := f.w.Status(); !st.GatewayDown {
		t.Fatal("Status should expose gateway loss")
	}
}

func TestWorkerHardPauseHangsUpInFlight(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	f.enqueueN(t, "alpha", 2)
	f.w.tick(ctx, f.clock.Now())
	res := f.settle(t)

	if err := f.w.Pause(ctx, "alpha", PauseHard); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !f.queues.IsPaused("alpha") {
		t.Fatal("campaign should be paused")
	}

	// The hangup goes through the gateway and comes back as an event.
	select {
	case ev := <-f.sim.Events():
		if ev.Handle != res.handle || ev.Type != gateway.EventHangup {
			t.Fatalf("event = %+v, want hangup for %s", ev, res.handle)
		}
		if c, terminal := f.tracker.Apply(ev); terminal {
			f.w.handleTerminal(ctx, c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hard pause did not hang up the in-flight call")
	}
	if got := f.tracker.Concurrent(); got != 0 {
		t.Fatalf("Concurrent after hard pause = %d, want 0", got)
	}

	// Paused campaign stays out of admission.
	f.clock.Advance(time.Hour)
	f.w.tick(ctx, f.clock.Now())
	if got := len(f.sim.Originated()); got != 1 {
		t.Fatalf("originated %d calls while paused, want 1", got)
	}

	if err := f.w.Resume(ctx, "alpha"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.w.tick(ctx, f.clock.Now())
	f.settle(t)
	if got := len(f.sim.Originated()); got != 2 {
		t.Fatalf("originated %d calls after resume, want 2", got)
	}
}

func TestWorkerEnqueueValidation(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	cases := []CallRequest{
		{Country: "US", CampaignID: "c1"},
		{Destination: "+15550004444", Country: "US"},
		{Destination: "---", Country: "US", CampaignID: "c1"},
	}
	for i, bad := range cases {
		if err := f.w.Enqueue(ctx, bad); err != ErrInvalidRequest {
			t.Fatalf("case %d: err = %v, want ErrInvalidRequest", i, err)
		}
	}

	if err := f.w.Enqueue(ctx, CallRequest{Destination: "+15550004444", Country: "US", CampaignID: "c1"}); err != nil {
		t.Fatalf("valid enqueue: %v", err)
	}
	got, ok := f.queues.Dequeue(f.clock.Now())
	if !ok {
		t.Fatal("expected a queued request")
	}
	if got.ID == "" || got.EnqueuedAt.IsZero() {
		t.Fatalf("enqueue should stamp ID and EnqueuedAt, got %+v", got)
	}
}

func TestWorkerStatusSnapshot(t *testing.T) {
	f := newWorkerFixture(t, nil)

	rate := 3.5
	f.w.SetCpsOverride(&rate)
	f.enqueueN(t, "c1", 4)

	st := f.w.Status()
	if st.CurrentCPS != 3.5 {
		t.Fatalf("CurrentCPS = %v, want 3.5", st.CurrentCPS)
	}
	if st.QueueDepth != 4 {
		t.Fatalf("QueueDepth = %d, want 4", st.QueueDepth)
	}
	if st.ConcurrentCalls != 0 || st.EmergencyBrake || st.GatewayDown {
		t.Fatalf("unexpected status %+v", st)
	}

	f.w.SetCpsOverride(nil)
	if st := f.w.Status(); st.CurrentCPS != f.cfg.MinCPS {
		t.Fatalf("after clearing override CurrentCPS = %v, want MinCPS %v (cold start)", st.CurrentCPS, f.cfg.MinCPS)
	}
}
