package cps

import (
	"sync"
	"time"

	"dialer-platform/internal/config"
	"dialer-platform/internal/metrics"
)

// Controller computes the rate (calls/second) at which the admission worker
// is allowed to dequeue, and owns the emergency-brake hysteresis flag.
//
// Contract:
// - Two formulas, combined by min() and clamped to [MinCPS, MaxCPS]:
//   1) agent capacity: (agents/avgCallDuration)/answerRate * (1-abandonThreshold)
//   2) quality ramp: additive increase/decrease (AIMD) gated by trailing
//      success rate and system load
// - Undefined answer rate (no samples) returns MinCPS (conservative cold start).
// - Brake engages below BrakeThreshold and releases only above the higher
//   QualityThreshold; distinct thresholds prevent flapping.
// - No side effects beyond its own state; reads the window, never writes it.
type Controller struct {
	mu  sync.Mutex
	cfg config.DialerConfig
	win *metrics.Window

	ramp       float64
	state      State
	braked     bool
	override   *float64
	lastRamp   time.Time
	lastAdjust time.Time
	lastTarget float64

	clock func() time.Time
}

func NewController(cfg config.DialerConfig, win *metrics.Window) *Controller {
	return &Controller{
		cfg:        cfg,
		win:        win,
		ramp:       cfg.InitialCPS,
		state:      StateRampingUp,
		lastTarget: cfg.MinCPS,
		clock:      time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (c *Controller) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// SetOverride pins the target CPS (clamped to configured bounds).
// A nil value clears the override and resumes automatic control.
func (c *Controller) SetOverride(v *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v == nil {
		c.override = nil
		return
	}
	pinned := clamp(*v, c.cfg.MinCPS, c.cfg.MaxCPS)
	c.override = &pinned
}

// BrakeActive reports the current hysteresis flag without recomputing it.
func (c *Controller) BrakeActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.braked
}

// EmergencyBrakeCheck updates and returns the brake flag.
//
// Engages when the trailing success rate drops below BrakeThreshold.
// Releases only when the success rate is observed strictly above
// QualityThreshold; a sample exactly at the boundary keeps the brake on.
func (c *Controller) EmergencyBrakeCheck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brakeCheckLocked()
}

func (c *Controller) brakeCheckLocked() bool {
	rate, ok := c.win.SuccessRate(c.cfg.BrakeWindow)
	if !ok {
		// No terminal outcomes to judge; hold the current flag.
		return c.braked
	}
	if !c.braked && rate < c.cfg.BrakeThreshold {
		c.braked = true
		c.state = StateEmergencyBraked
	} else if c.braked && rate > c.cfg.QualityThreshold {
		c.braked = false
		c.state = StateRampingUp
		c.ramp = c.cfg.InitialCPS
		c.lastRamp = c.clock()
	}
	return c.braked
}

// ComputeTargetCPS recomputes the target rate from the metrics window, agent
// capacity and current load. concurrentCalls feeds the load ceiling check of
// the quality ramp.
func (c *Controller) ComputeTargetCPS(availableAgents, concurrentCalls int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	c.lastAdjust = now

	if c.brakeCheckLocked() {
		// Brake collapses pacing to the floor; the worker additionally
		// refuses to dispatch while the flag is set.
		c.lastTarget = c.cfg.MinCPS
		return c.cfg.MinCPS
	}

	if c.override != nil {
		c.state = StateSteady
		c.lastTarget = *c.override
		return *c.override
	}

	answerRate, rateOK := c.win.AnswerRate(0)
	if !rateOK {
		// Cold start: no telemetry yet.
		c.lastTarget = c.cfg.MinCPS
		return c.cfg.MinCPS
	}

	capacity := c.capacityCPS(availableAgents, answerRate)
	ramp := c.rampCPS(now, concurrentCalls)

	target := capacity
	if ramp < target {
		target = ramp
	}
	target = clamp(target, c.cfg.MinCPS, c.cfg.MaxCPS)
	c.lastTarget = target
	return target
}

// capacityCPS is the classic predictive-dialing identity: the completion rate
// an agent pool can absorb, inflated by the answer rate and scaled by the
// abandon safety factor. Returns MaxCPS when not computable so the ramp
// formula governs instead.
func (c *Controller) capacityCPS(agents int, answerRate float64) float64 {
	if agents <= 0 || answerRate <= 0 {
		return c.cfg.MaxCPS
	}
	avgDur, ok := c.win.AvgCallDuration(0)
	if !ok || avgDur <= 0 {
		return c.cfg.MaxCPS
	}
	perAgent := float64(agents) / avgDur.Seconds()
	return perAgent / answerRate * (1 - c.cfg.AbandonThreshold)
}

// rampCPS applies one AIMD step per RampInterval: up while quality holds and
// load stays under the ceiling, down on any violation.
func (c *Controller) rampCPS(now time.Time, concurrentCalls int) float64 {
	if c.lastRamp.IsZero() {
		c.lastRamp = now
		return c.ramp
	}
	if now.Sub(c.lastRamp) < c.cfg.RampInterval {
		return c.ramp
	}
	c.lastRamp = now

	load := 0.0
	if c.cfg.MaxConcurrentCalls > 0 {
		load = float64(concurrentCalls) / float64(c.cfg.MaxConcurrentCalls)
	}
	quality, ok := c.win.SuccessRate(0)
	healthy := ok && quality >= c.cfg.QualityThreshold && load < c.cfg.LoadCeiling

	switch {
	case healthy && c.ramp < c.cfg.MaxCPS:
		c.ramp = clamp(c.ramp+c.cfg.RampStep, c.cfg.MinCPS, c.cfg.MaxCPS)
		c.state = StateRampingUp
	case !healthy && c.ramp > c.cfg.MinCPS:
		c.ramp = clamp(c.ramp-c.cfg.RampStep, c.cfg.MinCPS, c.cfg.MaxCPS)
		c.state = StateRampingDown
	default:
		c.state = StateSteady
	}
	return c.ramp
}

// Snapshot returns a read-only view for the status endpoint.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CurrentCPS:     c.lastTarget,
		TargetCPS:      c.lastTarget,
		MinCPS:         c.cfg.MinCPS,
		MaxCPS:         c.cfg.MaxCPS,
		State:          c.state,
		EmergencyBrake: c.braked,
		OverrideActive: c.override != nil,
		LastAdjustment: c.lastAdjust,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
