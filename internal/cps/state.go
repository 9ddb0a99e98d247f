package cps

import "time"

// State is the controller's pacing regime.
//
// EmergencyBraked is reachable from any state and exits only to RampingUp
// once quality recovers.
type State string

const (
	StateRampingUp       State = "ramping_up"
	StateSteady          State = "steady"
	StateRampingDown     State = "ramping_down"
	StateEmergencyBraked State = "emergency_braked"
)

// Snapshot is a read-only view of controller state for status reporting.
type Snapshot struct {
	CurrentCPS     float64   `json:"current_cps"`
	TargetCPS      float64   `json:"target_cps"`
	MinCPS         float64   `json:"min_cps"`
	MaxCPS         float64   `json:"max_cps"`
	State          State     `json:"state"`
	EmergencyBrake bool      `json:"emergency_brake"`
	OverrideActive bool      `json:"override_active"`
	LastAdjustment time.Time `json:"last_adjustment"`
}
