package gateway

import (
	"context"
	"errors"
)

// SIP is a stub adapter for SIP trunk / softswitch integrations.
//
// Future integration (planned):
// - Originate/Hangup via FreeSWITCH ESL or Asterisk AMI, translated to the
//   Gateway contract (accept/reject promptly, progress via Events).
// - Ringing/Answered/Hangup/DTMF sourced from backend events and normalized.
//
// IMPORTANT:
// - Keep this adapter free of business logic; pacing, compliance and CLI
//   selection all happen upstream of Originate.
type SIP struct {
	events chan Event
}

func NewSIP() *SIP {
	return &SIP{events: make(chan Event, 256)}
}

func (g *SIP) Name() string { return "sip" }

var errSIPNotConfigured = errors.New("gateway: sip backend not configured")

func (g *SIP) HealthCheck(ctx context.Context) error {
	return errSIPNotConfigured
}

func (g *SIP) Originate(ctx context.Context, destination, cli string, vars map[string]string) (CallHandle, error) {
	return "", errSIPNotConfigured
}

func (g *SIP) Hangup(ctx context.Context, handle CallHandle) error {
	return errSIPNotConfigured
}

func (g *SIP) Events() <-chan Event { return g.events }
