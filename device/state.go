// Package device implements the knob side of the link: the connection
// state machine that governs discovery broadcasts, and the interaction
// controller that turns encoder movement into protocol messages.
package device

import (
	"log/slog"
	"time"

	"github.com/avolk/volknob/endpoint"
	"github.com/avolk/volknob/proto"
)

// ConnState tracks whether the device considers itself bound to a host.
// This says nothing about the physical transport: USB stays "connected"
// from the device's point of view even when the host process is long gone.
type ConnState int

const (
	Unbound ConnState = iota
	Bound
)

func (s ConnState) String() string {
	if s == Bound {
		return "bound"
	}
	return "unbound"
}

// DefaultBroadcastInterval is the cadence of identity broadcasts while
// unbound.
const DefaultBroadcastInterval = 500 * time.Millisecond

// Session is the device's connection state machine. While Unbound it
// broadcasts the device's identity on a fixed cadence; a BindAck from a
// host promotes it to Bound and stops the broadcasts; a Reset demotes it
// back. There is no liveness timeout: the host's cache-and-reverify
// strategy makes an abrupt host death indistinguishable from silence, and
// recovery happens on the host side.
type Session struct {
	ep       *endpoint.Endpoint
	serial   string
	interval time.Duration

	state         ConnState
	lastBroadcast time.Time
}

// NewSession registers the bind/reset handlers on the endpoint and returns
// a session starting in Unbound.
func NewSession(ep *endpoint.Endpoint, serial string, interval time.Duration) *Session {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	s := &Session{ep: ep, serial: serial, interval: interval}
	ep.Register(proto.MsgBindAck, s.handleBindAck)
	ep.Register(proto.MsgReset, s.handleReset)
	return s
}

func (s *Session) State() ConnState {
	return s.state
}

func (s *Session) Bound() bool {
	return s.state == Bound
}

// Tick drives the broadcast cadence. Called once per main-loop iteration;
// sends an identity broadcast when unbound and due, otherwise does nothing.
func (s *Session) Tick(now time.Time) error {
	if s.state == Bound {
		return nil
	}
	if !s.lastBroadcast.IsZero() && now.Sub(s.lastBroadcast) < s.interval {
		return nil
	}
	if err := s.ep.Send(&proto.Identity{Serial: s.serial}); err != nil {
		return err
	}
	s.lastBroadcast = now
	return nil
}

func (s *Session) handleBindAck(proto.Message) {
	if s.state == Bound {
		return
	}
	s.state = Bound
	slog.Info("Bound to host", "serial", s.serial)
}

func (s *Session) handleReset(proto.Message) {
	if s.state == Unbound {
		return
	}
	s.state = Unbound
	s.lastBroadcast = time.Time{} // broadcast again on the next tick
	slog.Info("Host released session, returning to discovery")
}
