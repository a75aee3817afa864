package device

import (
	"testing"
	"time"

	"github.com/avolk/volknob/endpoint"
	"github.com/avolk/volknob/proto"
	"github.com/avolk/volknob/transport"
)

// hostEnd drives the host's half of the wire in tests.
type hostEnd struct {
	ep  *endpoint.Endpoint
	got []proto.Message
}

func newHostEnd(tr transport.Transport) *hostEnd {
	h := &hostEnd{ep: endpoint.New(tr)}
	for _, id := range []proto.MsgID{proto.MsgIdentity, proto.MsgVolumeRequest, proto.MsgVolume,
		proto.MsgTogglePlayback, proto.MsgSkip} {
		h.ep.Register(id, func(m proto.Message) { h.got = append(h.got, m) })
	}
	return h
}

func (h *hostEnd) drain(t *testing.T) []proto.Message {
	t.Helper()
	if err := h.ep.Poll(); err != nil {
		t.Fatalf("host poll: %v", err)
	}
	msgs := h.got
	h.got = nil
	return msgs
}

func TestSessionStartsUnbound(t *testing.T) {
	devTr, _ := transport.LoopbackPair()
	s := NewSession(endpoint.New(devTr), "KNOB1", 0)
	if s.State() != Unbound {
		t.Errorf("initial state = %v, want unbound", s.State())
	}
}

func TestSessionBindAndReset(t *testing.T) {
	devTr, hostTr := transport.LoopbackPair()
	ep := endpoint.New(devTr)
	s := NewSession(ep, "KNOB1", 0)
	host := newHostEnd(hostTr)

	host.ep.Send(&proto.BindAck{})
	if err := ep.Poll(); err != nil {
		t.Fatalf("device poll: %v", err)
	}
	if s.State() != Bound {
		t.Fatalf("state after BindAck = %v, want bound", s.State())
	}

	host.ep.Send(&proto.Reset{})
	if err := ep.Poll(); err != nil {
		t.Fatalf("device poll: %v", err)
	}
	if s.State() != Unbound {
		t.Errorf("state after Reset = %v, want unbound", s.State())
	}
}

func TestSessionBroadcastsWhileUnbound(t *testing.T) {
	devTr, hostTr := transport.LoopbackPair()
	ep := endpoint.New(devTr)
	s := NewSession(ep, "KNOB1", 100*time.Millisecond)
	host := newHostEnd(hostTr)

	now := time.Now()
	if err := s.Tick(now); err != nil {
		t.Fatalf("tick: %v", err)
	}
	// Within the interval: no second broadcast.
	s.Tick(now.Add(50 * time.Millisecond))
	// Past the interval: one more.
	s.Tick(now.Add(150 * time.Millisecond))

	msgs := host.drain(t)
	if len(msgs) != 2 {
		t.Fatalf("host saw %d broadcasts, want 2", len(msgs))
	}
	for _, m := range msgs {
		id, ok := m.(*proto.Identity)
		if !ok {
			t.Fatalf("broadcast is %T, want *proto.Identity", m)
		}
		if id.Serial != "KNOB1" {
			t.Errorf("broadcast serial = %q", id.Serial)
		}
	}
}

func TestSessionStopsBroadcastingOnceBound(t *testing.T) {
	devTr, hostTr := transport.LoopbackPair()
	ep := endpoint.New(devTr)
	s := NewSession(ep, "KNOB1", time.Millisecond)
	host := newHostEnd(hostTr)

	host.ep.Send(&proto.BindAck{})
	ep.Poll()

	s.Tick(time.Now().Add(time.Hour))
	if msgs := host.drain(t); len(msgs) != 0 {
		t.Errorf("bound device still broadcast %d messages", len(msgs))
	}
}

func TestSessionResumesBroadcastingAfterReset(t *testing.T) {
	devTr, hostTr := transport.LoopbackPair()
	ep := endpoint.New(devTr)
	s := NewSession(ep, "KNOB1", time.Hour) // long interval
	host := newHostEnd(hostTr)

	now := time.Now()
	s.Tick(now)
	host.ep.Send(&proto.BindAck{})
	ep.Poll()
	host.ep.Send(&proto.Reset{})
	ep.Poll()
	host.drain(t)

	// Reset clears the cadence: the next tick broadcasts immediately even
	// though the hour interval since the last one has not passed.
	s.Tick(now.Add(time.Second))
	if msgs := host.drain(t); len(msgs) != 1 {
		t.Errorf("broadcast after reset: got %d messages, want 1", len(msgs))
	}
}

func TestSessionTickSurfacesTransportFailure(t *testing.T) {
	devTr, hostTr := transport.LoopbackPair()
	s := NewSession(endpoint.New(devTr), "KNOB1", 0)
	hostTr.Close()

	if err := s.Tick(time.Now()); err == nil {
		t.Error("tick on a dead transport returned nil")
	}
}
