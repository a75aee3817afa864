// Package endpoint implements the serial manager owned by each side of the
// link: it drains the transport, frames the bytes, and dispatches decoded
// messages to registered handlers.
package endpoint

import (
	"fmt"
	"log/slog"

	"github.com/avolk/volknob/proto"
	"github.com/avolk/volknob/transport"
)

// Handler consumes one decoded message. Handlers run synchronously inside
// Poll on the caller's goroutine; there is no internal concurrency.
type Handler func(proto.Message)

// Endpoint owns a transport and routes messages by identifier. One endpoint
// exists per process role (host or device); the host rebinds it to a fresh
// transport on reconnect rather than recreating it.
type Endpoint struct {
	tr       transport.Transport
	framer   proto.Framer
	handlers map[proto.MsgID]Handler
	rbuf     []byte
}

// New returns an endpoint over tr. A nil tr is allowed: the endpoint fails
// closed until Rebind attaches a transport, which is how the host side
// starts before discovery has found a port.
func New(tr transport.Transport) *Endpoint {
	return &Endpoint{
		tr:       tr,
		handlers: make(map[proto.MsgID]Handler),
		rbuf:     make([]byte, 512),
	}
}

// Register binds a handler to a message identifier, replacing any existing
// one. Message types with no handler on this side are decoded and dropped;
// that is how "intended direction" is enforced in practice.
func (e *Endpoint) Register(id proto.MsgID, h Handler) {
	e.handlers[id] = h
}

// Poll reads every byte currently available from the transport, without
// blocking, and dispatches every complete message in arrival order. With
// nothing buffered it returns immediately. Transport failures come back
// wrapped (match with errors.Is against transport.ErrClosed or the read
// error); framing failures come back as *proto.FramingError. Either way the
// messages decoded before the failure have already been dispatched.
func (e *Endpoint) Poll() error {
	if e.tr == nil {
		return fmt.Errorf("poll: %w", transport.ErrClosed)
	}
	for {
		n, err := e.tr.ReadAvailable(e.rbuf)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return nil
		}
		msgs, err := e.framer.Feed(e.rbuf[:n])
		for _, msg := range msgs {
			if h := e.handlers[msg.ID()]; h != nil {
				h(msg)
			} else {
				slog.Debug("No handler for message", "id", fmt.Sprintf("0x%02x", byte(msg.ID())))
			}
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
	}
}

// Send encodes the message and writes it to the transport. Short writes are
// errors; a message is never silently truncated.
func (e *Endpoint) Send(m proto.Message) error {
	if e.tr == nil {
		return fmt.Errorf("send 0x%02x: %w", byte(m.ID()), transport.ErrClosed)
	}
	data := proto.Encode(m)
	n, err := e.tr.Write(data)
	if err != nil {
		return fmt.Errorf("send 0x%02x: %w", byte(m.ID()), err)
	}
	if n != len(data) {
		return fmt.Errorf("send 0x%02x: short write (%d of %d bytes)", byte(m.ID()), n, len(data))
	}
	return nil
}

// Rebind swaps in a new transport and resets framing state. Handler
// registrations survive; the endpoint instance lives for the whole process.
func (e *Endpoint) Rebind(tr transport.Transport) {
	e.tr = tr
	e.framer.Reset()
}

// Close releases the owned transport.
func (e *Endpoint) Close() error {
	if e.tr == nil {
		return nil
	}
	return e.tr.Close()
}
