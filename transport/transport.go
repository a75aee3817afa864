// Package transport abstracts the byte-stream channel between host and
// device. Implementations are poll-oriented: reads never block, so the
// single-threaded endpoint loop can drain whatever has arrived and move on.
package transport

import "errors"

// ErrClosed is returned by every operation on a transport that has been
// closed, locally or by its peer. Closing must make pending and future
// reads and writes fail deterministically rather than hang.
var ErrClosed = errors.New("transport closed")

// Transport is one end of a reliable, in-order byte stream (in practice a
// USB virtual serial port). A transport is exclusively owned by a single
// endpoint.
type Transport interface {
	// ReadAvailable copies bytes that have already arrived into p and
	// returns how many. It never blocks: when nothing is buffered it
	// returns (0, nil). Read failures (port gone, peer closed) are
	// returned as errors, never conflated with an empty buffer.
	ReadAvailable(p []byte) (int, error)

	// Write sends len(p) bytes. It may block briefly on the underlying
	// channel but never waits for a reply.
	Write(p []byte) (int, error)

	Close() error
}
