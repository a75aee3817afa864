package transport

import "sync"

// Loopback is an in-memory transport used by tests and the device
// simulator. LoopbackPair returns two ends cross-wired so that writes on
// one become reads on the other, like a null-modem cable.
type Loopback struct {
	peer *Loopback

	mu     sync.Mutex
	buf    []byte
	closed bool
}

// LoopbackPair creates a connected transport pair. Closing either end makes
// both fail once buffered data has been drained, which is how tests
// simulate pulling the plug.
func LoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) ReadAvailable(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	if len(l.buf) > 0 {
		n := copy(p, l.buf)
		l.buf = l.buf[n:]
		l.mu.Unlock()
		return n, nil
	}
	l.mu.Unlock()

	// Peer mutex is only taken with our own released, so two ends polling
	// each other cannot deadlock.
	if l.peerClosed() {
		return 0, ErrClosed
	}
	return 0, nil
}

func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	l.mu.Unlock()

	l.peer.mu.Lock()
	defer l.peer.mu.Unlock()
	if l.peer.closed {
		return 0, ErrClosed
	}
	l.peer.buf = append(l.peer.buf, p...)
	return len(p), nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.buf = nil
	return nil
}

func (l *Loopback) peerClosed() bool {
	l.peer.mu.Lock()
	defer l.peer.mu.Unlock()
	return l.peer.closed
}
