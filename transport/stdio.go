package transport

import (
	"fmt"
	"io"
	"sync"
)

// Stdio is the device-side transport: on the knob firmware the USB CDC
// console appears as stdin/stdout. Go readers block, so a pump goroutine
// moves bytes from the reader into an internal queue; ReadAvailable then
// drains the queue without blocking and the endpoint loop stays
// single-threaded.
type Stdio struct {
	w io.Writer

	mu      sync.Mutex
	queue   []byte
	readErr error
	closed  bool
}

// NewStdio wraps the given reader/writer pair and starts the read pump.
func NewStdio(r io.Reader, w io.Writer) *Stdio {
	s := &Stdio{w: w}
	go s.pump(r)
	return s
}

func (s *Stdio) pump(r io.Reader) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if n > 0 {
			s.queue = append(s.queue, buf[:n]...)
		}
		if err != nil {
			s.readErr = err
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *Stdio) ReadAvailable(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(s.queue) == 0 {
		if s.readErr != nil {
			return 0, fmt.Errorf("stdio read: %w", s.readErr)
		}
		return 0, nil
	}
	n := copy(p, s.queue)
	s.queue = s.queue[n:]
	return n, nil
}

func (s *Stdio) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.mu.Unlock()

	n, err := s.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("stdio write: %w", err)
	}
	return n, nil
}

func (s *Stdio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.queue = nil
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
