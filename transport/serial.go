package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial is the host-side transport over a real serial port.
type Serial struct {
	name string

	mu     sync.Mutex
	port   serial.Port
	closed bool
}

// OpenSerial opens the named port at the given baud rate. The read timeout
// is set to one millisecond so reads return whatever the OS has buffered
// instead of blocking; USB CDC ignores the baud rate but it is set anyway
// for bridges that care.
func OpenSerial(name string, baud int) (*Serial, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &Serial{name: name, port: port}, nil
}

// Name returns the port name this transport was opened on.
func (s *Serial) Name() string {
	return s.name
}

func (s *Serial) ReadAvailable(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n, err := s.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", s.name, err)
	}
	return n, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.name, err)
	}
	return n, nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}
