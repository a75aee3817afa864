package device

import (
	"log/slog"
	"sync"
	"time"

	"github.com/avolk/volknob/proto"
)

// SimEncoder is an in-memory Encoder for the simulator binary and tests.
// Turn and Press mutate it from outside the main loop.
type SimEncoder struct {
	mu      sync.Mutex
	count   int
	pressed bool
}

func (e *SimEncoder) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *SimEncoder) Pressed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pressed
}

// Turn advances the encoder by the given number of counts (negative for
// anticlockwise).
func (e *SimEncoder) Turn(counts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count += counts
}

func (e *SimEncoder) Press(down bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pressed = down
}

// LogLeds is a LedRing that renders to the debug log instead of pixels.
type LogLeds struct{}

func (LogLeds) Off()                       { slog.Debug("leds off") }
func (LogLeds) DisplayFraction(f float64)  { slog.Debug("leds fraction", "value", f) }
func (LogLeds) DisplayDirection(d float64) { slog.Debug("leds direction", "value", d) }
func (LogLeds) Flash()                     { slog.Debug("leds flash") }
func (LogLeds) Crossfade(d time.Duration)  { slog.Debug("leds crossfade", "duration", d) }

func (LogLeds) DisplayAudio(left, right float64) {
	slog.Debug("leds vu", "left", left, "right", right)
}

func (LogLeds) DisplaySpectrum(left, right [proto.SpectrumBins]float64) {
	slog.Debug("leds spectrum", "left0", left[0], "right0", right[0])
}
