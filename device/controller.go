package device

import (
	"log/slog"
	"time"

	"github.com/avolk/volknob/endpoint"
	"github.com/avolk/volknob/proto"
)

// Encoder exposes the rotary encoder: a running count of quadrature steps
// and the push switch. Hardware drivers live outside this package.
type Encoder interface {
	Count() int
	Pressed() bool
}

// LedRing is the feedback surface. Implementations render to the pixel
// ring; tests record calls.
type LedRing interface {
	Off()
	DisplayFraction(frac float64)
	DisplayDirection(dir float64)
	DisplayAudio(left, right float64)
	DisplaySpectrum(left, right [proto.SpectrumBins]float64)
	Flash()
	Crossfade(d time.Duration)
}

const (
	encoderPPR      = 20 // pulses per revolution; one pulse is four counts
	encoderDeadzone = 3  // rotations under this many counts are ignored

	volDisplayHold = 2 * time.Second
	ledTransition  = 350 * time.Millisecond
)

// encoderDelta is the change between two encoder counts, wrapped into the
// -180..180 degree range so a full-circle jump reads as a small movement
// the other way.
func encoderDelta(old, new int) int {
	delta := new - old
	if delta < -encoderPPR*2 {
		delta += encoderPPR * 4
	}
	if delta > encoderPPR*2 {
		delta -= encoderPPR * 4
	}
	return delta
}

// Controller runs the knob interaction logic: idle, adjusting volume,
// button pressed, and skipping. It owns the endpoint's session-message
// handlers; states never block and are stepped from the device main loop.
type Controller struct {
	ep      *endpoint.Endpoint
	session *Session
	encoder Encoder
	leds    LedRing

	state knobState
}

func NewController(ep *endpoint.Endpoint, session *Session, encoder Encoder, leds LedRing) *Controller {
	c := &Controller{ep: ep, session: session, encoder: encoder, leds: leds}
	c.enterIdle()
	ep.Register(proto.MsgVolume, c.handleVolume)
	ep.Register(proto.MsgPlaybackStatus, c.handlePlaybackStatus)
	ep.Register(proto.MsgVU, c.handleVU)
	ep.Register(proto.MsgSpectrum, c.handleSpectrum)
	return c
}

// Update performs one main-loop step: broadcast if due, drain the
// transport, then run the current interaction state. Interaction is gated
// on the session being bound; an unbound knob only broadcasts.
func (c *Controller) Update(now time.Time) error {
	if err := c.session.Tick(now); err != nil {
		return err
	}
	if err := c.ep.Poll(); err != nil {
		return err
	}
	if !c.session.Bound() {
		return nil
	}
	c.state.update(c, now)
	return nil
}

func (c *Controller) enterIdle() {
	c.leds.Off()
	c.state = &idleState{initialCount: count(c)}
}

func count(c *Controller) int {
	if c.encoder == nil {
		return 0
	}
	return c.encoder.Count()
}

// Message handlers. Session messages received while unbound are dropped;
// the handshake has not happened so they belong to somebody else's session.

func (c *Controller) handleVolume(m proto.Message) {
	if !c.session.Bound() {
		return
	}
	c.leds.Crossfade(200 * time.Millisecond)
	c.state = &volumeAdjustState{
		volume:    m.(*proto.Volume).Level,
		prevCount: count(c),
		idleSince: time.Now(),
	}
}

func (c *Controller) handlePlaybackStatus(m proto.Message) {
	if !c.session.Bound() {
		return
	}
	c.leds.Flash()
	c.leds.Crossfade(ledTransition)
}

func (c *Controller) handleVU(m proto.Message) {
	if !c.session.Bound() {
		return
	}
	if _, idle := c.state.(*idleState); !idle {
		return // the ring is busy showing something else
	}
	vu := m.(*proto.VU)
	c.leds.DisplayAudio(vu.Left, vu.Right)
}

func (c *Controller) handleSpectrum(m proto.Message) {
	if !c.session.Bound() {
		return
	}
	if _, idle := c.state.(*idleState); !idle {
		return
	}
	sp := m.(*proto.Spectrum)
	c.leds.DisplaySpectrum(sp.Left, sp.Right)
}

// Interaction states. Transitions mostly happen on receipt of messages or
// switch edges rather than inside state logic, so update methods mutate
// the controller directly instead of returning a successor.

type knobState interface {
	update(c *Controller, now time.Time)
}

// idleState: knob at rest. A turn past the deadzone asks the host for the
// current volume; the Volume reply moves us to volumeAdjustState so the
// displayed level starts from truth rather than a stale local value.
type idleState struct {
	initialCount int
}

func (s *idleState) update(c *Controller, now time.Time) {
	if c.encoder.Pressed() {
		c.state = &pressedState{since: now, initialCount: count(c)}
		return
	}
	if abs(count(c)-s.initialCount) > encoderDeadzone {
		if err := c.ep.Send(&proto.VolumeRequest{}); err != nil {
			slog.Debug("Volume request send failed", "error", err.Error())
		}
		s.initialCount = count(c)
	}
}

// volumeAdjustState: the knob is live and every movement adjusts the host
// volume. Returns to idle after the knob has been still long enough.
type volumeAdjustState struct {
	volume    float64
	prevCount int
	idleSince time.Time
}

func (s *volumeAdjustState) update(c *Controller, now time.Time) {
	if c.encoder.Pressed() {
		c.state = &pressedState{since: now, initialCount: count(c)}
		return
	}

	cur := count(c)
	if cur == s.prevCount {
		if now.Sub(s.idleSince) > volDisplayHold {
			c.leds.Crossfade(ledTransition)
			c.enterIdle()
			return
		}
	} else {
		delta := encoderDelta(s.prevCount, cur)
		prev := s.volume
		s.volume = clamp01(s.volume + float64(delta)/(encoderPPR*4))
		if s.volume != prev {
			if err := c.ep.Send(&proto.Volume{Level: s.volume}); err != nil {
				slog.Debug("Volume send failed", "error", err.Error())
			}
		}
		s.idleSince = now
	}

	c.leds.DisplayFraction(s.volume)
	s.prevCount = cur
}

// pressedState: the switch is down; a release is play/pause, a turn while
// held starts skipping.
type pressedState struct {
	since        time.Time
	initialCount int
}

func (s *pressedState) update(c *Controller, now time.Time) {
	if !c.encoder.Pressed() {
		c.leds.Flash()
		c.leds.Crossfade(ledTransition)
		if err := c.ep.Send(&proto.TogglePlayback{}); err != nil {
			slog.Debug("Playback toggle send failed", "error", err.Error())
		}
		c.enterIdle()
		return
	}
	if abs(encoderDelta(s.initialCount, count(c))) > encoderDeadzone {
		c.state = &skippingState{initialCount: s.initialCount}
	}
}

// skippingState: turning with the switch held; direction and distance are
// shown on the ring, and the skip fires on release.
type skippingState struct {
	initialCount int
}

func (s *skippingState) update(c *Controller, now time.Time) {
	delta := encoderDelta(s.initialCount, count(c))
	c.leds.DisplayDirection(float64(delta) / encoderPPR)

	if !c.encoder.Pressed() {
		if abs(delta) > encoderDeadzone {
			if err := c.ep.Send(&proto.Skip{Forward: delta > 0}); err != nil {
				slog.Debug("Skip send failed", "error", err.Error())
			}
		}
		c.leds.Crossfade(ledTransition)
		c.enterIdle()
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
