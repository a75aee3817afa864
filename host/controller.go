package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avolk/volknob/endpoint"
	"github.com/avolk/volknob/proto"
)

// Status is a snapshot of the host's view of the link, pushed to the status
// sink whenever something changes.
type Status struct {
	Connected bool    `json:"connected"`
	Port      string  `json:"port"`
	Serial    string  `json:"serial"`
	Session   string  `json:"session"`
	Volume    float64 `json:"volume"`
	Playing   bool    `json:"playing"`
	VULeft    float64 `json:"vu_left"`
	VURight   float64 `json:"vu_right"`
}

// StatusSink receives status snapshots. The web dashboard implements it.
type StatusSink interface {
	Publish(Status)
}

// Controller runs the host side: it discovers the device, bridges decoded
// messages to the audio collaborators, streams VU/spectrum frames back, and
// rediscovers after a link failure.
type Controller struct {
	cfg   Config
	disc  *Discoverer
	cache *BindingCache
	audio AudioController

	levels AudioLevels
	sink   StatusSink

	ep     *endpoint.Endpoint
	status Status
}

func NewController(cfg Config, disc *Discoverer, cache *BindingCache, audio AudioController) *Controller {
	return &Controller{cfg: cfg, disc: disc, cache: cache, audio: audio}
}

// SetLevels attaches an optional VU/spectrum source.
func (c *Controller) SetLevels(l AudioLevels) {
	c.levels = l
}

// SetStatusSink attaches an optional status consumer.
func (c *Controller) SetStatusSink(s StatusSink) {
	c.sink = s
}

// Run discovers and serves the device until the context is cancelled. One
// endpoint lives for the whole loop: discovery rebinds it to whichever
// port wins, so handler registrations carry across reconnects. On a link
// failure it clears the cached binding and re-enters discovery; on
// cancellation it sends Reset so the device returns to broadcasting, then
// closes the port.
func (c *Controller) Run(ctx context.Context) error {
	if c.ep == nil {
		c.ep = endpoint.New(nil)
		c.registerHandlers()
	}
	for {
		binding, err := c.disc.Discover(ctx, c.ep)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Discovery failed", "error", err.Error(),
				"retry_in", c.cfg.ReconnectDelay())
			c.publishDisconnected()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ReconnectDelay()):
			}
			continue
		}

		c.bindSession(binding)
		err = c.serve(ctx)

		if ctx.Err() != nil {
			// Graceful shutdown: return the device to discovery so it is
			// not left talking into a dead port.
			if err := c.ep.Send(&proto.Reset{}); err != nil {
				slog.Warn("Failed to send reset on shutdown", "error", err.Error())
			}
			c.ep.Close()
			c.publishDisconnected()
			return ctx.Err()
		}

		slog.Warn("Link failed, rediscovering", "session", c.status.Session, "error", err.Error())
		c.ep.Close()
		c.publishDisconnected()
		// The port may have been reassigned out from under us; do not
		// trust the cache after a failure.
		if err := c.cache.Clear(); err != nil {
			slog.Warn("Failed to clear binding cache", "error", err.Error())
		}
	}
}

func (c *Controller) bindSession(binding Binding) {
	vol, err := c.audio.Volume()
	if err != nil {
		slog.Warn("Failed to read initial volume", "error", err.Error())
	}
	c.status = Status{
		Connected: true,
		Port:      binding.Port,
		Serial:    binding.Serial,
		Session:   uuid.NewString()[:8],
		Volume:    vol,
	}
	c.publish()
	slog.Info("Session started", "session", c.status.Session,
		"port", binding.Port, "serial", binding.Serial)
}

func (c *Controller) registerHandlers() {
	c.ep.Register(proto.MsgVolumeRequest, c.handleVolumeRequest)
	c.ep.Register(proto.MsgVolume, c.handleVolume)
	c.ep.Register(proto.MsgTogglePlayback, c.handleTogglePlayback)
	c.ep.Register(proto.MsgSkip, c.handleSkip)
}

func (c *Controller) serve(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.ep.Poll(); err != nil {
				return err
			}
			c.sendAudioFrames()
		}
	}
}

// sendAudioFrames pushes a VU and spectrum frame to the device when audio
// is playing and the capture source has fresh data.
func (c *Controller) sendAudioFrames() {
	if c.levels == nil || !c.status.Playing {
		return
	}
	if l, r, ok := c.levels.Levels(); ok {
		if err := c.ep.Send(&proto.VU{Left: l, Right: r}); err != nil {
			slog.Debug("VU send failed", "error", err.Error())
			return
		}
		c.status.VULeft, c.status.VURight = l, r
		c.publish()
	}
	if l, r, ok := c.levels.Spectrum(); ok {
		if err := c.ep.Send(&proto.Spectrum{Left: l, Right: r}); err != nil {
			slog.Debug("Spectrum send failed", "error", err.Error())
		}
	}
}

func (c *Controller) handleVolumeRequest(proto.Message) {
	vol, err := c.audio.Volume()
	if err != nil {
		slog.Warn("Volume read failed", "error", err.Error())
		return
	}
	if err := c.ep.Send(&proto.Volume{Level: vol}); err != nil {
		slog.Warn("Volume reply failed", "error", err.Error())
	}
}

func (c *Controller) handleVolume(m proto.Message) {
	level := m.(*proto.Volume).Level
	if err := c.audio.SetVolume(level); err != nil {
		slog.Warn("Volume set failed", "level", level, "error", err.Error())
		return
	}
	c.status.Volume = level
	c.publish()
}

func (c *Controller) handleTogglePlayback(proto.Message) {
	playing, err := c.audio.TogglePlayback()
	if err != nil {
		slog.Warn("Playback toggle failed", "error", err.Error())
		return
	}
	if err := c.ep.Send(&proto.PlaybackStatus{Playing: playing}); err != nil {
		slog.Warn("Playback status reply failed", "error", err.Error())
	}
	c.status.Playing = playing
	c.publish()
}

func (c *Controller) handleSkip(m proto.Message) {
	forward := m.(*proto.Skip).Forward
	if err := c.audio.Skip(forward); err != nil {
		slog.Warn("Skip failed", "forward", forward, "error", err.Error())
	}
}

func (c *Controller) publish() {
	if c.sink != nil {
		c.sink.Publish(c.status)
	}
}

func (c *Controller) publishDisconnected() {
	c.status = Status{}
	c.publish()
}
