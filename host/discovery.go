package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/avolk/volknob/endpoint"
	"github.com/avolk/volknob/proto"
	"github.com/avolk/volknob/transport"
)

var (
	// ErrNoDevice means every candidate port was tried and none produced a
	// valid identity broadcast. This is the one discovery failure that
	// surfaces to the user.
	ErrNoDevice = errors.New("no device found")

	// ErrIdentityMismatch means the device on a cached port answered with a
	// different serial number than the cache promised.
	ErrIdentityMismatch = errors.New("device serial does not match cached binding")

	errListenTimeout = errors.New("no identity broadcast within listen window")
)

// PortInfo describes one transport candidate: a serial port and the USB
// identifiers it reported.
type PortInfo struct {
	Name string
	VID  string
	PID  string
}

// PortLister enumerates transport candidates. The production implementation
// walks the OS's USB serial ports; tests substitute fixed lists.
type PortLister interface {
	List() ([]PortInfo, error)
}

type usbLister struct{}

func (usbLister) List() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	var out []PortInfo
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		out = append(out, PortInfo{Name: p.Name, VID: p.VID, PID: p.PID})
	}
	return out, nil
}

// PortOpener opens a candidate port as a transport.
type PortOpener func(name string, baud int) (transport.Transport, error)

// Discoverer finds the device among the serial ports matching the
// configured vendor/product pair and performs the bind handshake. Lister
// and Opener default to the real USB enumerator and serial port; tests
// override them.
type Discoverer struct {
	Lister PortLister
	Opener PortOpener

	cfg   Config
	cache *BindingCache
}

func NewDiscoverer(cfg Config, cache *BindingCache) *Discoverer {
	return &Discoverer{
		Lister: usbLister{},
		Opener: func(name string, baud int) (transport.Transport, error) {
			return transport.OpenSerial(name, baud)
		},
		cfg:   cfg,
		cache: cache,
	}
}

// Discover binds ep to the device and returns the binding that proves it.
// The caller's endpoint is rebound to each candidate port in turn, so
// handler registrations survive rediscovery and the endpoint instance
// lives for the whole process. A valid cached binding is tried first; if
// its port cannot be opened, stays silent, or answers with the wrong
// serial, the cache is discarded and a full scan runs. The device has been
// sent a BindAck by the time Discover returns.
func (d *Discoverer) Discover(ctx context.Context, ep *endpoint.Endpoint) (Binding, error) {
	if cached, ok := d.cache.Load(); ok {
		binding, err := d.tryCached(ctx, ep, cached)
		if err == nil {
			return binding, nil
		}
		if ctx.Err() != nil {
			return Binding{}, ctx.Err()
		}
		slog.Warn("Cached binding unusable, falling back to scan",
			"port", cached.Port, "serial", cached.Serial, "error", err.Error())
		if err := d.cache.Clear(); err != nil {
			slog.Warn("Failed to clear binding cache", "error", err.Error())
		}
	}
	return d.scan(ctx, ep)
}

func (d *Discoverer) tryCached(ctx context.Context, ep *endpoint.Endpoint, cached Binding) (Binding, error) {
	binding, err := d.listen(ctx, ep, cached.Port)
	if err != nil {
		return Binding{}, err
	}
	if binding.Serial != cached.Serial {
		ep.Close()
		return Binding{}, fmt.Errorf("%w: cached %q, live %q",
			ErrIdentityMismatch, cached.Serial, binding.Serial)
	}
	if err := ep.Send(&proto.BindAck{}); err != nil {
		ep.Close()
		return Binding{}, err
	}
	slog.Info("Reconnected via cached binding", "port", binding.Port, "serial", binding.Serial)
	return binding, nil
}

func (d *Discoverer) scan(ctx context.Context, ep *endpoint.Endpoint) (Binding, error) {
	ports, err := d.Lister.List()
	if err != nil {
		return Binding{}, err
	}

	var candidates []PortInfo
	for _, p := range ports {
		if strings.EqualFold(p.VID, d.cfg.VendorID) && strings.EqualFold(p.PID, d.cfg.ProductID) {
			candidates = append(candidates, p)
		}
	}
	slog.Info("Scanning for device", "candidates", len(candidates),
		"vid", d.cfg.VendorID, "pid", d.cfg.ProductID)

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return Binding{}, ctx.Err()
		}
		binding, err := d.listen(ctx, ep, cand.Name)
		if err != nil {
			slog.Debug("Candidate rejected", "port", cand.Name, "error", err.Error())
			continue
		}
		if err := ep.Send(&proto.BindAck{}); err != nil {
			ep.Close()
			continue
		}
		if err := d.cache.Store(binding); err != nil {
			slog.Warn("Failed to persist binding", "error", err.Error())
		}
		slog.Info("Device bound", "port", binding.Port, "serial", binding.Serial)
		return binding, nil
	}
	return Binding{}, ErrNoDevice
}

// listen opens a candidate, rebinds ep onto it, and waits up to the
// configured window for an identity broadcast. The rebind resets framing
// state, which is correct: each candidate is a fresh byte stream. On
// failure the candidate's transport is closed; the endpoint itself stays
// usable for the next candidate. The device has not been acknowledged yet
// when listen returns; the caller decides whether to bind or close.
func (d *Discoverer) listen(ctx context.Context, ep *endpoint.Endpoint, port string) (Binding, error) {
	tr, err := d.Opener(port, d.cfg.Baud)
	if err != nil {
		return Binding{}, fmt.Errorf("open candidate %s: %w", port, err)
	}
	ep.Rebind(tr)

	var serial string
	ep.Register(proto.MsgIdentity, func(m proto.Message) {
		serial = m.(*proto.Identity).Serial
	})
	defer ep.Register(proto.MsgIdentity, nil)

	deadline := time.Now().Add(d.cfg.ListenWindow())
	for serial == "" {
		if err := ctx.Err(); err != nil {
			ep.Close()
			return Binding{}, err
		}
		if time.Now().After(deadline) {
			ep.Close()
			return Binding{}, fmt.Errorf("%s: %w", port, errListenTimeout)
		}
		if err := ep.Poll(); err != nil {
			ep.Close()
			return Binding{}, err
		}
		if serial == "" {
			time.Sleep(d.cfg.PollInterval())
		}
	}

	return Binding{Port: port, Serial: serial, BoundAt: time.Now().UTC()}, nil
}
