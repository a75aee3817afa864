package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/avolk/volknob/endpoint"
	"github.com/avolk/volknob/proto"
	"github.com/avolk/volknob/transport"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.ListenWindowMs = 50
	cfg.PollIntervalMs = 1
	cfg.CachePath = filepath.Join(t.TempDir(), "binding.toml")
	return cfg
}

type fakeLister struct {
	ports []PortInfo
	calls int
}

func (f *fakeLister) List() ([]PortInfo, error) {
	f.calls++
	return f.ports, nil
}

// fakeBus hands out loopback pairs per port name. Ports with a serial in
// the devices map have an identity broadcast pre-queued, like a device
// that has been broadcasting since before the host opened the port. Ports
// absent from the map open fine but stay silent.
type fakeBus struct {
	devices map[string]string
	broken  map[string]bool
	devEnds map[string]*transport.Loopback
	opened  []string
}

func newFakeBus(devices map[string]string) *fakeBus {
	return &fakeBus{
		devices: devices,
		broken:  make(map[string]bool),
		devEnds: make(map[string]*transport.Loopback),
	}
}

func (b *fakeBus) open(name string, baud int) (transport.Transport, error) {
	b.opened = append(b.opened, name)
	if b.broken[name] {
		return nil, fmt.Errorf("open %s: no such port", name)
	}
	hostEnd, devEnd := transport.LoopbackPair()
	if serial, ok := b.devices[name]; ok {
		devEnd.Write(proto.Encode(&proto.Identity{Serial: serial}))
	}
	b.devEnds[name] = devEnd
	return hostEnd, nil
}

func (b *fakeBus) receivedBindAck(t *testing.T, name string) bool {
	t.Helper()
	devEnd, ok := b.devEnds[name]
	if !ok {
		t.Fatalf("port %s was never opened", name)
	}
	buf := make([]byte, 16)
	n, err := devEnd.ReadAvailable(buf)
	if err != nil {
		t.Fatalf("device read on %s: %v", name, err)
	}
	for _, by := range buf[:n] {
		if by == byte(proto.MsgBindAck) {
			return true
		}
	}
	return false
}

func newTestDiscoverer(cfg Config, lister PortLister, bus *fakeBus) (*Discoverer, *BindingCache) {
	cache := NewBindingCache(cfg.CachePath)
	d := NewDiscoverer(cfg, cache)
	d.Lister = lister
	d.Opener = bus.open
	return d, cache
}

func TestScanBindsFirstAnsweringCandidate(t *testing.T) {
	cfg := testConfig(t)
	lister := &fakeLister{ports: []PortInfo{
		{Name: "COM3", VID: "2E8A", PID: "0005"}, // silent
		{Name: "COM4", VID: "2E8A", PID: "0005"}, // the knob
	}}
	bus := newFakeBus(map[string]string{"COM4": "KNOB1"})
	d, cache := newTestDiscoverer(cfg, lister, bus)

	ep := endpoint.New(nil)
	defer ep.Close()
	binding, err := d.Discover(context.Background(), ep)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if binding.Port != "COM4" || binding.Serial != "KNOB1" {
		t.Errorf("bound %+v, want COM4/KNOB1", binding)
	}
	if !bus.receivedBindAck(t, "COM4") {
		t.Error("winning candidate never received a BindAck")
	}
	if cached, ok := cache.Load(); !ok || cached.Serial != "KNOB1" {
		t.Errorf("binding not persisted: %+v ok=%v", cached, ok)
	}
}

func TestScanIgnoresNonMatchingHardware(t *testing.T) {
	cfg := testConfig(t)
	lister := &fakeLister{ports: []PortInfo{
		{Name: "COM1", VID: "0403", PID: "6001"}, // some FTDI adapter
		{Name: "COM2", VID: "2E8A", PID: "0005"},
	}}
	bus := newFakeBus(map[string]string{"COM2": "KNOB1"})
	d, _ := newTestDiscoverer(cfg, lister, bus)

	ep := endpoint.New(nil)
	defer ep.Close()
	if _, err := d.Discover(context.Background(), ep); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	for _, name := range bus.opened {
		if name == "COM1" {
			t.Error("non-matching port was opened during scan")
		}
	}
}

func TestScanExcludesSilentCandidateAfterTimeout(t *testing.T) {
	cfg := testConfig(t)
	lister := &fakeLister{ports: []PortInfo{
		{Name: "COM3", VID: "2E8A", PID: "0005"},
	}}
	bus := newFakeBus(nil) // opens, never broadcasts
	d, _ := newTestDiscoverer(cfg, lister, bus)

	start := time.Now()
	_, err := d.Discover(context.Background(), endpoint.New(nil))
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("listen window not bounded: took %v", elapsed)
	}
}

func TestCachedBindingFastPathSkipsScan(t *testing.T) {
	cfg := testConfig(t)
	lister := &fakeLister{}
	bus := newFakeBus(map[string]string{"COM9": "KNOB1"})
	d, cache := newTestDiscoverer(cfg, lister, bus)
	cache.Store(Binding{Port: "COM9", Serial: "KNOB1", BoundAt: time.Now()})

	ep := endpoint.New(nil)
	defer ep.Close()
	binding, err := d.Discover(context.Background(), ep)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if binding.Port != "COM9" || binding.Serial != "KNOB1" {
		t.Errorf("bound %+v via fast path", binding)
	}
	if lister.calls != 0 {
		t.Error("fast path ran a scan anyway")
	}
	if !bus.receivedBindAck(t, "COM9") {
		t.Error("device on cached port never received a BindAck")
	}
}

func TestCachedSerialMismatchFallsBackToScan(t *testing.T) {
	cfg := testConfig(t)
	// The OS reassigned COM9 to a different board since last run.
	lister := &fakeLister{ports: []PortInfo{
		{Name: "COM9", VID: "2E8A", PID: "0005"},
	}}
	bus := newFakeBus(map[string]string{"COM9": "NEWSERIAL"})
	d, cache := newTestDiscoverer(cfg, lister, bus)
	cache.Store(Binding{Port: "COM9", Serial: "OLDSERIAL", BoundAt: time.Now()})

	ep := endpoint.New(nil)
	defer ep.Close()
	binding, err := d.Discover(context.Background(), ep)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if binding.Serial != "NEWSERIAL" {
		t.Errorf("bound serial %q, want the live device's", binding.Serial)
	}
	if lister.calls == 0 {
		t.Error("mismatch did not fall back to scanning")
	}
	if cached, ok := cache.Load(); !ok || cached.Serial != "NEWSERIAL" {
		t.Errorf("cache not rewritten after fallback: %+v ok=%v", cached, ok)
	}
}

func TestCachedPortUnopenableFallsBackToScan(t *testing.T) {
	cfg := testConfig(t)
	lister := &fakeLister{ports: []PortInfo{
		{Name: "COM4", VID: "2E8A", PID: "0005"},
	}}
	bus := newFakeBus(map[string]string{"COM4": "KNOB1"})
	bus.broken["COM9"] = true
	d, cache := newTestDiscoverer(cfg, lister, bus)
	cache.Store(Binding{Port: "COM9", Serial: "KNOB1", BoundAt: time.Now()})

	ep := endpoint.New(nil)
	defer ep.Close()
	binding, err := d.Discover(context.Background(), ep)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if binding.Port != "COM4" {
		t.Errorf("bound port %q, want COM4", binding.Port)
	}
}

func TestDiscoverNoCandidates(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDiscoverer(cfg, &fakeLister{}, newFakeBus(nil))

	if _, err := d.Discover(context.Background(), endpoint.New(nil)); !errors.Is(err, ErrNoDevice) {
		t.Errorf("err = %v, want ErrNoDevice", err)
	}
}

func TestDiscoverRebindsCallerEndpoint(t *testing.T) {
	cfg := testConfig(t)
	lister := &fakeLister{ports: []PortInfo{
		{Name: "COM4", VID: "2E8A", PID: "0005"},
	}}
	bus := newFakeBus(map[string]string{"COM4": "KNOB1"})
	d, cache := newTestDiscoverer(cfg, lister, bus)

	ep := endpoint.New(nil)
	defer ep.Close()
	var volumes int
	ep.Register(proto.MsgVolume, func(proto.Message) { volumes++ })

	if _, err := d.Discover(context.Background(), ep); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	// The pre-registered handler fires on the discovered link: the
	// endpoint was rebound, not replaced.
	bus.devEnds["COM4"].Write(proto.Encode(&proto.Volume{Level: 0.5}))
	if err := ep.Poll(); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if volumes != 1 {
		t.Fatalf("handler fired %d times, want 1", volumes)
	}

	// After a link failure the same endpoint goes back through discovery
	// and keeps its registrations.
	ep.Close()
	cache.Clear()
	if _, err := d.Discover(context.Background(), ep); err != nil {
		t.Fatalf("rediscover: %v", err)
	}
	bus.devEnds["COM4"].Write(proto.Encode(&proto.Volume{Level: 0.25}))
	if err := ep.Poll(); err != nil {
		t.Fatalf("poll after rebind: %v", err)
	}
	if volumes != 2 {
		t.Errorf("handler fired %d times after rebind, want 2", volumes)
	}
}

func TestDiscoverHonoursCancellation(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenWindowMs = 60_000 // would block for a minute without ctx
	lister := &fakeLister{ports: []PortInfo{
		{Name: "COM3", VID: "2E8A", PID: "0005"},
	}}
	d, _ := newTestDiscoverer(cfg, lister, newFakeBus(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.Discover(ctx, endpoint.New(nil))
	if err == nil {
		t.Fatal("Discover succeeded with no device")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not stop the listen loop")
	}
}
