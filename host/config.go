// Package host implements the host side of the link: device discovery and
// handshake, the persisted binding cache, and the controller that bridges
// decoded messages to the system audio collaborators.
package host

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the host daemon configuration, loaded from TOML. Zero values
// fall back to defaults so a missing or partial file still yields a
// runnable daemon.
type Config struct {
	// USB vendor/product pair used to shortlist candidate ports. This pair
	// is shared by every board built on the same hardware platform, so it
	// narrows the scan but never identifies the device by itself.
	VendorID  string `toml:"vendor_id"`
	ProductID string `toml:"product_id"`

	Baud      int    `toml:"baud"`
	CachePath string `toml:"cache_path"`

	// Per-candidate window to wait for an identity broadcast, and the
	// cadence of the host update loop, both in milliseconds.
	ListenWindowMs int `toml:"listen_window_ms"`
	PollIntervalMs int `toml:"poll_interval_ms"`

	// Delay between discovery attempts when no device is found.
	ReconnectDelayMs int `toml:"reconnect_delay_ms"`

	// Address for the status dashboard; empty disables it.
	DashboardAddr string `toml:"dashboard_addr"`
}

// DefaultConfig returns the configuration used when no file is present.
// The VID/PID default to the Raspberry Pi Pico's USB CDC identifiers.
func DefaultConfig() Config {
	return Config{
		VendorID:         "2E8A",
		ProductID:        "0005",
		Baud:             115200,
		CachePath:        "volknob-binding.toml",
		ListenWindowMs:   3000,
		PollIntervalMs:   20,
		ReconnectDelayMs: 5000,
		DashboardAddr:    "",
	}
}

// LoadConfig reads a TOML config file, filling unset fields from defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.VendorID == "" || c.ProductID == "" {
		return fmt.Errorf("vendor_id and product_id must be set")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.ListenWindowMs <= 0 {
		return fmt.Errorf("listen_window_ms must be positive, got %d", c.ListenWindowMs)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	return nil
}

func (c Config) ListenWindow() time.Duration {
	return time.Duration(c.ListenWindowMs) * time.Millisecond
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}
