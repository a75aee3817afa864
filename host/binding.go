package host

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Binding records which transport candidate turned out to be the device,
// together with the serial number that proved it. It is persisted after
// every successful fresh discovery and read back at the next startup to
// attempt a direct reconnect. Ports get reassigned by the OS between runs,
// so a cached binding is never trusted until the live device's serial
// number has been re-verified.
type Binding struct {
	Port    string    `toml:"port"`
	Serial  string    `toml:"serial"`
	BoundAt time.Time `toml:"bound_at"`
}

// BindingCache stores the last known binding in a small TOML file.
type BindingCache struct {
	path string
}

func NewBindingCache(path string) *BindingCache {
	return &BindingCache{path: path}
}

// Load reads the cached binding. The second return is false when no usable
// cache exists; a corrupt or incomplete file counts as absent rather than
// an error, since discovery can always fall back to a full scan.
func (c *BindingCache) Load() (Binding, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Binding{}, false
	}
	var b Binding
	if err := toml.Unmarshal(data, &b); err != nil {
		return Binding{}, false
	}
	if b.Port == "" || b.Serial == "" {
		return Binding{}, false
	}
	return b, true
}

// Store overwrites the cache with the given binding.
func (c *BindingCache) Store(b Binding) error {
	data, err := toml.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode binding: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("write binding cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. A missing file is not an error.
func (c *BindingCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear binding cache: %w", err)
	}
	return nil
}
