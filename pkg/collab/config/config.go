// Package config loads collaboration engine settings from YAML or JSON
// files. Values are read through a loosely-typed Config wrapper so partial
// files work; anything missing falls back to a default.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Settings holds everything a process needs to assemble an engine.
type Settings struct {
	// StoreDriver selects the persistence backend: "memory" or "sqlite".
	StoreDriver string

	// StorePath is the SQLite database path. Ignored by the memory driver.
	StorePath string

	// HubBuffer is the per-connection outbound event buffer capacity.
	HubBuffer int

	// HeartbeatInterval is the expected cadence of client heartbeats.
	// Zero disables the liveness reaper.
	HeartbeatInterval time.Duration

	// HeartbeatMisses is how many consecutive missed heartbeats disconnect
	// a participant.
	HeartbeatMisses int

	// LockTimeout caps how long a message waits behind a session lock.
	// Zero waits indefinitely.
	LockTimeout time.Duration
}

// DefaultSettings returns the settings used when no file is provided.
func DefaultSettings() Settings {
	return Settings{
		StoreDriver:       "memory",
		HubBuffer:         64,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatMisses:   3,
	}
}

// Validate reports the first problem with the settings, or nil.
func (s Settings) Validate() error {
	switch s.StoreDriver {
	case "memory":
	case "sqlite":
		if s.StorePath == "" {
			return errors.New("sqlite driver requires store_path")
		}
	default:
		return fmt.Errorf("unknown store driver %q", s.StoreDriver)
	}
	if s.HubBuffer <= 0 {
		return fmt.Errorf("hub_buffer must be positive, got %d", s.HubBuffer)
	}
	if s.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat_interval must not be negative, got %s", s.HeartbeatInterval)
	}
	if s.HeartbeatInterval > 0 && s.HeartbeatMisses <= 0 {
		return fmt.Errorf("heartbeat_misses must be positive, got %d", s.HeartbeatMisses)
	}
	if s.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout must not be negative, got %s", s.LockTimeout)
	}
	return nil
}

// SettingsFrom extracts Settings from a parsed Config, applying defaults
// for anything the file omits.
func SettingsFrom(c Config) Settings {
	d := DefaultSettings()
	return Settings{
		StoreDriver:       c.String("store_driver", d.StoreDriver),
		StorePath:         c.String("store_path", d.StorePath),
		HubBuffer:         c.Int("hub_buffer", d.HubBuffer),
		HeartbeatInterval: c.Duration("heartbeat_interval", d.HeartbeatInterval),
		HeartbeatMisses:   c.Int("heartbeat_misses", d.HeartbeatMisses),
		LockTimeout:       c.Duration("lock_timeout", d.LockTimeout),
	}
}

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int: interpreted as seconds
//   - int64: interpreted as seconds
//   - float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
//
// Accepts:
//   - int: used directly
//   - int64: converted to int
//   - float64: converted to int (only if no fractional part)
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}
