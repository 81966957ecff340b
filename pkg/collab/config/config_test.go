package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsFrom(t *testing.T) {
	t.Run("empty config yields defaults", func(t *testing.T) {
		s := SettingsFrom(New(nil))
		assert.Equal(t, DefaultSettings(), s)
		assert.NoError(t, s.Validate())
	})

	t.Run("partial file keeps defaults for the rest", func(t *testing.T) {
		c, err := FromYAML([]byte("store_driver: sqlite\nstore_path: ./collab.db\n"))
		require.NoError(t, err)

		s := SettingsFrom(c)
		assert.Equal(t, "sqlite", s.StoreDriver)
		assert.Equal(t, "./collab.db", s.StorePath)
		assert.Equal(t, DefaultSettings().HubBuffer, s.HubBuffer)
		assert.Equal(t, DefaultSettings().HeartbeatInterval, s.HeartbeatInterval)
	})

	t.Run("durations accept strings and seconds", func(t *testing.T) {
		c, err := FromYAML([]byte("heartbeat_interval: 15s\nlock_timeout: 2\n"))
		require.NoError(t, err)

		s := SettingsFrom(c)
		assert.Equal(t, 15*time.Second, s.HeartbeatInterval)
		assert.Equal(t, 2*time.Second, s.LockTimeout)
	})
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults are valid", func(*Settings) {}, ""},
		{"unknown driver", func(s *Settings) { s.StoreDriver = "postgres" }, "unknown store driver"},
		{"sqlite without path", func(s *Settings) { s.StoreDriver = "sqlite" }, "store_path"},
		{"zero buffer", func(s *Settings) { s.HubBuffer = 0 }, "hub_buffer"},
		{"negative heartbeat", func(s *Settings) { s.HeartbeatInterval = -time.Second }, "heartbeat_interval"},
		{"heartbeat without misses", func(s *Settings) { s.HeartbeatMisses = 0 }, "heartbeat_misses"},
		{"negative lock timeout", func(s *Settings) { s.LockTimeout = -time.Second }, "lock_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFromFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "collab.yaml")
		require.NoError(t, os.WriteFile(path, []byte("hub_buffer: 128\n"), 0o644))

		c, err := FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 128, c.Int("hub_buffer", 0))
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "collab.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"store_driver":"memory"}`), 0o644))

		c, err := FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "memory", c.String("store_driver", ""))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "collab.toml")
		require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

		_, err := FromFile(path)
		assert.ErrorContains(t, err, "unsupported")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestSettingsFromFile(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "collab.yaml")
		require.NoError(t, os.WriteFile(path,
			[]byte("store_driver: sqlite\nstore_path: ./x.db\nlock_timeout: 30s\n"), 0o644))

		s, err := SettingsFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, s.LockTimeout)
	})

	t.Run("invalid settings rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "collab.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store_driver: sqlite\n"), 0o644))

		_, err := SettingsFromFile(path)
		assert.ErrorContains(t, err, "store_path")
	})
}

func TestConfigAccessors(t *testing.T) {
	c := New(map[string]any{
		"name":    "collab",
		"count":   int64(7),
		"ratio":   2.5,
		"enabled": true,
	})

	assert.Equal(t, "collab", c.String("name", "x"))
	assert.Equal(t, "x", c.String("missing", "x"))
	assert.Equal(t, 7, c.Int("count", 0))
	assert.Equal(t, 0, c.Int("ratio", 0), "fractional floats do not convert")
	assert.True(t, c.Bool("enabled", false))
	assert.True(t, c.Has("name"))
	assert.False(t, c.Has("missing"))
}
