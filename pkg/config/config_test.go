package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingxueren/clash-master/pkg/view"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Connection.Backoff.Initial)
	assert.Equal(t, 30*time.Second, cfg.Connection.Backoff.Max)
	assert.Equal(t, 10*time.Second, cfg.Connection.ProbeInterval)
	assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
	assert.True(t, cfg.Polling.Fallback)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statsync.yaml")
	data := `
origin: https://stats.example.com
backend: 3
window: 1h
connection:
  backoff:
    initial: 1s
    max: 10s
  probe_interval: 5s
  disable_when_idle: true
polling:
  interval: 2s
  push_interval: 30s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://stats.example.com", cfg.Origin)
	assert.Equal(t, int64(3), cfg.Backend)
	assert.Equal(t, time.Second, cfg.Connection.Backoff.Initial)
	assert.Equal(t, 10*time.Second, cfg.Connection.Backoff.Max)
	assert.Equal(t, 2.0, cfg.Connection.Backoff.Multiplier, "unset keys keep defaults")
	assert.True(t, cfg.Connection.DisableWhenIdle)
	assert.Equal(t, 2*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 30*time.Second, cfg.Polling.PushInterval)
	assert.True(t, cfg.Polling.Fallback)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())

	d, err := cfg.InitialView()
	require.NoError(t, err)
	assert.Equal(t, view.Last(time.Hour), d.Window)
	assert.Equal(t, view.KindSummary, d.Kind)
}

func TestParse(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		cfg := Default()
		assert.NoError(t, Parse(nil, &cfg))
		assert.Equal(t, Default(), cfg)
	})

	t.Run("unknown key", func(t *testing.T) {
		cfg := Default()
		err := Parse([]byte("bogus: 1\n"), &cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Backend = 0 }},
		{"window", func(c *Config) { c.Window = "yesterday" }},
		{"backoff order", func(c *Config) { c.Connection.Backoff.Max = time.Second }},
		{"multiplier", func(c *Config) { c.Connection.Backoff.Multiplier = 0.5 }},
		{"jitter", func(c *Config) { c.Connection.Backoff.Jitter = 2 }},
		{"probe", func(c *Config) { c.Connection.ProbeInterval = 0 }},
		{"push interval", func(c *Config) { c.Polling.PushInterval = time.Second }},
		{"granularity", func(c *Config) { c.Polling.Granularity = time.Minute }},
		{"freshness", func(c *Config) { c.Freshness = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestResolveEndpoints(t *testing.T) {
	env := func(vals map[string]string) LookupFunc {
		return func(k string) (string, bool) {
			v, ok := vals[k]
			return v, ok
		}
	}

	t.Run("same origin", func(t *testing.T) {
		cfg := Default()
		cfg.Origin = "https://stats.example.com/dash/"
		ep, err := cfg.ResolveEndpoints(nil)
		require.NoError(t, err)
		assert.Equal(t, "wss://stats.example.com/dash/ws", ep.PushURL)
		assert.Equal(t, "https://stats.example.com/dash/api", ep.APIURL)
		assert.Equal(t, "origin", ep.PushSource)
		assert.Equal(t, "origin", ep.APISource)
	})

	t.Run("plain http origin", func(t *testing.T) {
		cfg := Default()
		cfg.Origin = "http://localhost:3000"
		ep, err := cfg.ResolveEndpoints(nil)
		require.NoError(t, err)
		assert.Equal(t, "ws://localhost:3000/ws", ep.PushURL)
		assert.Equal(t, "http://localhost:3000/api", ep.APIURL)
	})

	t.Run("env beats origin", func(t *testing.T) {
		cfg := Default()
		cfg.Origin = "http://localhost:3000"
		ep, err := cfg.ResolveEndpoints(env(map[string]string{
			EnvPushURL: "ws://collector:3002/ws",
		}))
		require.NoError(t, err)
		assert.Equal(t, "ws://collector:3002/ws", ep.PushURL)
		assert.Equal(t, "env", ep.PushSource)
		assert.Equal(t, "origin", ep.APISource)
	})

	t.Run("override beats env", func(t *testing.T) {
		cfg := Default()
		cfg.PushURL = "wss://override/ws"
		cfg.APIURL = "https://override/api"
		ep, err := cfg.ResolveEndpoints(env(map[string]string{
			EnvPushURL: "ws://collector:3002/ws",
			EnvAPIURL:  "http://collector:3001/api",
		}))
		require.NoError(t, err)
		assert.Equal(t, "wss://override/ws", ep.PushURL)
		assert.Equal(t, "override", ep.PushSource)
		assert.Equal(t, "https://override/api", ep.APIURL)
	})

	t.Run("nothing to resolve", func(t *testing.T) {
		_, err := Default().ResolveEndpoints(nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		cfg := Default()
		cfg.PushURL = "http://collector/ws"
		cfg.Origin = "http://localhost"
		_, err := cfg.ResolveEndpoints(nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad origin scheme", func(t *testing.T) {
		cfg := Default()
		cfg.Origin = "ftp://host"
		_, err := cfg.ResolveEndpoints(nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
