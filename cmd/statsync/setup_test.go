package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingxueren/clash-master/pkg/config"
	synclog "github.com/tingxueren/clash-master/pkg/log"
)

func TestLogSinkRedirect(t *testing.T) {
	var stderr, console bytes.Buffer
	out := newLogSink(&stderr)
	logger := newLogger(config.LogConfig{Level: "info", Format: "text"}, out)

	logger.Info("before prompt")
	out.redirect(&console)
	logger.Info("under prompt")
	out.redirect(&stderr)
	logger.Info("after close")

	assert.Contains(t, stderr.String(), "before prompt")
	assert.Contains(t, stderr.String(), "after close")
	assert.NotContains(t, stderr.String(), "under prompt")
	assert.Contains(t, console.String(), "under prompt")
	assert.NotContains(t, console.String(), "before prompt")
}

func TestEventLoggerFollowsSink(t *testing.T) {
	var stderr, console bytes.Buffer
	out := newLogSink(&stderr)
	events, closeEvents, err := newEventLogger(config.LogConfig{Level: "debug", Format: "text"}, out)
	require.NoError(t, err)
	defer closeEvents()
	require.NotNil(t, events)

	out.redirect(&console)
	events.Log(synclog.Event{
		Layer:    synclog.LayerSync,
		Category: synclog.CategoryPull,
		Pull:     &synclog.PullEvent{Key: "summary:1:last=15m0s", Outcome: "ok"},
	})
	assert.Empty(t, stderr.String())
	assert.Contains(t, console.String(), `"component":"protocol"`)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: 3\nwindow: 1h\nlog:\n  level: warn\n"), 0o600))

	fs := flag.NewFlagSet("statsync", flag.ContinueOnError)
	var f Flags
	f.register(fs)
	require.NoError(t, fs.Parse([]string{"-config", path, "-window", "30m", "-state-db", "state.db"}))

	cfg, err := loadConfig(&f, fs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.Backend, "file value kept without a flag")
	assert.Equal(t, "30m", cfg.Window)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "state.db", cfg.Persistence.Path)
}

func TestLoadConfigRejectsInvalidFlag(t *testing.T) {
	fs := flag.NewFlagSet("statsync", flag.ContinueOnError)
	var f Flags
	f.register(fs)
	require.NoError(t, fs.Parse([]string{"-backend", "0"}))

	_, err := loadConfig(&f, fs)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
