package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingxueren/clash-master/pkg/wire"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopLogger{}, OrNoop(nil))

	rec := &recordingLogger{}
	assert.Same(t, rec, OrNoop(rec))
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, NoopLogger{}, NewMultiLogger(b))
	assert.Equal(t, 2, m.Len())

	m.Log(Event{Category: CategoryCache})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	t.Run("Logger", func(t *testing.T) {
		assert.Nil(t, NewMultiLogger(nil).Logger())
		assert.Same(t, a, NewMultiLogger(nil, a).Logger())
		assert.Same(t, m, m.Logger())
	})
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	a.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "c1",
		Generation:   4,
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryFrame,
		Frame:        &FrameEvent{Type: wire.FrameStats, Size: 120},
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "stats", rec["frame"])
	assert.Equal(t, "c1", rec["conn_id"])
	assert.EqualValues(t, 4, rec["generation"])

	buf.Reset()
	a.Log(Event{Category: CategoryError, Error: &ErrorEventData{Layer: LayerWire, Message: "boom"}})
	assert.True(t, strings.Contains(buf.String(), `"level":"WARN"`))
	assert.True(t, strings.Contains(buf.String(), `"error_msg":"boom"`))
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := NewZerologAdapter(zerolog.New(&buf).Level(zerolog.DebugLevel))

	a.Log(Event{
		Timestamp: time.Now(),
		Layer:     LayerSync,
		Category:  CategoryPull,
		Backend:   2,
		Pull:      &PullEvent{Key: "rules:2:last=1h0m0s", Outcome: "error"},
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "debug", rec["level"])
	assert.Equal(t, "PULL", rec["category"])
	assert.Equal(t, "rules:2:last=1h0m0s", rec["key"])
	assert.EqualValues(t, 2, rec["backend"])
	assert.Equal(t, "sync", rec["message"])
}
