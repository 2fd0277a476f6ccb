package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ConnectionState("connected")
		c.Generation(3)
		c.Reconnect()
		c.ProbeLatency(time.Millisecond)
		c.ProbeMissed()
		c.Frame("in", "stats")
		c.ProtocolFailure("malformed")
		c.CacheWrite("push", true)
		c.Pull("summary", "ok", time.Millisecond)
		c.MountedViews(2)
	})
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	c.ConnectionState("connecting")
	c.ConnectionState("connected")
	c.Reconnect()
	c.Reconnect()
	c.CacheWrite("pull", false)
	c.Frame("in", "stats")
	c.Pull("countries", "error", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connectionState.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheWrites.WithLabelValues("pull", "rejected")))

	expected := `
# HELP statsync_pulls_total Pull requests by view kind and result.
# TYPE statsync_pulls_total counter
statsync_pulls_total{kind="countries",result="error"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "statsync_pulls_total"))
}
