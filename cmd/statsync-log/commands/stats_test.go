package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tingxueren/clash-master/pkg/log"
)

func TestCollect(t *testing.T) {
	events := append(sampleEvents(),
		log.Event{
			Timestamp:    testTime.Add(4 * time.Second),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Generation:   1,
			Category:     log.CategoryProbe,
			Probe:        &log.ProbeEvent{Seq: 2, Latency: 8 * time.Millisecond},
		},
		log.Event{
			Timestamp: testTime.Add(5 * time.Second),
			Category:  log.CategoryProbe,
			Probe:     &log.ProbeEvent{Seq: 3, Missed: 1},
		},
		log.Event{
			Timestamp: testTime.Add(6 * time.Second),
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Message: "boom"},
		},
	)
	path := createTestLogFile(t, events)

	stats, err := Collect(path)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if stats.TotalEvents != 7 {
		t.Errorf("TotalEvents = %d, want 7", stats.TotalEvents)
	}
	if stats.EventsByLayer[log.LayerSync] != 2 {
		t.Errorf("sync events = %d, want 2", stats.EventsByLayer[log.LayerSync])
	}
	if stats.EventsByCategory[log.CategoryProbe] != 3 {
		t.Errorf("probe events = %d, want 3", stats.EventsByCategory[log.CategoryProbe])
	}
	if stats.Pulls["ok"] != 1 {
		t.Errorf("ok pulls = %d, want 1", stats.Pulls["ok"])
	}
	if stats.CacheRejected != 1 {
		t.Errorf("CacheRejected = %d, want 1", stats.CacheRejected)
	}
	if stats.ProbesMissed != 1 {
		t.Errorf("ProbesMissed = %d, want 1", stats.ProbesMissed)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if !stats.TimeRange.Start.Equal(testTime) || !stats.TimeRange.End.Equal(testTime.Add(6*time.Second)) {
		t.Errorf("unexpected time range %v - %v", stats.TimeRange.Start, stats.TimeRange.End)
	}

	if len(stats.Connections) != 1 {
		t.Fatalf("Connections = %d, want 1", len(stats.Connections))
	}
	conn := stats.Connections["abc12345-6789-0123-4567-890abcdef012"]
	if conn.Events != 3 || conn.Frames != 1 || conn.Probes != 2 {
		t.Errorf("unexpected connection stats %+v", conn)
	}
	if conn.AverageLatency() != 10*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 10ms", conn.AverageLatency())
	}
}

func TestRunStatsOutput(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 4",
		"WIRE:",
		"SYNC:",
		"PULL:",
		"CACHE:",
		"ok:",
		"Rejected cache writes: 1",
		"Connections: 1",
		"[abc12345] #1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestRunStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("expected zero events:\n%s", buf.String())
	}
}
