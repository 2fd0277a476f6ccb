package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tingxueren/clash-master/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Pulls             map[string]int
	CacheRejected     int
	ProbesMissed      int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single push connection.
type ConnectionStats struct {
	Generation uint64
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Frames     int
	Latency    time.Duration
	Probes     int
}

// AverageLatency returns the mean acknowledged probe latency.
func (c *ConnectionStats) AverageLatency() time.Duration {
	if c.Probes == 0 {
		return 0
	}
	return c.Latency / time.Duration(c.Probes)
}

// Collect reads the whole log file into a Stats.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Pulls:             make(map[string]int),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	switch {
	case event.Pull != nil:
		s.Pulls[event.Pull.Outcome]++
	case event.Cache != nil:
		if !event.Cache.Accepted {
			s.CacheRejected++
		}
	case event.Probe != nil && event.Probe.Missed > 0:
		s.ProbesMissed++
	case event.Error != nil:
		s.Errors++
	}

	if event.ConnectionID == "" {
		return
	}
	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{
			Generation: event.Generation,
			FirstSeen:  event.Timestamp,
			LastSeen:   event.Timestamp,
		}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if event.Frame != nil {
		conn.Frames++
	}
	if event.Probe != nil && event.Probe.Missed == 0 {
		conn.Probes++
		conn.Latency += event.Probe.Latency
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Sync Event Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerSync} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{
		log.CategoryFrame, log.CategoryProbe, log.CategoryState,
		log.CategoryPull, log.CategoryCache, log.CategoryError,
	} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Pulls) > 0 {
		outcomes := make([]string, 0, len(stats.Pulls))
		for o := range stats.Pulls {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		fmt.Fprintln(w, "Pulls:")
		for _, o := range outcomes {
			fmt.Fprintf(w, "  %-12s %d\n", o+":", stats.Pulls[o])
		}
		fmt.Fprintln(w)
	}
	if stats.CacheRejected > 0 {
		fmt.Fprintf(w, "Rejected cache writes: %d\n", stats.CacheRejected)
	}
	if stats.ProbesMissed > 0 {
		fmt.Fprintf(w, "Missed probes: %d\n", stats.ProbesMissed)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] #%d %d events, %d frames, duration %s\n",
				shortenConnID(c.id), c.stats.Generation, c.stats.Events, c.stats.Frames, duration)
			if c.stats.Probes > 0 {
				fmt.Fprintf(w, "           Probes: %d (avg %s)\n",
					c.stats.Probes, formatDuration(c.stats.AverageLatency()))
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
