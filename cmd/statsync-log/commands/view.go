// Package commands implements the statsync-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tingxueren/clash-master/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	ConnID    string
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	KeyPrefix string
}

// logFilter converts the view criteria to a reader filter.
func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		ConnectionID: f.ConnID,
		Direction:    f.Direction,
		Layer:        f.Layer,
		Category:     f.Category,
		KeyPrefix:    f.KeyPrefix,
	}
}

// eventLabel names the payload an event carries.
func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame(" + event.Frame.Type.String() + ")"
	case event.StateChange != nil:
		return "State"
	case event.Probe != nil:
		return "Probe"
	case event.Pull != nil:
		return "Pull"
	case event.Cache != nil:
		return "Cache"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id gen] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	conn := "-"
	if event.ConnectionID != "" {
		conn = fmt.Sprintf("%s #%d", shortenConnID(event.ConnectionID), event.Generation)
	}
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		ts, conn, event.Direction.String(), event.Layer.String(), eventLabel(event))
	if event.Backend != 0 {
		fmt.Fprintf(w, "  Backend: %d\n", event.Backend)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Probe != nil:
		formatProbeDetails(w, event.Probe)
	case event.Pull != nil:
		fmt.Fprintf(w, "  Key: %s\n", event.Pull.Key)
		fmt.Fprintf(w, "  Outcome: %s", event.Pull.Outcome)
		if event.Pull.Duration > 0 {
			fmt.Fprintf(w, " in %s", formatDuration(event.Pull.Duration))
		}
		fmt.Fprintln(w)
	case event.Cache != nil:
		verdict := "accepted"
		if !event.Cache.Accepted {
			verdict = "rejected"
		}
		fmt.Fprintf(w, "  Key: %s\n", event.Cache.Key)
		fmt.Fprintf(w, "  Write: %s %s\n", event.Cache.Provenance, verdict)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatProbeDetails(w io.Writer, p *log.ProbeEvent) {
	fmt.Fprintf(w, "  Seq: %d\n", p.Seq)
	if p.Missed > 0 {
		fmt.Fprintf(w, "  Missed: %d\n", p.Missed)
		return
	}
	fmt.Fprintf(w, "  Latency: %s\n", formatDuration(p.Latency))
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "sync":
		return log.LayerSync, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or sync)", s)
	}
}

// ParseDirectionFlag parses a direction name (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	c, ok := log.ParseCategory(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (must be frame, probe, state, pull, cache, or error)", s)
	}
	return c, nil
}

// RunView writes every matching event of the log file to output.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
