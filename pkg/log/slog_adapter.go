package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger.
// Useful for development when you want to see sync events in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event at Debug level, or Warn for error events.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ConnectionID != "" {
		attrs = append(attrs,
			slog.String("conn_id", event.ConnectionID),
			slog.Uint64("generation", event.Generation),
		)
	}
	if event.Backend != 0 {
		attrs = append(attrs, slog.Int64("backend", event.Backend))
	}

	level := slog.LevelDebug
	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.String("frame", event.Frame.Type.String()),
			slog.Int("frame_size", event.Frame.Size),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Probe != nil:
		attrs = append(attrs, slog.Uint64("seq", uint64(event.Probe.Seq)))
		if event.Probe.Missed > 0 {
			attrs = append(attrs, slog.Int("missed", event.Probe.Missed))
		} else {
			attrs = append(attrs, slog.Duration("latency", event.Probe.Latency))
		}
	case event.Pull != nil:
		attrs = append(attrs,
			slog.String("key", event.Pull.Key),
			slog.String("outcome", event.Pull.Outcome),
			slog.Duration("duration", event.Pull.Duration),
		)
	case event.Cache != nil:
		attrs = append(attrs,
			slog.String("key", event.Cache.Key),
			slog.String("provenance", event.Cache.Provenance),
			slog.Bool("accepted", event.Cache.Accepted),
		)
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "sync", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
