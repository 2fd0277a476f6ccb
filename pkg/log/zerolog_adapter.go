package log

import (
	"github.com/rs/zerolog"
)

// ZerologAdapter writes events as JSON lines through a zerolog.Logger.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a ZerologAdapter around logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Log writes the event at debug level, or warn for error events.
func (a *ZerologAdapter) Log(event Event) {
	e := a.logger.Debug()
	if event.Error != nil {
		e = a.logger.Warn()
	}

	e = e.Time("at", event.Timestamp).
		Str("direction", event.Direction.String()).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String())
	if event.ConnectionID != "" {
		e = e.Str("conn_id", event.ConnectionID).Uint64("generation", event.Generation)
	}
	if event.Backend != 0 {
		e = e.Int64("backend", event.Backend)
	}

	switch {
	case event.Frame != nil:
		e = e.Stringer("frame", event.Frame.Type).Int("frame_size", event.Frame.Size)
	case event.StateChange != nil:
		e = e.Stringer("entity", event.StateChange.Entity).
			Str("old_state", event.StateChange.OldState).
			Str("new_state", event.StateChange.NewState).
			Str("reason", event.StateChange.Reason)
	case event.Probe != nil:
		e = e.Uint32("seq", event.Probe.Seq).
			Dur("latency", event.Probe.Latency).
			Int("missed", event.Probe.Missed)
	case event.Pull != nil:
		e = e.Str("key", event.Pull.Key).
			Str("outcome", event.Pull.Outcome).
			Dur("duration", event.Pull.Duration)
	case event.Cache != nil:
		e = e.Str("key", event.Cache.Key).
			Str("provenance", event.Cache.Provenance).
			Bool("accepted", event.Cache.Accepted)
	case event.Error != nil:
		e = e.Stringer("error_layer", event.Error.Layer).
			Str("error_context", event.Error.Context)
		if event.Error.Code != nil {
			e = e.Int("error_code", *event.Error.Code)
		}
		e = e.Str("error_msg", event.Error.Message)
	}

	e.Msg("sync")
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZerologAdapter)(nil)
