// Package log provides structured event logging for the sync client.
//
// This package defines the Logger interface and Event types for capturing
// push frames, probe results, state changes, pull outcomes and cache write
// decisions. It is separate from operational logging (slog): the event log
// is a complete machine-readable trace for debugging push/pull arbitration.
//
// # Basic Usage
//
//	// Console, through slog or zerolog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//	cfg.EventLogger = log.NewZerologAdapter(zerolog.New(os.Stderr))
//
//	// Binary file, readable with statsync-log
//	cfg.EventLogger, _ = log.NewFileLogger("/var/log/statsync/events.slog")
//
//	// Both
//	cfg.EventLogger = log.NewMultiLogger(console, file)
//
// # File Format
//
// An event file starts with a Header record naming the format and its
// version, followed by a concatenated stream of CBOR maps with integer keys.
// FileLogger appends to an existing file only after checking its header.
// Reader and Filter stream events back.
package log
