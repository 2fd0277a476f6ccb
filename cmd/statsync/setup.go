package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tingxueren/clash-master/pkg/config"
	synclog "github.com/tingxueren/clash-master/pkg/log"
	"github.com/tingxueren/clash-master/pkg/metrics"
	"github.com/tingxueren/clash-master/pkg/persistence"
	"github.com/tingxueren/clash-master/pkg/query"
	"github.com/tingxueren/clash-master/pkg/service"
	"github.com/tingxueren/clash-master/pkg/transport"
)

// Flags holds the command line. Only flags given explicitly override the
// configuration file.
type Flags struct {
	ConfigFile  string
	Origin      string
	PushURL     string
	APIURL      string
	Backend     int64
	Window      string
	LogLevel    string
	LogFormat   string
	ProtocolLog string
	MetricsAddr string
	StateDB     string
	Interactive bool
}

// register binds the flags to fs.
func (f *Flags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.ConfigFile, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&f.Origin, "origin", "", "Dashboard origin the endpoints are derived from")
	fs.StringVar(&f.PushURL, "push-url", "", "Push endpoint (ws:// or wss://)")
	fs.StringVar(&f.APIURL, "api-url", "", "REST API root (http:// or https://)")
	fs.Int64Var(&f.Backend, "backend", config.DefaultBackend, "Backend ID of the initial view")
	fs.StringVar(&f.Window, "window", config.DefaultWindow, "Time window: a duration (15m) or start..end")
	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log format: text, json, console")
	fs.StringVar(&f.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&f.StateDB, "state-db", "", "SQLite database for the cache snapshot")
	fs.BoolVar(&f.Interactive, "interactive", false, "Enable interactive command mode")
}

// loadConfig reads the configuration file and applies the flags set in fs.
func loadConfig(f *Flags, fs *flag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(f.ConfigFile); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "origin":
			cfg.Origin = f.Origin
		case "push-url":
			cfg.PushURL = f.PushURL
		case "api-url":
			cfg.APIURL = f.APIURL
		case "backend":
			cfg.Backend = f.Backend
		case "window":
			cfg.Window = f.Window
		case "log-level":
			cfg.Log.Level = f.LogLevel
		case "log-format":
			cfg.Log.Format = f.LogFormat
		case "protocol-log":
			cfg.Log.Protocol = f.ProtocolLog
		case "metrics-addr":
			cfg.MetricsAddr = f.MetricsAddr
		case "state-db":
			cfg.Persistence.Path = f.StateDB
		}
	})
	return cfg, cfg.Validate()
}

// newLogger builds the operational logger.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newEventLogger builds the protocol event sink: a CBOR file when a path is
// configured and, at debug level, a zerolog stream on w. It returns nil when
// neither applies.
func newEventLogger(cfg config.LogConfig, w io.Writer) (synclog.Logger, func() error, error) {
	var sinks []synclog.Logger
	closeFn := func() error { return nil }

	if cfg.Protocol != "" {
		fl, err := synclog.NewFileLogger(cfg.Protocol)
		if err != nil {
			return nil, closeFn, fmt.Errorf("protocol log: %w", err)
		}
		sinks = append(sinks, fl)
		closeFn = fl.Close
	}

	if strings.EqualFold(cfg.Level, "debug") {
		var zw io.Writer = w
		if cfg.Format == "console" {
			zw = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
		}
		zl := zerolog.New(zw).Level(zerolog.DebugLevel).With().Timestamp().Str("component", "protocol").Logger()
		sinks = append(sinks, synclog.NewZerologAdapter(zl))
	}

	return synclog.NewMultiLogger(sinks...).Logger(), closeFn, nil
}

// newService wires transport, API client, persistence and metrics into a
// SyncService.
func newService(cfg config.Config, ep config.Endpoints, logger *slog.Logger, events synclog.Logger, m *metrics.Collector) (*service.SyncService, *persistence.Store, error) {
	dialer, err := transport.NewWebSocketDialer(transport.Config{URL: ep.PushURL})
	if err != nil {
		return nil, nil, fmt.Errorf("push endpoint: %w", err)
	}
	api, err := query.NewHTTPClient(query.ClientConfig{
		BaseURL: ep.APIURL,
		Timeout: cfg.Polling.Timeout,
		Logger:  logger.With("component", "query"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("api endpoint: %w", err)
	}

	sc := service.DefaultConfig()
	sc.Dialer = dialer
	sc.Fetcher = api
	sc.Backoff = cfg.Connection.Backoff
	sc.ProbeInterval = cfg.Connection.ProbeInterval
	sc.DialTimeout = cfg.Connection.DialTimeout
	sc.DisableWhenIdle = cfg.Connection.DisableWhenIdle
	sc.Policy = cfg.Polling.Policy
	sc.Granularity = cfg.Polling.Granularity
	sc.PullFallback = cfg.Polling.Fallback
	sc.Freshness = cfg.Freshness
	sc.SaveInterval = cfg.Persistence.SaveInterval
	sc.Logger = logger
	sc.EventLogger = events
	sc.Metrics = m

	var store *persistence.Store
	if cfg.Persistence.Path != "" {
		if store, err = persistence.Open(cfg.Persistence.Path); err != nil {
			return nil, nil, fmt.Errorf("state db: %w", err)
		}
		sc.Store = store
	}

	svc, err := service.NewSyncService(sc)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return svc, store, nil
}

// logSink is the writer behind the operational and protocol loggers. The
// interactive console redirects it so log lines do not tear the prompt.
type logSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newLogSink(w io.Writer) *logSink {
	return &logSink{w: w}
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *logSink) redirect(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}
