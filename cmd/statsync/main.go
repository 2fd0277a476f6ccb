// Command statsync is a live traffic statistics client.
//
// It keeps the summary of one backend current from the collector's push
// feed, falls back to the REST API while push is unavailable, and offers an
// interactive console for mounting more views.
//
// Usage:
//
//	statsync [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-origin string        Dashboard origin the endpoints are derived from
//	-push-url string      Push endpoint (ws:// or wss://)
//	-api-url string       REST API root (http:// or https://)
//	-backend int          Backend ID of the initial view (default 1)
//	-window string        Time window: a duration (15m) or start..end (default "15m")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-log-format string    Log format: text, json, console (default "text")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-metrics-addr string  Serve Prometheus metrics on this address
//	-state-db string      SQLite database for the cache snapshot
//	-interactive          Enable interactive command mode
//
// Endpoints resolve in this order: flag or file value, STATSYNC_PUSH_URL and
// STATSYNC_API_URL, then derivation from -origin.
//
// Examples:
//
//	# Follow backend 2 over the last hour
//	statsync -origin https://stats.example.com -backend 2 -window 1h
//
//	# Interactive console with a warm-start cache and metrics
//	statsync -origin http://localhost:3000 -interactive \
//	    -state-db ~/.statsync.db -metrics-addr :9120
//
// Interactive Commands:
//
//	view <kind> [k=v ...] - Mount a view
//	views                 - List mounted views
//	show <id>             - Show a view
//	close <id>            - Unmount a view
//	refresh [prefix]      - Drop cached entries and pull again
//	status                - Show connection and cache status
//	quit                  - Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tingxueren/clash-master/cmd/statsync/interactive"
	"github.com/tingxueren/clash-master/pkg/config"
	"github.com/tingxueren/clash-master/pkg/metrics"
	"github.com/tingxueren/clash-master/pkg/service"
	"github.com/tingxueren/clash-master/pkg/version"
)

var flags Flags

func init() {
	flags.register(flag.CommandLine)
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run returns instead of exiting so every deferred close runs.
func run() error {
	cfg, err := loadConfig(&flags, flag.CommandLine)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	endpoints, err := cfg.ResolveEndpoints(config.OSLookup)
	if err != nil {
		return fmt.Errorf("invalid endpoints: %w", err)
	}
	initial, err := cfg.InitialView()
	if err != nil {
		return fmt.Errorf("invalid initial view: %w", err)
	}

	// Both loggers write through out so the console can take them over.
	out := newLogSink(os.Stderr)
	logger := newLogger(cfg.Log, out)
	events, closeEvents, err := newEventLogger(cfg.Log, out)
	if err != nil {
		return fmt.Errorf("failed to open protocol log: %w", err)
	}
	defer closeEvents()

	logger.Info("statsync starting",
		"protocol", version.Current.String(),
		"push", endpoints.PushURL, "pushSource", endpoints.PushSource,
		"api", endpoints.APIURL, "apiSource", endpoints.APISource)

	collector := metrics.NewCollector()
	svc, store, err := newService(cfg, endpoints, logger, events, collector)
	if err != nil {
		return fmt.Errorf("failed to create sync service: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	logger.Info("service started", "state", svc.State())

	v, err := svc.SubscribeToView(ctx, initial)
	if err != nil {
		_ = svc.Stop()
		return fmt.Errorf("failed to mount initial view: %w", err)
	}

	var console *interactive.Console
	if flags.Interactive {
		console, err = interactive.New(svc, interactive.Defaults{Backend: cfg.Backend, Window: initial.Window})
		if err != nil {
			_ = svc.Stop()
			return fmt.Errorf("failed to create interactive console: %w", err)
		}
		out.redirect(console.Stdout())
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collector)
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if console != nil {
		g.Go(func() error {
			console.Run(gctx, cancel)
			return nil
		})
	} else {
		g.Go(func() error {
			follow(gctx, v, logger)
			return nil
		})
	}

	<-gctx.Done()
	cancel()
	if console != nil {
		console.Close()
		out.redirect(os.Stderr)
	}
	logger.Info("shutting down")

	if err := svc.Stop(); err != nil {
		logger.Warn("error stopping service", "error", err)
	}
	if err := g.Wait(); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("goodbye")
	return nil
}

// follow logs every state of the initial view until ctx is done.
func follow(ctx context.Context, v *service.View, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-v.Updates():
			if !ok {
				return
			}
			if st.Err != nil {
				logger.Warn("view error", "key", st.Key, "error", st.Err)
			}
			if st.HasValue() {
				logger.Info("view updated", "key", st.Key, "source", st.Provenance, "value", st.Value)
			}
		}
	}
}
