// Package config holds the client configuration: endpoints, connection and
// polling tuning, persistence and logging.
//
// Values come from, in increasing precedence: Default, a YAML file (Load),
// environment-style defaults for the endpoints (ResolveEndpoints) and
// command line flags applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tingxueren/clash-master/pkg/connection"
	"github.com/tingxueren/clash-master/pkg/poll"
	"github.com/tingxueren/clash-master/pkg/view"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults not owned by another package.
const (
	DefaultWindow       = "15m"
	DefaultBackend      = 1
	DefaultFreshness    = 30 * time.Second
	DefaultPullTimeout  = 15 * time.Second
	DefaultSaveInterval = time.Minute
)

// Config is the full client configuration.
type Config struct {
	// Origin is the dashboard origin the endpoints are derived from when
	// not set explicitly, e.g. https://stats.example.com.
	Origin  string `yaml:"origin"`
	PushURL string `yaml:"push_url"`
	APIURL  string `yaml:"api_url"`

	// Backend and Window are the initial view.
	Backend int64  `yaml:"backend"`
	Window  string `yaml:"window"`

	Connection ConnectionConfig `yaml:"connection"`
	Polling    PollingConfig    `yaml:"polling"`

	// Freshness bounds how long a push value keeps pull writes out.
	Freshness time.Duration `yaml:"freshness"`

	Persistence PersistenceConfig `yaml:"persistence"`
	Log         LogConfig         `yaml:"log"`

	// MetricsAddr serves /metrics when set, e.g. ":9120".
	MetricsAddr string `yaml:"metrics_addr"`
}

// ConnectionConfig tunes the push connection.
type ConnectionConfig struct {
	Backoff       connection.BackoffConfig `yaml:"backoff"`
	ProbeInterval time.Duration            `yaml:"probe_interval"`
	DialTimeout   time.Duration            `yaml:"dial_timeout"`

	// DisableWhenIdle closes the push connection while no view is
	// mounted.
	DisableWhenIdle bool `yaml:"disable_when_idle"`
}

// PollingConfig tunes the pull channel.
type PollingConfig struct {
	poll.Policy `yaml:",inline"`
	Granularity time.Duration `yaml:"granularity"`
	Timeout     time.Duration `yaml:"timeout"`

	// Fallback enables pull schedules for every view.
	Fallback bool `yaml:"fallback"`
}

// PersistenceConfig selects the warm-start store.
type PersistenceConfig struct {
	// Path is the SQLite database. Empty disables persistence.
	Path         string        `yaml:"path"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// LogConfig selects operational and protocol logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text, json or console.
	Format string `yaml:"format"`

	// Protocol is a CBOR protocol event log path. Empty disables it.
	Protocol string `yaml:"protocol"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Backend: DefaultBackend,
		Window:  DefaultWindow,
		Connection: ConnectionConfig{
			Backoff:       connection.DefaultBackoffConfig(),
			ProbeInterval: connection.DefaultProbeInterval,
			DialTimeout:   connection.DefaultDialTimeout,
		},
		Polling: PollingConfig{
			Policy:      poll.DefaultPolicy(),
			Granularity: poll.DefaultGranularity,
			Timeout:     DefaultPullTimeout,
			Fallback:    true,
		},
		Freshness: DefaultFreshness,
		Persistence: PersistenceConfig{
			SaveInterval: DefaultSaveInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg. Unknown keys are an error.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// InitialView returns the descriptor of the configured backend and window.
func (c Config) InitialView() (view.Descriptor, error) {
	w, err := view.ParseWindow(c.Window)
	if err != nil {
		return view.Descriptor{}, fmt.Errorf("%w: window: %v", ErrInvalidConfig, err)
	}
	return view.Descriptor{Kind: view.KindSummary, Backend: c.Backend, Window: w}, nil
}

// Validate checks the configuration. Endpoints are checked by
// ResolveEndpoints.
func (c Config) Validate() error {
	var errs []error
	if c.Backend <= 0 {
		errs = append(errs, fmt.Errorf("backend must be positive, got %d", c.Backend))
	}
	if _, err := view.ParseWindow(c.Window); err != nil {
		errs = append(errs, fmt.Errorf("window: %v", err))
	}

	b := c.Connection.Backoff
	if b.Initial <= 0 || b.Max < b.Initial {
		errs = append(errs, fmt.Errorf("backoff: need 0 < initial <= max, got %s/%s", b.Initial, b.Max))
	}
	if b.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff: multiplier %v below 1", b.Multiplier))
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		errs = append(errs, fmt.Errorf("backoff: jitter %v outside [0,1]", b.Jitter))
	}
	if c.Connection.ProbeInterval <= 0 {
		errs = append(errs, errors.New("probe_interval must be positive"))
	}
	if c.Connection.DialTimeout <= 0 {
		errs = append(errs, errors.New("dial_timeout must be positive"))
	}

	p := c.Polling
	if p.Interval <= 0 || p.PushInterval < p.Interval {
		errs = append(errs, fmt.Errorf("polling: need 0 < interval <= push_interval, got %s/%s", p.Interval, p.PushInterval))
	}
	if p.Granularity <= 0 || p.Granularity > p.Interval {
		errs = append(errs, fmt.Errorf("polling: granularity %s must be positive and at most the interval", p.Granularity))
	}
	if c.Freshness <= 0 {
		errs = append(errs, errors.New("freshness must be positive"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format %q", c.Log.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
