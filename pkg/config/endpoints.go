package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Environment-style endpoint defaults.
const (
	EnvPushURL = "STATSYNC_PUSH_URL"
	EnvAPIURL  = "STATSYNC_API_URL"
)

// Same-origin paths.
const (
	PushPath = "/ws"
	APIPath  = "/api"
)

// LookupFunc reads an environment-style value. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// OSLookup reads the process environment.
var OSLookup LookupFunc = os.LookupEnv

// Endpoints are the resolved push and pull URLs.
type Endpoints struct {
	PushURL string
	APIURL  string

	// Source records where each URL came from: "override", "env" or
	// "origin".
	PushSource string
	APISource  string
}

// ResolveEndpoints picks each URL from, in order: the explicit override,
// the lookup, then derivation from Origin. lookup may be nil.
func (c Config) ResolveEndpoints(lookup LookupFunc) (Endpoints, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	var ep Endpoints
	var err error
	ep.PushURL, ep.PushSource, err = resolve(c.PushURL, EnvPushURL, lookup, func(o *url.URL) {
		if o.Scheme == "https" {
			o.Scheme = "wss"
		} else {
			o.Scheme = "ws"
		}
		o.Path = strings.TrimSuffix(o.Path, "/") + PushPath
	}, c.Origin)
	if err != nil {
		return ep, fmt.Errorf("push endpoint: %w", err)
	}
	if err := checkScheme(ep.PushURL, "ws", "wss"); err != nil {
		return ep, fmt.Errorf("push endpoint: %w", err)
	}

	ep.APIURL, ep.APISource, err = resolve(c.APIURL, EnvAPIURL, lookup, func(o *url.URL) {
		o.Path = strings.TrimSuffix(o.Path, "/") + APIPath
	}, c.Origin)
	if err != nil {
		return ep, fmt.Errorf("api endpoint: %w", err)
	}
	if err := checkScheme(ep.APIURL, "http", "https"); err != nil {
		return ep, fmt.Errorf("api endpoint: %w", err)
	}
	return ep, nil
}

func resolve(override, env string, lookup LookupFunc, derive func(*url.URL), origin string) (string, string, error) {
	if override != "" {
		return override, "override", nil
	}
	if v, ok := lookup(env); ok && v != "" {
		return v, "env", nil
	}
	if origin == "" {
		return "", "", fmt.Errorf("%w: no override, %s unset and no origin", ErrInvalidConfig, env)
	}
	o, err := url.Parse(origin)
	if err != nil {
		return "", "", fmt.Errorf("%w: origin: %v", ErrInvalidConfig, err)
	}
	if o.Scheme != "http" && o.Scheme != "https" {
		return "", "", fmt.Errorf("%w: origin scheme %q", ErrInvalidConfig, o.Scheme)
	}
	o.RawQuery = ""
	o.Fragment = ""
	derive(o)
	return o.String(), "origin", nil
}

func checkScheme(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w: scheme %q, want one of %s", ErrInvalidConfig, u.Scheme, strings.Join(schemes, ", "))
}
