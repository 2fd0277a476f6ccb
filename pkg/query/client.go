package query

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/tingxueren/clash-master/pkg/stats"
)

const (
	// DefaultTimeout bounds one pull.
	DefaultTimeout = 15 * time.Second

	// MaxBodySize caps the response body; a larger body fails the pull.
	MaxBodySize = 8 << 20
)

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://host/api.
	BaseURL string

	// Client is the HTTP client. Nil uses a client with Timeout.
	Client  *http.Client
	Timeout time.Duration

	// Header is added to every request.
	Header http.Header

	Logger *slog.Logger
}

// HTTPClient fetches views from /stats/{kind} below the API root.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
	header http.Header
	logger *slog.Logger
}

// NewHTTPClient validates cfg and creates a client.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NotValidf("empty API base URL")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.NewNotValid(err, "API base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.NotValidf("API base URL scheme %q", base.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPClient{
		base:   base,
		client: cfg.Client,
		header: cfg.Header,
		logger: cfg.Logger,
	}, nil
}

// URL returns the request URL for req.
func (c *HTTPClient) URL(req Request) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stats/" + req.Kind.String()
	u.RawQuery = req.Values().Encode()
	return u.String()
}

// Fetch implements Fetcher.
func (c *HTTPClient) Fetch(ctx context.Context, req Request) (any, error) {
	if !req.Kind.IsValid() {
		return nil, errors.NotSupportedf("view kind %s", req.Kind)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(req), nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, req, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, transportError(ctx, req, err)
	}
	if len(body) > MaxBodySize {
		return nil, errors.QuotaLimitExceededf("%s response larger than %d bytes", req.Kind, MaxBodySize)
	}

	if err := statusError(req, resp); err != nil {
		c.logger.Debug("pull rejected", "kind", req.Kind, "backend", req.Backend, "status", resp.StatusCode)
		return nil, err
	}

	payload, err := stats.Decode(req.Kind, body, json.Unmarshal)
	if err != nil {
		return nil, errors.NewNotValid(err, "decode "+req.Kind.String()+" response")
	}
	return payload, nil
}

func transportError(ctx context.Context, req Request, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), isTimeout(err):
		return errors.NewTimeout(err, "pull "+req.Kind.String())
	case errors.Is(ctx.Err(), context.Canceled):
		return errors.Annotatef(context.Canceled, "pull %s", req.Kind)
	default:
		return errors.Annotatef(err, "pull %s", req.Kind)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func statusError(req Request, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest:
		return errors.NotValidf("%s request (%s)", req.Kind, resp.Status)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Unauthorizedf("%s request (%s)", req.Kind, resp.Status)
	case code == http.StatusNotFound:
		return errors.NotFoundf("%s for backend %d", req.Kind, req.Backend)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return errors.Timeoutf("%s request (%s)", req.Kind, resp.Status)
	default:
		return errors.Errorf("%s request: collector returned %s", req.Kind, resp.Status)
	}
}

// IsRetryable reports whether a failed pull is worth repeating on the next
// tick without operator action.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, errors.NotValid),
		errors.Is(err, errors.Unauthorized),
		errors.Is(err, errors.NotFound),
		errors.Is(err, errors.NotSupported),
		errors.Is(err, errors.QuotaLimitExceeded):
		return false
	default:
		return true
	}
}
