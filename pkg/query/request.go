package query

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/tingxueren/clash-master/pkg/view"
)

// Request is one pull for one view, with the window already resolved.
type Request struct {
	Kind    view.Kind
	Backend int64
	Start   time.Time
	End     time.Time
	Page    view.Page
	Scope   view.Scope
}

// NewRequest resolves d's window at now.
func NewRequest(d view.Descriptor, now time.Time) Request {
	start, end := d.Window.Resolve(now)
	return Request{
		Kind:    d.Kind,
		Backend: d.Backend,
		Start:   start,
		End:     end,
		Page:    d.Page,
		Scope:   d.Scope,
	}
}

// Values encodes the request as query parameters. Unset parameters are
// left out so the server default applies.
func (r Request) Values() url.Values {
	v := url.Values{}
	v.Set("backendId", strconv.FormatInt(r.Backend, 10))
	v.Set("start", r.Start.UTC().Format(time.RFC3339Nano))
	v.Set("end", r.End.UTC().Format(time.RFC3339Nano))

	p := r.Page
	if p.Offset > 0 {
		v.Set("offset", strconv.Itoa(p.Offset))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.SortBy != "" {
		v.Set("sortBy", p.SortBy)
	}
	if p.Order != view.SortDefault {
		v.Set("sortOrder", p.Order.String())
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}

	s := r.Scope
	if s.SourceIP != "" {
		v.Set("sourceIP", s.SourceIP)
	}
	if s.Chain != "" {
		v.Set("chain", s.Chain)
	}
	if s.Rule != "" {
		v.Set("rule", s.Rule)
	}
	return v
}

// Fetcher performs pulls. Implementations must be safe for concurrent use
// and must honour ctx.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (any, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (any, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}
