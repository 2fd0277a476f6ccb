package testutil

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/tingxueren/clash-master/pkg/query"
	"github.com/tingxueren/clash-master/pkg/view"
)

// Fetcher is a scripted query.Fetcher. Responses are set per kind; a kind
// with no response fails with a NotFound error.
type Fetcher struct {
	mu        sync.Mutex
	responses map[view.Kind]any
	failures  map[view.Kind]error
	calls     []query.Request
	gate      chan struct{}
}

// NewFetcher creates a Fetcher with no responses.
func NewFetcher() *Fetcher {
	return &Fetcher{
		responses: make(map[view.Kind]any),
		failures:  make(map[view.Kind]error),
	}
}

// Respond makes pulls of kind succeed with v.
func (f *Fetcher) Respond(kind view.Kind, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, kind)
	f.responses[kind] = v
}

// Fail makes pulls of kind fail with err.
func (f *Fetcher) Fail(kind view.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[kind] = err
}

// Block holds every pull until release is called or its context ends.
func (f *Fetcher) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Fetch implements query.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req query.Request) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[req.Kind]; ok {
		return nil, err
	}
	if v, ok := f.responses[req.Kind]; ok {
		return v, nil
	}
	return nil, errors.NotFoundf("%s for backend %d", req.Kind, req.Backend)
}

// Calls returns every request received so far.
func (f *Fetcher) Calls() []query.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]query.Request(nil), f.calls...)
}

// CallsFor counts requests of kind.
func (f *Fetcher) CallsFor(kind view.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
