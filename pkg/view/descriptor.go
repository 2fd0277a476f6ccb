package view

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Descriptor validation errors.
var (
	ErrInvalidKind    = errors.New("invalid view kind")
	ErrInvalidWindow  = errors.New("invalid time window")
	ErrInvalidPage    = errors.New("invalid page parameters")
	ErrInvalidBackend = errors.New("invalid backend")
)

// Descriptor is the caller-supplied shape of a requested slice.
type Descriptor struct {
	Kind    Kind
	Backend int64
	Window  Window
	Page    Page
	Scope   Scope
}

// Validate checks every field.
func (d Descriptor) Validate() error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, d.Kind)
	}
	if d.Backend <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBackend, d.Backend)
	}
	if err := d.Window.Validate(); err != nil {
		return err
	}
	if err := d.Page.Validate(); err != nil {
		return err
	}
	if d.Kind == KindSummary && (!d.Page.IsZero() || !d.Scope.IsZero()) {
		return fmt.Errorf("%w: summary takes no page or scope", ErrInvalidPage)
	}
	return nil
}

// Key returns the cache identity of the descriptor.
func (d Descriptor) Key() Key {
	parts := []string{d.Window.Fingerprint()}
	if fp := d.Page.Fingerprint(); fp != "" {
		parts = append(parts, fp)
	}
	if fp := d.Scope.Fingerprint(); fp != "" {
		parts = append(parts, fp)
	}
	return Key{
		Kind:        d.Kind,
		Backend:     d.Backend,
		Fingerprint: strings.Join(parts, "|"),
	}
}

// Canonical returns the descriptor with page and scope stripped. Push
// payloads are always written under the canonical key of each section they
// carry.
func (d Descriptor) Canonical() Descriptor {
	return Descriptor{Kind: d.Kind, Backend: d.Backend, Window: d.Window}
}

// WithKind returns a copy of the canonical descriptor with another kind.
func (d Descriptor) WithKind(k Kind) Descriptor {
	c := d.Canonical()
	c.Kind = k
	return c
}

// SameSource reports whether both descriptors read the same backend and
// window.
func (d Descriptor) SameSource(o Descriptor) bool {
	return d.Backend == o.Backend && d.Window.Fingerprint() == o.Window.Fingerprint()
}

// PushCovered reports whether the push feed's fixed top-N guarantee covers
// the descriptor.
func (d Descriptor) PushCovered() bool {
	if !d.Kind.SummaryBearing() {
		return false
	}
	if d.Kind == KindSummary {
		return true
	}
	p := d.Page
	if !d.Scope.IsZero() || p.Offset != 0 || p.Search != "" || p.SortBy != "" || p.Order != SortDefault {
		return false
	}
	return p.Limit <= d.Kind.PushTopN()
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return d.Key().String()
}

// Key identifies a cache entry: (view kind, backend, parameter fingerprint).
type Key struct {
	Kind        Kind
	Backend     int64
	Fingerprint string
}

// String renders the key as kind:backend:fingerprint.
func (k Key) String() string {
	return k.Kind.String() + ":" + strconv.FormatInt(k.Backend, 10) + ":" + k.Fingerprint
}
