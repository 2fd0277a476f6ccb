package view

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SortOrder is the direction of a sorted list.
type SortOrder uint8

const (
	// SortDefault leaves ordering to the backend.
	SortDefault SortOrder = iota
	// SortAsc sorts ascending.
	SortAsc
	// SortDesc sorts descending.
	SortDesc
)

// String returns "asc", "desc" or "" for the default.
func (o SortOrder) String() string {
	switch o {
	case SortAsc:
		return "asc"
	case SortDesc:
		return "desc"
	default:
		return ""
	}
}

// ParseSortOrder parses "asc" or "desc". The empty string is SortDefault.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "":
		return SortDefault, nil
	case "asc":
		return SortAsc, nil
	case "desc":
		return SortDesc, nil
	default:
		return SortDefault, fmt.Errorf("%w: sort order %q", ErrInvalidPage, s)
	}
}

// Page holds pagination, sorting and free-text search.
// Zero values mean "backend default".
type Page struct {
	Offset int
	Limit  int
	SortBy string
	Order  SortOrder
	Search string
}

// IsZero reports whether no pagination parameter is set.
func (p Page) IsZero() bool {
	return p == Page{}
}

// Validate checks the page parameters.
func (p Page) Validate() error {
	if p.Offset < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidPage)
	}
	if p.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidPage)
	}
	return nil
}

// Fingerprint encodes the set parameters in a fixed order.
func (p Page) Fingerprint() string {
	v := url.Values{}
	if p.Offset > 0 {
		v.Set("offset", strconv.Itoa(p.Offset))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.SortBy != "" {
		v.Set("sort", p.SortBy)
	}
	if p.Order != SortDefault {
		v.Set("order", p.Order.String())
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	// url.Values.Encode sorts by key.
	return v.Encode()
}

// Scope narrows a list view to one device, proxy chain or rule.
type Scope struct {
	SourceIP string
	Chain    string
	Rule     string
}

// IsZero reports whether the scope is unset.
func (s Scope) IsZero() bool {
	return s == Scope{}
}

// Fingerprint encodes the scope.
func (s Scope) Fingerprint() string {
	v := url.Values{}
	if s.SourceIP != "" {
		v.Set("device", s.SourceIP)
	}
	if s.Chain != "" {
		v.Set("chain", s.Chain)
	}
	if s.Rule != "" {
		v.Set("rule", s.Rule)
	}
	return v.Encode()
}
