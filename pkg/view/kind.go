package view

import (
	"fmt"
	"strings"
)

// Kind identifies a view shape.
type Kind uint8

const (
	// KindSummary is the aggregate totals for a backend and window.
	KindSummary Kind = iota + 1

	// KindCountries is the per-country breakdown.
	KindCountries

	// KindDevices is the per-device (source IP) breakdown.
	KindDevices

	// KindProxies is the per-proxy-chain breakdown.
	KindProxies

	// KindRules is the per-rule breakdown.
	KindRules

	// KindDomains is the paginated domain list.
	KindDomains

	// KindIPs is the paginated destination IP list.
	KindIPs
)

// DefaultPushTopN is the number of rows the push feed embeds for each
// breakdown.
const DefaultPushTopN = 50

var kindNames = map[Kind]string{
	KindSummary:   "summary",
	KindCountries: "countries",
	KindDevices:   "devices",
	KindProxies:   "proxies",
	KindRules:     "rules",
	KindDomains:   "domains",
	KindIPs:       "ips",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindSummary, KindCountries, KindDevices, KindProxies, KindRules, KindDomains, KindIPs}
}

// String returns the kind name used in cache keys and URLs.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	_, ok := kindNames[k]
	return ok
}

// SummaryBearing reports whether the push feed can deliver this kind.
func (k Kind) SummaryBearing() bool {
	switch k {
	case KindSummary, KindCountries, KindDevices, KindProxies, KindRules:
		return true
	default:
		return false
	}
}

// PushTopN returns how many rows of this kind a push payload embeds.
// Summary returns 0 since it has no rows.
func (k Kind) PushTopN() int {
	switch k {
	case KindCountries, KindDevices, KindProxies, KindRules:
		return DefaultPushTopN
	default:
		return 0
	}
}

// ParseKind parses a kind name. Singular forms are accepted.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if s == name {
			return k, nil
		}
	}
	switch s {
	case "country":
		return KindCountries, nil
	case "device":
		return KindDevices, nil
	case "proxy":
		return KindProxies, nil
	case "rule":
		return KindRules, nil
	case "domain":
		return KindDomains, nil
	case "ip":
		return KindIPs, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}
