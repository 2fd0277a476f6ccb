package subscription

import (
	"time"

	"github.com/tingxueren/clash-master/pkg/view"
	"github.com/tingxueren/clash-master/pkg/wire"
)

// Detail scopes the domain and IP lists to one device, proxy chain or rule.
type Detail struct {
	Key   string
	Limit int
}

// Subscription is the full push descriptor.
type Subscription struct {
	Backend int64
	Window  view.Window

	Countries bool
	Devices   bool
	Proxies   bool
	Rules     bool

	Device *Detail
	Proxy  *Detail
	Rule   *Detail

	Domains *view.Page
	IPs     *view.Page
}

// equalEpoch resolves rolling windows to the same bounds so that Equal
// compares them by length only.
var equalEpoch = time.Unix(0, 0)

// Equal reports whether a and b describe the same subscription, comparing
// the canonical encoding of the frames they produce. A rolling window is
// compared by length only; its resolved bounds are ephemeral.
func Equal(a, b Subscription) bool {
	return wire.Equal(a.Frame(equalEpoch), b.Frame(equalEpoch))
}

// Source returns the summary descriptor the subscription feeds.
func (s Subscription) Source() view.Descriptor {
	return view.Descriptor{Kind: view.KindSummary, Backend: s.Backend, Window: s.Window}
}

// Wants reports whether the subscription asks the collector for the section
// d reads. Summary is always delivered.
func (s Subscription) Wants(d view.Descriptor) bool {
	if !d.SameSource(s.Source()) {
		return false
	}
	switch d.Kind {
	case view.KindSummary:
		return true
	case view.KindCountries:
		return s.Countries
	case view.KindDevices:
		return s.Devices
	case view.KindProxies:
		return s.Proxies
	case view.KindRules:
		return s.Rules
	case view.KindDomains:
		return d.Scope.IsZero() && s.Domains != nil
	case view.KindIPs:
		return d.Scope.IsZero() && s.IPs != nil
	default:
		return false
	}
}

// Frame encodes the subscription as of now. Unset options are left zero so
// the encoder omits them.
func (s Subscription) Frame(now time.Time) *wire.Subscribe {
	start, end := s.Window.Resolve(now)
	f := &wire.Subscribe{
		Backend:   s.Backend,
		Start:     start.UnixMilli(),
		End:       end.UnixMilli(),
		Countries: s.Countries,
		Devices:   s.Devices,
		Proxies:   s.Proxies,
		Rules:     s.Rules,
	}
	if s.Window.Rolling() {
		f.Rolling = s.Window.Last.Milliseconds()
	}
	if s.Device != nil {
		f.Device = &wire.DeviceDetail{SourceIP: s.Device.Key, Limit: s.Device.Limit}
	}
	if s.Proxy != nil {
		f.Proxy = &wire.ProxyDetail{Chain: s.Proxy.Key, Limit: s.Proxy.Limit}
	}
	if s.Rule != nil {
		f.Rule = &wire.RuleDetail{Rule: s.Rule.Key, Limit: s.Rule.Limit}
	}
	f.Domains = pageParams(s.Domains)
	f.IPs = pageParams(s.IPs)
	return f
}

func pageParams(p *view.Page) *wire.PageParams {
	if p == nil {
		return nil
	}
	return &wire.PageParams{
		Offset:    p.Offset,
		Limit:     p.Limit,
		SortBy:    p.SortBy,
		SortOrder: p.Order.String(),
		Search:    p.Search,
	}
}

// FromViews derives the subscription for a set of mounted views. The last
// descriptor is the most recently mounted or updated one; it picks the
// backend and window, and only views on that same source contribute.
//
// Breakdown toggles are set only for views inside the push top-N; deeper
// pages are left to the pull channel. It returns false for no views.
func FromViews(views []view.Descriptor) (Subscription, bool) {
	if len(views) == 0 {
		return Subscription{}, false
	}
	primary := views[len(views)-1]
	sub := Subscription{Backend: primary.Backend, Window: primary.Window}

	for _, d := range views {
		if !d.SameSource(primary) {
			continue
		}
		switch d.Kind {
		case view.KindCountries:
			sub.Countries = sub.Countries || d.PushCovered()
		case view.KindDevices:
			sub.Devices = sub.Devices || d.PushCovered()
		case view.KindProxies:
			sub.Proxies = sub.Proxies || d.PushCovered()
		case view.KindRules:
			sub.Rules = sub.Rules || d.PushCovered()
		case view.KindDomains, view.KindIPs:
			addList(&sub, d)
		}
	}
	return sub, true
}

// addList records a domain or IP list request. A scoped list becomes the
// matching detail request; an unscoped one the page parameters. When two
// views disagree, the later one wins.
func addList(sub *Subscription, d view.Descriptor) {
	switch {
	case d.Scope.SourceIP != "":
		sub.Device = &Detail{Key: d.Scope.SourceIP, Limit: d.Page.Limit}
	case d.Scope.Chain != "":
		sub.Proxy = &Detail{Key: d.Scope.Chain, Limit: d.Page.Limit}
	case d.Scope.Rule != "":
		sub.Rule = &Detail{Key: d.Scope.Rule, Limit: d.Page.Limit}
	case d.Kind == view.KindDomains:
		p := d.Page
		sub.Domains = &p
	default:
		p := d.Page
		sub.IPs = &p
	}
}
