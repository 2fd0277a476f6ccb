package stats

import "github.com/tingxueren/clash-master/pkg/view"

// Snapshot is the body of a push "stats" frame. The summary is always
// present; every other section is present only when the subscription asked
// for it.
type Snapshot struct {
	Backend   int64 `json:"backendId"`
	Timestamp int64 `json:"timestamp"`

	// Revision echoes the revision of the subscribe frame the snapshot
	// answers.
	Revision uint64 `json:"revision,omitempty"`

	Summary Summary `json:"summary"`

	Countries []CountryStat `json:"countries,omitempty"`
	Devices   []DeviceStat  `json:"devices,omitempty"`
	Proxies   []ProxyStat   `json:"proxies,omitempty"`
	Rules     []RuleStat    `json:"rules,omitempty"`

	Domains *DomainPage `json:"domains,omitempty"`
	IPs     *IPPage     `json:"ips,omitempty"`

	// Detail lists for the device, proxy or rule the subscription scoped.
	DeviceDetail *Detail `json:"deviceDetail,omitempty"`
	ProxyDetail  *Detail `json:"proxyDetail,omitempty"`
	RuleDetail   *Detail `json:"ruleDetail,omitempty"`
}

// Detail holds the domain and IP lists scoped to one device, proxy or rule.
type Detail struct {
	Domains []DomainStat `json:"domains,omitempty"`
	IPs     []IPStat     `json:"ips,omitempty"`
}

// Section returns the payload the snapshot carries for kind and whether it
// carries one at all.
func (s *Snapshot) Section(kind view.Kind) (any, bool) {
	switch kind {
	case view.KindSummary:
		return s.Summary, true
	case view.KindCountries:
		return s.Countries, s.Countries != nil
	case view.KindDevices:
		return s.Devices, s.Devices != nil
	case view.KindProxies:
		return s.Proxies, s.Proxies != nil
	case view.KindRules:
		return s.Rules, s.Rules != nil
	case view.KindDomains:
		if s.Domains == nil {
			return nil, false
		}
		return *s.Domains, true
	case view.KindIPs:
		if s.IPs == nil {
			return nil, false
		}
		return *s.IPs, true
	default:
		return nil, false
	}
}

// Kinds lists the sections present in the snapshot.
func (s *Snapshot) Kinds() []view.Kind {
	var kinds []view.Kind
	for _, k := range view.Kinds() {
		if _, ok := s.Section(k); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Limit trims a breakdown section to the first n rows. Non-list payloads
// are returned unchanged.
func Limit(payload any, n int) any {
	switch v := payload.(type) {
	case []CountryStat:
		return Head(v, n)
	case []DeviceStat:
		return Head(v, n)
	case []ProxyStat:
		return Head(v, n)
	case []RuleStat:
		return Head(v, n)
	default:
		return payload
	}
}
