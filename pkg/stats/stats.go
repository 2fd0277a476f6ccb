// Package stats defines the traffic statistics payloads exchanged with the
// collector, on both the push feed and the REST query API.
//
// The same struct tags drive JSON (REST) and CBOR (push) encoding.
package stats

// Traffic is a byte and connection counter triple.
type Traffic struct {
	Upload      int64 `json:"upload"`
	Download    int64 `json:"download"`
	Connections int64 `json:"connections"`
}

// Total returns upload plus download.
func (t Traffic) Total() int64 {
	return t.Upload + t.Download
}

// Summary is the aggregate for one backend and time window.
type Summary struct {
	TotalUpload      int64 `json:"totalUpload"`
	TotalDownload    int64 `json:"totalDownload"`
	TotalConnections int64 `json:"totalConnections"`
	TotalDomains     int64 `json:"totalDomains"`
	TotalIPs         int64 `json:"totalIPs"`
	TotalRules       int64 `json:"totalRules"`
	TotalProxies     int64 `json:"totalProxies"`
}

// CountryStat is one row of the per-country breakdown.
type CountryStat struct {
	Country     string `json:"country"`
	CountryName string `json:"countryName,omitempty"`
	Traffic
}

// DeviceStat is one row of the per-device breakdown.
type DeviceStat struct {
	SourceIP string `json:"sourceIP"`
	Traffic
}

// ProxyStat is one row of the per-proxy-chain breakdown.
type ProxyStat struct {
	Chain string `json:"chain"`
	Traffic
}

// RuleStat is one row of the per-rule breakdown.
type RuleStat struct {
	Rule       string `json:"rule"`
	FinalProxy string `json:"finalProxy,omitempty"`
	Traffic
}

// DomainStat is one row of the domain list.
type DomainStat struct {
	Domain   string   `json:"domain"`
	IPs      []string `json:"ips,omitempty"`
	Rules    []string `json:"rules,omitempty"`
	Chains   []string `json:"chains,omitempty"`
	LastSeen int64    `json:"lastSeen,omitempty"`
	Traffic
}

// IPStat is one row of the destination IP list.
type IPStat struct {
	IP       string   `json:"ip"`
	Domains  []string `json:"domains,omitempty"`
	Country  string   `json:"country,omitempty"`
	LastSeen int64    `json:"lastSeen,omitempty"`
	Traffic
}

// DomainPage is one page of the domain list.
type DomainPage struct {
	Items []DomainStat `json:"data"`
	Total int64        `json:"total"`
}

// IPPage is one page of the IP list.
type IPPage struct {
	Items []IPStat `json:"data"`
	Total int64    `json:"total"`
}

// Head returns at most the first n elements of s. n <= 0 returns s.
func Head[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
