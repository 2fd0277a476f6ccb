package wire

import (
	"github.com/tingxueren/clash-master/pkg/stats"
)

// FrameType is the envelope tag of a frame.
type FrameType uint8

const (
	// FrameSubscribe carries the full subscription descriptor (client to collector).
	FrameSubscribe FrameType = 1

	// FramePing is a liveness probe (client to collector).
	FramePing FrameType = 2

	// FrameStats carries a summary snapshot (collector to client).
	FrameStats FrameType = 3

	// FramePong acknowledges a ping (collector to client).
	FramePong FrameType = 4
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameSubscribe:
		return "subscribe"
	case FramePing:
		return "ping"
	case FrameStats:
		return "stats"
	case FramePong:
		return "pong"
	default:
		return "unknown"
	}
}

// Outbound reports whether the client sends frames of this type.
func (t FrameType) Outbound() bool {
	return t == FrameSubscribe || t == FramePing
}

// Frame is one of *Subscribe, *Ping, *Stats or *Pong.
type Frame interface {
	Type() FrameType
	isFrame()
}

// Subscribe replaces the active subscription on the connection.
//
// Optional fields are omitted when unset so the collector applies its own
// defaults.
type Subscribe struct {
	Backend int64 `cbor:"1,keyasint"`
	Start   int64 `cbor:"2,keyasint"` // Unix milliseconds
	End     int64 `cbor:"3,keyasint"` // Unix milliseconds

	// Rolling is the window length in milliseconds for a rolling window.
	// The collector slides Start/End forward itself.
	Rolling int64 `cbor:"4,keyasint,omitempty"`

	// Breakdown toggles for the embedded top-N sections.
	Countries bool `cbor:"5,keyasint,omitempty"`
	Devices   bool `cbor:"6,keyasint,omitempty"`
	Proxies   bool `cbor:"7,keyasint,omitempty"`
	Rules     bool `cbor:"8,keyasint,omitempty"`

	Device *DeviceDetail `cbor:"9,keyasint,omitempty"`
	Proxy  *ProxyDetail  `cbor:"10,keyasint,omitempty"`
	Rule   *RuleDetail   `cbor:"11,keyasint,omitempty"`

	Domains *PageParams `cbor:"12,keyasint,omitempty"`
	IPs     *PageParams `cbor:"13,keyasint,omitempty"`

	// Revision numbers the subscription. The collector echoes it in every
	// stats frame it sends for this subscription.
	Revision uint64 `cbor:"14,keyasint,omitempty"`
}

// DeviceDetail requests detail lists for one source IP.
type DeviceDetail struct {
	SourceIP string `cbor:"1,keyasint"`
	Limit    int    `cbor:"2,keyasint,omitempty"`
}

// ProxyDetail requests detail lists for one proxy chain.
type ProxyDetail struct {
	Chain string `cbor:"1,keyasint"`
	Limit int    `cbor:"2,keyasint,omitempty"`
}

// RuleDetail requests detail lists for one rule.
type RuleDetail struct {
	Rule  string `cbor:"1,keyasint"`
	Limit int    `cbor:"2,keyasint,omitempty"`
}

// PageParams requests one page of a list section.
type PageParams struct {
	Offset    int    `cbor:"1,keyasint,omitempty"`
	Limit     int    `cbor:"2,keyasint,omitempty"`
	SortBy    string `cbor:"3,keyasint,omitempty"`
	SortOrder string `cbor:"4,keyasint,omitempty"`
	Search    string `cbor:"5,keyasint,omitempty"`
}

// Ping is a liveness probe.
type Ping struct {
	Seq    uint32 `cbor:"1,keyasint"`
	SentAt int64  `cbor:"2,keyasint"` // Unix nanoseconds
}

// Pong acknowledges a Ping, echoing its sequence and timestamp.
type Pong struct {
	Seq    uint32 `cbor:"1,keyasint"`
	SentAt int64  `cbor:"2,keyasint"`
}

// Stats carries one push snapshot.
type Stats struct {
	Snapshot stats.Snapshot
}

// Type implements Frame.
func (*Subscribe) Type() FrameType { return FrameSubscribe }

// Type implements Frame.
func (*Ping) Type() FrameType { return FramePing }

// Type implements Frame.
func (*Stats) Type() FrameType { return FrameStats }

// Type implements Frame.
func (*Pong) Type() FrameType { return FramePong }

func (*Subscribe) isFrame() {}
func (*Ping) isFrame()      {}
func (*Stats) isFrame()     {}
func (*Pong) isFrame()      {}
