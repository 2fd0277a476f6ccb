package log

import (
	"time"

	"github.com/tingxueren/clash-master/pkg/wire"
)

// Event represents a sync client event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one push connection generation (UUID).
	// Empty for events not tied to a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Generation is the push connection generation the event belongs to.
	Generation uint64 `cbor:"3,keyasint,omitempty"`

	// Direction indicates frame flow.
	Direction Direction `cbor:"4,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"5,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"6,keyasint"`

	// Backend is the collector backend the event concerns, if any.
	Backend int64 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Probe       *ProbeEvent       `cbor:"12,keyasint,omitempty"`
	Pull        *PullEvent        `cbor:"13,keyasint,omitempty"`
	Cache       *CacheEvent       `cbor:"14,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"`
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame or result.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing frame or request.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the push socket layer (raw frames).
	LayerTransport Layer = 0
	// LayerWire is the frame encoding layer (decoded frames).
	LayerWire Layer = 1
	// LayerSync is the subscription, polling, arbitration and cache layer.
	LayerSync Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a push frame.
	CategoryFrame Category = 0
	// CategoryProbe indicates a health probe result.
	CategoryProbe Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryPull indicates a pull request outcome.
	CategoryPull Category = 3
	// CategoryCache indicates a cache write decision.
	CategoryCache Category = 4
	// CategoryError indicates an error event.
	CategoryError Category = 5
)

var categoryNames = map[Category]string{
	CategoryFrame: "FRAME",
	CategoryProbe: "PROBE",
	CategoryState: "STATE",
	CategoryPull:  "PULL",
	CategoryCache: "CACHE",
	CategoryError: "ERROR",
}

// String returns the category name.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseCategory parses a category name, case-sensitive upper case.
func ParseCategory(s string) (Category, bool) {
	for c, name := range categoryNames {
		if name == s {
			return c, true
		}
	}
	return 0, false
}

// FrameEvent captures one push frame.
type FrameEvent struct {
	// Type is the frame envelope tag.
	Type wire.FrameType `cbor:"1,keyasint"`

	// Size is the encoded frame size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// MaxFrameData is the number of frame bytes kept in a FrameEvent.
const MaxFrameData = 4096

// NewFrameEvent builds a FrameEvent, truncating data to MaxFrameData.
func NewFrameEvent(t wire.FrameType, data []byte) *FrameEvent {
	fe := &FrameEvent{Type: t, Size: len(data)}
	if len(data) > MaxFrameData {
		fe.Data = append([]byte(nil), data[:MaxFrameData]...)
		fe.Truncated = true
	} else {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// StateChangeEvent captures connection, subscription and view lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a push connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscription indicates a subscription change.
	StateEntitySubscription StateEntity = 1
	// StateEntityView indicates a view mount, parameter change or unmount.
	StateEntityView StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntityView:
		return "VIEW"
	default:
		return "UNKNOWN"
	}
}

// ProbeEvent captures a health probe outcome.
type ProbeEvent struct {
	// Seq is the probe sequence number.
	Seq uint32 `cbor:"1,keyasint"`

	// Latency is the round trip time, zero for a missed probe.
	Latency time.Duration `cbor:"2,keyasint,omitempty"`

	// Missed is the number of consecutive unanswered probes.
	Missed int `cbor:"3,keyasint,omitempty"`
}

// PullEvent captures one pull request outcome.
type PullEvent struct {
	// Key is the cache key the pull was issued for.
	Key string `cbor:"1,keyasint"`

	// Duration is the request round trip time.
	Duration time.Duration `cbor:"2,keyasint,omitempty"`

	// Outcome is "ok", "error" or "discarded".
	Outcome string `cbor:"3,keyasint"`
}

// CacheEvent captures a cache write decision.
type CacheEvent struct {
	// Key is the cache key written.
	Key string `cbor:"1,keyasint"`

	// Provenance is "push" or "pull".
	Provenance string `cbor:"2,keyasint"`

	// Accepted is false when the overwrite rule rejected the write.
	Accepted bool `cbor:"3,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the close code or HTTP status (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
