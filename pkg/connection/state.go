package connection

import "errors"

// Connection errors.
var (
	ErrNotConnected   = errors.New("not connected")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrUnexpectedPeer = errors.New("unexpected frame from collector")
)

// State represents the push connection state.
type State uint8

const (
	// StateDisconnected indicates no connection and no attempt in progress.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates an open connection.
	StateConnected

	// StateErrored indicates the last connection or attempt failed; a
	// reconnect is scheduled while the manager is enabled.
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
