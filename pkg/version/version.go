// Package version holds the push protocol version carried in frame envelopes
// and offered as a WebSocket subprotocol.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Current is the push protocol version implemented by this library.
var Current = Version{Major: 1, Minor: 0}

// subprotocolPrefix names the WebSocket subprotocol, e.g. "statsync.v1".
const subprotocolPrefix = "statsync.v"

// ErrInvalid is wrapped by every parse failure.
var ErrInvalid = errors.New("invalid protocol version")

// Version is a "major.minor" protocol version. Minor versions only add
// optional fields, so peers with the same major version interoperate.
type Version struct {
	Major uint16
	Minor uint16
}

// Parse parses "major.minor". A bare "major" is accepted as minor 0.
func Parse(s string) (Version, error) {
	majorStr, minorStr, hasMinor := strings.Cut(s, ".")
	major, err := parseComponent(majorStr)
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: major: %v", ErrInvalid, s, err)
	}
	v := Version{Major: major}
	if hasMinor {
		if v.Minor, err = parseComponent(minorStr); err != nil {
			return Version{}, fmt.Errorf("%w %q: minor: %v", ErrInvalid, s, err)
		}
	}
	return v, nil
}

func parseComponent(s string) (uint16, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// String returns "major.minor".
func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Major), 10) + "." + strconv.FormatUint(uint64(v.Minor), 10)
}

// Compatible reports whether frames of version other can be decoded by a
// peer speaking v.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// Subprotocol returns the WebSocket subprotocol for v's major version.
func (v Version) Subprotocol() string {
	return subprotocolPrefix + strconv.FormatUint(uint64(v.Major), 10)
}

// ParseSubprotocol returns the major version named by a subprotocol.
func ParseSubprotocol(proto string) (uint16, error) {
	suffix, ok := strings.CutPrefix(proto, subprotocolPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: not a statsync subprotocol: %q", ErrInvalid, proto)
	}
	major, err := parseComponent(suffix)
	if err != nil {
		return 0, fmt.Errorf("%w: subprotocol %q: %v", ErrInvalid, proto, err)
	}
	return major, nil
}

// AcceptSubprotocol checks the subprotocol chosen by the server. An empty
// value means the server did not negotiate; frame envelopes still carry the
// version.
func AcceptSubprotocol(proto string) error {
	if proto == "" {
		return nil
	}
	major, err := ParseSubprotocol(proto)
	if err != nil {
		return err
	}
	if major != Current.Major {
		return fmt.Errorf("%w: server chose major version %d, want %d", ErrInvalid, major, Current.Major)
	}
	return nil
}
