package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tingxueren/clash-master/pkg/version"
)

// Protocol errors. A frame that fails with any of these is discarded.
var (
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrUnknownFrame        = errors.New("unknown frame type")
	ErrIncompatibleVersion = errors.New("incompatible protocol version")
)

// encMode is the CBOR encoder mode for frames.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for frames.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// envelope is the outer frame map.
type envelope struct {
	Type    FrameType       `cbor:"1,keyasint"`
	Version string          `cbor:"2,keyasint,omitempty"`
	Body    cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode encodes a frame with the current protocol version.
func Encode(f Frame) ([]byte, error) {
	var body any
	switch v := f.(type) {
	case *Subscribe:
		body = v
	case *Ping:
		body = v
	case *Stats:
		body = &v.Snapshot
	case *Pong:
		body = v
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
	}

	raw, err := Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", f.Type(), err)
	}
	return Marshal(envelope{Type: f.Type(), Version: version.Current.String(), Body: raw})
}

// Decode decodes one frame. Errors wrap ErrMalformedFrame, ErrUnknownFrame
// or ErrIncompatibleVersion.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if env.Version != "" {
		v, err := version.Parse(env.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIncompatibleVersion, err)
		}
		if !version.Current.Compatible(v) {
			return nil, fmt.Errorf("%w: %s", ErrIncompatibleVersion, v)
		}
	}

	var f Frame
	switch env.Type {
	case FrameSubscribe:
		f = &Subscribe{}
	case FramePing:
		f = &Ping{}
	case FrameStats:
		s := &Stats{}
		if err := decodeBody(env, &s.Snapshot); err != nil {
			return nil, err
		}
		return s, nil
	case FramePong:
		f = &Pong{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, env.Type)
	}

	if err := decodeBody(env, f); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeBody(env envelope, v any) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("%w: %s frame without body", ErrMalformedFrame, env.Type)
	}
	if err := Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrMalformedFrame, env.Type, err)
	}
	return nil
}

// IsProtocolError reports whether err is one of the frame protocol errors.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrUnknownFrame) ||
		errors.Is(err, ErrIncompatibleVersion)
}

// Equal compares two values by their CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
