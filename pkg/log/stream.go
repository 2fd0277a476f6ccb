package log

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FormatName identifies an event log in its header record.
const FormatName = "statsync-evlog"

// FormatVersion is the header version written by this package. Readers
// accept this version and older.
const FormatVersion = 1

// ErrNotEventLog is returned when a file does not start with an event log
// header.
var ErrNotEventLog = errors.New("not a statsync event log")

// Header is the first record of every event log file.
type Header struct {
	Format  string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	Created time.Time `cbor:"3,keyasint"`
}

// Canonical encoding keeps files byte-stable for the same events; RFC3339Nano
// timestamps keep probe latencies reconstructible.
var (
	streamEnc cbor.EncMode
	streamDec cbor.DecMode
)

func init() {
	var err error
	streamEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("event log encoder: %v", err))
	}
	streamDec, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("event log decoder: %v", err))
	}
}

// streamWriter encodes the header and events of one file.
type streamWriter struct {
	enc *cbor.Encoder
}

func newStreamWriter(w io.Writer) *streamWriter {
	return &streamWriter{enc: streamEnc.NewEncoder(w)}
}

func (s *streamWriter) writeHeader(created time.Time) error {
	return s.enc.Encode(Header{Format: FormatName, Version: FormatVersion, Created: created.UTC()})
}

func (s *streamWriter) writeEvent(e Event) error {
	return s.enc.Encode(e)
}

// streamReader decodes a file written by streamWriter.
type streamReader struct {
	dec    *cbor.Decoder
	header Header
}

func newStreamReader(r io.Reader) (*streamReader, error) {
	s := &streamReader{dec: streamDec.NewDecoder(r)}
	if err := s.dec.Decode(&s.header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrNotEventLog)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotEventLog, err)
	}
	if s.header.Format != FormatName {
		return nil, ErrNotEventLog
	}
	if s.header.Version > FormatVersion {
		return nil, fmt.Errorf("event log version %d is newer than %d", s.header.Version, FormatVersion)
	}
	return s, nil
}

func (s *streamReader) next() (Event, error) {
	var e Event
	if err := s.dec.Decode(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}
