package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Filter specifies criteria for filtering events.
// Empty/nil fields match all events for that criterion.
type Filter struct {
	// ConnectionID filters by exact connection ID match.
	ConnectionID string

	// Generation filters by push connection generation.
	Generation *uint64

	// Direction filters by frame direction.
	Direction *Direction

	// Layer filters by layer.
	Layer *Layer

	// Category filters by event category.
	Category *Category

	// KeyPrefix keeps pull and cache events whose key has this prefix.
	KeyPrefix string

	// TimeStart filters events at or after this time.
	TimeStart *time.Time

	// TimeEnd filters events before this time.
	TimeEnd *time.Time
}

// Matches returns true if the event matches all filter criteria.
func (f *Filter) Matches(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Generation != nil && event.Generation != *f.Generation {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.KeyPrefix != "" && !strings.HasPrefix(eventKey(event), f.KeyPrefix) {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return true
}

func eventKey(e Event) string {
	switch {
	case e.Pull != nil:
		return e.Pull.Key
	case e.Cache != nil:
		return e.Cache.Key
	default:
		return ""
	}
}

// Reader streams events from an event log file.
type Reader struct {
	file    *os.File
	stream  *streamReader
	filter  Filter
	skipped int
}

// NewReader creates a Reader that reads all events from path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader that returns only matching events. It
// fails with ErrNotEventLog when path has no event log header.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, err := newStreamReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Reader{file: f, stream: stream, filter: filter}, nil
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return r.stream.header
}

// Skipped returns how many events the filter has dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Next returns the next matching event, or io.EOF at the end of the file.
// A record cut short by a crash while writing reads as io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	for {
		event, err := r.stream.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.Matches(event) {
			return event, nil
		}
		r.skipped++
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
