package view

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a time range, either fixed or rolling.
//
// A rolling window ("last 15 minutes") is re-resolved against the current
// time on every use, so its bounds move forward. A fixed window never moves.
type Window struct {
	// Start and End bound a fixed window.
	Start time.Time
	End   time.Time

	// Last is the length of a rolling window. Non-zero means rolling.
	Last time.Duration
}

// Fixed returns a window with fixed bounds.
func Fixed(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

// Last returns a rolling window of length d ending now.
func Last(d time.Duration) Window {
	return Window{Last: d}
}

// Rolling reports whether the window moves with time.
func (w Window) Rolling() bool {
	return w.Last > 0
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Last == 0 && w.Start.IsZero() && w.End.IsZero()
}

// Validate checks the window bounds.
func (w Window) Validate() error {
	if w.Rolling() {
		if !w.Start.IsZero() || !w.End.IsZero() {
			return fmt.Errorf("%w: rolling window with fixed bounds", ErrInvalidWindow)
		}
		return nil
	}
	if w.Last < 0 {
		return fmt.Errorf("%w: negative length", ErrInvalidWindow)
	}
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: missing bounds", ErrInvalidWindow)
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: end %s not after start %s", ErrInvalidWindow, w.End, w.Start)
	}
	return nil
}

// Resolve returns concrete bounds at time now.
func (w Window) Resolve(now time.Time) (start, end time.Time) {
	if w.Rolling() {
		return now.Add(-w.Last), now
	}
	return w.Start, w.End
}

// Fingerprint is the cache-key form of the window. Rolling windows are
// identified by their length only, since their bounds are ephemeral.
func (w Window) Fingerprint() string {
	if w.Rolling() {
		return "last=" + w.Last.String()
	}
	return fmt.Sprintf("[%d,%d]", w.Start.UnixMilli(), w.End.UnixMilli())
}

// String implements fmt.Stringer.
func (w Window) String() string {
	if w.Rolling() {
		return "last " + w.Last.String()
	}
	return w.Start.UTC().Format(time.RFC3339) + ".." + w.End.UTC().Format(time.RFC3339)
}

// ParseWindow parses either a duration ("15m", "24h") as a rolling window or
// "start..end" as a fixed window. Bounds may be RFC 3339 timestamps or Unix
// milliseconds.
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Window{}, fmt.Errorf("%w: empty", ErrInvalidWindow)
	}

	if from, to, ok := strings.Cut(s, ".."); ok {
		start, err := parseBound(from)
		if err != nil {
			return Window{}, err
		}
		end, err := parseBound(to)
		if err != nil {
			return Window{}, err
		}
		w := Fixed(start, end)
		return w, w.Validate()
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	if d <= 0 {
		return Window{}, fmt.Errorf("%w: non-positive length %s", ErrInvalidWindow, d)
	}
	return Last(d), nil
}

func parseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad bound %q", ErrInvalidWindow, s)
	}
	return t, nil
}
