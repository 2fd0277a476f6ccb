package connection

import "sync/atomic"

// Slot is a one-value holder whose identity never changes. The manager
// keeps a single long-lived reference and reads the current contents on
// every event, so consumers swap callbacks without re-subscribing.
type Slot[T any] struct {
	v atomic.Pointer[T]
}

// Store replaces the contents.
func (s *Slot[T]) Store(v T) {
	s.v.Store(&v)
}

// Load returns the contents, or the zero value if nothing was stored.
func (s *Slot[T]) Load() T {
	if p := s.v.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}
