package fusion

import (
	"github.com/tingxueren/clash-master/pkg/view"
)

// Handle is one consumer's interest in one view.
type Handle struct {
	arbiter *Arbiter
	id      uint64
	order   uint64
	desc    view.Descriptor
	fn      func(ViewState)
	state   ViewState

	pollKey view.Key
	polling bool
	closed  bool
}

// ID identifies the handle within its Arbiter.
func (h *Handle) ID() uint64 {
	return h.id
}

// Descriptor returns the current parameters.
func (h *Handle) Descriptor() view.Descriptor {
	return h.desc
}

// State returns the current view state.
func (h *Handle) State() ViewState {
	return h.state
}

// SetParameters switches the view to desc. The previous pull schedule is
// released, the new one starts, and the subscription is recomputed with
// this view as the most recent.
func (h *Handle) SetParameters(desc view.Descriptor) error {
	if h.closed {
		return ErrUnmounted
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	a := h.arbiter
	a.order++
	h.order = a.order

	if desc.Key() != h.desc.Key() {
		a.detach(h)
		h.desc = desc
		a.attach(h)
		a.logView(h, "updated")
	} else {
		h.desc = desc
	}
	a.resubscribe()
	return nil
}

// Unmount releases the view. Idempotent.
func (h *Handle) Unmount() {
	h.arbiter.unmount(h)
}

// Closed reports whether Unmount was called.
func (h *Handle) Closed() bool {
	return h.closed
}

func (h *Handle) setErr(err error) {
	if err == nil && h.state.Err == nil {
		return
	}
	h.state.Err = err
	if err != nil {
		h.state.Loading = false
	}
	h.notify()
}

func (h *Handle) notify() {
	if h.fn != nil && !h.closed {
		h.fn(h.state)
	}
}
