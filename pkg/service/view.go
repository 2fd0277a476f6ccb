package service

import (
	"context"
	"sync"

	"github.com/tingxueren/clash-master/pkg/fusion"
	"github.com/tingxueren/clash-master/pkg/view"
)

// ViewState is the state delivered for a view.
type ViewState = fusion.ViewState

// View is one mounted view. Its methods are safe for concurrent use.
type View struct {
	svc     *SyncService
	id      uint64
	updates chan ViewState

	mu     sync.Mutex
	desc   view.Descriptor
	latest ViewState
	closed bool

	// Loop-confined.
	handle *fusion.Handle
}

func newView(s *SyncService, desc view.Descriptor) *View {
	return &View{
		svc:     s,
		desc:    desc,
		updates: make(chan ViewState, 1),
	}
}

// ID identifies the view within its service.
func (v *View) ID() uint64 {
	return v.id
}

// Descriptor returns the current parameters.
func (v *View) Descriptor() view.Descriptor {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.desc
}

// Updates delivers state changes. Only the latest undelivered state is
// kept, so a slow reader skips intermediate states. The channel is closed
// when the view is closed.
func (v *View) Updates() <-chan ViewState {
	return v.updates
}

// State returns the latest state.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}

// SetParameters switches the view to desc.
func (v *View) SetParameters(ctx context.Context, desc view.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	var setErr error
	err := v.svc.loop.Do(ctx, func() {
		if v.handle == nil || v.handle.Closed() {
			setErr = ErrViewClosed
			return
		}
		setErr = v.handle.SetParameters(desc)
	})
	if err != nil {
		return err
	}
	if setErr != nil {
		return setErr
	}
	v.mu.Lock()
	v.desc = desc
	v.mu.Unlock()
	return nil
}

// Close unmounts the view and closes Updates. Idempotent.
func (v *View) Close() error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := v.svc.loop.Do(ctx, v.close); err != nil && !v.isClosed() {
		return err
	}
	return nil
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// close runs on the loop.
func (v *View) close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	if v.handle != nil {
		v.handle.Unmount()
		delete(v.svc.views, v.id)
	}
	close(v.updates)
}

// publish runs on the loop for every state change.
func (v *View) publish(st ViewState) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.latest = st
	v.mu.Unlock()

	// The loop is the only sender, so after draining the send cannot block.
	select {
	case <-v.updates:
	default:
	}
	v.updates <- st
}
