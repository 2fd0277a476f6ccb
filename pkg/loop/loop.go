package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrClosed is returned when posting to a loop that has been closed.
var ErrClosed = errors.New("loop closed")

// Executor schedules a task for later execution on the loop goroutine.
// Post returns false if the task was rejected because the loop is closed.
type Executor interface {
	Post(fn func()) bool
}

// Loop is a FIFO task queue drained by a single goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	closeCh chan struct{}
	stopped chan struct{}

	logger *slog.Logger
}

// New creates a loop. Call Run to start executing tasks.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Post enqueues fn. It never blocks.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		// The task may have run right before the loop stopped.
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is cancelled or Close is called.
// Tasks still queued when Run returns are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.exec(fn)

			select {
			case <-l.closeCh:
				return nil
			default:
			}
		}

		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.closeCh:
			return nil
		case <-l.wake:
		}
	}
}

// Close stops the loop. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.closeCh)
}

// Stopped is closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Compile-time interface satisfaction check.
var _ Executor = (*Loop)(nil)
