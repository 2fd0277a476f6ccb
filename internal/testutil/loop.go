package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tingxueren/clash-master/pkg/loop"
)

// Timeout bounds every wait in this package.
const Timeout = 5 * time.Second

// StartLoop runs a loop on a background goroutine until the test ends.
func StartLoop(t testing.TB) *loop.Loop {
	t.Helper()
	l := loop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

// Do runs fn on the loop and waits for it.
func Do(t testing.TB, l *loop.Loop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	require.NoError(t, l.Do(ctx, fn))
}

// Eventually polls cond on the loop until it holds.
func Eventually(t testing.TB, l *loop.Loop, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, func() bool {
		var ok bool
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()
		if err := l.Do(ctx, func() { ok = cond() }); err != nil {
			return false
		}
		return ok
	}, Timeout, 5*time.Millisecond, msgAndArgs...)
}

// Never asserts cond stays false on the loop for d.
func Never(t testing.TB, l *loop.Loop, d time.Duration, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Never(t, func() bool {
		var ok bool
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()
		if err := l.Do(ctx, func() { ok = cond() }); err != nil {
			return false
		}
		return ok
	}, d, 5*time.Millisecond, msgAndArgs...)
}
