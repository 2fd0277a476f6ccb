package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(nil)
	go func() { _ = l.Run(context.Background()) }()
	t.Cleanup(l.Close)
	return l
}

func TestLoop(t *testing.T) {
	t.Run("FIFOOrder", func(t *testing.T) {
		l := startLoop(t)

		var got []int
		for i := 0; i < 100; i++ {
			i := i
			require.True(t, l.Post(func() { got = append(got, i) }))
		}

		var snapshot []int
		require.NoError(t, l.Do(context.Background(), func() {
			snapshot = append(snapshot, got...)
		}))

		require.Len(t, snapshot, 100)
		for i, v := range snapshot {
			assert.Equal(t, i, v)
		}
	})

	t.Run("ConcurrentPosters", func(t *testing.T) {
		l := startLoop(t)

		counter := 0
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					l.Post(func() { counter++ })
				}
			}()
		}
		wg.Wait()

		var final int
		require.NoError(t, l.Do(context.Background(), func() { final = counter }))
		assert.Equal(t, 400, final)
	})

	t.Run("PanicDoesNotStopLoop", func(t *testing.T) {
		l := startLoop(t)

		l.Post(func() { panic("boom") })

		ran := false
		require.NoError(t, l.Do(context.Background(), func() { ran = true }))
		assert.True(t, ran)
	})

	t.Run("PostAfterClose", func(t *testing.T) {
		l := New(nil)
		l.Close()
		l.Close()

		assert.False(t, l.Post(func() {}))
		assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
	})

	t.Run("RunStopsOnContextCancel", func(t *testing.T) {
		l := New(nil)
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() { errCh <- l.Run(ctx) }()
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}

		select {
		case <-l.Stopped():
		default:
			t.Error("Stopped channel not closed")
		}
	})

	t.Run("DoHonoursContext", func(t *testing.T) {
		l := New(nil) // never run
		defer l.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := l.Do(ctx, func() {})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
