package connection

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			3 * time.Second,
			6 * time.Second,
			12 * time.Second,
			24 * time.Second,
			30 * time.Second,
			30 * time.Second,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("failure %d: delay = %v, want %v", i+1, got, exp)
			}
		}
	})

	t.Run("NonDecreasingUntilReset", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: 250 * time.Millisecond, Max: 7 * time.Second, Multiplier: 3})

		prev := time.Duration(0)
		for i := 0; i < 20; i++ {
			d := b.Next()
			if d < prev {
				t.Fatalf("delay %d decreased: %v < %v", i, d, prev)
			}
			if d > 7*time.Second {
				t.Fatalf("delay %d above cap: %v", i, d)
			}
			prev = d
		}

		b.Reset()
		if got := b.Next(); got != 250*time.Millisecond {
			t.Errorf("first delay after reset = %v, want 250ms", got)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("backoff should have increased")
		}

		b.Reset()

		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("Attempts", func(t *testing.T) {
		b := NewBackoff()
		for i := 1; i <= 5; i++ {
			b.Next()
			if b.Attempts() != i {
				t.Errorf("after %d calls, Attempts() = %d", i, b.Attempts())
			}
		}
	})

	t.Run("Peek", func(t *testing.T) {
		b := NewBackoff()
		if b.Peek() != b.Peek() {
			t.Error("Peek without jitter should be stable")
		}
		if b.Attempts() != 0 {
			t.Error("Peek should not advance")
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Minute, Jitter: 0.25})

		for i := 0; i < 50; i++ {
			s := b.Peek()
			if s < time.Second || s > 1250*time.Millisecond {
				t.Fatalf("sample %d: %v out of range [1s, 1.25s]", i, s)
			}
		}
	})

	t.Run("InvalidConfigTakesDefaults", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: -1, Max: 0, Multiplier: 0.5, Jitter: -3})
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v, want %v", b.Current(), InitialBackoff)
		}
		if got := b.Next(); got != InitialBackoff {
			t.Errorf("Next() = %v, want %v", got, InitialBackoff)
		}
		if b.Current() != 2*InitialBackoff {
			t.Errorf("multiplier not defaulted: Current() = %v", b.Current())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateErrored:      "errored",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestSlot(t *testing.T) {
	var s Slot[func() int]
	if s.Load() != nil {
		t.Fatal("empty slot should load zero value")
	}

	s.Store(func() int { return 1 })
	if got := s.Load()(); got != 1 {
		t.Errorf("got %d, want 1", got)
	}

	s.Store(func() int { return 2 })
	if got := s.Load()(); got != 2 {
		t.Errorf("got %d after replace, want 2", got)
	}
}
