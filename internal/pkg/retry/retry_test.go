package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, func(int) error {
		calls++
		if calls < 3 {
			return ErrRetry
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Backoff: time.Millisecond}, func(int) error {
		calls++
		return ErrRetry
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
}

func TestDo_PassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5}, func(int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 3, Backoff: time.Second}, func(int) error {
		return ErrRetry
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestDo_AttemptBoundProperty checks fn never runs more than Attempts times.
func TestDo_AttemptBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attempts := rapid.IntRange(1, 10).Draw(t, "attempts")
		succeedAt := rapid.IntRange(0, 15).Draw(t, "succeedAt")

		calls := 0
		err := Do(context.Background(), Policy{Attempts: attempts}, func(attempt int) error {
			calls++
			if attempt == succeedAt {
				return nil
			}
			return ErrRetry
		})

		if calls > attempts {
			t.Fatalf("fn ran %d times with %d attempts", calls, attempts)
		}
		if succeedAt < attempts && err != nil {
			t.Fatalf("expected success at attempt %d, got %v", succeedAt, err)
		}
		if succeedAt >= attempts && !errors.Is(err, ErrExhausted) {
			t.Fatalf("expected exhaustion, got %v", err)
		}
	})
}
