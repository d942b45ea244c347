package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestProperty_RetryBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRetries := rapid.IntRange(0, 8).Draw(rt, "maxRetries")
		failures := rapid.IntRange(0, 12).Draw(rt, "failures")
		initial := time.Duration(rapid.IntRange(1, 1000).Draw(rt, "initialMs")) * time.Millisecond

		var delays []time.Duration
		retryer := NewBackoffRetryer(&RetryPolicy{
			MaxRetries:   maxRetries,
			InitialDelay: initial,
			Sleep:        recordSleep(&delays),
		}, nil)

		calls := 0
		err := retryer.Do(context.Background(), func(context.Context, int) error {
			calls++
			if calls <= failures {
				return errors.New("transient")
			}
			return nil
		})

		wantCalls := min(failures+1, maxRetries+1)
		if calls != wantCalls {
			rt.Fatalf("calls = %d, want %d", calls, wantCalls)
		}
		if (failures > maxRetries) != (err != nil) {
			rt.Fatalf("unexpected error state: failures=%d maxRetries=%d err=%v", failures, maxRetries, err)
		}
		if len(delays) != calls-1 {
			rt.Fatalf("delays = %d, want %d", len(delays), calls-1)
		}
		for i, d := range delays {
			if want := initial << i; d != want {
				rt.Fatalf("delay[%d] = %v, want %v", i, d, want)
			}
		}
	})
}
