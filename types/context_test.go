package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, ok := TrackID(ctx); ok {
		t.Fatalf("expected empty track id")
	}

	ctx = WithTrackID(ctx, "t1")
	if got, ok := TrackID(ctx); !ok || got != "t1" {
		t.Fatalf("TrackID mismatch: %v %v", got, ok)
	}

	ctx = WithCaller(ctx, "summarize")
	if got, ok := Caller(ctx); !ok || got != "summarize" {
		t.Fatalf("Caller mismatch: %v %v", got, ok)
	}
}
