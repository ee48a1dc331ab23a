package http

import (
	"context"
	"testing"
	"time"
)

func TestInFlightTracker_IncrementDecrement(t *testing.T) {
	tr := NewInFlightTracker()
	if got := tr.Count(); got != 0 {
		t.Errorf("initial Count() = %d, want 0", got)
	}
	tr.Increment()
	tr.Increment()
	if got := tr.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	tr.Decrement()
	if got := tr.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestInFlightTracker_WaitForZero_AlreadyZero(t *testing.T) {
	tr := NewInFlightTracker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.WaitForZero(ctx, 10*time.Millisecond); err != nil {
		t.Errorf("WaitForZero() = %v, want nil", err)
	}
}

func TestInFlightTracker_WaitForZero_ReachesZero(t *testing.T) {
	tr := NewInFlightTracker()
	tr.Increment()
	go func() {
		time.Sleep(30 * time.Millisecond)
		tr.Decrement()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.WaitForZero(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForZero() = %v, want nil", err)
	}
}

func TestInFlightTracker_WaitForZero_Timeout(t *testing.T) {
	tr := NewInFlightTracker()
	tr.Increment()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := tr.WaitForZero(ctx, 5*time.Millisecond); err != context.DeadlineExceeded {
		t.Errorf("WaitForZero() = %v, want context.DeadlineExceeded", err)
	}
}
