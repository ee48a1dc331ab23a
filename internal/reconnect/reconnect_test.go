package reconnect

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// TestFibDelays verifies the Fibonacci schedule up to the maximum.
func TestFibDelays(t *testing.T) {
	delays := fibDelays(time.Minute, 13*time.Minute)
	want := []time.Duration{1, 2, 3, 5, 8, 13}
	if len(delays) != len(want) {
		t.Fatalf("len(delays) = %d, want %d", len(delays), len(want))
	}
	for i, w := range want {
		if delays[i] != w*time.Minute {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], w*time.Minute)
		}
	}
}

func TestFibDelays_StopsBeforeMax(t *testing.T) {
	delays := fibDelays(time.Minute, 4*time.Minute)
	if last := delays[len(delays)-1]; last != 3*time.Minute {
		t.Errorf("last delay = %v, want 3m", last)
	}
	if got := fibDelays(time.Minute, 0); len(got) != 1 || got[0] != time.Minute {
		t.Errorf("fibDelays with max below initial = %v, want [1m]", got)
	}
}

func testConfig() Config {
	return Config{
		Window:            time.Minute,
		OfflineFailurePct: 50,
		CheckInterval:     5 * time.Millisecond,
		InitialDelay:      time.Millisecond,
		MaxDelay:          3 * time.Millisecond,
	}
}

// TestWatcher_RecoversAfterOutage verifies that failures trigger probing and that the
// first successful probe runs onRecover exactly once.
func TestWatcher_RecoversAfterOutage(t *testing.T) {
	tracker := traffic.NewTracker()
	tracker.RecordFailure()
	tracker.RecordFailure()

	var probes atomic.Int32
	probe := func(ctx context.Context) error {
		if probes.Add(1) < 4 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}
	recovered := make(chan struct{}, 4)
	w := New(tracker, probe, func() { recovered <- struct{}{} }, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("onRecover not called")
	}
	if n := probes.Load(); n != 4 {
		t.Errorf("probes = %d, want 4", n)
	}

	// Failures recorded before the recovery must not restart probing.
	time.Sleep(30 * time.Millisecond)
	select {
	case <-recovered:
		t.Error("onRecover called again without new failures")
	default:
	}
	if w.Offline() {
		t.Error("Offline() = true after recovery")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestWatcher_OnlineDoesNotProbe(t *testing.T) {
	tracker := traffic.NewTracker()
	tracker.RecordFailure()
	tracker.RecordSuccess()
	tracker.RecordSuccess()

	var probes atomic.Int32
	w := New(tracker, func(context.Context) error { probes.Add(1); return nil }, nil, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	if n := probes.Load(); n != 0 {
		t.Errorf("probes = %d, want 0 below the offline threshold", n)
	}
}

// TestWatcher_StopsProbingOnCancel verifies that an outage that never ends does not
// outlive the context.
func TestWatcher_StopsProbingOnCancel(t *testing.T) {
	tracker := traffic.NewTracker()
	tracker.RecordFailure()

	w := New(tracker, func(context.Context) error { return errors.New("down") }, nil, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !w.Offline() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !w.Offline() {
		t.Fatal("Offline() never became true")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
