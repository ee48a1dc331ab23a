package service

import (
	"context"
	"errors"
	"testing"
)

func TestHandle_FinishOnce(t *testing.T) {
	h := newHandle(nil)
	if h.Err() != nil {
		t.Fatal("running handle should report nil")
	}
	boom := errors.New("boom")
	h.finish(boom)
	h.finish(nil)
	<-h.Done()
	if !errors.Is(h.Err(), boom) {
		t.Errorf("Err() = %v, want first result", h.Err())
	}
}

// TestHandle_ChainForwardsCancel verifies that canceling a handle cancels its follow-up,
// including when the cancel happened before the follow-up was attached.
func TestHandle_ChainForwardsCancel(t *testing.T) {
	_, cancelA := context.WithCancel(context.Background())
	a := newHandle(cancelA)
	ctxB, cancelB := context.WithCancel(context.Background())
	b := newHandle(cancelB)

	a.chain(b)
	a.Cancel()
	if ctxB.Err() == nil {
		t.Error("follow-up not canceled")
	}

	c := newHandle(nil)
	c.Cancel()
	ctxD, cancelD := context.WithCancel(context.Background())
	c.chain(newHandle(cancelD))
	if ctxD.Err() == nil {
		t.Error("follow-up attached after cancel not canceled")
	}
}

func TestHandle_WaitContext(t *testing.T) {
	h := newHandle(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v", err)
	}
	if err := completedHandle(nil).Wait(context.Background()); err != nil {
		t.Errorf("completed Wait() = %v", err)
	}
}
