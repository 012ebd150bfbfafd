package sched

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunnerFanInErrors(t *testing.T) {
	rn := New(context.Background())
	boom := errors.New("boom")
	rn.Spawn(func(ctx context.Context) error { return boom })

	select {
	case err := <-rn.Errors():
		if err != boom {
			t.Fatalf("expected boom, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fan-in error")
	}
	rn.Shutdown()
}

func TestRunnerCancelStopsTasks(t *testing.T) {
	rn := New(context.Background())
	started := make(chan struct{})
	rn.Spawn(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	rn.Cancel()
	rn.Wait()
}

func TestNotifierWaitWakesOnNotify(t *testing.T) {
	n := NewNotifier()
	done := make(chan struct{})
	go func() {
		_ = n.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("waiter woke before Notify")
	case <-time.After(20 * time.Millisecond):
	}

	n.Notify()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("waiter did not wake after Notify")
	}
}

func TestNotifierWaitRespectsCancellation(t *testing.T) {
	n := NewNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Wait(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
