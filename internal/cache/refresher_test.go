package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingLoader struct {
	calls atomic.Int32
	err   error
}

func (l *countingLoader) Refresh(ctx context.Context) error {
	l.calls.Add(1)
	return l.err
}

func TestRefresher_RefreshOnce_Success(t *testing.T) {
	loader := &countingLoader{}
	r := NewRefresher(loader, nil, clockwork.NewFakeClock())

	if err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce() error = %v", err)
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestRefresher_RefreshOnce_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	loader := &countingLoader{err: errors.New("grist down")}
	r := NewRefresher(loader, zap.New(core), clockwork.NewFakeClock())

	if err := r.RefreshOnce(context.Background()); err == nil {
		t.Fatal("RefreshOnce() error = nil, want non-nil")
	}
	if logs.FilterMessage("dataset refresh failed").Len() != 1 {
		t.Errorf("expected one 'dataset refresh failed' log, got %v", logs.All())
	}
}

// TestRefresher_Run_TicksAtInterval verifies the initial refresh plus one per tick,
// and that Run returns when the context is cancelled.
func TestRefresher_Run_TicksAtInterval(t *testing.T) {
	loader := &countingLoader{}
	clock := clockwork.NewFakeClock()
	r := NewRefresher(loader, nil, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 5*time.Minute) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	if n := loader.calls.Load(); n != 1 {
		t.Fatalf("calls after start = %d, want 1", n)
	}

	clock.Advance(5 * time.Minute)
	waitFor(t, func() bool { return loader.calls.Load() == 2 })
	clock.Advance(5 * time.Minute)
	waitFor(t, func() bool { return loader.calls.Load() == 3 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}
