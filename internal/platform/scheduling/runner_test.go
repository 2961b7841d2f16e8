package scheduling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStart_RunsImmediately(t *testing.T) {
	var calls atomic.Int32
	h := Start(context.Background(), "test", time.Hour, func(ctx context.Context) {
		calls.Add(1)
	}, zerolog.Nop())
	defer h.Stop()

	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestStart_RunsEveryInterval(t *testing.T) {
	var calls atomic.Int32
	h := Start(context.Background(), "test", 5*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	}, zerolog.Nop())

	waitFor(t, func() bool { return calls.Load() >= 3 })
	h.Stop()

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Errorf("job ran after Stop: %d -> %d", after, calls.Load())
	}
}

func TestStart_SkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	var active, maxActive atomic.Int32

	h := Start(context.Background(), "slow", 2*time.Millisecond, func(ctx context.Context) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		active.Add(-1)
	}, zerolog.Nop())

	waitFor(t, func() bool { return h.Skipped() >= 3 })
	close(release)
	h.Stop()

	if maxActive.Load() != 1 {
		t.Errorf("expected at most one run in flight, saw %d", maxActive.Load())
	}
}

func TestStop_WaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	h := Start(context.Background(), "test", time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
	}, zerolog.Nop())

	<-started
	h.Stop()
	if !finished.Load() {
		t.Error("Stop returned before the in-flight run finished")
	}
	// second Stop must not block or panic
	h.Stop()
}

func TestStart_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, "test", time.Hour, func(ctx context.Context) {}, zerolog.Nop())
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after parent cancel")
	}
}

func TestStart_RecoversPanics(t *testing.T) {
	var calls atomic.Int32
	h := Start(context.Background(), "panicky", 2*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
		panic("boom")
	}, zerolog.Nop())
	defer h.Stop()

	waitFor(t, func() bool { return calls.Load() >= 2 })
}
