// Package scheduling runs background jobs on a fixed interval.
package scheduling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Job is one unit of periodic work. It must honor ctx cancellation.
type Job func(ctx context.Context)

// Handle controls a running job loop. The zero value is not usable; obtain
// one from Start.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	jobs   sync.WaitGroup
	once   sync.Once

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// Start runs job once immediately and then every interval until ctx is
// cancelled or Stop is called. A tick that fires while the previous run is
// still in flight is skipped.
func Start(ctx context.Context, name string, interval time.Duration, job Job, logger zerolog.Logger) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger = logger.With().Str("job", name).Logger()

	go h.loop(ctx, interval, job, logger)
	return h
}

func (h *Handle) loop(ctx context.Context, interval time.Duration, job Job, logger zerolog.Logger) {
	defer close(h.done)

	logger.Info().Dur("interval", interval).Msg("scheduler started")
	h.trigger(ctx, job, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.jobs.Wait()
			logger.Info().Int64("runs", h.runs.Load()).Int64("skipped", h.skipped.Load()).Msg("scheduler stopped")
			return
		case <-ticker.C:
			h.trigger(ctx, job, logger)
		}
	}
}

func (h *Handle) trigger(ctx context.Context, job Job, logger zerolog.Logger) {
	if !h.running.CompareAndSwap(false, true) {
		h.skipped.Add(1)
		logger.Warn().Msg("previous run still in progress, skipping tick")
		return
	}
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		defer h.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		h.runs.Add(1)
		job(ctx)
	}()
}

// Stop cancels the loop and blocks until the in-flight run, if any, returns.
// Safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop and its last run have exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Runs reports how many times the job has been started.
func (h *Handle) Runs() int64 { return h.runs.Load() }

// Skipped reports how many ticks were dropped because a run was in flight.
func (h *Handle) Skipped() int64 { return h.skipped.Load() }
