// Package worker hosts the long-running background loops: backup
// scheduling, certificate rotation, stats collection and user sync.
// Every worker follows the same model: one goroutine, one cycle at a
// time, re-armed on a monotonic clock.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/metrics"
)

// Worker is one periodic background loop
type Worker interface {
	Name() string
	Interval() time.Duration
	// Cycle runs one pass; errors are logged and the loop continues.
	Cycle(ctx context.Context) error
}

// Supervisor owns the worker goroutines and their shutdown.
type Supervisor struct {
	workers []Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewSupervisor returns an empty supervisor
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Add registers a worker; must be called before Start
func (s *Supervisor) Add(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, w)
}

// Start launches one goroutine per worker
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		s.wg.Add(1)
		go s.run(ctx, w)
	}
}

// Stop cancels all workers and waits for in-flight cycles to return
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, w Worker) {
	defer s.wg.Done()
	logger := log.WithWorker(w.Name())
	logger.Info().Dur("interval", w.Interval()).Msg("worker started")

	for {
		start := time.Now()
		if err := w.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("worker stopped")
				return
			}
			logger.Error().Err(err).Msg("worker cycle failed")
			metrics.WorkerCyclesTotal.WithLabelValues(w.Name(), "error").Inc()
		} else {
			metrics.WorkerCyclesTotal.WithLabelValues(w.Name(), "ok").Inc()
		}

		// Re-arm relative to cycle start so slow cycles do not drift
		// the schedule; a cycle longer than the period re-runs at once.
		delay := w.Interval() - time.Since(start)
		if delay < 0 {
			delay = 0
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-time.After(delay):
		}
	}
}
