// Package scheduler owns the per-release runner goroutines. Each
// running release gets exactly one runner that ticks the engine on a
// fixed interval, so ticks for a release never overlap and the engine
// needs no cross-process locking.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relohq/relo/internal/engine"
	"github.com/relohq/relo/internal/metrics"
)

// Engine is the tick function the scheduler drives for each release.
type Engine interface {
	Execute(ctx context.Context, releaseID string) (engine.Outcome, error)
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler starts and stops release runners.
type Scheduler struct {
	engine   Engine
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	runners map[string]*runner
	closed  bool
	group   errgroup.Group
}

// New returns a scheduler ticking each runner every interval.
func New(eng Engine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   eng,
		interval: interval,
		logger:   logger,
		runners:  make(map[string]*runner),
	}
}

// Start launches a runner for the release. It is a no-op if one is
// already running or the scheduler has been shut down. The first tick
// fires immediately so resumed releases do not wait a full interval.
func (s *Scheduler) Start(releaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.runners[releaseID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{cancel: cancel, done: make(chan struct{})}
	s.runners[releaseID] = r
	s.group.Go(func() error {
		defer close(r.done)
		defer cancel()
		s.run(ctx, releaseID)
		return nil
	})
	s.logger.Info("runner started", "release_id", releaseID)
}

// Stop halts the release's runner and waits for its current tick to
// finish. Unknown releases are a no-op.
func (s *Scheduler) Stop(releaseID string) {
	s.mu.Lock()
	r, ok := s.runners[releaseID]
	if ok {
		delete(s.runners, releaseID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
	s.logger.Info("runner stopped", "release_id", releaseID)
}

// IsRunning reports whether the release has a live runner.
func (s *Scheduler) IsRunning(releaseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runners[releaseID]
	return ok
}

// StopAll shuts the scheduler down: every runner is cancelled and
// drained. Subsequent Start calls are no-ops.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.closed = true
	for id, r := range s.runners {
		delete(s.runners, id)
		r.cancel()
	}
	s.mu.Unlock()
	_ = s.group.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, releaseID string) {
	metrics.ActiveRunners.Inc()
	defer metrics.ActiveRunners.Dec()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		out, err := s.engine.Execute(ctx, releaseID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("tick failed", "release_id", releaseID, "error", err)
		case out == engine.OutcomeCompleted:
			s.logger.Info("release completed, retiring runner", "release_id", releaseID)
			s.retire(releaseID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// retire removes a runner that finished on its own.
func (s *Scheduler) retire(releaseID string) {
	s.mu.Lock()
	delete(s.runners, releaseID)
	s.mu.Unlock()
}
