package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Manager owns the recurring poll jobs, two per active release. Jobs are
// created when a release's cron starts and removed when it completes or
// is archived.
type Manager struct {
	poller          *Poller
	pendingInterval time.Duration
	runningInterval time.Duration
	passTimeout     time.Duration
	logger          *slog.Logger

	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string][]cron.EntryID
}

// NewManager creates a manager scheduling passes at the given cadences.
func NewManager(p *Poller, pendingInterval, runningInterval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		poller:          p,
		pendingInterval: pendingInterval,
		runningInterval: runningInterval,
		passTimeout:     2 * time.Minute,
		logger:          logger,
		cron:            cron.New(),
		jobs:            make(map[string][]cron.EntryID),
	}
}

// Start begins running scheduled passes.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop halts scheduling and waits for in-flight passes, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateJobs schedules the pending and running passes for a release.
// Idempotent: a release that already has jobs keeps them.
func (m *Manager) CreateJobs(releaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[releaseID]; ok {
		return nil
	}

	pendingID, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.pendingInterval), func() {
		m.runPass(releaseID, "pending_poll", m.poller.PollPending)
	})
	if err != nil {
		return fmt.Errorf("schedule pending poll: %w", err)
	}
	runningID, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.runningInterval), func() {
		m.runPass(releaseID, "running_poll", m.poller.PollRunning)
	})
	if err != nil {
		m.cron.Remove(pendingID)
		return fmt.Errorf("schedule running poll: %w", err)
	}

	m.jobs[releaseID] = []cron.EntryID{pendingID, runningID}
	m.logger.Info("poll jobs created", "release_id", releaseID)
	return nil
}

// DeleteJobs removes a release's poll jobs. Unknown releases are a no-op.
func (m *Manager) DeleteJobs(releaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, ok := m.jobs[releaseID]
	if !ok {
		return
	}
	for _, id := range ids {
		m.cron.Remove(id)
	}
	delete(m.jobs, releaseID)
	m.logger.Info("poll jobs deleted", "release_id", releaseID)
}

// HasJobs reports whether a release currently has poll jobs.
func (m *Manager) HasJobs(releaseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[releaseID]
	return ok
}

func (m *Manager) runPass(releaseID, name string, pass func(context.Context, string) error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.passTimeout)
	defer cancel()
	if err := pass(ctx, releaseID); err != nil {
		m.logger.Error("poll pass failed", "release_id", releaseID, "pass", name, "error", err)
	}
}
