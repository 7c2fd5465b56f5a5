// Package service is the operation façade over the release pipeline:
// create/start/stop releases, stage triggers, pause/resume, task retry,
// archive, manual upload intake, and the release overview. Every method
// validates preconditions, mutates the store, and nudges the scheduler
// and poll jobs; the engine does the actual advancing on its next tick.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/relohq/relo/internal/callback"
	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/events"
)

// Runners is the scheduler surface the service drives.
type Runners interface {
	Start(releaseID string)
	Stop(releaseID string)
	IsRunning(releaseID string) bool
}

// PollJobs creates and deletes the recurring CI poll jobs for a release.
type PollJobs interface {
	CreateJobs(releaseID string) error
	DeleteJobs(releaseID string)
}

// ReleaseStatus answers release questions owned by systems outside the
// orchestrator, currently whether cherry-picks still block stage 3.
type ReleaseStatus interface {
	PendingCherryPicks(ctx context.Context, releaseID string) (bool, error)
}

// NoPendingWork is the ReleaseStatus for deployments without an
// external release status service: nothing ever blocks.
type NoPendingWork struct{}

// PendingCherryPicks always reports no pending work.
func (NoPendingWork) PendingCherryPicks(context.Context, string) (bool, error) {
	return false, nil
}

type nopRunners struct{}

func (nopRunners) Start(string) {}

func (nopRunners) Stop(string) {}

func (nopRunners) IsRunning(string) bool { return false }

type nopPollJobs struct{}

func (nopPollJobs) CreateJobs(string) error { return nil }

func (nopPollJobs) DeleteJobs(string) {}

// Options configures a Service.
type Options struct {
	Store    *db.Store
	Runners  Runners
	PollJobs PollJobs
	Agg      *callback.Aggregator
	Status   ReleaseStatus
	Pub      events.Publisher
	Logger   *slog.Logger
	// OverviewTTL bounds staleness of the cached release overview.
	OverviewTTL time.Duration
}

// Service exposes the release pipeline operations.
type Service struct {
	store    *db.Store
	runners  Runners
	pollJobs PollJobs
	agg      *callback.Aggregator
	status   ReleaseStatus
	pub      events.Publisher
	logger   *slog.Logger
	overview *overviewCache
}

// New assembles the service. Nil collaborators fall back to no-ops so
// partial wiring (tests, read-only tools) stays cheap.
func New(opts Options) *Service {
	if opts.Runners == nil {
		opts.Runners = nopRunners{}
	}
	if opts.PollJobs == nil {
		opts.PollJobs = nopPollJobs{}
	}
	if opts.Status == nil {
		opts.Status = NoPendingWork{}
	}
	if opts.Pub == nil {
		opts.Pub = events.NewNopPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OverviewTTL <= 0 {
		opts.OverviewTTL = 5 * time.Second
	}
	return &Service{
		store:    opts.Store,
		runners:  opts.Runners,
		pollJobs: opts.PollJobs,
		agg:      opts.Agg,
		status:   opts.Status,
		pub:      opts.Pub,
		logger:   opts.Logger,
		overview: newOverviewCache(opts.OverviewTTL),
	}
}

func (s *Service) publishRelease(rel *db.Release, job *db.CronJob) {
	data := events.ReleaseUpdate{Status: string(rel.Status)}
	if job != nil {
		data.PauseType = string(job.PauseType)
	}
	s.pub.Publish(events.NewEvent(events.EventRelease, rel.ID, data))
}

func (s *Service) publishStage(releaseID string, stage int, status string) {
	s.pub.Publish(events.NewEvent(events.EventStage, releaseID, events.StageUpdate{
		Stage:  stage,
		Status: status,
	}))
}

func (s *Service) publishTask(task *db.ReleaseTask) {
	s.pub.Publish(events.NewEvent(events.EventTask, task.ReleaseID, events.TaskUpdate{
		TaskID:   task.ID,
		TaskType: string(task.Type),
		Stage:    string(task.Stage),
		Status:   string(task.Status),
	}))
}
