// Package callback resolves asynchronous build outcomes into task
// transitions. Pollers and the manual upload intake both funnel through
// ProcessCallback, which is the only writer of post-trigger task status:
// pollers touch build rows, the engine touches pre-trigger status, and
// everything in between lands here.
package callback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/metrics"
	"github.com/relohq/relo/internal/release"
)

// AggregateStatus is the combined build status of one task.
type AggregateStatus string

const (
	AggregateNoBuilds  AggregateStatus = "NO_BUILDS"
	AggregatePending   AggregateStatus = "PENDING"
	AggregateRunning   AggregateStatus = "RUNNING"
	AggregateCompleted AggregateStatus = "COMPLETED"
	AggregateFailed    AggregateStatus = "FAILED"
)

// Aggregator folds a task's build rows into a task status change.
type Aggregator struct {
	store  *db.Store
	pub    events.Publisher
	logger *slog.Logger
}

// New creates an aggregator over the store.
func New(store *db.Store, pub events.Publisher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.NewNopPublisher()
	}
	return &Aggregator{store: store, pub: pub, logger: logger}
}

// Aggregate computes the combined status of a set of builds. Failure
// dominates, then still-queued work, then running work; COMPLETED
// requires every workflow finished and every artifact uploaded.
func Aggregate(builds []*db.Build) AggregateStatus {
	if len(builds) == 0 {
		return AggregateNoBuilds
	}

	var pending, running int
	done := true
	for _, b := range builds {
		if b.WorkflowStatus == release.WorkflowFailed || b.UploadStatus == release.UploadFailed {
			return AggregateFailed
		}
		switch b.WorkflowStatus {
		case release.WorkflowPending:
			pending++
		case release.WorkflowRunning:
			running++
		}
		if b.WorkflowStatus != release.WorkflowCompleted || b.UploadStatus != release.UploadUploaded {
			done = false
		}
	}
	switch {
	case pending > 0:
		return AggregatePending
	case running > 0:
		return AggregateRunning
	case done:
		return AggregateCompleted
	default:
		// Workflows finished but an artifact has not landed yet.
		return AggregateRunning
	}
}

// ProcessCallback recomputes a task's aggregate build status and applies
// the resulting transition. PENDING/RUNNING/NO_BUILDS leave the task
// untouched; a task already in a terminal status is never reopened.
func (a *Aggregator) ProcessCallback(ctx context.Context, taskID string) (AggregateStatus, error) {
	task, err := a.store.GetTask(taskID)
	if err != nil {
		return "", fmt.Errorf("load task: %w", err)
	}
	if task == nil {
		return "", errors.ErrTaskNotFound(taskID)
	}

	builds, err := a.store.ListBuildsByTask(task.ID)
	if err != nil {
		return "", fmt.Errorf("list builds: %w", err)
	}
	agg := Aggregate(builds)
	metrics.CallbacksTotal.WithLabelValues(string(agg)).Inc()

	if release.IsTerminalTaskStatus(task.Status) {
		return agg, nil
	}

	a.logger.Debug("aggregated builds",
		"task_id", task.ID,
		"task_type", task.Type,
		"builds", len(builds),
		"aggregate", agg)

	switch agg {
	case AggregateCompleted:
		return agg, a.completeTask(ctx, task)
	case AggregateFailed:
		return agg, a.failTask(ctx, task)
	default:
		// Waiting for builds.
		return agg, nil
	}
}

// completeTask marks the task done and lifts an awaiting-manual-build
// pause so the next tick can advance the stage.
func (a *Aggregator) completeTask(_ context.Context, task *db.ReleaseTask) error {
	if err := a.store.UpdateTaskStatus(task.ID, release.TaskCompleted); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	metrics.TasksTotal.WithLabelValues(string(task.Type), string(release.TaskCompleted)).Inc()
	a.pub.Publish(events.NewEvent(events.EventTask, task.ReleaseID, events.TaskUpdate{
		TaskID:   task.ID,
		TaskType: string(task.Type),
		Stage:    string(task.Stage),
		Status:   string(release.TaskCompleted),
	}))

	job, err := a.store.GetCronJobByRelease(task.ReleaseID)
	if err != nil {
		return fmt.Errorf("load cron job: %w", err)
	}
	if job != nil && job.PauseType == release.PauseAwaitingManualBuild {
		job.PauseType = release.PauseNone
		if err := a.store.SaveCronJob(job); err != nil {
			return fmt.Errorf("clear manual-build pause: %w", err)
		}
		a.pub.Publish(events.NewEvent(events.EventRelease, task.ReleaseID, events.ReleaseUpdate{
			Status:    string(release.StatusInProgress),
			PauseType: string(release.PauseNone),
		}))
	}

	a.logger.Info("task completed by callback",
		"release_id", task.ReleaseID,
		"task_id", task.ID,
		"task_type", task.Type)
	return nil
}

// failTask marks the task failed and pauses the release until an
// operator retries it.
func (a *Aggregator) failTask(_ context.Context, task *db.ReleaseTask) error {
	if err := a.store.UpdateTaskStatus(task.ID, release.TaskFailed); err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	metrics.TasksTotal.WithLabelValues(string(task.Type), string(release.TaskFailed)).Inc()
	a.pub.Publish(events.NewEvent(events.EventTask, task.ReleaseID, events.TaskUpdate{
		TaskID:   task.ID,
		TaskType: string(task.Type),
		Stage:    string(task.Stage),
		Status:   string(release.TaskFailed),
		Error:    "build failed",
	}))

	if err := a.store.UpdateReleaseStatus(task.ReleaseID, release.StatusPaused, ""); err != nil {
		return fmt.Errorf("pause release: %w", err)
	}
	job, err := a.store.GetCronJobByRelease(task.ReleaseID)
	if err != nil {
		return fmt.Errorf("load cron job: %w", err)
	}
	if job != nil {
		job.PauseType = release.PauseTaskFailure
		job.CronStatus = release.CronPaused
		if err := a.store.SaveCronJob(job); err != nil {
			return fmt.Errorf("pause cron job: %w", err)
		}
	}
	a.pub.Publish(events.NewEvent(events.EventRelease, task.ReleaseID, events.ReleaseUpdate{
		Status:    string(release.StatusPaused),
		PauseType: string(release.PauseTaskFailure),
	}))

	a.logger.Warn("task failed, release paused",
		"release_id", task.ReleaseID,
		"task_id", task.ID,
		"task_type", task.Type)
	return nil
}
