// Package engine implements the per-release state machine. One Execute
// call is one tick: load the release and its cron job, gate on pauses
// and terminal states, then advance the current stage by at most one
// action. Ticks are cheap and idempotent; the scheduler repeats them
// until the release completes.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/executor"
	"github.com/relohq/relo/internal/metrics"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// PollerHooks creates and removes the recurring poll jobs tied to a
// release's lifecycle. The poll manager implements it; tests use
// NopHooks.
type PollerHooks interface {
	CreateJobs(releaseID string) error
	DeleteJobs(releaseID string)
}

// NopHooks ignores poll job lifecycle requests.
type NopHooks struct{}

func (NopHooks) CreateJobs(string) error { return nil }
func (NopHooks) DeleteJobs(string)       {}

// Outcome summarizes what a tick did.
type Outcome string

const (
	// OutcomeGated means the tick was a no-op: the release is paused,
	// terminal, or its cron is not running.
	OutcomeGated Outcome = "gated"
	// OutcomeIdle means nothing was eligible: waiting on a slot time,
	// a callback, or a human.
	OutcomeIdle Outcome = "idle"
	// OutcomeAdvanced means the tick changed state.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeCompleted means the release just finished; the runner
	// can stop.
	OutcomeCompleted Outcome = "completed"
)

// Options configures an Engine.
type Options struct {
	Store    *db.Store
	Executor *executor.Executor
	Registry *provider.Registry
	Hooks    PollerHooks
	Pub      events.Publisher
	Logger   *slog.Logger

	// Clock defaults to time.Now.
	Clock Clock
	// SlotWindow widens wall-clock matching of kickoff and regression
	// slots. Defaults to five minutes.
	SlotWindow time.Duration
}

// Engine drives release state machines.
type Engine struct {
	store    *db.Store
	exec     *executor.Executor
	registry *provider.Registry
	hooks    PollerHooks
	pub      events.Publisher
	logger   *slog.Logger
	clock    Clock
	window   time.Duration
}

// New creates an engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:    opts.Store,
		exec:     opts.Executor,
		registry: opts.Registry,
		hooks:    opts.Hooks,
		pub:      opts.Pub,
		logger:   opts.Logger,
		clock:    opts.Clock,
		window:   opts.SlotWindow,
	}
	if e.hooks == nil {
		e.hooks = NopHooks{}
	}
	if e.pub == nil {
		e.pub = events.NewNopPublisher()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.window <= 0 {
		e.window = 5 * time.Minute
	}
	return e
}

// tickCtx is the state loaded once per tick.
type tickCtx struct {
	rel      *db.Release
	job      *db.CronJob
	cfg      *db.ReleaseConfig
	mappings []db.PlatformTargetMapping
}

// Execute runs one tick for a release.
func (e *Engine) Execute(ctx context.Context, releaseID string) (Outcome, error) {
	start := time.Now()
	outcome, err := e.tick(ctx, releaseID)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return outcome, err
	}
	metrics.TicksTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

func (e *Engine) tick(ctx context.Context, releaseID string) (Outcome, error) {
	rel, err := e.store.GetRelease(releaseID)
	if err != nil {
		return OutcomeGated, err
	}
	if rel == nil {
		return OutcomeGated, errors.ErrReleaseNotFound(releaseID)
	}
	if rel.Status == release.StatusCompleted || rel.Status == release.StatusArchived {
		return OutcomeGated, nil
	}

	job, err := e.store.GetCronJobByRelease(releaseID)
	if err != nil {
		return OutcomeGated, err
	}
	if job == nil {
		return OutcomeGated, errors.ErrCronJobNotFound(releaseID)
	}
	if job.CronStatus != release.CronRunning {
		return OutcomeGated, nil
	}
	if job.PauseType != release.PauseNone {
		e.logger.Debug("tick gated", "release_id", releaseID, "pause_type", job.PauseType)
		return OutcomeGated, nil
	}

	if rel.ReleaseConfigID == "" {
		return OutcomeGated, errors.ErrConfigMissing("release_config_id")
	}
	cfg, err := e.store.GetReleaseConfig(rel.ReleaseConfigID)
	if err != nil {
		return OutcomeGated, err
	}
	if cfg == nil {
		return OutcomeGated, errors.ErrConfigMissing("release_config")
	}
	mappings, err := e.store.ListMappings(releaseID)
	if err != nil {
		return OutcomeGated, err
	}

	tc := &tickCtx{rel: rel, job: job, cfg: cfg, mappings: mappings}
	switch {
	case job.Stage1Status == release.StageInProgress:
		return e.runKickoff(ctx, tc)
	case job.Stage2Status == release.StageInProgress:
		return e.runRegression(ctx, tc)
	case job.Stage3Status == release.StageInProgress:
		return e.runPostRegression(ctx, tc)
	default:
		return e.decideTransition(ctx, tc)
	}
}

// decideTransition handles ticks where no stage is in progress: a fresh
// job, or a crash between a stage-completion write and its follow-up.
func (e *Engine) decideTransition(ctx context.Context, tc *tickCtx) (Outcome, error) {
	job := tc.job
	switch {
	case job.Stage1Status == release.StagePending:
		job.Stage1Status = release.StageInProgress
		if err := e.store.SaveCronJob(job); err != nil {
			return OutcomeIdle, err
		}
		e.publishStage(tc.rel.ID, 1, release.StageInProgress)
		return OutcomeAdvanced, nil

	case job.Stage3Status == release.StageCompleted:
		return e.finalize(ctx, tc)

	case job.Stage1Status == release.StageCompleted && job.Stage2Status == release.StagePending:
		return e.armStage(ctx, tc, 2, job.AutoTransitionStage2)

	case job.Stage2Status == release.StageCompleted && job.Stage3Status == release.StagePending:
		auto := job.AutoTransitionStage3 && !e.approvalOpen(tc)
		return e.armStage(ctx, tc, 3, auto)

	default:
		return OutcomeIdle, nil
	}
}

// armStage starts the given stage, or pauses the cron waiting for its
// manual trigger.
func (e *Engine) armStage(_ context.Context, tc *tickCtx, stage int, auto bool) (Outcome, error) {
	job := tc.job
	if auto {
		job.SetStageStatus(stage, release.StageInProgress)
		if err := e.store.SaveCronJob(job); err != nil {
			return OutcomeIdle, err
		}
		e.publishStage(tc.rel.ID, stage, release.StageInProgress)
		e.logger.Info("stage started", "release_id", tc.rel.ID, "stage", stage)
		return OutcomeAdvanced, nil
	}

	job.CronStatus = release.CronPaused
	job.PauseType = release.PauseAwaitingStageTrigger
	if err := e.store.SaveCronJob(job); err != nil {
		return OutcomeIdle, err
	}
	e.pub.Publish(events.NewEvent(events.EventRelease, tc.rel.ID, events.ReleaseUpdate{
		Status:    string(tc.rel.Status),
		PauseType: string(release.PauseAwaitingStageTrigger),
	}))
	e.logger.Info("awaiting stage trigger", "release_id", tc.rel.ID, "stage", stage)
	return OutcomeAdvanced, nil
}

// finalize closes out a release whose last stage just completed.
func (e *Engine) finalize(_ context.Context, tc *tickCtx) (Outcome, error) {
	now := e.clock()
	tc.job.CronStatus = release.CronCompleted
	tc.job.PauseType = release.PauseNone
	tc.job.CronStoppedAt = &now
	if err := e.store.SaveCronJob(tc.job); err != nil {
		return OutcomeIdle, err
	}
	if err := e.store.UpdateReleaseStatus(tc.rel.ID, release.StatusCompleted, ""); err != nil {
		return OutcomeIdle, err
	}
	if err := e.store.SetReleaseDate(tc.rel.ID, now); err != nil {
		return OutcomeIdle, err
	}
	e.hooks.DeleteJobs(tc.rel.ID)

	e.pub.Publish(events.NewEvent(events.EventRelease, tc.rel.ID, events.ReleaseUpdate{
		Status: string(release.StatusCompleted),
	}))
	e.logger.Info("release completed", "release_id", tc.rel.ID)
	return OutcomeCompleted, nil
}

func (e *Engine) publishStage(releaseID string, stage int, status release.StageStatus) {
	e.pub.Publish(events.NewEvent(events.EventStage, releaseID, events.StageUpdate{
		Stage:  stage,
		Status: string(status),
	}))
}

// approvalOpen reports whether a regression approval task exists and has
// not been resolved. An open approval forces the stage 2 to 3 transition
// through its manual trigger.
func (e *Engine) approvalOpen(tc *tickCtx) bool {
	task, err := e.store.GetTaskByType(tc.rel.ID, release.TaskRegressionApproval, "")
	if err != nil || task == nil {
		return false
	}
	return !release.IsTerminalTaskStatus(task.Status)
}
