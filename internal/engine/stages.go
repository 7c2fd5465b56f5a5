package engine

import (
	"context"
	"sort"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/executor"
	"github.com/relohq/relo/internal/metrics"
	"github.com/relohq/relo/internal/notify"
	"github.com/relohq/relo/internal/release"
)

// runKickoff advances stage 1.
func (e *Engine) runKickoff(ctx context.Context, tc *tickCtx) (Outcome, error) {
	tasks, err := e.ensureStageTasks(tc, release.StageKickoff)
	if err != nil {
		return OutcomeIdle, err
	}
	return e.runStageTasks(ctx, tc, release.StageKickoff, tasks)
}

// runPostRegression advances stage 3.
func (e *Engine) runPostRegression(ctx context.Context, tc *tickCtx) (Outcome, error) {
	tasks, err := e.ensureStageTasks(tc, release.StagePostRegression)
	if err != nil {
		return OutcomeIdle, err
	}
	return e.runStageTasks(ctx, tc, release.StagePostRegression, tasks)
}

// ensureStageTasks creates the stage's task rows on first entry. Tasks
// whose toggle is off, or whose platform is absent from the mapping, are
// created SKIPPED so ordering stays total. The regression approval row
// is special-cased in the cycle driver.
func (e *Engine) ensureStageTasks(tc *tickCtx, stage release.Stage) ([]*db.ReleaseTask, error) {
	tasks, err := e.store.ListTasksByStage(tc.rel.ID, stage)
	if err != nil {
		return nil, err
	}
	if len(tasks) > 0 {
		return tasks, nil
	}

	for _, typ := range release.StageOrder(stage) {
		status := release.TaskPending
		if !e.taskEnabled(tc, typ) {
			status = release.TaskSkipped
		}
		task := &db.ReleaseTask{
			ReleaseID: tc.rel.ID,
			Type:      typ,
			Stage:     stage,
			Status:    status,
		}
		if err := e.store.SaveTask(task); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	e.logger.Info("stage tasks created",
		"release_id", tc.rel.ID,
		"stage", stage,
		"tasks", len(tasks))
	return tasks, nil
}

// taskEnabled decides at creation time whether a task type applies to
// this release.
func (e *Engine) taskEnabled(tc *tickCtx, typ release.TaskType) bool {
	cfg := tc.job.Config
	switch typ {
	case release.TaskPreKickOffReminder:
		return cfg.KickOffReminder
	case release.TaskForkBranch:
		return cfg.ForkBranch
	case release.TaskCreateProjectMgmtTicket:
		return cfg.ProjectMgmtTicket
	case release.TaskCreateTestSuite:
		return cfg.TestSuite
	case release.TaskTriggerPreRegBuilds:
		return cfg.PreRegressionBuilds
	case release.TaskTriggerRegressionBuilds:
		return cfg.AutomationBuilds
	case release.TaskCreateTestSuiteRun:
		return cfg.AutomationRuns
	case release.TaskRegressionApproval:
		return cfg.RegressionApproval
	case release.TaskTriggerTestFlightBuild:
		return cfg.TestFlightBuilds && hasPlatform(tc.mappings, release.PlatformIOS)
	case release.TaskCreateAABBuild:
		return hasPlatform(tc.mappings, release.PlatformAndroid)
	case release.TaskAdHocNotification:
		return cfg.AdHocNotification
	default:
		// CREATE_RELEASE_TAG and TESTFLIGHT_BUILD_VERIFIED always run.
		return true
	}
}

func hasPlatform(mappings []db.PlatformTargetMapping, p release.Platform) bool {
	for _, m := range mappings {
		if m.Platform == p {
			return true
		}
	}
	return false
}

// runStageTasks applies the shared stage rules: execute the first
// eligible task, and complete the stage once every row is settled.
func (e *Engine) runStageTasks(ctx context.Context, tc *tickCtx, stage release.Stage, tasks []*db.ReleaseTask) (Outcome, error) {
	next := selectNextTask(stage, tasks)
	if next != nil {
		if !e.taskDue(tc, next.Type) {
			return OutcomeIdle, nil
		}
		return e.executeTask(ctx, tc, next, nil)
	}
	if tasksSettled(tasks) {
		return e.completeStage(ctx, tc, stage)
	}
	// Builds or humans still owe us callbacks.
	return OutcomeIdle, nil
}

// selectNextTask returns the first PENDING task whose predecessors are
// all COMPLETED or SKIPPED. The stage order is total, so walking rows by
// rank and stopping at the first non-settled one is exactly that rule.
func selectNextTask(stage release.Stage, tasks []*db.ReleaseTask) *db.ReleaseTask {
	ordered := make([]*db.ReleaseTask, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return release.TaskRank(stage, ordered[i].Type) < release.TaskRank(stage, ordered[j].Type)
	})

	for _, t := range ordered {
		switch t.Status {
		case release.TaskPending:
			return t
		case release.TaskCompleted, release.TaskSkipped:
			continue
		default:
			// A predecessor is running, awaiting, or failed.
			return nil
		}
	}
	return nil
}

// tasksSettled reports whether every task reached COMPLETED or SKIPPED.
func tasksSettled(tasks []*db.ReleaseTask) bool {
	for _, t := range tasks {
		if !release.SatisfiesPredecessor(t.Status) {
			return false
		}
	}
	return true
}

// taskDue applies the wall-clock gates. Only the reminder and the fork
// are time-gated; everything later in the pipeline follows ordering.
func (e *Engine) taskDue(tc *tickCtx, typ release.TaskType) bool {
	now := e.clock()
	switch typ {
	case release.TaskPreKickOffReminder:
		return reminderDue(tc.rel, tc.job, now, e.window)
	case release.TaskForkBranch:
		return kickoffDue(tc.rel, now, e.window)
	default:
		return true
	}
}

// executeTask runs one task through the executor and persists the
// resulting status. Executor errors are absorbed into a failure pause;
// the tick itself succeeds.
func (e *Engine) executeTask(ctx context.Context, tc *tickCtx, task *db.ReleaseTask, cycle *db.RegressionCycle) (Outcome, error) {
	if err := e.store.UpdateTaskStatus(task.ID, release.TaskInProgress); err != nil {
		return OutcomeIdle, err
	}
	e.publishTask(tc.rel.ID, task, release.TaskInProgress, "")

	res, err := e.exec.Run(ctx, &executor.Context{
		Release:  tc.rel,
		CronJob:  tc.job,
		Config:   tc.cfg,
		Task:     task,
		Cycle:    cycle,
		Mappings: tc.mappings,
	})
	if err != nil {
		if ferr := e.failTask(ctx, tc, task, err); ferr != nil {
			return OutcomeIdle, ferr
		}
		return OutcomeAdvanced, nil
	}

	if res.ExternalID != "" || res.ExternalData != "" {
		if err := e.store.SetTaskExternal(task.ID, res.ExternalID, res.ExternalData); err != nil {
			return OutcomeIdle, err
		}
	}

	status := release.TaskCompleted
	switch {
	case res.AwaitManual:
		status = release.TaskAwaitingManualBuild
		tc.job.PauseType = release.PauseAwaitingManualBuild
		if err := e.store.SaveCronJob(tc.job); err != nil {
			return OutcomeIdle, err
		}
		e.pub.Publish(events.NewEvent(events.EventRelease, tc.rel.ID, events.ReleaseUpdate{
			Status:    string(tc.rel.Status),
			PauseType: string(release.PauseAwaitingManualBuild),
		}))
	case res.Async:
		status = release.TaskAwaitingCallback
	}
	if err := e.store.UpdateTaskStatus(task.ID, status); err != nil {
		return OutcomeIdle, err
	}
	task.Status = status
	metrics.TasksTotal.WithLabelValues(string(task.Type), string(status)).Inc()
	e.publishTask(tc.rel.ID, task, status, "")

	e.logger.Info("task advanced",
		"release_id", tc.rel.ID,
		"task_type", task.Type,
		"status", status,
		"message", res.Message)
	return OutcomeAdvanced, nil
}

// failTask marks the task failed and pauses the release until an
// operator retries.
func (e *Engine) failTask(ctx context.Context, tc *tickCtx, task *db.ReleaseTask, cause error) error {
	if err := e.store.UpdateTaskStatus(task.ID, release.TaskFailed); err != nil {
		return err
	}
	task.Status = release.TaskFailed
	metrics.TasksTotal.WithLabelValues(string(task.Type), string(release.TaskFailed)).Inc()
	e.publishTask(tc.rel.ID, task, release.TaskFailed, cause.Error())

	if err := e.store.UpdateReleaseStatus(tc.rel.ID, release.StatusPaused, ""); err != nil {
		return err
	}
	tc.job.PauseType = release.PauseTaskFailure
	tc.job.CronStatus = release.CronPaused
	if err := e.store.SaveCronJob(tc.job); err != nil {
		return err
	}
	e.pub.Publish(events.NewEvent(events.EventRelease, tc.rel.ID, events.ReleaseUpdate{
		Status:    string(release.StatusPaused),
		PauseType: string(release.PauseTaskFailure),
	}))
	e.notice(ctx, tc, notify.KeyTaskFailed, map[string]string{
		"version": versionLabel(tc.mappings),
		"task":    string(task.Type),
		"task_id": task.ID,
		"error":   cause.Error(),
	})

	e.logger.Warn("task failed, release paused",
		"release_id", tc.rel.ID,
		"task_type", task.Type,
		"error", cause)
	return nil
}

// completeStage marks a stage done and applies the transition rules: the
// next stage starts in the same tick when its auto flag allows, otherwise
// the cron pauses for a manual trigger. Completing stage 3 finalizes the
// release.
func (e *Engine) completeStage(ctx context.Context, tc *tickCtx, stage release.Stage) (Outcome, error) {
	n := release.StageNumber(stage)
	tc.job.SetStageStatus(n, release.StageCompleted)
	if err := e.store.SaveCronJob(tc.job); err != nil {
		return OutcomeIdle, err
	}
	e.publishStage(tc.rel.ID, n, release.StageCompleted)
	e.logger.Info("stage completed", "release_id", tc.rel.ID, "stage", n)

	switch n {
	case 1:
		auto := tc.job.AutoTransitionStage2
		e.noticeStageComplete(ctx, tc, n, auto)
		return e.armStage(ctx, tc, 2, auto)
	case 2:
		auto := tc.job.AutoTransitionStage3 && !e.approvalOpen(tc)
		e.noticeStageComplete(ctx, tc, n, auto)
		return e.armStage(ctx, tc, 3, auto)
	default:
		// Stage 3 completion is announced by the ad-hoc notification
		// task itself.
		return e.finalize(ctx, tc)
	}
}

func (e *Engine) publishTask(releaseID string, task *db.ReleaseTask, status release.TaskStatus, errMsg string) {
	e.pub.Publish(events.NewEvent(events.EventTask, releaseID, events.TaskUpdate{
		TaskID:   task.ID,
		TaskType: string(task.Type),
		Stage:    string(task.Stage),
		Status:   string(status),
		Error:    errMsg,
	}))
}
