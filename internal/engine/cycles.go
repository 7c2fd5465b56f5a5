package engine

import (
	"context"
	"fmt"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/metrics"
	"github.com/relohq/relo/internal/release"
)

// runRegression advances stage 2. Work happens in cycles: while one is
// open its tasks run; with none open the next due slot starts one; with
// slots drained the stage closes behind the optional approval gate.
func (e *Engine) runRegression(ctx context.Context, tc *tickCtx) (Outcome, error) {
	latest, err := e.store.GetLatestCycle(tc.rel.ID)
	if err != nil {
		return OutcomeIdle, err
	}
	if latest != nil && latest.Status != release.CycleDone {
		return e.runCycle(ctx, tc, latest)
	}

	if len(tc.job.UpcomingRegressions) > 0 {
		slot := tc.job.UpcomingRegressions[0]
		if !due(e.clock(), slot.SlotTime, e.window) {
			return OutcomeIdle, nil
		}
		return e.startCycle(ctx, tc, slot)
	}

	// Slots drained. When approval is configured, park the approval
	// task so the stage 2 to 3 transition waits on its manual trigger.
	if tc.job.Config.RegressionApproval {
		approval, err := e.store.GetTaskByType(tc.rel.ID, release.TaskRegressionApproval, "")
		if err != nil {
			return OutcomeIdle, err
		}
		if approval == nil {
			approval = &db.ReleaseTask{
				ReleaseID: tc.rel.ID,
				Type:      release.TaskRegressionApproval,
				Stage:     release.StageRegression,
				Status:    release.TaskPending,
			}
			if err := e.store.SaveTask(approval); err != nil {
				return OutcomeIdle, err
			}
		}
		if approval.Status == release.TaskPending {
			return e.executeTask(ctx, tc, approval, nil)
		}
	}

	return e.completeStage(ctx, tc, release.StageRegression)
}

// startCycle pops the first slot and opens a cycle with its tasks. The
// slot is consumed before the cycle exists so a crash in between loses
// the slot rather than double-creating cycles.
func (e *Engine) startCycle(_ context.Context, tc *tickCtx, slot release.RegressionSlot) (Outcome, error) {
	tc.job.UpcomingRegressions = tc.job.UpcomingRegressions[1:]
	if err := e.store.SaveCronJob(tc.job); err != nil {
		return OutcomeIdle, err
	}

	cycle := &db.RegressionCycle{ReleaseID: tc.rel.ID}
	if err := e.store.CreateCycle(cycle); err != nil {
		return OutcomeIdle, err
	}
	e.pub.Publish(events.NewEvent(events.EventCycle, tc.rel.ID, events.CycleUpdate{
		CycleID:  cycle.ID,
		CycleTag: cycle.CycleTag,
		Status:   string(cycle.Status),
	}))

	builds := tc.job.Config.AutomationBuilds
	runs := tc.job.Config.AutomationRuns
	if slot.Config != nil {
		builds = slot.Config.AutomationBuilds
		runs = slot.Config.AutomationRuns
	}
	cycleTasks := []struct {
		typ     release.TaskType
		enabled bool
	}{
		{release.TaskTriggerRegressionBuilds, builds},
		{release.TaskCreateTestSuiteRun, runs},
	}
	for _, ct := range cycleTasks {
		status := release.TaskPending
		if !ct.enabled {
			status = release.TaskSkipped
		}
		task := &db.ReleaseTask{
			ReleaseID:         tc.rel.ID,
			RegressionCycleID: cycle.ID,
			Type:              ct.typ,
			Stage:             release.StageRegression,
			Status:            status,
		}
		if err := e.store.SaveTask(task); err != nil {
			return OutcomeIdle, err
		}
	}

	e.logger.Info("regression cycle started",
		"release_id", tc.rel.ID,
		"cycle_tag", cycle.CycleTag,
		"slots_left", len(tc.job.UpcomingRegressions))
	return OutcomeAdvanced, nil
}

// runCycle advances one open cycle: resolve finished suite runs, execute
// the next eligible task, and close the cycle when everything settled.
func (e *Engine) runCycle(ctx context.Context, tc *tickCtx, cycle *db.RegressionCycle) (Outcome, error) {
	tasks, err := e.store.ListTasksByCycle(cycle.ID)
	if err != nil {
		return OutcomeIdle, err
	}

	for _, t := range tasks {
		if t.Type == release.TaskCreateTestSuiteRun && t.Status == release.TaskAwaitingCallback {
			if err := e.pollSuiteRun(ctx, tc, t); err != nil {
				e.reportTickError(tc.rel.ID, err)
			}
		}
	}

	if next := selectNextTask(release.StageRegression, tasks); next != nil {
		return e.executeTask(ctx, tc, next, cycle)
	}
	if tasksSettled(tasks) {
		if err := e.store.UpdateCycleStatus(cycle.ID, release.CycleDone); err != nil {
			return OutcomeIdle, err
		}
		e.pub.Publish(events.NewEvent(events.EventCycle, tc.rel.ID, events.CycleUpdate{
			CycleID:  cycle.ID,
			CycleTag: cycle.CycleTag,
			Status:   string(release.CycleDone),
		}))
		e.logger.Info("regression cycle done",
			"release_id", tc.rel.ID,
			"cycle_tag", cycle.CycleTag)
		return OutcomeAdvanced, nil
	}
	return OutcomeIdle, nil
}

// pollSuiteRun asks the test management provider whether a suite run
// finished and completes its task if so. Provider errors are transient;
// the next tick asks again.
func (e *Engine) pollSuiteRun(ctx context.Context, tc *tickCtx, task *db.ReleaseTask) error {
	if task.ExternalID == "" {
		return nil
	}
	tm, err := e.registry.TestMgmt(tc.cfg.TestProvider)
	if err != nil {
		return err
	}
	st, err := tm.GetRunStatus(ctx, task.ExternalID)
	if err != nil {
		return fmt.Errorf("suite run status: %w", err)
	}
	if !st.Done {
		return nil
	}

	if err := e.store.UpdateTaskStatus(task.ID, release.TaskCompleted); err != nil {
		return err
	}
	task.Status = release.TaskCompleted
	metrics.TasksTotal.WithLabelValues(string(task.Type), string(release.TaskCompleted)).Inc()
	e.publishTask(tc.rel.ID, task, release.TaskCompleted, "")
	e.logger.Info("suite run finished",
		"release_id", tc.rel.ID,
		"run_id", task.ExternalID,
		"pass_rate", st.PassRate)
	return nil
}

func (e *Engine) reportTickError(releaseID string, err error) {
	e.logger.Warn("tick error", "release_id", releaseID, "error", err)
	e.pub.Publish(events.NewEvent(events.EventError, releaseID, events.ErrorData{
		Source:  "tick",
		Message: err.Error(),
	}))
}
