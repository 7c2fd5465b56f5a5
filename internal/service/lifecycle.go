package service

import (
	"context"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/release"
)

// load fetches the release and its cron job, translating missing rows
// into the caller-facing not-found errors. An empty tenantID skips the
// ownership check; a mismatch reads as not found.
func (s *Service) load(releaseID, tenantID string) (*db.Release, *db.CronJob, error) {
	rel, err := s.store.GetRelease(releaseID)
	if err != nil {
		return nil, nil, err
	}
	if rel == nil || (tenantID != "" && rel.TenantID != tenantID) {
		return nil, nil, errors.ErrReleaseNotFound(releaseID)
	}
	job, err := s.store.GetCronJobByRelease(releaseID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, errors.ErrCronJobNotFound(releaseID)
	}
	return rel, job, nil
}

// StartCronJob begins driving a release: the first stage is armed, the
// cron goes RUNNING, a runner starts ticking, and the CI poll jobs are
// registered (best-effort; polling recovers on the next boot if not).
func (s *Service) StartCronJob(ctx context.Context, releaseID, actor string) (*db.CronJob, error) {
	rel, job, err := s.load(releaseID, "")
	if err != nil {
		return nil, err
	}
	if release.IsTerminalStatus(rel.Status) {
		return nil, errors.ErrReleaseTerminal(rel.ID, string(rel.Status))
	}
	if job.CronStatus == release.CronRunning {
		return nil, errors.ErrCronAlreadyRunning(releaseID)
	}

	if job.Stage1Status == release.StagePending {
		job.Stage1Status = release.StageInProgress
	}
	job.CronStatus = release.CronRunning
	if err := s.store.SaveCronJob(job); err != nil {
		return nil, err
	}
	if job.PauseType == release.PauseNone {
		if err := s.store.UpdateReleaseStatus(rel.ID, release.StatusInProgress, actor); err != nil {
			return nil, err
		}
		rel.Status = release.StatusInProgress
	}

	s.runners.Start(releaseID)
	if err := s.pollJobs.CreateJobs(releaseID); err != nil {
		s.logger.Warn("poll job creation failed", "release_id", releaseID, "error", err)
	}

	s.logger.Info("cron started", "release_id", releaseID, "actor", actor)
	s.publishRelease(rel, job)
	s.overview.Invalidate(releaseID)
	return job, nil
}

// StopCronJob halts a release's runner and poll jobs without touching
// stage progress. Idempotent.
func (s *Service) StopCronJob(ctx context.Context, releaseID, actor string) (*db.CronJob, error) {
	rel, job, err := s.load(releaseID, "")
	if err != nil {
		return nil, err
	}

	s.runners.Stop(releaseID)
	s.pollJobs.DeleteJobs(releaseID)
	if job.CronStatus == release.CronRunning {
		job.CronStatus = release.CronPaused
		if err := s.store.SaveCronJob(job); err != nil {
			return nil, err
		}
	}

	s.logger.Info("cron stopped", "release_id", releaseID, "actor", actor)
	s.publishRelease(rel, job)
	s.overview.Invalidate(releaseID)
	return job, nil
}

// PauseRelease records a user-requested pause. A pause already in place
// for a stronger reason (task failure, awaiting uploads or a stage
// trigger) is preserved, never overwritten. Idempotent.
func (s *Service) PauseRelease(ctx context.Context, releaseID, tenantID, actor string) (*db.CronJob, error) {
	rel, job, err := s.load(releaseID, tenantID)
	if err != nil {
		return nil, err
	}
	if release.IsTerminalStatus(rel.Status) {
		return nil, errors.ErrReleaseTerminal(rel.ID, string(rel.Status))
	}
	if job.PauseType != release.PauseNone {
		return job, nil
	}

	job.PauseType = release.PauseUserRequested
	if err := s.store.SaveCronJob(job); err != nil {
		return nil, err
	}
	if err := s.store.UpdateReleaseStatus(rel.ID, release.StatusPaused, actor); err != nil {
		return nil, err
	}
	rel.Status = release.StatusPaused

	s.logger.Info("release paused", "release_id", releaseID, "actor", actor)
	s.publishRelease(rel, job)
	s.overview.Invalidate(releaseID)
	return job, nil
}

// ResumeRelease clears a user-requested pause. Pauses owned by other
// flows are refused: a failed task needs RetryTask, a stage trigger
// needs TriggerStage2/3.
func (s *Service) ResumeRelease(ctx context.Context, releaseID, tenantID, actor string) (*db.CronJob, error) {
	rel, job, err := s.load(releaseID, tenantID)
	if err != nil {
		return nil, err
	}
	if job.PauseType != release.PauseUserRequested {
		return nil, errors.ErrResumeRefused(string(job.PauseType))
	}

	job.PauseType = release.PauseNone
	if err := s.store.SaveCronJob(job); err != nil {
		return nil, err
	}
	if err := s.store.UpdateReleaseStatus(rel.ID, release.StatusInProgress, actor); err != nil {
		return nil, err
	}
	rel.Status = release.StatusInProgress
	if job.CronStatus == release.CronRunning {
		s.runners.Start(releaseID)
	}

	s.logger.Info("release resumed", "release_id", releaseID, "actor", actor)
	s.publishRelease(rel, job)
	s.overview.Invalidate(releaseID)
	return job, nil
}

// RetryTask re-arms a failed task: the task returns to PENDING, its
// failed builds are cleared so the next tick can trigger them fresh,
// and a TASK_FAILURE pause on the release is lifted.
func (s *Service) RetryTask(ctx context.Context, taskID, actor string) (*db.ReleaseTask, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errors.ErrTaskNotFound(taskID)
	}
	if task.Status != release.TaskFailed {
		return nil, errors.ErrTaskNotRetryable(taskID, string(task.Status))
	}

	if err := s.store.UpdateTaskStatus(taskID, release.TaskPending); err != nil {
		return nil, err
	}
	task.Status = release.TaskPending
	if err := s.store.ResetFailedBuildsForTask(taskID); err != nil {
		return nil, err
	}

	rel, job, err := s.load(task.ReleaseID, "")
	if err != nil {
		return nil, err
	}
	if job.PauseType == release.PauseTaskFailure {
		job.PauseType = release.PauseNone
		job.CronStatus = release.CronRunning
		if err := s.store.SaveCronJob(job); err != nil {
			return nil, err
		}
		if err := s.store.UpdateReleaseStatus(rel.ID, release.StatusInProgress, actor); err != nil {
			return nil, err
		}
		rel.Status = release.StatusInProgress
		s.runners.Start(rel.ID)
	}

	s.logger.Info("task retried",
		"release_id", task.ReleaseID,
		"task_id", taskID,
		"task_type", task.Type,
		"actor", actor)
	s.publishTask(task)
	s.publishRelease(rel, job)
	s.overview.Invalidate(task.ReleaseID)
	return task, nil
}

// ArchiveRelease shelves a release: status ARCHIVED, cron paused,
// runner and poll jobs torn down. Idempotent.
func (s *Service) ArchiveRelease(ctx context.Context, releaseID, actor string) error {
	rel, err := s.store.GetRelease(releaseID)
	if err != nil {
		return err
	}
	if rel == nil {
		return errors.ErrReleaseNotFound(releaseID)
	}
	if rel.Status == release.StatusArchived {
		return nil
	}

	if err := s.store.UpdateReleaseStatus(releaseID, release.StatusArchived, actor); err != nil {
		return err
	}
	rel.Status = release.StatusArchived

	job, err := s.store.GetCronJobByRelease(releaseID)
	if err != nil {
		return err
	}
	if job != nil && job.CronStatus == release.CronRunning {
		job.CronStatus = release.CronPaused
		if err := s.store.SaveCronJob(job); err != nil {
			return err
		}
	}

	s.runners.Stop(releaseID)
	s.pollJobs.DeleteJobs(releaseID)

	s.logger.Info("release archived", "release_id", releaseID, "actor", actor)
	s.publishRelease(rel, job)
	s.overview.Invalidate(releaseID)
	return nil
}
