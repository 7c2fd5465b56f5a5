package service

import (
	"context"
	"fmt"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/release"
)

// TriggerStage2 manually advances a release into the regression stage.
// Used when auto-transition is off or after an AWAITING_STAGE_TRIGGER
// pause.
func (s *Service) TriggerStage2(ctx context.Context, releaseID, tenantID, actor string) (*db.CronJob, error) {
	rel, job, err := s.load(releaseID, tenantID)
	if err != nil {
		return nil, err
	}
	if release.IsTerminalStatus(rel.Status) {
		return nil, errors.ErrReleaseTerminal(rel.ID, string(rel.Status))
	}
	if job.Stage1Status != release.StageCompleted {
		return nil, errors.ErrStageNotReady(2, fmt.Sprintf("stage 1 is %s", job.Stage1Status))
	}
	if job.Stage2Status != release.StagePending {
		return nil, errors.ErrStageNotReady(2, fmt.Sprintf("stage 2 is already %s", job.Stage2Status))
	}

	job.Stage2Status = release.StageInProgress
	s.arm(rel, job, actor)
	if err := s.persistTrigger(rel, job); err != nil {
		return nil, err
	}

	s.logger.Info("stage 2 triggered", "release_id", releaseID, "actor", actor)
	s.publishStage(releaseID, 2, string(release.StageInProgress))
	s.publishRelease(rel, job)
	s.overview.Invalidate(releaseID)
	return job, nil
}

// TriggerStage3Params carries the approval context for the pre-release
// stage.
type TriggerStage3Params struct {
	ApprovedBy string
	Comments   string
	// ForceApprove bypasses the cherry-pick and cycle predicates.
	ForceApprove bool
}

// TriggerStage3 advances a release into the pre-release stage after the
// regression gate. Unless forced, two predicates must hold: no pending
// cherry-picks on the release branch, and no regression work left
// (every cycle DONE, no scheduled slots). An open approval task is
// completed with the approver's name.
func (s *Service) TriggerStage3(ctx context.Context, releaseID, tenantID string, p TriggerStage3Params) (*db.CronJob, error) {
	rel, job, err := s.load(releaseID, tenantID)
	if err != nil {
		return nil, err
	}
	if release.IsTerminalStatus(rel.Status) {
		return nil, errors.ErrReleaseTerminal(rel.ID, string(rel.Status))
	}
	if job.Stage2Status != release.StageCompleted {
		return nil, errors.ErrStageNotReady(3, fmt.Sprintf("stage 2 is %s", job.Stage2Status))
	}
	if job.Stage3Status != release.StagePending {
		return nil, errors.ErrStageNotReady(3, fmt.Sprintf("stage 3 is already %s", job.Stage3Status))
	}

	if !p.ForceApprove {
		pending, err := s.status.PendingCherryPicks(ctx, releaseID)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, errors.ErrCherryPickPending()
		}
		done, err := s.store.AllCyclesDone(releaseID)
		if err != nil {
			return nil, err
		}
		if !done || len(job.UpcomingRegressions) > 0 {
			return nil, errors.ErrCyclesNotCompleted()
		}
	}

	approval, err := s.store.GetTaskByType(releaseID, release.TaskRegressionApproval, "")
	if err != nil {
		return nil, err
	}
	if approval != nil && !release.IsTerminalTaskStatus(approval.Status) {
		if err := s.store.UpdateTaskStatus(approval.ID, release.TaskCompleted); err != nil {
			return nil, err
		}
		if err := s.store.SetTaskExternal(approval.ID, p.ApprovedBy, p.Comments); err != nil {
			return nil, err
		}
		approval.Status = release.TaskCompleted
		s.publishTask(approval)
	}

	job.Stage3Status = release.StageInProgress
	s.arm(rel, job, p.ApprovedBy)
	if err := s.persistTrigger(rel, job); err != nil {
		return nil, err
	}

	s.logger.Info("stage 3 triggered",
		"release_id", releaseID,
		"approved_by", p.ApprovedBy,
		"forced", p.ForceApprove)
	s.publishStage(releaseID, 3, string(release.StageInProgress))
	s.publishRelease(rel, job)
	s.overview.Invalidate(releaseID)
	return job, nil
}

// arm puts the cron back into motion after a manual trigger.
func (s *Service) arm(rel *db.Release, job *db.CronJob, actor string) {
	job.CronStatus = release.CronRunning
	job.PauseType = release.PauseNone
	rel.Status = release.StatusInProgress
	rel.LastUpdatedBy = actor
}

func (s *Service) persistTrigger(rel *db.Release, job *db.CronJob) error {
	if err := s.store.SaveCronJob(job); err != nil {
		return err
	}
	if err := s.store.UpdateReleaseStatus(rel.ID, rel.Status, rel.LastUpdatedBy); err != nil {
		return err
	}
	s.runners.Start(rel.ID)
	if err := s.pollJobs.CreateJobs(rel.ID); err != nil {
		s.logger.Warn("poll job creation failed", "release_id", rel.ID, "error", err)
	}
	return nil
}
