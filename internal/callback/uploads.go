package callback

import (
	"context"
	"fmt"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/release"
)

// ApplyManualUploads attaches staged artifacts to the task's manual
// builds, consumes the uploads, and recomputes the aggregate. The task
// completes once every mapped platform has an artifact; until then it
// stays in AWAITING_MANUAL_BUILD.
func (a *Aggregator) ApplyManualUploads(ctx context.Context, taskID string) (AggregateStatus, error) {
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
	uploads, err := a.store.ListUnusedUploads(task.ReleaseID, release.UploadStageFor(task.Stage))
	if err != nil {
		return "", fmt.Errorf("list staged uploads: %w", err)
	}
	byPlatform := make(map[release.Platform]*db.ReleaseUpload, len(uploads))
	for _, u := range uploads {
		byPlatform[u.Platform] = u
	}

	for _, b := range builds {
		if b.BuildType != release.BuildManual || b.UploadStatus == release.UploadUploaded {
			continue
		}
		u, ok := byPlatform[b.Platform]
		if !ok {
			continue
		}
		if err := a.store.SetBuildArtifact(b.ID, u.ArtifactPath); err != nil {
			return "", fmt.Errorf("attach artifact: %w", err)
		}
		if err := a.store.MarkUploadUsed(u.ID); err != nil {
			return "", fmt.Errorf("mark upload used: %w", err)
		}
		a.pub.Publish(events.NewEvent(events.EventBuild, task.ReleaseID, events.BuildUpdate{
			BuildID:        b.ID,
			TaskID:         task.ID,
			Platform:       string(b.Platform),
			WorkflowStatus: string(release.WorkflowCompleted),
			UploadStatus:   string(release.UploadUploaded),
		}))
		a.logger.Info("manual artifact attached",
			"release_id", task.ReleaseID,
			"task_id", task.ID,
			"platform", b.Platform,
			"artifact", u.ArtifactPath)
	}

	return a.ProcessCallback(ctx, taskID)
}
