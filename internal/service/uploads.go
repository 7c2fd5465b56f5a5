package service

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/release"
)

// UploadParams describes one manually built artifact.
type UploadParams struct {
	ReleaseID    string
	Platform     release.Platform
	Stage        release.UploadStage
	ArtifactPath string
	UploadedBy   string
}

// SubmitUpload stages a manual build artifact. The path must match the
// platform's artifact pattern and the platform must be mapped on the
// release. If a build task is currently waiting on manual artifacts for
// the upload's stage, the artifact is attached immediately and may
// complete the task.
func (s *Service) SubmitUpload(ctx context.Context, p UploadParams) (*db.ReleaseUpload, error) {
	rel, err := s.store.GetRelease(p.ReleaseID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, errors.ErrReleaseNotFound(p.ReleaseID)
	}
	if release.IsTerminalStatus(rel.Status) {
		return nil, errors.ErrReleaseTerminal(rel.ID, string(rel.Status))
	}
	if !release.IsValidPlatform(p.Platform) {
		return nil, errors.ErrInvalidArgument("platform", fmt.Sprintf("unknown platform %q", p.Platform))
	}
	if !release.IsValidUploadStage(p.Stage) {
		return nil, errors.ErrInvalidArgument("stage", fmt.Sprintf("unknown upload stage %q", p.Stage))
	}
	if p.ArtifactPath == "" {
		return nil, errors.ErrInvalidArgument("artifact_path", "artifact path is required")
	}

	mappings, err := s.store.ListMappings(p.ReleaseID)
	if err != nil {
		return nil, err
	}
	mapped := false
	for _, m := range mappings {
		if m.Platform == p.Platform {
			mapped = true
			break
		}
	}
	if !mapped {
		return nil, errors.ErrInvalidArgument("platform", fmt.Sprintf("platform %s is not part of this release", p.Platform))
	}

	pattern := release.ArtifactPattern(p.Platform)
	ok, err := doublestar.Match(pattern, p.ArtifactPath)
	if err != nil || !ok {
		return nil, errors.ErrArtifactInvalid(p.ArtifactPath, string(p.Platform), pattern)
	}

	upload := &db.ReleaseUpload{
		TenantID:     rel.TenantID,
		ReleaseID:    p.ReleaseID,
		Platform:     p.Platform,
		Stage:        p.Stage,
		ArtifactPath: p.ArtifactPath,
	}
	if err := s.store.UpsertUpload(upload); err != nil {
		return nil, err
	}

	s.logger.Info("artifact uploaded",
		"release_id", p.ReleaseID,
		"platform", p.Platform,
		"stage", p.Stage,
		"path", p.ArtifactPath,
		"uploaded_by", p.UploadedBy)
	s.pub.Publish(events.NewEvent(events.EventUpload, p.ReleaseID, events.UploadReceived{
		Platform:     string(p.Platform),
		Stage:        string(p.Stage),
		ArtifactPath: p.ArtifactPath,
	}))

	if err := s.applyToAwaitingTasks(ctx, p.ReleaseID, p.Stage); err != nil {
		s.logger.Warn("upload staged but not applied",
			"release_id", p.ReleaseID,
			"platform", p.Platform,
			"error", err)
		s.pub.Publish(events.NewEvent(events.EventError, p.ReleaseID, events.ErrorData{
			Source:  "callback",
			Message: err.Error(),
		}))
	}

	s.overview.Invalidate(p.ReleaseID)
	return upload, nil
}

// applyToAwaitingTasks attaches staged uploads to any task currently
// waiting on manual artifacts for the given stage.
func (s *Service) applyToAwaitingTasks(ctx context.Context, releaseID string, stage release.UploadStage) error {
	if s.agg == nil {
		return nil
	}
	tasks, err := s.store.ListTasksByStatus(releaseID, release.TaskAwaitingManualBuild)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if release.UploadStageFor(task.Stage) != stage {
			continue
		}
		if _, err := s.agg.ApplyManualUploads(ctx, task.ID); err != nil {
			return err
		}
	}
	return nil
}
