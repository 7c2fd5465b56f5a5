package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relohq/relo/internal/release"
)

// Build is one platform build owned by a build task. CICD builds move
// through the workflow lifecycle via the pollers; MANUAL builds complete
// when a user artifact is attached.
type Build struct {
	ID             string
	ReleaseID      string
	TaskID         string
	Platform       release.Platform
	BuildType      release.BuildType
	CIRunType      release.CIRunType
	QueueLocation  string
	CIRunID        string
	WorkflowStatus release.WorkflowStatus
	UploadStatus   release.UploadStatus
	ArtifactPath   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const buildColumns = `id, release_id, task_id, platform, build_type, ci_run_type,
		queue_location, ci_run_id, workflow_status, build_upload_status, artifact_path,
		created_at, updated_at`

// SaveBuild creates or updates a build.
func (s *Store) SaveBuild(b *Build) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.BuildType == "" {
		b.BuildType = release.BuildCICD
	}
	if b.WorkflowStatus == "" {
		b.WorkflowStatus = release.WorkflowPending
	}
	if b.UploadStatus == "" {
		b.UploadStatus = release.UploadPending
	}

	_, err := s.Exec(`
		INSERT INTO builds (`+buildColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			queue_location = excluded.queue_location,
			ci_run_id = excluded.ci_run_id,
			workflow_status = excluded.workflow_status,
			build_upload_status = excluded.build_upload_status,
			artifact_path = excluded.artifact_path,
			updated_at = excluded.updated_at
	`,
		b.ID,
		b.ReleaseID,
		b.TaskID,
		string(b.Platform),
		string(b.BuildType),
		string(b.CIRunType),
		b.QueueLocation,
		b.CIRunID,
		string(b.WorkflowStatus),
		string(b.UploadStatus),
		b.ArtifactPath,
		b.CreatedAt.Format(time.RFC3339),
		b.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save build: %w", err)
	}
	return nil
}

// GetBuild retrieves a build by ID. Returns nil if not found.
func (s *Store) GetBuild(id string) (*Build, error) {
	row := s.QueryRow(`SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	b, err := scanBuild(row)
	if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}
	return b, nil
}

// ListBuildsByTask returns the builds owned by a task, oldest first.
func (s *Store) ListBuildsByTask(taskID string) ([]*Build, error) {
	rows, err := s.Query(`
		SELECT `+buildColumns+` FROM builds WHERE task_id = ? ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list builds by task: %w", err)
	}
	return collectBuilds(rows)
}

// ListBuildsByRelease returns every build of a release, oldest first.
func (s *Store) ListBuildsByRelease(releaseID string) ([]*Build, error) {
	rows, err := s.Query(`
		SELECT `+buildColumns+` FROM builds WHERE release_id = ? ORDER BY created_at, id
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list builds by release: %w", err)
	}
	return collectBuilds(rows)
}

// ListCICDBuildsByWorkflowStatus returns a release's CI-triggered builds
// currently in the given workflow status. The pollers drive off this.
func (s *Store) ListCICDBuildsByWorkflowStatus(releaseID string, status release.WorkflowStatus) ([]*Build, error) {
	rows, err := s.Query(`
		SELECT `+buildColumns+` FROM builds
		WHERE release_id = ? AND build_type = ? AND workflow_status = ?
		ORDER BY created_at, id
	`, releaseID, string(release.BuildCICD), string(status))
	if err != nil {
		return nil, fmt.Errorf("list cicd builds: %w", err)
	}
	return collectBuilds(rows)
}

// UpdateBuildWorkflow records a workflow transition observed by a poller.
// ciRunID is kept when empty so a pending->running update cannot erase it.
func (s *Store) UpdateBuildWorkflow(id string, status release.WorkflowStatus, ciRunID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var err error
	if ciRunID != "" {
		_, err = s.Exec(`
			UPDATE builds SET workflow_status = ?, ci_run_id = ?, updated_at = ? WHERE id = ?
		`, string(status), ciRunID, now, id)
	} else {
		_, err = s.Exec(`
			UPDATE builds SET workflow_status = ?, updated_at = ? WHERE id = ?
		`, string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("update build workflow: %w", err)
	}
	return nil
}

// UpdateBuildUploadStatus records whether the build's artifact reached
// its destination.
func (s *Store) UpdateBuildUploadStatus(id string, status release.UploadStatus) error {
	_, err := s.Exec(`
		UPDATE builds SET build_upload_status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update build upload status: %w", err)
	}
	return nil
}

// SetBuildArtifact attaches an artifact path to a build and marks the
// build complete. Used when a manual upload satisfies a MANUAL build.
func (s *Store) SetBuildArtifact(id, artifactPath string) error {
	_, err := s.Exec(`
		UPDATE builds SET artifact_path = ?, workflow_status = ?, build_upload_status = ?, updated_at = ?
		WHERE id = ?
	`, artifactPath, string(release.WorkflowCompleted), string(release.UploadUploaded),
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set build artifact: %w", err)
	}
	return nil
}

// ResetFailedBuildsForTask deletes a task's failed builds so a retry can
// trigger them fresh.
func (s *Store) ResetFailedBuildsForTask(taskID string) error {
	_, err := s.Exec(`
		DELETE FROM builds WHERE task_id = ? AND workflow_status = ?
	`, taskID, string(release.WorkflowFailed))
	if err != nil {
		return fmt.Errorf("reset failed builds: %w", err)
	}
	return nil
}

func collectBuilds(rows *sql.Rows) ([]*Build, error) {
	defer func() { _ = rows.Close() }()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuildRows(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}

	return builds, nil
}

func scanBuild(row *sql.Row) (*Build, error) {
	var b Build
	var platform, buildType, ciRunType, wfStatus, uploadStatus, createdAtStr, updatedAtStr string

	err := row.Scan(
		&b.ID, &b.ReleaseID, &b.TaskID, &platform, &buildType, &ciRunType,
		&b.QueueLocation, &b.CIRunID, &wfStatus, &uploadStatus, &b.ArtifactPath,
		&createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan build: %w", err)
	}

	fillBuild(&b, platform, buildType, ciRunType, wfStatus, uploadStatus, createdAtStr, updatedAtStr)
	return &b, nil
}

func scanBuildRows(rows *sql.Rows) (*Build, error) {
	var b Build
	var platform, buildType, ciRunType, wfStatus, uploadStatus, createdAtStr, updatedAtStr string

	err := rows.Scan(
		&b.ID, &b.ReleaseID, &b.TaskID, &platform, &buildType, &ciRunType,
		&b.QueueLocation, &b.CIRunID, &wfStatus, &uploadStatus, &b.ArtifactPath,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scan build: %w", err)
	}

	fillBuild(&b, platform, buildType, ciRunType, wfStatus, uploadStatus, createdAtStr, updatedAtStr)
	return &b, nil
}

func fillBuild(b *Build, platform, buildType, ciRunType, wfStatus, uploadStatus, createdAtStr, updatedAtStr string) {
	b.Platform = release.Platform(platform)
	b.BuildType = release.BuildType(buildType)
	b.CIRunType = release.CIRunType(ciRunType)
	b.WorkflowStatus = release.WorkflowStatus(wfStatus)
	b.UploadStatus = release.UploadStatus(uploadStatus)
	b.CreatedAt = parseTimestamp(createdAtStr)
	b.UpdatedAt = parseTimestamp(updatedAtStr)
}
