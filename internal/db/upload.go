package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relohq/relo/internal/release"
)

// ReleaseUpload stages a user-provided artifact for a release, platform,
// and stage. One row per (release, platform, stage); re-uploading before
// consumption replaces the artifact. is_used flips once a build task
// consumes it.
type ReleaseUpload struct {
	ID           string
	TenantID     string
	ReleaseID    string
	Platform     release.Platform
	Stage        release.UploadStage
	ArtifactPath string
	IsUsed       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const uploadColumns = `id, tenant_id, release_id, platform, stage, artifact_path, is_used, created_at, updated_at`

// UpsertUpload stages an artifact. A later upload for the same
// (release, platform, stage) wins and resets is_used.
func (s *Store) UpsertUpload(u *ReleaseUpload) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.IsUsed = false

	_, err := s.Exec(`
		INSERT INTO release_uploads (`+uploadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(release_id, platform, stage) DO UPDATE SET
			artifact_path = excluded.artifact_path,
			is_used = 0,
			updated_at = excluded.updated_at
	`,
		u.ID,
		u.TenantID,
		u.ReleaseID,
		string(u.Platform),
		string(u.Stage),
		u.ArtifactPath,
		boolToInt(u.IsUsed),
		u.CreatedAt.Format(time.RFC3339),
		u.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert upload: %w", err)
	}
	return nil
}

// GetUpload retrieves the staged upload for a release, platform, and
// stage. Returns nil if nothing is staged.
func (s *Store) GetUpload(releaseID string, platform release.Platform, stage release.UploadStage) (*ReleaseUpload, error) {
	row := s.QueryRow(`
		SELECT `+uploadColumns+` FROM release_uploads
		WHERE release_id = ? AND platform = ? AND stage = ?
	`, releaseID, string(platform), string(stage))
	u, err := scanUpload(row)
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

// ListUnusedUploads returns a release's unconsumed uploads for one stage.
func (s *Store) ListUnusedUploads(releaseID string, stage release.UploadStage) ([]*ReleaseUpload, error) {
	rows, err := s.Query(`
		SELECT `+uploadColumns+` FROM release_uploads
		WHERE release_id = ? AND stage = ? AND is_used = 0
		ORDER BY platform
	`, releaseID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list unused uploads: %w", err)
	}
	return collectUploads(rows)
}

// ListUploadsByRelease returns all of a release's uploads.
func (s *Store) ListUploadsByRelease(releaseID string) ([]*ReleaseUpload, error) {
	rows, err := s.Query(`
		SELECT `+uploadColumns+` FROM release_uploads WHERE release_id = ? ORDER BY stage, platform
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return collectUploads(rows)
}

// MarkUploadUsed flags an upload as consumed by a build task.
func (s *Store) MarkUploadUsed(id string) error {
	_, err := s.Exec(`
		UPDATE release_uploads SET is_used = 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark upload used: %w", err)
	}
	return nil
}

func collectUploads(rows *sql.Rows) ([]*ReleaseUpload, error) {
	defer func() { _ = rows.Close() }()

	var uploads []*ReleaseUpload
	for rows.Next() {
		u, err := scanUploadRows(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}

	return uploads, nil
}

func scanUpload(row *sql.Row) (*ReleaseUpload, error) {
	var u ReleaseUpload
	var platform, stage, createdAtStr, updatedAtStr string
	var isUsed int

	err := row.Scan(&u.ID, &u.TenantID, &u.ReleaseID, &platform, &stage, &u.ArtifactPath, &isUsed, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan upload: %w", err)
	}

	fillUpload(&u, platform, stage, createdAtStr, updatedAtStr, isUsed)
	return &u, nil
}

func scanUploadRows(rows *sql.Rows) (*ReleaseUpload, error) {
	var u ReleaseUpload
	var platform, stage, createdAtStr, updatedAtStr string
	var isUsed int

	err := rows.Scan(&u.ID, &u.TenantID, &u.ReleaseID, &platform, &stage, &u.ArtifactPath, &isUsed, &createdAtStr, &updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("scan upload: %w", err)
	}

	fillUpload(&u, platform, stage, createdAtStr, updatedAtStr, isUsed)
	return &u, nil
}

func fillUpload(u *ReleaseUpload, platform, stage, createdAtStr, updatedAtStr string, isUsed int) {
	u.Platform = release.Platform(platform)
	u.Stage = release.UploadStage(stage)
	u.IsUsed = isUsed != 0
	u.CreatedAt = parseTimestamp(createdAtStr)
	u.UpdatedAt = parseTimestamp(updatedAtStr)
}
