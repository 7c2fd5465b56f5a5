package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relohq/relo/internal/release"
)

// Release represents a tracked release train.
type Release struct {
	ID                   string
	TenantID             string
	ReleaseBranch        string
	BaseBranch           string
	Type                 release.Type
	Status               release.Status
	KickOffDate          time.Time
	TargetReleaseDate    time.Time
	ReleaseDate          *time.Time
	HasManualBuildUpload bool
	ReleaseConfigID      string
	CreatedBy            string
	ReleasePilot         string
	LastUpdatedBy        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ReleaseListOpts specifies options for listing releases.
type ReleaseListOpts struct {
	TenantID string
	Status   release.Status
	Type     release.Type
}

const releaseColumns = `id, tenant_id, release_branch, base_branch, release_type, status,
		kick_off_date, target_release_date, release_date, has_manual_build_upload,
		release_config_id, created_by, release_pilot, last_updated_by, created_at, updated_at`

// SaveRelease creates or updates a release.
func (s *Store) SaveRelease(r *Release) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	var configID *string
	if r.ReleaseConfigID != "" {
		configID = &r.ReleaseConfigID
	}

	_, err := s.Exec(`
		INSERT INTO releases (`+releaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			release_branch = excluded.release_branch,
			base_branch = excluded.base_branch,
			release_type = excluded.release_type,
			status = excluded.status,
			kick_off_date = excluded.kick_off_date,
			target_release_date = excluded.target_release_date,
			release_date = excluded.release_date,
			has_manual_build_upload = excluded.has_manual_build_upload,
			release_config_id = excluded.release_config_id,
			release_pilot = excluded.release_pilot,
			last_updated_by = excluded.last_updated_by,
			updated_at = excluded.updated_at
	`,
		r.ID,
		r.TenantID,
		r.ReleaseBranch,
		r.BaseBranch,
		string(r.Type),
		string(r.Status),
		r.KickOffDate.Format(time.RFC3339),
		r.TargetReleaseDate.Format(time.RFC3339),
		formatNullableTime(r.ReleaseDate),
		boolToInt(r.HasManualBuildUpload),
		configID,
		r.CreatedBy,
		r.ReleasePilot,
		r.LastUpdatedBy,
		r.CreatedAt.Format(time.RFC3339),
		r.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save release: %w", err)
	}
	return nil
}

// GetRelease retrieves a release by ID. Returns nil if not found.
func (s *Store) GetRelease(id string) (*Release, error) {
	row := s.QueryRow(`SELECT `+releaseColumns+` FROM releases WHERE id = ?`, id)
	r, err := scanRelease(row)
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	return r, nil
}

// ListReleases returns releases matching the filter options,
// newest kick-off first.
func (s *Store) ListReleases(opts ReleaseListOpts) ([]*Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE 1=1`
	var args []any

	if opts.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Type != "" {
		query += " AND release_type = ?"
		args = append(args, string(opts.Type))
	}
	query += " ORDER BY kick_off_date DESC"

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var releases []*Release
	for rows.Next() {
		r, err := scanReleaseRows(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}

	return releases, nil
}

// UpdateReleaseStatus updates a release's status and records who changed it.
func (s *Store) UpdateReleaseStatus(id string, status release.Status, updatedBy string) error {
	_, err := s.Exec(`
		UPDATE releases SET status = ?, last_updated_by = ?, updated_at = ? WHERE id = ?
	`, string(status), updatedBy, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update release status: %w", err)
	}
	return nil
}

// SetReleaseDate records the actual release date.
func (s *Store) SetReleaseDate(id string, date time.Time) error {
	_, err := s.Exec(`
		UPDATE releases SET release_date = ?, updated_at = ? WHERE id = ?
	`, date.Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set release date: %w", err)
	}
	return nil
}

func scanRelease(row *sql.Row) (*Release, error) {
	var r Release
	var typeStr, statusStr, kickOffStr, targetStr, createdAtStr, updatedAtStr string
	var releaseDate, configID sql.NullString
	var manualUpload int

	err := row.Scan(
		&r.ID, &r.TenantID, &r.ReleaseBranch, &r.BaseBranch, &typeStr, &statusStr,
		&kickOffStr, &targetStr, &releaseDate, &manualUpload,
		&configID, &r.CreatedBy, &r.ReleasePilot, &r.LastUpdatedBy, &createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan release: %w", err)
	}

	fillRelease(&r, typeStr, statusStr, kickOffStr, targetStr, createdAtStr, updatedAtStr, releaseDate, configID, manualUpload)
	return &r, nil
}

func scanReleaseRows(rows *sql.Rows) (*Release, error) {
	var r Release
	var typeStr, statusStr, kickOffStr, targetStr, createdAtStr, updatedAtStr string
	var releaseDate, configID sql.NullString
	var manualUpload int

	err := rows.Scan(
		&r.ID, &r.TenantID, &r.ReleaseBranch, &r.BaseBranch, &typeStr, &statusStr,
		&kickOffStr, &targetStr, &releaseDate, &manualUpload,
		&configID, &r.CreatedBy, &r.ReleasePilot, &r.LastUpdatedBy, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scan release: %w", err)
	}

	fillRelease(&r, typeStr, statusStr, kickOffStr, targetStr, createdAtStr, updatedAtStr, releaseDate, configID, manualUpload)
	return &r, nil
}

func fillRelease(r *Release, typeStr, statusStr, kickOffStr, targetStr, createdAtStr, updatedAtStr string, releaseDate, configID sql.NullString, manualUpload int) {
	r.Type = release.Type(typeStr)
	r.Status = release.Status(statusStr)
	r.KickOffDate = parseTimestamp(kickOffStr)
	r.TargetReleaseDate = parseTimestamp(targetStr)
	r.CreatedAt = parseTimestamp(createdAtStr)
	r.UpdatedAt = parseTimestamp(updatedAtStr)
	r.HasManualBuildUpload = manualUpload != 0
	if releaseDate.Valid {
		t := parseTimestamp(releaseDate.String)
		r.ReleaseDate = &t
	}
	if configID.Valid {
		r.ReleaseConfigID = configID.String
	}
}

// parseTimestamp tries to parse a timestamp in common formats.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// formatNullableTime formats a time pointer for database storage.
func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
