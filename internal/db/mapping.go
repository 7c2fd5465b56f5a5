package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relohq/relo/internal/release"
)

// PlatformTargetMapping declares which platforms a release ships to, the
// distribution target per platform, and the platform's version string.
type PlatformTargetMapping struct {
	ReleaseID string
	Platform  release.Platform
	Target    release.Target
	Version   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const mappingColumns = `release_id, platform, target, version, created_at, updated_at`

// ReplaceMappings swaps a release's platform mappings for the given set.
func (s *Store) ReplaceMappings(releaseID string, mappings []PlatformTargetMapping) error {
	now := time.Now().UTC()
	err := s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec(`DELETE FROM platform_target_mappings WHERE release_id = ?`, releaseID); err != nil {
			return err
		}
		for _, m := range mappings {
			_, err := tx.Exec(`
				INSERT INTO platform_target_mappings (`+mappingColumns+`)
				VALUES (?, ?, ?, ?, ?, ?)
			`,
				releaseID,
				string(m.Platform),
				string(m.Target),
				m.Version,
				now.Format(time.RFC3339),
				now.Format(time.RFC3339),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace mappings: %w", err)
	}
	return nil
}

// SaveMapping creates or updates one platform mapping.
func (s *Store) SaveMapping(m *PlatformTargetMapping) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.Exec(`
		INSERT INTO platform_target_mappings (`+mappingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(release_id, platform) DO UPDATE SET
			target = excluded.target,
			version = excluded.version,
			updated_at = excluded.updated_at
	`,
		m.ReleaseID,
		string(m.Platform),
		string(m.Target),
		m.Version,
		m.CreatedAt.Format(time.RFC3339),
		m.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	return nil
}

// ListMappings returns a release's platform mappings in platform order.
func (s *Store) ListMappings(releaseID string) ([]PlatformTargetMapping, error) {
	rows, err := s.Query(`
		SELECT `+mappingColumns+` FROM platform_target_mappings WHERE release_id = ? ORDER BY platform
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []PlatformTargetMapping
	for rows.Next() {
		m, err := scanMappingRows(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}

	return mappings, nil
}

// PlatformVersions returns a release's platform/version pairs, the input
// to the canonical version string.
func (s *Store) PlatformVersions(releaseID string) ([]release.PlatformVersion, error) {
	mappings, err := s.ListMappings(releaseID)
	if err != nil {
		return nil, err
	}
	pairs := make([]release.PlatformVersion, 0, len(mappings))
	for _, m := range mappings {
		pairs = append(pairs, release.PlatformVersion{Platform: m.Platform, Version: m.Version})
	}
	return pairs, nil
}

// AllPlatformsUploaded reports whether every mapped platform of the
// release has an unconsumed upload staged for the given stage.
// False when the release has no platform mappings.
func (s *Store) AllPlatformsUploaded(releaseID string, stage release.UploadStage) (bool, error) {
	row := s.QueryRow(`
		SELECT COUNT(*) FROM platform_target_mappings m
		WHERE m.release_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM release_uploads u
			WHERE u.release_id = m.release_id
			  AND u.platform = m.platform
			  AND u.stage = ?
			  AND u.is_used = 0
		  )
	`, releaseID, string(stage))
	var missing int
	if err := row.Scan(&missing); err != nil {
		return false, fmt.Errorf("check platform uploads: %w", err)
	}
	if missing > 0 {
		return false, nil
	}

	row = s.QueryRow(`SELECT COUNT(*) FROM platform_target_mappings WHERE release_id = ?`, releaseID)
	var total int
	if err := row.Scan(&total); err != nil {
		return false, fmt.Errorf("count platform mappings: %w", err)
	}
	return total > 0, nil
}

func scanMappingRows(rows *sql.Rows) (PlatformTargetMapping, error) {
	var m PlatformTargetMapping
	var platform, target, createdAtStr, updatedAtStr string

	err := rows.Scan(&m.ReleaseID, &platform, &target, &m.Version, &createdAtStr, &updatedAtStr)
	if err != nil {
		return m, fmt.Errorf("scan mapping: %w", err)
	}

	m.Platform = release.Platform(platform)
	m.Target = release.Target(target)
	m.CreatedAt = parseTimestamp(createdAtStr)
	m.UpdatedAt = parseTimestamp(updatedAtStr)
	return m, nil
}
