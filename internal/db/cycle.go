package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relohq/relo/internal/release"
)

// RegressionCycle is one pass of the regression stage. Cycle tags count
// up from 1 per release; exactly one cycle per release is the latest.
type RegressionCycle struct {
	ID        string
	ReleaseID string
	CycleTag  int
	Status    release.CycleStatus
	IsLatest  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

const cycleColumns = `id, release_id, cycle_tag, status, is_latest, created_at, updated_at`

// CreateCycle inserts a new regression cycle and flips is_latest off on
// every prior cycle of the release. Runs in a transaction.
func (s *Store) CreateCycle(c *RegressionCycle) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = release.CycleInProgress
	}
	c.IsLatest = true

	err := s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec(`
			UPDATE regression_cycles SET is_latest = 0, updated_at = ? WHERE release_id = ?
		`, now.Format(time.RFC3339), c.ReleaseID); err != nil {
			return err
		}
		if c.CycleTag == 0 {
			row := tx.QueryRow(`
				SELECT COALESCE(MAX(cycle_tag), 0) FROM regression_cycles WHERE release_id = ?
			`, c.ReleaseID)
			var maxTag int
			if err := row.Scan(&maxTag); err != nil {
				return err
			}
			c.CycleTag = maxTag + 1
		}
		_, err := tx.Exec(`
			INSERT INTO regression_cycles (`+cycleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			c.ID,
			c.ReleaseID,
			c.CycleTag,
			string(c.Status),
			1,
			c.CreatedAt.Format(time.RFC3339),
			c.UpdatedAt.Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("create cycle: %w", err)
	}
	return nil
}

// GetCycle retrieves a cycle by ID. Returns nil if not found.
func (s *Store) GetCycle(id string) (*RegressionCycle, error) {
	row := s.QueryRow(`SELECT `+cycleColumns+` FROM regression_cycles WHERE id = ?`, id)
	c, err := scanCycle(row)
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	return c, nil
}

// GetLatestCycle retrieves the cycle marked latest for a release.
// Returns nil if the release has no cycles yet.
func (s *Store) GetLatestCycle(releaseID string) (*RegressionCycle, error) {
	row := s.QueryRow(`
		SELECT `+cycleColumns+` FROM regression_cycles WHERE release_id = ? AND is_latest = 1
	`, releaseID)
	c, err := scanCycle(row)
	if err != nil {
		return nil, fmt.Errorf("get latest cycle: %w", err)
	}
	return c, nil
}

// ListCyclesByRelease returns a release's cycles in tag order.
func (s *Store) ListCyclesByRelease(releaseID string) ([]*RegressionCycle, error) {
	rows, err := s.Query(`
		SELECT `+cycleColumns+` FROM regression_cycles WHERE release_id = ? ORDER BY cycle_tag
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cycles []*RegressionCycle
	for rows.Next() {
		c, err := scanCycleRows(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}

	return cycles, nil
}

// UpdateCycleStatus moves a cycle to a new status.
func (s *Store) UpdateCycleStatus(id string, status release.CycleStatus) error {
	_, err := s.Exec(`
		UPDATE regression_cycles SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update cycle status: %w", err)
	}
	return nil
}

// AllCyclesDone reports whether every cycle of the release is DONE.
// True when the release has no cycles at all.
func (s *Store) AllCyclesDone(releaseID string) (bool, error) {
	row := s.QueryRow(`
		SELECT COUNT(*) FROM regression_cycles WHERE release_id = ? AND status != ?
	`, releaseID, string(release.CycleDone))
	var open int
	if err := row.Scan(&open); err != nil {
		return false, fmt.Errorf("count open cycles: %w", err)
	}
	return open == 0, nil
}

func scanCycle(row *sql.Row) (*RegressionCycle, error) {
	var c RegressionCycle
	var statusStr, createdAtStr, updatedAtStr string
	var isLatest int

	err := row.Scan(&c.ID, &c.ReleaseID, &c.CycleTag, &statusStr, &isLatest, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}

	fillCycle(&c, statusStr, createdAtStr, updatedAtStr, isLatest)
	return &c, nil
}

func scanCycleRows(rows *sql.Rows) (*RegressionCycle, error) {
	var c RegressionCycle
	var statusStr, createdAtStr, updatedAtStr string
	var isLatest int

	err := rows.Scan(&c.ID, &c.ReleaseID, &c.CycleTag, &statusStr, &isLatest, &createdAtStr, &updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}

	fillCycle(&c, statusStr, createdAtStr, updatedAtStr, isLatest)
	return &c, nil
}

func fillCycle(c *RegressionCycle, statusStr, createdAtStr, updatedAtStr string, isLatest int) {
	c.Status = release.CycleStatus(statusStr)
	c.IsLatest = isLatest != 0
	c.CreatedAt = parseTimestamp(createdAtStr)
	c.UpdatedAt = parseTimestamp(updatedAtStr)
}
