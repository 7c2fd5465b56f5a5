package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relohq/relo/internal/release"
)

// ReleaseTask is one catalogue operation scheduled for a release. Tasks
// in the regression stage are scoped to a cycle via RegressionCycleID.
type ReleaseTask struct {
	ID                string
	ReleaseID         string
	RegressionCycleID string
	Type              release.TaskType
	Stage             release.Stage
	Status            release.TaskStatus
	ExternalID        string
	ExternalData      string
	AccountID         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const taskColumns = `id, release_id, regression_cycle_id, task_type, stage, status,
		external_id, external_data, account_id, created_at, updated_at`

// SaveTask creates or updates a release task.
func (s *Store) SaveTask(t *ReleaseTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = release.TaskPending
	}

	var cycleID *string
	if t.RegressionCycleID != "" {
		cycleID = &t.RegressionCycleID
	}

	_, err := s.Exec(`
		INSERT INTO release_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			external_id = excluded.external_id,
			external_data = excluded.external_data,
			account_id = excluded.account_id,
			updated_at = excluded.updated_at
	`,
		t.ID,
		t.ReleaseID,
		cycleID,
		string(t.Type),
		string(t.Stage),
		string(t.Status),
		t.ExternalID,
		t.ExternalData,
		t.AccountID,
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (s *Store) GetTask(id string) (*ReleaseTask, error) {
	row := s.QueryRow(`SELECT `+taskColumns+` FROM release_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetTaskByType retrieves the task of a given type for a release.
// cycleID narrows the lookup for cycle-scoped tasks; pass "" for
// release-scoped ones. Returns nil if not found.
func (s *Store) GetTaskByType(releaseID string, taskType release.TaskType, cycleID string) (*ReleaseTask, error) {
	query := `SELECT ` + taskColumns + ` FROM release_tasks WHERE release_id = ? AND task_type = ?`
	args := []any{releaseID, string(taskType)}
	if cycleID != "" {
		query += " AND regression_cycle_id = ?"
		args = append(args, cycleID)
	} else {
		query += " AND regression_cycle_id IS NULL"
	}

	row := s.QueryRow(query, args...)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("get task by type: %w", err)
	}
	return t, nil
}

// ListTasksByRelease returns every task of a release, oldest first.
func (s *Store) ListTasksByRelease(releaseID string) ([]*ReleaseTask, error) {
	rows, err := s.Query(`
		SELECT `+taskColumns+` FROM release_tasks WHERE release_id = ? ORDER BY created_at, id
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListTasksByStage returns the release-scoped tasks of one stage.
// Cycle-scoped tasks are excluded; use ListTasksByCycle for those.
func (s *Store) ListTasksByStage(releaseID string, stage release.Stage) ([]*ReleaseTask, error) {
	rows, err := s.Query(`
		SELECT `+taskColumns+` FROM release_tasks
		WHERE release_id = ? AND stage = ? AND regression_cycle_id IS NULL
		ORDER BY created_at, id
	`, releaseID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list tasks by stage: %w", err)
	}
	return collectTasks(rows)
}

// ListTasksByCycle returns the tasks belonging to one regression cycle.
func (s *Store) ListTasksByCycle(cycleID string) ([]*ReleaseTask, error) {
	rows, err := s.Query(`
		SELECT `+taskColumns+` FROM release_tasks WHERE regression_cycle_id = ? ORDER BY created_at, id
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by cycle: %w", err)
	}
	return collectTasks(rows)
}

// ListTasksByStatus returns a release's tasks currently in the given status.
func (s *Store) ListTasksByStatus(releaseID string, status release.TaskStatus) ([]*ReleaseTask, error) {
	rows, err := s.Query(`
		SELECT `+taskColumns+` FROM release_tasks
		WHERE release_id = ? AND status = ? ORDER BY created_at, id
	`, releaseID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	return collectTasks(rows)
}

// UpdateTaskStatus moves a task to a new status.
func (s *Store) UpdateTaskStatus(id string, status release.TaskStatus) error {
	_, err := s.Exec(`
		UPDATE release_tasks SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// SetTaskExternal records the remote identifiers a task produced.
func (s *Store) SetTaskExternal(id, externalID, externalData string) error {
	_, err := s.Exec(`
		UPDATE release_tasks SET external_id = ?, external_data = ?, updated_at = ? WHERE id = ?
	`, externalID, externalData, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set task external: %w", err)
	}
	return nil
}

func collectTasks(rows *sql.Rows) ([]*ReleaseTask, error) {
	defer func() { _ = rows.Close() }()

	var tasks []*ReleaseTask
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func scanTask(row *sql.Row) (*ReleaseTask, error) {
	var t ReleaseTask
	var typeStr, stageStr, statusStr, createdAtStr, updatedAtStr string
	var cycleID sql.NullString

	err := row.Scan(
		&t.ID, &t.ReleaseID, &cycleID, &typeStr, &stageStr, &statusStr,
		&t.ExternalID, &t.ExternalData, &t.AccountID, &createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	fillTask(&t, typeStr, stageStr, statusStr, createdAtStr, updatedAtStr, cycleID)
	return &t, nil
}

func scanTaskRows(rows *sql.Rows) (*ReleaseTask, error) {
	var t ReleaseTask
	var typeStr, stageStr, statusStr, createdAtStr, updatedAtStr string
	var cycleID sql.NullString

	err := rows.Scan(
		&t.ID, &t.ReleaseID, &cycleID, &typeStr, &stageStr, &statusStr,
		&t.ExternalID, &t.ExternalData, &t.AccountID, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	fillTask(&t, typeStr, stageStr, statusStr, createdAtStr, updatedAtStr, cycleID)
	return &t, nil
}

func fillTask(t *ReleaseTask, typeStr, stageStr, statusStr, createdAtStr, updatedAtStr string, cycleID sql.NullString) {
	t.Type = release.TaskType(typeStr)
	t.Stage = release.Stage(stageStr)
	t.Status = release.TaskStatus(statusStr)
	t.CreatedAt = parseTimestamp(createdAtStr)
	t.UpdatedAt = parseTimestamp(updatedAtStr)
	if cycleID.Valid {
		t.RegressionCycleID = cycleID.String
	}
}
