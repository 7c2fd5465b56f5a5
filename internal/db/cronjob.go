package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relohq/relo/internal/release"
)

// CronJob is the per-release state machine record driving the train.
type CronJob struct {
	ID                   string
	ReleaseID            string
	CronStatus           release.CronStatus
	Stage1Status         release.StageStatus
	Stage2Status         release.StageStatus
	Stage3Status         release.StageStatus
	Config               release.CronConfig
	UpcomingRegressions  []release.RegressionSlot
	AutoTransitionStage2 bool
	AutoTransitionStage3 bool
	PauseType            release.PauseType
	CronStoppedAt        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StageStatus returns the status of the given stage (1-3).
func (j *CronJob) StageStatus(stage int) release.StageStatus {
	switch stage {
	case 1:
		return j.Stage1Status
	case 2:
		return j.Stage2Status
	case 3:
		return j.Stage3Status
	}
	return ""
}

// SetStageStatus sets the status of the given stage (1-3).
func (j *CronJob) SetStageStatus(stage int, status release.StageStatus) {
	switch stage {
	case 1:
		j.Stage1Status = status
	case 2:
		j.Stage2Status = status
	case 3:
		j.Stage3Status = status
	}
}

const cronJobColumns = `id, release_id, cron_status, stage1_status, stage2_status, stage3_status,
		cron_config, upcoming_regressions, auto_transition_stage2, auto_transition_stage3,
		pause_type, cron_stopped_at, created_at, updated_at`

// SaveCronJob creates or updates a cron job.
func (s *Store) SaveCronJob(j *CronJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.PauseType == "" {
		j.PauseType = release.PauseNone
	}

	configJSON, err := json.Marshal(j.Config)
	if err != nil {
		return fmt.Errorf("marshal cron config: %w", err)
	}
	slots := j.UpcomingRegressions
	if slots == nil {
		slots = []release.RegressionSlot{}
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("marshal upcoming regressions: %w", err)
	}

	_, err = s.Exec(`
		INSERT INTO cron_jobs (`+cronJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cron_status = excluded.cron_status,
			stage1_status = excluded.stage1_status,
			stage2_status = excluded.stage2_status,
			stage3_status = excluded.stage3_status,
			cron_config = excluded.cron_config,
			upcoming_regressions = excluded.upcoming_regressions,
			auto_transition_stage2 = excluded.auto_transition_stage2,
			auto_transition_stage3 = excluded.auto_transition_stage3,
			pause_type = excluded.pause_type,
			cron_stopped_at = excluded.cron_stopped_at,
			updated_at = excluded.updated_at
	`,
		j.ID,
		j.ReleaseID,
		string(j.CronStatus),
		string(j.Stage1Status),
		string(j.Stage2Status),
		string(j.Stage3Status),
		string(configJSON),
		string(slotsJSON),
		boolToInt(j.AutoTransitionStage2),
		boolToInt(j.AutoTransitionStage3),
		string(j.PauseType),
		formatNullableTime(j.CronStoppedAt),
		j.CreatedAt.Format(time.RFC3339),
		j.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save cron job: %w", err)
	}
	return nil
}

// GetCronJob retrieves a cron job by ID. Returns nil if not found.
func (s *Store) GetCronJob(id string) (*CronJob, error) {
	row := s.QueryRow(`SELECT `+cronJobColumns+` FROM cron_jobs WHERE id = ?`, id)
	j, err := scanCronJob(row)
	if err != nil {
		return nil, fmt.Errorf("get cron job: %w", err)
	}
	return j, nil
}

// GetCronJobByRelease retrieves the cron job for a release.
// Returns nil if the release has no cron job.
func (s *Store) GetCronJobByRelease(releaseID string) (*CronJob, error) {
	row := s.QueryRow(`SELECT `+cronJobColumns+` FROM cron_jobs WHERE release_id = ?`, releaseID)
	j, err := scanCronJob(row)
	if err != nil {
		return nil, fmt.Errorf("get cron job by release: %w", err)
	}
	return j, nil
}

// ListCronJobsByStatus returns all cron jobs with the given status.
// Used on boot to resume RUNNING jobs.
func (s *Store) ListCronJobsByStatus(status release.CronStatus) ([]*CronJob, error) {
	rows, err := s.Query(`SELECT `+cronJobColumns+` FROM cron_jobs WHERE cron_status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*CronJob
	for rows.Next() {
		j, err := scanCronJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cron jobs: %w", err)
	}

	return jobs, nil
}

func scanCronJob(row *sql.Row) (*CronJob, error) {
	var j CronJob
	var cronStatus, s1, s2, s3, configJSON, slotsJSON, pauseType, createdAt, updatedAt string
	var stoppedAt sql.NullString
	var auto2, auto3 int

	err := row.Scan(
		&j.ID, &j.ReleaseID, &cronStatus, &s1, &s2, &s3,
		&configJSON, &slotsJSON, &auto2, &auto3,
		&pauseType, &stoppedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cron job: %w", err)
	}

	if err := fillCronJob(&j, cronStatus, s1, s2, s3, configJSON, slotsJSON, pauseType, createdAt, updatedAt, stoppedAt, auto2, auto3); err != nil {
		return nil, err
	}
	return &j, nil
}

func scanCronJobRows(rows *sql.Rows) (*CronJob, error) {
	var j CronJob
	var cronStatus, s1, s2, s3, configJSON, slotsJSON, pauseType, createdAt, updatedAt string
	var stoppedAt sql.NullString
	var auto2, auto3 int

	err := rows.Scan(
		&j.ID, &j.ReleaseID, &cronStatus, &s1, &s2, &s3,
		&configJSON, &slotsJSON, &auto2, &auto3,
		&pauseType, &stoppedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan cron job: %w", err)
	}

	if err := fillCronJob(&j, cronStatus, s1, s2, s3, configJSON, slotsJSON, pauseType, createdAt, updatedAt, stoppedAt, auto2, auto3); err != nil {
		return nil, err
	}
	return &j, nil
}

func fillCronJob(j *CronJob, cronStatus, s1, s2, s3, configJSON, slotsJSON, pauseType, createdAt, updatedAt string, stoppedAt sql.NullString, auto2, auto3 int) error {
	j.CronStatus = release.CronStatus(cronStatus)
	j.Stage1Status = release.StageStatus(s1)
	j.Stage2Status = release.StageStatus(s2)
	j.Stage3Status = release.StageStatus(s3)
	j.PauseType = release.PauseType(pauseType)
	j.AutoTransitionStage2 = auto2 != 0
	j.AutoTransitionStage3 = auto3 != 0
	j.CreatedAt = parseTimestamp(createdAt)
	j.UpdatedAt = parseTimestamp(updatedAt)
	if stoppedAt.Valid {
		t := parseTimestamp(stoppedAt.String)
		j.CronStoppedAt = &t
	}

	if configJSON != "" && configJSON != "{}" {
		if err := json.Unmarshal([]byte(configJSON), &j.Config); err != nil {
			return fmt.Errorf("unmarshal cron config: %w", err)
		}
	}
	if slotsJSON != "" && slotsJSON != "[]" {
		if err := json.Unmarshal([]byte(slotsJSON), &j.UpcomingRegressions); err != nil {
			return fmt.Errorf("unmarshal upcoming regressions: %w", err)
		}
	}
	return nil
}
