package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relohq/relo/internal/release"
)

func TestCronJobRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)
	rel := seedRelease(t, store, "acme")

	slotTime := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	job := &CronJob{
		ReleaseID:    rel.ID,
		CronStatus:   release.CronRunning,
		Stage1Status: release.StageInProgress,
		Stage2Status: release.StagePending,
		Stage3Status: release.StagePending,
		Config: release.CronConfig{
			KickOffReminder: true,
			ForkBranch:      true,
			TestSuite:       true,
		},
		UpcomingRegressions: []release.RegressionSlot{
			{SlotTime: slotTime},
			{SlotTime: slotTime.AddDate(0, 0, 2), Config: &release.SlotConfig{AutomationBuilds: true}},
		},
		AutoTransitionStage2: true,
	}
	require.NoError(t, store.SaveCronJob(job))
	require.NotEmpty(t, job.ID)

	got, err := store.GetCronJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rel.ID, got.ReleaseID)
	assert.Equal(t, release.CronRunning, got.CronStatus)
	assert.Equal(t, release.StageInProgress, got.Stage1Status)
	assert.True(t, got.Config.KickOffReminder)
	assert.True(t, got.Config.ForkBranch)
	assert.False(t, got.Config.AutomationRuns)
	assert.True(t, got.AutoTransitionStage2)
	assert.False(t, got.AutoTransitionStage3)
	assert.Equal(t, release.PauseNone, got.PauseType)
	assert.Nil(t, got.CronStoppedAt)

	require.Len(t, got.UpcomingRegressions, 2)
	assert.True(t, got.UpcomingRegressions[0].SlotTime.Equal(slotTime))
	assert.Nil(t, got.UpcomingRegressions[0].Config)
	require.NotNil(t, got.UpcomingRegressions[1].Config)
	assert.True(t, got.UpcomingRegressions[1].Config.AutomationBuilds)
}

func TestCronJobUpsertKeepsID(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)
	rel := seedRelease(t, store, "acme")

	job := &CronJob{ReleaseID: rel.ID, CronStatus: release.CronPending}
	require.NoError(t, store.SaveCronJob(job))
	id := job.ID

	stopped := time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)
	job.CronStatus = release.CronCompleted
	job.Stage3Status = release.StageCompleted
	job.CronStoppedAt = &stopped
	job.UpcomingRegressions = nil
	require.NoError(t, store.SaveCronJob(job))
	assert.Equal(t, id, job.ID)

	got, err := store.GetCronJob(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, release.CronCompleted, got.CronStatus)
	assert.Equal(t, release.StageCompleted, got.Stage3Status)
	require.NotNil(t, got.CronStoppedAt)
	assert.True(t, got.CronStoppedAt.Equal(stopped))
	assert.Empty(t, got.UpcomingRegressions)
}

func TestGetCronJobByRelease(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)
	rel := seedRelease(t, store, "acme")

	require.NoError(t, store.SaveCronJob(&CronJob{ReleaseID: rel.ID, CronStatus: release.CronPaused, PauseType: release.PauseUserRequested}))

	got, err := store.GetCronJobByRelease(rel.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, release.CronPaused, got.CronStatus)
	assert.Equal(t, release.PauseUserRequested, got.PauseType)

	missing, err := store.GetCronJobByRelease("no-such-release")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCronJobStageStatusAccessors(t *testing.T) {
	t.Parallel()

	job := &CronJob{}
	job.SetStageStatus(1, release.StageCompleted)
	job.SetStageStatus(2, release.StageInProgress)
	job.SetStageStatus(3, release.StagePending)

	assert.Equal(t, release.StageCompleted, job.StageStatus(1))
	assert.Equal(t, release.StageInProgress, job.StageStatus(2))
	assert.Equal(t, release.StagePending, job.StageStatus(3))
	assert.Equal(t, release.StageStatus(""), job.StageStatus(4))

	job.SetStageStatus(0, release.StageCompleted)
	assert.Equal(t, release.StageCompleted, job.StageStatus(1), "out-of-range set must not touch stage 1")
}
