package callback

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/release"
)

func TestAggregate(t *testing.T) {
	t.Parallel()

	b := func(wf release.WorkflowStatus, up release.UploadStatus) *db.Build {
		return &db.Build{WorkflowStatus: wf, UploadStatus: up}
	}

	tests := []struct {
		name   string
		builds []*db.Build
		want   AggregateStatus
	}{
		{"no builds", nil, AggregateNoBuilds},
		{"workflow failed", []*db.Build{
			b(release.WorkflowCompleted, release.UploadUploaded),
			b(release.WorkflowFailed, release.UploadFailed),
		}, AggregateFailed},
		{"upload failed", []*db.Build{
			b(release.WorkflowCompleted, release.UploadFailed),
		}, AggregateFailed},
		{"pending beats running", []*db.Build{
			b(release.WorkflowPending, release.UploadPending),
			b(release.WorkflowRunning, release.UploadPending),
		}, AggregatePending},
		{"running", []*db.Build{
			b(release.WorkflowRunning, release.UploadPending),
			b(release.WorkflowCompleted, release.UploadUploaded),
		}, AggregateRunning},
		{"all done", []*db.Build{
			b(release.WorkflowCompleted, release.UploadUploaded),
			b(release.WorkflowCompleted, release.UploadUploaded),
		}, AggregateCompleted},
		{"workflow done, artifact outstanding", []*db.Build{
			b(release.WorkflowCompleted, release.UploadPending),
		}, AggregateRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(tt.builds); got != tt.want {
				t.Errorf("Aggregate() = %s, want %s", got, tt.want)
			}
		})
	}
}

type fixture struct {
	store *db.Store
	agg   *Aggregator
	rel   *db.Release
	job   *db.CronJob
	task  *db.ReleaseTask
}

func newFixture(t *testing.T, taskStatus release.TaskStatus) *fixture {
	t.Helper()

	store := db.NewTestStore(t)
	agg := New(store, events.NewNopPublisher(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	rel := &db.Release{
		TenantID:      "tenant-1",
		ReleaseBranch: "release/7.0.0",
		BaseBranch:    "develop",
		Type:          release.TypePlanned,
		Status:        release.StatusInProgress,
		KickOffDate:   time.Now().UTC(),
		CreatedBy:     "maya",
	}
	if err := store.SaveRelease(rel); err != nil {
		t.Fatalf("save release: %v", err)
	}
	job := &db.CronJob{
		ReleaseID:    rel.ID,
		CronStatus:   release.CronRunning,
		Stage1Status: release.StageInProgress,
		Config:       release.DefaultCronConfig(),
	}
	if err := store.SaveCronJob(job); err != nil {
		t.Fatalf("save cron job: %v", err)
	}
	task := &db.ReleaseTask{
		ReleaseID: rel.ID,
		Type:      release.TaskTriggerPreRegBuilds,
		Stage:     release.StageKickoff,
		Status:    taskStatus,
	}
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	return &fixture{store: store, agg: agg, rel: rel, job: job, task: task}
}

func (f *fixture) build(t *testing.T, platform release.Platform, bt release.BuildType, wf release.WorkflowStatus, up release.UploadStatus) *db.Build {
	t.Helper()

	b := &db.Build{
		ReleaseID:      f.rel.ID,
		TaskID:         f.task.ID,
		Platform:       platform,
		BuildType:      bt,
		CIRunType:      release.CIJenkins,
		WorkflowStatus: wf,
		UploadStatus:   up,
	}
	if err := f.store.SaveBuild(b); err != nil {
		t.Fatalf("save build: %v", err)
	}
	return b
}

func TestProcessCallbackCompletesTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, release.TaskAwaitingCallback)
	f.build(t, release.PlatformAndroid, release.BuildCICD, release.WorkflowCompleted, release.UploadUploaded)
	f.build(t, release.PlatformIOS, release.BuildCICD, release.WorkflowCompleted, release.UploadUploaded)

	agg, err := f.agg.ProcessCallback(context.Background(), f.task.ID)
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if agg != AggregateCompleted {
		t.Errorf("aggregate = %s", agg)
	}
	task, err := f.store.GetTask(f.task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != release.TaskCompleted {
		t.Errorf("task status = %s", task.Status)
	}
}

func TestProcessCallbackClearsManualPause(t *testing.T) {
	t.Parallel()

	f := newFixture(t, release.TaskAwaitingManualBuild)
	f.job.PauseType = release.PauseAwaitingManualBuild
	if err := f.store.SaveCronJob(f.job); err != nil {
		t.Fatalf("save cron job: %v", err)
	}
	f.build(t, release.PlatformAndroid, release.BuildManual, release.WorkflowCompleted, release.UploadUploaded)

	if _, err := f.agg.ProcessCallback(context.Background(), f.task.ID); err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	job, err := f.store.GetCronJobByRelease(f.rel.ID)
	if err != nil {
		t.Fatalf("get cron job: %v", err)
	}
	if job.PauseType != release.PauseNone {
		t.Errorf("pause type = %s, want manual pause lifted", job.PauseType)
	}
}

func TestProcessCallbackFailsAndPauses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, release.TaskAwaitingCallback)
	f.build(t, release.PlatformAndroid, release.BuildCICD, release.WorkflowFailed, release.UploadFailed)
	f.build(t, release.PlatformIOS, release.BuildCICD, release.WorkflowCompleted, release.UploadUploaded)

	agg, err := f.agg.ProcessCallback(context.Background(), f.task.ID)
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if agg != AggregateFailed {
		t.Errorf("aggregate = %s", agg)
	}

	task, _ := f.store.GetTask(f.task.ID)
	if task.Status != release.TaskFailed {
		t.Errorf("task status = %s", task.Status)
	}
	rel, _ := f.store.GetRelease(f.rel.ID)
	if rel.Status != release.StatusPaused {
		t.Errorf("release status = %s", rel.Status)
	}
	job, _ := f.store.GetCronJobByRelease(f.rel.ID)
	if job.PauseType != release.PauseTaskFailure {
		t.Errorf("pause type = %s", job.PauseType)
	}
	if job.CronStatus != release.CronPaused {
		t.Errorf("cron status = %s", job.CronStatus)
	}
}

func TestProcessCallbackNeverReopensTerminalTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, release.TaskCompleted)
	f.build(t, release.PlatformAndroid, release.BuildCICD, release.WorkflowFailed, release.UploadFailed)

	agg, err := f.agg.ProcessCallback(context.Background(), f.task.ID)
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if agg != AggregateFailed {
		t.Errorf("aggregate = %s", agg)
	}
	task, _ := f.store.GetTask(f.task.ID)
	if task.Status != release.TaskCompleted {
		t.Errorf("task status = %s, terminal tasks must stay put", task.Status)
	}
	rel, _ := f.store.GetRelease(f.rel.ID)
	if rel.Status != release.StatusInProgress {
		t.Errorf("release status = %s, want untouched", rel.Status)
	}
}

func TestProcessCallbackWaitsOnPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, release.TaskAwaitingCallback)
	f.build(t, release.PlatformAndroid, release.BuildCICD, release.WorkflowPending, release.UploadPending)

	agg, err := f.agg.ProcessCallback(context.Background(), f.task.ID)
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if agg != AggregatePending {
		t.Errorf("aggregate = %s", agg)
	}
	task, _ := f.store.GetTask(f.task.ID)
	if task.Status != release.TaskAwaitingCallback {
		t.Errorf("task status = %s, want unchanged", task.Status)
	}
}

func TestApplyManualUploadsPlatformByPlatform(t *testing.T) {
	t.Parallel()

	f := newFixture(t, release.TaskAwaitingManualBuild)
	f.build(t, release.PlatformAndroid, release.BuildManual, release.WorkflowPending, release.UploadPending)
	f.build(t, release.PlatformIOS, release.BuildManual, release.WorkflowPending, release.UploadPending)

	android := &db.ReleaseUpload{
		TenantID:     "tenant-1",
		ReleaseID:    f.rel.ID,
		Platform:     release.PlatformAndroid,
		Stage:        release.UploadStageKickOff,
		ArtifactPath: "/uploads/app-7.0.0.apk",
	}
	if err := f.store.UpsertUpload(android); err != nil {
		t.Fatalf("upsert android: %v", err)
	}

	agg, err := f.agg.ApplyManualUploads(context.Background(), f.task.ID)
	if err != nil {
		t.Fatalf("ApplyManualUploads: %v", err)
	}
	if agg == AggregateCompleted {
		t.Fatal("aggregate completed with iOS artifact missing")
	}
	task, _ := f.store.GetTask(f.task.ID)
	if task.Status != release.TaskAwaitingManualBuild {
		t.Errorf("task status = %s, want still awaiting", task.Status)
	}
	got, err := f.store.GetUpload(f.rel.ID, release.PlatformAndroid, release.UploadStageKickOff)
	if err != nil {
		t.Fatalf("get upload: %v", err)
	}
	if !got.IsUsed {
		t.Error("android upload not marked used")
	}

	ios := &db.ReleaseUpload{
		TenantID:     "tenant-1",
		ReleaseID:    f.rel.ID,
		Platform:     release.PlatformIOS,
		Stage:        release.UploadStageKickOff,
		ArtifactPath: "/uploads/app-6.7.0.ipa",
	}
	if err := f.store.UpsertUpload(ios); err != nil {
		t.Fatalf("upsert ios: %v", err)
	}

	agg, err = f.agg.ApplyManualUploads(context.Background(), f.task.ID)
	if err != nil {
		t.Fatalf("ApplyManualUploads: %v", err)
	}
	if agg != AggregateCompleted {
		t.Errorf("aggregate = %s", agg)
	}
	task, _ = f.store.GetTask(f.task.ID)
	if task.Status != release.TaskCompleted {
		t.Errorf("task status = %s", task.Status)
	}

	builds, _ := f.store.ListBuildsByTask(f.task.ID)
	for _, b := range builds {
		if b.ArtifactPath == "" {
			t.Errorf("build %s/%s has no artifact", b.Platform, b.ID)
		}
	}
}

func TestApplyManualUploadsUnknownTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, release.TaskAwaitingManualBuild)
	if _, err := f.agg.ApplyManualUploads(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}
