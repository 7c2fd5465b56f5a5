package poller

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/relohq/relo/internal/callback"
	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/provider/providertest"
	"github.com/relohq/relo/internal/release"
)

type fixture struct {
	store  *db.Store
	fakes  *providertest.Set
	poller *Poller
	rel    *db.Release
	task   *db.ReleaseTask
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := db.NewTestStore(t)
	fakes := providertest.NewSet()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := callback.New(store, events.NewNopPublisher(), logger)
	p := New(store, fakes.Registry(), agg, events.NewNopPublisher(), logger)

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
		Status:    release.TaskAwaitingCallback,
	}
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	return &fixture{store: store, fakes: fakes, poller: p, rel: rel, task: task}
}

func (f *fixture) build(t *testing.T, platform release.Platform, wf release.WorkflowStatus, queueLoc, ciRunID string) *db.Build {
	t.Helper()

	b := &db.Build{
		ReleaseID:      f.rel.ID,
		TaskID:         f.task.ID,
		Platform:       platform,
		BuildType:      release.BuildCICD,
		CIRunType:      release.CIJenkins,
		QueueLocation:  queueLoc,
		CIRunID:        ciRunID,
		WorkflowStatus: wf,
	}
	if err := f.store.SaveBuild(b); err != nil {
		t.Fatalf("save build: %v", err)
	}
	return b
}

func TestPollPendingTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	started := f.build(t, release.PlatformAndroid, release.WorkflowPending, "q-android", "")
	queued := f.build(t, release.PlatformIOS, release.WorkflowPending, "q-ios", "")

	f.fakes.CICD.SetQueueStatus("q-android", provider.RunStatus{Status: release.WorkflowRunning, CIRunID: "run-42"})
	f.fakes.CICD.SetQueueStatus("q-ios", provider.RunStatus{Status: release.WorkflowPending})

	if err := f.poller.PollPending(context.Background(), f.rel.ID); err != nil {
		t.Fatalf("PollPending: %v", err)
	}

	got, err := f.store.GetBuild(started.ID)
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if got.WorkflowStatus != release.WorkflowRunning {
		t.Errorf("workflow = %s", got.WorkflowStatus)
	}
	if got.CIRunID != "run-42" {
		t.Errorf("ci run id = %q", got.CIRunID)
	}

	got, err = f.store.GetBuild(queued.ID)
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if got.WorkflowStatus != release.WorkflowPending {
		t.Errorf("queued build moved to %s", got.WorkflowStatus)
	}
}

func TestPollPendingCompletesTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.build(t, release.PlatformAndroid, release.WorkflowPending, "q-android", "")
	f.fakes.CICD.SetQueueStatus("q-android", provider.RunStatus{Status: release.WorkflowCompleted, CIRunID: "run-7"})

	if err := f.poller.PollPending(context.Background(), f.rel.ID); err != nil {
		t.Fatalf("PollPending: %v", err)
	}

	got, _ := f.store.GetBuild(b.ID)
	if got.WorkflowStatus != release.WorkflowCompleted {
		t.Errorf("workflow = %s", got.WorkflowStatus)
	}
	if got.UploadStatus != release.UploadUploaded {
		t.Errorf("upload = %s", got.UploadStatus)
	}
	task, _ := f.store.GetTask(f.task.ID)
	if task.Status != release.TaskCompleted {
		t.Errorf("task status = %s, want callback to complete it", task.Status)
	}
}

func TestPollPendingFailurePausesRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.build(t, release.PlatformAndroid, release.WorkflowPending, "q-android", "")
	f.fakes.CICD.SetQueueStatus("q-android", provider.RunStatus{Status: release.WorkflowFailed})

	if err := f.poller.PollPending(context.Background(), f.rel.ID); err != nil {
		t.Fatalf("PollPending: %v", err)
	}

	got, _ := f.store.GetBuild(b.ID)
	if got.WorkflowStatus != release.WorkflowFailed {
		t.Errorf("workflow = %s", got.WorkflowStatus)
	}
	if got.UploadStatus != release.UploadFailed {
		t.Errorf("upload = %s", got.UploadStatus)
	}
	task, _ := f.store.GetTask(f.task.ID)
	if task.Status != release.TaskFailed {
		t.Errorf("task status = %s", task.Status)
	}
	rel, _ := f.store.GetRelease(f.rel.ID)
	if rel.Status != release.StatusPaused {
		t.Errorf("release status = %s", rel.Status)
	}
}

func TestPollPendingSkipsBrokenBuilds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// No scripted status for this location: the fake errors on it.
	f.build(t, release.PlatformAndroid, release.WorkflowPending, "q-unknown", "")
	ok := f.build(t, release.PlatformIOS, release.WorkflowPending, "q-ios", "")
	f.fakes.CICD.SetQueueStatus("q-ios", provider.RunStatus{Status: release.WorkflowRunning, CIRunID: "run-1"})

	if err := f.poller.PollPending(context.Background(), f.rel.ID); err != nil {
		t.Fatalf("PollPending: %v", err)
	}

	got, _ := f.store.GetBuild(ok.ID)
	if got.WorkflowStatus != release.WorkflowRunning {
		t.Errorf("healthy build = %s, want poll to continue past errors", got.WorkflowStatus)
	}
}

func TestPollRunningCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.build(t, release.PlatformAndroid, release.WorkflowRunning, "q-android", "run-42")
	f.fakes.CICD.SetBuildStatus("run-42", provider.RunStatus{Status: release.WorkflowCompleted})

	if err := f.poller.PollRunning(context.Background(), f.rel.ID); err != nil {
		t.Fatalf("PollRunning: %v", err)
	}

	got, _ := f.store.GetBuild(b.ID)
	if got.WorkflowStatus != release.WorkflowCompleted {
		t.Errorf("workflow = %s", got.WorkflowStatus)
	}
	if got.UploadStatus != release.UploadUploaded {
		t.Errorf("upload = %s", got.UploadStatus)
	}
	task, _ := f.store.GetTask(f.task.ID)
	if task.Status != release.TaskCompleted {
		t.Errorf("task status = %s", task.Status)
	}
}

func TestPollRunningSkipsMissingRunID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.build(t, release.PlatformAndroid, release.WorkflowRunning, "q-android", "")

	if err := f.poller.PollRunning(context.Background(), f.rel.ID); err != nil {
		t.Fatalf("PollRunning: %v", err)
	}
	got, _ := f.store.GetBuild(b.ID)
	if got.WorkflowStatus != release.WorkflowRunning {
		t.Errorf("workflow = %s, want untouched", got.WorkflowStatus)
	}
}

func TestManagerJobLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := NewManager(f.poller, time.Minute, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := m.CreateJobs(f.rel.ID); err != nil {
		t.Fatalf("CreateJobs: %v", err)
	}
	if !m.HasJobs(f.rel.ID) {
		t.Fatal("HasJobs = false after create")
	}
	// Creating again keeps the existing entries.
	if err := m.CreateJobs(f.rel.ID); err != nil {
		t.Fatalf("CreateJobs again: %v", err)
	}

	m.DeleteJobs(f.rel.ID)
	if m.HasJobs(f.rel.ID) {
		t.Fatal("HasJobs = true after delete")
	}
	// Deleting twice is fine.
	m.DeleteJobs(f.rel.ID)
}
