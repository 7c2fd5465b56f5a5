package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/relohq/relo/internal/callback"
	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/executor"
	"github.com/relohq/relo/internal/poller"
	"github.com/relohq/relo/internal/provider/providertest"
	"github.com/relohq/relo/internal/release"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type fixture struct {
	store *db.Store
	fakes *providertest.Set
	eng   *Engine
	pol   *poller.Poller
	agg   *callback.Aggregator
	clock *testClock

	rel *db.Release
	cfg *db.ReleaseConfig
	job *db.CronJob
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := db.NewTestStore(t)
	fakes := providertest.NewSet()
	fakes.CICD.CompleteImmediately = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := events.NewNopPublisher()

	clock := &testClock{now: time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)}
	exec := executor.New(store, fakes.Registry(), logger)
	agg := callback.New(store, pub, logger)
	pol := poller.New(store, fakes.Registry(), agg, pub, logger)
	eng := New(Options{
		Store:      store,
		Executor:   exec,
		Registry:   fakes.Registry(),
		Pub:        pub,
		Logger:     logger,
		Clock:      Clock(clock.Now),
		SlotWindow: 5 * time.Minute,
	})

	cfg := &db.ReleaseConfig{
		TenantID:    "tenant-1",
		Name:        "mobile",
		SCMProvider: "github",
		SCMRepo:     "relohq/mobile",
		CIProvider:  release.CIJenkins,
		BuildWorkflows: map[release.Platform]string{
			release.PlatformAndroid: "mobile/android-release",
			release.PlatformIOS:     "mobile/ios-release",
		},
		PMProvider: "jira",
		PMProjects: map[release.Platform]string{
			release.PlatformAndroid: "AND",
			release.PlatformIOS:     "IOS",
		},
		TestProvider:         "checkmate",
		TestMgmtID:           "mobile",
		NotifyProvider:       "slack",
		NotificationChannels: []string{"#releases"},
		StoreConfigs: map[release.Target]string{
			release.TargetPlayStore: "com.relohq.app",
			release.TargetAppStore:  "123456",
		},
		DefaultToggles: release.DefaultCronConfig(),
	}
	if err := store.SaveReleaseConfig(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	rel := &db.Release{
		TenantID:          "tenant-1",
		ReleaseBranch:     "release/7.0.0",
		BaseBranch:        "develop",
		Type:              release.TypePlanned,
		Status:            release.StatusInProgress,
		KickOffDate:       clock.now.Add(-time.Hour),
		TargetReleaseDate: clock.now.Add(14 * 24 * time.Hour),
		ReleaseConfigID:   cfg.ID,
		CreatedBy:         "maya",
		ReleasePilot:      "maya",
	}
	if err := store.SaveRelease(rel); err != nil {
		t.Fatalf("save release: %v", err)
	}
	if err := store.ReplaceMappings(rel.ID, []db.PlatformTargetMapping{
		{ReleaseID: rel.ID, Platform: release.PlatformAndroid, Target: release.TargetPlayStore, Version: "7.0.0"},
		{ReleaseID: rel.ID, Platform: release.PlatformIOS, Target: release.TargetAppStore, Version: "6.7.0"},
	}); err != nil {
		t.Fatalf("save mappings: %v", err)
	}

	job := &db.CronJob{
		ReleaseID:            rel.ID,
		CronStatus:           release.CronRunning,
		Stage1Status:         release.StageInProgress,
		Stage2Status:         release.StagePending,
		Stage3Status:         release.StagePending,
		Config:               release.DefaultCronConfig(),
		AutoTransitionStage2: true,
		AutoTransitionStage3: true,
	}
	if err := store.SaveCronJob(job); err != nil {
		t.Fatalf("save cron job: %v", err)
	}

	return &fixture{
		store: store, fakes: fakes, eng: eng, pol: pol, agg: agg, clock: clock,
		rel: rel, cfg: cfg, job: job,
	}
}

func (f *fixture) save(t *testing.T) {
	t.Helper()
	if err := f.store.SaveRelease(f.rel); err != nil {
		t.Fatalf("save release: %v", err)
	}
	if err := f.store.SaveCronJob(f.job); err != nil {
		t.Fatalf("save cron job: %v", err)
	}
}

// drive ticks the engine with poll passes in between until the release
// completes, gates, or maxTicks elapse.
func (f *fixture) drive(t *testing.T, maxTicks int) Outcome {
	t.Helper()
	ctx := context.Background()
	var last Outcome
	for i := 0; i < maxTicks; i++ {
		out, err := f.eng.Execute(ctx, f.rel.ID)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		last = out
		if out == OutcomeCompleted || out == OutcomeGated {
			return out
		}
		if err := f.pol.PollPending(ctx, f.rel.ID); err != nil {
			t.Fatalf("pending poll: %v", err)
		}
		if err := f.pol.PollRunning(ctx, f.rel.ID); err != nil {
			t.Fatalf("running poll: %v", err)
		}
	}
	return last
}

func (f *fixture) reload(t *testing.T) (*db.Release, *db.CronJob) {
	t.Helper()
	rel, err := f.store.GetRelease(f.rel.ID)
	if err != nil {
		t.Fatalf("get release: %v", err)
	}
	job, err := f.store.GetCronJobByRelease(f.rel.ID)
	if err != nil {
		t.Fatalf("get cron job: %v", err)
	}
	return rel, job
}

func (f *fixture) hasMessage(t *testing.T, substr string) bool {
	t.Helper()
	for _, msg := range f.fakes.Notify.Messages {
		if strings.Contains(msg.Text, substr) {
			return true
		}
	}
	return false
}

func TestFullAutomaticFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.job.UpcomingRegressions = []release.RegressionSlot{
		{SlotTime: f.clock.now.Add(-5 * time.Second)},
	}
	f.save(t)

	out := f.drive(t, 40)
	if out != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", out)
	}

	rel, job := f.reload(t)
	if rel.Status != release.StatusCompleted {
		t.Errorf("release status = %s", rel.Status)
	}
	if rel.ReleaseDate == nil {
		t.Error("release date not set")
	}
	if job.CronStatus != release.CronCompleted {
		t.Errorf("cron status = %s", job.CronStatus)
	}
	for n := 1; n <= 3; n++ {
		if got := job.StageStatus(n); got != release.StageCompleted {
			t.Errorf("stage %d = %s", n, got)
		}
	}

	cycles, err := f.store.ListCyclesByRelease(f.rel.ID)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d", len(cycles))
	}
	if cycles[0].Status != release.CycleDone {
		t.Errorf("cycle status = %s", cycles[0].Status)
	}

	// Stores received one submission per mobile platform.
	if got := f.fakes.PlayStore.UploadCount(); got != 1 {
		t.Errorf("play store uploads = %d", got)
	}
	if got := f.fakes.AppStore.UploadCount(); got != 1 {
		t.Errorf("app store uploads = %d", got)
	}
}

func TestMultipleCycles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.job.UpcomingRegressions = []release.RegressionSlot{
		{SlotTime: f.clock.now.Add(-5 * time.Second)},
		{SlotTime: f.clock.now.Add(-3 * time.Second)},
	}
	f.save(t)

	if out := f.drive(t, 60); out != OutcomeCompleted {
		t.Fatalf("outcome = %s", out)
	}

	cycles, err := f.store.ListCyclesByRelease(f.rel.ID)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("cycles = %d, want one per slot", len(cycles))
	}
	for _, c := range cycles {
		if c.Status != release.CycleDone {
			t.Errorf("cycle %d status = %s", c.CycleTag, c.Status)
		}
	}
	_, job := f.reload(t)
	if job.Stage2Status != release.StageCompleted {
		t.Errorf("stage 2 = %s", job.Stage2Status)
	}
}

func TestStageTriggerPause(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.job.AutoTransitionStage2 = false
	f.save(t)

	out := f.drive(t, 20)
	if out != OutcomeGated {
		t.Fatalf("outcome = %s, want gated after pause", out)
	}

	_, job := f.reload(t)
	if job.Stage1Status != release.StageCompleted {
		t.Errorf("stage 1 = %s", job.Stage1Status)
	}
	if job.Stage2Status != release.StagePending {
		t.Errorf("stage 2 = %s", job.Stage2Status)
	}
	if job.CronStatus != release.CronPaused {
		t.Errorf("cron status = %s", job.CronStatus)
	}
	if job.PauseType != release.PauseAwaitingStageTrigger {
		t.Errorf("pause type = %s", job.PauseType)
	}
	if !f.hasMessage(t, "kickoff stage complete") {
		t.Error("stage completion was not announced")
	}
	if !f.hasMessage(t, "manual stage trigger") {
		t.Error("announcement missing the manual trigger hint")
	}
}

func TestTaskFailurePausesRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fakes.SCM.ForkErr = errors.New("scm unavailable")

	out := f.drive(t, 10)
	if out != OutcomeGated {
		t.Fatalf("outcome = %s, want gated after failure", out)
	}

	rel, job := f.reload(t)
	if rel.Status != release.StatusPaused {
		t.Errorf("release status = %s", rel.Status)
	}
	if job.PauseType != release.PauseTaskFailure {
		t.Errorf("pause type = %s", job.PauseType)
	}
	fork, err := f.store.GetTaskByType(f.rel.ID, release.TaskForkBranch, "")
	if err != nil {
		t.Fatalf("get fork task: %v", err)
	}
	if fork.Status != release.TaskFailed {
		t.Errorf("fork task = %s", fork.Status)
	}
	// The reminder before it completed; nothing after it started.
	ticket, err := f.store.GetTaskByType(f.rel.ID, release.TaskCreateProjectMgmtTicket, "")
	if err != nil {
		t.Fatalf("get ticket task: %v", err)
	}
	if ticket.Status != release.TaskPending {
		t.Errorf("ticket task = %s, want untouched", ticket.Status)
	}
	if !f.hasMessage(t, "FORK_BRANCH failed") {
		t.Error("task failure was not announced")
	}
}

func TestManualBuildFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.rel.HasManualBuildUpload = true
	f.job.AutoTransitionStage2 = false
	f.save(t)

	out := f.drive(t, 20)
	if out != OutcomeGated {
		t.Fatalf("outcome = %s, want gated awaiting uploads", out)
	}

	_, job := f.reload(t)
	if job.PauseType != release.PauseAwaitingManualBuild {
		t.Fatalf("pause type = %s", job.PauseType)
	}
	task, err := f.store.GetTaskByType(f.rel.ID, release.TaskTriggerPreRegBuilds, "")
	if err != nil {
		t.Fatalf("get build task: %v", err)
	}
	if task.Status != release.TaskAwaitingManualBuild {
		t.Fatalf("task status = %s", task.Status)
	}

	stage := func(platform release.Platform, path string) {
		t.Helper()
		if err := f.store.UpsertUpload(&db.ReleaseUpload{
			TenantID:     "tenant-1",
			ReleaseID:    f.rel.ID,
			Platform:     platform,
			Stage:        release.UploadStageKickOff,
			ArtifactPath: path,
		}); err != nil {
			t.Fatalf("upsert upload: %v", err)
		}
		if _, err := f.agg.ApplyManualUploads(context.Background(), task.ID); err != nil {
			t.Fatalf("apply uploads: %v", err)
		}
	}

	stage(release.PlatformAndroid, "/uploads/app.apk")
	got, _ := f.store.GetTask(task.ID)
	if got.Status != release.TaskAwaitingManualBuild {
		t.Fatalf("status after one platform = %s", got.Status)
	}

	stage(release.PlatformIOS, "/uploads/app.ipa")
	got, _ = f.store.GetTask(task.ID)
	if got.Status != release.TaskCompleted {
		t.Fatalf("status after both platforms = %s", got.Status)
	}

	_, job = f.reload(t)
	if job.PauseType != release.PauseNone {
		t.Fatalf("pause type = %s, want cleared", job.PauseType)
	}

	// The pause lifted; stage 1 runs to completion and parks on the
	// manual stage trigger.
	if out := f.drive(t, 20); out != OutcomeGated {
		t.Fatalf("outcome = %s", out)
	}
	_, job = f.reload(t)
	if job.Stage1Status != release.StageCompleted {
		t.Errorf("stage 1 = %s", job.Stage1Status)
	}
	if job.PauseType != release.PauseAwaitingStageTrigger {
		t.Errorf("pause type = %s", job.PauseType)
	}
}

func TestReminderWaitsForSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reminderAt := f.clock.now.Add(time.Hour)
	f.rel.KickOffDate = f.clock.now.Add(2 * time.Hour)
	f.job.Config.ReminderAt = &reminderAt
	f.save(t)

	out, err := f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeIdle {
		t.Fatalf("outcome = %s, want idle before the reminder slot", out)
	}
	if got := f.fakes.Notify.MessageCount(); got != 0 {
		t.Fatalf("messages = %d, want none yet", got)
	}

	// Within the match window of the reminder slot.
	f.clock.now = reminderAt.Add(-time.Minute)
	out, err = f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeAdvanced {
		t.Fatalf("outcome = %s, want reminder sent", out)
	}
	if got := f.fakes.Notify.MessageCount(); got != 1 {
		t.Errorf("messages = %d", got)
	}

	// The fork still waits for the kickoff time itself.
	out, err = f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeIdle {
		t.Errorf("outcome = %s, want idle before kickoff", out)
	}
	if got := f.fakes.SCM.ForkCount(); got != 0 {
		t.Errorf("forks = %d, want none yet", got)
	}
}

func TestRegressionSlotWaits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.job.Stage1Status = release.StageCompleted
	f.job.Stage2Status = release.StageInProgress
	f.job.UpcomingRegressions = []release.RegressionSlot{
		{SlotTime: f.clock.now.Add(time.Hour)},
	}
	f.save(t)

	out, err := f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeIdle {
		t.Fatalf("outcome = %s, want idle before the slot", out)
	}
	cycles, _ := f.store.ListCyclesByRelease(f.rel.ID)
	if len(cycles) != 0 {
		t.Fatalf("cycles = %d, want none", len(cycles))
	}

	f.clock.now = f.clock.now.Add(time.Hour)
	out, err = f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeAdvanced {
		t.Fatalf("outcome = %s, want cycle started", out)
	}
	cycles, _ = f.store.ListCyclesByRelease(f.rel.ID)
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d", len(cycles))
	}
	_, job := f.reload(t)
	if len(job.UpcomingRegressions) != 0 {
		t.Errorf("slots left = %d, want slot consumed", len(job.UpcomingRegressions))
	}
}

func TestApprovalGatesStageThree(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.job.Config.RegressionApproval = true
	f.job.Stage1Status = release.StageCompleted
	f.job.Stage2Status = release.StageInProgress
	f.save(t)

	out := f.drive(t, 10)
	if out != OutcomeGated {
		t.Fatalf("outcome = %s, want gated on approval", out)
	}

	_, job := f.reload(t)
	if job.Stage2Status != release.StageCompleted {
		t.Errorf("stage 2 = %s", job.Stage2Status)
	}
	if job.Stage3Status != release.StagePending {
		t.Errorf("stage 3 = %s, must wait for the trigger", job.Stage3Status)
	}
	if job.PauseType != release.PauseAwaitingStageTrigger {
		t.Errorf("pause type = %s", job.PauseType)
	}
	approval, err := f.store.GetTaskByType(f.rel.ID, release.TaskRegressionApproval, "")
	if err != nil {
		t.Fatalf("get approval task: %v", err)
	}
	if approval == nil {
		t.Fatal("approval task not created")
	}
	if approval.Status != release.TaskAwaitingCallback {
		t.Errorf("approval status = %s", approval.Status)
	}
}

func TestGates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if _, err := f.eng.Execute(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown release")
	}

	f.job.PauseType = release.PauseUserRequested
	f.save(t)
	out, err := f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeGated {
		t.Errorf("outcome = %s, want gated while paused", out)
	}

	f.job.PauseType = release.PauseNone
	f.job.CronStatus = release.CronPending
	f.save(t)
	out, err = f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeGated {
		t.Errorf("outcome = %s, want gated while cron pending", out)
	}

	f.job.CronStatus = release.CronRunning
	f.rel.Status = release.StatusArchived
	f.save(t)
	out, err = f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeGated {
		t.Errorf("outcome = %s, want gated when archived", out)
	}
}

func TestBootstrapArmsStageOne(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.job.Stage1Status = release.StagePending
	f.save(t)

	out, err := f.eng.Execute(context.Background(), f.rel.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != OutcomeAdvanced {
		t.Fatalf("outcome = %s", out)
	}
	_, job := f.reload(t)
	if job.Stage1Status != release.StageInProgress {
		t.Errorf("stage 1 = %s", job.Stage1Status)
	}
}

func TestSkippedTasksDoNotBlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.job.Config.KickOffReminder = false
	f.job.Config.ProjectMgmtTicket = false
	f.job.AutoTransitionStage2 = false
	f.save(t)

	out := f.drive(t, 20)
	if out != OutcomeGated {
		t.Fatalf("outcome = %s", out)
	}

	_, job := f.reload(t)
	if job.Stage1Status != release.StageCompleted {
		t.Fatalf("stage 1 = %s", job.Stage1Status)
	}
	reminder, _ := f.store.GetTaskByType(f.rel.ID, release.TaskPreKickOffReminder, "")
	if reminder.Status != release.TaskSkipped {
		t.Errorf("reminder = %s", reminder.Status)
	}
	for _, msg := range f.fakes.Notify.Messages {
		if strings.Contains(msg.Text, "kicks off") {
			t.Errorf("reminder sent despite toggle: %q", msg.Text)
		}
	}
	if got := f.fakes.PM.TicketCount(); got != 0 {
		t.Errorf("tickets = %d, want none", got)
	}
}
