package executor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/provider/providertest"
	"github.com/relohq/relo/internal/release"
)

type fixture struct {
	store *db.Store
	fakes *providertest.Set
	exec  *Executor

	rel *db.Release
	cfg *db.ReleaseConfig
	job *db.CronJob
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := db.NewTestStore(t)
	fakes := providertest.NewSet()
	exec := New(store, fakes.Registry(), slog.New(slog.NewTextHandler(io.Discard, nil)))

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
		KickOffDate:       time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC),
		TargetReleaseDate: time.Date(2026, 1, 30, 9, 0, 0, 0, time.UTC),
		ReleaseConfigID:   cfg.ID,
		CreatedBy:         "maya",
		ReleasePilot:      "maya",
	}
	if err := store.SaveRelease(rel); err != nil {
		t.Fatalf("save release: %v", err)
	}

	mappings := []db.PlatformTargetMapping{
		{ReleaseID: rel.ID, Platform: release.PlatformAndroid, Target: release.TargetPlayStore, Version: "7.0.0"},
		{ReleaseID: rel.ID, Platform: release.PlatformIOS, Target: release.TargetAppStore, Version: "6.7.0"},
	}
	if err := store.ReplaceMappings(rel.ID, mappings); err != nil {
		t.Fatalf("save mappings: %v", err)
	}

	job := &db.CronJob{
		ReleaseID:    rel.ID,
		CronStatus:   release.CronRunning,
		Stage1Status: release.StageInProgress,
		Stage2Status: release.StagePending,
		Stage3Status: release.StagePending,
		Config:       release.DefaultCronConfig(),
	}
	if err := store.SaveCronJob(job); err != nil {
		t.Fatalf("save cron job: %v", err)
	}

	return &fixture{store: store, fakes: fakes, exec: exec, rel: rel, cfg: cfg, job: job}
}

// task creates and saves a task of the given type.
func (f *fixture) task(t *testing.T, typ release.TaskType, cycleID string) *db.ReleaseTask {
	t.Helper()

	stage, _ := release.StageForTask(typ)
	task := &db.ReleaseTask{
		ReleaseID:         f.rel.ID,
		RegressionCycleID: cycleID,
		Type:              typ,
		Stage:             stage,
		Status:            release.TaskInProgress,
	}
	if err := f.store.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	return task
}

// run builds a Context for the task and executes it.
func (f *fixture) run(t *testing.T, task *db.ReleaseTask, cycle *db.RegressionCycle) (*Result, error) {
	t.Helper()

	mappings, err := f.store.ListMappings(f.rel.ID)
	if err != nil {
		t.Fatalf("list mappings: %v", err)
	}
	return f.exec.Run(context.Background(), &Context{
		Release:  f.rel,
		CronJob:  f.job,
		Config:   f.cfg,
		Task:     task,
		Cycle:    cycle,
		Mappings: mappings,
	})
}

func TestForkBranch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskForkBranch, "")

	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExternalID != "release/7.0.0" {
		t.Errorf("ExternalID = %q", res.ExternalID)
	}
	if got := f.fakes.SCM.ForkCount(); got != 1 {
		t.Fatalf("fork count = %d", got)
	}
	fork := f.fakes.SCM.Forks[0]
	if fork.NewBranch != "release/7.0.0" || fork.BaseBranch != "develop" {
		t.Errorf("forked %q from %q", fork.NewBranch, fork.BaseBranch)
	}
	if fork.Config.Repo != "relohq/mobile" {
		t.Errorf("repo = %q", fork.Config.Repo)
	}

	// A task that already carries its handle must not fork again.
	task.ExternalID = "release/7.0.0"
	if _, err := f.run(t, task, nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := f.fakes.SCM.ForkCount(); got != 1 {
		t.Errorf("fork count after rerun = %d", got)
	}
}

func TestCreateProjectMgmtTicketPerProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskCreateProjectMgmtTicket, "")

	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.fakes.PM.TicketCount(); got != 2 {
		t.Fatalf("ticket count = %d, want one per project", got)
	}

	var byProject map[string]string
	if err := json.Unmarshal([]byte(res.ExternalData), &byProject); err != nil {
		t.Fatalf("unmarshal external data: %v", err)
	}
	if len(byProject) != 2 {
		t.Errorf("external data = %v", byProject)
	}
	for _, req := range f.fakes.PM.Tickets {
		if !strings.Contains(req.Summary, "7.0.0_android_6.7.0_ios") {
			t.Errorf("summary = %q, want version string", req.Summary)
		}
		if !strings.Contains(req.Description, "release/7.0.0") {
			t.Errorf("description = %q, want branch", req.Description)
		}
	}
}

func TestCreateProjectMgmtTicketSharedProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.PMProjects = map[release.Platform]string{
		release.PlatformAndroid: "MOB",
		release.PlatformIOS:     "MOB",
	}
	task := f.task(t, release.TaskCreateProjectMgmtTicket, "")

	if _, err := f.run(t, task, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.fakes.PM.TicketCount(); got != 1 {
		t.Errorf("ticket count = %d, want shared project deduped", got)
	}
}

func TestCreateTestSuite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskCreateTestSuite, "")

	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExternalID == "" {
		t.Error("ExternalID empty, want suite ID")
	}
	if len(f.fakes.Test.Suites) != 1 {
		t.Fatalf("suite count = %d", len(f.fakes.Test.Suites))
	}
	suite := f.fakes.Test.Suites[0]
	if suite.Name != "Release 7.0.0_android_6.7.0_ios regression" {
		t.Errorf("suite name = %q", suite.Name)
	}
	if suite.Version != "7.0.0_android_6.7.0_ios" {
		t.Errorf("suite version = %q", suite.Version)
	}
	if suite.ProjectID != "mobile" {
		t.Errorf("suite project = %q", suite.ProjectID)
	}
}

func TestTriggerPreRegBuildsCICD(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskTriggerPreRegBuilds, "")

	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Async {
		t.Error("Async = false, want builds to await callbacks")
	}
	if got := f.fakes.CICD.TriggerCount(); got != 2 {
		t.Fatalf("trigger count = %d", got)
	}

	builds, err := f.store.ListBuildsByTask(task.ID)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("build rows = %d", len(builds))
	}
	for _, b := range builds {
		if b.BuildType != release.BuildCICD {
			t.Errorf("build type = %s", b.BuildType)
		}
		if b.QueueLocation == "" {
			t.Error("queue location empty")
		}
		if b.WorkflowStatus != release.WorkflowPending {
			t.Errorf("workflow status = %s", b.WorkflowStatus)
		}
	}

	// Re-running must not double-trigger platforms that have builds.
	if _, err := f.run(t, task, nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := f.fakes.CICD.TriggerCount(); got != 2 {
		t.Errorf("trigger count after rerun = %d", got)
	}
}

func TestTriggerBuildsManualUpload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.rel.HasManualBuildUpload = true
	task := f.task(t, release.TaskTriggerPreRegBuilds, "")

	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.AwaitManual {
		t.Error("AwaitManual = false")
	}
	if got := f.fakes.CICD.TriggerCount(); got != 0 {
		t.Errorf("trigger count = %d, want no CI calls", got)
	}

	builds, err := f.store.ListBuildsByTask(task.ID)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("build rows = %d", len(builds))
	}
	for _, b := range builds {
		if b.BuildType != release.BuildManual {
			t.Errorf("build type = %s", b.BuildType)
		}
	}
}

func TestTriggerBuildsMissingWorkflow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	delete(f.cfg.BuildWorkflows, release.PlatformIOS)
	task := f.task(t, release.TaskTriggerPreRegBuilds, "")

	if _, err := f.run(t, task, nil); err == nil {
		t.Fatal("expected error for missing workflow")
	}
}

func TestCreateTestSuiteRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	suiteTask := f.task(t, release.TaskCreateTestSuite, "")
	if err := f.store.SetTaskExternal(suiteTask.ID, "suite-1", ""); err != nil {
		t.Fatalf("set suite external: %v", err)
	}

	cycle := &db.RegressionCycle{ReleaseID: f.rel.ID}
	if err := f.store.CreateCycle(cycle); err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	task := f.task(t, release.TaskCreateTestSuiteRun, cycle.ID)

	res, err := f.run(t, task, cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Async {
		t.Error("Async = false, want run polling")
	}
	if len(f.fakes.Test.Runs) != 1 {
		t.Fatalf("run count = %d", len(f.fakes.Test.Runs))
	}
	run := f.fakes.Test.Runs[0]
	if run.SuiteID != "suite-1" {
		t.Errorf("suite ID = %q", run.SuiteID)
	}
	if run.Name != "Cycle 1" {
		t.Errorf("run name = %q", run.Name)
	}
}

func TestCreateTestSuiteRunRequiresSuite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cycle := &db.RegressionCycle{ReleaseID: f.rel.ID}
	if err := f.store.CreateCycle(cycle); err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	task := f.task(t, release.TaskCreateTestSuiteRun, cycle.ID)

	if _, err := f.run(t, task, cycle); err == nil {
		t.Fatal("expected error when no suite exists")
	}
}

func TestRegressionApprovalParks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskRegressionApproval, "")

	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Async {
		t.Error("Async = false, approval must wait for a human")
	}
}

func TestCreateReleaseTag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskCreateReleaseTag, "")

	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExternalID != "v7.0.0_android_6.7.0_ios" {
		t.Errorf("ExternalID = %q", res.ExternalID)
	}
	if got := f.fakes.SCM.TagCount(); got != 1 {
		t.Fatalf("tag count = %d", got)
	}
	tag := f.fakes.SCM.Tags[0]
	if tag.Branch != "release/7.0.0" {
		t.Errorf("tag branch = %q", tag.Branch)
	}
}

func TestTriggerTestFlightBuildIOSOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskTriggerTestFlightBuild, "")

	if _, err := f.run(t, task, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.fakes.CICD.TriggerCount(); got != 1 {
		t.Fatalf("trigger count = %d, want iOS only", got)
	}
	req := f.fakes.CICD.Triggered[0]
	if req.Job != "mobile/ios-release" {
		t.Errorf("job = %q", req.Job)
	}
}

func TestTestFlightVerifiedSubmitsToStores(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// The pre-release build tasks have produced their artifacts.
	aabTask := f.task(t, release.TaskCreateAABBuild, "")
	aab := &db.Build{
		ReleaseID: f.rel.ID,
		TaskID:    aabTask.ID,
		Platform:  release.PlatformAndroid,
		BuildType: release.BuildCICD,
		CIRunType: release.CIJenkins,
	}
	if err := f.store.SaveBuild(aab); err != nil {
		t.Fatalf("save aab build: %v", err)
	}
	if err := f.store.SetBuildArtifact(aab.ID, "/artifacts/app-7.0.0.aab"); err != nil {
		t.Fatalf("set artifact: %v", err)
	}

	tfTask := f.task(t, release.TaskTriggerTestFlightBuild, "")
	tf := &db.Build{
		ReleaseID: f.rel.ID,
		TaskID:    tfTask.ID,
		Platform:  release.PlatformIOS,
		BuildType: release.BuildCICD,
		CIRunType: release.CIJenkins,
	}
	if err := f.store.SaveBuild(tf); err != nil {
		t.Fatalf("save testflight build: %v", err)
	}
	if err := f.store.UpdateBuildWorkflow(tf.ID, release.WorkflowCompleted, "run-9"); err != nil {
		t.Fatalf("complete workflow: %v", err)
	}
	if err := f.store.UpdateBuildUploadStatus(tf.ID, release.UploadUploaded); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}

	task := f.task(t, release.TaskTestFlightVerified, "")
	res, err := f.run(t, task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.fakes.PlayStore.UploadCount(); got != 1 {
		t.Errorf("play store uploads = %d", got)
	}
	if got := f.fakes.AppStore.UploadCount(); got != 1 {
		t.Errorf("app store uploads = %d", got)
	}
	play := f.fakes.PlayStore.Uploads[0]
	if play.ArtifactPath != "/artifacts/app-7.0.0.aab" {
		t.Errorf("play artifact = %q", play.ArtifactPath)
	}
	if play.AppID != "com.relohq.app" {
		t.Errorf("play app ID = %q", play.AppID)
	}

	var submissions map[string]string
	if err := json.Unmarshal([]byte(res.ExternalData), &submissions); err != nil {
		t.Fatalf("unmarshal submissions: %v", err)
	}
	if len(submissions) != 2 {
		t.Errorf("submissions = %v", submissions)
	}
}

func TestNotificationsMentionVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	reminder := f.task(t, release.TaskPreKickOffReminder, "")
	if _, err := f.run(t, reminder, nil); err != nil {
		t.Fatalf("reminder: %v", err)
	}
	adhoc := f.task(t, release.TaskAdHocNotification, "")
	if _, err := f.run(t, adhoc, nil); err != nil {
		t.Fatalf("ad hoc: %v", err)
	}

	if got := f.fakes.Notify.MessageCount(); got != 2 {
		t.Fatalf("message count = %d", got)
	}
	for _, msg := range f.fakes.Notify.Messages {
		if msg.Channel != "#releases" {
			t.Errorf("channel = %q", msg.Channel)
		}
		if !strings.Contains(msg.Text, "7.0.0_android_6.7.0_ios") {
			t.Errorf("message %q missing version string", msg.Text)
		}
	}
}

func TestRunUnknownTaskType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.task(t, release.TaskForkBranch, "")
	task.Type = "NOT_A_TASK"

	if _, err := f.run(t, task, nil); err == nil {
		t.Fatal("expected error for unknown task type")
	}
}
