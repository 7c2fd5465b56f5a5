package release

import "testing"

func TestStageOrderCoversCatalogue(t *testing.T) {
	seen := map[TaskType]Stage{}
	for _, s := range ValidStages() {
		for _, tt := range StageOrder(s) {
			if prev, dup := seen[tt]; dup {
				t.Errorf("task type %s appears in both %s and %s", tt, prev, s)
			}
			seen[tt] = s
		}
	}
	for _, tt := range ValidTaskTypes() {
		if _, ok := seen[tt]; !ok {
			t.Errorf("task type %s missing from every stage order", tt)
		}
	}
}

func TestTaskRank(t *testing.T) {
	if r := TaskRank(StageKickoff, TaskPreKickOffReminder); r != 0 {
		t.Errorf("reminder rank = %d, want 0", r)
	}
	if r := TaskRank(StageKickoff, TaskForkBranch); r != 1 {
		t.Errorf("fork rank = %d, want 1", r)
	}
	if r := TaskRank(StageKickoff, TaskCreateReleaseTag); r != -1 {
		t.Errorf("cross-stage rank = %d, want -1", r)
	}
	// Regression build triggers come before the suite run.
	if TaskRank(StageRegression, TaskTriggerRegressionBuilds) >= TaskRank(StageRegression, TaskCreateTestSuiteRun) {
		t.Error("regression builds must precede test suite run")
	}
	// Tagging opens stage 3.
	if TaskRank(StagePostRegression, TaskCreateReleaseTag) != 0 {
		t.Error("release tag must be the first post-regression task")
	}
}

func TestStageForTask(t *testing.T) {
	s, ok := StageForTask(TaskCreateAABBuild)
	if !ok || s != StagePostRegression {
		t.Errorf("StageForTask(CREATE_AAB_BUILD) = %s, %v", s, ok)
	}
	if _, ok := StageForTask(TaskType("NOT_A_TASK")); ok {
		t.Error("unknown task type should not resolve to a stage")
	}
}

func TestIsBuildTask(t *testing.T) {
	build := []TaskType{
		TaskTriggerPreRegBuilds, TaskTriggerRegressionBuilds,
		TaskTriggerTestFlightBuild, TaskCreateAABBuild,
	}
	for _, tt := range build {
		if !IsBuildTask(tt) {
			t.Errorf("IsBuildTask(%s) = false, want true", tt)
		}
	}
	for _, tt := range []TaskType{TaskForkBranch, TaskCreateReleaseTag, TaskAdHocNotification} {
		if IsBuildTask(tt) {
			t.Errorf("IsBuildTask(%s) = true, want false", tt)
		}
	}
}

func TestCanAdvanceStage(t *testing.T) {
	if !CanAdvanceStage(StagePending, StageInProgress) {
		t.Error("PENDING -> IN_PROGRESS should be allowed")
	}
	if !CanAdvanceStage(StageInProgress, StageCompleted) {
		t.Error("IN_PROGRESS -> COMPLETED should be allowed")
	}
	if CanAdvanceStage(StageCompleted, StageInProgress) {
		t.Error("COMPLETED -> IN_PROGRESS should be rejected")
	}
	if CanAdvanceStage(StageInProgress, StageInProgress) {
		t.Error("self transition should be rejected")
	}
}

func TestEnumValidity(t *testing.T) {
	for _, s := range ValidTaskStatuses() {
		if !IsValidTaskStatus(s) {
			t.Errorf("IsValidTaskStatus(%s) = false", s)
		}
	}
	if IsValidTaskStatus("RETRYING") {
		t.Error("unknown task status accepted")
	}
	for _, p := range ValidPauseTypes() {
		if !IsValidPauseType(p) {
			t.Errorf("IsValidPauseType(%s) = false", p)
		}
	}
	if IsValidCronStatus("STOPPED") {
		t.Error("unknown cron status accepted")
	}
	for _, tt := range ValidTaskTypes() {
		if !IsValidTaskType(tt) {
			t.Errorf("IsValidTaskType(%s) = false", tt)
		}
	}
}
