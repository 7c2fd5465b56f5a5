// Package release defines the shared vocabulary of the release pipeline:
// release, cron, stage, task, cycle, and build enumerations plus the
// ordered task catalogue for each stage. Values are wire-stable strings
// persisted in the database and must not be renamed.
package release

// Type classifies a release.
type Type string

const (
	TypePlanned Type = "PLANNED"
	TypeHotfix  Type = "HOTFIX"
	TypeMajor   Type = "MAJOR"
	TypeMinor   Type = "MINOR"
)

// ValidTypes returns all valid release type values.
func ValidTypes() []Type {
	return []Type{TypePlanned, TypeHotfix, TypeMajor, TypeMinor}
}

// IsValidType returns true if t is a valid release type value.
func IsValidType(t Type) bool {
	switch t {
	case TypePlanned, TypeHotfix, TypeMajor, TypeMinor:
		return true
	default:
		return false
	}
}

// Status represents the lifecycle state of a release.
type Status string

const (
	// StatusInProgress indicates the release is being actively driven.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusPaused indicates the release is halted (user request or task failure).
	StatusPaused Status = "PAUSED"
	// StatusCompleted indicates all three stages finished. Terminal.
	StatusCompleted Status = "COMPLETED"
	// StatusArchived indicates the release was shelved by an operator. Terminal.
	StatusArchived Status = "ARCHIVED"
)

// ValidStatuses returns all valid release status values.
func ValidStatuses() []Status {
	return []Status{StatusInProgress, StatusPaused, StatusCompleted, StatusArchived}
}

// IsValidStatus returns true if s is a valid release status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusInProgress, StatusPaused, StatusCompleted, StatusArchived:
		return true
	default:
		return false
	}
}

// IsTerminalStatus returns true for statuses the engine never leaves.
func IsTerminalStatus(s Status) bool {
	return s == StatusCompleted || s == StatusArchived
}

// CronStatus represents the run state of a release's cron job.
type CronStatus string

const (
	CronPending   CronStatus = "PENDING"
	CronRunning   CronStatus = "RUNNING"
	CronPaused    CronStatus = "PAUSED"
	CronCompleted CronStatus = "COMPLETED"
)

// ValidCronStatuses returns all valid cron status values.
func ValidCronStatuses() []CronStatus {
	return []CronStatus{CronPending, CronRunning, CronPaused, CronCompleted}
}

// IsValidCronStatus returns true if s is a valid cron status value.
func IsValidCronStatus(s CronStatus) bool {
	switch s {
	case CronPending, CronRunning, CronPaused, CronCompleted:
		return true
	default:
		return false
	}
}

// StageStatus represents the progress of one stage on the cron job.
// Progression is monotonic: PENDING -> IN_PROGRESS -> COMPLETED.
type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageCompleted  StageStatus = "COMPLETED"
)

// ValidStageStatuses returns all valid stage status values.
func ValidStageStatuses() []StageStatus {
	return []StageStatus{StagePending, StageInProgress, StageCompleted}
}

// IsValidStageStatus returns true if s is a valid stage status value.
func IsValidStageStatus(s StageStatus) bool {
	switch s {
	case StagePending, StageInProgress, StageCompleted:
		return true
	default:
		return false
	}
}

// stageRank orders stage statuses for the monotonicity check.
func stageRank(s StageStatus) int {
	switch s {
	case StagePending:
		return 0
	case StageInProgress:
		return 1
	case StageCompleted:
		return 2
	default:
		return -1
	}
}

// CanAdvanceStage reports whether moving a stage from one status to
// another respects monotonic progression.
func CanAdvanceStage(from, to StageStatus) bool {
	return stageRank(to) > stageRank(from)
}

// PauseType encodes why a release is not advancing.
type PauseType string

const (
	// PauseNone means the state machine is free to transition.
	PauseNone PauseType = "NONE"
	// PauseUserRequested is set by pauseRelease and cleared by resumeRelease.
	PauseUserRequested PauseType = "USER_REQUESTED"
	// PauseTaskFailure is set when a task fails; cleared only by retryTask.
	PauseTaskFailure PauseType = "TASK_FAILURE"
	// PauseAwaitingStageTrigger is set when an auto-transition is disabled;
	// cleared only by the matching stage trigger.
	PauseAwaitingStageTrigger PauseType = "AWAITING_STAGE_TRIGGER"
	// PauseAwaitingManualBuild is set while a build task waits on user uploads.
	PauseAwaitingManualBuild PauseType = "AWAITING_MANUAL_BUILD"
)

// ValidPauseTypes returns all valid pause type values.
func ValidPauseTypes() []PauseType {
	return []PauseType{PauseNone, PauseUserRequested, PauseTaskFailure, PauseAwaitingStageTrigger, PauseAwaitingManualBuild}
}

// IsValidPauseType returns true if p is a valid pause type value.
func IsValidPauseType(p PauseType) bool {
	switch p {
	case PauseNone, PauseUserRequested, PauseTaskFailure, PauseAwaitingStageTrigger, PauseAwaitingManualBuild:
		return true
	default:
		return false
	}
}

// TaskStatus represents the execution state of a release task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	// TaskAwaitingCallback means remote work was launched; the callback
	// aggregator owns the next transition.
	TaskAwaitingCallback TaskStatus = "AWAITING_CALLBACK"
	// TaskAwaitingManualBuild means the task waits on user-provided artifacts.
	TaskAwaitingManualBuild TaskStatus = "AWAITING_MANUAL_BUILD"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	// TaskSkipped is assigned at creation time when the feature toggle for
	// the task is off. Skipped tasks satisfy predecessor checks.
	TaskSkipped TaskStatus = "SKIPPED"
)

// ValidTaskStatuses returns all valid task status values.
func ValidTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskPending, TaskInProgress, TaskAwaitingCallback,
		TaskAwaitingManualBuild, TaskCompleted, TaskFailed, TaskSkipped,
	}
}

// IsValidTaskStatus returns true if s is a valid task status value.
func IsValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskAwaitingCallback,
		TaskAwaitingManualBuild, TaskCompleted, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// IsTerminalTaskStatus returns true for statuses a poller update must
// never reopen.
func IsTerminalTaskStatus(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// SatisfiesPredecessor returns true if a task in this status unblocks
// its successors.
func SatisfiesPredecessor(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskSkipped
}

// CycleStatus represents the state of a regression cycle.
type CycleStatus string

const (
	CycleNotStarted CycleStatus = "NOT_STARTED"
	CycleInProgress CycleStatus = "IN_PROGRESS"
	CycleDone       CycleStatus = "DONE"
)

// ValidCycleStatuses returns all valid cycle status values.
func ValidCycleStatuses() []CycleStatus {
	return []CycleStatus{CycleNotStarted, CycleInProgress, CycleDone}
}

// IsValidCycleStatus returns true if s is a valid cycle status value.
func IsValidCycleStatus(s CycleStatus) bool {
	switch s {
	case CycleNotStarted, CycleInProgress, CycleDone:
		return true
	default:
		return false
	}
}

// Platform identifies a build target platform.
type Platform string

const (
	PlatformAndroid Platform = "ANDROID"
	PlatformIOS     Platform = "IOS"
	PlatformWeb     Platform = "WEB"
)

// ValidPlatforms returns all valid platform values.
func ValidPlatforms() []Platform {
	return []Platform{PlatformAndroid, PlatformIOS, PlatformWeb}
}

// IsValidPlatform returns true if p is a valid platform value.
func IsValidPlatform(p Platform) bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return true
	default:
		return false
	}
}

// Target identifies the distribution target for a platform build.
type Target string

const (
	TargetAppStore  Target = "APP_STORE"
	TargetPlayStore Target = "PLAY_STORE"
	TargetWeb       Target = "WEB"
)

// ValidTargets returns all valid target values.
func ValidTargets() []Target {
	return []Target{TargetAppStore, TargetPlayStore, TargetWeb}
}

// IsValidTarget returns true if t is a valid target value.
func IsValidTarget(t Target) bool {
	switch t {
	case TargetAppStore, TargetPlayStore, TargetWeb:
		return true
	default:
		return false
	}
}

// BuildType distinguishes CI-triggered builds from user-uploaded ones.
type BuildType string

const (
	BuildCICD   BuildType = "CICD"
	BuildManual BuildType = "MANUAL"
)

// IsValidBuildType returns true if b is a valid build type value.
func IsValidBuildType(b BuildType) bool {
	return b == BuildCICD || b == BuildManual
}

// CIRunType identifies the CI system that owns a build.
type CIRunType string

const (
	CIJenkins       CIRunType = "JENKINS"
	CIGitHubActions CIRunType = "GITHUB_ACTIONS"
	CICircleCI      CIRunType = "CIRCLE_CI"
	CIGitLabCI      CIRunType = "GITLAB_CI"
)

// ValidCIRunTypes returns all valid CI run type values.
func ValidCIRunTypes() []CIRunType {
	return []CIRunType{CIJenkins, CIGitHubActions, CICircleCI, CIGitLabCI}
}

// IsValidCIRunType returns true if c is a valid CI run type value.
func IsValidCIRunType(c CIRunType) bool {
	switch c {
	case CIJenkins, CIGitHubActions, CICircleCI, CIGitLabCI:
		return true
	default:
		return false
	}
}

// WorkflowStatus represents the observed state of a build's CI workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
)

// ValidWorkflowStatuses returns all valid workflow status values.
func ValidWorkflowStatuses() []WorkflowStatus {
	return []WorkflowStatus{WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed}
}

// IsValidWorkflowStatus returns true if s is a valid workflow status value.
func IsValidWorkflowStatus(s WorkflowStatus) bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed:
		return true
	default:
		return false
	}
}

// IsTerminalWorkflowStatus returns true once polling can stop for a build.
func IsTerminalWorkflowStatus(s WorkflowStatus) bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// UploadStatus represents whether a build's artifact reached its store.
type UploadStatus string

const (
	UploadPending  UploadStatus = "PENDING"
	UploadUploaded UploadStatus = "UPLOADED"
	UploadFailed   UploadStatus = "FAILED"
)

// IsValidUploadStatus returns true if s is a valid upload status value.
func IsValidUploadStatus(s UploadStatus) bool {
	switch s {
	case UploadPending, UploadUploaded, UploadFailed:
		return true
	default:
		return false
	}
}

// UploadStage scopes a manual artifact upload to part of the pipeline.
type UploadStage string

const (
	UploadStageKickOff    UploadStage = "KICK_OFF"
	UploadStageRegression UploadStage = "REGRESSION"
	UploadStagePreRelease UploadStage = "PRE_RELEASE"
)

// ValidUploadStages returns all valid upload stage values.
func ValidUploadStages() []UploadStage {
	return []UploadStage{UploadStageKickOff, UploadStageRegression, UploadStagePreRelease}
}

// IsValidUploadStage returns true if s is a valid upload stage value.
func IsValidUploadStage(s UploadStage) bool {
	switch s {
	case UploadStageKickOff, UploadStageRegression, UploadStagePreRelease:
		return true
	default:
		return false
	}
}

// PlatformVersion pairs a platform with its version for this release.
type PlatformVersion struct {
	Platform Platform
	Version  string
}
