package release

// Stage identifies which of the three pipeline stages a task belongs to.
type Stage string

const (
	StageKickoff        Stage = "KICKOFF"
	StageRegression     Stage = "REGRESSION"
	StagePostRegression Stage = "POST_REGRESSION"
)

// ValidStages returns all valid stage values.
func ValidStages() []Stage {
	return []Stage{StageKickoff, StageRegression, StagePostRegression}
}

// StageNumber returns the 1-based position of a stage in the pipeline,
// or 0 for an unknown stage.
func StageNumber(s Stage) int {
	switch s {
	case StageKickoff:
		return 1
	case StageRegression:
		return 2
	case StagePostRegression:
		return 3
	default:
		return 0
	}
}

// StageByNumber returns the stage at the given 1-based position.
func StageByNumber(n int) (Stage, bool) {
	switch n {
	case 1:
		return StageKickoff, true
	case 2:
		return StageRegression, true
	case 3:
		return StagePostRegression, true
	default:
		return "", false
	}
}

// IsValidStage returns true if s is a valid stage value.
func IsValidStage(s Stage) bool {
	switch s {
	case StageKickoff, StageRegression, StagePostRegression:
		return true
	default:
		return false
	}
}

// TaskType identifies an integration operation in the task catalogue.
type TaskType string

const (
	TaskPreKickOffReminder      TaskType = "PRE_KICK_OFF_REMINDER"
	TaskForkBranch              TaskType = "FORK_BRANCH"
	TaskCreateProjectMgmtTicket TaskType = "CREATE_PROJECT_MANAGEMENT_TICKET"
	TaskCreateTestSuite         TaskType = "CREATE_TEST_SUITE"
	TaskTriggerPreRegBuilds     TaskType = "TRIGGER_PRE_REGRESSION_BUILDS"
	TaskTriggerRegressionBuilds TaskType = "TRIGGER_REGRESSION_BUILDS"
	TaskCreateTestSuiteRun      TaskType = "CREATE_TEST_SUITE_RUN"
	TaskRegressionApproval      TaskType = "REGRESSION_STAGE_APPROVAL"
	TaskCreateReleaseTag        TaskType = "CREATE_RELEASE_TAG"
	TaskTriggerTestFlightBuild  TaskType = "TRIGGER_TEST_FLIGHT_BUILD"
	TaskCreateAABBuild          TaskType = "CREATE_AAB_BUILD"
	TaskTestFlightVerified      TaskType = "TESTFLIGHT_BUILD_VERIFIED"
	TaskAdHocNotification       TaskType = "AD_HOC_NOTIFICATION"
)

// ValidTaskTypes returns all valid task type values.
func ValidTaskTypes() []TaskType {
	return []TaskType{
		TaskPreKickOffReminder, TaskForkBranch, TaskCreateProjectMgmtTicket,
		TaskCreateTestSuite, TaskTriggerPreRegBuilds, TaskTriggerRegressionBuilds,
		TaskCreateTestSuiteRun, TaskRegressionApproval, TaskCreateReleaseTag,
		TaskTriggerTestFlightBuild, TaskCreateAABBuild, TaskTestFlightVerified,
		TaskAdHocNotification,
	}
}

// IsValidTaskType returns true if t is a valid task type value.
func IsValidTaskType(t TaskType) bool {
	switch t {
	case TaskPreKickOffReminder, TaskForkBranch, TaskCreateProjectMgmtTicket,
		TaskCreateTestSuite, TaskTriggerPreRegBuilds, TaskTriggerRegressionBuilds,
		TaskCreateTestSuiteRun, TaskRegressionApproval, TaskCreateReleaseTag,
		TaskTriggerTestFlightBuild, TaskCreateAABBuild, TaskTestFlightVerified,
		TaskAdHocNotification:
		return true
	default:
		return false
	}
}

// Stage task orders. Within a (release, stage, cycle) group tasks execute
// in exactly this sequence; a task becomes eligible only when every
// predecessor is COMPLETED or SKIPPED.
var (
	kickoffOrder = []TaskType{
		TaskPreKickOffReminder,
		TaskForkBranch,
		TaskCreateProjectMgmtTicket,
		TaskCreateTestSuite,
		TaskTriggerPreRegBuilds,
	}
	regressionOrder = []TaskType{
		TaskTriggerRegressionBuilds,
		TaskCreateTestSuiteRun,
		TaskRegressionApproval,
	}
	postRegressionOrder = []TaskType{
		TaskCreateReleaseTag,
		TaskTriggerTestFlightBuild,
		TaskCreateAABBuild,
		TaskTestFlightVerified,
		TaskAdHocNotification,
	}
)

// StageOrder returns the ordered task types for a stage. The returned
// slice is a copy; callers may mutate it.
func StageOrder(s Stage) []TaskType {
	var src []TaskType
	switch s {
	case StageKickoff:
		src = kickoffOrder
	case StageRegression:
		src = regressionOrder
	case StagePostRegression:
		src = postRegressionOrder
	default:
		return nil
	}
	out := make([]TaskType, len(src))
	copy(out, src)
	return out
}

// TaskRank returns the position of a task type within its stage order,
// or -1 for types outside the stage. Lower ranks execute first.
func TaskRank(s Stage, t TaskType) int {
	var src []TaskType
	switch s {
	case StageKickoff:
		src = kickoffOrder
	case StageRegression:
		src = regressionOrder
	case StagePostRegression:
		src = postRegressionOrder
	}
	for i, tt := range src {
		if tt == t {
			return i
		}
	}
	return -1
}

// StageForTask returns the stage a task type belongs to.
func StageForTask(t TaskType) (Stage, bool) {
	for _, s := range ValidStages() {
		if TaskRank(s, t) >= 0 {
			return s, true
		}
	}
	return "", false
}

// IsBuildTask returns true for task types that create Build rows and
// complete through the callback aggregator.
func IsBuildTask(t TaskType) bool {
	switch t {
	case TaskTriggerPreRegBuilds, TaskTriggerRegressionBuilds,
		TaskTriggerTestFlightBuild, TaskCreateAABBuild:
		return true
	default:
		return false
	}
}

// UploadStageFor maps a pipeline stage to the upload stage manual
// artifacts are filed under.
func UploadStageFor(s Stage) UploadStage {
	switch s {
	case StageKickoff:
		return UploadStageKickOff
	case StageRegression:
		return UploadStageRegression
	default:
		return UploadStagePreRelease
	}
}

// ArtifactPattern returns the glob a manually uploaded artifact path
// must match for the platform. Doublestar syntax: `**` spans zero or
// more directories.
func ArtifactPattern(p Platform) string {
	switch p {
	case PlatformAndroid:
		return "**/*.{apk,aab}"
	case PlatformIOS:
		return "**/*.ipa"
	default:
		return "**/*"
	}
}
