package release

import "time"

// CronConfig holds the feature toggles deciding which tasks a release's
// cron creates. Zero value means everything off; use DefaultCronConfig
// for the usual train.
type CronConfig struct {
	KickOffReminder     bool `json:"kickOffReminder"`
	ForkBranch          bool `json:"forkBranch"`
	ProjectMgmtTicket   bool `json:"projectMgmtTicket"`
	TestSuite           bool `json:"testSuite"`
	PreRegressionBuilds bool `json:"preRegressionBuilds"`
	AutomationBuilds    bool `json:"automationBuilds"`
	AutomationRuns      bool `json:"automationRuns"`
	RegressionApproval  bool `json:"regressionApproval"`
	TestFlightBuilds    bool `json:"testFlightBuilds"`
	AdHocNotification   bool `json:"adHocNotification"`

	// ReminderAt is when the pre-kickoff reminder fires. Nil means
	// the reminder is due together with the kickoff itself.
	ReminderAt *time.Time `json:"reminderAt,omitempty"`
}

// DefaultCronConfig returns the toggles for a standard release train.
// Regression stage approval is opt-in.
func DefaultCronConfig() CronConfig {
	return CronConfig{
		KickOffReminder:     true,
		ForkBranch:          true,
		ProjectMgmtTicket:   true,
		TestSuite:           true,
		PreRegressionBuilds: true,
		AutomationBuilds:    true,
		AutomationRuns:      true,
		TestFlightBuilds:    true,
		AdHocNotification:   true,
	}
}

// RegressionSlot is a scheduled regression cycle start.
type RegressionSlot struct {
	SlotTime time.Time   `json:"slotTime"`
	Config   *SlotConfig `json:"config,omitempty"`
}

// SlotConfig overrides cycle task toggles for a single slot.
// A nil SlotConfig on a slot inherits the cron config.
type SlotConfig struct {
	AutomationBuilds bool `json:"automationBuilds"`
	AutomationRuns   bool `json:"automationRuns"`
}
