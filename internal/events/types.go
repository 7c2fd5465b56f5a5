// Package events provides event types and publishing infrastructure for relo.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventTask indicates a release task changed status.
	EventTask EventType = "task"
	// EventStage indicates a stage status change on the cron job.
	EventStage EventType = "stage"
	// EventRelease indicates a release status or pause change.
	EventRelease EventType = "release"
	// EventCycle indicates a regression cycle was created or finished.
	EventCycle EventType = "cycle"
	// EventBuild indicates a build row changed workflow or upload status.
	EventBuild EventType = "build"
	// EventUpload indicates a manual artifact upload arrived.
	EventUpload EventType = "upload"
	// EventError indicates a non-fatal error inside a tick or poll pass.
	EventError EventType = "error"
)

// Event represents a published event.
type Event struct {
	Type      EventType `json:"type"`
	ReleaseID string    `json:"release_id"`
	Data      any       `json:"data"`
	Time      time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, releaseID string, data any) Event {
	return Event{
		Type:      eventType,
		ReleaseID: releaseID,
		Data:      data,
		Time:      time.Now(),
	}
}

// TaskUpdate reports a task status transition.
type TaskUpdate struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	Stage    string `json:"stage"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// StageUpdate reports a stage status transition on the cron job.
type StageUpdate struct {
	Stage  int    `json:"stage"` // 1, 2, or 3
	Status string `json:"status"`
}

// ReleaseUpdate reports a release status or pause-type change.
type ReleaseUpdate struct {
	Status    string `json:"status"`
	PauseType string `json:"pause_type,omitempty"`
}

// CycleUpdate reports regression cycle creation or completion.
type CycleUpdate struct {
	CycleID  string `json:"cycle_id"`
	CycleTag int    `json:"cycle_tag"`
	Status   string `json:"status"`
}

// BuildUpdate reports a build row transition observed by polling or intake.
type BuildUpdate struct {
	BuildID        string `json:"build_id"`
	TaskID         string `json:"task_id"`
	Platform       string `json:"platform"`
	WorkflowStatus string `json:"workflow_status"`
	UploadStatus   string `json:"upload_status"`
}

// UploadReceived reports a manual artifact arrival.
type UploadReceived struct {
	Platform     string `json:"platform"`
	Stage        string `json:"stage"`
	ArtifactPath string `json:"artifact_path"`
}

// ErrorData reports a swallowed error from a tick or poll pass.
type ErrorData struct {
	Source  string `json:"source"` // tick, pending_poll, running_poll, callback
	Message string `json:"message"`
}
