// Package errors provides structured error types for relo.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for relo.
const (
	// Lookup errors
	CodeReleaseNotFound Code = "RELEASE_NOT_FOUND"
	CodeCronJobNotFound Code = "CRON_JOB_NOT_FOUND"
	CodeTaskNotFound    Code = "TASK_NOT_FOUND"

	// Lifecycle precondition errors
	CodeCronAlreadyRunning Code = "CRON_ALREADY_RUNNING"
	CodeReleaseTerminal    Code = "RELEASE_TERMINAL"
	CodeStageNotReady      Code = "STAGE_NOT_READY"
	CodeResumeRefused      Code = "RESUME_REFUSED"
	CodeTaskNotRetryable   Code = "TASK_NOT_RETRYABLE"
	CodeCherryPickPending  Code = "CHERRY_PICK_PENDING"
	CodeCyclesNotCompleted Code = "CYCLES_NOT_COMPLETED"

	// Validation errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeArtifactInvalid Code = "ARTIFACT_INVALID"

	// Provider errors
	CodeUnknownProvider  Code = "UNKNOWN_PROVIDER"
	CodeProviderTerminal Code = "PROVIDER_TERMINAL"
	CodeProviderTimeout  Code = "PROVIDER_TIMEOUT"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeReleaseNotFound:    CategoryNotFound,
	CodeCronJobNotFound:    CategoryNotFound,
	CodeTaskNotFound:       CategoryNotFound,
	CodeCronAlreadyRunning: CategoryConflict,
	CodeReleaseTerminal:    CategoryBadRequest,
	CodeStageNotReady:      CategoryBadRequest,
	CodeResumeRefused:      CategoryBadRequest,
	CodeTaskNotRetryable:   CategoryBadRequest,
	CodeCherryPickPending:  CategoryBadRequest,
	CodeCyclesNotCompleted: CategoryBadRequest,
	CodeInvalidArgument:    CategoryBadRequest,
	CodeArtifactInvalid:    CategoryBadRequest,
	CodeUnknownProvider:    CategoryBadRequest,
	CodeProviderTerminal:   CategoryInternal,
	CodeProviderTimeout:    CategoryTimeout,
	CodeConfigInvalid:      CategoryBadRequest,
	CodeConfigMissing:      CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// ReloError is the structured error type for relo.
type ReloError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *ReloError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ReloError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *ReloError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *ReloError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *ReloError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *ReloError) MarshalJSON() ([]byte, error) {
	type alias ReloError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a ReloError with the same code.
func (e *ReloError) Is(target error) bool {
	t, ok := target.(*ReloError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *ReloError) WithCause(err error) *ReloError {
	return &ReloError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrReleaseNotFound returns an error when a release doesn't exist.
func ErrReleaseNotFound(id string) *ReloError {
	return &ReloError{
		Code: CodeReleaseNotFound,
		What: fmt.Sprintf("release %s not found", id),
		Why:  "No release with this ID exists for the tenant",
		Fix:  "Run 'relo release list' to see known releases",
	}
}

// ErrCronJobNotFound returns an error when a release has no cron job row.
func ErrCronJobNotFound(releaseID string) *ReloError {
	return &ReloError{
		Code: CodeCronJobNotFound,
		What: fmt.Sprintf("no cron job for release %s", releaseID),
		Why:  "Every non-terminal release must own exactly one cron job",
		Fix:  "Recreate the release or file a bug; this state should be unreachable",
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *ReloError {
	return &ReloError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No release task with this ID exists",
		Fix:  "Run 'relo release status' to list the release's tasks",
	}
}

// ErrCronAlreadyRunning returns an error when a cron job is started twice.
func ErrCronAlreadyRunning(releaseID string) *ReloError {
	return &ReloError{
		Code: CodeCronAlreadyRunning,
		What: fmt.Sprintf("cron job for release %s is already running", releaseID),
		Why:  "A release owns at most one active runner",
		Fix:  "Stop the running job first with 'relo release pause'",
	}
}

// ErrReleaseTerminal returns an error for operations on finished releases.
func ErrReleaseTerminal(id, status string) *ReloError {
	return &ReloError{
		Code: CodeReleaseTerminal,
		What: fmt.Sprintf("release %s is %s", id, status),
		Why:  "Completed and archived releases accept no further operations",
		Fix:  "Create a new release instead",
	}
}

// ErrStageNotReady returns an error when a stage trigger's preconditions fail.
func ErrStageNotReady(stage int, detail string) *ReloError {
	return &ReloError{
		Code: CodeStageNotReady,
		What: fmt.Sprintf("stage %d cannot start", stage),
		Why:  detail,
		Fix:  "Check 'relo release status' for current stage progress",
	}
}

// ErrResumeRefused returns an error when resumeRelease hits a pause it
// cannot clear.
func ErrResumeRefused(pauseType string) *ReloError {
	fix := "Use 'relo task retry' to clear a failed task"
	if pauseType == "AWAITING_STAGE_TRIGGER" {
		fix = "Use 'relo stage trigger2' or 'relo stage trigger3' to advance"
	}
	return &ReloError{
		Code: CodeResumeRefused,
		What: fmt.Sprintf("release is paused with %s", pauseType),
		Why:  "Only USER_REQUESTED pauses are cleared by resume",
		Fix:  fix,
	}
}

// ErrTaskNotRetryable returns an error when retryTask targets a task
// that has not failed.
func ErrTaskNotRetryable(id, status string) *ReloError {
	return &ReloError{
		Code: CodeTaskNotRetryable,
		What: fmt.Sprintf("task %s is %s, not FAILED", id, status),
		Why:  "Only failed tasks can be retried",
		Fix:  "Wait for the task to settle, or pause the release instead",
	}
}

// ErrCherryPickPending returns the stage-3 approval error for
// outstanding cherry-picks.
func ErrCherryPickPending() *ReloError {
	return &ReloError{
		Code: CodeCherryPickPending,
		What: "Cherry pick status check failed",
		Why:  "Cherry-picks are still pending against the release branch",
		Fix:  "Land or abandon the pending cherry-picks, or pass forceApprove",
	}
}

// ErrCyclesNotCompleted returns the stage-3 approval error for
// unfinished regression work.
func ErrCyclesNotCompleted() *ReloError {
	return &ReloError{
		Code: CodeCyclesNotCompleted,
		What: "Cycles not completed",
		Why:  "Regression cycles are still active or scheduled",
		Fix:  "Let the remaining cycles finish, or pass forceApprove",
	}
}

// ErrInvalidArgument returns a validation error.
func ErrInvalidArgument(field, reason string) *ReloError {
	return &ReloError{
		Code: CodeInvalidArgument,
		What: fmt.Sprintf("invalid %s", field),
		Why:  reason,
	}
}

// ErrArtifactInvalid returns an error for an upload path that does not
// match the platform's artifact pattern.
func ErrArtifactInvalid(path, platform, pattern string) *ReloError {
	return &ReloError{
		Code: CodeArtifactInvalid,
		What: fmt.Sprintf("artifact %s is not valid for %s", path, platform),
		Why:  fmt.Sprintf("Expected a path matching %s", pattern),
		Fix:  "Upload the platform's native artifact (.aab for Android, .ipa for iOS)",
	}
}

// ErrUnknownProvider returns an error for an unregistered provider type.
func ErrUnknownProvider(capability, name string) *ReloError {
	return &ReloError{
		Code: CodeUnknownProvider,
		What: fmt.Sprintf("unknown %s provider: %s", capability, name),
		Why:  "No implementation is registered under this provider type",
		Fix:  "Check the provider type on the release config",
	}
}

// ErrProviderTerminal returns an error for a provider call that failed
// with clear non-retryable semantics.
func ErrProviderTerminal(provider, op string, cause error) *ReloError {
	return &ReloError{
		Code:  CodeProviderTerminal,
		What:  fmt.Sprintf("%s %s failed", provider, op),
		Why:   "The provider rejected the request; retrying will not help",
		Cause: cause,
	}
}

// ErrProviderTimeout returns an error for a provider call that exceeded
// its configured deadline.
func ErrProviderTimeout(provider, op string, cause error) *ReloError {
	return &ReloError{
		Code:  CodeProviderTimeout,
		What:  fmt.Sprintf("%s %s timed out", provider, op),
		Why:   "The provider did not answer within the configured timeout",
		Cause: cause,
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *ReloError {
	return &ReloError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check relo.yaml and fix the invalid field",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *ReloError {
	return &ReloError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to relo.yaml", field),
	}
}

// AsReloError attempts to convert an error to a ReloError.
// Returns nil if the error is not a ReloError.
func AsReloError(err error) *ReloError {
	var reloErr *ReloError
	if As(err, &reloErr) {
		return reloErr
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if reloErr, ok := err.(*ReloError); ok {
		if t, ok := target.(**ReloError); ok {
			*t = reloErr
			return true
		}
	}
	// Check unwrapped error
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a ReloError with unknown code.
func Wrap(err error, what string) *ReloError {
	return &ReloError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
