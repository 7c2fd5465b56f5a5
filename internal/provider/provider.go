// Package provider defines the capability interfaces the release engine
// consumes and the registry that resolves a release config's provider
// names to implementations. Implementations live in subpackages (github,
// gitlab, jenkins, jira, checkmate, slack, store) and hold only their own
// credentials; everything release-specific arrives per call.
package provider

import (
	"context"

	"github.com/relohq/relo/internal/release"
)

// SCMConfig scopes an SCM call to a tenant and repository.
type SCMConfig struct {
	Tenant string
	// Repo is the "owner/repo" (GitHub) or full project path (GitLab).
	Repo string
}

// TagOptions describes a release tag to create.
type TagOptions struct {
	// Branch the tag points at.
	Branch string
	Name   string
	// Message becomes the release/tag annotation body.
	Message string
}

// Tag is a created release tag.
type Tag struct {
	Name string
	URL  string
}

// SCM covers source control operations: branching at kickoff and
// tagging at pre-release.
type SCM interface {
	// ForkBranch creates newBranch from the head of baseBranch.
	ForkBranch(ctx context.Context, cfg SCMConfig, newBranch, baseBranch string) error

	// CreateReleaseTag tags the branch head. Idempotence is the
	// caller's job; a second call with the same name may fail.
	CreateReleaseTag(ctx context.Context, cfg SCMConfig, opts TagOptions) (*Tag, error)

	// VerifyCredentials probes the provider with the configured token.
	VerifyCredentials(ctx context.Context) error

	// Name is the provider key release configs reference ("github").
	Name() string
}

// JobRequest asks a CI system to start a build job.
type JobRequest struct {
	Tenant string
	// Repo is the "owner/repo" the job runs in. Jenkins ignores it;
	// the Job path already locates the job.
	Repo string
	// Job is the workflow/job identifier understood by the CI system:
	// a Jenkins job path or a GitHub Actions workflow file name.
	Job string
	// Ref is the branch the job builds.
	Ref    string
	Params map[string]string
}

// QueueRef is the handle a trigger returns before the CI system has
// assigned a run ID.
type QueueRef struct {
	// QueueLocation resolves to a run via GetQueueStatus. For Jenkins
	// this is the queue item URL; for GitHub Actions a synthetic
	// workflow+ref key.
	QueueLocation string
}

// RunStatus reports a CI run observed by a poller.
type RunStatus struct {
	Status release.WorkflowStatus
	// CIRunID is set once the CI system assigned a run/build ID.
	CIRunID string
	URL     string
}

// CICD covers build triggering and the two-phase polling lifecycle.
type CICD interface {
	// TriggerJob starts a build and returns the queue handle.
	TriggerJob(ctx context.Context, req JobRequest) (*QueueRef, error)

	// GetQueueStatus resolves a queued trigger: still pending, or
	// assigned a run and possibly already finished.
	GetQueueStatus(ctx context.Context, queueLocation string) (*RunStatus, error)

	// GetBuildStatus reports a started run's current state.
	GetBuildStatus(ctx context.Context, ciRunID string) (*RunStatus, error)

	// Type is the CI run type builds triggered here are recorded under.
	Type() release.CIRunType
}

// TicketRequest describes a project management ticket to create.
type TicketRequest struct {
	Tenant string
	// Project is the provider-side project key (Jira project).
	Project     string
	Summary     string
	Description string
	Labels      []string
}

// Ticket is a created project management ticket.
type Ticket struct {
	Key string
	URL string
}

// ProjectMgmt covers release ticket creation.
type ProjectMgmt interface {
	CreateTicket(ctx context.Context, req TicketRequest) (*Ticket, error)

	// Name is the provider key release configs reference ("jira").
	Name() string
}

// SuiteRequest describes a test suite to create for a release.
type SuiteRequest struct {
	Tenant    string
	ProjectID string
	Name      string
	Version   string
}

// Suite is a created test suite.
type Suite struct {
	ID  string
	URL string
}

// RunRequest describes a test suite run for a regression cycle.
type RunRequest struct {
	Tenant  string
	SuiteID string
	Name    string
	Filters map[string]string
}

// TestRun is a started test suite run.
type TestRun struct {
	ID  string
	URL string
}

// TestRunStatus reports a test run's progress.
type TestRunStatus struct {
	Done bool
	// PassRate is the fraction of passed tests, 0..1.
	PassRate float64
}

// TestMgmt covers test suite and run management.
type TestMgmt interface {
	CreateSuite(ctx context.Context, req SuiteRequest) (*Suite, error)
	CreateRun(ctx context.Context, req RunRequest) (*TestRun, error)
	GetRunStatus(ctx context.Context, runID string) (*TestRunStatus, error)

	// Name is the provider key release configs reference ("checkmate").
	Name() string
}

// Notifier covers posting release messages to a channel.
type Notifier interface {
	PostMessage(ctx context.Context, channel, text string) error

	// Name is the provider key release configs reference ("slack").
	Name() string
}

// StoreUploadRequest describes an artifact submission to an app store.
type StoreUploadRequest struct {
	Tenant string
	// AppID is the store-side application identifier: package name for
	// Play Store, Apple app ID for App Store.
	AppID        string
	Platform     release.Platform
	Version      string
	ArtifactPath string
}

// StoreUpload is a completed store submission.
type StoreUpload struct {
	ID  string
	URL string
}

// Store covers platform store distribution.
type Store interface {
	// VerifyCredentials probes the store API with the configured key.
	VerifyCredentials(ctx context.Context) error

	// UploadBuild submits an artifact to the store. Stores where the
	// binary arrives out of band (TestFlight, uploaded by the CI job)
	// resolve and confirm the store-side build instead.
	UploadBuild(ctx context.Context, req StoreUploadRequest) (*StoreUpload, error)

	// Target is the distribution target this store serves.
	Target() release.Target
}
