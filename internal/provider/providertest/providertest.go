// Package providertest provides in-memory provider fakes for tests.
// Fakes record every call and let tests script statuses and failures;
// all methods are safe for concurrent use because pollers and runners
// hit them from multiple goroutines.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// FakeSCM records branch and tag operations.
type FakeSCM struct {
	mu       sync.Mutex
	Provider string

	Forks []ForkCall
	Tags  []provider.TagOptions

	ForkErr   error
	TagErr    error
	VerifyErr error
}

// ForkCall is one recorded ForkBranch invocation.
type ForkCall struct {
	Config     provider.SCMConfig
	NewBranch  string
	BaseBranch string
}

func NewFakeSCM() *FakeSCM {
	return &FakeSCM{Provider: "github"}
}

func (f *FakeSCM) ForkBranch(_ context.Context, cfg provider.SCMConfig, newBranch, baseBranch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ForkErr != nil {
		return f.ForkErr
	}
	f.Forks = append(f.Forks, ForkCall{Config: cfg, NewBranch: newBranch, BaseBranch: baseBranch})
	return nil
}

func (f *FakeSCM) CreateReleaseTag(_ context.Context, cfg provider.SCMConfig, opts provider.TagOptions) (*provider.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TagErr != nil {
		return nil, f.TagErr
	}
	f.Tags = append(f.Tags, opts)
	return &provider.Tag{
		Name: opts.Name,
		URL:  fmt.Sprintf("https://scm.example.com/%s/releases/tag/%s", cfg.Repo, opts.Name),
	}, nil
}

func (f *FakeSCM) VerifyCredentials(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.VerifyErr
}

func (f *FakeSCM) Name() string { return f.Provider }

// ForkCount returns how many branches were forked.
func (f *FakeSCM) ForkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Forks)
}

// TagCount returns how many tags were created.
func (f *FakeSCM) TagCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Tags)
}

// FakeCICD records triggered jobs and serves scripted statuses.
type FakeCICD struct {
	mu      sync.Mutex
	RunType release.CIRunType

	Triggered []provider.JobRequest

	// CompleteImmediately makes GetQueueStatus report every queued
	// trigger as COMPLETED on first poll. Handy for full-flow tests.
	CompleteImmediately bool

	queueSeq      int
	queueStatuses map[string]*provider.RunStatus
	buildStatuses map[string]*provider.RunStatus

	TriggerErr error
	QueueErr   error
	BuildErr   error
}

func NewFakeCICD(runType release.CIRunType) *FakeCICD {
	return &FakeCICD{
		RunType:       runType,
		queueStatuses: make(map[string]*provider.RunStatus),
		buildStatuses: make(map[string]*provider.RunStatus),
	}
}

func (f *FakeCICD) TriggerJob(_ context.Context, req provider.JobRequest) (*provider.QueueRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TriggerErr != nil {
		return nil, f.TriggerErr
	}
	f.Triggered = append(f.Triggered, req)
	f.queueSeq++
	loc := fmt.Sprintf("queue/item/%d", f.queueSeq)
	f.queueStatuses[loc] = &provider.RunStatus{Status: release.WorkflowPending}
	return &provider.QueueRef{QueueLocation: loc}, nil
}

func (f *FakeCICD) GetQueueStatus(_ context.Context, queueLocation string) (*provider.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QueueErr != nil {
		return nil, f.QueueErr
	}
	if f.CompleteImmediately {
		return &provider.RunStatus{Status: release.WorkflowCompleted, CIRunID: "run-" + queueLocation}, nil
	}
	st, ok := f.queueStatuses[queueLocation]
	if !ok {
		return nil, fmt.Errorf("unknown queue location %q", queueLocation)
	}
	cp := *st
	return &cp, nil
}

func (f *FakeCICD) GetBuildStatus(_ context.Context, ciRunID string) (*provider.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BuildErr != nil {
		return nil, f.BuildErr
	}
	st, ok := f.buildStatuses[ciRunID]
	if !ok {
		return nil, fmt.Errorf("unknown run %q", ciRunID)
	}
	cp := *st
	return &cp, nil
}

func (f *FakeCICD) Type() release.CIRunType { return f.RunType }

// SetQueueStatus scripts the status returned for a queue location.
func (f *FakeCICD) SetQueueStatus(queueLocation string, st provider.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueStatuses[queueLocation] = &st
}

// SetBuildStatus scripts the status returned for a run ID.
func (f *FakeCICD) SetBuildStatus(ciRunID string, st provider.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildStatuses[ciRunID] = &st
}

// TriggerCount returns how many jobs were triggered.
func (f *FakeCICD) TriggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Triggered)
}

// FakeProjectMgmt records created tickets.
type FakeProjectMgmt struct {
	mu       sync.Mutex
	Provider string

	Tickets   []provider.TicketRequest
	CreateErr error
}

func NewFakeProjectMgmt() *FakeProjectMgmt {
	return &FakeProjectMgmt{Provider: "jira"}
}

func (f *FakeProjectMgmt) CreateTicket(_ context.Context, req provider.TicketRequest) (*provider.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Tickets = append(f.Tickets, req)
	key := fmt.Sprintf("%s-%d", req.Project, len(f.Tickets))
	return &provider.Ticket{Key: key, URL: "https://pm.example.com/browse/" + key}, nil
}

func (f *FakeProjectMgmt) Name() string { return f.Provider }

// TicketCount returns how many tickets were created.
func (f *FakeProjectMgmt) TicketCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Tickets)
}

// FakeTestMgmt records suite and run creation and serves scripted run
// statuses. Runs finish immediately unless a status is scripted.
type FakeTestMgmt struct {
	mu       sync.Mutex
	Provider string

	Suites []provider.SuiteRequest
	Runs   []provider.RunRequest

	runStatuses map[string]*provider.TestRunStatus

	SuiteErr error
	RunErr   error
}

func NewFakeTestMgmt() *FakeTestMgmt {
	return &FakeTestMgmt{
		Provider:    "checkmate",
		runStatuses: make(map[string]*provider.TestRunStatus),
	}
}

func (f *FakeTestMgmt) CreateSuite(_ context.Context, req provider.SuiteRequest) (*provider.Suite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SuiteErr != nil {
		return nil, f.SuiteErr
	}
	f.Suites = append(f.Suites, req)
	id := fmt.Sprintf("suite-%d", len(f.Suites))
	return &provider.Suite{ID: id, URL: "https://qa.example.com/suites/" + id}, nil
}

func (f *FakeTestMgmt) CreateRun(_ context.Context, req provider.RunRequest) (*provider.TestRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunErr != nil {
		return nil, f.RunErr
	}
	f.Runs = append(f.Runs, req)
	id := fmt.Sprintf("testrun-%d", len(f.Runs))
	return &provider.TestRun{ID: id, URL: "https://qa.example.com/runs/" + id}, nil
}

func (f *FakeTestMgmt) GetRunStatus(_ context.Context, runID string) (*provider.TestRunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.runStatuses[runID]; ok {
		cp := *st
		return &cp, nil
	}
	return &provider.TestRunStatus{Done: true, PassRate: 1}, nil
}

func (f *FakeTestMgmt) Name() string { return f.Provider }

// SetRunStatus scripts the status returned for a run ID.
func (f *FakeTestMgmt) SetRunStatus(runID string, st provider.TestRunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runStatuses[runID] = &st
}

// FakeNotifier records posted messages.
type FakeNotifier struct {
	mu       sync.Mutex
	Provider string

	Messages []Message
	PostErr  error
}

// Message is one recorded PostMessage invocation.
type Message struct {
	Channel string
	Text    string
}

func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{Provider: "slack"}
}

func (f *FakeNotifier) PostMessage(_ context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PostErr != nil {
		return f.PostErr
	}
	f.Messages = append(f.Messages, Message{Channel: channel, Text: text})
	return nil
}

func (f *FakeNotifier) Name() string { return f.Provider }

// MessageCount returns how many messages were posted.
func (f *FakeNotifier) MessageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}

// FakeStore records store submissions.
type FakeStore struct {
	mu          sync.Mutex
	StoreTarget release.Target

	Uploads   []provider.StoreUploadRequest
	UploadErr error
	VerifyErr error
}

func NewFakeStore(target release.Target) *FakeStore {
	return &FakeStore{StoreTarget: target}
}

func (f *FakeStore) VerifyCredentials(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.VerifyErr
}

func (f *FakeStore) UploadBuild(_ context.Context, req provider.StoreUploadRequest) (*provider.StoreUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return nil, f.UploadErr
	}
	f.Uploads = append(f.Uploads, req)
	return &provider.StoreUpload{ID: fmt.Sprintf("submission-%d", len(f.Uploads))}, nil
}

func (f *FakeStore) Target() release.Target { return f.StoreTarget }

// UploadCount returns how many artifacts were submitted.
func (f *FakeStore) UploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Uploads)
}

// Set bundles one fake per capability, registered in a single registry.
type Set struct {
	SCM       *FakeSCM
	CICD      *FakeCICD
	PM        *FakeProjectMgmt
	Test      *FakeTestMgmt
	Notify    *FakeNotifier
	PlayStore *FakeStore
	AppStore  *FakeStore
}

// NewSet returns fakes for every capability. The CICD fake registers
// under JENKINS.
func NewSet() *Set {
	return &Set{
		SCM:       NewFakeSCM(),
		CICD:      NewFakeCICD(release.CIJenkins),
		PM:        NewFakeProjectMgmt(),
		Test:      NewFakeTestMgmt(),
		Notify:    NewFakeNotifier(),
		PlayStore: NewFakeStore(release.TargetPlayStore),
		AppStore:  NewFakeStore(release.TargetAppStore),
	}
}

// Registry returns a provider registry with every fake registered.
func (s *Set) Registry() *provider.Registry {
	r := provider.NewRegistry()
	r.RegisterSCM(s.SCM)
	r.RegisterCICD(s.CICD)
	r.RegisterProjectMgmt(s.PM)
	r.RegisterTestMgmt(s.Test)
	r.RegisterNotifier(s.Notify)
	r.RegisterStore(s.PlayStore)
	r.RegisterStore(s.AppStore)
	return r
}

// Compile-time interface checks.
var (
	_ provider.SCM         = (*FakeSCM)(nil)
	_ provider.CICD        = (*FakeCICD)(nil)
	_ provider.ProjectMgmt = (*FakeProjectMgmt)(nil)
	_ provider.TestMgmt    = (*FakeTestMgmt)(nil)
	_ provider.Notifier    = (*FakeNotifier)(nil)
	_ provider.Store       = (*FakeStore)(nil)
)
