// Package github implements the SCM and CICD capabilities against the
// GitHub API using the go-github library. One client serves both: the
// SCM side forks branches and cuts release tags, the CICD side
// dispatches GitHub Actions workflows and resolves their runs.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// Compile-time interface checks.
var (
	_ provider.SCM  = (*Client)(nil)
	_ provider.CICD = (*Client)(nil)
)

// queueLocSep separates the fields of a synthetic Actions queue
// location: workflow file, ref, and dispatch time in unix nanos.
const queueLocSep = "|"

// Options configures the GitHub client.
type Options struct {
	Token string
	// BaseURL points at a GitHub Enterprise instance; empty means
	// github.com.
	BaseURL string
	// VerifyTimeout bounds VerifyCredentials probes.
	VerifyTimeout time.Duration
}

// Client talks to the GitHub API.
type Client struct {
	api           *gogithub.Client
	verifyTimeout time.Duration
}

// New creates a GitHub client from static credentials.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.ErrConfigMissing("github.token")
	}

	httpClient := &http.Client{
		Transport: &oauth2Transport{token: opts.Token},
	}
	api := gogithub.NewClient(httpClient)

	// GitHub Enterprise: override base URL.
	if opts.BaseURL != "" {
		baseURL := strings.TrimSuffix(opts.BaseURL, "/")
		var parseErr error
		api.BaseURL, parseErr = api.BaseURL.Parse(baseURL + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", opts.BaseURL, parseErr)
		}
		api.UploadURL, parseErr = api.UploadURL.Parse(baseURL + "/api/uploads/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", opts.BaseURL, parseErr)
		}
	}

	timeout := opts.VerifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{api: api, verifyTimeout: timeout}, nil
}

// oauth2Transport adds an Authorization header to every request.
type oauth2Transport struct {
	token string
	base  http.RoundTripper
}

func (t *oauth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the SCM provider key.
func (c *Client) Name() string { return "github" }

// Type returns the CI run type for Actions builds.
func (c *Client) Type() release.CIRunType { return release.CIGitHubActions }

// VerifyCredentials validates the token by fetching the authenticated user.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()
	if _, _, err := c.api.Users.Get(ctx, ""); err != nil {
		return errors.ErrProviderTerminal("github", "verify credentials", err)
	}
	return nil
}

// ForkBranch creates newBranch from the head of baseBranch. A branch
// that already exists counts as created.
func (c *Client) ForkBranch(ctx context.Context, cfg provider.SCMConfig, newBranch, baseBranch string) error {
	owner, repo, err := splitRepo(cfg.Repo)
	if err != nil {
		return err
	}

	baseRef, _, err := c.api.Git.GetRef(ctx, owner, repo, "refs/heads/"+baseBranch)
	if err != nil {
		return fmt.Errorf("get base branch %q: %w", baseBranch, err)
	}

	newRef := gogithub.CreateRef{
		Ref: "refs/heads/" + newBranch,
		SHA: baseRef.Object.GetSHA(),
	}
	_, resp, err := c.api.Git.CreateRef(ctx, owner, repo, newRef)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity &&
			strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create branch %q: %w", newBranch, err)
	}
	return nil
}

// CreateReleaseTag cuts a GitHub release, which creates the tag on the
// branch head as a side effect.
func (c *Client) CreateReleaseTag(ctx context.Context, cfg provider.SCMConfig, opts provider.TagOptions) (*provider.Tag, error) {
	owner, repo, err := splitRepo(cfg.Repo)
	if err != nil {
		return nil, err
	}

	rel := &gogithub.RepositoryRelease{
		TagName:         gogithub.Ptr(opts.Name),
		TargetCommitish: gogithub.Ptr(opts.Branch),
		Name:            gogithub.Ptr(opts.Name),
		Body:            gogithub.Ptr(opts.Message),
	}
	created, _, err := c.api.Repositories.CreateRelease(ctx, owner, repo, rel)
	if err != nil {
		return nil, fmt.Errorf("create release tag %q: %w", opts.Name, err)
	}
	return &provider.Tag{
		Name: created.GetTagName(),
		URL:  created.GetHTMLURL(),
	}, nil
}

// TriggerJob dispatches an Actions workflow by file name. Workflow
// dispatch returns no run ID, so the queue location is a synthetic key
// that GetQueueStatus resolves by listing runs created after dispatch.
func (c *Client) TriggerJob(ctx context.Context, req provider.JobRequest) (*provider.QueueRef, error) {
	owner, repo, err := splitRepo(req.Repo)
	if err != nil {
		return nil, err
	}

	inputs := make(map[string]interface{}, len(req.Params))
	for k, v := range req.Params {
		inputs[k] = v
	}
	dispatchedAt := time.Now()
	event := gogithub.CreateWorkflowDispatchEventRequest{
		Ref:    req.Ref,
		Inputs: inputs,
	}
	if _, err := c.api.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, repo, req.Job, event); err != nil {
		return nil, errors.ErrProviderTerminal("github", "dispatch workflow "+req.Job, err)
	}

	loc := strings.Join([]string{
		req.Repo,
		req.Job,
		req.Ref,
		strconv.FormatInt(dispatchedAt.UnixNano(), 10),
	}, queueLocSep)
	return &provider.QueueRef{QueueLocation: loc}, nil
}

// GetQueueStatus resolves a dispatched workflow to its run by listing
// runs for the workflow file on the ref, newest first, and keeping the
// first one created at or after dispatch time.
func (c *Client) GetQueueStatus(ctx context.Context, queueLocation string) (*provider.RunStatus, error) {
	parts := strings.SplitN(queueLocation, queueLocSep, 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed queue location %q", queueLocation)
	}
	owner, repo, err := splitRepo(parts[0])
	if err != nil {
		return nil, err
	}
	workflowFile, ref := parts[1], parts[2]
	nanos, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed queue location %q: %w", queueLocation, err)
	}
	dispatchedAt := time.Unix(0, nanos)

	runs, _, err := c.api.Actions.ListWorkflowRunsByFileName(ctx, owner, repo, workflowFile, &gogithub.ListWorkflowRunsOptions{
		Branch:      ref,
		Event:       "workflow_dispatch",
		ListOptions: gogithub.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, fmt.Errorf("list workflow runs for %q: %w", workflowFile, err)
	}
	for _, run := range runs.WorkflowRuns {
		// Allow a minute of clock skew between us and GitHub.
		if run.GetCreatedAt().Time.Before(dispatchedAt.Add(-time.Minute)) {
			continue
		}
		return mapRun(run), nil
	}
	// Not picked up yet.
	return &provider.RunStatus{Status: release.WorkflowPending}, nil
}

// GetBuildStatus reports a workflow run's current state.
func (c *Client) GetBuildStatus(ctx context.Context, ciRunID string) (*provider.RunStatus, error) {
	parts := strings.SplitN(ciRunID, queueLocSep, 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed run ID %q", ciRunID)
	}
	owner, repo, err := splitRepo(parts[0])
	if err != nil {
		return nil, err
	}
	runID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed run ID %q: %w", ciRunID, err)
	}

	run, _, err := c.api.Actions.GetWorkflowRunByID(ctx, owner, repo, runID)
	if err != nil {
		return nil, fmt.Errorf("get workflow run %d: %w", runID, err)
	}
	return mapRun(run), nil
}

// mapRun converts an Actions run to a run status. The run ID carries
// the repo so GetBuildStatus can find the run again.
func mapRun(run *gogithub.WorkflowRun) *provider.RunStatus {
	st := &provider.RunStatus{
		CIRunID: run.GetRepository().GetFullName() + queueLocSep + strconv.FormatInt(run.GetID(), 10),
		URL:     run.GetHTMLURL(),
	}
	switch run.GetStatus() {
	case "completed":
		if run.GetConclusion() == "success" {
			st.Status = release.WorkflowCompleted
		} else {
			st.Status = release.WorkflowFailed
		}
	case "in_progress":
		st.Status = release.WorkflowRunning
	default: // queued, waiting, requested, pending
		st.Status = release.WorkflowPending
	}
	return st
}

// splitRepo parses an "owner/repo" slug.
func splitRepo(slug string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", errors.ErrInvalidArgument("repo", fmt.Sprintf("%q is not an owner/repo slug", slug))
	}
	return owner, repo, nil
}
