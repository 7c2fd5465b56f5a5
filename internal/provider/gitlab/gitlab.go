// Package gitlab implements the SCM and CICD capabilities against the
// GitLab API using the official client-go library. The SCM side forks
// branches and cuts release tags, the CICD side runs GitLab CI
// pipelines.
package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// Compile-time interface checks.
var (
	_ provider.SCM  = (*Client)(nil)
	_ provider.CICD = (*Client)(nil)
)

// Options configures the GitLab client.
type Options struct {
	Token string
	// BaseURL points at a self-managed GitLab instance; empty means
	// gitlab.com.
	BaseURL string
	// VerifyTimeout bounds VerifyCredentials probes.
	VerifyTimeout time.Duration
}

// Client talks to the GitLab API.
type Client struct {
	api           *gogitlab.Client
	webBase       string
	verifyTimeout time.Duration
}

// New creates a GitLab client from static credentials.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.ErrConfigMissing("gitlab.token")
	}

	webBase := "https://gitlab.com"
	var (
		api *gogitlab.Client
		err error
	)
	if opts.BaseURL != "" {
		webBase = strings.TrimSuffix(opts.BaseURL, "/")
		api, err = gogitlab.NewClient(opts.Token, gogitlab.WithBaseURL(webBase+"/api/v4"))
	} else {
		api, err = gogitlab.NewClient(opts.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	timeout := opts.VerifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{api: api, webBase: webBase, verifyTimeout: timeout}, nil
}

// Name returns the SCM provider key.
func (c *Client) Name() string { return "gitlab" }

// Type returns the CI run type for pipeline builds.
func (c *Client) Type() release.CIRunType { return release.CIGitLabCI }

// VerifyCredentials validates the token by fetching the current user.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()
	if _, _, err := c.api.Users.CurrentUser(gogitlab.WithContext(ctx)); err != nil {
		return errors.ErrProviderTerminal("gitlab", "verify credentials", err)
	}
	return nil
}

// ForkBranch creates newBranch from the head of baseBranch. A branch
// that already exists counts as created.
func (c *Client) ForkBranch(ctx context.Context, cfg provider.SCMConfig, newBranch, baseBranch string) error {
	_, _, err := c.api.Branches.CreateBranch(cfg.Repo, &gogitlab.CreateBranchOptions{
		Branch: gogitlab.Ptr(newBranch),
		Ref:    gogitlab.Ptr(baseBranch),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create branch %q: %w", newBranch, err)
	}
	return nil
}

// CreateReleaseTag creates an annotated tag on the branch head. The
// GitLab tag API returns no web URL, so the tag URL is composed from
// the instance base.
func (c *Client) CreateReleaseTag(ctx context.Context, cfg provider.SCMConfig, opts provider.TagOptions) (*provider.Tag, error) {
	tag, _, err := c.api.Tags.CreateTag(cfg.Repo, &gogitlab.CreateTagOptions{
		TagName: gogitlab.Ptr(opts.Name),
		Ref:     gogitlab.Ptr(opts.Branch),
		Message: gogitlab.Ptr(opts.Message),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create tag %q: %w", opts.Name, err)
	}
	return &provider.Tag{
		Name: tag.Name,
		URL:  fmt.Sprintf("%s/%s/-/tags/%s", c.webBase, cfg.Repo, url.PathEscape(tag.Name)),
	}, nil
}

// TriggerJob runs a pipeline on the ref. GitLab assigns the pipeline ID
// at creation, so the queue location already names the run. Pipelines
// are per-ref rather than per-job; the job identifier rides along as
// the BUILD_TARGET variable for the pipeline to select on.
func (c *Client) TriggerJob(ctx context.Context, req provider.JobRequest) (*provider.QueueRef, error) {
	vars := make([]*gogitlab.PipelineVariableOptions, 0, len(req.Params)+1)
	if req.Job != "" {
		vars = append(vars, &gogitlab.PipelineVariableOptions{
			Key:   gogitlab.Ptr("BUILD_TARGET"),
			Value: gogitlab.Ptr(req.Job),
		})
	}
	for k, v := range req.Params {
		vars = append(vars, &gogitlab.PipelineVariableOptions{
			Key:   gogitlab.Ptr(k),
			Value: gogitlab.Ptr(v),
		})
	}

	pipeline, _, err := c.api.Pipelines.CreatePipeline(req.Repo, &gogitlab.CreatePipelineOptions{
		Ref:       gogitlab.Ptr(req.Ref),
		Variables: &vars,
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, errors.ErrProviderTerminal("gitlab", "create pipeline on "+req.Ref, err)
	}
	return &provider.QueueRef{
		QueueLocation: pipelineKey(req.Repo, pipeline.ID),
	}, nil
}

// GetQueueStatus reports the pipeline named by the queue location.
func (c *Client) GetQueueStatus(ctx context.Context, queueLocation string) (*provider.RunStatus, error) {
	return c.GetBuildStatus(ctx, queueLocation)
}

// GetBuildStatus reports a pipeline's current state.
func (c *Client) GetBuildStatus(ctx context.Context, ciRunID string) (*provider.RunStatus, error) {
	project, id, err := splitPipelineKey(ciRunID)
	if err != nil {
		return nil, err
	}
	pipeline, _, err := c.api.Pipelines.GetPipeline(project, id, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get pipeline %d: %w", id, err)
	}
	return &provider.RunStatus{
		Status:  mapPipelineStatus(pipeline.Status),
		CIRunID: pipelineKey(project, pipeline.ID),
		URL:     pipeline.WebURL,
	}, nil
}

func mapPipelineStatus(status string) release.WorkflowStatus {
	switch status {
	case "success":
		return release.WorkflowCompleted
	case "failed", "canceled", "skipped":
		return release.WorkflowFailed
	case "running":
		return release.WorkflowRunning
	default: // created, waiting_for_resource, preparing, pending, manual, scheduled
		return release.WorkflowPending
	}
}

func pipelineKey(project string, id int64) string {
	return project + "|" + strconv.FormatInt(id, 10)
}

func splitPipelineKey(key string) (string, int64, error) {
	project, raw, ok := strings.Cut(key, "|")
	if !ok {
		return "", 0, fmt.Errorf("malformed pipeline key %q", key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed pipeline key %q: %w", key, err)
	}
	return project, id, nil
}
