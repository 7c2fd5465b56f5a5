// Package jenkins implements the CICD capability against the Jenkins
// REST API. Jenkins has a two-phase build lifecycle that maps directly
// onto the poller model: a trigger lands in the queue (identified by
// the Location header), and the queue item later points at the started
// build via its executable field.
package jenkins

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// Compile-time interface check.
var _ provider.CICD = (*Client)(nil)

// Options configures the Jenkins client.
type Options struct {
	// BaseURL is the Jenkins root, e.g. "https://ci.example.com".
	BaseURL string
	// User and APIToken authenticate via basic auth. Token auth does
	// not need a CSRF crumb.
	User     string
	APIToken string
	// ProbeTimeout bounds VerifyCredentials probes.
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

// Client talks to a Jenkins controller.
type Client struct {
	baseURL      string
	user         string
	apiToken     string
	probeTimeout time.Duration
	httpClient   *http.Client
}

// New creates a Jenkins client from static credentials.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.ErrConfigMissing("jenkins.base_url")
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		user:         opts.User,
		apiToken:     opts.APIToken,
		probeTimeout: timeout,
		httpClient:   provider.NewHTTPClient(opts.Logger),
	}, nil
}

// Type returns the CI run type for Jenkins builds.
func (c *Client) Type() release.CIRunType { return release.CIJenkins }

// VerifyCredentials probes the Jenkins root API.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	if _, err := c.getJSON(ctx, c.baseURL+"/api/json"); err != nil {
		return errors.ErrProviderTerminal("jenkins", "verify credentials", err)
	}
	return nil
}

// TriggerJob queues a build and returns the queue item URL from the
// Location header.
func (c *Client) TriggerJob(ctx context.Context, req provider.JobRequest) (*provider.QueueRef, error) {
	endpoint := c.baseURL + jobPath(req.Job) + "/buildWithParameters"
	if len(req.Params) == 0 {
		endpoint = c.baseURL + jobPath(req.Job) + "/build"
	}

	form := url.Values{}
	for k, v := range req.Params {
		form.Set(k, v)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build trigger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.user, c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.ErrProviderTerminal("jenkins", "trigger job "+req.Job, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, errors.ErrProviderTerminal("jenkins", "trigger job "+req.Job,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	queueURL := resp.Header.Get("Location")
	if queueURL == "" {
		return nil, errors.ErrProviderTerminal("jenkins", "trigger job "+req.Job,
			fmt.Errorf("no queue location in response"))
	}
	return &provider.QueueRef{QueueLocation: queueURL}, nil
}

// GetQueueStatus reads a queue item. A cancelled item failed, an item
// with an executable has started (the executable URL becomes the run
// ID), anything else is still waiting for an executor.
func (c *Client) GetQueueStatus(ctx context.Context, queueLocation string) (*provider.RunStatus, error) {
	body, err := c.getJSON(ctx, strings.TrimSuffix(queueLocation, "/")+"/api/json")
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}

	if gjson.GetBytes(body, "cancelled").Bool() {
		return &provider.RunStatus{Status: release.WorkflowFailed}, nil
	}
	if exec := gjson.GetBytes(body, "executable.url"); exec.Exists() {
		return &provider.RunStatus{
			Status:  release.WorkflowRunning,
			CIRunID: exec.String(),
			URL:     exec.String(),
		}, nil
	}
	return &provider.RunStatus{Status: release.WorkflowPending}, nil
}

// GetBuildStatus reads a build. The run ID is the build URL the queue
// item's executable pointed at.
func (c *Client) GetBuildStatus(ctx context.Context, ciRunID string) (*provider.RunStatus, error) {
	body, err := c.getJSON(ctx, strings.TrimSuffix(ciRunID, "/")+"/api/json")
	if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}

	st := &provider.RunStatus{CIRunID: ciRunID, URL: ciRunID}
	if gjson.GetBytes(body, "building").Bool() {
		st.Status = release.WorkflowRunning
		return st, nil
	}
	switch gjson.GetBytes(body, "result").String() {
	case "SUCCESS":
		st.Status = release.WorkflowCompleted
	case "FAILURE", "ABORTED", "UNSTABLE":
		st.Status = release.WorkflowFailed
	default:
		// Not building and no result yet: still spinning up.
		st.Status = release.WorkflowRunning
	}
	return st, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.user, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}
	return io.ReadAll(resp.Body)
}

// jobPath converts "folder/job" into Jenkins' /job/folder/job/job URL
// form.
func jobPath(job string) string {
	segments := strings.Split(strings.Trim(job, "/"), "/")
	var b strings.Builder
	for _, s := range segments {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
