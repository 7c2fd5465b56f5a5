// Package checkmate implements the test management capability against
// the Checkmate REST API: release test suites at kickoff, suite runs
// per regression cycle, and run status polling.
package checkmate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
)

// Compile-time interface check.
var _ provider.TestMgmt = (*Client)(nil)

// Options configures the Checkmate client.
type Options struct {
	// BaseURL is the Checkmate instance root.
	BaseURL string
	// APIKey authenticates via the X-Api-Key header.
	APIKey string

	Logger *slog.Logger
}

// Client talks to a Checkmate instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Checkmate client from static credentials.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.ErrConfigMissing("checkmate.base_url")
	}
	if opts.APIKey == "" {
		return nil, errors.ErrConfigMissing("checkmate.api_key")
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: provider.NewHTTPClient(opts.Logger),
	}, nil
}

// Name returns the provider key.
func (c *Client) Name() string { return "checkmate" }

// VerifyCredentials probes the authenticated user endpoint.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/me", nil); err != nil {
		return errors.ErrProviderTerminal("checkmate", "verify credentials", err)
	}
	return nil
}

// CreateSuite creates a release test suite.
func (c *Client) CreateSuite(ctx context.Context, req provider.SuiteRequest) (*provider.Suite, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/suites", map[string]any{
		"project_id": req.ProjectID,
		"name":       req.Name,
		"version":    req.Version,
	})
	if err != nil {
		return nil, errors.ErrProviderTerminal("checkmate", "create suite "+req.Name, err)
	}
	return &provider.Suite{
		ID:  gjson.GetBytes(body, "id").String(),
		URL: gjson.GetBytes(body, "web_url").String(),
	}, nil
}

// CreateRun starts a run of the suite for one regression cycle.
func (c *Client) CreateRun(ctx context.Context, req provider.RunRequest) (*provider.TestRun, error) {
	payload := map[string]any{"name": req.Name}
	if len(req.Filters) > 0 {
		payload["filters"] = req.Filters
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v1/suites/"+req.SuiteID+"/runs", payload)
	if err != nil {
		return nil, errors.ErrProviderTerminal("checkmate", "create run "+req.Name, err)
	}
	return &provider.TestRun{
		ID:  gjson.GetBytes(body, "id").String(),
		URL: gjson.GetBytes(body, "web_url").String(),
	}, nil
}

// GetRunStatus reports a run's progress. A run is done once Checkmate
// marks it completed; the pass rate is passed/total when Checkmate
// reports counts and pass_rate otherwise.
func (c *Client) GetRunStatus(ctx context.Context, runID string) (*provider.TestRunStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+runID, nil)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	st := &provider.TestRunStatus{}
	switch gjson.GetBytes(body, "status").String() {
	case "completed", "passed", "failed":
		st.Done = true
	}
	if total := gjson.GetBytes(body, "total").Float(); total > 0 {
		st.PassRate = gjson.GetBytes(body, "passed").Float() / total
	} else {
		st.PassRate = gjson.GetBytes(body, "pass_rate").Float()
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}
