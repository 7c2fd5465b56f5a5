// Package jira implements the project management capability against
// Jira Cloud using the go-atlassian library. Release tickets are
// created as Task issues with an ADF description.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
)

// Compile-time interface check.
var _ provider.ProjectMgmt = (*Client)(nil)

// Options configures the Jira client.
type Options struct {
	// BaseURL is the Jira Cloud instance URL, e.g.
	// "https://acme.atlassian.net".
	BaseURL string
	// Email and APIToken authenticate via basic auth.
	Email    string
	APIToken string
	// IssueType is the issue type release tickets are created as.
	// Defaults to "Task".
	IssueType string
}

// Client talks to a Jira Cloud instance.
type Client struct {
	jira      *v3.Client
	baseURL   string
	issueType string
}

// New creates a Jira client with basic auth.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.ErrConfigMissing("jira.base_url")
	}
	if opts.Email == "" {
		return nil, errors.ErrConfigMissing("jira.email")
	}
	if opts.APIToken == "" {
		return nil, errors.ErrConfigMissing("jira.api_token")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	jira, err := v3.New(&http.Client{Timeout: 30 * time.Second}, baseURL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	jira.Auth.SetBasicAuth(opts.Email, opts.APIToken)
	jira.Auth.SetUserAgent("relo/1.0")

	issueType := opts.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	return &Client{jira: jira, baseURL: baseURL, issueType: issueType}, nil
}

// Name returns the provider key.
func (c *Client) Name() string { return "jira" }

// VerifyCredentials validates the token by fetching the caller's
// profile.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	_, resp, err := c.jira.MySelf.Details(ctx, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("status %d: %w", resp.StatusCode, err)
		}
		return errors.ErrProviderTerminal("jira", "verify credentials", err)
	}
	return nil
}

// CreateTicket creates the release ticket in the given project.
func (c *Client) CreateTicket(ctx context.Context, req provider.TicketRequest) (*provider.Ticket, error) {
	payload := &models.IssueScheme{
		Fields: &models.IssueFieldsScheme{
			Project:     &models.ProjectScheme{Key: req.Project},
			IssueType:   &models.IssueTypeScheme{Name: c.issueType},
			Summary:     req.Summary,
			Labels:      req.Labels,
			Description: adfParagraphs(req.Description),
		},
	}

	created, resp, err := c.jira.Issue.Create(ctx, payload, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("status %d: %w", resp.StatusCode, err)
		}
		return nil, errors.ErrProviderTerminal("jira", "create ticket in "+req.Project, err)
	}
	return &provider.Ticket{
		Key: created.Key,
		URL: c.baseURL + "/browse/" + created.Key,
	}, nil
}

// adfParagraphs wraps plain text into an ADF document, one paragraph
// per line. Jira Cloud v3 rejects plain-string descriptions.
func adfParagraphs(text string) *models.CommentNodeScheme {
	doc := &models.CommentNodeScheme{
		Version: 1,
		Type:    "doc",
	}
	for _, line := range strings.Split(text, "\n") {
		para := &models.CommentNodeScheme{Type: "paragraph"}
		if line != "" {
			para.Content = []*models.CommentNodeScheme{
				{Type: "text", Text: line},
			}
		}
		doc.Content = append(doc.Content, para)
	}
	return doc
}
