package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
)

// runPreKickOffReminder announces the upcoming kick-off on every
// configured notification channel.
func (e *Executor) runPreKickOffReminder(ctx context.Context, ec *Context) (*Result, error) {
	text, err := kickoffReminderMessage(ec)
	if err != nil {
		return nil, err
	}
	if err := e.notifyAll(ctx, ec, text); err != nil {
		return nil, err
	}
	return &Result{Message: "kick-off reminder sent"}, nil
}

// runForkBranch forks the release branch from the base branch.
func (e *Executor) runForkBranch(ctx context.Context, ec *Context) (*Result, error) {
	if ec.Task.ExternalID != "" {
		return &Result{ExternalID: ec.Task.ExternalID, Message: "branch already forked"}, nil
	}

	scm, err := e.registry.SCM(ec.Config.SCMProvider)
	if err != nil {
		return nil, err
	}
	if err := scm.ForkBranch(ctx, scmConfig(ec), ec.Release.ReleaseBranch, ec.Release.BaseBranch); err != nil {
		return nil, fmt.Errorf("fork %s from %s: %w", ec.Release.ReleaseBranch, ec.Release.BaseBranch, err)
	}
	return &Result{
		ExternalID: ec.Release.ReleaseBranch,
		Message:    fmt.Sprintf("forked %s from %s", ec.Release.ReleaseBranch, ec.Release.BaseBranch),
	}, nil
}

// runCreateProjectMgmtTicket creates the release ticket in each
// platform's project. Platforms sharing a project key share a ticket.
func (e *Executor) runCreateProjectMgmtTicket(ctx context.Context, ec *Context) (*Result, error) {
	if ec.Task.ExternalID != "" {
		return &Result{ExternalID: ec.Task.ExternalID, Message: "ticket already created"}, nil
	}

	pm, err := e.registry.ProjectMgmt(ec.Config.PMProvider)
	if err != nil {
		return nil, err
	}

	version := versionString(ec.Mappings)
	byProject := make(map[string]string) // project key -> ticket key
	for _, m := range ec.Mappings {
		project := ec.Config.PMProjects[m.Platform]
		if project == "" {
			return nil, errors.ErrConfigMissing(fmt.Sprintf("project key for platform %s", m.Platform))
		}
		if _, done := byProject[project]; done {
			continue
		}
		ticket, err := pm.CreateTicket(ctx, provider.TicketRequest{
			Tenant:      ec.Release.TenantID,
			Project:     project,
			Summary:     fmt.Sprintf("Release %s", version),
			Description: ticketDescription(ec, version),
			Labels:      []string{"release", string(ec.Release.Type)},
		})
		if err != nil {
			return nil, fmt.Errorf("create ticket in %s: %w", project, err)
		}
		byProject[project] = ticket.Key
	}
	if len(byProject) == 0 {
		return nil, errors.ErrConfigMissing("platform target mappings")
	}

	data, err := json.Marshal(byProject)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket keys: %w", err)
	}
	var first string
	for _, key := range byProject {
		first = key
		break
	}
	return &Result{
		ExternalID:   first,
		ExternalData: string(data),
		Message:      fmt.Sprintf("created %d release ticket(s)", len(byProject)),
	}, nil
}

// runCreateTestSuite creates the release regression suite. Its ID is
// the anchor every cycle's suite run hangs off.
func (e *Executor) runCreateTestSuite(ctx context.Context, ec *Context) (*Result, error) {
	if ec.Task.ExternalID != "" {
		return &Result{ExternalID: ec.Task.ExternalID, Message: "suite already created"}, nil
	}

	tm, err := e.registry.TestMgmt(ec.Config.TestProvider)
	if err != nil {
		return nil, err
	}

	version := versionString(ec.Mappings)
	suite, err := tm.CreateSuite(ctx, provider.SuiteRequest{
		Tenant:    ec.Release.TenantID,
		ProjectID: ec.Config.TestMgmtID,
		Name:      fmt.Sprintf("Release %s regression", version),
		Version:   version,
	})
	if err != nil {
		return nil, fmt.Errorf("create test suite: %w", err)
	}
	return &Result{
		ExternalID:   suite.ID,
		ExternalData: suite.URL,
		Message:      "test suite created",
	}, nil
}

// runTriggerPreRegBuilds triggers the kick-off builds for every mapped
// platform.
func (e *Executor) runTriggerPreRegBuilds(ctx context.Context, ec *Context) (*Result, error) {
	return e.triggerBuilds(ctx, ec, mappedPlatforms(ec))
}

// notifyAll posts the text to every configured channel.
func (e *Executor) notifyAll(ctx context.Context, ec *Context, text string) error {
	notifier, err := e.registry.Notifier(ec.Config.NotifyProvider)
	if err != nil {
		return err
	}
	channels := ec.Config.NotificationChannels
	if len(channels) == 0 {
		channels = []string{""}
	}
	for _, ch := range channels {
		if err := notifier.PostMessage(ctx, ch, text); err != nil {
			return fmt.Errorf("notify %q: %w", ch, err)
		}
	}
	return nil
}
