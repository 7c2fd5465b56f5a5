package executor

import (
	"context"
	"fmt"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// runTriggerRegressionBuilds triggers this cycle's builds for every
// mapped platform.
func (e *Executor) runTriggerRegressionBuilds(ctx context.Context, ec *Context) (*Result, error) {
	return e.triggerBuilds(ctx, ec, mappedPlatforms(ec))
}

// runCreateTestSuiteRun starts a suite run for the current regression
// cycle against the suite created at kick-off.
func (e *Executor) runCreateTestSuiteRun(ctx context.Context, ec *Context) (*Result, error) {
	if ec.Task.ExternalID != "" {
		return &Result{Async: true, ExternalID: ec.Task.ExternalID, Message: "suite run already created"}, nil
	}
	if ec.Cycle == nil {
		return nil, errors.ErrInvalidArgument("cycle", "suite runs are cycle-scoped")
	}

	suiteTask, err := e.store.GetTaskByType(ec.Release.ID, release.TaskCreateTestSuite, "")
	if err != nil {
		return nil, fmt.Errorf("look up suite task: %w", err)
	}
	if suiteTask == nil || suiteTask.ExternalID == "" {
		return nil, errors.ErrInvalidArgument("test_suite", "release has no created test suite")
	}

	tm, err := e.registry.TestMgmt(ec.Config.TestProvider)
	if err != nil {
		return nil, err
	}
	run, err := tm.CreateRun(ctx, provider.RunRequest{
		Tenant:  ec.Release.TenantID,
		SuiteID: suiteTask.ExternalID,
		Name:    fmt.Sprintf("Cycle %d", ec.Cycle.CycleTag),
	})
	if err != nil {
		return nil, fmt.Errorf("create suite run: %w", err)
	}
	// The engine polls the run until the provider reports it done.
	return &Result{
		Async:        true,
		ExternalID:   run.ID,
		ExternalData: run.URL,
		Message:      "suite run created",
	}, nil
}

// runRegressionApproval parks the task until a human approves the
// regression stage through the service API.
func (e *Executor) runRegressionApproval(_ context.Context, _ *Context) (*Result, error) {
	return &Result{Async: true, Message: "awaiting regression approval"}, nil
}
