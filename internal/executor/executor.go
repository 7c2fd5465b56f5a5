// Package executor runs individual release tasks against the configured
// providers. The engine decides which task is due; the executor knows
// how each task type talks to the outside world. Run functions are
// idempotent: a task that already carries an external handle is not
// re-executed against the provider.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// Context carries everything a run function needs about the task's
// release. The engine loads it once per tick.
type Context struct {
	Release *db.Release
	CronJob *db.CronJob
	Config  *db.ReleaseConfig
	Task    *db.ReleaseTask
	// Cycle is set for regression-cycle-scoped tasks.
	Cycle    *db.RegressionCycle
	Mappings []db.PlatformTargetMapping
}

// Result reports how a run ended when it did not fail outright.
type Result struct {
	// Async means the task now waits on CI builds or an external
	// callback; the engine parks it in AWAITING_CALLBACK.
	Async bool
	// AwaitManual means manual build artifacts must arrive; the engine
	// parks the task in AWAITING_MANUAL_BUILD and pauses the release.
	AwaitManual bool
	// ExternalID and ExternalData are persisted on the task row.
	ExternalID   string
	ExternalData string
	// Message is a human-readable line for logs and events.
	Message string
}

type runFunc func(ctx context.Context, ec *Context) (*Result, error)

// Executor dispatches task types to their run functions.
type Executor struct {
	store    *db.Store
	registry *provider.Registry
	logger   *slog.Logger

	dispatch map[release.TaskType]runFunc
}

// New creates an executor over the store and provider registry.
func New(store *db.Store, registry *provider.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		store:    store,
		registry: registry,
		logger:   logger,
	}
	e.dispatch = map[release.TaskType]runFunc{
		release.TaskPreKickOffReminder:      e.runPreKickOffReminder,
		release.TaskForkBranch:              e.runForkBranch,
		release.TaskCreateProjectMgmtTicket: e.runCreateProjectMgmtTicket,
		release.TaskCreateTestSuite:         e.runCreateTestSuite,
		release.TaskTriggerPreRegBuilds:     e.runTriggerPreRegBuilds,
		release.TaskTriggerRegressionBuilds: e.runTriggerRegressionBuilds,
		release.TaskCreateTestSuiteRun:      e.runCreateTestSuiteRun,
		release.TaskRegressionApproval:      e.runRegressionApproval,
		release.TaskCreateReleaseTag:        e.runCreateReleaseTag,
		release.TaskTriggerTestFlightBuild:  e.runTriggerTestFlightBuild,
		release.TaskCreateAABBuild:          e.runCreateAABBuild,
		release.TaskTestFlightVerified:      e.runTestFlightVerified,
		release.TaskAdHocNotification:       e.runAdHocNotification,
	}
	return e
}

// Run executes one task. The caller owns all status writes; Run only
// talks to providers and reports external handles in the result.
func (e *Executor) Run(ctx context.Context, ec *Context) (*Result, error) {
	fn, ok := e.dispatch[ec.Task.Type]
	if !ok {
		return nil, errors.ErrInvalidArgument("task_type", fmt.Sprintf("no run function for %q", ec.Task.Type))
	}

	e.logger.Info("running task",
		"release_id", ec.Release.ID,
		"task_id", ec.Task.ID,
		"task_type", ec.Task.Type)
	res, err := fn(ctx, ec)
	if err != nil {
		e.logger.Error("task failed",
			"release_id", ec.Release.ID,
			"task_id", ec.Task.ID,
			"task_type", ec.Task.Type,
			"error", err)
		return nil, err
	}
	return res, nil
}

// versionString is the canonical per-platform version label used in
// suite names, tags, and notifications.
func versionString(mappings []db.PlatformTargetMapping) string {
	pairs := make([]release.PlatformVersion, 0, len(mappings))
	for _, m := range mappings {
		pairs = append(pairs, release.PlatformVersion{Platform: m.Platform, Version: m.Version})
	}
	return release.PlatformVersionString(pairs)
}

// scmConfig scopes SCM calls to the release's repository.
func scmConfig(ec *Context) provider.SCMConfig {
	return provider.SCMConfig{
		Tenant: ec.Release.TenantID,
		Repo:   ec.Config.SCMRepo,
	}
}
