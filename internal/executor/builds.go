package executor

import (
	"context"
	"fmt"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// triggerBuilds creates one build per requested platform. CICD releases
// dispatch the platform's workflow and record the queue handle for the
// pending poller; manual-upload releases create MANUAL build rows that
// complete when artifacts are attached. Platforms that already own a
// build row for this task are left alone, which makes retries after a
// partial trigger safe.
func (e *Executor) triggerBuilds(ctx context.Context, ec *Context, platforms []release.Platform) (*Result, error) {
	if len(platforms) == 0 {
		return &Result{Message: "no platforms to build"}, nil
	}

	existing, err := e.store.ListBuildsByTask(ec.Task.ID)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	have := make(map[release.Platform]bool, len(existing))
	for _, b := range existing {
		have[b.Platform] = true
	}

	if ec.Release.HasManualBuildUpload {
		for _, p := range platforms {
			if have[p] {
				continue
			}
			b := &db.Build{
				ReleaseID:      ec.Release.ID,
				TaskID:         ec.Task.ID,
				Platform:       p,
				BuildType:      release.BuildManual,
				WorkflowStatus: release.WorkflowPending,
				UploadStatus:   release.UploadPending,
			}
			if err := e.store.SaveBuild(b); err != nil {
				return nil, fmt.Errorf("save manual build: %w", err)
			}
		}
		return &Result{AwaitManual: true, Message: "waiting for manual build artifacts"}, nil
	}

	cicd, err := e.registry.CICD(ec.Config.CIProvider)
	if err != nil {
		return nil, err
	}
	for _, p := range platforms {
		if have[p] {
			continue
		}
		workflow := ec.Config.BuildWorkflows[p]
		if workflow == "" {
			return nil, errors.ErrConfigMissing(fmt.Sprintf("build workflow for platform %s", p))
		}

		ref, err := cicd.TriggerJob(ctx, triggerRequest(ec, p, workflow))
		if err != nil {
			return nil, fmt.Errorf("trigger %s build: %w", p, err)
		}
		b := &db.Build{
			ReleaseID:      ec.Release.ID,
			TaskID:         ec.Task.ID,
			Platform:       p,
			BuildType:      release.BuildCICD,
			CIRunType:      ec.Config.CIProvider,
			QueueLocation:  ref.QueueLocation,
			WorkflowStatus: release.WorkflowPending,
			UploadStatus:   release.UploadPending,
		}
		if err := e.store.SaveBuild(b); err != nil {
			return nil, fmt.Errorf("save build: %w", err)
		}
	}
	return &Result{Async: true, Message: "builds triggered"}, nil
}

func triggerRequest(ec *Context, p release.Platform, workflow string) provider.JobRequest {
	params := map[string]string{
		"RELEASE_BRANCH": ec.Release.ReleaseBranch,
		"PLATFORM":       string(p),
	}
	for _, m := range ec.Mappings {
		if m.Platform == p {
			params["VERSION"] = m.Version
			break
		}
	}
	return provider.JobRequest{
		Tenant: ec.Release.TenantID,
		Repo:   ec.Config.SCMRepo,
		Job:    workflow,
		Ref:    ec.Release.ReleaseBranch,
		Params: params,
	}
}

// mappedPlatforms returns the release's platforms, optionally filtered.
func mappedPlatforms(ec *Context, only ...release.Platform) []release.Platform {
	keep := make(map[release.Platform]bool, len(only))
	for _, p := range only {
		keep[p] = true
	}
	var out []release.Platform
	for _, m := range ec.Mappings {
		if len(only) > 0 && !keep[m.Platform] {
			continue
		}
		out = append(out, m.Platform)
	}
	return out
}
