// Package poller tracks in-flight CI builds. Each release gets two
// recurring passes: the pending pass resolves queued triggers into
// runs, the running pass waits for runs to finish. Build rows are the
// only thing a pass writes; changed tasks are handed to the callback
// aggregator, which owns task status.
package poller

import (
	"context"
	"log/slog"

	"github.com/relohq/relo/internal/callback"
	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/events"
	"github.com/relohq/relo/internal/metrics"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// Poller runs poll passes over a release's CICD builds.
type Poller struct {
	store    *db.Store
	registry *provider.Registry
	agg      *callback.Aggregator
	pub      events.Publisher
	logger   *slog.Logger
}

// New creates a poller over the store and provider registry.
func New(store *db.Store, registry *provider.Registry, agg *callback.Aggregator, pub events.Publisher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.NewNopPublisher()
	}
	return &Poller{store: store, registry: registry, agg: agg, pub: pub, logger: logger}
}

// PollPending resolves the release's queued builds. A build missing its
// queue location is skipped; errors on one build do not stop the pass.
func (p *Poller) PollPending(ctx context.Context, releaseID string) error {
	builds, err := p.store.ListCICDBuildsByWorkflowStatus(releaseID, release.WorkflowPending)
	if err != nil {
		return err
	}

	changed := make(map[string]struct{})
	for _, b := range builds {
		if b.QueueLocation == "" {
			p.reportError(releaseID, "pending_poll", "build has no queue location: "+b.ID)
			continue
		}
		ci, err := p.registry.CICD(b.CIRunType)
		if err != nil {
			p.reportError(releaseID, "pending_poll", err.Error())
			continue
		}
		st, err := ci.GetQueueStatus(ctx, b.QueueLocation)
		if err != nil {
			p.reportError(releaseID, "pending_poll", err.Error())
			continue
		}

		switch st.Status {
		case release.WorkflowRunning:
			p.transition(b, "pending_poll", release.WorkflowRunning, st.CIRunID, "", changed)
			metrics.BuildPollsTotal.WithLabelValues("pending", "running").Inc()
		case release.WorkflowCompleted:
			p.transition(b, "pending_poll", release.WorkflowCompleted, st.CIRunID, release.UploadUploaded, changed)
			metrics.BuildPollsTotal.WithLabelValues("pending", "completed").Inc()
		case release.WorkflowFailed:
			p.transition(b, "pending_poll", release.WorkflowFailed, st.CIRunID, release.UploadFailed, changed)
			metrics.BuildPollsTotal.WithLabelValues("pending", "failed").Inc()
		default:
			// Still queued.
			metrics.BuildPollsTotal.WithLabelValues("pending", "unchanged").Inc()
		}
	}

	p.fireCallbacks(ctx, changed)
	return nil
}

// PollRunning tracks the release's started builds to completion.
func (p *Poller) PollRunning(ctx context.Context, releaseID string) error {
	builds, err := p.store.ListCICDBuildsByWorkflowStatus(releaseID, release.WorkflowRunning)
	if err != nil {
		return err
	}

	changed := make(map[string]struct{})
	for _, b := range builds {
		if b.CIRunID == "" {
			p.reportError(releaseID, "running_poll", "build has no CI run ID: "+b.ID)
			continue
		}
		ci, err := p.registry.CICD(b.CIRunType)
		if err != nil {
			p.reportError(releaseID, "running_poll", err.Error())
			continue
		}
		st, err := ci.GetBuildStatus(ctx, b.CIRunID)
		if err != nil {
			p.reportError(releaseID, "running_poll", err.Error())
			continue
		}

		switch st.Status {
		case release.WorkflowCompleted:
			p.transition(b, "running_poll", release.WorkflowCompleted, "", release.UploadUploaded, changed)
			metrics.BuildPollsTotal.WithLabelValues("running", "completed").Inc()
		case release.WorkflowFailed:
			p.transition(b, "running_poll", release.WorkflowFailed, "", release.UploadFailed, changed)
			metrics.BuildPollsTotal.WithLabelValues("running", "failed").Inc()
		default:
			metrics.BuildPollsTotal.WithLabelValues("running", "unchanged").Inc()
		}
	}

	p.fireCallbacks(ctx, changed)
	return nil
}

// transition applies a workflow change to one build and records its task
// for the callback round. uploadStatus is only written when set.
func (p *Poller) transition(b *db.Build, source string, wf release.WorkflowStatus, ciRunID string, uploadStatus release.UploadStatus, changed map[string]struct{}) {
	if err := p.store.UpdateBuildWorkflow(b.ID, wf, ciRunID); err != nil {
		p.reportError(b.ReleaseID, source, err.Error())
		return
	}
	if uploadStatus != "" {
		if err := p.store.UpdateBuildUploadStatus(b.ID, uploadStatus); err != nil {
			p.reportError(b.ReleaseID, source, err.Error())
			return
		}
	} else {
		uploadStatus = b.UploadStatus
	}
	changed[b.TaskID] = struct{}{}

	p.pub.Publish(events.NewEvent(events.EventBuild, b.ReleaseID, events.BuildUpdate{
		BuildID:        b.ID,
		TaskID:         b.TaskID,
		Platform:       string(b.Platform),
		WorkflowStatus: string(wf),
		UploadStatus:   string(uploadStatus),
	}))
	p.logger.Info("build transitioned",
		"release_id", b.ReleaseID,
		"build_id", b.ID,
		"platform", b.Platform,
		"workflow_status", wf)
}

// fireCallbacks aggregates each task whose builds changed this pass.
func (p *Poller) fireCallbacks(ctx context.Context, changed map[string]struct{}) {
	for taskID := range changed {
		if _, err := p.agg.ProcessCallback(ctx, taskID); err != nil {
			p.logger.Error("callback failed", "task_id", taskID, "error", err)
		}
	}
}

func (p *Poller) reportError(releaseID, source, msg string) {
	p.logger.Warn("poll error", "release_id", releaseID, "source", source, "error", msg)
	p.pub.Publish(events.NewEvent(events.EventError, releaseID, events.ErrorData{
		Source:  source,
		Message: msg,
	}))
}
