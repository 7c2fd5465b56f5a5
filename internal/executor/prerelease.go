package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

// runCreateReleaseTag tags the release branch head with the canonical
// version string.
func (e *Executor) runCreateReleaseTag(ctx context.Context, ec *Context) (*Result, error) {
	if ec.Task.ExternalID != "" {
		return &Result{ExternalID: ec.Task.ExternalID, Message: "tag already created"}, nil
	}

	scm, err := e.registry.SCM(ec.Config.SCMProvider)
	if err != nil {
		return nil, err
	}

	version := versionString(ec.Mappings)
	tag, err := scm.CreateReleaseTag(ctx, scmConfig(ec), provider.TagOptions{
		Branch:  ec.Release.ReleaseBranch,
		Name:    "v" + version,
		Message: fmt.Sprintf("Release %s", version),
	})
	if err != nil {
		return nil, fmt.Errorf("create release tag: %w", err)
	}
	return &Result{
		ExternalID:   tag.Name,
		ExternalData: tag.URL,
		Message:      "release tag " + tag.Name,
	}, nil
}

// runTriggerTestFlightBuild triggers the iOS distribution build.
func (e *Executor) runTriggerTestFlightBuild(ctx context.Context, ec *Context) (*Result, error) {
	return e.triggerBuilds(ctx, ec, mappedPlatforms(ec, release.PlatformIOS))
}

// runCreateAABBuild triggers the Android app bundle build.
func (e *Executor) runCreateAABBuild(ctx context.Context, ec *Context) (*Result, error) {
	return e.triggerBuilds(ctx, ec, mappedPlatforms(ec, release.PlatformAndroid))
}

// runTestFlightVerified submits each platform's pre-release artifact to
// its store: Play Store gets the AAB pushed, App Store confirms the
// processed TestFlight build. Web targets ship outside the stores and
// are skipped.
func (e *Executor) runTestFlightVerified(ctx context.Context, ec *Context) (*Result, error) {
	if ec.Task.ExternalID != "" {
		return &Result{ExternalID: ec.Task.ExternalID, Message: "store submissions already done"}, nil
	}

	submissions := make(map[string]string) // platform -> submission ID
	for _, m := range ec.Mappings {
		if m.Target == release.TargetWeb {
			continue
		}
		st, err := e.registry.Store(m.Target)
		if err != nil {
			return nil, err
		}

		artifact, err := e.stageArtifact(ec, m.Platform)
		if err != nil {
			return nil, err
		}
		up, err := st.UploadBuild(ctx, provider.StoreUploadRequest{
			Tenant:       ec.Release.TenantID,
			AppID:        ec.Config.StoreConfigs[m.Target],
			Platform:     m.Platform,
			Version:      m.Version,
			ArtifactPath: artifact,
		})
		if err != nil {
			return nil, fmt.Errorf("submit %s build to %s: %w", m.Platform, m.Target, err)
		}
		submissions[string(m.Platform)] = up.ID
	}
	if len(submissions) == 0 {
		return &Result{Message: "no store targets"}, nil
	}

	data, err := json.Marshal(submissions)
	if err != nil {
		return nil, fmt.Errorf("marshal submissions: %w", err)
	}
	var first string
	for _, id := range submissions {
		first = id
		break
	}
	return &Result{
		ExternalID:   first,
		ExternalData: string(data),
		Message:      fmt.Sprintf("submitted %d build(s) to stores", len(submissions)),
	}, nil
}

// runAdHocNotification announces release completion, or operator text
// stored on the task, on every channel.
func (e *Executor) runAdHocNotification(ctx context.Context, ec *Context) (*Result, error) {
	text, err := completionMessage(ec)
	if err != nil {
		return nil, err
	}
	if err := e.notifyAll(ctx, ec, text); err != nil {
		return nil, err
	}
	return &Result{Message: "release notification sent"}, nil
}

// stageArtifact finds the uploaded artifact produced for the platform
// by its pre-release build task. iOS artifacts may legitimately be
// empty: the CI job pushes them straight to TestFlight.
func (e *Executor) stageArtifact(ec *Context, p release.Platform) (string, error) {
	var taskType release.TaskType
	switch p {
	case release.PlatformAndroid:
		taskType = release.TaskCreateAABBuild
	case release.PlatformIOS:
		taskType = release.TaskTriggerTestFlightBuild
	default:
		return "", nil
	}

	task, err := e.store.GetTaskByType(ec.Release.ID, taskType, "")
	if err != nil {
		return "", fmt.Errorf("look up %s task: %w", taskType, err)
	}
	if task == nil {
		return "", nil
	}
	builds, err := e.store.ListBuildsByTask(task.ID)
	if err != nil {
		return "", fmt.Errorf("list %s builds: %w", taskType, err)
	}
	for _, b := range builds {
		if b.Platform == p && b.UploadStatus == release.UploadUploaded {
			return b.ArtifactPath, nil
		}
	}
	return "", nil
}
