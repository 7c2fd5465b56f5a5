package engine

import (
	"context"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/notify"
	"github.com/relohq/relo/internal/release"
)

// notice renders a notification template and posts it to the release
// channels. Notification failures never gate a state transition; they
// are logged and dropped.
func (e *Engine) notice(ctx context.Context, tc *tickCtx, key string, vars map[string]string) {
	if tc.cfg == nil || tc.cfg.NotifyProvider == "" || len(tc.cfg.NotificationChannels) == 0 {
		return
	}
	notifier, err := e.registry.Notifier(tc.cfg.NotifyProvider)
	if err != nil {
		e.logger.Debug("notifier unavailable",
			"provider", tc.cfg.NotifyProvider, "error", err)
		return
	}
	text, err := notify.Render(key, vars)
	if err != nil {
		e.logger.Warn("render notification", "key", key, "error", err)
		return
	}
	for _, ch := range tc.cfg.NotificationChannels {
		if err := notifier.PostMessage(ctx, ch, text); err != nil {
			e.logger.Warn("post notification",
				"key", key, "channel", ch, "error", err)
		}
	}
}

func (e *Engine) noticeStageComplete(ctx context.Context, tc *tickCtx, n int, auto bool) {
	nextLine := "\nNext stage starts automatically."
	if !auto {
		nextLine = "\nWaiting on a manual stage trigger."
	}
	e.notice(ctx, tc, notify.KeyStageComplete, map[string]string{
		"version":   versionLabel(tc.mappings),
		"stage":     stageLabel(n),
		"next_line": nextLine,
	})
}

// versionLabel is the canonical version string used in notifications.
func versionLabel(mappings []db.PlatformTargetMapping) string {
	pairs := make([]release.PlatformVersion, 0, len(mappings))
	for _, m := range mappings {
		pairs = append(pairs, release.PlatformVersion{Platform: m.Platform, Version: m.Version})
	}
	return release.PlatformVersionString(pairs)
}

func stageLabel(n int) string {
	switch n {
	case 1:
		return "kickoff"
	case 2:
		return "regression"
	default:
		return "pre-release"
	}
}
