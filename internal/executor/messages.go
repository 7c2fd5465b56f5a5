package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/relohq/relo/internal/notify"
)

const messageDateFormat = "Mon, Jan 2 2006"

// kickoffReminderMessage renders the notification sent ahead of kick-off.
func kickoffReminderMessage(ec *Context) (string, error) {
	vars := map[string]string{
		"version":        versionString(ec.Mappings),
		"kickoff_date":   ec.Release.KickOffDate.Format(messageDateFormat),
		"release_branch": ec.Release.ReleaseBranch,
		"base_branch":    ec.Release.BaseBranch,
	}
	if !ec.Release.TargetReleaseDate.IsZero() {
		vars["target_line"] = "\nTarget release date: " + ec.Release.TargetReleaseDate.Format(messageDateFormat) + "."
	}
	if ec.Release.ReleasePilot != "" {
		vars["pilot_line"] = "\nRelease pilot: " + ec.Release.ReleasePilot + "."
	}
	return notify.Render(notify.KeyKickoffReminder, vars)
}

// completionMessage renders the announcement posted by the ad-hoc
// notification task: operator text stored on the task when present,
// otherwise the release-complete template.
func completionMessage(ec *Context) (string, error) {
	version := versionString(ec.Mappings)
	if text := strings.TrimSpace(ec.Task.ExternalData); text != "" {
		return notify.Render(notify.KeyAdHoc, map[string]string{
			"version": version,
			"text":    text,
		})
	}

	when := time.Now()
	if ec.Release.ReleaseDate != nil {
		when = *ec.Release.ReleaseDate
	}
	return notify.Render(notify.KeyReleaseComplete, map[string]string{
		"version":      version,
		"shipped_date": when.Format(messageDateFormat),
	})
}

// ticketDescription is the body of the release ticket.
func ticketDescription(ec *Context, version string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Release train %s.\n", version)
	fmt.Fprintf(&b, "Branch: %s (from %s)\n", ec.Release.ReleaseBranch, ec.Release.BaseBranch)
	fmt.Fprintf(&b, "Kick-off: %s\n", ec.Release.KickOffDate.Format(messageDateFormat))
	if !ec.Release.TargetReleaseDate.IsZero() {
		fmt.Fprintf(&b, "Target release: %s\n", ec.Release.TargetReleaseDate.Format(messageDateFormat))
	}
	if ec.Release.ReleasePilot != "" {
		fmt.Fprintf(&b, "Pilot: %s\n", ec.Release.ReleasePilot)
	}
	return b.String()
}
