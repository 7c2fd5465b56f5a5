package engine

import (
	"time"

	"github.com/relohq/relo/internal/db"
)

// Clock supplies wall-clock time. Tests inject fixed clocks so slot
// matching is deterministic.
type Clock func() time.Time

// due reports whether a scheduled time has arrived. The window widens
// the match so a tick landing shortly before the slot still catches it;
// past slots stay due until handled.
func due(now, slot time.Time, window time.Duration) bool {
	return !slot.After(now.Add(window))
}

// kickoffDue reports whether the release's kickoff time has arrived.
func kickoffDue(rel *db.Release, now time.Time, window time.Duration) bool {
	return due(now, rel.KickOffDate, window)
}

// reminderDue reports whether the pre-kickoff reminder should fire. With
// no configured reminder time it fires together with the kickoff.
func reminderDue(rel *db.Release, job *db.CronJob, now time.Time, window time.Duration) bool {
	if job.Config.ReminderAt != nil {
		return due(now, *job.Config.ReminderAt, window)
	}
	return kickoffDue(rel, now, window)
}
