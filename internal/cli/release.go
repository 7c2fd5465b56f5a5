package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/release"
	"github.com/relohq/relo/internal/service"
)

// newReleaseCmd creates the release command group
func newReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Create and drive release trains",
	}
	cmd.AddCommand(newReleaseCreateCmd())
	cmd.AddCommand(newReleaseListCmd())
	cmd.AddCommand(newReleaseStatusCmd())
	cmd.AddCommand(newReleaseStartCmd())
	cmd.AddCommand(newReleaseStopCmd())
	cmd.AddCommand(newReleasePauseCmd())
	cmd.AddCommand(newReleaseResumeCmd())
	cmd.AddCommand(newReleaseArchiveCmd())
	return cmd
}

func newReleaseCreateCmd() *cobra.Command {
	var (
		tenant        string
		branch        string
		base          string
		relType       string
		kickoff       string
		target        string
		releaseConfig string
		pilot         string
		createdBy     string
		manualUploads bool
		mappings      []string
		slots         []string
		autoStage2    bool
		autoStage3    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Plan a new release train",
		Long: `Plan a new release train.

Platform mappings bind each platform to a store target and version,
written as PLATFORM:TARGET:VERSION. Regression slots are wall-clock
times at which the regression stage opens a test cycle.

Example:
  relo release create --tenant acme --branch release/7.0.0 \
    --release-config cfg-mobile --target 2026-09-12 \
    --mapping android:play_store:7.0.0 --mapping ios:app_store:7.0.0 \
    --slot "2026-09-01 02:00" --slot "2026-09-05 02:00"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			kickoffAt := time.Now()
			if kickoff != "" {
				kickoffAt, err = parseTime(kickoff)
				if err != nil {
					return fmt.Errorf("parse --kickoff: %w", err)
				}
			}
			targetAt, err := parseTime(target)
			if err != nil {
				return fmt.Errorf("parse --target: %w", err)
			}

			params := service.CreateReleaseParams{
				TenantID:             tenant,
				ReleaseBranch:        branch,
				BaseBranch:           base,
				Type:                 release.Type(strings.ToUpper(relType)),
				KickOffDate:          kickoffAt,
				TargetReleaseDate:    targetAt,
				ReleaseConfigID:      releaseConfig,
				HasManualBuildUpload: manualUploads,
				CreatedBy:            createdBy,
				ReleasePilot:         pilot,
				AutoTransitionStage2: autoStage2,
				AutoTransitionStage3: autoStage3,
			}
			for _, m := range mappings {
				spec, err := parseMapping(m)
				if err != nil {
					return err
				}
				params.Mappings = append(params.Mappings, spec)
			}
			for _, s := range slots {
				at, err := parseTime(s)
				if err != nil {
					return fmt.Errorf("parse --slot %q: %w", s, err)
				}
				params.UpcomingRegressions = append(params.UpcomingRegressions,
					release.RegressionSlot{SlotTime: at})
			}

			rel, err := svc.CreateRelease(cmd.Context(), params)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Created release %s (%s)\n", rel.ReleaseBranch, rel.ID)
			fmt.Printf("   Kickoff: %s   Target: %s\n",
				rel.KickOffDate.Format("2006-01-02 15:04"),
				rel.TargetReleaseDate.Format("2006-01-02"))
			fmt.Printf("\nStart it with: relo release start %s\n", rel.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "owning tenant ID")
	cmd.Flags().StringVar(&branch, "branch", "", "release branch to fork, e.g. release/7.0.0")
	cmd.Flags().StringVar(&base, "base", "develop", "base branch to fork from")
	cmd.Flags().StringVar(&relType, "type", string(release.TypePlanned), "release type (PLANNED, HOTFIX, MAJOR, MINOR)")
	cmd.Flags().StringVar(&kickoff, "kickoff", "", "kickoff time (default now)")
	cmd.Flags().StringVar(&target, "target", "", "target release date")
	cmd.Flags().StringVar(&releaseConfig, "release-config", "", "release config ID")
	cmd.Flags().StringVar(&pilot, "pilot", "", "release pilot (account ID)")
	cmd.Flags().StringVar(&createdBy, "by", osUser(), "acting user")
	cmd.Flags().BoolVar(&manualUploads, "manual-uploads", false, "builds are uploaded by hand instead of by CI")
	cmd.Flags().StringArrayVar(&mappings, "mapping", nil, "platform mapping PLATFORM:TARGET:VERSION (repeatable)")
	cmd.Flags().StringArrayVar(&slots, "slot", nil, "regression slot time (repeatable)")
	cmd.Flags().BoolVar(&autoStage2, "auto-stage2", false, "enter regression without a manual trigger")
	cmd.Flags().BoolVar(&autoStage3, "auto-stage3", false, "enter pre-release without a manual trigger")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("branch")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("release-config")

	return cmd
}

func newReleaseListCmd() *cobra.Command {
	var (
		tenant  string
		status  string
		relType string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			releases, err := store.ListReleases(db.ReleaseListOpts{
				TenantID: tenant,
				Status:   release.Status(strings.ToUpper(status)),
				Type:     release.Type(strings.ToUpper(relType)),
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(releases)
			}
			if len(releases) == 0 {
				fmt.Println("No releases found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBRANCH\tTYPE\tSTATUS\tKICKOFF\tTARGET")
			fmt.Fprintln(w, "──\t──────\t────\t──────\t───────\t──────")
			for _, r := range releases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s\t%s\n",
					r.ID,
					truncate(r.ReleaseBranch, 28),
					r.Type,
					statusIcon(r.Status), r.Status,
					r.KickOffDate.Format("2006-01-02"),
					r.TargetReleaseDate.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&relType, "type", "", "filter by type")
	return cmd
}

func newReleaseStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <release-id>",
		Short: "Show release progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			ov, err := svc.GetReleaseOverview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(ov)
			}
			printOverview(ov)
			return nil
		},
	}
}

func printOverview(ov *service.Overview) {
	rel, job := ov.Release, ov.CronJob

	fmt.Printf("Release %s (%s)\n", rel.ReleaseBranch, rel.ID)
	fmt.Printf("  Tenant:   %s\n", rel.TenantID)
	fmt.Printf("  Type:     %s   Status: %s %s\n", rel.Type, statusIcon(rel.Status), rel.Status)
	fmt.Printf("  Versions: %s\n", ov.Version)
	fmt.Printf("  Kickoff:  %s   Target: %s\n",
		rel.KickOffDate.Format("2006-01-02 15:04"),
		rel.TargetReleaseDate.Format("2006-01-02"))
	if job != nil {
		fmt.Printf("  Cron:     %s   Pause: %s\n", job.CronStatus, job.PauseType)
		fmt.Printf("  Stages:   kickoff %s · regression %s · pre-release %s\n",
			job.Stage1Status, job.Stage2Status, job.Stage3Status)
		if n := len(job.UpcomingRegressions); n > 0 {
			next := job.UpcomingRegressions[0].SlotTime
			fmt.Printf("  Slots:    %d upcoming, next %s\n", n, next.Format("2006-01-02 15:04"))
		}
	}

	if len(ov.Tasks) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTAGE\tSTATUS\tCYCLE")
		fmt.Fprintln(w, "────\t─────\t──────\t─────")
		for _, t := range ov.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n",
				truncate(string(t.Type), 36),
				t.Stage,
				taskIcon(t.Status), t.Status,
				t.RegressionCycleID)
		}
		w.Flush()
	}

	if len(ov.Cycles) > 0 {
		fmt.Println()
		fmt.Println("Regression cycles:")
		for _, c := range ov.Cycles {
			marker := " "
			if c.IsLatest {
				marker = "*"
			}
			fmt.Printf("  %s cycle %d  %s\n", marker, c.CycleTag, c.Status)
		}
	}

	if len(ov.Builds) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "BUILD\tPLATFORM\tWORKFLOW\tUPLOAD")
		fmt.Fprintln(w, "─────\t────────\t────────\t──────")
		for _, b := range ov.Builds {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				truncate(b.ID, 12), b.Platform, b.WorkflowStatus, b.UploadStatus)
		}
		w.Flush()
	}

	if unused := countUnusedUploads(ov.Uploads); unused > 0 {
		fmt.Printf("\n%d staged upload(s) waiting to be applied.\n", unused)
	}
}

func countUnusedUploads(uploads []*db.ReleaseUpload) int {
	n := 0
	for _, u := range uploads {
		if !u.IsUsed {
			n++
		}
	}
	return n
}

func newReleaseStartCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "start <release-id>",
		Short: "Arm the release cron and begin kickoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := svc.StartCronJob(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Cron %s for release %s\n", job.CronStatus, args[0])
			fmt.Println("   The daemon picks it up on its next reconcile pass (relo serve).")
			fmt.Printf("\nWatch it with: relo release status %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	return cmd
}

func newReleaseStopCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "stop <release-id>",
		Short: "Stop the release cron",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := svc.StopCronJob(cmd.Context(), args[0], actor); err != nil {
				return err
			}
			fmt.Printf("🛑 Cron stopped for release %s\n", args[0])
			fmt.Printf("\nResume with: relo release start %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	return cmd
}

func newReleasePauseCmd() *cobra.Command {
	var (
		tenant string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "pause <release-id>",
		Short: "Pause a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := svc.PauseRelease(cmd.Context(), args[0], tenant, actor)
			if err != nil {
				return err
			}
			fmt.Printf("⏸️  Paused release %s (pause: %s)\n", args[0], job.PauseType)
			fmt.Printf("\nResume with: relo release resume %s --tenant %s\n", args[0], tenant)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "owning tenant ID")
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newReleaseResumeCmd() *cobra.Command {
	var (
		tenant string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "resume <release-id>",
		Short: "Resume a user-paused release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := svc.ResumeRelease(cmd.Context(), args[0], tenant, actor)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Resumed release %s (cron: %s)\n", args[0], job.CronStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "owning tenant ID")
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newReleaseArchiveCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "archive <release-id>",
		Short: "Archive a release and tear down its runners",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.ArchiveRelease(cmd.Context(), args[0], actor); err != nil {
				return err
			}
			fmt.Printf("✅ Archived release %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	return cmd
}

// Helper functions

// parseMapping parses PLATFORM:TARGET:VERSION, e.g.
// "android:play_store:7.0.0".
func parseMapping(s string) (service.MappingSpec, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return service.MappingSpec{}, fmt.Errorf("mapping %q: want PLATFORM:TARGET:VERSION", s)
	}
	return service.MappingSpec{
		Platform: release.Platform(strings.ToUpper(parts[0])),
		Target:   release.Target(strings.ToUpper(parts[1])),
		Version:  parts[2],
	}, nil
}

// parseTime accepts RFC3339, "2006-01-02 15:04" and bare dates.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func osUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusIcon(status release.Status) string {
	switch status {
	case release.StatusInProgress:
		return "⏳"
	case release.StatusPaused:
		return "⏸️"
	case release.StatusCompleted:
		return "✅"
	case release.StatusArchived:
		return "📦"
	default:
		return "❓"
	}
}

func taskIcon(status release.TaskStatus) string {
	switch status {
	case release.TaskPending:
		return "📝"
	case release.TaskInProgress:
		return "⏳"
	case release.TaskAwaitingCallback, release.TaskAwaitingManualBuild:
		return "📡"
	case release.TaskCompleted:
		return "✅"
	case release.TaskFailed:
		return "❌"
	case release.TaskSkipped:
		return "⏭️"
	default:
		return "❓"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
