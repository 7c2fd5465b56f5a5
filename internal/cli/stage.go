package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relohq/relo/internal/service"
)

// newStageCmd creates the stage command group
func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Trigger stage transitions",
	}
	cmd.AddCommand(newStageTrigger2Cmd())
	cmd.AddCommand(newStageTrigger3Cmd())
	return cmd
}

func newStageTrigger2Cmd() *cobra.Command {
	var (
		tenant string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "trigger2 <release-id>",
		Short: "Enter the regression stage",
		Long: `Enter the regression stage.

Kickoff must be complete and the cron waiting on a stage trigger.
Releases created with --auto-stage2 transition on their own and do
not need this command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := svc.TriggerStage2(cmd.Context(), args[0], tenant, actor)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Regression stage armed for release %s (cron: %s)\n", args[0], job.CronStatus)
			fmt.Printf("\nWatch it with: relo release status %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "owning tenant ID")
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newStageTrigger3Cmd() *cobra.Command {
	var (
		tenant     string
		approvedBy string
		comments   string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "trigger3 <release-id>",
		Short: "Approve the release into pre-release",
		Long: `Approve the release into pre-release.

Refused while cherry-pick checks are failing or regression cycles are
still open; --force overrides both checks. The approval is recorded on
the release approval task.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := svc.TriggerStage3(cmd.Context(), args[0], tenant, service.TriggerStage3Params{
				ApprovedBy:   approvedBy,
				Comments:     comments,
				ForceApprove: force,
			})
			if err != nil {
				return err
			}
			fmt.Printf("✅ Pre-release stage armed for release %s (cron: %s)\n", args[0], job.CronStatus)
			if force {
				fmt.Println("⚠️  Cherry-pick and cycle checks were bypassed with --force.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "owning tenant ID")
	cmd.Flags().StringVar(&approvedBy, "approved-by", osUser(), "approver recorded on the approval task")
	cmd.Flags().StringVar(&comments, "comments", "", "approval comments")
	cmd.Flags().BoolVar(&force, "force", false, "bypass cherry-pick and cycle checks")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
