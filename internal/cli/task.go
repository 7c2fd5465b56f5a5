package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newTaskCmd creates the task command group
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Operate on individual release tasks",
	}
	cmd.AddCommand(newTaskRetryCmd())
	return cmd
}

func newTaskRetryCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Retry a failed task",
		Long: `Retry a failed task.

Resets the task to PENDING, discards its failed CI builds and lifts
the task-failure pause so the cron picks the task up again on its
next tick.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			task, err := svc.RetryTask(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Task %s reset to %s\n", args[0], task.Status)
			fmt.Printf("\nWatch it with: relo release status %s\n", task.ReleaseID)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	return cmd
}
