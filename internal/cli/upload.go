package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relohq/relo/internal/release"
	"github.com/relohq/relo/internal/service"
)

// newUploadCmd creates the upload command group
func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Stage manual build artifacts",
	}
	cmd.AddCommand(newUploadSubmitCmd())
	return cmd
}

func newUploadSubmitCmd() *cobra.Command {
	var (
		platform string
		stage    string
		path     string
		actor    string
	)
	cmd := &cobra.Command{
		Use:   "submit <release-id>",
		Short: "Submit a hand-built artifact for a release stage",
		Long: `Submit a hand-built artifact for a release stage.

For releases created with --manual-uploads, build tasks wait for an
artifact per platform instead of triggering CI. Submitting the last
missing platform completes the waiting task.

Example:
  relo upload submit rel-123 --platform android \
    --stage regression --path builds/app-7.0.0.aab`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			uploadStage, err := parseUploadStage(stage)
			if err != nil {
				return err
			}
			up, err := svc.SubmitUpload(cmd.Context(), service.UploadParams{
				ReleaseID:    args[0],
				Platform:     release.Platform(strings.ToUpper(platform)),
				Stage:        uploadStage,
				ArtifactPath: path,
				UploadedBy:   actor,
			})
			if err != nil {
				return err
			}
			fmt.Printf("✅ Staged %s artifact for %s (%s)\n", up.Platform, args[0], up.Stage)
			fmt.Printf("\nCheck progress with: relo release status %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "platform the artifact was built for")
	cmd.Flags().StringVar(&stage, "stage", "", "upload stage (kick_off, regression, pre_release)")
	cmd.Flags().StringVar(&path, "path", "", "artifact path, e.g. builds/app-7.0.0.aab")
	cmd.Flags().StringVar(&actor, "by", osUser(), "acting user")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func parseUploadStage(s string) (release.UploadStage, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "_")) {
	case "KICK_OFF", "KICKOFF":
		return release.UploadStageKickOff, nil
	case "REGRESSION":
		return release.UploadStageRegression, nil
	case "PRE_RELEASE":
		return release.UploadStagePreRelease, nil
	}
	return "", fmt.Errorf("unknown upload stage %q (want kick_off, regression or pre_release)", s)
}
