package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/relohq/relo/internal/config"
	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/provider/checkmate"
	"github.com/relohq/relo/internal/provider/github"
	"github.com/relohq/relo/internal/provider/gitlab"
	"github.com/relohq/relo/internal/provider/jenkins"
	"github.com/relohq/relo/internal/provider/jira"
	"github.com/relohq/relo/internal/provider/slack"
	"github.com/relohq/relo/internal/provider/store"
)

// buildRegistry assembles the provider registry from config. Only
// providers with credentials configured are registered; a release
// config that names anything else fails at execution time with a
// provider-not-registered error rather than a silent skip.
func buildRegistry(ctx context.Context, pcfg config.ProvidersConfig, logger *slog.Logger) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	if pcfg.GitHub.Token != "" {
		gh, err := github.New(github.Options{
			Token:         pcfg.GitHub.Token,
			BaseURL:       pcfg.GitHub.BaseURL,
			VerifyTimeout: pcfg.GitHub.VerifyTimeout.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("github provider: %w", err)
		}
		reg.RegisterSCM(gh)
		reg.RegisterCICD(gh)
	}

	if pcfg.GitLab.Token != "" {
		gl, err := gitlab.New(gitlab.Options{
			Token:   pcfg.GitLab.Token,
			BaseURL: pcfg.GitLab.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gitlab provider: %w", err)
		}
		reg.RegisterSCM(gl)
		reg.RegisterCICD(gl)
	}

	if pcfg.Jenkins.BaseURL != "" {
		jk, err := jenkins.New(jenkins.Options{
			BaseURL:      pcfg.Jenkins.BaseURL,
			User:         pcfg.Jenkins.User,
			APIToken:     pcfg.Jenkins.APIToken,
			ProbeTimeout: pcfg.Jenkins.ProbeTimeout.Std(),
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("jenkins provider: %w", err)
		}
		reg.RegisterCICD(jk)
	}

	if pcfg.Jira.BaseURL != "" {
		jr, err := jira.New(jira.Options{
			BaseURL:  pcfg.Jira.BaseURL,
			Email:    pcfg.Jira.Email,
			APIToken: pcfg.Jira.APIToken,
		})
		if err != nil {
			return nil, fmt.Errorf("jira provider: %w", err)
		}
		reg.RegisterProjectMgmt(jr)
	}

	if pcfg.Checkmate.BaseURL != "" {
		cm, err := checkmate.New(checkmate.Options{
			BaseURL: pcfg.Checkmate.BaseURL,
			APIKey:  pcfg.Checkmate.APIKey,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("checkmate provider: %w", err)
		}
		reg.RegisterTestMgmt(cm)
	}

	if pcfg.Slack.Token != "" {
		sl, err := slack.New(slack.Options{
			Token:          pcfg.Slack.Token,
			DefaultChannel: pcfg.Slack.DefaultChannel,
		})
		if err != nil {
			return nil, fmt.Errorf("slack provider: %w", err)
		}
		reg.RegisterNotifier(sl)
	}

	if pcfg.PlayStore.CredentialsFile != "" {
		play, err := store.NewPlay(ctx, store.PlayOptions{
			CredentialsFile: pcfg.PlayStore.CredentialsFile,
			PackageName:     pcfg.PlayStore.PackageName,
		})
		if err != nil {
			return nil, fmt.Errorf("play store provider: %w", err)
		}
		reg.RegisterStore(play)
	}

	if pcfg.AppStore.KeyID != "" {
		app, err := store.NewAppStore(store.AppStoreOptions{
			BaseURL:        pcfg.AppStore.BaseURL,
			KeyID:          pcfg.AppStore.KeyID,
			IssuerID:       pcfg.AppStore.IssuerID,
			PrivateKeyFile: pcfg.AppStore.PrivateKeyFile,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("app store provider: %w", err)
		}
		reg.RegisterStore(app)
	}

	return reg, nil
}

// verifier is the slice of a provider client that credential checks use.
type verifier interface {
	VerifyCredentials(ctx context.Context) error
}

type credentialProbe struct {
	name     string
	client   verifier
	buildErr error
}

func (p credentialProbe) run(ctx context.Context, timeout time.Duration) error {
	if p.buildErr != nil {
		return p.buildErr
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.client.VerifyCredentials(ctx)
}

// collectProbes builds one probe per configured provider. Construction
// failures are carried into the probe so one bad key file does not
// hide the state of the others.
func collectProbes(ctx context.Context, pcfg config.ProvidersConfig, logger *slog.Logger) []credentialProbe {
	var probes []credentialProbe

	if pcfg.GitHub.Token != "" {
		gh, err := github.New(github.Options{
			Token:         pcfg.GitHub.Token,
			BaseURL:       pcfg.GitHub.BaseURL,
			VerifyTimeout: pcfg.GitHub.VerifyTimeout.Std(),
		})
		probes = append(probes, credentialProbe{name: "github", client: gh, buildErr: err})
	}
	if pcfg.GitLab.Token != "" {
		gl, err := gitlab.New(gitlab.Options{
			Token:   pcfg.GitLab.Token,
			BaseURL: pcfg.GitLab.BaseURL,
		})
		probes = append(probes, credentialProbe{name: "gitlab", client: gl, buildErr: err})
	}
	if pcfg.Jenkins.BaseURL != "" {
		jk, err := jenkins.New(jenkins.Options{
			BaseURL:      pcfg.Jenkins.BaseURL,
			User:         pcfg.Jenkins.User,
			APIToken:     pcfg.Jenkins.APIToken,
			ProbeTimeout: pcfg.Jenkins.ProbeTimeout.Std(),
			Logger:       logger,
		})
		probes = append(probes, credentialProbe{name: "jenkins", client: jk, buildErr: err})
	}
	if pcfg.Jira.BaseURL != "" {
		jr, err := jira.New(jira.Options{
			BaseURL:  pcfg.Jira.BaseURL,
			Email:    pcfg.Jira.Email,
			APIToken: pcfg.Jira.APIToken,
		})
		probes = append(probes, credentialProbe{name: "jira", client: jr, buildErr: err})
	}
	if pcfg.Checkmate.BaseURL != "" {
		cm, err := checkmate.New(checkmate.Options{
			BaseURL: pcfg.Checkmate.BaseURL,
			APIKey:  pcfg.Checkmate.APIKey,
			Logger:  logger,
		})
		probes = append(probes, credentialProbe{name: "checkmate", client: cm, buildErr: err})
	}
	if pcfg.Slack.Token != "" {
		sl, err := slack.New(slack.Options{
			Token:          pcfg.Slack.Token,
			DefaultChannel: pcfg.Slack.DefaultChannel,
		})
		probes = append(probes, credentialProbe{name: "slack", client: sl, buildErr: err})
	}
	if pcfg.PlayStore.CredentialsFile != "" {
		play, err := store.NewPlay(ctx, store.PlayOptions{
			CredentialsFile: pcfg.PlayStore.CredentialsFile,
			PackageName:     pcfg.PlayStore.PackageName,
		})
		probes = append(probes, credentialProbe{name: "play-store", client: play, buildErr: err})
	}
	if pcfg.AppStore.KeyID != "" {
		app, err := store.NewAppStore(store.AppStoreOptions{
			BaseURL:        pcfg.AppStore.BaseURL,
			KeyID:          pcfg.AppStore.KeyID,
			IssuerID:       pcfg.AppStore.IssuerID,
			PrivateKeyFile: pcfg.AppStore.PrivateKeyFile,
			Logger:         logger,
		})
		probes = append(probes, credentialProbe{name: "app-store", client: app, buildErr: err})
	}

	return probes
}

// newProvidersCmd creates the providers command group
func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and verify configured providers",
	}
	cmd.AddCommand(newProvidersListCmd())
	cmd.AddCommand(newProvidersVerifyCmd())
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered provider capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			reg, err := buildRegistry(cmd.Context(), cfg.Providers, newLogger())
			if err != nil {
				return err
			}
			keys := reg.Registered()
			if len(keys) == 0 {
				fmt.Println("No providers configured. Add credentials under 'providers:' in relo.yaml.")
				return nil
			}
			fmt.Println("Registered providers:")
			for _, k := range keys {
				fmt.Printf("  %s\n", k)
			}
			return nil
		},
	}
}

func newProvidersVerifyCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify credentials for every configured provider",
		Long: `Verify credentials for every configured provider.

Each provider with credentials in the config gets one live probe:
SCMs fetch the authenticated user, CI systems hit their status
endpoint, stores request a token. Exit status is non-zero if any
probe fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			probes := collectProbes(cmd.Context(), cfg.Providers, newLogger())
			if len(probes) == 0 {
				fmt.Println("No providers configured. Add credentials under 'providers:' in relo.yaml.")
				return nil
			}

			failed := 0
			for _, p := range probes {
				if err := p.run(cmd.Context(), timeout); err != nil {
					failed++
					fmt.Printf("❌ %-11s %v\n", p.name, err)
				} else {
					fmt.Printf("✅ %-11s credentials OK\n", p.name)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d providers failed verification", failed, len(probes))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "per-provider probe timeout")
	return cmd
}
