// Package cli implements the relo command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relohq/relo/internal/callback"
	"github.com/relohq/relo/internal/config"
	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/db/driver"
	"github.com/relohq/relo/internal/service"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relo",
	Short: "Release train orchestrator",
	Long: `relo drives app release trains through kickoff, regression and
pre-release: forking release branches, triggering CI builds, opening
test cycles and tracking store uploads on a per-release cron.

Quick start:
  relo release create --branch release/7.0.0 ...   Plan a release train
  relo release start <release-id>                  Arm the release cron
  relo serve                                       Run the orchestrator
  relo release status <release-id>                 Inspect progress`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		PrintError(err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is relo.yaml, then ~/.relo/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReleaseCmd())
	rootCmd.AddCommand(newStageCmd())
	rootCmd.AddCommand(newTaskCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newProvidersCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.relo")
		viper.SetConfigType("yaml")
		viper.SetConfigName("relo")
	}

	viper.SetEnvPrefix("RELO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// newLogger builds the CLI logger: text on a terminal, JSON otherwise.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonOut || !isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the configured database and applies migrations.
func openStore(cfg *config.Config) (*db.Store, error) {
	if cfg.Database.Driver == "postgres" {
		return db.OpenStoreWithDialect(cfg.DSN(), driver.DialectPostgres)
	}
	return db.OpenStore(cfg.Database.Path)
}

// openService opens the store and builds the service for one-shot
// commands. Runner starts and poll-job changes requested here are
// recorded in cron state; the daemon picks them up on its next
// reconcile pass.
func openService() (*service.Service, *db.Store, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger()
	svc := service.New(service.Options{
		Store:  store,
		Agg:    callback.New(store, nil, logger),
		Logger: logger,
	})
	return svc, store, func() { _ = store.Close() }, nil
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show relo version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relo version 0.3.0-dev")
		},
	}
}
