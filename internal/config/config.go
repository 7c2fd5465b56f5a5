// Package config provides configuration management for relo.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// ReloDir is the relo configuration directory
	ReloDir = ".relo"
	// ProjectConfigFile is the per-project config looked up in the
	// working directory when --config is not given.
	ProjectConfigFile = "relo.yaml"
)

// Duration wraps time.Duration so YAML configs accept "30s" strings.
// Plain integers are read as nanoseconds for compatibility.
type Duration time.Duration

// UnmarshalYAML handles parsing durations from string or integer form.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// Postgres holds connection settings when driver is postgres.
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds a connection string for the pgx stdlib driver.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

// SchedulerConfig tunes the per-release cron runners.
type SchedulerConfig struct {
	// TickInterval is how often each release runner evaluates its
	// state machine.
	TickInterval Duration `yaml:"tick_interval"`

	// SlotWindow widens wall-clock slot matching: a kickoff time or
	// regression slot is due from slot-window onward.
	SlotWindow Duration `yaml:"slot_window"`
}

// PollerConfig tunes the build workflow pollers.
type PollerConfig struct {
	// PendingInterval is the cadence for resolving queued builds.
	PendingInterval Duration `yaml:"pending_interval"`

	// RunningInterval is the cadence for tracking started builds.
	RunningInterval Duration `yaml:"running_interval"`
}

// GitHubConfig configures the GitHub SCM/CI provider.
type GitHubConfig struct {
	Token string `yaml:"token,omitempty"`
	// BaseURL points at a GitHub Enterprise instance; empty means
	// github.com.
	BaseURL string `yaml:"base_url,omitempty"`
	// VerifyTimeout bounds credential verification probes.
	VerifyTimeout Duration `yaml:"verify_timeout"`
}

// GitLabConfig configures the GitLab SCM provider.
type GitLabConfig struct {
	Token   string `yaml:"token,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// JenkinsConfig configures the Jenkins CI provider.
type JenkinsConfig struct {
	BaseURL  string `yaml:"base_url,omitempty"`
	User     string `yaml:"user,omitempty"`
	APIToken string `yaml:"api_token,omitempty"`
	// ProbeTimeout bounds queue and build status requests.
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// JiraConfig configures the Jira project management provider.
type JiraConfig struct {
	BaseURL  string `yaml:"base_url,omitempty"`
	Email    string `yaml:"email,omitempty"`
	APIToken string `yaml:"api_token,omitempty"`
}

// CheckmateConfig configures the test management provider.
type CheckmateConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// SlackConfig configures the notification provider.
type SlackConfig struct {
	Token string `yaml:"token,omitempty"`
	// DefaultChannel receives messages when a release config names
	// no channels.
	DefaultChannel string `yaml:"default_channel,omitempty"`
}

// PlayStoreConfig configures Google Play publishing.
type PlayStoreConfig struct {
	// CredentialsFile is a service account JSON key.
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	PackageName     string `yaml:"package_name,omitempty"`
}

// AppStoreConfig configures App Store Connect access.
type AppStoreConfig struct {
	BaseURL  string `yaml:"base_url,omitempty"`
	KeyID    string `yaml:"key_id,omitempty"`
	IssuerID string `yaml:"issuer_id,omitempty"`
	// PrivateKeyFile is the .p8 API key.
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
	BundleID       string `yaml:"bundle_id,omitempty"`
}

// ProvidersConfig holds credentials and endpoints for every provider
// the installation talks to. Providers with empty config are simply
// not registered.
type ProvidersConfig struct {
	GitHub    GitHubConfig    `yaml:"github"`
	GitLab    GitLabConfig    `yaml:"gitlab"`
	Jenkins   JenkinsConfig   `yaml:"jenkins"`
	Jira      JiraConfig      `yaml:"jira"`
	Checkmate CheckmateConfig `yaml:"checkmate"`
	Slack     SlackConfig     `yaml:"slack"`
	PlayStore PlayStoreConfig `yaml:"play_store"`
	AppStore  AppStoreConfig  `yaml:"app_store"`
}

// Config represents the relo configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pollers   PollerConfig    `yaml:"pollers"`
	Providers ProvidersConfig `yaml:"providers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(ReloDir, "relo.db"),
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval: Duration(30 * time.Second),
			SlotWindow:   Duration(5 * time.Minute),
		},
		Pollers: PollerConfig{
			PendingInterval: Duration(15 * time.Second),
			RunningInterval: Duration(30 * time.Second),
		},
		Providers: ProvidersConfig{
			GitHub:  GitHubConfig{VerifyTimeout: Duration(10 * time.Second)},
			Jenkins: JenkinsConfig{ProbeTimeout: Duration(10 * time.Second)},
		},
	}
}

// Validate checks the configuration for consistency and falls back to
// defaults for unset tunables.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite":
		c.Database.Driver = "sqlite"
		if c.Database.Path == "" {
			c.Database.Path = filepath.Join(ReloDir, "relo.db")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres driver requires database.postgres.host and database.postgres.database")
		}
	default:
		return fmt.Errorf("unknown database driver %q (want sqlite or postgres)", c.Database.Driver)
	}

	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = Duration(30 * time.Second)
	}
	if c.Scheduler.SlotWindow <= 0 {
		c.Scheduler.SlotWindow = Duration(5 * time.Minute)
	}
	if c.Pollers.PendingInterval <= 0 {
		c.Pollers.PendingInterval = Duration(15 * time.Second)
	}
	if c.Pollers.RunningInterval <= 0 {
		c.Pollers.RunningInterval = Duration(30 * time.Second)
	}
	return nil
}

// DSN returns the database connection string for the configured driver.
func (c *Config) DSN() string {
	if c.Database.Driver == "postgres" {
		return c.Database.Postgres.DSN()
	}
	return c.Database.Path
}
