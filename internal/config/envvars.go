package config

import (
	"os"
	"sort"
	"strconv"
	"time"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	"RELO_DB_DRIVER":   "database.driver",
	"RELO_DB_PATH":     "database.path",
	"RELO_DB_HOST":     "database.postgres.host",
	"RELO_DB_PORT":     "database.postgres.port",
	"RELO_DB_NAME":     "database.postgres.database",
	"RELO_DB_USER":     "database.postgres.user",
	"RELO_DB_PASSWORD": "database.postgres.password",
	"RELO_DB_SSL_MODE": "database.postgres.ssl_mode",

	"RELO_TICK_INTERVAL": "scheduler.tick_interval",
	"RELO_SLOT_WINDOW":   "scheduler.slot_window",

	"RELO_POLL_PENDING_INTERVAL": "pollers.pending_interval",
	"RELO_POLL_RUNNING_INTERVAL": "pollers.running_interval",

	"RELO_GITHUB_TOKEN":       "providers.github.token",
	"RELO_GITHUB_BASE_URL":    "providers.github.base_url",
	"RELO_GITLAB_TOKEN":       "providers.gitlab.token",
	"RELO_GITLAB_BASE_URL":    "providers.gitlab.base_url",
	"RELO_JENKINS_URL":        "providers.jenkins.base_url",
	"RELO_JENKINS_USER":       "providers.jenkins.user",
	"RELO_JENKINS_TOKEN":      "providers.jenkins.api_token",
	"RELO_JIRA_URL":           "providers.jira.base_url",
	"RELO_JIRA_EMAIL":         "providers.jira.email",
	"RELO_JIRA_TOKEN":         "providers.jira.api_token",
	"RELO_CHECKMATE_URL":      "providers.checkmate.base_url",
	"RELO_CHECKMATE_API_KEY":  "providers.checkmate.api_key",
	"RELO_SLACK_TOKEN":        "providers.slack.token",
	"RELO_SLACK_CHANNEL":      "providers.slack.default_channel",
	"RELO_PLAY_CREDENTIALS":   "providers.play_store.credentials_file",
	"RELO_PLAY_PACKAGE":       "providers.play_store.package_name",
	"RELO_APP_STORE_KEY_ID":   "providers.app_store.key_id",
	"RELO_APP_STORE_ISSUER":   "providers.app_store.issuer_id",
	"RELO_APP_STORE_KEY_FILE": "providers.app_store.private_key_file",
	"RELO_APP_STORE_BUNDLE":   "providers.app_store.bundle_id",
}

// ApplyEnvVars applies environment variable overrides to a Config.
// Returns the sorted list of config paths that were overridden.
func ApplyEnvVars(cfg *Config) []string {
	var overridden []string

	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		if setConfigValue(cfg, configPath, value) {
			overridden = append(overridden, configPath)
		}
	}

	sort.Strings(overridden)
	return overridden
}

// setConfigValue assigns a raw string to the config field at path.
// Returns false when the value cannot be parsed for the field type.
func setConfigValue(cfg *Config, path, value string) bool {
	switch path {
	case "database.driver":
		cfg.Database.Driver = value
	case "database.path":
		cfg.Database.Path = value
	case "database.postgres.host":
		cfg.Database.Postgres.Host = value
	case "database.postgres.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.Database.Postgres.Port = port
	case "database.postgres.database":
		cfg.Database.Postgres.Database = value
	case "database.postgres.user":
		cfg.Database.Postgres.User = value
	case "database.postgres.password":
		cfg.Database.Postgres.Password = value
	case "database.postgres.ssl_mode":
		cfg.Database.Postgres.SSLMode = value

	case "scheduler.tick_interval":
		return setDuration(&cfg.Scheduler.TickInterval, value)
	case "scheduler.slot_window":
		return setDuration(&cfg.Scheduler.SlotWindow, value)
	case "pollers.pending_interval":
		return setDuration(&cfg.Pollers.PendingInterval, value)
	case "pollers.running_interval":
		return setDuration(&cfg.Pollers.RunningInterval, value)

	case "providers.github.token":
		cfg.Providers.GitHub.Token = value
	case "providers.github.base_url":
		cfg.Providers.GitHub.BaseURL = value
	case "providers.gitlab.token":
		cfg.Providers.GitLab.Token = value
	case "providers.gitlab.base_url":
		cfg.Providers.GitLab.BaseURL = value
	case "providers.jenkins.base_url":
		cfg.Providers.Jenkins.BaseURL = value
	case "providers.jenkins.user":
		cfg.Providers.Jenkins.User = value
	case "providers.jenkins.api_token":
		cfg.Providers.Jenkins.APIToken = value
	case "providers.jira.base_url":
		cfg.Providers.Jira.BaseURL = value
	case "providers.jira.email":
		cfg.Providers.Jira.Email = value
	case "providers.jira.api_token":
		cfg.Providers.Jira.APIToken = value
	case "providers.checkmate.base_url":
		cfg.Providers.Checkmate.BaseURL = value
	case "providers.checkmate.api_key":
		cfg.Providers.Checkmate.APIKey = value
	case "providers.slack.token":
		cfg.Providers.Slack.Token = value
	case "providers.slack.default_channel":
		cfg.Providers.Slack.DefaultChannel = value
	case "providers.play_store.credentials_file":
		cfg.Providers.PlayStore.CredentialsFile = value
	case "providers.play_store.package_name":
		cfg.Providers.PlayStore.PackageName = value
	case "providers.app_store.key_id":
		cfg.Providers.AppStore.KeyID = value
	case "providers.app_store.issuer_id":
		cfg.Providers.AppStore.IssuerID = value
	case "providers.app_store.private_key_file":
		cfg.Providers.AppStore.PrivateKeyFile = value
	case "providers.app_store.bundle_id":
		cfg.Providers.AppStore.BundleID = value
	default:
		return false
	}
	return true
}

func setDuration(dst *Duration, value string) bool {
	d, err := time.ParseDuration(value)
	if err != nil {
		return false
	}
	*dst = Duration(d)
	return true
}
