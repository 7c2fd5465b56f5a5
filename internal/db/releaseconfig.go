package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relohq/relo/internal/release"
)

// ReleaseConfig names the integrations a release train talks to: which
// SCM holds the repo, which CI system builds it, where tickets and test
// suites live, and where notifications go. Releases reference a config
// so trains for the same product share one wiring.
type ReleaseConfig struct {
	ID       string
	TenantID string
	Name     string

	SCMProvider string
	SCMRepo     string

	CIProvider release.CIRunType
	CIConfigID string
	// BuildWorkflows maps a platform to the CI workflow/job that builds it.
	BuildWorkflows map[release.Platform]string

	PMProvider string
	// PMProjects maps a platform to its project management project key.
	PMProjects map[release.Platform]string

	TestProvider string
	TestMgmtID   string

	NotifyProvider string
	// NotificationChannels receive release announcements and reminders.
	NotificationChannels []string

	// StoreConfigs maps a distribution target to its app identifier
	// (package name, bundle ID).
	StoreConfigs map[release.Target]string

	DefaultToggles release.CronConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}

const releaseConfigColumns = `id, tenant_id, name, scm_provider, scm_repo, ci_provider, ci_config_id,
		pm_provider, pm_projects, test_provider, test_mgmt_id, notify_provider,
		notification_channels, build_workflows, store_configs, default_toggles,
		created_at, updated_at`

// SaveReleaseConfig creates or updates a release config.
func (s *Store) SaveReleaseConfig(c *ReleaseConfig) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	pmProjects, err := marshalOrEmptyObject(c.PMProjects)
	if err != nil {
		return fmt.Errorf("marshal pm projects: %w", err)
	}
	channels, err := marshalOrEmptyArray(c.NotificationChannels)
	if err != nil {
		return fmt.Errorf("marshal notification channels: %w", err)
	}
	workflows, err := marshalOrEmptyObject(c.BuildWorkflows)
	if err != nil {
		return fmt.Errorf("marshal build workflows: %w", err)
	}
	stores, err := marshalOrEmptyObject(c.StoreConfigs)
	if err != nil {
		return fmt.Errorf("marshal store configs: %w", err)
	}
	toggles, err := json.Marshal(c.DefaultToggles)
	if err != nil {
		return fmt.Errorf("marshal default toggles: %w", err)
	}

	_, err = s.Exec(`
		INSERT INTO release_configs (`+releaseConfigColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scm_provider = excluded.scm_provider,
			scm_repo = excluded.scm_repo,
			ci_provider = excluded.ci_provider,
			ci_config_id = excluded.ci_config_id,
			pm_provider = excluded.pm_provider,
			pm_projects = excluded.pm_projects,
			test_provider = excluded.test_provider,
			test_mgmt_id = excluded.test_mgmt_id,
			notify_provider = excluded.notify_provider,
			notification_channels = excluded.notification_channels,
			build_workflows = excluded.build_workflows,
			store_configs = excluded.store_configs,
			default_toggles = excluded.default_toggles,
			updated_at = excluded.updated_at
	`,
		c.ID,
		c.TenantID,
		c.Name,
		c.SCMProvider,
		c.SCMRepo,
		string(c.CIProvider),
		c.CIConfigID,
		c.PMProvider,
		pmProjects,
		c.TestProvider,
		c.TestMgmtID,
		c.NotifyProvider,
		channels,
		workflows,
		stores,
		string(toggles),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save release config: %w", err)
	}
	return nil
}

// GetReleaseConfig retrieves a release config by ID. Returns nil if not found.
func (s *Store) GetReleaseConfig(id string) (*ReleaseConfig, error) {
	row := s.QueryRow(`SELECT `+releaseConfigColumns+` FROM release_configs WHERE id = ?`, id)
	c, err := scanReleaseConfig(row)
	if err != nil {
		return nil, fmt.Errorf("get release config: %w", err)
	}
	return c, nil
}

// ListReleaseConfigs returns all configs for a tenant, by name.
func (s *Store) ListReleaseConfigs(tenantID string) ([]*ReleaseConfig, error) {
	rows, err := s.Query(`
		SELECT `+releaseConfigColumns+` FROM release_configs WHERE tenant_id = ? ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list release configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var configs []*ReleaseConfig
	for rows.Next() {
		c, err := scanReleaseConfigRows(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate release configs: %w", err)
	}

	return configs, nil
}

func scanReleaseConfig(row *sql.Row) (*ReleaseConfig, error) {
	var c ReleaseConfig
	var ciProvider, pmProjects, channels, workflows, stores, toggles, createdAtStr, updatedAtStr string

	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.SCMProvider, &c.SCMRepo, &ciProvider, &c.CIConfigID,
		&c.PMProvider, &pmProjects, &c.TestProvider, &c.TestMgmtID, &c.NotifyProvider,
		&channels, &workflows, &stores, &toggles, &createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan release config: %w", err)
	}

	if err := fillReleaseConfig(&c, ciProvider, pmProjects, channels, workflows, stores, toggles, createdAtStr, updatedAtStr); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanReleaseConfigRows(rows *sql.Rows) (*ReleaseConfig, error) {
	var c ReleaseConfig
	var ciProvider, pmProjects, channels, workflows, stores, toggles, createdAtStr, updatedAtStr string

	err := rows.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.SCMProvider, &c.SCMRepo, &ciProvider, &c.CIConfigID,
		&c.PMProvider, &pmProjects, &c.TestProvider, &c.TestMgmtID, &c.NotifyProvider,
		&channels, &workflows, &stores, &toggles, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scan release config: %w", err)
	}

	if err := fillReleaseConfig(&c, ciProvider, pmProjects, channels, workflows, stores, toggles, createdAtStr, updatedAtStr); err != nil {
		return nil, err
	}
	return &c, nil
}

func fillReleaseConfig(c *ReleaseConfig, ciProvider, pmProjects, channels, workflows, stores, toggles, createdAtStr, updatedAtStr string) error {
	c.CIProvider = release.CIRunType(ciProvider)
	c.CreatedAt = parseTimestamp(createdAtStr)
	c.UpdatedAt = parseTimestamp(updatedAtStr)

	if err := unmarshalIfSet(pmProjects, &c.PMProjects); err != nil {
		return fmt.Errorf("unmarshal pm projects: %w", err)
	}
	if err := unmarshalIfSet(channels, &c.NotificationChannels); err != nil {
		return fmt.Errorf("unmarshal notification channels: %w", err)
	}
	if err := unmarshalIfSet(workflows, &c.BuildWorkflows); err != nil {
		return fmt.Errorf("unmarshal build workflows: %w", err)
	}
	if err := unmarshalIfSet(stores, &c.StoreConfigs); err != nil {
		return fmt.Errorf("unmarshal store configs: %w", err)
	}
	if err := unmarshalIfSet(toggles, &c.DefaultToggles); err != nil {
		return fmt.Errorf("unmarshal default toggles: %w", err)
	}
	return nil
}

func marshalOrEmptyObject(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(data)
	if s == "null" {
		return "{}", nil
	}
	return s, nil
}

func marshalOrEmptyArray(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(data)
	if s == "null" {
		return "[]", nil
	}
	return s, nil
}

func unmarshalIfSet(s string, v any) error {
	if s == "" || s == "{}" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
