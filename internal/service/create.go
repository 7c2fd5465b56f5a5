package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/release"
)

// MappingSpec declares one platform of the release: where its build
// ships and which version it carries.
type MappingSpec struct {
	Platform release.Platform
	Target   release.Target
	Version  string
}

// CreateReleaseParams carries everything needed to set up a release
// train. Toggles defaults to the release config's default toggles.
type CreateReleaseParams struct {
	TenantID             string
	ReleaseBranch        string
	BaseBranch           string
	Type                 release.Type
	KickOffDate          time.Time
	TargetReleaseDate    time.Time
	ReleaseConfigID      string
	HasManualBuildUpload bool
	CreatedBy            string
	ReleasePilot         string
	Mappings             []MappingSpec
	Toggles              *release.CronConfig
	AutoTransitionStage2 bool
	AutoTransitionStage3 bool
	UpcomingRegressions  []release.RegressionSlot
}

// CreateRelease validates the parameters and persists the release, its
// platform mappings, and a PENDING cron job. Nothing starts running
// until StartCronJob.
func (s *Service) CreateRelease(ctx context.Context, p CreateReleaseParams) (*db.Release, error) {
	if p.TenantID == "" {
		return nil, errors.ErrInvalidArgument("tenant_id", "tenant is required")
	}
	if p.ReleaseBranch == "" {
		return nil, errors.ErrInvalidArgument("release_branch", "release branch is required")
	}
	if p.BaseBranch == "" {
		return nil, errors.ErrInvalidArgument("base_branch", "base branch is required")
	}
	if p.Type == "" {
		p.Type = release.TypePlanned
	}
	if !release.IsValidType(p.Type) {
		return nil, errors.ErrInvalidArgument("type", fmt.Sprintf("unknown release type %q", p.Type))
	}
	if p.KickOffDate.IsZero() {
		return nil, errors.ErrInvalidArgument("kick_off_date", "kick-off date is required")
	}
	if !p.TargetReleaseDate.After(p.KickOffDate) {
		return nil, errors.ErrInvalidArgument("target_release_date", "target date must be after the kick-off date")
	}
	if len(p.Mappings) == 0 {
		return nil, errors.ErrInvalidArgument("mappings", "at least one platform mapping is required")
	}
	seen := make(map[release.Platform]bool, len(p.Mappings))
	for _, m := range p.Mappings {
		if !release.IsValidPlatform(m.Platform) {
			return nil, errors.ErrInvalidArgument("mappings", fmt.Sprintf("unknown platform %q", m.Platform))
		}
		if !release.IsValidTarget(m.Target) {
			return nil, errors.ErrInvalidArgument("mappings", fmt.Sprintf("unknown target %q", m.Target))
		}
		if seen[m.Platform] {
			return nil, errors.ErrInvalidArgument("mappings", fmt.Sprintf("platform %s mapped twice", m.Platform))
		}
		seen[m.Platform] = true
		if _, err := semver.NewVersion(m.Version); err != nil {
			return nil, errors.ErrInvalidArgument("mappings",
				fmt.Sprintf("version %q for %s is not a semantic version", m.Version, m.Platform))
		}
	}

	cfg, err := s.store.GetReleaseConfig(p.ReleaseConfigID)
	if err != nil {
		return nil, err
	}
	if cfg == nil || cfg.TenantID != p.TenantID {
		return nil, errors.ErrInvalidArgument("release_config_id", "no such release config for the tenant")
	}

	rel := &db.Release{
		TenantID:             p.TenantID,
		ReleaseBranch:        p.ReleaseBranch,
		BaseBranch:           p.BaseBranch,
		Type:                 p.Type,
		Status:               release.StatusInProgress,
		KickOffDate:          p.KickOffDate,
		TargetReleaseDate:    p.TargetReleaseDate,
		HasManualBuildUpload: p.HasManualBuildUpload,
		ReleaseConfigID:      cfg.ID,
		CreatedBy:            p.CreatedBy,
		ReleasePilot:         p.ReleasePilot,
		LastUpdatedBy:        p.CreatedBy,
	}
	if err := s.store.SaveRelease(rel); err != nil {
		return nil, err
	}

	mappings := make([]db.PlatformTargetMapping, 0, len(p.Mappings))
	for _, m := range p.Mappings {
		mappings = append(mappings, db.PlatformTargetMapping{
			ReleaseID: rel.ID,
			Platform:  m.Platform,
			Target:    m.Target,
			Version:   m.Version,
		})
	}
	if err := s.store.ReplaceMappings(rel.ID, mappings); err != nil {
		return nil, err
	}

	toggles := cfg.DefaultToggles
	if p.Toggles != nil {
		toggles = *p.Toggles
	}
	slots := make([]release.RegressionSlot, len(p.UpcomingRegressions))
	copy(slots, p.UpcomingRegressions)

	// The engine consumes slots front to back.
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].SlotTime.Before(slots[j].SlotTime)
	})

	job := &db.CronJob{
		ReleaseID:            rel.ID,
		CronStatus:           release.CronPending,
		Stage1Status:         release.StagePending,
		Stage2Status:         release.StagePending,
		Stage3Status:         release.StagePending,
		Config:               toggles,
		UpcomingRegressions:  slots,
		AutoTransitionStage2: p.AutoTransitionStage2,
		AutoTransitionStage3: p.AutoTransitionStage3,
	}
	if err := s.store.SaveCronJob(job); err != nil {
		return nil, err
	}

	s.logger.Info("release created",
		"release_id", rel.ID,
		"branch", rel.ReleaseBranch,
		"platforms", len(mappings),
		"slots", len(slots))
	s.publishRelease(rel, job)
	return rel, nil
}
