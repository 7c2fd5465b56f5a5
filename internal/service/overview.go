package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/relohq/relo/internal/db"
	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/release"
)

// Overview is the joined read model for one release: everything the
// status command and dashboards need in a single call.
type Overview struct {
	Release *db.Release
	CronJob *db.CronJob
	// Version is the canonical per-platform version label.
	Version string
	Tasks   []*db.ReleaseTask
	Cycles  []*db.RegressionCycle
	Builds  []*db.Build
	Uploads []*db.ReleaseUpload
}

// GetReleaseOverview loads the overview, serving a cached copy within
// the TTL. Concurrent callers for the same release share one load.
// Mutating service operations invalidate the cache entry.
func (s *Service) GetReleaseOverview(ctx context.Context, releaseID string) (*Overview, error) {
	return s.overview.Get(releaseID, func() (*Overview, error) {
		return s.loadOverview(releaseID)
	})
}

func (s *Service) loadOverview(releaseID string) (*Overview, error) {
	rel, err := s.store.GetRelease(releaseID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, errors.ErrReleaseNotFound(releaseID)
	}
	job, err := s.store.GetCronJobByRelease(releaseID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.PlatformVersions(releaseID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasksByRelease(releaseID)
	if err != nil {
		return nil, err
	}
	cycles, err := s.store.ListCyclesByRelease(releaseID)
	if err != nil {
		return nil, err
	}
	builds, err := s.store.ListBuildsByRelease(releaseID)
	if err != nil {
		return nil, err
	}
	uploads, err := s.store.ListUploadsByRelease(releaseID)
	if err != nil {
		return nil, err
	}
	return &Overview{
		Release: rel,
		CronJob: job,
		Version: release.PlatformVersionString(versions),
		Tasks:   tasks,
		Cycles:  cycles,
		Builds:  builds,
		Uploads: uploads,
	}, nil
}

// overviewCache is a per-release TTL cache with singleflight
// coalescing, so a burst of status calls costs one set of queries.
type overviewCache struct {
	mu      sync.RWMutex
	entries map[string]overviewEntry
	ttl     time.Duration
	group   singleflight.Group
}

type overviewEntry struct {
	ov       *Overview
	loadedAt time.Time
}

func newOverviewCache(ttl time.Duration) *overviewCache {
	return &overviewCache{
		entries: make(map[string]overviewEntry),
		ttl:     ttl,
	}
}

func (c *overviewCache) Get(releaseID string, load func() (*Overview, error)) (*Overview, error) {
	c.mu.RLock()
	if e, ok := c.entries[releaseID]; ok && time.Since(e.loadedAt) < c.ttl {
		c.mu.RUnlock()
		return e.ov, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(releaseID, func() (any, error) {
		// Re-check after winning the flight; a concurrent loader may
		// have filled the entry.
		c.mu.RLock()
		if e, ok := c.entries[releaseID]; ok && time.Since(e.loadedAt) < c.ttl {
			c.mu.RUnlock()
			return e.ov, nil
		}
		c.mu.RUnlock()

		ov, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[releaseID] = overviewEntry{ov: ov, loadedAt: time.Now()}
		c.mu.Unlock()
		return ov, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Overview), nil
}

// Invalidate drops the cache entry so the next Get reloads.
func (c *overviewCache) Invalidate(releaseID string) {
	c.mu.Lock()
	delete(c.entries, releaseID)
	c.mu.Unlock()
}
