package db

import (
	"testing"

	"github.com/relohq/relo/internal/release"
)

func TestCreateCycleFlipsLatest(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)
	rel := seedRelease(t, store, "acme")

	first := &RegressionCycle{ReleaseID: rel.ID}
	if err := store.CreateCycle(first); err != nil {
		t.Fatalf("CreateCycle(first) error: %v", err)
	}
	if first.CycleTag != 1 {
		t.Errorf("first cycle tag = %d, want 1", first.CycleTag)
	}
	if !first.IsLatest {
		t.Error("first cycle not marked latest")
	}

	if err := store.UpdateCycleStatus(first.ID, release.CycleDone); err != nil {
		t.Fatalf("UpdateCycleStatus() error: %v", err)
	}

	second := &RegressionCycle{ReleaseID: rel.ID}
	if err := store.CreateCycle(second); err != nil {
		t.Fatalf("CreateCycle(second) error: %v", err)
	}
	if second.CycleTag != 2 {
		t.Errorf("second cycle tag = %d, want 2", second.CycleTag)
	}

	latest, err := store.GetLatestCycle(rel.ID)
	if err != nil {
		t.Fatalf("GetLatestCycle() error: %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Fatalf("GetLatestCycle() = %+v, want second cycle", latest)
	}

	prior, err := store.GetCycle(first.ID)
	if err != nil {
		t.Fatalf("GetCycle(first) error: %v", err)
	}
	if prior.IsLatest {
		t.Error("prior cycle still marked latest after new cycle created")
	}

	all, err := store.ListCyclesByRelease(rel.ID)
	if err != nil {
		t.Fatalf("ListCyclesByRelease() error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListCyclesByRelease() = %d cycles, want 2", len(all))
	}
	if all[0].CycleTag != 1 || all[1].CycleTag != 2 {
		t.Error("cycles not ordered by tag")
	}
}

func TestGetLatestCycleNone(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)
	rel := seedRelease(t, store, "acme")

	latest, err := store.GetLatestCycle(rel.ID)
	if err != nil {
		t.Fatalf("GetLatestCycle() error: %v", err)
	}
	if latest != nil {
		t.Errorf("GetLatestCycle() = %+v, want nil for release without cycles", latest)
	}
}

func TestAllCyclesDone(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)
	rel := seedRelease(t, store, "acme")

	done, err := store.AllCyclesDone(rel.ID)
	if err != nil {
		t.Fatalf("AllCyclesDone() error: %v", err)
	}
	if !done {
		t.Error("AllCyclesDone() = false for release without cycles, want true")
	}

	cycle := &RegressionCycle{ReleaseID: rel.ID}
	if err := store.CreateCycle(cycle); err != nil {
		t.Fatalf("CreateCycle() error: %v", err)
	}

	done, err = store.AllCyclesDone(rel.ID)
	if err != nil {
		t.Fatalf("AllCyclesDone() error: %v", err)
	}
	if done {
		t.Error("AllCyclesDone() = true with an in-progress cycle, want false")
	}

	if err := store.UpdateCycleStatus(cycle.ID, release.CycleDone); err != nil {
		t.Fatalf("UpdateCycleStatus() error: %v", err)
	}
	done, err = store.AllCyclesDone(rel.ID)
	if err != nil {
		t.Fatalf("AllCyclesDone() error: %v", err)
	}
	if !done {
		t.Error("AllCyclesDone() = false after closing the only cycle, want true")
	}
}
