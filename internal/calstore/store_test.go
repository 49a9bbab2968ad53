package calstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/scaprile/gentry/internal/distance"
	"github.com/scaprile/gentry/internal/timeutil"
)

func newTestStore(t *testing.T) (*Store, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	store, err := NewStore(filepath.Join(t.TempDir(), "cal.db"), clock)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, clock
}

func testContext() *distance.DetectorContext {
	offset := 0.0123
	return &distance.DetectorContext{
		OffsetM:    &offset,
		BgNoiseStd: [][]float64{{1.1, 2.2}, {3.3}},
	}
}

func TestSaveAndLoadLatest(t *testing.T) {
	store, _ := newTestStore(t)
	config := distance.DefaultDetectorConfig()

	id, err := store.Save(1, config, testContext())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatal("Save returned empty id")
	}

	got, err := store.LoadLatest(1)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if diff := cmp.Diff(config, got.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(testContext(), got.Context); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLatestReturnsNewest(t *testing.T) {
	store, clock := newTestStore(t)
	config := distance.DefaultDetectorConfig()

	first, err := store.Save(1, config, testContext())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	clock.Advance(time.Minute)

	newer := testContext()
	*newer.OffsetM = 0.5
	second, err := store.Save(1, config, newer)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.LoadLatest(1)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.ID != second {
		t.Errorf("LoadLatest returned %q, want newest %q (first was %q)", got.ID, second, first)
	}
	if *got.Context.OffsetM != 0.5 {
		t.Errorf("OffsetM = %v, want 0.5", *got.Context.OffsetM)
	}
}

func TestLoadLatestMissingSensor(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.LoadLatest(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadLatest = %v, want ErrNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	store, clock := newTestStore(t)
	config := distance.DefaultDetectorConfig()

	var last string
	for i := 0; i < 5; i++ {
		id, err := store.Save(7, config, testContext())
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		last = id
		clock.Advance(time.Second)
	}

	deleted, err := store.Prune(7, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Prune deleted %d rows, want 3", deleted)
	}

	got, err := store.LoadLatest(7)
	if err != nil {
		t.Fatalf("LoadLatest after prune: %v", err)
	}
	if got.ID != last {
		t.Errorf("newest record lost by prune: got %q, want %q", got.ID, last)
	}
}
