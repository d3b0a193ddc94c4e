package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNoSchemaReturnsErrNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ListSnapshots()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInitialized), "got %v", err)

	_, err = s.ListRuns(10)
	assert.True(t, errors.Is(err, ErrNotInitialized), "got %v", err)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "craftbrew.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, path)
}

func TestCreateSchemaIdempotent(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.CreateSchema())
}

func TestInsertAndGetSnapshot(t *testing.T) {
	s := setupTestStore(t)
	created := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	snap := &Snapshot{
		ID:           "20260301-123000-abcd1234",
		CreatedAt:    created,
		Reason:       "pre-sync",
		ManifestHash: "sha256:deadbeef",
		PackageCount: 2,
		SnapshotPath: "/tmp/snap.json",
	}
	pkgs := []SnapshotPackage{
		{SnapshotID: snap.ID, Kind: "storeapp", Name: "Xcode", Attributes: map[string]string{"id": "497799835"}},
		{SnapshotID: snap.ID, Kind: "formula", Name: "git"},
	}
	require.NoError(t, s.InsertSnapshot(snap, pkgs))

	got, err := s.GetSnapshot(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Reason, got.Reason)
	assert.Equal(t, snap.ManifestHash, got.ManifestHash)
	assert.Equal(t, 2, got.PackageCount)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.False(t, got.Pruned)

	gotPkgs, err := s.GetSnapshotPackages(snap.ID)
	require.NoError(t, err)
	require.Len(t, gotPkgs, 2)
	assert.Equal(t, "git", gotPkgs[0].Name)
	assert.Nil(t, gotPkgs[0].Attributes)
	assert.Equal(t, "497799835", gotPkgs[1].Attributes["id"])
}

func TestInsertSnapshotDuplicateRollsBack(t *testing.T) {
	s := setupTestStore(t)
	snap := &Snapshot{ID: "a", CreatedAt: time.Now(), SnapshotPath: "/a"}
	require.NoError(t, s.InsertSnapshot(snap, nil))

	err := s.InsertSnapshot(snap, []SnapshotPackage{{SnapshotID: "a", Kind: "formula", Name: "jq"}})
	require.Error(t, err)

	pkgs, err := s.GetSnapshotPackages("a")
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

func TestGetSnapshotNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetSnapshot("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, 90 * time.Minute}
		require.NoError(t, s.InsertSnapshot(&Snapshot{
			ID:           id,
			CreatedAt:    base.Add(offsets[i]),
			SnapshotPath: "/" + id,
		}, nil))
	}

	snaps, err := s.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "newest", snaps[0].ID)
	assert.Equal(t, "middle", snaps[1].ID)
	assert.Equal(t, "old", snaps[2].ID)
}

func TestListSnapshotsSubsecondOrdering(t *testing.T) {
	s := setupTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)

	require.NoError(t, s.InsertSnapshot(&Snapshot{ID: "b-later", CreatedAt: base.Add(500 * time.Millisecond), SnapshotPath: "/b"}, nil))
	require.NoError(t, s.InsertSnapshot(&Snapshot{ID: "z-earlier", CreatedAt: base, SnapshotPath: "/z"}, nil))

	snaps, err := s.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, "b-later", snaps[0].ID)
}

func TestMarkSnapshotPruned(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.InsertSnapshot(&Snapshot{ID: "a", CreatedAt: time.Now(), SnapshotPath: "/a"}, nil))

	require.NoError(t, s.MarkSnapshotPruned("a"))
	got, err := s.GetSnapshot("a")
	require.NoError(t, err)
	assert.True(t, got.Pruned)

	assert.True(t, errors.Is(s.MarkSnapshotPruned("nope"), ErrNotFound))
}

func TestRunHistory(t *testing.T) {
	s := setupTestStore(t)
	started := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	run := &Run{ID: "run-1", Verb: "sync", StartedAt: started, Status: "executing", ManifestHash: "sha256:x"}
	require.NoError(t, s.InsertRun(run))

	require.NoError(t, s.InsertOperation(&Operation{RunID: "run-1", Kind: "formula", Name: "jq", Action: "install", Status: "success", Attempts: 1, Duration: 1500 * time.Millisecond}))
	require.NoError(t, s.InsertOperation(&Operation{RunID: "run-1", Kind: "cask", Name: "slack", Action: "remove", Status: "failed", Attempts: 3, Message: "permission denied"}))

	finished := started.Add(time.Minute)
	run.FinishedAt = &finished
	run.Status = "completed"
	run.SnapshotID = "snap-1"
	run.Succeeded, run.Failed = 1, 1
	require.NoError(t, s.FinishRun(run))

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "snap-1", got.SnapshotID)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))

	ops, err := s.GetRunOperations("run-1")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "jq", ops[0].Name)
	assert.Equal(t, 1500*time.Millisecond, ops[0].Duration)
	assert.Equal(t, "permission denied", ops[1].Message)
}

func TestListRunsLimit(t *testing.T) {
	s := setupTestStore(t)
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.InsertRun(&Run{ID: id, Verb: "sync", StartedAt: base.Add(time.Duration(i) * time.Minute), Status: "completed"}))
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestFinishUnknownRun(t *testing.T) {
	s := setupTestStore(t)
	assert.True(t, errors.Is(s.FinishRun(&Run{ID: "ghost", Status: "completed"}), ErrNotFound))
}

func TestOperationRequiresRun(t *testing.T) {
	s := setupTestStore(t)
	err := s.InsertOperation(&Operation{RunID: "ghost", Kind: "formula", Name: "jq", Action: "install", Status: "success"})
	assert.Error(t, err)
}
