package snapshots

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/diff"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
	"github.com/blackwell-systems/craftbrew/internal/planner"
	"github.com/blackwell-systems/craftbrew/internal/scanner"
	"github.com/blackwell-systems/craftbrew/internal/store"
)

func setup(t *testing.T, installed ...brew.Package) (*Manager, *brew.FakeClient, string) {
	t.Helper()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fake := brew.NewFakeClient(installed...)
	dir := filepath.Join(t.TempDir(), "snapshots")
	return New(db, dir, scanner.New(fake)), fake, dir
}

func xcode() brew.Package {
	return brew.Package{
		Identity:   brew.Identity{Kind: brew.StoreApp, Name: "Xcode"},
		Attributes: map[string]string{"id": "497799835"},
	}
}

func TestCapture(t *testing.T) {
	m, _, dir := setup(t, brew.NewPackage(brew.Formula, "git"), brew.NewPackage(brew.Cask, "firefox"), xcode())

	snap, err := m.Capture(context.Background(), "pre-sync", "sha256:abc")
	require.NoError(t, err)

	assert.Regexp(t, `^\d{8}-\d{6}-[0-9a-f]{8}$`, snap.ID)
	assert.Equal(t, filepath.Join(dir, snap.ID+".json"), snap.Path)
	assert.Len(t, snap.Packages, 3)

	var onDisk map[string]interface{}
	data, err := os.ReadFile(snap.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, float64(1), onDisk["version"])
	assert.Equal(t, "pre-sync", onDisk["reason"])
	assert.Equal(t, "sha256:abc", onDisk["manifest_hash"])
	assert.Contains(t, string(data), `"kind": "storeapp"`)
	assert.Contains(t, string(data), `"id": "497799835"`)

	pointer, err := os.ReadFile(filepath.Join(dir, "latest"))
	require.NoError(t, err)
	assert.Equal(t, snap.ID, strings.TrimSpace(string(pointer)))

	rows, err := m.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, snap.ID, rows[0].ID)
	assert.Equal(t, 3, rows[0].PackageCount)
}

func TestCaptureProbeErrorPassesThrough(t *testing.T) {
	m, fake, dir := setup(t)
	fake.SetLocked(true)

	_, err := m.Capture(context.Background(), "pre-sync", "")
	require.Error(t, err)
	assert.Equal(t, errs.ErrProbe, errs.CodeOf(err))

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "no snapshot directory may be created on probe failure")
}

func TestCaptureSameSecondUniqueIDs(t *testing.T) {
	m, _, _ := setup(t, brew.NewPackage(brew.Formula, "git"))
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	a, err := m.Capture(context.Background(), "a", "")
	require.NoError(t, err)
	b, err := m.Capture(context.Background(), "b", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, strings.HasPrefix(a.ID, "20260501-080000-"))
}

func TestGetAndLatest(t *testing.T) {
	m, fake, _ := setup(t, brew.NewPackage(brew.Formula, "git"))
	ctx := context.Background()

	first, err := m.Capture(ctx, "first", "")
	require.NoError(t, err)
	require.NoError(t, fake.Install(ctx, brew.NewPackage(brew.Formula, "jq")))
	second, err := m.Capture(ctx, "second", "")
	require.NoError(t, err)

	got, err := m.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Reason)
	assert.True(t, got.Set().Equal(first.Set()))

	latest, err := m.Get("latest")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestLatestFallsBackToIndex(t *testing.T) {
	m, _, dir := setup(t, brew.NewPackage(brew.Formula, "git"))
	snap, err := m.Capture(context.Background(), "x", "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "latest")))

	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, snap.ID, latest.ID)
}

func TestLatestNoSnapshots(t *testing.T) {
	m, _, _ := setup(t)
	_, err := m.Latest()
	require.Error(t, err)
	assert.Equal(t, errs.ErrSnapshot, errs.CodeOf(err))
}

func TestGetErrors(t *testing.T) {
	m, _, dir := setup(t)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "future.json"), []byte(`{"version":9,"id":"future","packages":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renamed.json"), []byte(`{"version":1,"id":"other","packages":[]}`), 0o644))

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"missing", "20990101-000000-deadbeef", "does not exist"},
		{"corrupt", "corrupt", "corrupt"},
		{"unsupported version", "future", "format version 9"},
		{"id mismatch", "renamed", `records id "other"`},
		{"path traversal", "../etc/passwd", "invalid snapshot id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Get(tt.id)
			require.Error(t, err)
			assert.Equal(t, errs.ErrSnapshot, errs.CodeOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := setup(t, brew.NewPackage(brew.Formula, "git"), brew.NewPackage(brew.Formula, "htop"), xcode())

	snap, err := m.Capture(ctx, "backup", "")
	require.NoError(t, err)

	require.NoError(t, fake.Remove(ctx, brew.NewPackage(brew.Formula, "htop")))
	require.NoError(t, fake.Remove(ctx, xcode()))
	require.NoError(t, fake.Install(ctx, brew.NewPackage(brew.Cask, "slack")))

	plan, d, err := m.Restore(ctx, snap, planner.ModeApply)
	require.NoError(t, err)
	assert.Equal(t, planner.VerbRollback, plan.Verb)
	assert.Equal(t, []brew.Identity{{Kind: brew.Formula, Name: "htop"}, {Kind: brew.StoreApp, Name: "Xcode"}}, d.ToInstall.Identities())
	assert.Equal(t, []brew.Identity{{Kind: brew.Cask, Name: "slack"}}, d.ToRemove.Identities())

	// Reinstalling the store app needs the recorded id.
	for _, op := range plan.Installs {
		if op.Package.Kind == brew.StoreApp {
			assert.Equal(t, "497799835", op.Package.Attr("id"))
		}
	}
}

func TestRestoreKeepsProtected(t *testing.T) {
	ctx := context.Background()
	m, fake, _ := setup(t)
	snap, err := m.Capture(ctx, "empty", "")
	require.NoError(t, err)

	require.NoError(t, fake.Install(ctx, brew.NewPackage(brew.Formula, "git")))
	require.NoError(t, fake.Install(ctx, brew.NewPackage(brew.Formula, "jq")))

	m.protected = diff.NewProtected(brew.Identity{Kind: brew.Formula, Name: "jq"})
	_, d, err := m.Restore(ctx, snap, planner.ModePreview)
	require.NoError(t, err)
	assert.Empty(t, d.ToRemove)
}

func TestExport(t *testing.T) {
	m, _, _ := setup(t, brew.NewPackage(brew.Formula, "git"))
	snap, err := m.Capture(context.Background(), "backup", "")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "exports", "backup.json")
	require.NoError(t, m.Export(snap, out))

	loaded, err := m.Load(out)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, out, loaded.Path)
	assert.True(t, loaded.Set().Equal(snap.Set()))
}

func TestPrune(t *testing.T) {
	m, _, _ := setup(t, brew.NewPackage(brew.Formula, "git"))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		m.now = func() time.Time { return at }
		snap, err := m.Capture(context.Background(), "r", "")
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	pruned, err := m.Prune(2)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], pruned)

	for _, id := range ids[:2] {
		_, err := m.Get(id)
		assert.Error(t, err)
	}
	for _, id := range ids[2:] {
		_, err := m.Get(id)
		assert.NoError(t, err)
	}

	rows, err := m.List()
	require.NoError(t, err)
	assert.Len(t, rows, 4, "index rows are kept as an audit record")

	again, err := m.Prune(2)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = m.Prune(0)
	assert.Equal(t, errs.ErrInvalidInput, errs.CodeOf(err))
}
