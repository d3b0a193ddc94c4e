package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

func mustParse(t *testing.T, path, content string) *Manifest {
	t.Helper()
	m, err := Parse(path, strings.NewReader(content))
	require.NoError(t, err)
	return m
}

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	base := writeManifest(t, dir, "base", "brew \"git\"\nbrew \"jq\"\n")
	work := writeManifest(t, dir, "work", "brew \"jq\"\ncask \"slack\"\n")

	state, err := Load(context.Background(), base, work)
	require.NoError(t, err)

	assert.Equal(t, []brew.Identity{
		{Kind: brew.Formula, Name: "git"},
		{Kind: brew.Formula, Name: "jq"},
		{Kind: brew.Cask, Name: "slack"},
	}, state.Packages.Identities())
	assert.Equal(t, []string{base, work}, state.Manifests)
	assert.NotEmpty(t, state.Hash)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, errs.ErrManifestParse, errs.CodeOf(err))
}

func TestLoadNoPaths(t *testing.T) {
	_, err := Load(context.Background())
	assert.Equal(t, errs.ErrInvalidInput, errs.CodeOf(err))
}

func TestLoadParseErrorAborts(t *testing.T) {
	dir := t.TempDir()
	good := writeManifest(t, dir, "good", "brew \"git\"\n")
	bad := writeManifest(t, dir, "bad", "brew \"git\"\nbrew git\n")

	_, err := Load(context.Background(), good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad+":2:")
}

func TestMergeCommutative(t *testing.T) {
	a := mustParse(t, "a", "brew \"git\"\ncask \"firefox\", greedy: true\n")
	b := mustParse(t, "b", "brew \"git\"\nmas \"Xcode\", id: 497799835\n")

	ab, err := Merge(a, b)
	require.NoError(t, err)
	ba, err := Merge(b, a)
	require.NoError(t, err)

	assert.Equal(t, ab.Packages, ba.Packages)
	assert.Equal(t, ab.Hash, ba.Hash)
	assert.Equal(t, ab.Manifests, ba.Manifests)
}

func TestMergeConflict(t *testing.T) {
	a := mustParse(t, "a.Brewfile", "brew \"node\", version: \"20\"\n")
	b := mustParse(t, "b.Brewfile", "brew \"git\"\nbrew \"node\", version: \"22\"\n")

	for _, order := range [][]*Manifest{{a, b}, {b, a}} {
		_, err := Merge(order...)
		require.Error(t, err)
		assert.Equal(t, errs.ErrManifestConflict, errs.CodeOf(err))
		assert.Contains(t, err.Error(), "formula:node")
		assert.Contains(t, err.Error(), "a.Brewfile:1")
		assert.Contains(t, err.Error(), "b.Brewfile:2")
	}
}

func TestMergeConflictWithinManifest(t *testing.T) {
	m := mustParse(t, "m", "cask \"slack\"\ncask \"slack\", greedy: true\n")
	_, err := Merge(m)
	assert.Equal(t, errs.ErrManifestConflict, errs.CodeOf(err))
}

func TestMergeIdenticalDuplicates(t *testing.T) {
	a := mustParse(t, "a", "brew \"jq\", link: true\n")
	b := mustParse(t, "b", "brew \"jq\", link: 1\n")

	state, err := Merge(a, b)
	require.NoError(t, err)
	require.Len(t, state.Packages, 1)
	assert.Equal(t, "a", state.Packages[brew.Identity{Kind: brew.Formula, Name: "jq"}].Source)
}

func TestHashIgnoresOrderAndPaths(t *testing.T) {
	a := mustParse(t, "one", "brew \"git\"\ncask \"firefox\"\n")
	b := mustParse(t, "two", "cask \"firefox\"\nbrew \"git\"\n")
	c := mustParse(t, "three", "cask \"firefox\"\nbrew \"git\", link: true\n")

	assert.Equal(t, Hash(a.Set()), Hash(b.Set()))
	assert.NotEqual(t, Hash(a.Set()), Hash(c.Set()))
}

func TestCanonical(t *testing.T) {
	set := brew.NewSet(
		brew.Package{Identity: brew.Identity{Kind: brew.Cask, Name: "firefox"}, Attributes: map[string]string{"greedy": "true", "args": "x"}},
		brew.NewPackage(brew.Formula, "git"),
	)
	assert.Equal(t, "formula:git\ncask:firefox args=x,greedy=true\n", string(Canonical(set)))
}
