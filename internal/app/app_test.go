package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/config"
	"github.com/blackwell-systems/craftbrew/internal/executor"
	"github.com/blackwell-systems/craftbrew/internal/logging"
	"github.com/blackwell-systems/craftbrew/internal/manifest"
	"github.com/blackwell-systems/craftbrew/internal/output"
)

var (
	jq      = brew.NewPackage(brew.Formula, "jq")
	wget    = brew.NewPackage(brew.Formula, "wget")
	firefox = brew.NewPackage(brew.Cask, "firefox")
)

// testEnv is an isolated craftbrew installation: a config file, manifests
// and state under a temp dir, backed by a fake package manager.
type testEnv struct {
	t       *testing.T
	dir     string
	config  string
	fake    *brew.FakeClient
	answer  bool
	prompts []string
}

func newTestEnv(t *testing.T, installed ...brew.Package) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		t:      t,
		dir:    dir,
		config: filepath.Join(dir, "config.toml"),
		fake:   brew.NewFakeClient(installed...),
	}

	cfg := `state_dir = "` + filepath.ToSlash(filepath.Join(dir, "state")) + `"
retries = 0

[profiles.default]
manifests = ["Brewfile"]

[profiles.work]
manifests = ["Brewfile", "work.Brewfile"]
`
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))
	env.writeManifest("Brewfile", `brew "jq"
cask "firefox"
`)
	env.writeManifest("work.Brewfile", `brew "wget"
`)

	oldClient, oldConfirmer := newClient, newConfirmer
	newClient = func(*config.Config) brew.Client { return env.fake }
	newConfirmer = func() executor.Confirmer {
		return executor.ConfirmFunc(func(prompt string) (bool, error) {
			env.prompts = append(env.prompts, prompt)
			return env.answer, nil
		})
	}
	t.Cleanup(func() { newClient, newConfirmer = oldClient, oldConfirmer })
	return env
}

func (e *testEnv) writeManifest(name, content string) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644))
}

func (e *testEnv) snapshotDir() string { return filepath.Join(e.dir, "state", "snapshots") }

// run executes craftbrew with args and returns stdout.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.config, "--quiet"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRootCommandRegistersVerbs(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"install", "diff", "sync", "cleanup", "backup", "rollback", "snapshots", "history", "watch", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"system", "manifests", "dry-run", "force", "verbose", "quiet", "config", "db", "protect", "no-snapshot", "metrics-file"} {
		t.Run(name, func(t *testing.T) {
			f := root.PersistentFlags().Lookup(name)
			require.NotNil(t, f, "flag --%s", name)
			assert.NotEmpty(t, f.Usage)
		})
	}
}

func TestFlagShorthandsAreConsistent(t *testing.T) {
	root := NewRootCmd()

	sets := []*pflag.FlagSet{root.PersistentFlags()}
	for _, cmd := range root.Commands() {
		sets = append(sets, cmd.Flags())
	}

	owner := map[string]string{}
	for _, set := range sets {
		set.VisitAll(func(f *pflag.Flag) {
			if f.Shorthand == "" {
				return
			}
			if prev, ok := owner[f.Shorthand]; ok {
				assert.Equal(t, prev, f.Name, "-%s is bound to both --%s and --%s", f.Shorthand, prev, f.Name)
				return
			}
			owner[f.Shorthand] = f.Name
		})
	}

	diffCmd, _, err := root.Find([]string{"diff"})
	require.NoError(t, err)
	f := diffCmd.Flags().Lookup("format")
	require.NotNil(t, f)
	assert.Empty(t, f.Shorthand)
}

func TestInstallOnlyInstalls(t *testing.T) {
	env := newTestEnv(t, wget)

	out, err := env.run("install")
	require.NoError(t, err)

	installed := env.fake.Installed()
	assert.True(t, installed.Contains(jq.Identity))
	assert.True(t, installed.Contains(firefox.Identity))
	assert.True(t, installed.Contains(wget.Identity), "install never removes")
	assert.Empty(t, env.prompts, "installs need no confirmation")
	assert.Contains(t, out, "2 succeeded, 0 failed, 0 skipped")
}

func TestSyncDryRunChangesNothing(t *testing.T) {
	env := newTestEnv(t, wget)

	out, err := env.run("sync", "--dry-run")
	require.NoError(t, err)

	assert.Empty(t, env.fake.Calls())
	assert.Contains(t, out, "2 to install, 1 to remove")
	assert.Contains(t, out, "Dry run: no changes were made.")
	assert.NoDirExists(t, env.snapshotDir())
}

func TestSyncDeclinedChangesNothing(t *testing.T) {
	env := newTestEnv(t, wget)
	env.answer = false

	out, err := env.run("sync")
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))

	assert.Contains(t, out, "Aborted: nothing was changed.")
	require.Len(t, env.prompts, 1)
	assert.Empty(t, env.fake.Calls())
	assert.NoDirExists(t, env.snapshotDir())
}

func TestSyncThenRollbackRestoresState(t *testing.T) {
	env := newTestEnv(t, wget)
	before := env.fake.Installed()

	out, err := env.run("sync", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot ")
	assert.Contains(t, out, "craftbrew rollback")
	assert.False(t, env.fake.Installed().Contains(wget.Identity))
	assert.Empty(t, env.prompts)

	_, err = env.run("rollback", "latest", "--force")
	require.NoError(t, err)
	assert.True(t, before.Equal(env.fake.Installed()), "rollback restores the pre-sync package set")

	out, err = env.run("rollback", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "before sync")
	assert.Contains(t, out, "before rollback")
}

func TestSyncSecondRunIsNoop(t *testing.T) {
	env := newTestEnv(t, wget)

	_, err := env.run("sync", "--force")
	require.NoError(t, err)
	calls := len(env.fake.Calls())

	out, err := env.run("sync", "--force")
	require.NoError(t, err)
	assert.Len(t, env.fake.Calls(), calls)
	assert.Contains(t, out, "Nothing to do")
}

func TestProtectFlagKeepsPackage(t *testing.T) {
	env := newTestEnv(t, wget)

	_, err := env.run("cleanup", "--force", "--protect", "formula:wget")
	require.NoError(t, err)
	assert.True(t, env.fake.Installed().Contains(wget.Identity))
}

func TestSystemProfileSelectsManifests(t *testing.T) {
	env := newTestEnv(t, wget)

	out, err := env.run("sync", "--system", "work", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "2 to install, 0 to remove")
}

func TestManifestsFlagOverridesProfile(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("install", "--dry-run", "--manifests", filepath.Join(env.dir, "work.Brewfile"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 to install, 0 to remove")
	assert.Contains(t, out, "wget")
}

func TestFailedOperationExitsOne(t *testing.T) {
	env := newTestEnv(t)
	env.fake.FailAlways("install", jq.Identity)

	out, err := env.run("install")
	require.ErrorIs(t, err, ErrOperationsFailed)
	assert.Equal(t, ExitFailed, ExitCode(err))
	assert.Contains(t, out, "1 succeeded, 1 failed, 0 skipped")
	assert.True(t, env.fake.Installed().Contains(firefox.Identity), "other operations still run")
}

func TestDiffJSON(t *testing.T) {
	env := newTestEnv(t, wget, jq)

	out, err := env.run("diff", "--format", "json")
	require.NoError(t, err)

	var doc output.DiffDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.False(t, doc.InSync)
	assert.Equal(t, output.DiffCounts{Install: 1, Remove: 1, Unchanged: 1}, doc.Summary)
	require.Len(t, doc.Install, 1)
	assert.Equal(t, "firefox", doc.Install[0].Name)
	require.Len(t, doc.Remove, 1)
	assert.Equal(t, "wget", doc.Remove[0].Name)
	assert.Empty(t, env.fake.Calls())
}

func TestDiffInSync(t *testing.T) {
	env := newTestEnv(t, jq, firefox)

	out, err := env.run("diff")
	require.NoError(t, err)
	assert.Contains(t, out, "In sync")
}

func TestBackupExportAndList(t *testing.T) {
	env := newTestEnv(t, wget, jq)
	export := filepath.Join(env.dir, "export", "packages.json")

	out, err := env.run("backup", "--reason", "weekly", "--output", export)
	require.NoError(t, err)
	assert.Contains(t, out, "(2 packages)")
	assert.FileExists(t, export)

	out, err = env.run("snapshots")
	require.NoError(t, err)
	assert.Contains(t, out, "weekly")
	assert.Contains(t, out, "available")
}

func TestBackupRecordsManifestHash(t *testing.T) {
	env := newTestEnv(t, wget, jq)
	export := filepath.Join(env.dir, "export", "packages.json")

	_, err := env.run("backup", "--output", export)
	require.NoError(t, err)

	desired, err := manifest.Load(context.Background(), filepath.Join(env.dir, "Brewfile"))
	require.NoError(t, err)

	data, err := os.ReadFile(export)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, desired.Hash.String(), doc["manifest_hash"])
}

func TestSessionReleasesLogFile(t *testing.T) {
	env := newTestEnv(t, wget)
	logFile := filepath.Join(env.dir, "state", "craftbrew.log")

	_, err := env.run("diff")
	require.NoError(t, err)
	require.FileExists(t, logFile)

	logger := logging.GetLogger("test")
	logger.Error().Msg("logged after the session closed")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "logged after the session closed")
}

func TestSnapshotsPrune(t *testing.T) {
	env := newTestEnv(t, wget)
	for i := 0; i < 3; i++ {
		_, err := env.run("backup")
		require.NoError(t, err)
	}

	out, err := env.run("snapshots", "--prune", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 2 snapshots.")
	assert.Contains(t, out, "pruned")
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, wget)

	_, err := env.run("sync", "--force")
	require.NoError(t, err)

	out, err := env.run("history")
	require.NoError(t, err)
	assert.Contains(t, out, "sync")
	assert.Contains(t, out, "completed")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	fields := strings.Fields(lines[len(lines)-1])
	require.NotEmpty(t, fields)

	out, err = env.run("history", fields[0])
	require.NoError(t, err)
	assert.Contains(t, out, "firefox")
	assert.Contains(t, out, "wget")
}

func TestMetricsFile(t *testing.T) {
	env := newTestEnv(t)
	metrics := filepath.Join(env.dir, "metrics", "craftbrew.prom")

	_, err := env.run("install", "--metrics-file", metrics)
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "craftbrew_")
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "craftbrew version dev")
}

func TestErrorExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testEnv)
		args  []string
		want  int
	}{
		{
			name: "unknown profile",
			args: []string{"sync", "--system", "nope"},
			want: ExitInvalid,
		},
		{
			name: "bad format",
			args: []string{"diff", "--format", "xml"},
			want: ExitInvalid,
		},
		{
			name: "unknown flag",
			args: []string{"sync", "--bogus"},
			want: ExitInvalid,
		},
		{
			name: "unexpected argument",
			args: []string{"install", "extra"},
			want: ExitInvalid,
		},
		{
			name: "invalid protect spec",
			args: []string{"cleanup", "--protect", "bogus:wget"},
			want: ExitInvalid,
		},
		{
			name:  "manifest parse error",
			setup: func(e *testEnv) { e.writeManifest("Brewfile", "brew jq\n") },
			args:  []string{"sync"},
			want:  ExitInvalid,
		},
		{
			name:  "missing manifest",
			setup: func(e *testEnv) { require.NoError(e.t, os.Remove(filepath.Join(e.dir, "Brewfile"))) },
			args:  []string{"diff"},
			want:  ExitInvalid,
		},
		{
			name:  "package manager locked",
			setup: func(e *testEnv) { e.fake.SetLocked(true) },
			args:  []string{"sync"},
			want:  ExitProbeError,
		},
		{
			name: "unknown snapshot",
			args: []string{"rollback", "20200101-000000-deadbeef"},
			want: ExitInvalid,
		},
		{
			name: "prune below one",
			args: []string{"snapshots", "--prune", "0"},
			want: ExitInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, wget)
			if tt.setup != nil {
				tt.setup(env)
			}
			_, err := env.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, ExitCode(err), "error: %v", err)
			assert.Empty(t, env.fake.Calls(), "fatal errors happen before any mutation")
		})
	}
}
