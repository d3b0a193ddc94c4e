package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/diff"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

func TestProbe(t *testing.T) {
	fake := brew.NewFakeClient(
		brew.NewPackage(brew.Formula, "git"),
		brew.NewPackage(brew.Cask, "git"),
		brew.NewPackage(brew.Tap, "homebrew/core"),
		brew.Package{Identity: brew.Identity{Kind: brew.StoreApp, Name: "Xcode"}, Attributes: map[string]string{"id": "497799835"}},
	)

	actual, err := New(fake).Probe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []brew.Identity{
		{Kind: brew.Formula, Name: "git"},
		{Kind: brew.Cask, Name: "git"},
		{Kind: brew.Tap, Name: "homebrew/core"},
		{Kind: brew.StoreApp, Name: "Xcode"},
	}, actual.Identities())
	assert.Equal(t, "497799835", actual[brew.Identity{Kind: brew.StoreApp, Name: "Xcode"}].Attr("id"))
}

func TestProbeEmpty(t *testing.T) {
	actual, err := New(brew.NewFakeClient()).Probe(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actual)
}

func TestProbeNotCached(t *testing.T) {
	ctx := context.Background()
	fake := brew.NewFakeClient()
	s := New(fake)

	first, err := s.Probe(ctx)
	require.NoError(t, err)
	assert.Empty(t, first)

	require.NoError(t, fake.Install(ctx, brew.NewPackage(brew.Formula, "jq")))

	second, err := s.Probe(ctx)
	require.NoError(t, err)
	assert.True(t, second.Contains(brew.Identity{Kind: brew.Formula, Name: "jq"}))
}

func TestProbeListFailure(t *testing.T) {
	fake := brew.NewFakeClient()
	fake.FailList(brew.Cask, errors.New("broken"))

	_, err := New(fake).Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrProbe, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "cask")
	assert.False(t, errs.IsRetryable(err))
}

func TestProbeLockedIsRetryable(t *testing.T) {
	fake := brew.NewFakeClient()
	fake.SetLocked(true)

	_, err := New(fake).Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrProbe, errs.CodeOf(err))
	assert.True(t, errs.IsRetryable(err))
	assert.Contains(t, errs.HintOf(err), "lock")
}

func TestProbeRetriesUntilLockReleased(t *testing.T) {
	fake := brew.NewFakeClient(brew.NewPackage(brew.Formula, "git"))
	fake.SetLocked(true)

	policy := brew.RetryPolicy{Retries: 50, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	go func() {
		time.Sleep(10 * time.Millisecond)
		fake.SetLocked(false)
	}()

	actual, err := New(fake, WithRetryPolicy(policy)).Probe(context.Background())
	require.NoError(t, err)
	assert.Len(t, actual, 1)
}

// formulaRunner answers the commands the CLI issues the way Homebrew does
// for formulae: installing a formula pulls in its dependencies, and
// installing an existing dependency marks it as requested.
type formulaRunner struct {
	mu        sync.Mutex
	deps      map[string][]string
	installed map[string]bool // name -> installed on request
}

func (r *formulaRunner) run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch cmd := strings.Join(append([]string{name}, args...), " "); {
	case cmd == "brew info --json=v2 --installed":
		type keg struct {
			Version            string `json:"version"`
			InstalledOnRequest bool   `json:"installed_on_request"`
			InstalledAsDep     bool   `json:"installed_as_dependency"`
		}
		type formula struct {
			Name      string `json:"name"`
			FullName  string `json:"full_name"`
			Installed []keg  `json:"installed"`
		}
		out := struct {
			Formulae []formula `json:"formulae"`
		}{Formulae: []formula{}}
		for n, onRequest := range r.installed {
			out.Formulae = append(out.Formulae, formula{
				Name:      n,
				FullName:  n,
				Installed: []keg{{Version: "1.0", InstalledOnRequest: onRequest, InstalledAsDep: !onRequest}},
			})
		}
		return json.Marshal(out)
	case strings.HasPrefix(cmd, "brew install --formula "):
		target := args[len(args)-1]
		r.installed[target] = true
		for _, dep := range r.deps[target] {
			if _, ok := r.installed[dep]; !ok {
				r.installed[dep] = false
			}
		}
		return nil, nil
	case cmd == "brew tap", cmd == "brew list --cask --full-name -1", cmd == "mas list":
		return nil, nil
	default:
		return []byte("Error: unexpected command"), errors.New("exit status 1")
	}
}

func TestProbeConvergesWithDependencyChain(t *testing.T) {
	tests := []struct {
		name    string
		desired []string
	}{
		{name: "dependency declared after dependent", desired: []string{"awscli", "python@3.12"}},
		{name: "dependent only", desired: []string{"awscli"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			runner := &formulaRunner{
				deps:      map[string][]string{"awscli": {"python@3.12", "openssl@3"}},
				installed: map[string]bool{},
			}
			client := brew.NewCLI(brew.WithRunner(runner.run))
			s := New(client)

			desired := brew.NewSet()
			for _, name := range tt.desired {
				desired.Add(brew.NewPackage(brew.Formula, name))
			}

			actual, err := s.Probe(ctx)
			require.NoError(t, err)
			first := diff.Compute(desired, actual, diff.NewProtected())
			require.Len(t, first.ToInstall, len(tt.desired))

			// The dependent installs first and pulls its dependency in.
			for _, pkg := range first.ToInstall.Sorted() {
				require.NoError(t, client.Install(ctx, pkg))
			}

			actual, err = s.Probe(ctx)
			require.NoError(t, err)
			second := diff.Compute(desired, actual, diff.NewProtected())
			assert.True(t, second.Empty(), second.Summary())
			assert.Len(t, second.Unchanged, len(tt.desired))
		})
	}
}
