package brew

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// execRunner runs the command through os/exec.
func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// CLI is the Client backed by the brew and mas command line tools.
type CLI struct {
	brewPath   string
	masPath    string
	autoUpdate bool
	run        Runner
}

// Option configures a CLI client.
type Option func(*CLI)

// WithBrewPath overrides the brew executable.
func WithBrewPath(path string) Option {
	return func(c *CLI) { c.brewPath = path }
}

// WithMasPath overrides the mas executable.
func WithMasPath(path string) Option {
	return func(c *CLI) { c.masPath = path }
}

// WithAutoUpdate lets brew run its auto-update before installs.
func WithAutoUpdate(enabled bool) Option {
	return func(c *CLI) { c.autoUpdate = enabled }
}

// WithRunner replaces command execution (used by tests).
func WithRunner(r Runner) Option {
	return func(c *CLI) { c.run = r }
}

// NewCLI creates a client that shells out to brew and mas.
func NewCLI(opts ...Option) *CLI {
	c := &CLI{
		brewPath: "brew",
		masPath:  "mas",
		run:      execRunner,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CLI) env() []string {
	env := []string{"HOMEBREW_NO_ENV_HINTS=1", "HOMEBREW_NO_INSTALL_CLEANUP=1"}
	if !c.autoUpdate {
		env = append(env, "HOMEBREW_NO_AUTO_UPDATE=1")
	}
	return env
}

// exec runs a command and converts failures into a classified CommandError.
func (c *CLI) exec(ctx context.Context, op, target, name string, args ...string) (string, error) {
	out, err := c.run(ctx, c.env(), name, args...)
	output := strings.TrimSpace(string(out))
	if err == nil {
		return output, nil
	}

	kind := Classify(err, output)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		// A timed-out download is the common case for hung calls.
		kind = FailureTransient
	}
	return output, &CommandError{
		Op:      op,
		Target:  target,
		Kind:    kind,
		Output:  output,
		Wrapped: err,
	}
}

// List returns the installed packages of one kind.
//
// Every installed formula is returned. Formulae that were only pulled in as
// dependencies are flagged with Package.Dependency.
func (c *CLI) List(ctx context.Context, kind Kind) ([]Package, error) {
	switch kind {
	case Tap:
		out, err := c.exec(ctx, "list", "taps", c.brewPath, "tap")
		if err != nil {
			return nil, err
		}
		return parseNameList(Tap, out), nil
	case Formula:
		out, err := c.exec(ctx, "list", "formulae", c.brewPath, "info", "--json=v2", "--installed")
		if err != nil {
			return nil, err
		}
		return parseFormulaInfo(out)
	case Cask:
		out, err := c.exec(ctx, "list", "casks", c.brewPath, "list", "--cask", "--full-name", "-1")
		if err != nil {
			return nil, err
		}
		return parseNameList(Cask, out), nil
	case StoreApp:
		out, err := c.exec(ctx, "list", "store apps", c.masPath, "list")
		if err != nil {
			// Without mas there are no store apps to manage.
			if FailureOf(err) == FailureUnavailable {
				return nil, nil
			}
			return nil, err
		}
		return parseMasList(out)
	default:
		return nil, fmt.Errorf("unsupported package kind %s", kind)
	}
}

// Install installs a single package.
func (c *CLI) Install(ctx context.Context, pkg Package) error {
	name, args, err := c.installCommand(pkg)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, "install", pkg.String(), name, args...)
	return err
}

// Remove uninstalls a single package.
func (c *CLI) Remove(ctx context.Context, pkg Package) error {
	name, args, err := c.removeCommand(pkg)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, "remove", pkg.String(), name, args...)
	return err
}

func (c *CLI) installCommand(pkg Package) (string, []string, error) {
	switch pkg.Kind {
	case Formula:
		args := append([]string{"install", "--formula", pkg.Name}, splitArgs(pkg.Attr("args"))...)
		return c.brewPath, args, nil
	case Cask:
		args := append([]string{"install", "--cask", pkg.Name}, splitArgs(pkg.Attr("args"))...)
		return c.brewPath, args, nil
	case Tap:
		args := []string{"tap"}
		if pkg.Attr("force_auto_update") == "true" {
			args = append(args, "--force-auto-update")
		}
		args = append(args, pkg.Name)
		if url := pkg.Attr("url"); url != "" {
			args = append(args, url)
		}
		return c.brewPath, args, nil
	case StoreApp:
		id := pkg.Attr("id")
		if id == "" {
			return "", nil, &CommandError{Op: "install", Target: pkg.String(), Kind: FailurePermanent,
				Wrapped: errors.New("store app has no id attribute")}
		}
		return c.masPath, []string{"install", id}, nil
	default:
		return "", nil, fmt.Errorf("unsupported package kind %s", pkg.Kind)
	}
}

func (c *CLI) removeCommand(pkg Package) (string, []string, error) {
	switch pkg.Kind {
	case Formula:
		return c.brewPath, []string{"uninstall", "--formula", pkg.Name}, nil
	case Cask:
		return c.brewPath, []string{"uninstall", "--cask", pkg.Name}, nil
	case Tap:
		return c.brewPath, []string{"untap", pkg.Name}, nil
	case StoreApp:
		id := pkg.Attr("id")
		if id == "" {
			return "", nil, &CommandError{Op: "remove", Target: pkg.String(), Kind: FailurePermanent,
				Wrapped: errors.New("store app has no id attribute")}
		}
		return c.masPath, []string{"uninstall", id}, nil
	default:
		return "", nil, fmt.Errorf("unsupported package kind %s", pkg.Kind)
	}
}

// splitArgs turns the comma-joined args attribute back into argv entries.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	var args []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	return args
}

// parseNameList parses one package name per line.
func parseNameList(kind Kind, output string) []Package {
	var pkgs []Package
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "==>") {
			continue
		}
		pkgs = append(pkgs, NewPackage(kind, name))
	}
	return pkgs
}

// brewInfoOutput is the subset of `brew info --json=v2 --installed` read here.
type brewInfoOutput struct {
	Formulae []brewFormulaInfo `json:"formulae"`
}

type brewFormulaInfo struct {
	Name      string             `json:"name"`
	FullName  string             `json:"full_name"`
	Installed []brewInstalledKeg `json:"installed"`
}

type brewInstalledKeg struct {
	Version               string `json:"version"`
	InstalledOnRequest    bool   `json:"installed_on_request"`
	InstalledAsDependency bool   `json:"installed_as_dependency"`
}

// parseFormulaInfo converts `brew info --json=v2 --installed` output. Tap
// formulae keep their full name so they match "tap/name" declarations.
func parseFormulaInfo(output string) ([]Package, error) {
	if strings.TrimSpace(output) == "" {
		return nil, nil
	}

	var info brewInfoOutput
	if err := json.Unmarshal([]byte(output), &info); err != nil {
		return nil, fmt.Errorf("failed to parse brew info output: %w", err)
	}

	pkgs := make([]Package, 0, len(info.Formulae))
	for _, f := range info.Formulae {
		if len(f.Installed) == 0 {
			continue
		}
		name := f.FullName
		if name == "" {
			name = f.Name
		}

		onRequest := false
		for _, keg := range f.Installed {
			if keg.InstalledOnRequest || !keg.InstalledAsDependency {
				onRequest = true
				break
			}
		}

		pkg := NewPackage(Formula, name)
		pkg.Dependency = !onRequest
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// parseMasList parses `mas list` output.
// Example input:
//
//	497799835  Xcode        (15.0)
//	1295203466 Microsoft Remote Desktop (10.9.4)
func parseMasList(output string) ([]Package, error) {
	var pkgs []Package
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "No installed apps") {
			continue
		}

		id, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unexpected mas list line %q", line)
		}
		rest = strings.TrimSpace(rest)

		// Drop the trailing "(version)".
		if idx := strings.LastIndex(rest, "("); idx > 0 && strings.HasSuffix(rest, ")") {
			rest = strings.TrimSpace(rest[:idx])
		}
		if rest == "" {
			return nil, fmt.Errorf("unexpected mas list line %q", line)
		}

		pkg := NewPackage(StoreApp, rest)
		pkg.Attributes = map[string]string{"id": id}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

var _ Client = (*CLI)(nil)
