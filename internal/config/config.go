// Package config loads craftbrew's settings.
//
// Values are layered with koanf: the embedded defaults, then the user's
// config.toml (or the file given with --config), then CRAFTBREW_ environment
// variables. The result is validated before use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

//go:embed embedded/defaults.toml
var defaultConfig []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRAFTBREW_"

// Install orders accepted by install_order.
const (
	InstallsFirst = "installs-first"
	RemovalsFirst = "removals-first"
)

// Config is the merged configuration.
type Config struct {
	// Profiles maps a --system name to the manifests that describe it.
	Profiles       map[string]Profile `koanf:"profiles" validate:"required,min=1,dive"`
	DefaultProfile string             `koanf:"default_profile" validate:"required"`
	// Protected lists extra "kind:name" identities that are never removed.
	Protected         []string `koanf:"protected" validate:"dive,contains=:"`
	StateDir          string   `koanf:"state_dir" validate:"required"`
	SnapshotDir       string   `koanf:"snapshot_dir" validate:"required"`
	DBPath            string   `koanf:"db_path" validate:"required"`
	LogFile           string   `koanf:"log_file"`
	OpLogFile         string   `koanf:"op_log_file"`
	Retries           int      `koanf:"retries" validate:"gte=0,lte=10"`
	InstallOrder      string   `koanf:"install_order" validate:"oneof=installs-first removals-first"`
	SnapshotRetention int      `koanf:"snapshot_retention" validate:"gte=0"`
	Timeouts          Timeouts `koanf:"timeouts"`
	Brew              Brew     `koanf:"brew"`

	// Path is the config file that was loaded, empty when only defaults apply.
	Path string `koanf:"-"`
}

// Profile is one named system.
type Profile struct {
	Manifests []string `koanf:"manifests" validate:"required,min=1,dive,required"`
}

// Timeouts bound package manager calls.
type Timeouts struct {
	Operation time.Duration `koanf:"operation" validate:"gt=0"`
	Probe     time.Duration `koanf:"probe" validate:"gt=0"`
}

// Brew locates the package manager tools.
type Brew struct {
	Path       string `koanf:"path" validate:"required"`
	MasPath    string `koanf:"mas_path" validate:"required"`
	AutoUpdate bool   `koanf:"auto_update"`
}

// rawBytesProvider feeds embedded bytes to koanf.
type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

// Dir returns $XDG_CONFIG_HOME/craftbrew.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, "craftbrew")
}

// DefaultPath returns $XDG_CONFIG_HOME/craftbrew/config.toml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the configuration. An empty path uses DefaultPath when that
// file exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	loaded := ""
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errs.Wrapf(err, errs.ErrInvalidInput, "failed to load config from %s", path).
				WithHint("Check the TOML syntax of %s", path)
		}
		loaded = path
	} else if explicit {
		return nil, errs.Newf(errs.ErrInvalidInput, "config file %s does not exist", path).
			WithHint("Pass an existing file to --config or omit it to use %s", DefaultPath())
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, errs.Wrap(err, errs.ErrInvalidInput, "failed to decode configuration").
			WithHint("Check value types in %s and CRAFTBREW_ variables", displayPath(loaded))
	}
	cfg.Path = loaded

	postProcess(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func displayPath(p string) string {
	if p == "" {
		return "the config file"
	}
	return p
}

// postProcess fills path defaults and expands "~".
func postProcess(cfg *Config) {
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(xdg.StateHome, "craftbrew")
	}
	cfg.StateDir = expandHome(cfg.StateDir)

	defaults := []struct {
		field *string
		name  string
	}{
		{&cfg.SnapshotDir, "snapshots"},
		{&cfg.DBPath, "craftbrew.db"},
		{&cfg.LogFile, "craftbrew.log"},
		{&cfg.OpLogFile, "operations.log"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = filepath.Join(cfg.StateDir, d.name)
		}
		*d.field = expandHome(*d.field)
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Wrap(err, errs.ErrInvalidInput, "invalid configuration")
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s fails %s", field, fe.Tag()))
		}
	}
	return errs.Newf(errs.ErrInvalidInput, "invalid configuration: %s", strings.Join(problems, "; ")).
		WithHint("Fix %s or the matching CRAFTBREW_ variable", displayPath(c.Path))
}

// ProfileNames returns the configured profiles, sorted.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manifests returns the manifest paths of profile, or of the default profile
// when profile is empty. Relative paths resolve against the config file's
// directory, or Dir when no file was loaded.
func (c *Config) Manifests(profile string) ([]string, error) {
	if profile == "" {
		profile = c.DefaultProfile
	}
	p, ok := c.Profiles[profile]
	if !ok {
		return nil, errs.Newf(errs.ErrInvalidInput, "unknown system profile %q", profile).
			WithHint("Known profiles: %s", strings.Join(c.ProfileNames(), ", ")).
			WithDetail("profile", profile)
	}

	base := Dir()
	if c.Path != "" {
		base = filepath.Dir(c.Path)
	}

	paths := make([]string, len(p.Manifests))
	for i, m := range p.Manifests {
		m = expandHome(m)
		if !filepath.IsAbs(m) {
			m = filepath.Join(base, m)
		}
		paths[i] = m
	}
	return paths, nil
}

// RemovalsFirst reports whether removals run before installs.
func (c *Config) RemovalsFirst() bool {
	return c.InstallOrder == RemovalsFirst
}
