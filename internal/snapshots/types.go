// Package snapshots captures the installed package set before destructive
// changes and turns a captured set back into a reconciliation plan.
//
// Each snapshot is an immutable JSON file named <YYYYMMDD-HHMMSS>-<nonce>.json
// in the snapshot directory, indexed in sqlite. A "latest" file in the same
// directory holds the id of the newest snapshot.
package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/diff"
	"github.com/blackwell-systems/craftbrew/internal/store"
)

// FormatVersion is the snapshot file format written by this package.
const FormatVersion = 1

// Snapshot is a point-in-time record of the installed package set.
type Snapshot struct {
	Version      int            `json:"version"`
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Reason       string         `json:"reason"`
	ManifestHash string         `json:"manifest_hash"`
	Packages     []brew.Package `json:"packages"`

	// Path is where the snapshot was read from or written to.
	Path string `json:"-"`
}

// Set returns the snapshot's packages as a set.
func (s *Snapshot) Set() brew.Set {
	return brew.NewSet(s.Packages...)
}

func (s *Snapshot) validate() error {
	if s.Version != FormatVersion {
		return fmt.Errorf("unsupported snapshot format version %d", s.Version)
	}
	if s.ID == "" {
		return fmt.Errorf("snapshot has no id")
	}
	seen := make(map[brew.Identity]bool, len(s.Packages))
	for _, p := range s.Packages {
		if p.Name == "" {
			return fmt.Errorf("snapshot %s contains a package without a name", s.ID)
		}
		if seen[p.Identity] {
			return fmt.Errorf("snapshot %s lists %s twice", s.ID, p.Identity)
		}
		seen[p.Identity] = true
	}
	return nil
}

// Prober lists the installed package set.
type Prober interface {
	Probe(ctx context.Context) (brew.Set, error)
}

// Manager manages snapshot creation, restoration, and cleanup.
type Manager struct {
	store       *store.Store
	snapshotDir string
	prober      Prober
	protected   *diff.Protected
	logger      zerolog.Logger
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithProtected sets the protected set used when restoring.
func WithProtected(p *diff.Protected) Option {
	return func(m *Manager) { m.protected = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a new snapshot Manager.
func New(store *store.Store, snapshotDir string, prober Prober, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		snapshotDir: snapshotDir,
		prober:      prober,
		protected:   diff.NewProtected(),
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.snapshotDir }
