package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/blackwell-systems/craftbrew/internal/diff"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
	"github.com/blackwell-systems/craftbrew/internal/planner"
	"github.com/blackwell-systems/craftbrew/internal/store"
)

const listHint = "run `craftbrew rollback --list` to see available snapshots"

// Restore computes the plan that returns the system to snap. The snapshot is
// treated as the desired state and the current installation as the actual
// state, so rollback runs through the same reconciliation as sync.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot, mode planner.Mode, opts ...planner.Option) (*planner.Plan, diff.Diff, error) {
	if err := snap.validate(); err != nil {
		return nil, diff.Diff{}, snapshotErr(err, "snapshot %s is invalid", snap.ID).WithHint(listHint)
	}

	current, err := m.prober.Probe(ctx)
	if err != nil {
		return nil, diff.Diff{}, err
	}

	d := diff.Compute(snap.Set(), current, m.protected)
	plan := planner.New(d, mode, planner.VerbRollback, opts...)

	m.logger.Debug().
		Str("snapshot", snap.ID).
		Str("diff", d.Summary()).
		Msg("Restore plan computed")
	return plan, d, nil
}

// List returns the snapshot index, newest first.
func (m *Manager) List() ([]*store.Snapshot, error) {
	snapshots, err := m.store.ListSnapshots()
	if err != nil {
		return nil, snapshotErr(err, "failed to list snapshots")
	}
	return snapshots, nil
}

// Latest returns the snapshot the latest pointer refers to. Without a
// pointer it falls back to the newest indexed snapshot that still has a file.
func (m *Manager) Latest() (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.snapshotDir, latestFile))
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return m.Get(id)
		}
	} else if !os.IsNotExist(err) {
		return nil, snapshotErr(err, "failed to read latest snapshot pointer")
	}

	rows, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if !row.Pruned {
			return m.Load(row.SnapshotPath)
		}
	}
	return nil, errs.New(errs.ErrSnapshot, "no snapshots found").
		WithHint("snapshots are captured before destructive runs or with `craftbrew backup`")
}

// Get loads the snapshot with the given id. "latest" resolves the pointer.
func (m *Manager) Get(id string) (*Snapshot, error) {
	if id == "" || id == latestFile {
		return m.Latest()
	}
	if strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return nil, errs.Newf(errs.ErrSnapshot, "invalid snapshot id %q", id).WithHint(listHint)
	}

	snap, err := m.Load(filepath.Join(m.snapshotDir, id+".json"))
	if err != nil {
		return nil, err
	}
	if snap.ID != id {
		return nil, errs.Newf(errs.ErrSnapshot, "snapshot file %s records id %q", snap.Path, snap.ID).
			WithHint("the snapshot file was modified; restore it from a backup or pick another snapshot")
	}
	return snap, nil
}

// Load reads and validates a snapshot file.
func (m *Manager) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, snapshotErr(err, "snapshot %s does not exist", path).WithHint(listHint)
	}
	if err != nil {
		return nil, snapshotErr(err, "failed to read snapshot %s", path)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, snapshotErr(err, "snapshot %s is corrupt", path).WithHint(listHint)
	}
	if err := snap.validate(); err != nil {
		return nil, snapshotErr(err, "snapshot %s is invalid", path).WithHint(listHint)
	}
	snap.Path = path
	return &snap, nil
}

// Prune deletes snapshot files beyond the newest keep. Index rows stay as an
// audit record and are flagged as pruned. It returns the pruned ids.
func (m *Manager) Prune(keep int) ([]string, error) {
	if keep < 1 {
		return nil, errs.Newf(errs.ErrInvalidInput, "must keep at least one snapshot, got %d", keep)
	}

	rows, err := m.List()
	if err != nil {
		return nil, err
	}

	var pruned []string
	kept := 0
	for _, row := range rows {
		if row.Pruned {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := os.Remove(row.SnapshotPath); err != nil && !os.IsNotExist(err) {
			return pruned, snapshotErr(err, "failed to delete snapshot file %s", row.SnapshotPath)
		}
		if err := m.store.MarkSnapshotPruned(row.ID); err != nil {
			return pruned, snapshotErr(err, "failed to mark snapshot %s pruned", row.ID)
		}
		pruned = append(pruned, row.ID)
	}

	if len(pruned) > 0 {
		m.logger.Info().Int("pruned", len(pruned)).Int("kept", kept).Msg("Pruned snapshots")
	}
	return pruned, nil
}
