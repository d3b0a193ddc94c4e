package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
	"github.com/blackwell-systems/craftbrew/internal/store"
)

const (
	latestFile  = "latest"
	idTimestamp = "20060102-150405"
	// maxIDAttempts bounds retries when a generated id already exists.
	maxIDAttempts = 3
)

// Capture probes the installed package set and records it. Probe errors are
// returned unchanged; everything else is a SNAPSHOT error.
func (m *Manager) Capture(ctx context.Context, reason, manifestHash string) (*Snapshot, error) {
	actual, err := m.prober.Probe(ctx)
	if err != nil {
		return nil, err
	}
	return m.Record(actual, reason, manifestHash)
}

// Record writes set as a new snapshot, indexes it and moves the latest
// pointer to it.
func (m *Manager) Record(set brew.Set, reason, manifestHash string) (*Snapshot, error) {
	if err := os.MkdirAll(m.snapshotDir, 0o755); err != nil {
		return nil, snapshotErr(err, "failed to create snapshot directory %s", m.snapshotDir)
	}

	snap := &Snapshot{
		Version:      FormatVersion,
		CreatedAt:    m.now().UTC(),
		Reason:       reason,
		ManifestHash: manifestHash,
		Packages:     set.Sorted(),
	}
	for i := range snap.Packages {
		snap.Packages[i].Source = ""
	}

	if err := m.writeExclusive(snap); err != nil {
		return nil, err
	}

	rows := make([]store.SnapshotPackage, len(snap.Packages))
	for i, p := range snap.Packages {
		rows[i] = store.SnapshotPackage{
			SnapshotID: snap.ID,
			Kind:       p.Kind.String(),
			Name:       p.Name,
			Attributes: p.Attributes,
		}
	}
	indexRow := &store.Snapshot{
		ID:           snap.ID,
		CreatedAt:    snap.CreatedAt,
		Reason:       reason,
		ManifestHash: manifestHash,
		PackageCount: len(snap.Packages),
		SnapshotPath: snap.Path,
	}
	if err := m.store.InsertSnapshot(indexRow, rows); err != nil {
		os.Remove(snap.Path)
		return nil, snapshotErr(err, "failed to index snapshot %s", snap.ID)
	}

	if err := m.setLatest(snap.ID); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("snapshot", snap.ID).
		Int("packages", len(snap.Packages)).
		Str("reason", reason).
		Msg("Snapshot captured")
	return snap, nil
}

// writeExclusive assigns snap an unused id and writes its file with
// O_EXCL so an existing snapshot is never overwritten.
func (m *Manager) writeExclusive(snap *Snapshot) error {
	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		snap.ID = fmt.Sprintf("%s-%s", snap.CreatedAt.Format(idTimestamp), nonce())
		snap.Path = filepath.Join(m.snapshotDir, snap.ID+".json")

		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return snapshotErr(err, "failed to encode snapshot")
		}

		f, err := os.OpenFile(snap.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
		if os.IsExist(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return snapshotErr(err, "failed to create snapshot file %s", snap.Path)
		}

		_, werr := f.Write(append(data, '\n'))
		if werr == nil {
			werr = f.Sync()
		}
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(snap.Path)
			return snapshotErr(werr, "failed to write snapshot file %s", snap.Path)
		}
		return nil
	}
	return snapshotErr(lastErr, "could not allocate a unique snapshot id")
}

// setLatest atomically points the latest file at id.
func (m *Manager) setLatest(id string) error {
	if err := writeAtomic(filepath.Join(m.snapshotDir, latestFile), []byte(id+"\n")); err != nil {
		return snapshotErr(err, "failed to update latest snapshot pointer")
	}
	return nil
}

// Export writes a copy of snap to path.
func (m *Manager) Export(snap *Snapshot, path string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return snapshotErr(err, "failed to encode snapshot %s", snap.ID)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return snapshotErr(err, "failed to create directory for %s", path)
		}
	}
	if err := writeAtomic(path, append(data, '\n')); err != nil {
		return snapshotErr(err, "failed to export snapshot to %s", path)
	}
	return nil
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func nonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func snapshotErr(err error, format string, args ...interface{}) *errs.Error {
	if err == nil {
		return errs.Newf(errs.ErrSnapshot, format, args...)
	}
	return errs.Wrapf(err, errs.ErrSnapshot, format, args...)
}
