package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// timeFormat is fixed width so text ordering matches time ordering.
const (
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
	timeLayout = time.RFC3339Nano
)

// Snapshot operations

// InsertSnapshot records a snapshot and its packages in one transaction.
func (s *Store) InsertSnapshot(snap *Snapshot, pkgs []SnapshotPackage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO snapshots (id, created_at, reason, manifest_hash, package_count, snapshot_path, pruned)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID,
		snap.CreatedAt.UTC().Format(timeFormat),
		snap.Reason,
		snap.ManifestHash,
		snap.PackageCount,
		snap.SnapshotPath,
		snap.Pruned,
	)
	if err != nil {
		return wrapErr(err, "failed to insert snapshot %s", snap.ID)
	}

	for _, pkg := range pkgs {
		attrs, err := json.Marshal(pkg.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes of %s: %w", pkg.Name, err)
		}
		_, err = tx.Exec(`
			INSERT INTO snapshot_packages (snapshot_id, kind, name, attributes)
			VALUES (?, ?, ?, ?)
		`, snap.ID, pkg.Kind, pkg.Name, string(attrs))
		if err != nil {
			return wrapErr(err, "failed to insert snapshot package %s:%s", pkg.Kind, pkg.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot row by id.
func (s *Store) GetSnapshot(id string) (*Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, reason, manifest_hash, package_count, snapshot_path, pruned
		FROM snapshots
		WHERE id = ?
	`, id)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get snapshot %s", id)
	}
	return snap, nil
}

// ListSnapshots returns all snapshots ordered by creation time (newest first).
func (s *Store) ListSnapshots() ([]*Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, reason, manifest_hash, package_count, snapshot_path, pruned
		FROM snapshots
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, wrapErr(err, "failed to list snapshots")
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// GetSnapshotPackages returns all packages in a snapshot.
func (s *Store) GetSnapshotPackages(snapshotID string) ([]*SnapshotPackage, error) {
	rows, err := s.db.Query(`
		SELECT snapshot_id, kind, name, attributes
		FROM snapshot_packages
		WHERE snapshot_id = ?
		ORDER BY kind, name
	`, snapshotID)
	if err != nil {
		return nil, wrapErr(err, "failed to get snapshot packages")
	}
	defer rows.Close()

	var packages []*SnapshotPackage
	for rows.Next() {
		var pkg SnapshotPackage
		var attrs sql.NullString
		if err := rows.Scan(&pkg.SnapshotID, &pkg.Kind, &pkg.Name, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot package row: %w", err)
		}
		if attrs.Valid && attrs.String != "" && attrs.String != "null" {
			if err := json.Unmarshal([]byte(attrs.String), &pkg.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attributes of %s: %w", pkg.Name, err)
			}
		}
		packages = append(packages, &pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot packages: %w", err)
	}
	return packages, nil
}

// MarkSnapshotPruned flags a snapshot whose file was deleted by retention.
func (s *Store) MarkSnapshotPruned(id string) error {
	res, err := s.db.Exec(`UPDATE snapshots SET pruned = 1 WHERE id = ?`, id)
	if err != nil {
		return wrapErr(err, "failed to mark snapshot %s pruned", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var createdAt string
	var reason, hash sql.NullString

	err := row.Scan(
		&snap.ID,
		&createdAt,
		&reason,
		&hash,
		&snap.PackageCount,
		&snap.SnapshotPath,
		&snap.Pruned,
	)
	if err != nil {
		return nil, err
	}
	snap.Reason = reason.String
	snap.ManifestHash = hash.String

	snap.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for snapshot %s: %w", snap.ID, err)
	}
	return &snap, nil
}

// Run history operations

// InsertRun records the start of a run.
func (s *Store) InsertRun(run *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, verb, started_at, status, snapshot_id, manifest_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Verb,
		run.StartedAt.UTC().Format(timeFormat),
		run.Status,
		run.SnapshotID,
		run.ManifestHash,
	)
	if err != nil {
		return wrapErr(err, "failed to insert run %s", run.ID)
	}
	return nil
}

// FinishRun stores the final status and counts of a run.
func (s *Store) FinishRun(run *Run) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := s.db.Exec(`
		UPDATE runs
		SET finished_at = ?, status = ?, snapshot_id = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE id = ?
	`,
		finished.UTC().Format(timeFormat),
		run.Status,
		run.SnapshotID,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.ID,
	)
	if err != nil {
		return wrapErr(err, "failed to finish run %s", run.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// InsertOperation appends an operation to a run.
func (s *Store) InsertOperation(op *Operation) error {
	recorded := op.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO operations (run_id, kind, name, action, status, attempts, duration_ms, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.RunID,
		op.Kind,
		op.Name,
		op.Action,
		op.Status,
		op.Attempts,
		op.Duration.Milliseconds(),
		op.Message,
		recorded.UTC().Format(timeFormat),
	)
	if err != nil {
		return wrapErr(err, "failed to insert operation %s %s:%s", op.Action, op.Kind, op.Name)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, verb, started_at, finished_at, status, snapshot_id, manifest_hash, succeeded, failed, skipped
		FROM runs
		ORDER BY started_at DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapErr(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var startedAt string
		var finishedAt, snapshotID, hash sql.NullString
		err := rows.Scan(
			&run.ID,
			&run.Verb,
			&startedAt,
			&finishedAt,
			&run.Status,
			&snapshotID,
			&hash,
			&run.Succeeded,
			&run.Failed,
			&run.Skipped,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.SnapshotID = snapshotID.String
		run.ManifestHash = hash.String

		run.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at for run %s: %w", run.ID, err)
		}
		if finishedAt.Valid && finishedAt.String != "" {
			t, err := time.Parse(timeLayout, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse finished_at for run %s: %w", run.ID, err)
			}
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRunOperations returns the operations of a run in the order recorded.
func (s *Store) GetRunOperations(runID string) ([]*Operation, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, name, action, status, attempts, duration_ms, message, recorded_at
		FROM operations
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, wrapErr(err, "failed to get operations of run %s", runID)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var durationMS int64
		var message sql.NullString
		var recordedAt string
		err := rows.Scan(&op.RunID, &op.Kind, &op.Name, &op.Action, &op.Status, &op.Attempts, &durationMS, &message, &recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		op.Duration = time.Duration(durationMS) * time.Millisecond
		op.Message = message.String
		op.RecordedAt, err = time.Parse(timeLayout, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}
