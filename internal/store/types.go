package store

import "time"

// Snapshot is the index row of a snapshot file.
type Snapshot struct {
	ID           string
	CreatedAt    time.Time
	Reason       string
	ManifestHash string
	PackageCount int
	SnapshotPath string
	// Pruned is set once retention removed the JSON file. The row stays as
	// an audit record.
	Pruned bool
}

// SnapshotPackage is one package recorded in a snapshot.
type SnapshotPackage struct {
	SnapshotID string
	Kind       string
	Name       string
	Attributes map[string]string
}

// Run is one invocation that applied (or tried to apply) a plan.
type Run struct {
	ID           string
	Verb         string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	SnapshotID   string
	ManifestHash string
	Succeeded    int
	Failed       int
	Skipped      int
}

// Operation is one attempted package operation within a run.
type Operation struct {
	RunID      string
	Kind       string
	Name       string
	Action     string
	Status     string
	Attempts   int
	Duration   time.Duration
	Message    string
	RecordedAt time.Time
}
