// Package engine wires the reconciliation pipeline together: load the
// manifests and probe the system, diff, plan, then preview or apply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/diff"
	"github.com/blackwell-systems/craftbrew/internal/executor"
	"github.com/blackwell-systems/craftbrew/internal/logging"
	"github.com/blackwell-systems/craftbrew/internal/manifest"
	"github.com/blackwell-systems/craftbrew/internal/planner"
	"github.com/blackwell-systems/craftbrew/internal/scanner"
	"github.com/blackwell-systems/craftbrew/internal/snapshots"
	"github.com/blackwell-systems/craftbrew/internal/store"
	"github.com/blackwell-systems/craftbrew/internal/telemetry"
)

// Run statuses stored in the history.
const (
	RunExecuting = "executing"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunCancelled = "cancelled"
	RunAborted   = "aborted"
)

// Config holds the collaborators and settings of an Engine.
type Config struct {
	Client brew.Client
	Store  *store.Store
	// SnapshotDir holds the snapshot JSON files.
	SnapshotDir string
	Protected   *diff.Protected

	Retry            brew.RetryPolicy
	ProbeTimeout     time.Duration
	OperationTimeout time.Duration
	RemovalsFirst    bool
	// SnapshotRetention keeps this many snapshots after each capture.
	// Zero keeps all.
	SnapshotRetention int

	Confirmer executor.Confirmer
	OpLog     *logging.OpLog
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
	// Out receives previews and reports. Defaults to stdout.
	Out io.Writer
	// Progress receives the progress bar during apply. Nil disables it.
	Progress io.Writer
}

// Engine runs the craftbrew verbs.
type Engine struct {
	cfg       Config
	scanner   *scanner.Scanner
	snapshots *snapshots.Manager
	logger    zerolog.Logger
	out       io.Writer
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Protected == nil {
		cfg.Protected = diff.NewProtected()
	}

	scanOpts := []scanner.Option{
		scanner.WithLogger(cfg.Logger.With().Str("component", "scanner").Logger()),
		scanner.WithRetryPolicy(cfg.Retry),
	}
	if cfg.ProbeTimeout > 0 {
		scanOpts = append(scanOpts, scanner.WithTimeout(cfg.ProbeTimeout))
	}
	sc := scanner.New(cfg.Client, scanOpts...)

	return &Engine{
		cfg:     cfg,
		scanner: sc,
		snapshots: snapshots.New(cfg.Store, cfg.SnapshotDir, sc,
			snapshots.WithProtected(cfg.Protected),
			snapshots.WithLogger(cfg.Logger.With().Str("component", "snapshots").Logger()),
		),
		logger: cfg.Logger.With().Str("component", "engine").Logger(),
		out:    cfg.Out,
	}
}

// Snapshots exposes the snapshot manager.
func (e *Engine) Snapshots() *snapshots.Manager { return e.snapshots }

// Request describes one reconciliation.
type Request struct {
	Verb      planner.Verb
	Manifests []string
	// DryRun previews the plan without calling the package manager.
	DryRun bool
	// Force skips confirmation of destructive plans.
	Force bool
	// NoSnapshot skips the snapshot taken before destructive plans.
	NoSnapshot bool
}

// Result is the outcome of a reconciliation.
type Result struct {
	Plan    *planner.Plan
	Diff    diff.Diff
	Desired *manifest.DesiredState
	// Summary is nil for previews and aborted plans.
	Summary *executor.Summary
	// Snapshot is the snapshot taken before applying, if any.
	Snapshot *snapshots.Snapshot
	// Aborted is set when the user declined confirmation.
	Aborted bool
}

// Compute loads the manifests and probes the installed packages in
// parallel, then diffs them. Both must succeed before anything is compared.
func (e *Engine) Compute(ctx context.Context, paths []string) (*manifest.DesiredState, brew.Set, diff.Diff, error) {
	var (
		desired *manifest.DesiredState
		actual  brew.Set
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		desired, err = manifest.Load(gctx, paths...)
		return err
	})
	g.Go(func() error {
		var err error
		actual, err = e.scanner.Probe(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, diff.Diff{}, err
	}

	d := diff.Compute(desired.Packages, actual, e.cfg.Protected)
	e.cfg.Metrics.RecordDiff(len(d.ToInstall), len(d.ToRemove), len(d.Unchanged))
	e.logger.Debug().
		Str("manifest_hash", desired.Hash.String()).
		Int("desired", len(desired.Packages)).
		Int("installed", len(actual)).
		Str("diff", d.Summary()).
		Msg("Diff computed")
	return desired, actual, d, nil
}

// Run reconciles the system against req.Manifests for install, sync,
// cleanup and diff.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	desired, actual, d, err := e.Compute(ctx, req.Manifests)
	if err != nil {
		return nil, err
	}

	plan := planner.New(d, e.mode(req), req.Verb, e.planOptions(req)...)
	res := &Result{Plan: plan, Diff: d, Desired: desired}

	capture := func(context.Context) (*snapshots.Snapshot, error) {
		return e.snapshots.Record(actual, fmt.Sprintf("before %s", req.Verb), desired.Hash.String())
	}
	if err := e.execute(ctx, res, req, desired.Hash.String(), capture); err != nil {
		return res, err
	}

	e.finish(req.Verb, res, start)
	return res, nil
}

// Rollback restores the snapshot with the given id ("" or "latest" for the
// most recent) through the same plan and execution path as sync. The
// pre-rollback snapshot and the run row record the hash of req.Manifests.
func (e *Engine) Rollback(ctx context.Context, id string, req Request) (*Result, error) {
	start := time.Now()
	req.Verb = planner.VerbRollback

	snap, err := e.snapshots.Get(id)
	if err != nil {
		return nil, err
	}
	hash, err := e.manifestHash(ctx, req.Manifests)
	if err != nil {
		return nil, err
	}

	plan, d, err := e.snapshots.Restore(ctx, snap, e.mode(req), e.planOptions(req)...)
	if err != nil {
		return nil, err
	}
	e.cfg.Metrics.RecordDiff(len(d.ToInstall), len(d.ToRemove), len(d.Unchanged))
	e.logger.Info().Str("snapshot", snap.ID).Str("diff", d.Summary()).Msg("Rolling back")

	res := &Result{Plan: plan, Diff: d}
	capture := func(ctx context.Context) (*snapshots.Snapshot, error) {
		return e.snapshots.Capture(ctx, fmt.Sprintf("before rollback to %s", snap.ID), hash)
	}
	if err := e.execute(ctx, res, req, hash, capture); err != nil {
		return res, err
	}

	e.finish(req.Verb, res, start)
	return res, nil
}

// Backup captures the installed package set and optionally exports a copy.
// The snapshot records the hash of the given manifests.
func (e *Engine) Backup(ctx context.Context, reason, exportPath string, manifests []string) (*snapshots.Snapshot, error) {
	if reason == "" {
		reason = "manual backup"
	}
	hash, err := e.manifestHash(ctx, manifests)
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshots.Capture(ctx, reason, hash)
	if err != nil {
		return nil, err
	}
	if exportPath != "" {
		if err := e.snapshots.Export(snap, exportPath); err != nil {
			return snap, err
		}
	}
	e.prune()
	e.logger.Info().Str("snapshot", snap.ID).Int("packages", len(snap.Packages)).Msg("Backup created")
	return snap, nil
}

// manifestHash loads paths and returns the desired state's hash. No paths
// means no hash.
func (e *Engine) manifestHash(ctx context.Context, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}
	desired, err := manifest.Load(ctx, paths...)
	if err != nil {
		return "", err
	}
	return desired.Hash.String(), nil
}

func (e *Engine) mode(req Request) planner.Mode {
	if req.DryRun || req.Verb == planner.VerbDiff {
		return planner.ModePreview
	}
	return planner.ModeApply
}

func (e *Engine) planOptions(req Request) []planner.Option {
	return []planner.Option{
		planner.WithRemovalsFirst(e.cfg.RemovalsFirst),
		planner.WithForce(req.Force),
	}
}

// execute validates res.Plan and previews or applies it. The pre-apply
// snapshot and the run row are written only after confirmation.
func (e *Engine) execute(ctx context.Context, res *Result, req Request, manifestHash string,
	capture func(context.Context) (*snapshots.Snapshot, error)) error {
	plan := res.Plan

	if err := plan.Validate(e.cfg.Protected); err != nil {
		return err
	}

	if plan.Mode == planner.ModePreview {
		return e.executor(nil).Preview(e.out, plan)
	}

	before := func(ctx context.Context, p *planner.Plan) error {
		run := &store.Run{
			ID:           p.ID,
			Verb:         string(p.Verb),
			StartedAt:    time.Now(),
			Status:       RunExecuting,
			ManifestHash: manifestHash,
		}
		if p.Destructive() && !req.NoSnapshot {
			snap, err := capture(ctx)
			if err != nil {
				return err
			}
			res.Snapshot = snap
			run.SnapshotID = snap.ID
			e.logger.Info().Str("snapshot", snap.ID).Msg("Snapshot taken before applying")
		}
		if e.cfg.Store != nil {
			if err := e.cfg.Store.InsertRun(run); err != nil {
				e.logger.Warn().Err(err).Msg("Failed to record run in history")
			}
		}
		return nil
	}

	summary, err := e.executor(before).Apply(ctx, plan)
	if errors.Is(err, executor.ErrAborted) {
		res.Aborted = true
		return nil
	}
	if err != nil {
		return err
	}
	res.Summary = summary
	return nil
}

func (e *Engine) executor(before func(context.Context, *planner.Plan) error) *executor.Executor {
	opts := []executor.Option{
		executor.WithRetryPolicy(e.cfg.Retry),
		executor.WithLogger(e.cfg.Logger.With().Str("component", "executor").Logger()),
		executor.WithOpLog(e.cfg.OpLog),
		executor.WithMetrics(e.cfg.Metrics),
	}
	if e.cfg.Confirmer != nil {
		opts = append(opts, executor.WithConfirmer(e.cfg.Confirmer))
	}
	if e.cfg.OperationTimeout > 0 {
		opts = append(opts, executor.WithTimeout(e.cfg.OperationTimeout))
	}
	if e.cfg.Store != nil {
		opts = append(opts, executor.WithHistory(e.cfg.Store))
	}
	if e.cfg.Progress != nil {
		opts = append(opts, executor.WithProgress(e.cfg.Progress))
	}
	if before != nil {
		opts = append(opts, executor.WithBeforeExecute(before))
	}
	return executor.New(e.cfg.Client, opts...)
}

// finish closes the run row, records run metrics and applies snapshot
// retention.
func (e *Engine) finish(verb planner.Verb, res *Result, start time.Time) {
	status := RunCompleted
	switch {
	case res.Aborted:
		status = RunAborted
	case res.Summary == nil:
		e.cfg.Metrics.RecordRun(string(verb), "preview", time.Since(start))
		return
	case res.Summary.Cancelled:
		status = RunCancelled
	case res.Summary.Failed > 0:
		status = RunPartial
	}
	e.cfg.Metrics.RecordRun(string(verb), status, time.Since(start))

	if res.Summary != nil && len(res.Summary.Results) > 0 && e.cfg.Store != nil {
		finished := time.Now()
		run := &store.Run{
			ID:         res.Plan.ID,
			FinishedAt: &finished,
			Status:     status,
			Succeeded:  res.Summary.Succeeded,
			Failed:     res.Summary.Failed,
			Skipped:    res.Summary.Skipped,
		}
		if res.Snapshot != nil {
			run.SnapshotID = res.Snapshot.ID
		}
		if err := e.cfg.Store.FinishRun(run); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to finish run in history")
		}
	}

	if res.Snapshot != nil {
		e.prune()
	}
}

func (e *Engine) prune() {
	if e.cfg.SnapshotRetention <= 0 {
		return
	}
	pruned, err := e.snapshots.Prune(e.cfg.SnapshotRetention)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Snapshot retention failed")
		return
	}
	if len(pruned) > 0 {
		e.logger.Info().Strs("snapshots", pruned).Msg("Pruned old snapshots")
	}
}

// History returns the most recent runs, newest first.
func (e *Engine) History(limit int) ([]*store.Run, error) {
	return e.cfg.Store.ListRuns(limit)
}

// RunOperations returns the operations recorded for a run.
func (e *Engine) RunOperations(runID string) ([]*store.Operation, error) {
	return e.cfg.Store.GetRunOperations(runID)
}
