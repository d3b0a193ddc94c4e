// Package executor previews and applies execution plans through the
// package-manager client, one operation at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
	"github.com/blackwell-systems/craftbrew/internal/logging"
	"github.com/blackwell-systems/craftbrew/internal/output"
	"github.com/blackwell-systems/craftbrew/internal/planner"
	"github.com/blackwell-systems/craftbrew/internal/store"
	"github.com/blackwell-systems/craftbrew/internal/telemetry"
)

// ErrAborted is returned by Apply when the user declines confirmation.
// Nothing was changed.
var ErrAborted = errors.New("aborted: confirmation declined, nothing was changed")

// DefaultOperationTimeout bounds a single package manager call.
const DefaultOperationTimeout = 10 * time.Minute

// Executor runs plans against a brew.Client.
type Executor struct {
	client    brew.Client
	confirmer Confirmer
	policy    brew.RetryPolicy
	timeout   time.Duration
	logger    zerolog.Logger
	oplog     *logging.OpLog
	history   *store.Store
	metrics   *telemetry.Metrics
	progress  io.Writer
	before    func(ctx context.Context, plan *planner.Plan) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithConfirmer sets how destructive plans are confirmed.
func WithConfirmer(c Confirmer) Option {
	return func(e *Executor) { e.confirmer = c }
}

// WithRetryPolicy sets the retry policy for transient and lock-held failures.
func WithRetryPolicy(p brew.RetryPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithTimeout bounds each client call.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithOpLog appends every attempted operation to l.
func WithOpLog(l *logging.OpLog) Option {
	return func(e *Executor) { e.oplog = l }
}

// WithHistory records operations in the run history. The run row, keyed by
// the plan id, must exist before execution starts.
func WithHistory(s *store.Store) Option {
	return func(e *Executor) { e.history = s }
}

// WithMetrics records operation metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithProgress draws a progress bar on w while applying.
func WithProgress(w io.Writer) Option {
	return func(e *Executor) { e.progress = w }
}

// WithBeforeExecute runs fn after confirmation and before the first
// operation. An error aborts the plan with nothing changed.
func WithBeforeExecute(fn func(ctx context.Context, plan *planner.Plan) error) Option {
	return func(e *Executor) { e.before = fn }
}

// New creates an Executor.
func New(client brew.Client, opts ...Option) *Executor {
	e := &Executor{
		client:    client,
		confirmer: NewStdinConfirmer(),
		policy:    brew.DefaultRetryPolicy,
		timeout:   DefaultOperationTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preview renders plan to w and marks it previewed. The client is never called.
func (e *Executor) Preview(w io.Writer, plan *planner.Plan) error {
	if err := plan.Transition(planner.StatePreviewed); err != nil {
		return err
	}
	output.RenderPlan(w, plan)
	return nil
}

// Apply executes plan. Destructive plans need confirmation unless forced;
// a declined confirmation returns ErrAborted. Operations run sequentially
// and a failure does not stop the batch. When ctx is cancelled the running
// operation finishes, the rest are recorded as skipped and the plan still
// completes with Summary.Cancelled set.
func (e *Executor) Apply(ctx context.Context, plan *planner.Plan) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: plan.ID}

	if plan.Mode != planner.ModeApply {
		return nil, errs.Newf(errs.ErrPlanValidation, "plan %s was built for %s, not apply", plan.ID, plan.Mode)
	}

	if plan.Destructive() && !plan.Force {
		if err := plan.Transition(planner.StateAwaitingConfirmation); err != nil {
			return nil, err
		}
		ok, err := e.confirmer.Confirm(confirmPrompt(plan))
		if err != nil || !ok {
			_ = plan.Transition(planner.StateAborted)
			if err != nil {
				return nil, errs.Wrap(err, errs.ErrInvalidInput, "confirmation failed")
			}
			e.logger.Info().Str("plan", plan.ID).Msg("Plan declined")
			return nil, ErrAborted
		}
	}

	if e.before != nil && !plan.Empty() {
		if err := e.before(ctx, plan); err != nil {
			_ = plan.Transition(planner.StateAborted)
			return nil, err
		}
	}

	if err := plan.Transition(planner.StateExecuting); err != nil {
		return nil, err
	}

	ops := plan.Operations()
	var bar *output.ProgressBar
	if e.progress != nil && len(ops) > 0 {
		bar = output.NewProgress(len(ops), fmt.Sprintf("Applying %d operations", len(ops)))
		bar.SetWriter(e.progress)
	}

	for i, op := range ops {
		if ctx.Err() != nil {
			for _, rest := range ops[i:] {
				r := Result{Operation: rest, Status: StatusSkipped, Message: "cancelled before start"}
				summary.add(r)
				e.record(plan, r)
			}
			summary.Cancelled = true
			break
		}

		r := e.run(ctx, op)
		summary.add(r)
		e.record(plan, r)
		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		bar.Finish()
	}

	summary.Duration = time.Since(start)
	if err := plan.Transition(planner.StateCompleted); err != nil {
		return summary, err
	}

	e.logger.Info().
		Str("plan", plan.ID).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("Plan applied")
	return summary, nil
}

// run executes one operation with retries. The call itself runs on a
// context that ignores cancellation so an in-flight install is never
// interrupted halfway; only the timeout applies.
func (e *Executor) run(ctx context.Context, op planner.Operation) Result {
	start := time.Now()
	log := e.logger.With().
		Str("op", op.Action.String()).
		Str("package", op.Package.Identity.String()).
		Logger()

	attempts, err := brew.Retry(ctx, e.policy, func(ctx context.Context) error {
		callCtx := context.WithoutCancel(ctx)
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, e.timeout)
			defer cancel()
		}

		var err error
		switch op.Action {
		case planner.ActionInstall:
			err = e.client.Install(callCtx, op.Package)
		case planner.ActionRemove:
			err = e.client.Remove(callCtx, op.Package)
		}
		if err != nil {
			log.Debug().Err(err).Msg("Attempt failed")
		}
		return err
	})

	r := Result{Operation: op, Attempts: attempts, Duration: time.Since(start)}
	switch {
	case err == nil:
		r.Status = StatusSuccess
		log.Info().Int("attempts", attempts).Dur("duration", r.Duration).Msg("Operation succeeded")
	case op.Action == planner.ActionRemove && brew.FailureOf(err) == brew.FailureNotFound:
		r.Status = StatusSuccess
		r.Message = "already absent"
		log.Info().Msg("Package already absent")
	default:
		r.Status = StatusFailed
		r.Err = errs.Wrapf(err, errs.ErrExecution, "%s failed", op)
		r.Message = err.Error()
		log.Warn().Err(err).Int("attempts", attempts).Msg("Operation failed")
	}
	return r
}

func (e *Executor) record(plan *planner.Plan, r Result) {
	kind := r.Operation.Package.Kind.String()
	action := r.Operation.Action.String()

	e.oplog.Record(logging.OpRecord{
		RunID:    plan.ID,
		Kind:     kind,
		Name:     r.Operation.Package.Name,
		Op:       action,
		Status:   r.Status.String(),
		Attempts: r.Attempts,
		Duration: r.Duration,
		Err:      r.Err,
	})

	e.metrics.RecordOperation(kind, action, r.Status.String(), r.Attempts, r.Duration)

	if e.history != nil {
		err := e.history.InsertOperation(&store.Operation{
			RunID:    plan.ID,
			Kind:     kind,
			Name:     r.Operation.Package.Name,
			Action:   action,
			Status:   r.Status.String(),
			Attempts: r.Attempts,
			Duration: r.Duration,
			Message:  r.Message,
		})
		if err != nil {
			e.logger.Warn().Err(err).Msg("Failed to record operation in run history")
		}
	}
}

func confirmPrompt(plan *planner.Plan) string {
	if len(plan.Installs) == 0 {
		return fmt.Sprintf("Remove %d packages?", len(plan.Removals))
	}
	return fmt.Sprintf("Install %d and remove %d packages?", len(plan.Installs), len(plan.Removals))
}
