// Package scanner probes the package manager for the currently installed
// package set. Results are never cached: every probe asks the client.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
)

// Scanner lists installed packages through a brew.Client.
type Scanner struct {
	client  brew.Client
	logger  zerolog.Logger
	policy  brew.RetryPolicy
	timeout time.Duration
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithRetryPolicy sets how lock-held and transient list failures are retried.
func WithRetryPolicy(p brew.RetryPolicy) Option {
	return func(s *Scanner) { s.policy = p }
}

// WithTimeout bounds each List call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.timeout = d }
}

// New creates a Scanner for client.
func New(client brew.Client, opts ...Option) *Scanner {
	s := &Scanner{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Probe returns the union of installed packages across every kind. Kinds are
// listed concurrently. Any failure aborts the probe with a PROBE error that
// stays retryable when the package manager lock was held.
func (s *Scanner) Probe(ctx context.Context) (brew.Set, error) {
	start := time.Now()

	var mu sync.Mutex
	actual := make(brew.Set)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range brew.AllKinds {
		kind := kind
		g.Go(func() error {
			pkgs, err := s.list(gctx, kind)
			if err != nil {
				return errs.Wrapf(err, errs.ErrProbe, "failed to list installed %s packages", kind).
					WithHint("%s", probeHint(err)).
					WithDetail("kind", kind.String())
			}

			mu.Lock()
			defer mu.Unlock()
			for _, p := range pkgs {
				p.Source = ""
				actual.Add(p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("packages", len(actual)).
		Dur("duration", time.Since(start)).
		Msg("Probed installed packages")
	return actual, nil
}

func (s *Scanner) list(ctx context.Context, kind brew.Kind) ([]brew.Package, error) {
	var pkgs []brew.Package
	attempts, err := brew.Retry(ctx, s.policy, func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		var err error
		pkgs, err = s.client.List(ctx, kind)
		if err != nil {
			s.logger.Debug().Err(err).Str("kind", kind.String()).Msg("List failed")
		}
		return err
	})
	if attempts > 1 {
		s.logger.Info().Str("kind", kind.String()).Int("attempts", attempts).Msg("List retried")
	}
	return pkgs, err
}

func probeHint(err error) string {
	switch brew.FailureOf(err) {
	case brew.FailureLocked:
		return "another Homebrew process holds the lock; wait for it to finish and retry"
	case brew.FailureUnavailable:
		return "make sure Homebrew is installed and on PATH"
	case brew.FailurePermission:
		return "check ownership of the Homebrew prefix"
	default:
		return "run with -vv to see the package manager output"
	}
}
