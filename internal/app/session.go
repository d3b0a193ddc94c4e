package app

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/craftbrew/internal/brew"
	"github.com/blackwell-systems/craftbrew/internal/config"
	"github.com/blackwell-systems/craftbrew/internal/diff"
	"github.com/blackwell-systems/craftbrew/internal/engine"
	errs "github.com/blackwell-systems/craftbrew/internal/errors"
	"github.com/blackwell-systems/craftbrew/internal/logging"
	"github.com/blackwell-systems/craftbrew/internal/store"
	"github.com/blackwell-systems/craftbrew/internal/telemetry"
)

// session is everything one verb needs: the loaded config, the opened
// history database and the engine built on top of them.
type session struct {
	opts    *globalOptions
	cfg     *config.Config
	store   *store.Store
	oplog   *logging.OpLog
	metrics *telemetry.Metrics
	engine  *engine.Engine
	logger  zerolog.Logger
	logFile io.Closer
}

// openSession loads the configuration, sets up logging and opens the
// history database. Callers must Close the session.
func openSession(cmd *cobra.Command, opts *globalOptions) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	logFile := logging.Setup(opts.verbosity, opts.quiet, cfg.LogFile)
	logger := logging.GetLogger("app")

	protected, err := diff.ParseProtected(append(append([]string{}, cfg.Protected...), opts.protect...)...)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	dbPath := cfg.DBPath
	if opts.dbPath != "" {
		dbPath = opts.dbPath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		logFile.Close()
		return nil, errs.Wrapf(err, errs.ErrSnapshot, "failed to open history database %s", dbPath).
			WithHint("Check that %s is writable or pass --db", dbPath)
	}

	oplog, err := logging.OpenOpLog(cfg.OpLogFile)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.OpLogFile).Msg("Operation log disabled")
		oplog = nil
	}

	metrics := telemetry.Disabled()
	if opts.metricsFile != "" {
		metrics = telemetry.New()
	}

	retry := brew.DefaultRetryPolicy
	retry.Retries = cfg.Retries

	s := &session{
		opts:    opts,
		cfg:     cfg,
		store:   st,
		oplog:   oplog,
		metrics: metrics,
		logger:  logger,
		logFile: logFile,
	}
	s.engine = engine.New(engine.Config{
		Client:            newClient(cfg),
		Store:             st,
		SnapshotDir:       cfg.SnapshotDir,
		Protected:         protected,
		Retry:             retry,
		ProbeTimeout:      cfg.Timeouts.Probe,
		OperationTimeout:  cfg.Timeouts.Operation,
		RemovalsFirst:     cfg.RemovalsFirst(),
		SnapshotRetention: cfg.SnapshotRetention,
		Confirmer:         newConfirmer(),
		OpLog:             oplog,
		Metrics:           metrics,
		Logger:            log.Logger,
		Out:               cmd.OutOrStdout(),
		Progress:          s.progressWriter(cmd),
	})

	logger.Debug().
		Str("config", cfg.Path).
		Str("db", dbPath).
		Strs("protected", protectedNames(protected)).
		Msg("Session opened")
	return s, nil
}

func (s *session) progressWriter(cmd *cobra.Command) io.Writer {
	if s.opts.quiet {
		return nil
	}
	return cmd.ErrOrStderr()
}

// manifests resolves --manifests, or the --system profile.
func (s *session) manifests() ([]string, error) {
	if len(s.opts.manifests) > 0 {
		return s.opts.manifests, nil
	}
	return s.cfg.Manifests(s.opts.system)
}

// Close writes the metrics file and releases the database and both logs.
func (s *session) Close() error {
	var firstErr error
	if s.opts.metricsFile != "" {
		if err := s.metrics.WriteTextfile(s.opts.metricsFile); err != nil {
			firstErr = err
		}
	}
	if err := s.oplog.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close operation log: %w", err)
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}
	if err := s.logFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close log file: %w", err)
	}
	return firstErr
}

// withSession opens a session around fn and reports close failures as
// warnings so they never mask fn's result.
func withSession(cmd *cobra.Command, opts *globalOptions, fn func(*session) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		s.logger.Debug().Dur("duration", time.Since(start)).Str("command", cmd.Name()).Msg("Command finished")
		// The session logger writes to the log file, which Close releases.
		if cerr := s.Close(); cerr != nil {
			logger := logging.GetLogger("app")
			logger.Warn().Err(cerr).Msg("Cleanup failed")
		}
	}()
	return fn(s)
}

func protectedNames(p *diff.Protected) []string {
	ids := p.Identities()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}
