// Package logging configures the global zerolog logger and the append-only
// operation log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelFor maps CLI verbosity to a zerolog level. quiet wins over verbosity.
func LevelFor(verbosity int, quiet bool) zerolog.Level {
	if quiet {
		return zerolog.ErrorLevel
	}
	switch verbosity {
	case 0:
		return zerolog.WarnLevel
	case 1:
		return zerolog.InfoLevel
	case 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Setup configures the global logger. Console output goes to stderr; when
// logFile is not empty, JSON lines are also appended to it. The returned
// closer releases the log file and is never nil.
func Setup(verbosity int, quiet bool, logFile string) io.Closer {
	return SetupWithWriter(os.Stderr, verbosity, quiet, logFile)
}

// SetupWithWriter is Setup with an explicit console writer.
func SetupWithWriter(console io.Writer, verbosity int, quiet bool, logFile string) io.Closer {
	zerolog.SetGlobalLevel(LevelFor(verbosity, quiet))

	consoleWriter := zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.Kitchen,
	}

	closer := &logFileCloser{}
	writers := []io.Writer{consoleWriter}

	var fileErr error
	if logFile != "" {
		f, err := openAppend(logFile)
		if err == nil {
			writers = append(writers, f)
			closer.file = f
		}
		fileErr = err
	}

	log.Logger = newLogger(io.MultiWriter(writers...), verbosity)
	closer.console = newLogger(consoleWriter, verbosity)

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", logFile).Msg("Failed to open log file, logging to console only")
	}
	log.Debug().Int("verbosity", verbosity).Str("logFile", logFile).Msg("Logger initialized")
	return closer
}

func newLogger(w io.Writer, verbosity int) zerolog.Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	if verbosity >= 2 {
		l = l.With().Caller().Logger()
	}
	return l
}

// logFileCloser points the global logger back at the console and closes
// the log file.
type logFileCloser struct {
	file    *os.File
	console zerolog.Logger
}

func (c *logFileCloser) Close() error {
	if c.file == nil {
		return nil
	}
	log.Logger = c.console
	err := c.file.Close()
	c.file = nil
	return err
}

// GetLogger returns a child of the global logger tagged with component.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
