package logging

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OpRecord is one attempted package operation.
type OpRecord struct {
	RunID    string
	Kind     string
	Name     string
	Op       string
	Status   string
	Attempts int
	Duration time.Duration
	Err      error
}

// OpLog appends one JSON line per attempted operation. It is independent of
// the snapshot store and survives database resets.
type OpLog struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// OpenOpLog opens path for appending, creating parent directories.
func OpenOpLog(path string) (*OpLog, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	l := NewOpLog(f)
	l.closer = f
	return l, nil
}

// NewOpLog writes records to w.
func NewOpLog(w io.Writer) *OpLog {
	return &OpLog{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Record appends rec. A nil OpLog discards records.
func (l *OpLog) Record(rec OpRecord) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := l.logger.Log().
		Str("run_id", rec.RunID).
		Str("kind", rec.Kind).
		Str("name", rec.Name).
		Str("op", rec.Op).
		Str("status", rec.Status).
		Int("attempts", rec.Attempts).
		Dur("duration", rec.Duration)
	if rec.Err != nil {
		ev = ev.Str("error", rec.Err.Error())
	}
	ev.Send()
}

// Close closes the underlying file, if any.
func (l *OpLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
