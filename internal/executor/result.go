package executor

import (
	"time"

	"github.com/blackwell-systems/craftbrew/internal/planner"
)

// Status is the outcome of one operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "success"
	}
}

// Result is the outcome of one planned operation.
type Result struct {
	Operation planner.Operation
	Status    Status
	Message   string
	Err       error
	Attempts  int
	Duration  time.Duration
}

// Summary aggregates the results of one Apply call.
type Summary struct {
	RunID     string
	Results   []Result
	Succeeded int
	Failed    int
	Skipped   int
	// Cancelled is set when the context was cancelled mid-batch.
	Cancelled bool
	Duration  time.Duration
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusSuccess:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// Failures returns the failed results in execution order.
func (s *Summary) Failures() []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// OK reports whether every operation succeeded.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Skipped == 0
}
