package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ProgressBar draws the progress of a fixed number of steps.
//
//	[==========>          ]  3/6 Applying 6 operations
//
// On a terminal the bar is redrawn in place. On any other writer a single
// line is written when the bar completes so logs stay readable.
type ProgressBar struct {
	mu          sync.Mutex
	total       int
	current     int
	description string
	width       int
	writer      io.Writer
	tty         bool
	done        bool
}

// NewProgress creates a progress bar writing to stderr.
func NewProgress(total int, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		description: description,
		width:       30,
		writer:      os.Stderr,
		tty:         writerIsTTY(os.Stderr),
	}
}

// SetWriter redirects the bar.
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
	p.tty = writerIsTTY(w)
}

// Increment advances the bar by one step.
func (p *ProgressBar) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current < p.total {
		p.current++
	}
	p.render()
}

// Current returns the number of completed steps.
func (p *ProgressBar) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Finish ends the line. Steps that never ran (cancelled operations) leave
// the bar short of full.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	if p.tty {
		fmt.Fprintln(p.writer)
		return
	}
	if p.current < p.total {
		fmt.Fprintln(p.writer, p.line())
	}
}

// render must be called with the lock held.
func (p *ProgressBar) render() {
	if p.tty {
		fmt.Fprintf(p.writer, "\r%s", p.line())
		return
	}
	if p.current == p.total {
		p.done = true
		fmt.Fprintln(p.writer, p.line())
	}
}

func (p *ProgressBar) line() string {
	filled := 0
	if p.total > 0 {
		filled = p.current * p.width / p.total
	}

	var bar strings.Builder
	bar.WriteByte('[')
	for i := 0; i < p.width; i++ {
		switch {
		case i < filled-1:
			bar.WriteByte('=')
		case i == filled-1:
			bar.WriteByte('>')
		default:
			bar.WriteByte(' ')
		}
	}
	bar.WriteByte(']')

	digits := len(fmt.Sprint(p.total))
	return fmt.Sprintf("%s %*d/%d %s", bar.String(), digits, p.current, p.total, p.description)
}
