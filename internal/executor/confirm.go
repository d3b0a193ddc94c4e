package executor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Confirmer asks the user to approve a destructive plan.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt string) (bool, error) { return f(prompt) }

// PromptConfirmer reads a y/N answer from In.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
	// Interactive must be true for the prompt to be shown. Without a
	// terminal the confirmation is declined.
	Interactive bool
}

// NewStdinConfirmer prompts on stdin/stderr when stdin is a terminal.
func NewStdinConfirmer() *PromptConfirmer {
	return &PromptConfirmer{
		In:          os.Stdin,
		Out:         os.Stderr,
		Interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
}

// Confirm prints prompt followed by [y/N] and reads one line.
func (c *PromptConfirmer) Confirm(prompt string) (bool, error) {
	if !c.Interactive {
		fmt.Fprintf(c.Out, "%s [y/N]: stdin is not a terminal, declining (use --force to skip confirmation)\n", prompt)
		return false, nil
	}

	fmt.Fprintf(c.Out, "%s [y/N]: ", prompt)

	reader := bufio.NewReader(c.In)
	response, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
