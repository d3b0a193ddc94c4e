package executor

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/blackwell-systems/craftbrew/internal/output"
)

// Render writes the per-operation results followed by the totals.
func (s *Summary) Render(w io.Writer) {
	if len(s.Results) == 0 {
		fmt.Fprintln(w, "Nothing to do: installed packages match the manifests.")
		return
	}

	t := output.NewTable(w)
	t.AppendHeader(table.Row{"Action", "Kind", "Name", "Status", "Attempts", "Message"})
	for _, r := range s.Results {
		t.AppendRow(table.Row{
			r.Operation.Action.String(),
			r.Operation.Package.Kind.String(),
			r.Operation.Package.Name,
			r.Status.String(),
			r.Attempts,
			r.Message,
		})
	}
	t.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped in %s\n",
		s.Succeeded, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
	if s.Cancelled {
		fmt.Fprintln(w, "Interrupted: remaining operations were skipped.")
	}
}
