package output

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/blackwell-systems/craftbrew/internal/planner"
)

// RenderPlan writes the operations of plan in execution order.
func RenderPlan(w io.Writer, plan *planner.Plan) {
	if plan.Empty() {
		fmt.Fprintln(w, "Nothing to do: installed packages match the manifests.")
		return
	}

	fmt.Fprintln(w, paint(w, styleHeading, fmt.Sprintf("Plan for %s (%s)", plan.Verb, plan.Mode)))
	fmt.Fprintln(w)

	t := NewTable(w)
	t.AppendHeader(table.Row{"#", "Action", "Kind", "Name", "Details"})
	for i, op := range plan.Operations() {
		action := paint(w, styleInstall, op.Action.String())
		if op.Action == planner.ActionRemove {
			action = paint(w, styleRemove, op.Action.String())
		}
		t.AppendRow(table.Row{
			i + 1,
			action,
			op.Package.Kind.String(),
			op.Package.Name,
			FormatAttributes(op.Package.Attributes),
		})
	}
	t.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d to install, %d to remove\n", len(plan.Installs), len(plan.Removals))
	if plan.Mode == planner.ModePreview {
		fmt.Fprintln(w, paint(w, styleMuted, "Dry run: no changes were made."))
	}
}
