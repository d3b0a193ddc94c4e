package output

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/blackwell-systems/craftbrew/internal/store"
)

// now is replaced in tests.
var now = time.Now

func relative(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now(), "ago", "from now")
}

// RenderSnapshots writes the snapshot index, newest first as given.
func RenderSnapshots(w io.Writer, snaps []*store.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots found.")
		return
	}

	t := NewTable(w)
	t.AppendHeader(table.Row{"ID", "Created", "Packages", "Reason", "Status"})
	for _, s := range snaps {
		status := "available"
		if s.Pruned {
			status = paint(w, styleMuted, "pruned")
		}
		t.AppendRow(table.Row{s.ID, relative(s.CreatedAt), s.PackageCount, s.Reason, status})
	}
	t.Render()
}

// RenderRuns writes recent runs, newest first as given.
func RenderRuns(w io.Writer, runs []*store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}

	t := NewTable(w)
	t.AppendHeader(table.Row{"Run", "Verb", "Started", "Duration", "Status", "OK", "Failed", "Skipped", "Snapshot"})
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		snapshot := r.SnapshotID
		if snapshot == "" {
			snapshot = "-"
		}
		t.AppendRow(table.Row{
			ShortID(r.ID),
			r.Verb,
			relative(r.StartedAt),
			duration,
			runStatus(w, r.Status),
			r.Succeeded,
			r.Failed,
			r.Skipped,
			snapshot,
		})
	}
	t.Render()
}

// RenderOperations writes the operations of one run.
func RenderOperations(w io.Writer, ops []*store.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations recorded for this run.")
		return
	}

	t := NewTable(w)
	t.AppendHeader(table.Row{"Action", "Kind", "Name", "Status", "Attempts", "Duration", "Message"})
	for _, op := range ops {
		t.AppendRow(table.Row{
			op.Action,
			op.Kind,
			op.Name,
			runStatus(w, op.Status),
			op.Attempts,
			op.Duration.Round(time.Millisecond).String(),
			op.Message,
		})
	}
	t.Render()
}

func runStatus(w io.Writer, status string) string {
	switch status {
	case "completed", "success":
		return paint(w, styleInstall, status)
	case "failed", "partial":
		return paint(w, styleRemove, status)
	default:
		return paint(w, styleMuted, status)
	}
}

// ShortID abbreviates a UUID for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
