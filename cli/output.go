package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"chronovista/recovery"
)

func renderResults(w io.Writer, results []*recovery.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Video ID", "Outcome", "Reason", "Snapshot", "Tried/Available", "Recovered", "Skipped"})

	for _, r := range results {
		t.AppendRow(table.Row{
			r.VideoID,
			outcome(r),
			string(r.FailureReason),
			r.SnapshotUsed,
			fmt.Sprintf("%d/%d", r.SnapshotsTried, r.SnapshotsAvailable),
			joinFields(r.FieldsRecovered),
			joinFields(r.FieldsSkipped),
		})
	}
	t.Render()
}

func outcome(r *recovery.Result) string {
	switch {
	case !r.Success:
		return "failed"
	case r.DryRun:
		return "recoverable"
	default:
		return "recovered"
	}
}

func joinFields(fields []recovery.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

// summaryLine renders batch totals, failure reasons in name order, and
// channels worth recovering next.
func summaryLine(s *recovery.BatchSummary) string {
	var b strings.Builder
	verb := "recovered"
	if s.DryRun {
		verb = "recoverable"
	}
	fmt.Fprintf(&b, "%d %s, %d failed of %d in %.1fs", s.Succeeded, verb, s.Failed, s.Total, s.DurationSeconds)
	if s.NotStarted > 0 {
		fmt.Fprintf(&b, " (%d not started)", s.NotStarted)
	}

	if len(s.FailuresByReason) > 0 {
		reasons := make([]string, 0, len(s.FailuresByReason))
		for reason, n := range s.FailuresByReason {
			reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(&b, "; failures: %s", strings.Join(reasons, " "))
	}
	if len(s.ChannelRecoveryCandidates) > 0 {
		fmt.Fprintf(&b, "; channels to recover: %s", strings.Join(s.ChannelRecoveryCandidates, " "))
	}
	return b.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
