package cli

import (
	"fmt"
	"io"

	syncpkg "github.com/jmarchant/cvsync/internal/sync"
)

// renderReport writes the human-readable form of a run report. The layout
// is deterministic for a given report, so it goldens cleanly.
func renderReport(w io.Writer, report syncpkg.RunReport) {
	mode := "sync"
	if report.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", mode, report.OrcidID, report.Environment)
	fmt.Fprintln(w)

	for _, res := range report.Results {
		fmt.Fprintf(w, "  %-7s %-9s %s", res.Outcome, res.Action.Kind, res.Action.Local.Title)
		if res.Detail != "" {
			fmt.Fprintf(w, " (%s)", res.Detail)
		}
		fmt.Fprintln(w)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  %-7s %-9s %s (%v)\n", "failed", "plan", f.Title, f.Err)
	}
	if len(report.Results) > 0 || len(report.Failures) > 0 {
		fmt.Fprintln(w)
	}

	if len(report.RemoteOnly) > 0 {
		fmt.Fprintf(w, "  %d work(s) exist only on the registry (use 'cvsync import' to pull them):\n", len(report.RemoteOnly))
		for _, r := range report.RemoteOnly {
			fmt.Fprintf(w, "    %s  %s (%d)\n", r.RemoteID, r.Title, r.Year)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "  matched %d  created %d  updated %d  skipped %d  failed %d\n",
		report.MatchedCount, report.CreatedCount, report.UpdatedCount, report.SkippedCount, report.FailedCount)
}
