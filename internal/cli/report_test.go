package cli

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/jmarchant/cvsync/internal/cv"
	"github.com/jmarchant/cvsync/internal/orcid"
	syncpkg "github.com/jmarchant/cvsync/internal/sync"
)

func renderToBytes(report syncpkg.RunReport) []byte {
	var buf bytes.Buffer
	renderReport(&buf, report)
	return buf.Bytes()
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderReport_FullRun(t *testing.T) {
	report := syncpkg.RunReport{
		OrcidID:     "0000-0002-1825-0097",
		Environment: orcid.EnvironmentProduction,
		StartedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Results: []syncpkg.Result{
			{
				Action:           syncpkg.Action{Kind: syncpkg.ActionCreate, Local: cv.Publication{Title: "New Methods in Widget Analysis"}},
				Outcome:          syncpkg.OutcomeSucceeded,
				Detail:           "created as 900001",
				AssignedRemoteID: "900001",
			},
			{
				Action:  syncpkg.Action{Kind: syncpkg.ActionUpdate, Local: cv.Publication{Title: "Widget Taxonomies Revisited"}},
				Outcome: syncpkg.OutcomeSucceeded,
				Detail:  "updated 12345",
			},
			{
				Action:  syncpkg.Action{Kind: syncpkg.ActionSkip, Local: cv.Publication{Title: "A Stable Classic"}},
				Outcome: syncpkg.OutcomeSkipped,
				Detail:  "already in sync",
			},
		},
		RemoteOnly: []orcid.RemoteWork{
			{RemoteID: "777", Title: "Registry Only Work", Year: 2019},
		},
		MatchedCount: 2,
		CreatedCount: 1,
		UpdatedCount: 1,
		SkippedCount: 1,
	}

	newGoldie(t).Assert(t, "report_full_run", renderToBytes(report))
}

func TestRenderReport_DryRunWithFailures(t *testing.T) {
	report := syncpkg.RunReport{
		OrcidID:     "0000-0002-1825-0097",
		Environment: orcid.EnvironmentSandbox,
		DryRun:      true,
		StartedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Results: []syncpkg.Result{
			{
				Action:  syncpkg.Action{Kind: syncpkg.ActionCreate, Local: cv.Publication{Title: "Unpublished Draft"}},
				Outcome: syncpkg.OutcomeSkipped,
				Detail:  "dry-run: would create",
			},
		},
		Failures: []syncpkg.PlanFailure{
			{LocalKey: "k9", Title: "Mystery Record", Err: errors.New(`no registry work type configured for category "keynote"`)},
		},
		SkippedCount: 1,
		FailedCount:  1,
	}

	newGoldie(t).Assert(t, "report_dry_run_failures", renderToBytes(report))
}

func TestRenderReport_EmptyRun(t *testing.T) {
	report := syncpkg.RunReport{
		OrcidID:     "0000-0002-1825-0097",
		Environment: orcid.EnvironmentProduction,
		StartedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	newGoldie(t).Assert(t, "report_empty_run", renderToBytes(report))
}
