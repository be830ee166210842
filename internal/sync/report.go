package sync

import (
	"time"

	"github.com/jmarchant/cvsync/internal/orcid"
)

// RunReport is the complete record of one sync run, dry or real. A run
// that reaches execution always completes with a full report; whether any
// failed entries constitute an overall failure is the caller's call.
type RunReport struct {
	OrcidID     string            `json:"orcid_id"`
	Environment orcid.Environment `json:"environment"`
	DryRun      bool              `json:"dry_run"`
	StartedAt   time.Time         `json:"started_at"`

	Results    []Result           `json:"results"`
	RemoteOnly []orcid.RemoteWork `json:"remote_only,omitempty"`
	Failures   []PlanFailure      `json:"plan_failures,omitempty"`

	MatchedCount int `json:"matched_count"`
	CreatedCount int `json:"created_count"`
	UpdatedCount int `json:"updated_count"`
	SkippedCount int `json:"skipped_count"`
	FailedCount  int `json:"failed_count"`
}

// tally fills in the count fields from the collected results. Plan
// failures count as failed: the record could not be synced.
func (r *RunReport) tally(matches []MatchResult) {
	for _, m := range matches {
		if m.Kind == KindMatched {
			r.MatchedCount++
		}
	}
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeSucceeded:
			switch res.Action.Kind {
			case ActionCreate:
				r.CreatedCount++
			case ActionUpdate:
				r.UpdatedCount++
			}
		case OutcomeSkipped:
			r.SkippedCount++
		case OutcomeFailed:
			r.FailedCount++
		}
	}
	r.FailedCount += len(r.Failures)
}
