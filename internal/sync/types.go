package sync

import (
	"github.com/jmarchant/cvsync/internal/cv"
	"github.com/jmarchant/cvsync/internal/orcid"
)

// MatchKind classifies one match result.
type MatchKind string

const (
	// KindMatched pairs a local publication with a remote work.
	KindMatched MatchKind = "matched"

	// KindLocalOnly is a local publication with no remote counterpart.
	KindLocalOnly MatchKind = "local_only"

	// KindRemoteOnly is a remote work with no local counterpart. Purely
	// informational: the engine never deletes remote works.
	KindRemoteOnly MatchKind = "remote_only"
)

// MatchRule identifies which rule produced a match.
type MatchRule string

const (
	RuleDOI         MatchRule = "doi"
	RuleExternalRef MatchRule = "external_ref"
	RuleTitleYear   MatchRule = "title_year"
)

// MatchResult pairs at most one local publication with at most one remote
// work, with the rule (for matches) or reason (for non-matches) that
// produced the classification.
type MatchResult struct {
	Kind   MatchKind
	Local  *cv.Publication
	Remote *orcid.RemoteWork
	Rule   MatchRule
	Reason string
}

// ActionKind is what the executor should do for one publication.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionSkip   ActionKind = "skip"
)

// Action is one planned step. Create and update actions carry the exact
// payload bytes to send; they are computed during planning so that
// execution never re-derives state.
type Action struct {
	Kind    ActionKind
	Local   cv.Publication
	Remote  *orcid.RemoteWork
	Payload []byte
	Reason  string
}

// PlanFailure records a publication the planner had to exclude, typically
// because its category has no registry work type. Fatal for the record,
// not for the run.
type PlanFailure struct {
	LocalKey string
	Title    string
	Err      error
}

// Plan is an ordered action list plus the information that does not
// execute: remote-only works and per-record planning failures.
//
// Ordering is deterministic: (category order, year ascending, title), so
// repeated dry runs diff cleanly.
type Plan struct {
	Actions    []Action
	RemoteOnly []orcid.RemoteWork
	Failures   []PlanFailure
}

// Outcome is the result of executing one action.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Result is the per-action execution record.
type Result struct {
	Action  Action
	Outcome Outcome
	Detail  string

	// AssignedRemoteID is the registry-assigned identifier for a
	// succeeded create. The local store records it as the publication's
	// external reference.
	AssignedRemoteID string
}
