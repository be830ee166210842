package sync

import (
	"sort"

	"github.com/jmarchant/cvsync/internal/orcid"
)

// Planner turns match results into an ordered action list. All payloads
// are computed here, up front; execution only ships bytes.
type Planner struct {
	mapper *orcid.Mapper
}

// NewPlanner returns a Planner using the given mapper.
func NewPlanner(mapper *orcid.Mapper) *Planner {
	return &Planner{mapper: mapper}
}

// Plan maps match results to actions:
//
//	local_only  -> create
//	matched     -> update when the mapped payload differs from the remote
//	               work's comparable fields (title, year, doi), else skip
//	remote_only -> no action (reported separately, never deleted)
//
// Publications whose category cannot be mapped are excluded from the
// action list and reported as plan failures; one bad record never aborts
// the run. Actions are sorted by (category order, year ascending, title).
func (p *Planner) Plan(matches []MatchResult) Plan {
	var plan Plan

	for _, m := range matches {
		switch m.Kind {
		case KindRemoteOnly:
			plan.RemoteOnly = append(plan.RemoteOnly, *m.Remote)

		case KindLocalOnly:
			_, payload, err := p.mapper.ToPayload(*m.Local)
			if err != nil {
				plan.Failures = append(plan.Failures, PlanFailure{
					LocalKey: m.Local.Key,
					Title:    m.Local.Title,
					Err:      err,
				})
				continue
			}
			plan.Actions = append(plan.Actions, Action{
				Kind:    ActionCreate,
				Local:   *m.Local,
				Payload: payload,
				Reason:  "not present on registry",
			})

		case KindMatched:
			if inSync(m) {
				plan.Actions = append(plan.Actions, Action{
					Kind:   ActionSkip,
					Local:  *m.Local,
					Remote: m.Remote,
					Reason: "already in sync",
				})
				continue
			}
			_, payload, err := p.mapper.ToPayload(*m.Local)
			if err != nil {
				plan.Failures = append(plan.Failures, PlanFailure{
					LocalKey: m.Local.Key,
					Title:    m.Local.Title,
					Err:      err,
				})
				continue
			}
			plan.Actions = append(plan.Actions, Action{
				Kind:    ActionUpdate,
				Local:   *m.Local,
				Remote:  m.Remote,
				Payload: payload,
				Reason:  "registry copy differs",
			})
		}
	}

	sort.SliceStable(plan.Actions, func(i, j int) bool {
		a, b := plan.Actions[i].Local, plan.Actions[j].Local
		if a.Category != b.Category {
			return a.Category.Order() < b.Category.Order()
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Title < b.Title
	})
	return plan
}

// inSync compares the fields the registry copy and the local record share:
// normalized title, year, and DOI. An empty local DOI is not treated as a
// difference; pushing an update for it would strip an identifier the
// registry already has.
func inSync(m MatchResult) bool {
	if normalizeTitle(m.Local.Title) != normalizeTitle(m.Remote.Title) {
		return false
	}
	if m.Local.Year != m.Remote.Year {
		return false
	}
	if d := orcid.NormalizeDOI(m.Local.DOI); d != "" && d != orcid.NormalizeDOI(m.Remote.DOI) {
		return false
	}
	return true
}
