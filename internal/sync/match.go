package sync

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jmarchant/cvsync/internal/cv"
	"github.com/jmarchant/cvsync/internal/orcid"
)

// Matcher classifies local publications against remote works. Matching
// rules apply in strict priority order; the first rule that claims a
// remote work wins.
type Matcher struct{}

// NewMatcher returns a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match classifies every local publication and remote work. Results for
// locals come first, in input order, followed by remote-only entries in
// input order, so the output is deterministic for deterministic inputs.
//
// Rule 3 (title+year) refuses ambiguity: when the same normalized
// title+year key covers more than one local or more than one remote, no
// pairing is made and every involved record stays unmatched. A wrong
// overwrite is worse than a duplicate.
func (m *Matcher) Match(locals []cv.Publication, remotes []orcid.RemoteWork) []MatchResult {
	results := make([]MatchResult, len(locals))
	remoteClaimed := make([]bool, len(remotes))
	localMatched := make([]bool, len(locals))

	remoteByDOI := make(map[string]int, len(remotes))
	remoteByID := make(map[string]int, len(remotes))
	for i, r := range remotes {
		if d := orcid.NormalizeDOI(r.DOI); d != "" {
			if _, dup := remoteByDOI[d]; !dup {
				remoteByDOI[d] = i
			}
		}
		remoteByID[r.RemoteID] = i
	}

	// Rule 1: exact DOI.
	for i, l := range locals {
		d := orcid.NormalizeDOI(l.DOI)
		if d == "" {
			continue
		}
		if ri, ok := remoteByDOI[d]; ok && !remoteClaimed[ri] {
			results[i] = MatchResult{Kind: KindMatched, Local: &locals[i], Remote: &remotes[ri], Rule: RuleDOI}
			remoteClaimed[ri] = true
			localMatched[i] = true
		}
	}

	// Rule 2: previously recorded external reference.
	for i, l := range locals {
		if localMatched[i] || l.ExternalRef == "" {
			continue
		}
		if ri, ok := remoteByID[l.ExternalRef]; ok && !remoteClaimed[ri] {
			results[i] = MatchResult{Kind: KindMatched, Local: &locals[i], Remote: &remotes[ri], Rule: RuleExternalRef}
			remoteClaimed[ri] = true
			localMatched[i] = true
		}
	}

	// Rule 3: normalized title + year, one-to-one keys only.
	localsByKey := make(map[string][]int)
	for i, l := range locals {
		if localMatched[i] {
			continue
		}
		localsByKey[titleYearKey(l.Title, l.Year)] = append(localsByKey[titleYearKey(l.Title, l.Year)], i)
	}
	remotesByKey := make(map[string][]int)
	for i, r := range remotes {
		if remoteClaimed[i] {
			continue
		}
		remotesByKey[titleYearKey(r.Title, r.Year)] = append(remotesByKey[titleYearKey(r.Title, r.Year)], i)
	}

	for key, lis := range localsByKey {
		ris, ok := remotesByKey[key]
		if !ok {
			continue
		}
		if len(lis) == 1 && len(ris) == 1 {
			li, ri := lis[0], ris[0]
			results[li] = MatchResult{Kind: KindMatched, Local: &locals[li], Remote: &remotes[ri], Rule: RuleTitleYear}
			remoteClaimed[ri] = true
			localMatched[li] = true
			continue
		}
		// Ambiguous: leave everyone unmatched, note why.
		for _, li := range lis {
			results[li] = MatchResult{
				Kind:   KindLocalOnly,
				Local:  &locals[li],
				Reason: fmt.Sprintf("ambiguous title/year match (%d local, %d remote candidates)", len(lis), len(ris)),
			}
			localMatched[li] = true
		}
	}

	for i := range locals {
		if !localMatched[i] {
			results[i] = MatchResult{Kind: KindLocalOnly, Local: &locals[i], Reason: "no matching remote work"}
		}
	}
	for i := range remotes {
		if !remoteClaimed[i] {
			results = append(results, MatchResult{Kind: KindRemoteOnly, Remote: &remotes[i], Reason: "no matching local publication"})
		}
	}
	return results
}

var titleFolder = cases.Fold()

// normalizeTitle canonicalizes a title for fuzzy comparison: NFKC
// normalization, Unicode case folding, punctuation stripped, whitespace
// collapsed to single spaces. NFKC (rather than NFC) also unifies
// compatibility forms like ligatures and fullwidth letters, which show up
// in titles copied out of PDFs.
func normalizeTitle(title string) string {
	folded := titleFolder.String(norm.NFKC.String(title))

	var b strings.Builder
	b.Grow(len(folded))
	space := true // swallow leading whitespace
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			space = false
		default:
			// Punctuation and symbols are dropped outright.
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func titleYearKey(title string, year int) string {
	return fmt.Sprintf("%s|%d", normalizeTitle(title), year)
}
