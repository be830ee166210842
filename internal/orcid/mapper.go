package orcid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/jmarchant/cvsync/internal/cv"
)

// Payload is the registry work representation sent on create and update.
// Field order is fixed by the struct, so encoding a payload is
// byte-deterministic for a given publication. That property is what makes
// retried and re-planned writes idempotent.
type Payload struct {
	Title           PayloadTitle  `json:"title"`
	JournalTitle    *PayloadValue `json:"journal-title,omitempty"`
	Type            string        `json:"type"`
	PublicationDate *PayloadDate  `json:"publication-date,omitempty"`
	ExternalIDs     PayloadExtIDs `json:"external-ids"`
	Contributors    *Contributors `json:"contributors,omitempty"`
}

type PayloadTitle struct {
	Title PayloadValue `json:"title"`
}

type PayloadValue struct {
	Value string `json:"value"`
}

type PayloadDate struct {
	Year PayloadValue `json:"year"`
}

type PayloadExtIDs struct {
	ExternalID []PayloadExtID `json:"external-id"`
}

type PayloadExtID struct {
	Type         string `json:"external-id-type"`
	Value        string `json:"external-id-value"`
	Relationship string `json:"external-id-relationship"`
}

type Contributors struct {
	Contributor []Contributor `json:"contributor"`
}

type Contributor struct {
	CreditName PayloadValue         `json:"credit-name"`
	Attributes ContributorAttrs     `json:"contributor-attributes"`
}

type ContributorAttrs struct {
	Role string `json:"contributor-role"`
}

// workTypeByCategory is the export direction of the mapping table. It must
// be total over cv.Categories(); NewMapper enforces that at construction.
var workTypeByCategory = map[cv.Category]string{
	cv.CategoryJournal:     "journal-article",
	cv.CategoryConference:  "conference-paper",
	cv.CategoryPreprint:    "preprint",
	cv.CategoryUnderReview: "working-paper",
	cv.CategoryWorkshop:    "conference-poster",
}

// categoryByWorkType is the import direction. It is deliberately wider than
// the export table: the registry has many work types that all land in a
// coarser local category.
var categoryByWorkType = map[string]cv.Category{
	"journal-article":     cv.CategoryJournal,
	"book":                cv.CategoryJournal,
	"book-chapter":        cv.CategoryJournal,
	"book-review":         cv.CategoryJournal,
	"dissertation-thesis": cv.CategoryJournal,
	"conference-paper":    cv.CategoryConference,
	"conference-abstract": cv.CategoryConference,
	"conference-poster":   cv.CategoryWorkshop,
	"working-paper":       cv.CategoryUnderReview,
	"preprint":            cv.CategoryPreprint,
	"report":              cv.CategoryPreprint,
	"manual":              cv.CategoryPreprint,
	"other":               cv.CategoryPreprint,
}

// MappingError reports a category with no configured work type. It is fatal
// for the record that triggered it, not for the run.
type MappingError struct {
	Category cv.Category
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no registry work type configured for category %q", e.Category)
}

// Mapper converts between local publications and registry work payloads.
type Mapper struct{}

// NewMapper builds a Mapper, failing fast if any syncable category lacks a
// target work type. A gap here is a programming error, so it surfaces at
// startup rather than mid-run.
func NewMapper() (*Mapper, error) {
	for _, c := range cv.Categories() {
		if _, ok := workTypeByCategory[c]; !ok {
			return nil, &MappingError{Category: c}
		}
	}
	return &Mapper{}, nil
}

// WorkTypeFor returns the registry work type for a local category.
func (m *Mapper) WorkTypeFor(c cv.Category) (string, error) {
	wt, ok := workTypeByCategory[c]
	if !ok {
		return "", &MappingError{Category: c}
	}
	return wt, nil
}

// CategoryFor returns the local category for a registry work type.
// Unrecognized work types report ok=false; callers import those as
// cv.CategoryUnmapped and keep them out of sync.
func (m *Mapper) CategoryFor(workType string) (cv.Category, bool) {
	c, ok := categoryByWorkType[workType]
	return c, ok
}

// ToPayload maps a publication to its registry work payload and the exact
// bytes to send. Strings are NFC-normalized at this boundary so the same
// logical record always encodes identically, regardless of how the YAML was
// typed.
func (m *Mapper) ToPayload(pub cv.Publication) (Payload, []byte, error) {
	workType, err := m.WorkTypeFor(pub.Category)
	if err != nil {
		return Payload{}, nil, err
	}

	p := Payload{
		Title: PayloadTitle{Title: PayloadValue{Value: norm.NFC.String(pub.Title)}},
		Type:  workType,
	}
	if pub.Venue != "" {
		p.JournalTitle = &PayloadValue{Value: norm.NFC.String(pub.Venue)}
	}
	if pub.Year != 0 {
		p.PublicationDate = &PayloadDate{Year: PayloadValue{Value: strconv.Itoa(pub.Year)}}
	}
	if pub.DOI != "" {
		p.ExternalIDs.ExternalID = append(p.ExternalIDs.ExternalID, PayloadExtID{
			Type:         "doi",
			Value:        NormalizeDOI(pub.DOI),
			Relationship: "self",
		})
	}
	if len(pub.Authors) > 0 {
		contribs := make([]Contributor, 0, len(pub.Authors))
		for _, a := range pub.Authors {
			contribs = append(contribs, Contributor{
				CreditName: PayloadValue{Value: norm.NFC.String(a)},
				Attributes: ContributorAttrs{Role: "author"},
			})
		}
		p.Contributors = &Contributors{Contributor: contribs}
	}

	raw, err := encodePayload(p)
	if err != nil {
		return Payload{}, nil, err
	}
	return p, raw, nil
}

// encodePayload marshals a payload without HTML escaping and without a
// trailing newline. Titles legitimately contain < and &; escaping them
// would make payload bytes depend on the encoder rather than the data.
func encodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode work payload: %w", err)
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}
