package orcid

import "strconv"

// Environment selects which ORCID deployment a client or credential
// belongs to. Tokens and put-codes are never valid across environments.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvironmentProduction || e == EnvironmentSandbox
}

// RemoteWork is the registry-side view of a publication, reduced to the
// fields the sync engine matches and compares on. It lives only for the
// duration of a sync run; nothing persists it locally.
type RemoteWork struct {
	// RemoteID is the registry put-code as a string.
	RemoteID string

	// WorkType is the registry work type, e.g. "journal-article".
	WorkType string

	Title string
	Year  int
	DOI   string

	// SourceIdentity is the ORCID iD the work was read from.
	SourceIdentity string
}

// Wire types for the v3.0 works API. Only the fields the engine reads are
// declared; the registry sends far more.

type worksPage struct {
	Group []workGroup `json:"group"`
}

type workGroup struct {
	WorkSummary []workSummary `json:"work-summary"`
}

type workSummary struct {
	PutCode          int64          `json:"put-code"`
	Title            *titleField    `json:"title"`
	Type             string         `json:"type"`
	PublicationDate  *wireDate      `json:"publication-date"`
	ExternalIDs      *wireExtIDs    `json:"external-ids"`
	LastModifiedDate *wireTimestamp `json:"last-modified-date"`
}

type titleField struct {
	Title *wireValue `json:"title"`
}

type wireValue struct {
	Value string `json:"value"`
}

type wireDate struct {
	Year *wireValue `json:"year"`
}

type wireExtIDs struct {
	ExternalID []wireExtID `json:"external-id"`
}

type wireExtID struct {
	Type  string `json:"external-id-type"`
	Value string `json:"external-id-value"`
}

type wireTimestamp struct {
	Value int64 `json:"value"`
}

// remoteWork flattens a work summary into a RemoteWork.
func (w workSummary) remoteWork(identity string) RemoteWork {
	rw := RemoteWork{
		RemoteID:       strconv.FormatInt(w.PutCode, 10),
		WorkType:       w.Type,
		SourceIdentity: identity,
	}
	if w.Title != nil && w.Title.Title != nil {
		rw.Title = w.Title.Title.Value
	}
	if w.PublicationDate != nil && w.PublicationDate.Year != nil {
		if y, err := strconv.Atoi(w.PublicationDate.Year.Value); err == nil {
			rw.Year = y
		}
	}
	if w.ExternalIDs != nil {
		for _, id := range w.ExternalIDs.ExternalID {
			if id.Type == "doi" {
				rw.DOI = id.Value
				break
			}
		}
	}
	return rw
}

func (w workSummary) lastModified() int64 {
	if w.LastModifiedDate == nil {
		return 0
	}
	return w.LastModifiedDate.Value
}
