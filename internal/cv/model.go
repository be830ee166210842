package cv

// Category classifies a publication within the CV data model.
//
// The set is closed: every publication in the local store carries one of
// these values. CategoryUnmapped is reserved for works imported from the
// registry whose work type has no local equivalent; unmapped records are
// kept for display but excluded from sync.
type Category string

const (
	CategoryJournal     Category = "journal"
	CategoryConference  Category = "conference"
	CategoryPreprint    Category = "preprint"
	CategoryUnderReview Category = "under_review"
	CategoryWorkshop    Category = "workshop"

	// CategoryUnmapped marks imported works with an unrecognized
	// registry work type. Never a sync source.
	CategoryUnmapped Category = "unmapped"
)

// Categories returns the syncable categories in canonical order.
// This order is load-bearing: sync plans are sorted by it, so changing it
// changes plan output.
func Categories() []Category {
	return []Category{
		CategoryJournal,
		CategoryConference,
		CategoryPreprint,
		CategoryUnderReview,
		CategoryWorkshop,
	}
}

var categoryOrder = func() map[Category]int {
	m := make(map[Category]int, len(Categories()))
	for i, c := range Categories() {
		m[c] = i
	}
	return m
}()

// Order returns the category's position in the canonical ordering.
// Unknown categories (including unmapped) sort after all known ones.
func (c Category) Order() int {
	if i, ok := categoryOrder[c]; ok {
		return i
	}
	return len(categoryOrder)
}

// Syncable reports whether publications in this category participate in
// registry synchronization.
func (c Category) Syncable() bool {
	_, ok := categoryOrder[c]
	return ok
}

// Publication is a single CV publication entry as held in the local store.
//
// The sync engine treats publications as read/append-only: after a
// successful registry create it records the assigned identifier in
// ExternalRef (via Store.AttachExternalRef), but never rewrites any other
// field.
type Publication struct {
	// Key uniquely identifies the record within the local store.
	// Assigned on load for records that predate keys.
	Key string `yaml:"key"`

	Category Category `yaml:"category"`
	Title    string   `yaml:"title"`
	Authors  []string `yaml:"authors,omitempty"`
	Year     int      `yaml:"year"`
	Venue    string   `yaml:"venue,omitempty"`
	DOI      string   `yaml:"doi,omitempty"`

	// ExternalRef is the registry work identifier (ORCID put-code) once
	// the record has been created on or matched to the registry.
	ExternalRef string `yaml:"external_ref,omitempty"`
}
