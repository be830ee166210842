package cv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned when a publication key does not exist in the store.
var ErrUnknownKey = errors.New("unknown publication key")

// fileFormat is the on-disk shape of publications.yaml.
type fileFormat struct {
	Publications []Publication `yaml:"publications"`
}

// Store is a YAML-file-backed publication store.
//
// It holds the full record set in memory and writes the whole file back on
// Save. Writes go through a temp file + rename so a crash mid-write never
// leaves a truncated publications.yaml behind.
type Store struct {
	path string
	pubs []Publication
}

// Load reads the publication store at path. A missing file yields an empty
// store (first run). Records without a key are assigned one.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i := range ff.Publications {
		if ff.Publications[i].Key == "" {
			ff.Publications[i].Key = uuid.NewString()
		}
	}
	s.pubs = ff.Publications
	return s, nil
}

// Path returns the file path backing this store.
func (s *Store) Path() string {
	return s.path
}

// List returns all publications. The returned slice is a copy; mutating it
// does not affect the store.
func (s *Store) List() []Publication {
	out := make([]Publication, len(s.pubs))
	copy(out, s.pubs)
	return out
}

// AttachExternalRef records the registry-assigned identifier on the
// publication with the given key. It is the only mutation the sync engine
// performs on local records.
func (s *Store) AttachExternalRef(key, remoteID string) error {
	for i := range s.pubs {
		if s.pubs[i].Key == key {
			s.pubs[i].ExternalRef = remoteID
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// Merge adds incoming publications that are not already present, using the
// same duplicate test the registry import has always used: a publication is
// a duplicate if its DOI (case-insensitive) or its lower-cased trimmed title
// already exists. Returns the number of records added.
func (s *Store) Merge(incoming []Publication) int {
	titles := make(map[string]bool, len(s.pubs))
	dois := make(map[string]bool, len(s.pubs))
	for _, p := range s.pubs {
		titles[strings.ToLower(strings.TrimSpace(p.Title))] = true
		if p.DOI != "" {
			dois[strings.ToLower(strings.TrimSpace(p.DOI))] = true
		}
	}

	added := 0
	for _, p := range incoming {
		title := strings.ToLower(strings.TrimSpace(p.Title))
		doi := strings.ToLower(strings.TrimSpace(p.DOI))
		if title == "" || titles[title] || (doi != "" && dois[doi]) {
			continue
		}
		if p.Key == "" {
			p.Key = uuid.NewString()
		}
		s.pubs = append(s.pubs, p)
		titles[title] = true
		if doi != "" {
			dois[doi] = true
		}
		added++
	}
	return added
}

// Save writes the store back to disk, sorted by (category, year descending,
// title) so repeated saves produce stable diffs.
func (s *Store) Save() error {
	sorted := s.List()
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category.Order() < sorted[j].Category.Order()
		}
		if sorted[i].Year != sorted[j].Year {
			return sorted[i].Year > sorted[j].Year
		}
		return sorted[i].Title < sorted[j].Title
	})

	data, err := yaml.Marshal(fileFormat{Publications: sorted})
	if err != nil {
		return fmt.Errorf("marshal publications: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".publications-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
