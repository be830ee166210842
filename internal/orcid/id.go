// Package orcid talks to the ORCID registry: iD validation, the works
// read/write API, and the mapping between local publication categories and
// registry work types.
package orcid

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern is the dashed ORCID iD form. The final character may be X
// (the ISO 7064 checksum digit for value 10).
var idPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

var idJunk = regexp.MustCompile(`[^0-9X-]`)

// ValidateID normalizes an ORCID iD into the canonical dashed form.
//
// Accepted inputs include the bare 16-character form, the dashed form, and
// full profile URLs (https://orcid.org/0000-...). Lowercase x is folded to
// uppercase before validation.
func ValidateID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "https://orcid.org/")
	id = strings.TrimPrefix(id, "http://orcid.org/")
	id = idJunk.ReplaceAllString(strings.ToUpper(id), "")

	if len(id) == 16 && !strings.Contains(id, "-") {
		id = fmt.Sprintf("%s-%s-%s-%s", id[:4], id[4:8], id[8:12], id[12:16])
	}

	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("invalid ORCID iD format: %q", raw)
	}
	return id, nil
}
