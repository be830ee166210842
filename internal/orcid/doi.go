package orcid

import "strings"

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI strips resolver URL prefixes and lower-cases a DOI so that
// the same identifier always compares equal. DOIs are case-insensitive by
// definition; the prefixes are just how people paste them.
func NormalizeDOI(doi string) string {
	d := strings.TrimSpace(doi)
	lower := strings.ToLower(d)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			d = d[len(p):]
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(d))
}
