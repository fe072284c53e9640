package crawler

import (
	"strconv"
	"strings"
)

const (
	// DefaultBaseURL is the unfiltered vehicle listing.
	DefaultBaseURL = "https://www.chileautos.cl/vehiculos/"
	// DefaultPageSize is the number of listings the site renders per page.
	DefaultPageSize = 12
)

// ShouldContinue reports whether another page may be fetched. maxPages <= 0
// means unbounded.
func ShouldContinue(currentPage, maxPages int) bool {
	return maxPages <= 0 || currentPage < maxPages
}

// NextOffset returns the listing offset that follows currentPage.
func NextOffset(currentPage, pageSize int) int {
	return currentPage * pageSize
}

// PageURL appends the offset parameter to base. The site's q parameter uses
// literal parentheses and dots, so the query is appended rather than re-encoded.
func PageURL(base string, offset int) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "offset=" + strconv.Itoa(offset)
}

// BuildBaseURL builds the listing URL filtered by brands. One brand yields
// Marca.X; several are OR'ed as (Or.Marca.A._.Marca.B.).
func BuildBaseURL(base string, brands []string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	cleaned := make([]string, 0, len(brands))
	for _, b := range brands {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return base
	}

	var brandQuery string
	if len(cleaned) == 1 {
		brandQuery = "Marca." + cleaned[0]
	} else {
		terms := make([]string, len(cleaned))
		for i, b := range cleaned {
			terms[i] = "Marca." + b
		}
		brandQuery = "(Or." + strings.Join(terms, "._.") + ".)"
	}
	return base + "?q=(And.Servicio.ChileAutos._." + brandQuery + ")"
}
