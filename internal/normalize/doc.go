// Package normalize turns the raw text fragments scraped from listing pages
// into typed values. Every function here is total: malformed input yields
// the zero value instead of an error.
package normalize
