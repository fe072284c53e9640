package crawler

import "strings"

// Validate checks the completeness invariant: title and url non-empty, price
// and mileage strictly positive. Year is informational and never rejected.
// It has no side effects, so re-validating a valid record is a no-op.
func Validate(rec ListingRecord) (ListingRecord, error) {
	var fields []string
	if strings.TrimSpace(rec.Title) == "" {
		fields = append(fields, FieldTitle)
	}
	if !(rec.Price > 0) {
		fields = append(fields, FieldPrice)
	}
	if rec.Mileage <= 0 {
		fields = append(fields, FieldMileage)
	}
	if strings.TrimSpace(rec.URL) == "" {
		fields = append(fields, FieldURL)
	}
	if len(fields) > 0 {
		return rec, &ValidationFailure{Fields: fields}
	}
	return rec, nil
}
