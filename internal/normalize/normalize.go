package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const minPlausibleYear = 1900

var (
	yearPattern    = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	mileagePattern = regexp.MustCompile(`(?i)(\d+[\d.,]*)\s*(?:km|kms|kilómetros|kilometros)\b`)
)

// ParsePrice keeps only the digits of raw and reads them as a whole amount.
// Currency symbols, separators and labels are discarded.
func ParsePrice(raw string) float64 {
	digits := keep(raw, func(r rune) bool { return r >= '0' && r <= '9' })
	if digits == "" {
		return 0
	}
	amount, err := strconv.ParseFloat(digits, 64)
	if err != nil || math.IsInf(amount, 0) {
		return 0
	}
	return amount
}

// ParseMileage reads an odometer value written with locale dependent
// separators. When both '.' and ',' appear the rightmost one is the decimal
// separator. A lone separator kind is a thousands separator unless it occurs
// once with at most two trailing digits. The result is truncated.
func ParseMileage(raw string, logger *zap.Logger) int {
	if strings.TrimSpace(raw) == "" {
		return 0
	}
	clean := keep(raw, func(r rune) bool { return (r >= '0' && r <= '9') || r == '.' || r == ',' })
	value, ok := parseDecimal(resolveSeparators(clean))
	if !ok {
		if logger != nil {
			logger.Warn("Unable to normalize mileage",
				zap.String("raw", raw),
				zap.String("cleaned", clean),
			)
		}
		return 0
	}
	return value
}

// ParseYear returns the first four digit 19xx/20xx token in title, or 0.
func ParseYear(title string) int {
	match := yearPattern.FindString(title)
	if match == "" {
		return 0
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return year
}

// PlausibleYear returns year when it falls within 1900..now+1, otherwise 0.
func PlausibleYear(year int, now time.Time) int {
	if year < minPlausibleYear || year > now.Year()+1 {
		return 0
	}
	return year
}

// FindMileageInText scans free text for the first "<number> km" mention and
// returns the number as written.
func FindMileageInText(text string) string {
	m := mileagePattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func resolveSeparators(clean string) string {
	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")
	if lastDot >= 0 && lastComma >= 0 {
		if lastDot > lastComma {
			return strings.ReplaceAll(clean, ",", "")
		}
		return strings.ReplaceAll(strings.ReplaceAll(clean, ".", ""), ",", ".")
	}
	switch {
	case lastDot >= 0:
		if !isDecimalMark(clean, ".") {
			return strings.ReplaceAll(clean, ".", "")
		}
		return clean
	case lastComma >= 0:
		if isDecimalMark(clean, ",") {
			return strings.Replace(clean, ",", ".", 1)
		}
		return strings.ReplaceAll(clean, ",", "")
	default:
		return clean
	}
}

// isDecimalMark reports whether sep occurs exactly once with <= 2 digits after it.
func isDecimalMark(s, sep string) bool {
	if strings.Count(s, sep) != 1 {
		return false
	}
	return len(s)-strings.Index(s, sep)-1 <= 2
}

func parseDecimal(s string) (int, bool) {
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int(f), true
}

func keep(s string, fn func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if fn(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
