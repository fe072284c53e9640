// Package extract evaluates ranked locator lists against parsed listing
// pages. It owns the "first non-empty hit wins" fallback policy; selector
// evaluation itself is delegated to goquery (CSS) and htmlquery (XPath).
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
)

// Kind identifies the query language of a Locator.
type Kind int

// Supported locator kinds.
const (
	KindCSS Kind = iota
	KindXPath
)

func (k Kind) String() string {
	if k == KindXPath {
		return "xpath"
	}
	return "css"
}

// Mode controls what a CSS locator returns from the first matched element.
type Mode int

// CSS result modes.
const (
	// ModeAllText returns the element's full descendant text.
	ModeAllText Mode = iota
	// ModeOwnText returns only the element's direct text nodes (`::text`).
	ModeOwnText
	// ModeAttr returns an attribute value (`::attr(name)`).
	ModeAttr
)

var attrSuffix = regexp.MustCompile(`::attr\(([^)]+)\)\s*$`)

// Locator is a parsed, validated query descriptor.
type Locator struct {
	Kind  Kind
	Query string
	Mode  Mode
	Attr  string

	raw   string
	xpath *xpath.Expr
}

// String returns the locator as it was written in configuration.
func (l Locator) String() string {
	return l.raw
}

// ParseLocator parses a raw locator. Strings starting with "/", "./" or "("
// are XPath expressions; everything else is CSS with optional `::text` or
// `::attr(name)` suffixes. A bare `::attr(name)` reads the fragment's own
// attribute.
func ParseLocator(raw string) (Locator, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}
	if isXPath(trimmed) {
		expr, err := xpath.Compile(trimmed)
		if err != nil {
			return Locator{}, fmt.Errorf("compile xpath %q: %w", trimmed, err)
		}
		return Locator{Kind: KindXPath, Query: trimmed, raw: trimmed, xpath: expr}, nil
	}

	loc := Locator{Kind: KindCSS, raw: trimmed}
	query := trimmed
	switch {
	case attrSuffix.MatchString(query):
		m := attrSuffix.FindStringSubmatch(query)
		loc.Mode = ModeAttr
		loc.Attr = strings.TrimSpace(m[1])
		query = strings.TrimSpace(attrSuffix.ReplaceAllString(query, ""))
	case strings.HasSuffix(query, "::text"):
		loc.Mode = ModeOwnText
		query = strings.TrimSpace(strings.TrimSuffix(query, "::text"))
	}
	if query == "" {
		if loc.Mode == ModeAttr {
			return loc, nil
		}
		return Locator{}, fmt.Errorf("locator %q has no selector", trimmed)
	}
	if _, err := cascadia.Compile(query); err != nil {
		return Locator{}, fmt.Errorf("compile css %q: %w", query, err)
	}
	loc.Query = query
	return loc, nil
}

func isXPath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "(")
}

// ParseLocators parses a ranked list, preserving order.
func ParseLocators(raws []string) ([]Locator, error) {
	out := make([]Locator, 0, len(raws))
	for _, raw := range raws {
		loc, err := ParseLocator(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

// MustParseLocators is ParseLocators for compiled-in defaults.
func MustParseLocators(raws ...string) []Locator {
	locs, err := ParseLocators(raws)
	if err != nil {
		panic(err)
	}
	return locs
}
