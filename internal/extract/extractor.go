package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Fragment is a portion of a parsed page: a whole document or one listing card.
type Fragment struct {
	sel *goquery.Selection
}

// NewFragment wraps an existing goquery selection.
func NewFragment(sel *goquery.Selection) Fragment {
	return Fragment{sel: sel}
}

// ParseDocument parses an HTML body into a root Fragment.
func ParseDocument(body []byte) (Fragment, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Fragment{}, fmt.Errorf("parse html: %w", err)
	}
	return Fragment{sel: doc.Selection}, nil
}

// Empty reports whether the fragment holds no nodes.
func (f Fragment) Empty() bool {
	return f.sel == nil || f.sel.Length() == 0
}

// Text returns the fragment's whitespace-collapsed text.
func (f Fragment) Text() string {
	if f.Empty() {
		return ""
	}
	return collapse(f.sel.Text())
}

// Extractor applies locator lists to fragments.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor. A nil logger disables attempt logging.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// FirstMatch evaluates locators in order and returns the first non-empty
// text. Every attempt is logged at debug level so template drift shows up in
// the logs as a run of misses on the preferred locator.
func (e *Extractor) FirstMatch(f Fragment, locators []Locator) (string, bool) {
	for i, loc := range locators {
		value, ok := Query(f, loc)
		e.logger.Debug("Locator attempt",
			zap.Int("rank", i),
			zap.String("kind", loc.Kind.String()),
			zap.String("locator", loc.String()),
			zap.Bool("hit", ok),
			zap.String("value", value),
		)
		if ok {
			return value, true
		}
	}
	return "", false
}

// FirstAll returns the fragments selected by the first locator that matches
// anything at all. It is the queryAll counterpart of FirstMatch.
func (e *Extractor) FirstAll(f Fragment, locators []Locator) []Fragment {
	for i, loc := range locators {
		found := QueryAll(f, loc)
		e.logger.Debug("Container locator attempt",
			zap.Int("rank", i),
			zap.String("locator", loc.String()),
			zap.Int("matches", len(found)),
		)
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

// Query resolves a single locator to trimmed text. It reports false when the
// locator matches nothing or only whitespace.
func Query(f Fragment, loc Locator) (string, bool) {
	if f.Empty() {
		return "", false
	}
	var value string
	switch loc.Kind {
	case KindXPath:
		value = queryXPath(f, loc)
	default:
		value = queryCSS(f, loc)
	}
	value = collapse(value)
	return value, value != ""
}

// QueryAll returns every sub-fragment matched by loc.
func QueryAll(f Fragment, loc Locator) []Fragment {
	if f.Empty() {
		return nil
	}
	if loc.Kind == KindXPath {
		var out []Fragment
		for _, root := range f.sel.Nodes {
			for _, n := range htmlquery.QuerySelectorAll(root, loc.xpath) {
				out = append(out, Fragment{sel: goquery.NewDocumentFromNode(n).Selection})
			}
		}
		return out
	}
	matches := f.sel.Find(loc.Query)
	out := make([]Fragment, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Fragment{sel: s})
	})
	return out
}

func queryCSS(f Fragment, loc Locator) string {
	matches := f.sel
	if loc.Query != "" {
		matches = f.sel.Find(loc.Query)
	}
	var value string
	matches.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		switch loc.Mode {
		case ModeAttr:
			value, _ = s.Attr(loc.Attr)
		case ModeOwnText:
			value = ownText(s)
		default:
			value = s.Text()
		}
		return strings.TrimSpace(value) == ""
	})
	return value
}

func queryXPath(f Fragment, loc Locator) string {
	for _, root := range f.sel.Nodes {
		for _, n := range htmlquery.QuerySelectorAll(root, loc.xpath) {
			if text := strings.TrimSpace(htmlquery.InnerText(n)); text != "" {
				return text
			}
		}
	}
	return ""
}

func ownText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
