package monitor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
)

// SelectorKind tags the query language of a Selector.
type SelectorKind int

// Selector kinds. The variant is decided once when the profile loads, not
// re-parsed on every check.
const (
	SelectorCSS SelectorKind = iota
	SelectorXPath
	SelectorTextContains
)

const (
	xpathPrefix = "xpath="
	textPrefix  = "text="
)

// Selector is a compiled markup-query expression: a CSS selector, an
// "xpath="-prefixed XPath expression, or a "text="-prefixed text-contains
// pseudo-selector.
type Selector struct {
	kind SelectorKind
	raw  string
	css  cascadia.Selector
	expr *xpath.Expr
	text string
}

// ParseSelector compiles a raw selector string. An empty string yields a nil
// selector (cannot evaluate), not an error.
func ParseSelector(raw string) (*Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(raw, xpathPrefix):
		expr, err := xpath.Compile(strings.TrimPrefix(raw, xpathPrefix))
		if err != nil {
			return nil, fmt.Errorf("compile xpath selector %q: %w", raw, err)
		}
		return &Selector{kind: SelectorXPath, raw: raw, expr: expr}, nil
	case strings.HasPrefix(raw, textPrefix):
		needle := strings.TrimSpace(strings.TrimPrefix(raw, textPrefix))
		if needle == "" {
			return nil, fmt.Errorf("empty text selector %q", raw)
		}
		return &Selector{kind: SelectorTextContains, raw: raw, text: needle}, nil
	default:
		sel, err := cascadia.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile css selector %q: %w", raw, err)
		}
		return &Selector{kind: SelectorCSS, raw: raw, css: sel}, nil
	}
}

// Kind returns the selector variant.
func (s *Selector) Kind() SelectorKind {
	return s.kind
}

// String returns the raw selector expression.
func (s *Selector) String() string {
	return s.raw
}

// First returns the trimmed text of the first matching element, or false if
// nothing matches. For text-contains selectors the needle itself is returned
// when the document body contains it (case-insensitive).
func (s *Selector) First(doc *goquery.Document) (string, bool) {
	if s == nil || doc == nil || len(doc.Nodes) == 0 {
		return "", false
	}
	switch s.kind {
	case SelectorXPath:
		node := htmlquery.QuerySelector(doc.Nodes[0], s.expr)
		if node == nil {
			return "", false
		}
		return strings.TrimSpace(htmlquery.InnerText(node)), true
	case SelectorTextContains:
		body := strings.ToLower(doc.Text())
		if strings.Contains(body, strings.ToLower(s.text)) {
			return s.text, true
		}
		return "", false
	default:
		match := doc.FindMatcher(s.css).First()
		if match.Length() == 0 {
			return "", false
		}
		return strings.TrimSpace(match.Text()), true
	}
}
