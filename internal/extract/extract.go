// Package extract turns a fetched document into a normalized
// availability/price observation. It is pure: no I/O, no shared state.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// priceRe matches 1-7 digits (spaces allowed as thousand separators) followed
// by a decimal separator and exactly two fractional digits.
var priceRe = regexp.MustCompile(`[\d\s]{1,7}[.,]\d{2}`)

// PhraseSets are the language-specific availability keyword sets used when a
// profile carries no usable selectors, and to confirm unavailability markers.
type PhraseSets struct {
	OutOfStock []string
	InStock    []string
}

// DefaultPhrases returns the built-in Polish and English phrase sets.
func DefaultPhrases() PhraseSets {
	return PhraseSets{
		OutOfStock: []string{
			"brak w magazynie",
			"brak towaru",
			"wyprzedany",
			"niedostępny",
			"brak",
			"out of stock",
			"sold out",
			"unavailable",
		},
		InStock: []string{
			"do koszyka",
			"dodaj do koszyka",
			"dostępny",
			"w magazynie",
			"add to cart",
			"add to basket",
			"in stock",
		},
	}
}

// Extractor applies a compiled store profile to parsed documents.
type Extractor struct {
	phrases PhraseSets
}

// New builds an Extractor. Empty phrase sets fall back to the defaults.
func New(phrases PhraseSets) *Extractor {
	if len(phrases.OutOfStock) == 0 && len(phrases.InStock) == 0 {
		phrases = DefaultPhrases()
	}
	return &Extractor{phrases: phrases}
}

// Extract reads price and availability from the document according to the
// profile. Fields that cannot be determined stay unknown; callers must not
// let unknown readings overwrite persisted state.
func (e *Extractor) Extract(doc *goquery.Document, profile *monitor.CompiledProfile) monitor.Observation {
	obs := monitor.Observation{Availability: monitor.AvailabilityUnknown}
	if doc == nil {
		return obs
	}
	if profile == nil {
		profile = &monitor.CompiledProfile{}
	}

	obs.Price, obs.RawPriceText = e.price(doc, profile)
	obs.Availability = e.availability(doc, profile)
	return obs
}

// price resolves the discounted selector first, then the regular one.
func (e *Extractor) price(doc *goquery.Document, profile *monitor.CompiledProfile) (*decimal.Decimal, string) {
	for _, sel := range []*monitor.Selector{profile.DiscountedPrice, profile.Price} {
		text, ok := sel.First(doc)
		if !ok {
			continue
		}
		if value := ParsePrice(text); value != nil {
			return value, text
		}
	}
	return nil, ""
}

// ParsePrice extracts the first two-decimal numeric match from raw text and
// normalizes it: spaces stripped, comma converted to a decimal point.
func ParsePrice(raw string) *decimal.Decimal {
	match := priceRe.FindString(raw)
	if match == "" {
		return nil
	}
	cleaned := strings.ReplaceAll(match, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}
	return &value
}

func (e *Extractor) availability(doc *goquery.Document, profile *monitor.CompiledProfile) monitor.Availability {
	if text, ok := profile.Unavailability.First(doc); ok {
		if containsAny(text, e.phrases.OutOfStock) {
			return monitor.AvailabilityOutOfStock
		}
	}
	if profile.Availability != nil {
		if _, ok := profile.Availability.First(doc); ok {
			return monitor.AvailabilityInStock
		}
		return monitor.AvailabilityOutOfStock
	}
	if profile.Unavailability != nil {
		// The out-of-stock marker was evaluable and absent.
		return monitor.AvailabilityInStock
	}
	return e.scanDocument(doc)
}

// scanDocument is the last-resort keyword scan over the whole page text.
func (e *Extractor) scanDocument(doc *goquery.Document) monitor.Availability {
	body := doc.Text()
	if containsAny(body, e.phrases.OutOfStock) {
		return monitor.AvailabilityOutOfStock
	}
	if containsAny(body, e.phrases.InStock) {
		return monitor.AvailabilityInStock
	}
	return monitor.AvailabilityUnknown
}

func containsAny(text string, phrases []string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
