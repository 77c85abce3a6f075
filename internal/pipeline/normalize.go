// Package pipeline orchestrates per-item processing: normalize,
// validate, safety gates, enrichment, deduplication, and persistence.
// One generic processor serves both deals and coupons through the
// ItemVariant interface.
package pipeline

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	htmlTags   = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)

	// priceChars keeps digits, separators, and sign while dropping
	// currency symbols and units.
	priceChars = regexp.MustCompile(`[^0-9.,\-]`)

	// embeddedCode finds coupon codes mentioned in titles and
	// descriptions ("use code SAVE20", "coupon: WELCOME15").
	embeddedCode = regexp.MustCompile(`(?i)(?:use\s+)?(?:code|coupon)[:\s]+([A-Z0-9]{4,20})\b`)

	// percentOff extracts a discount percentage from free text. Three
	// digits so "100% off" parses whole; validation bounds the value.
	percentOff = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)
)

// dateLayouts tried in order when parsing feed dates.
var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// stripHTML removes tags and entities and collapses whitespace.
func stripHTML(s string) string {
	s = htmlTags.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// parsePrice coerces a price-like string ("$1,299.99", "EUR 49") to a
// number. Returns nil when the string is empty or unparseable; bad
// prices are a data-quality issue, not an error.
func parsePrice(s string) *float64 {
	s = priceChars.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return nil
	}

	// "1,299.99" -> "1299.99"; "49,90" (EU decimal comma) -> "49.90".
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else if strings.Count(s, ",") == 1 {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}

// parseDate parses a feed date defensively. Invalid dates return nil,
// never an error.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// normalizeCode uppercases and trims a coupon code.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// extractEmbeddedCode pulls a coupon code out of free text when the
// feed did not provide one explicitly.
func extractEmbeddedCode(texts ...string) string {
	for _, text := range texts {
		if m := embeddedCode.FindStringSubmatch(text); len(m) == 2 {
			return normalizeCode(m[1])
		}
	}
	return ""
}

// parseDiscountPct parses an explicit discount field, falling back to a
// percentage mentioned in the given texts.
func parseDiscountPct(explicit string, texts ...string) *float64 {
	if p := parsePrice(explicit); p != nil {
		return p
	}

	for _, text := range texts {
		if m := percentOff.FindStringSubmatch(text); len(m) == 2 {
			if value, err := strconv.ParseFloat(m[1], 64); err == nil {
				return &value
			}
		}
	}
	return nil
}
