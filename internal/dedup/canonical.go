// Package dedup decides whether an incoming normalized item is new or a
// near-duplicate of something already stored. Strategies run in priority
// order and the first confident match wins.
package dedup

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams is the fixed denylist of query parameters stripped
// during URL canonicalization. Affiliate and analytics noise only; the
// remaining params are part of the item's identity.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"referrer":     {},
	"affiliate":    {},
	"aff_id":       {},
	"tag":          {},
}

// CanonicalizeURL normalizes a URL for exact-match comparison: lowercase
// host without "www.", tracking params stripped, remaining query params
// sorted, fragment and trailing slash dropped.
func CanonicalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("canonicalize url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("canonicalize url: %q is not absolute", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""

	query := u.Query()
	for param := range query {
		if _, tracked := trackingParams[strings.ToLower(param)]; tracked {
			query.Del(param)
		}
	}
	u.RawQuery = sortedEncode(query)

	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// sortedEncode encodes query values with keys in deterministic order.
func sortedEncode(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
