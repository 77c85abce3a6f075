package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealpipe/dealpipe/internal/logger"
)

// hostDenylist excludes hosts that are never the merchant: CDNs,
// social networks, app stores, shorteners' interstitial pages.
var hostDenylist = []string{
	"cloudfront.net",
	"cloudflare.com",
	"akamaized.net",
	"fastly.net",
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"youtube.com",
	"tiktok.com",
	"pinterest.com",
	"apps.apple.com",
	"play.google.com",
	"doubleclick.net",
	"googletagmanager.com",
}

// merchantURLPattern finds absolute URLs inside embedded page-data JSON.
// Slashes may be JSON-escaped; decodeJSONURL unescapes the capture.
var merchantURLPattern = regexp.MustCompile(`"(?:merchant_?url|destination_?url|offer_?url|out_?url)"\s*:\s*"(https?:(?:\\?/){2}[^"]+)"`)

// MerchantResolver resolves the true merchant URL behind aggregator
// redirect and click-tracking links. Strategies run in order: embedded
// page-data JSON, redirect following, then an anchor scan filtered by
// the host denylist. Results are cached.
type MerchantResolver struct {
	client *http.Client
	cache  Cache
	log    logger.Interface
}

// NewMerchantResolver creates a merchant URL resolver.
func NewMerchantResolver(client *http.Client, cache Cache, log logger.Interface) *MerchantResolver {
	return &MerchantResolver{client: client, cache: cache, log: log}
}

// Resolve returns the merchant URL for an aggregator link, or the input
// URL unchanged when nothing better is found. Resolution failures are
// soft: the item is still worth persisting with the original URL.
func (r *MerchantResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if cached, hit := r.cache.Get(ctx, "merchant:"+rawURL); hit {
		return cached, nil
	}

	resolved, err := r.resolve(ctx, rawURL)
	if err != nil {
		return rawURL, err
	}

	r.cache.Set(ctx, "merchant:"+rawURL, resolved)
	return resolved, nil
}

func (r *MerchantResolver) resolve(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("merchant resolve new request: %w", err)
	}

	resp, doErr := r.client.Do(req)
	if doErr != nil {
		return "", fmt.Errorf("merchant resolve fetch: %w", doErr)
	}
	defer resp.Body.Close()

	// Redirect following may already have landed on the merchant.
	finalURL := resp.Request.URL
	if finalURL != nil && finalURL.String() != rawURL && allowedHost(finalURL.Host) && !sameHost(rawURL, finalURL.Host) {
		return finalURL.String(), nil
	}

	doc, parseErr := goquery.NewDocumentFromReader(resp.Body)
	if parseErr != nil {
		return "", fmt.Errorf("merchant resolve parse: %w", parseErr)
	}

	if u := r.fromPageData(doc); u != "" {
		return u, nil
	}
	if u := r.fromAnchors(doc, rawURL); u != "" {
		return u, nil
	}

	return rawURL, nil
}

// fromPageData looks for merchant URLs inside embedded JSON blobs
// (Next.js page data and JSON-LD offers).
func (r *MerchantResolver) fromPageData(doc *goquery.Document) string {
	found := ""

	doc.Find(`script[type="application/json"], script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()

		if m := merchantURLPattern.FindStringSubmatch(text); len(m) == 2 {
			if candidate := decodeJSONURL(m[1]); candidate != "" && allowedHostURL(candidate) {
				found = candidate
				return false
			}
		}
		return true
	})

	return found
}

// fromAnchors scans outbound anchors and returns the first plausible
// merchant link on a different, allowed host.
func (r *MerchantResolver) fromAnchors(doc *goquery.Document, pageURL string) string {
	found := ""

	doc.Find("a[href^='http']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		parsed, err := url.Parse(href)
		if err != nil {
			return true
		}
		if sameHost(pageURL, parsed.Host) || !allowedHost(parsed.Host) {
			return true
		}

		rel, _ := s.Attr("rel")
		if strings.Contains(rel, "sponsored") || strings.Contains(rel, "nofollow") {
			found = href
			return false
		}
		return true
	})

	return found
}

// decodeJSONURL unescapes JSON string escapes like \/ in extracted URLs.
func decodeJSONURL(raw string) string {
	var decoded string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &decoded); err != nil {
		return raw
	}
	return decoded
}

func allowedHostURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return allowedHost(parsed.Host)
}

func allowedHost(host string) bool {
	host = strings.ToLower(host)
	for _, denied := range hostDenylist {
		if host == denied || strings.HasSuffix(host, "."+denied) {
			return false
		}
	}
	return host != ""
}

func sameHost(rawURL, host string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(parsed.Host, "www."), strings.TrimPrefix(host, "www."))
}
