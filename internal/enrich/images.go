package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealpipe/dealpipe/internal/logger"
)

// maxImages caps how many product images are extracted per page.
const maxImages = 5

// imageDenylist filters known non-product site chrome by URL substring.
var imageDenylist = []string{
	"logo",
	"sprite",
	"icon",
	"avatar",
	"banner",
	"pixel",
	"spacer",
	"placeholder",
	"badge",
	"favicon",
}

// gallerySelectors are tried, in order, for site product galleries.
var gallerySelectors = []string{
	".product-gallery img",
	".product-images img",
	"[data-gallery] img",
	".gallery img",
}

// ImageExtractor discovers product images on a merchant page when the
// feed did not supply one. Preference order: Open Graph/Twitter-card
// meta, site gallery, then the first plausible content images.
type ImageExtractor struct {
	client *http.Client
	cache  Cache
	log    logger.Interface
}

// NewImageExtractor creates an image extractor.
func NewImageExtractor(client *http.Client, cache Cache, log logger.Interface) *ImageExtractor {
	return &ImageExtractor{client: client, cache: cache, log: log}
}

// Extract returns up to maxImages image URLs discovered on the page.
// Extraction is best-effort; an empty slice and nil error means the
// page yielded nothing usable.
func (e *ImageExtractor) Extract(ctx context.Context, pageURL string) ([]string, error) {
	if cached, hit := e.cache.Get(ctx, "images:"+pageURL); hit {
		if cached == "" {
			return nil, nil
		}
		return strings.Split(cached, "\n"), nil
	}

	images, err := e.extract(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	e.cache.Set(ctx, "images:"+pageURL, strings.Join(images, "\n"))
	return images, nil
}

func (e *ImageExtractor) extract(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("image extract new request: %w", err)
	}

	resp, doErr := e.client.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("image extract fetch: %w", doErr)
	}
	defer resp.Body.Close()

	doc, parseErr := goquery.NewDocumentFromReader(resp.Body)
	if parseErr != nil {
		return nil, fmt.Errorf("image extract parse: %w", parseErr)
	}

	base := resp.Request.URL

	var images []string
	seen := make(map[string]struct{})

	add := func(src string) bool {
		resolved := resolveImageURL(base, src)
		if resolved == "" || isDeniedImage(resolved) {
			return len(images) < maxImages
		}
		if _, dup := seen[resolved]; dup {
			return len(images) < maxImages
		}
		seen[resolved] = struct{}{}
		images = append(images, resolved)
		return len(images) < maxImages
	}

	// Meta images first; they are curated.
	doc.Find(`meta[property="og:image"], meta[name="twitter:image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content, _ := s.Attr("content")
		return add(content)
	})

	if len(images) < maxImages {
		for _, selector := range gallerySelectors {
			doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				src, _ := s.Attr("src")
				return add(src)
			})
			if len(images) > 0 {
				break
			}
		}
	}

	if len(images) == 0 {
		doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, _ := s.Attr("src")
			return add(src)
		})
	}

	return images, nil
}

// resolveImageURL absolutizes an image src against the page URL and
// rejects data: and javascript: schemes.
func resolveImageURL(base *url.URL, src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}

	parsed, err := url.Parse(src)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}

	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Host == "" {
		return ""
	}
	return parsed.String()
}

func isDeniedImage(imageURL string) bool {
	lower := strings.ToLower(imageURL)
	for _, denied := range imageDenylist {
		if strings.Contains(lower, denied) {
			return true
		}
	}
	return false
}
