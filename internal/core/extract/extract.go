package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"alttext/internal/core/frontier"

	"github.com/PuerkitoBio/goquery"
)

// Image is one image occurrence on a page, before classification. Alt is nil
// when the attribute is absent; the empty string means alt="" was present.
type Image struct {
	PageURL      string  `json:"page_url"`
	SourceURL    string  `json:"source_url"`
	CanonicalURL string  `json:"canonical_url"`
	Alt          *string `json:"alt,omitempty"`
	Decorative   bool    `json:"decorative"`
}

// PageContent is the extractor's output for one fetched page.
type PageContent struct {
	Images []Image
	Links  []string
}

// Parse enumerates image-bearing elements and outbound links in document
// order. Malformed fragments are skipped by the tolerant parser rather than
// failing the page.
func Parse(pageURL string, body []byte) (*PageContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	content := &PageContent{}

	doc.Find("img, input[type='image'], area").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			// Image-map regions carry their target in href.
			src, ok = s.Attr("href")
		}
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			return
		}
		abs := resolve(base, src)
		if abs == "" {
			return
		}

		img := Image{
			PageURL:      pageURL,
			SourceURL:    abs,
			CanonicalURL: canonicalImageURL(abs),
			Decorative:   isDecorative(s),
		}
		if alt, present := s.Attr("alt"); present {
			a := alt
			img.Alt = &a
		}
		content.Images = append(content.Images, img)
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}
		if abs := resolve(base, href); abs != "" {
			content.Links = append(content.Links, abs)
		}
	})

	return content, nil
}

func isDecorative(s *goquery.Selection) bool {
	role, _ := s.Attr("role")
	if role == "presentation" || role == "none" {
		return true
	}
	hidden, _ := s.Attr("aria-hidden")
	return hidden == "true"
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.Scheme == "data" {
		// Inline images are kept verbatim; they dedupe by payload.
		return ref
	}
	return base.ResolveReference(u).String()
}

// canonicalImageURL produces the form used for cross-page deduplication:
// lowercased scheme and host, fragment stripped. Non-HTTP sources (inline
// data URIs) canonicalize to themselves.
func canonicalImageURL(raw string) string {
	if strings.HasPrefix(strings.ToLower(raw), "data:") {
		return raw
	}
	norm, err := frontier.Normalize(raw)
	if err != nil {
		return raw
	}
	return norm
}
