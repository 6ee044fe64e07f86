// Package extract parses fetched HTML into a title, readable article
// text, and outbound links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/WangYihang/News-Crawler/pkg/domain/service"
)

// unwantedSelectors are removed before text extraction; they carry
// navigation and boilerplate, not article content.
var unwantedSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form", "button",
}

// minParagraphLength drops link farms and bylines masquerading as
// paragraphs.
const minParagraphLength = 40

// Extractor implements service.Extractor on top of goquery.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract parses body as HTML. Relative links are resolved against
// baseURL. A document with no <title> and no paragraphs still succeeds
// with empty fields; only unparseable input returns an error.
func (e *Extractor) Extract(body []byte, baseURL string) (*service.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	result := &service.Extraction{
		Title:        title(doc),
		CanonicalURL: canonical(doc, base),
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		result.Links = append(result.Links, service.Link{
			URL:  abs.String(),
			Text: collapseSpace(sel.Text()),
		})
	})

	for _, sel := range unwantedSelectors {
		doc.Find(sel).Remove()
	}
	var paragraphs []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := collapseSpace(sel.Text())
		if len(text) >= minParagraphLength {
			paragraphs = append(paragraphs, text)
		}
	})
	result.Text = strings.Join(paragraphs, "\n")

	return result, nil
}

func title(doc *goquery.Document) string {
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t = collapseSpace(t); t != "" {
			return t
		}
	}
	return collapseSpace(doc.Find("title").First().Text())
}

func canonical(doc *goquery.Document, base *url.URL) string {
	href, ok := doc.Find(`link[rel="canonical"]`).Attr("href")
	if !ok {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
