package extract

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/askpage/askpage/pkg/pipeline"
)

var (
	_ BodyStrategy = (*StaticText)(nil)
	_ BodyStrategy = (*StaticHTML)(nil)
)

// StaticText handles text/plain responses: the raw body, capped at
// PlainTextByteLimit.
type StaticText struct{}

func (s *StaticText) Name() string { return "static-text" }

func (s *StaticText) ExtractBody(url string, body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, PlainTextByteLimit))
	if err != nil {
		return "", &pipeline.UnreachableResourceError{URL: url, Err: err}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &pipeline.EmptyContentError{URL: url}
	}
	return text, nil
}

// StaticHTML handles text/html responses: parse the document, drop
// non-content elements, and join the visible text of everything under body
// with single spaces. An empty result means the static parse failed, not
// that the page is empty; pages that only render through script need the
// headless-browser strategy.
type StaticHTML struct{}

func (s *StaticHTML) Name() string { return "static-html" }

func (s *StaticHTML) ExtractBody(url string, body io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", &pipeline.ExtractionQualityError{URL: url, Strategy: s.Name()}
	}

	// Strip non-content nodes first so neither pass below can pick up
	// script or style text.
	doc.Find("script, style, meta, link, head").Remove()

	var parts []string
	doc.Find("body").Find("*").Each(func(_ int, el *goquery.Selection) {
		if text := strings.TrimSpace(el.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	text := collapseWhitespace(strings.Join(parts, " "))
	if text == "" {
		// Fall back to the aggregate body text before declaring failure;
		// bare text nodes directly under body have no element wrapper.
		text = collapseWhitespace(doc.Find("body").Text())
	}
	if text == "" {
		return "", &pipeline.ExtractionQualityError{URL: url, Strategy: s.Name()}
	}
	return text, nil
}
