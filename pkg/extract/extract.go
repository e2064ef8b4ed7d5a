package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/askpage/askpage/pkg/pipeline"
	"golang.org/x/time/rate"
)

// PlainTextByteLimit caps how much of a text/plain or rendered-DOM body is
// kept. Static HTML extraction keeps the full body text so the whole page
// is available as grounding context.
const PlainTextByteLimit = 8192

// BodyStrategy turns an already-fetched response body into plain text.
// Strategies that produce nothing usable return ExtractionQualityError so
// the selector can chain to a stronger strategy.
type BodyStrategy interface {
	Name() string
	ExtractBody(url string, body io.Reader) (string, error)
}

// RenderedStrategy fetches and extracts on its own, driving a browser
// rather than working from a response body.
type RenderedStrategy interface {
	Name() string
	Extract(ctx context.Context, url string) (string, error)
}

type Config struct {
	Timeout        time.Duration
	RateLimit      float64 // requests per second
	RenderFallback bool    // chain to the headless browser on quality failure
	UserAgent      string
}

// Extractor fetches a URL and dispatches on its content-type: raw body for
// text/plain, goquery extraction for text/html, and optionally a rendered
// DOM pass when the static HTML parse yields nothing.
type Extractor struct {
	config   Config
	client   *http.Client
	limiter  *rate.Limiter
	html     BodyStrategy
	text     BodyStrategy
	rendered RenderedStrategy
}

func NewWithConfig(config Config) *Extractor {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	return &Extractor{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		html:     &StaticHTML{},
		text:     &StaticText{},
		rendered: NewRenderedDOM(config.Timeout),
	}
}

func New() *Extractor {
	return NewWithConfig(Config{})
}

// Extract fetches rawURL and returns its visible text. Malformed URLs fail
// before any network call.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (string, error) {
	if err := checkURL(rawURL); err != nil {
		return "", err
	}

	// Wait returns the context's error when the caller gives up; keep it
	// unwrappable so the boundary can tell cancellation from a backend
	// failure.
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("fetch not attempted for %s: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &pipeline.InvalidInputError{Field: "url", Reason: err.Error()}
	}
	if e.config.UserAgent != "" {
		req.Header.Set("User-Agent", e.config.UserAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", &pipeline.UnreachableResourceError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &pipeline.UnreachableResourceError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/plain"):
		return e.text.ExtractBody(rawURL, resp.Body)

	case strings.Contains(contentType, "text/html"):
		content, err := e.html.ExtractBody(rawURL, resp.Body)
		if err == nil {
			return content, nil
		}
		var quality *pipeline.ExtractionQualityError
		if errors.As(err, &quality) && e.config.RenderFallback {
			return e.rendered.Extract(ctx, rawURL)
		}
		return "", err

	default:
		return "", &pipeline.UnsupportedContentTypeError{ContentType: contentType}
	}
}

// ExtractRendered forces the headless-browser path, bypassing the static
// strategies. Used by the boundary when a caller explicitly requests a
// rendered extraction after a static failure.
func (e *Extractor) ExtractRendered(ctx context.Context, rawURL string) (string, error) {
	if err := checkURL(rawURL); err != nil {
		return "", err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("fetch not attempted for %s: %w", rawURL, err)
	}
	return e.rendered.Extract(ctx, rawURL)
}

func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &pipeline.InvalidInputError{
			Field:  "url",
			Reason: fmt.Sprintf("%q is not an absolute http(s) URL", rawURL),
		}
	}
	return nil
}

// collapseWhitespace joins all whitespace-separated tokens with single
// spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capAtRuneBoundary caps s at limit bytes, backing off so the cut never
// splits a multibyte character.
func capAtRuneBoundary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
