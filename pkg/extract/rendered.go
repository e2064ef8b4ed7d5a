package extract

import (
	"context"
	"time"

	"github.com/askpage/askpage/pkg/pipeline"
	"github.com/chromedp/chromedp"
)

// collectTextJS gathers textContent from every element node except the
// non-content ones, mirroring what the static HTML strategy strips.
const collectTextJS = `(() => {
	const skip = new Set(['SCRIPT', 'STYLE', 'LINK', 'META', 'HEAD']);
	const parts = [];
	for (const el of document.querySelectorAll('body *')) {
		if (skip.has(el.tagName)) continue;
		const text = el.textContent.trim();
		if (text) parts.push(text);
	}
	return parts.join(' ');
})()`

var _ RenderedStrategy = (*RenderedDOM)(nil)

// RenderedDOM extracts text by loading the page in a headless browser and
// reading the settled DOM. It is the fallback for pages whose content only
// exists after script execution. Every call gets a fresh browser instance;
// the chromedp contexts guarantee teardown on success, error and timeout
// alike.
type RenderedDOM struct {
	timeout time.Duration
}

func NewRenderedDOM(timeout time.Duration) *RenderedDOM {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RenderedDOM{timeout: timeout}
}

func (r *RenderedDOM) Name() string { return "rendered-dom" }

func (r *RenderedDOM) Extract(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var text string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(collectTextJS, &text),
	)
	if err != nil {
		return "", &pipeline.UnreachableResourceError{URL: url, Err: err}
	}

	text = capAtRuneBoundary(collapseWhitespace(text), PlainTextByteLimit)
	if text == "" {
		return "", &pipeline.ExtractionQualityError{URL: url, Strategy: r.Name()}
	}
	return text, nil
}
