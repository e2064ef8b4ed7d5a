package pipeline

import "fmt"

// The pipelines fail fast with one of the typed errors below. Callers
// discriminate with errors.As; nothing here is retried automatically.

// InvalidInputError reports malformed or missing caller input.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnreachableResourceError reports a fetch that failed at the network or
// HTTP level. StatusCode is zero when the request never got a response.
type UnreachableResourceError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UnreachableResourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *UnreachableResourceError) Unwrap() error { return e.Err }

// UnsupportedContentTypeError reports a response content-type no extraction
// strategy handles.
type UnsupportedContentTypeError struct {
	ContentType string
}

func (e *UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("unsupported content type: %s", e.ContentType)
}

// EmptyContentError reports a plain-text response with no usable body.
type EmptyContentError struct {
	URL string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("scraped content is empty for: %s", e.URL)
}

// ExtractionQualityError reports that a static parser produced nothing
// usable. It is the signal to consider the rendered-DOM fallback; the
// selector chains strategies on this error rather than matching message
// strings.
type ExtractionQualityError struct {
	URL      string
	Strategy string
}

func (e *ExtractionQualityError) Error() string {
	return fmt.Sprintf("%s extracted no meaningful content from %s; a headless browser may be required", e.Strategy, e.URL)
}

// InvalidEmbeddingError reports a malformed embedding-provider response.
// The ingestion that hit it aborts with nothing stored.
type InvalidEmbeddingError struct {
	Reason string
}

func (e *InvalidEmbeddingError) Error() string {
	return fmt.Sprintf("invalid embedding: %s", e.Reason)
}

// StorageError wraps a persistence or similarity-search backend failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// GenerationError wraps a language-model failure. Surfaced verbatim to the
// caller; the boundary decides whether to retry.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
