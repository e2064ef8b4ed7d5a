package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/askpage/askpage/internal/models"
	"github.com/askpage/askpage/pkg/store"
)

const (
	// EmbedInputLimit caps the text sent to the embedding provider during
	// ingestion. The stored content is not truncated; only the
	// vectorization input is.
	EmbedInputLimit = 9000

	// DefaultTopK and DefaultThreshold are the retrieval defaults used by
	// the chat boundary.
	DefaultTopK      = 3
	DefaultThreshold = 0.75
)

// Extractor fetches a URL and returns its plain text.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// Embedder turns text into a fixed-length numeric vector. Implementations
// must reject responses containing non-finite values.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists pages and answers similarity queries. FindByURL
// returns store.ErrNotFound when no page matches; Insert returns
// store.ErrDuplicate when the url key already exists.
type VectorStore interface {
	FindByURL(ctx context.Context, url string) (*models.Page, error)
	Insert(ctx context.Context, page *models.Page) error
	SimilaritySearch(ctx context.Context, embedding []float32, k int, threshold float64) ([]models.SimilarityMatch, error)
}

// Generator produces a natural-language reply to a user message, optionally
// grounded in retrieved context.
type Generator interface {
	Generate(ctx context.Context, userMessage, grounding string) (string, error)
}

// IngestResult reports the outcome of one ingestion.
type IngestResult struct {
	URL           string
	AlreadyExists bool
}

// Ingestion runs the scrape -> embed -> store pipeline for single URLs.
// Ingestion is write-once per URL: re-submitting a stored URL is a no-op
// even if the live page has changed.
type Ingestion struct {
	extractor Extractor
	embedder  Embedder
	store     VectorStore
}

func NewIngestion(extractor Extractor, embedder Embedder, vs VectorStore) *Ingestion {
	return &Ingestion{extractor: extractor, embedder: embedder, store: vs}
}

// Ingest validates the URL, short-circuits on a previously stored page,
// then extracts, embeds and stores. Nothing is written unless every stage
// succeeds.
func (in *Ingestion) Ingest(ctx context.Context, rawURL string) (*IngestResult, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	// Fast path only; the unique key on url is what actually guarantees
	// one row per URL under concurrent ingestion.
	_, err := in.store.FindByURL(ctx, rawURL)
	switch {
	case err == nil:
		return &IngestResult{URL: rawURL, AlreadyExists: true}, nil
	case errors.Is(err, store.ErrNotFound):
		// proceed
	default:
		return nil, &StorageError{Op: "lookup", Err: err}
	}

	content, err := in.extractor.Extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	embedInput := content
	if len(embedInput) > EmbedInputLimit {
		// Back off to a rune boundary so the cut never produces a broken
		// trailing character.
		cut := EmbedInputLimit
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		embedInput = content[:cut]
	}

	embedding, err := in.embedder.Embed(ctx, embedInput)
	if err != nil {
		return nil, err
	}
	if err := ValidateEmbedding(embedding); err != nil {
		return nil, err
	}

	err = in.store.Insert(ctx, &models.Page{URL: rawURL, Content: content, Embedding: embedding})
	switch {
	case err == nil:
		return &IngestResult{URL: rawURL}, nil
	case errors.Is(err, store.ErrDuplicate):
		// Lost a race with a concurrent ingest of the same URL. The
		// constraint is the canonical dedup signal, so report the same
		// outcome as the fast path.
		return &IngestResult{URL: rawURL, AlreadyExists: true}, nil
	default:
		return nil, &StorageError{Op: "insert", Err: err}
	}
}

// Retrieval embeds a query and returns the stored pages most similar to it.
type Retrieval struct {
	embedder Embedder
	store    VectorStore
}

func NewRetrieval(embedder Embedder, vs VectorStore) *Retrieval {
	return &Retrieval{embedder: embedder, store: vs}
}

// Retrieve returns up to k matches with cosine similarity >= threshold,
// ordered most similar first. Zero matches is a normal outcome, not an
// error.
func (r *Retrieval) Retrieve(ctx context.Context, queryText string, k int, threshold float64) ([]models.SimilarityMatch, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, &InvalidInputError{Field: "query", Reason: "must not be empty"}
	}

	embedding, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	if err := ValidateEmbedding(embedding); err != nil {
		return nil, err
	}

	matches, err := r.store.SimilaritySearch(ctx, embedding, k, threshold)
	if err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	return matches, nil
}

// Conversation composes retrieval and generation into one chat turn.
type Conversation struct {
	retrieval *Retrieval
	generator Generator
	topK      int
	threshold float64
}

func NewConversation(retrieval *Retrieval, generator Generator) *Conversation {
	return &Conversation{
		retrieval: retrieval,
		generator: generator,
		topK:      DefaultTopK,
		threshold: DefaultThreshold,
	}
}

// Respond retrieves grounding context for userMessage and asks the
// generator for a reply. With no matches above threshold the generator is
// called without context rather than with an empty string.
func (c *Conversation) Respond(ctx context.Context, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", &InvalidInputError{Field: "userMessage", Reason: "must not be empty"}
	}

	matches, err := c.retrieval.Retrieve(ctx, userMessage, c.topK, c.threshold)
	if err != nil {
		return "", err
	}

	var grounding string
	if len(matches) > 0 {
		parts := make([]string, len(matches))
		for i, m := range matches {
			parts[i] = m.Content
		}
		grounding = strings.Join(parts, "\n")
	}

	reply, err := c.generator.Generate(ctx, userMessage, grounding)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return "", err
		}
		return "", &GenerationError{Err: err}
	}
	return reply, nil
}

// ValidateEmbedding rejects vectors containing NaN or infinite entries.
// One bad element fails the whole vector.
func ValidateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return &InvalidEmbeddingError{Reason: "empty vector"}
	}
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &InvalidEmbeddingError{Reason: fmt.Sprintf("non-numeric value at index %d", i)}
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return &InvalidInputError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &InvalidInputError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &InvalidInputError{Field: "url", Reason: "scheme must be http or https"}
	}
	return nil
}
