package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askpage/askpage/internal/models"
	"github.com/askpage/askpage/pkg/pipeline"
)

type stubIngestor struct {
	result *pipeline.IngestResult
	err    error
}

func (s *stubIngestor) Ingest(_ context.Context, _ string) (*pipeline.IngestResult, error) {
	return s.result, s.err
}

type stubRetriever struct {
	matches []models.SimilarityMatch
	err     error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ int, _ float64) ([]models.SimilarityMatch, error) {
	return s.matches, s.err
}

type stubResponder struct {
	reply string
	err   error
}

func (s *stubResponder) Respond(_ context.Context, _ string) (string, error) {
	return s.reply, s.err
}

type stubExtractor struct {
	content  string
	err      error
	rendered bool
}

func (s *stubExtractor) Extract(_ context.Context, _ string) (string, error) {
	return s.content, s.err
}

func (s *stubExtractor) ExtractRendered(_ context.Context, _ string) (string, error) {
	s.rendered = true
	return s.content, s.err
}

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return s.vector, s.err
}

type stubGenerator struct {
	reply string
	err   error
}

func (s *stubGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	return s.reply, s.err
}

func (s *stubGenerator) GenerateStream(_ context.Context, _, _ string) (<-chan string, <-chan error) {
	chunks := make(chan string, 1)
	errc := make(chan error, 1)
	chunks <- s.reply
	close(chunks)
	close(errc)
	return chunks, errc
}

type stubs struct {
	ingestor  *stubIngestor
	retriever *stubRetriever
	responder *stubResponder
	extractor *stubExtractor
	embedder  *stubEmbedder
	generator *stubGenerator
}

func newTestServer(config Config, st stubs) *Server {
	if st.ingestor == nil {
		st.ingestor = &stubIngestor{result: &pipeline.IngestResult{URL: "https://example.com"}}
	}
	if st.retriever == nil {
		st.retriever = &stubRetriever{}
	}
	if st.responder == nil {
		st.responder = &stubResponder{reply: "ok"}
	}
	if st.extractor == nil {
		st.extractor = &stubExtractor{content: "text"}
	}
	if st.embedder == nil {
		st.embedder = &stubEmbedder{vector: []float32{0.1, 0.2}}
	}
	if st.generator == nil {
		st.generator = &stubGenerator{reply: "reply"}
	}
	return New(config, st.ingestor, st.retriever, st.responder, st.extractor, st.embedder, st.generator, st.generator)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestScrapeSuccess(t *testing.T) {
	srv := newTestServer(Config{}, stubs{
		ingestor: &stubIngestor{result: &pipeline.IngestResult{URL: "https://example.com/a"}},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scrape", `{"url":"https://example.com/a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Scraped, embedded and stored successfully", body["message"])
	assert.Equal(t, "https://example.com/a", body["url"])
}

func TestScrapeDuplicate(t *testing.T) {
	srv := newTestServer(Config{}, stubs{
		ingestor: &stubIngestor{result: &pipeline.IngestResult{URL: "https://example.com/a", AlreadyExists: true}},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scrape", `{"url":"https://example.com/a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "URL already exists in the database", decode(t, rec)["message"])
}

func TestScrapeErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", &pipeline.InvalidInputError{Field: "url", Reason: "bad"}, http.StatusBadRequest},
		{"unreachable", &pipeline.UnreachableResourceError{URL: "x", StatusCode: 404}, http.StatusBadGateway},
		{"unsupported type", &pipeline.UnsupportedContentTypeError{ContentType: "application/pdf"}, http.StatusUnsupportedMediaType},
		{"empty content", &pipeline.EmptyContentError{URL: "x"}, http.StatusUnprocessableEntity},
		{"quality", &pipeline.ExtractionQualityError{URL: "x", Strategy: "static-html"}, http.StatusUnprocessableEntity},
		{"storage", &pipeline.StorageError{Op: "insert", Err: errors.New("down")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(Config{}, stubs{ingestor: &stubIngestor{err: tt.err}})
			rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scrape", `{"url":"https://example.com/a"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.err.Error())
		})
	}
}

func TestStackTraceOnlyOutsideProduction(t *testing.T) {
	storageErr := &pipeline.StorageError{Op: "insert", Err: errors.New("down")}

	dev := newTestServer(Config{Environment: "development"}, stubs{ingestor: &stubIngestor{err: storageErr}})
	rec := doJSON(t, dev.Handler(), http.MethodPost, "/api/scrape", `{"url":"https://example.com/a"}`)
	assert.Contains(t, decode(t, rec), "stack")

	prod := newTestServer(Config{Environment: "production"}, stubs{ingestor: &stubIngestor{err: storageErr}})
	rec = doJSON(t, prod.Handler(), http.MethodPost, "/api/scrape", `{"url":"https://example.com/a"}`)
	assert.NotContains(t, decode(t, rec), "stack")
}

func TestChatWithMatches(t *testing.T) {
	srv := newTestServer(Config{}, stubs{
		retriever: &stubRetriever{matches: []models.SimilarityMatch{
			{URL: "https://a", Content: "page text", Similarity: 0.8},
		}},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", `{"userMessage":"What is on the page?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Matches []models.SimilarityMatch `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Matches, 1)
	assert.Equal(t, "https://a", body.Matches[0].URL)
	assert.InDelta(t, 0.8, body.Matches[0].Similarity, 1e-9)
}

func TestChatNoMatchesReturnsPlaceholder(t *testing.T) {
	srv := newTestServer(Config{}, stubs{retriever: &stubRetriever{}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", `{"userMessage":"anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Matches []string `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"No relevant data found."}, body.Matches)
}

func TestAsk(t *testing.T) {
	srv := newTestServer(Config{}, stubs{responder: &stubResponder{reply: "grounded answer"}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/ask", `{"userMessage":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "grounded answer", decode(t, rec)["llm_reply"])
}

func TestAskGenerationFailure(t *testing.T) {
	srv := newTestServer(Config{}, stubs{
		responder: &stubResponder{err: &pipeline.GenerationError{Err: errors.New("model offline")}},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/ask", `{"userMessage":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLLMWithExplicitContext(t *testing.T) {
	srv := newTestServer(Config{}, stubs{generator: &stubGenerator{reply: "framed answer"}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/llm", `{"userMessage":"hi","context":"some context"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "framed answer", decode(t, rec)["llm_reply"])
}

func TestLLMRequiresMessage(t *testing.T) {
	srv := newTestServer(Config{}, stubs{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/llm", `{"userMessage":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbed(t *testing.T) {
	srv := newTestServer(Config{}, stubs{embedder: &stubEmbedder{vector: []float32{0.25, -0.5}}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/embed", `{"text":"embed me"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		EmbeddingValues []float64 `json:"embedding_values"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []float64{0.25, -0.5}, body.EmbeddingValues)
}

func TestEmbedRequiresText(t *testing.T) {
	srv := newTestServer(Config{}, stubs{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/embed", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFullScraper(t *testing.T) {
	extractor := &stubExtractor{content: "the page text"}
	srv := newTestServer(Config{}, stubs{extractor: extractor})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/fullscraper", `{"url":"https://example.com/a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Scraped successfully", body["message"])
	assert.Equal(t, "the page text", body["content"])
	assert.False(t, extractor.rendered)
}

func TestFullScraperRenderedMode(t *testing.T) {
	extractor := &stubExtractor{content: "rendered text"}
	srv := newTestServer(Config{}, stubs{extractor: extractor})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/fullscraper", `{"url":"https://example.com/a","rendered":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, extractor.rendered)
}

func TestMalformedJSON(t *testing.T) {
	srv := newTestServer(Config{}, stubs{})
	for _, path := range []string{"/api/scrape", "/api/chat", "/api/ask", "/api/llm", "/api/embed", "/api/fullscraper"} {
		rec := doJSON(t, srv.Handler(), http.MethodPost, path, `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "path %s", path)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(Config{}, stubs{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
