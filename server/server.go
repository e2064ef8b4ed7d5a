package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/askpage/askpage/internal/models"
	"github.com/askpage/askpage/pkg/pipeline"
	"github.com/gorilla/websocket"
)

// noRelevantData is rendered when retrieval finds nothing above threshold.
// An empty result set is a normal outcome, not an error.
const noRelevantData = "No relevant data found."

// The boundary depends on the pipeline operations through these interfaces
// so handlers can be exercised against fakes.
type Ingestor interface {
	Ingest(ctx context.Context, rawURL string) (*pipeline.IngestResult, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, queryText string, k int, threshold float64) ([]models.SimilarityMatch, error)
}

type Responder interface {
	Respond(ctx context.Context, userMessage string) (string, error)
}

type Extractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
	ExtractRendered(ctx context.Context, rawURL string) (string, error)
}

// StreamGenerator is the optional streaming path used by the websocket
// endpoint.
type StreamGenerator interface {
	GenerateStream(ctx context.Context, userMessage, grounding string) (<-chan string, <-chan error)
}

type Config struct {
	Environment string // "production" suppresses stack traces in error bodies
	TopK        int
	Threshold   float64
}

// Server is the HTTP JSON boundary over the pipelines. It serializes
// results and translates the typed pipeline errors into status codes; it
// owns no pipeline logic.
type Server struct {
	config    Config
	ingestor  Ingestor
	retriever Retriever
	responder Responder
	extractor Extractor
	embedder  pipeline.Embedder
	generator pipeline.Generator
	streamer  StreamGenerator
}

func New(config Config, ingestor Ingestor, retriever Retriever, responder Responder, extractor Extractor, embedder pipeline.Embedder, generator pipeline.Generator, streamer StreamGenerator) *Server {
	if config.TopK == 0 {
		config.TopK = pipeline.DefaultTopK
	}
	if config.Threshold == 0 {
		config.Threshold = pipeline.DefaultThreshold
	}
	return &Server{
		config:    config,
		ingestor:  ingestor,
		retriever: retriever,
		responder: responder,
		extractor: extractor,
		embedder:  embedder,
		generator: generator,
		streamer:  streamer,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("POST /api/llm", s.handleLLM)
	mux.HandleFunc("POST /api/embed", s.handleEmbed)
	mux.HandleFunc("POST /api/fullscraper", s.handleFullScraper)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Field: "body", Reason: "malformed JSON"})
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	message := "Scraped, embedded and stored successfully"
	if result.AlreadyExists {
		message = "URL already exists in the database"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": message,
		"url":     result.URL,
	})
}

// handleChat is the raw retrieval endpoint: matches only, no generation.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMessage string `json:"userMessage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Field: "body", Reason: "malformed JSON"})
		return
	}

	matches, err := s.retriever.Retrieve(r.Context(), req.UserMessage, s.config.TopK, s.config.Threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if len(matches) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"matches": []string{noRelevantData}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// handleAsk runs the full retrieve-then-generate turn.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMessage string `json:"userMessage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Field: "body", Reason: "malformed JSON"})
		return
	}

	reply, err := s.responder.Respond(r.Context(), req.UserMessage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"llm_reply": reply})
}

// handleLLM generates from a caller-supplied context, bypassing retrieval.
func (s *Server) handleLLM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMessage string `json:"userMessage"`
		Context     string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		s.writeError(w, &pipeline.InvalidInputError{Field: "userMessage", Reason: "must not be empty"})
		return
	}

	reply, err := s.generator.Generate(r.Context(), req.UserMessage, req.Context)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"llm_reply": reply})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, &pipeline.InvalidInputError{Field: "text", Reason: "must not be empty"})
		return
	}

	embedding, err := s.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"embedding_values": embedding})
}

// handleFullScraper extracts without ingesting. "rendered" forces the
// headless-browser strategy for pages the static parser could not handle.
func (s *Server) handleFullScraper(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Rendered bool   `json:"rendered"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Field: "body", Reason: "malformed JSON"})
		return
	}

	var content string
	var err error
	if req.Rendered {
		content, err = s.extractor.ExtractRendered(r.Context(), req.URL)
	} else {
		content, err = s.extractor.Extract(r.Context(), req.URL)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Scraped successfully",
		"content": content,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// handleWebSocket streams grounded answers chunk by chunk. Each inbound
// text message is one chat turn.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Error reading message: %v", err)
			}
			return
		}
		s.handleChatTurn(r.Context(), conn, msg.Content)
	}
}

func (s *Server) handleChatTurn(ctx context.Context, conn *websocket.Conn, userMessage string) {
	if strings.TrimSpace(userMessage) == "" {
		s.sendWS(conn, "error", "message must not be empty")
		return
	}

	matches, err := s.retriever.Retrieve(ctx, userMessage, s.config.TopK, s.config.Threshold)
	if err != nil {
		s.sendWS(conn, "error", err.Error())
		return
	}

	var grounding string
	if len(matches) > 0 {
		parts := make([]string, len(matches))
		for i, m := range matches {
			parts[i] = m.Content
		}
		grounding = strings.Join(parts, "\n")
	}

	chunks, errc := s.streamer.GenerateStream(ctx, userMessage, grounding)
	for chunk := range chunks {
		s.sendWS(conn, "stream", chunk)
	}
	if err := <-errc; err != nil {
		s.sendWS(conn, "error", err.Error())
		return
	}
	s.sendWS(conn, "done", "")
}

func (s *Server) sendWS(conn *websocket.Conn, msgType, content string) {
	if err := conn.WriteJSON(wsMessage{Type: msgType, Content: content}); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// writeError translates the pipeline error taxonomy into HTTP statuses.
// Stack traces go out only in non-production environments.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		invalidInput *pipeline.InvalidInputError
		unreachable  *pipeline.UnreachableResourceError
		unsupported  *pipeline.UnsupportedContentTypeError
		emptyContent *pipeline.EmptyContentError
		quality      *pipeline.ExtractionQualityError
	)
	switch {
	case errors.As(err, &invalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &unreachable):
		status = http.StatusBadGateway
	case errors.As(err, &unsupported):
		status = http.StatusUnsupportedMediaType
	case errors.As(err, &emptyContent), errors.As(err, &quality):
		status = http.StatusUnprocessableEntity
	}

	body := map[string]string{"error": err.Error()}
	if status >= 500 && s.config.Environment != "production" {
		body["stack"] = string(debug.Stack())
	}
	if status >= 500 {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
