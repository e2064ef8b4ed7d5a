package llm

import (
	"context"
	"fmt"

	"github.com/askpage/askpage/pkg/pipeline"
	"github.com/tmc/langchaingo/llms/ollama"
)

type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	Dimension int    // expected vector length; 0 disables the check
}

// Embedder produces fixed-length vectors via an Ollama embedding model.
type Embedder struct {
	config EmbedderConfig
	llm    *ollama.LLM
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{config: config, llm: llm}, nil
}

// Embed returns the embedding of text. The provider response is validated
// here, at the boundary where it becomes an EmbeddingVector: the dimension
// must match and every element must be finite. One bad element fails the
// whole call.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		// A failed provider call is not a malformed vector; keep the
		// cause unwrappable for the boundary.
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, &pipeline.InvalidEmbeddingError{
			Reason: fmt.Sprintf("expected 1 embedding, got %d", len(embeddings)),
		}
	}

	vector := embeddings[0]
	if e.config.Dimension != 0 && len(vector) != e.config.Dimension {
		return nil, &pipeline.InvalidEmbeddingError{
			Reason: fmt.Sprintf("expected dimension %d, got %d", e.config.Dimension, len(vector)),
		}
	}
	if err := pipeline.ValidateEmbedding(vector); err != nil {
		return nil, err
	}
	return vector, nil
}
