package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/askpage/askpage/pkg/pipeline"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// EmptyReplyPlaceholder is returned when the model yields no text at all.
const EmptyReplyPlaceholder = "No response."

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
}

// ChatEngine generates replies with an Ollama chat model, optionally
// grounded in retrieved page content.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{config: config, llm: llm}, nil
}

// buildPrompt frames the user message. With grounding context the message
// and context are sent together; without it the raw message goes alone, so
// an empty knowledge base still gets an answer.
func buildPrompt(userMessage, grounding string) string {
	if strings.TrimSpace(grounding) == "" {
		return userMessage
	}
	return fmt.Sprintf("Users prompt to assistant: %s\n\nContext:%s", userMessage, grounding)
}

// Generate produces a reply to userMessage, grounded in the given context
// when one is supplied.
func (ce *ChatEngine) Generate(ctx context.Context, userMessage, grounding string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(userMessage, grounding)),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", &pipeline.GenerationError{Err: err}
	}

	reply := firstChoice(response)
	if strings.TrimSpace(reply) == "" {
		return EmptyReplyPlaceholder, nil
	}
	return reply, nil
}

// GenerateStream streams reply chunks over a channel. The channel is closed
// when generation finishes; a failure is delivered as a GenerationError on
// errc.
func (ce *ChatEngine) GenerateStream(ctx context.Context, userMessage, grounding string) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errc := make(chan error, 1)

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(userMessage, grounding)),
	}

	go func() {
		defer close(chunks)
		defer close(errc)

		_, err := ce.llm.GenerateContent(ctx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			errc <- &pipeline.GenerationError{Err: err}
		}
	}()

	return chunks, errc
}

func firstChoice(response *llms.ContentResponse) string {
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return ""
	}
	return response.Choices[0].Content
}
