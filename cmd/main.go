package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/askpage/askpage/internal/models"
	"github.com/askpage/askpage/pkg/config"
	"github.com/askpage/askpage/pkg/extract"
	"github.com/askpage/askpage/pkg/llm"
	"github.com/askpage/askpage/pkg/pipeline"
	"github.com/askpage/askpage/pkg/store"
	"github.com/askpage/askpage/server"
)

func main() {
	// Missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	var (
		configPath string
		ingestURLs string
		serve      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&ingestURLs, "ingest", "", "Comma-separated URLs to ingest before starting")
	flag.BoolVar(&serve, "serve", false, "Start the HTTP server instead of the chat REPL")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	if err := run(cfg, ingestURLs, serve); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config, ingestURLs string, serve bool) error {
	ctx := context.Background()

	extractor := extract.NewWithConfig(extract.Config{
		Timeout:        time.Duration(cfg.Extractor.TimeoutSeconds) * time.Second,
		RateLimit:      cfg.Extractor.RateLimit,
		RenderFallback: cfg.Extractor.RenderFallback,
		UserAgent:      cfg.Extractor.UserAgent,
	})

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.LLM.BaseURL,
		Dimension: cfg.Embedder.Dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		BaseURL:     cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Embedder.Dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectorStore.Close()

	ingestion := pipeline.NewIngestion(extractor, embedder, vectorStore)
	retrieval := pipeline.NewRetrieval(embedder, vectorStore)
	conversation := pipeline.NewConversation(retrieval, chatEngine)

	if ingestURLs != "" {
		if err := ingestAll(ctx, ingestion, strings.Split(ingestURLs, ",")); err != nil {
			return err
		}
	}

	if serve {
		srv := server.New(server.Config{
			Environment: cfg.Server.Environment,
			TopK:        cfg.Retrieval.TopK,
			Threshold:   cfg.Retrieval.Threshold,
		}, ingestion, retrieval, conversation, extractor, embedder, chatEngine, chatEngine)

		log.Printf("Starting server on port %s", cfg.Server.Port)
		return http.ListenAndServe(":"+cfg.Server.Port, srv.Handler())
	}

	return chatLoop(ctx, ingestion, conversation)
}

func ingestAll(ctx context.Context, ingestion *pipeline.Ingestion, urls []string) error {
	bar := progressbar.NewOptions(len(urls),
		progressbar.OptionSetDescription(color.CyanString("Ingesting pages...")),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)

	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		result, err := ingestion.Ingest(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", url, err)
		}
		bar.Add(1)
		if result.AlreadyExists {
			color.Yellow("\n%s already in the knowledge base, skipped", url)
		}
	}
	bar.Finish()
	color.Green("\nIngestion complete\n")
	return nil
}

func chatLoop(ctx context.Context, ingestion *pipeline.Ingestion, conversation *pipeline.Conversation) error {
	color.Cyan("\nChat with your knowledge base (type 'exit' to quit, 'history' to review)")
	color.Cyan("Paste a URL to add it to the knowledge base first.\n")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	// The transcript lives here, in the presentation layer; the pipelines
	// are stateless across turns.
	var session []models.ChatTurn

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" {
			return nil
		}
		if input == "history" {
			for _, turn := range session {
				fmt.Printf("%s: %s\n", turn.Role, turn.Text)
			}
			continue
		}

		if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
			result, err := ingestion.Ingest(ctx, input)
			if err != nil {
				color.Red("Ingestion failed: %v", err)
				continue
			}
			if result.AlreadyExists {
				color.Yellow("URL already exists in the database")
			} else {
				color.Green("Scraped, embedded and stored successfully")
			}
			continue
		}

		reply, err := conversation.Respond(ctx, input)
		if err != nil {
			color.Red("Error: %v", err)
			continue
		}
		session = append(session,
			models.ChatTurn{Role: "user", Text: input},
			models.ChatTurn{Role: "assistant", Text: reply},
		)
		assistantPrompt("\nAssistant: %s\n", reply)
	}
}
