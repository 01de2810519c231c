package pipeline

import (
	"context"
	"log/slog"

	"github.com/xhad/newsdesk/internal/types"
	"github.com/xhad/newsdesk/pkg/config"
	"github.com/xhad/newsdesk/pkg/llm"
	"github.com/xhad/newsdesk/pkg/processor"
	"github.com/xhad/newsdesk/pkg/scraper"
	"github.com/xhad/newsdesk/pkg/store"
)

// NewFromConfig wires the scraper, processor, index store and model clients
// described by cfg into a pipeline.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Err(); err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "load config", Err: err}
	}

	indexStore, err := store.Open(ctx, store.Config{
		Backend:     cfg.Index.Backend,
		Path:        cfg.Index.Path,
		DatabaseURL: cfg.Index.DatabaseURL,
		TableName:   cfg.Index.TableName,
		VectorDim:   cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "open index", Err: err}
	}

	chunker := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
		Separators:   cfg.Processor.Separators,
	})

	deps := Deps{
		Loader: scraper.NewWithConfig(scraper.ScraperConfig{
			RateLimit: cfg.Scraper.RateLimit,
			Timeout:   cfg.Scraper.Timeout,
			UserAgent: cfg.Scraper.UserAgent,
			Logger:    logger.With("component", "scraper"),
		}),
		Chunker: &chunker,
		Store:   indexStore,
		NewEmbedder: func() (types.Embedder, error) {
			embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
				Provider:   cfg.LLM.Provider,
				Model:      cfg.Embedding.Model,
				APIKey:     cfg.LLM.APIKey,
				BaseURL:    cfg.LLM.BaseURL,
				Dimensions: cfg.Embedding.Dimensions,
				BatchSize:  cfg.Embedding.BatchSize,
				Timeout:    cfg.Embedding.Timeout,
			})
			if err != nil {
				return nil, err
			}
			return embedder, nil
		},
		NewAnswerer: func() (types.Answerer, error) {
			engine, err := llm.NewWithConfig(llm.ChatConfig{
				Provider:        cfg.LLM.Provider,
				Model:           cfg.LLM.Model,
				APIKey:          cfg.LLM.APIKey,
				BaseURL:         cfg.LLM.BaseURL,
				Temperature:     cfg.LLM.Temperature,
				MaxTokens:       cfg.LLM.MaxTokens,
				Timeout:         cfg.LLM.Timeout,
				SystemTemplate:  cfg.LLM.SystemTemplate,
				ContextTemplate: cfg.LLM.ContextTemplate,
			})
			if err != nil {
				return nil, err
			}
			return engine, nil
		},
	}

	return New(ctx, Config{
		MaxURLs:  cfg.Scraper.MaxURLs,
		TopK:     cfg.Retrieval.TopK,
		MinScore: cfg.Retrieval.MinScore,
		Logger:   logger.With("component", "pipeline"),
	}, deps), nil
}
