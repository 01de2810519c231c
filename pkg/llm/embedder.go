package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/newsdesk/internal/types"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider   string // "openai" or "ollama"
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// Known output sizes of common embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small":  1536,
	"text-embedding-3-large":  3072,
	"text-embedding-ada-002":  1536,
	"nomic-embed-text":        768,
	"nomic-embed-text:latest": 768,
	"mxbai-embed-large":       1024,
	"all-minilm":              384,
}

// Embedder maps text to vectors through an embedding model.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
}

var _ types.Embedder = (*Embedder)(nil)

// NewEmbedderWithConfig creates an Embedder backed by the configured provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	httpClient := &http.Client{Timeout: config.Timeout}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("failed to initialize embedder: %w", types.ErrMissingCredential)
		}
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
			openai.WithHTTPClient(httpClient),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = llm
	case "ollama":
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		llm, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
			ollama.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}

	return NewEmbedderWithClient(config, client)
}

// NewEmbedderWithClient wraps an existing embedding client.
func NewEmbedderWithClient(config EmbedderConfig, client embeddings.EmbedderClient) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Dimensions == 0 {
		config.Dimensions = modelDimensions[config.Model]
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		config:   config,
		embedder: emb,
	}, nil
}

// EmbedDocuments embeds texts in batches, one vector per text.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// the embedder rewrites newlines in place
	input := make([]string, len(texts))
	copy(input, texts)

	vectors, err := e.embedder.EmbedDocuments(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", types.ErrEmbedding, len(vectors), len(texts))
	}

	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", types.ErrEmbedding)
	}
	return vector, nil
}

func (e *Embedder) Dimensions() int {
	return e.config.Dimensions
}

func (e *Embedder) Model() string {
	return e.config.Model
}
