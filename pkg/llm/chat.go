package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
)

// NoContentAnswer is returned without a model call when retrieval finds nothing.
const NoContentAnswer = "No relevant content found in the processed articles."

const defaultSystemTemplate = "You are a news research assistant. Use only the article extracts below to answer the question. " +
	"If the answer is not contained in the extracts, say that you don't know based on the provided articles. " +
	"Do not make up an answer."

const defaultContextTemplate = "Article extracts:\n\n%s\nQuestion: %s\nAnswer:"

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider        string // "openai" or "ollama"
	Model           string
	APIKey          string
	BaseURL         string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	SystemTemplate  string
	ContextTemplate string // formatted with the extracts, then the question

	// LLM replaces the provider client when set.
	LLM llms.Model
}

// ChatEngine answers questions from retrieved segments with a single model call.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

var _ types.Answerer = (*ChatEngine)(nil)

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 500
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = defaultSystemTemplate
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = defaultContextTemplate
	}

	llm := config.LLM
	if llm == nil {
		var err error
		llm, err = newProviderModel(&config)
		if err != nil {
			return nil, err
		}
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

func newProviderModel(config *ChatConfig) (llms.Model, error) {
	httpClient := &http.Client{Timeout: config.Timeout}

	switch config.Provider {
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("failed to initialize LLM: %w", types.ErrMissingCredential)
		}
		if config.Model == "" {
			config.Model = "gpt-3.5-turbo"
		}
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
			openai.WithHTTPClient(httpClient),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	case "ollama":
		if config.Model == "" {
			config.Model = "mistral" // Default Ollama model
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
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", config.Provider)
	}
}

// Answer asks the model the question with the segments as its only context.
// The sources come from the segments, never from the model output.
func (ce *ChatEngine) Answer(ctx context.Context, question string, segments []models.Segment, opts ...types.AnswerOption) (*models.QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, types.ErrEmptyQuestion
	}
	if len(segments) == 0 {
		return &models.QueryResult{Answer: NoContentAnswer, NoContent: true}, nil
	}

	var options types.AnswerOptions
	for _, opt := range opts {
		opt(&options)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, ce.BuildPrompt(question, segments)),
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
	if options.OnChunk != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			options.OnChunk(string(chunk))
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	response, err := ce.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrGeneration, err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return nil, fmt.Errorf("%w: no response from LLM", types.ErrGeneration)
	}

	return &models.QueryResult{
		Answer:  strings.TrimSpace(response.Choices[0].Content),
		Sources: formatSources(segments),
	}, nil
}

// BuildPrompt renders the extracts followed by the question.
func (ce *ChatEngine) BuildPrompt(question string, segments []models.Segment) string {
	var contextBuilder strings.Builder
	for _, seg := range segments {
		contextBuilder.WriteString(fmt.Sprintf("Content: %s\nSource: %s\n\n", seg.Text, seg.Source))
	}
	return fmt.Sprintf(ce.config.ContextTemplate, contextBuilder.String(), strings.TrimSpace(question))
}

// formatSources lists the distinct segment sources in first-seen order.
func formatSources(segments []models.Segment) []string {
	var sources []string
	seen := make(map[string]bool)

	for _, seg := range segments {
		if !seen[seg.Source] {
			sources = append(sources, seg.Source)
			seen[seg.Source] = true
		}
	}

	return sources
}
