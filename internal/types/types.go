package types

import (
	"context"

	"github.com/xhad/newsdesk/internal/models"
)

// Core interfaces
type Loader interface {
	Load(ctx context.Context, urls []string) ([]models.Document, []models.URLFailure, error)
}

type Chunker interface {
	Split(docs []models.Document) ([]models.Segment, error)
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns 0 when the model's dimensionality is not known up front.
	Dimensions() int
	Model() string
}

// IndexStore persists exactly one vector index. Save replaces it atomically.
type IndexStore interface {
	Save(ctx context.Context, index *models.Index) error
	Load(ctx context.Context) (*models.Index, error)
	Info(ctx context.Context) (*models.IndexInfo, error)
	Search(ctx context.Context, query []float32, k int) ([]models.ScoredSegment, error)
	Close() error
}

type Answerer interface {
	Answer(ctx context.Context, question string, segments []models.Segment, opts ...AnswerOption) (*models.QueryResult, error)
}

type AnswerOptions struct {
	// OnChunk receives streamed answer text as it is generated.
	OnChunk func(chunk string)
}

type AnswerOption func(*AnswerOptions)

func WithOnChunk(fn func(chunk string)) AnswerOption {
	return func(o *AnswerOptions) {
		o.OnChunk = fn
	}
}
