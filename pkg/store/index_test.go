package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
	"github.com/xhad/newsdesk/pkg/store"
)

// tableEmbedder returns fixed vectors looked up by text.
type tableEmbedder struct {
	vectors map[string][]float32
	dim     int
	err     error
	calls   int
}

func (e *tableEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vectors[text]
	}
	return out, nil
}

func (e *tableEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vectors[text], nil
}

func (e *tableEmbedder) Dimensions() int { return e.dim }
func (e *tableEmbedder) Model() string   { return "table" }

func testSegments() []models.Segment {
	return []models.Segment{
		{Source: "https://a.example.com", Text: "alpha", Order: 0},
		{Source: "https://a.example.com", Text: "beta", Order: 1},
		{Source: "https://b.example.com", Text: "gamma", Order: 0},
	}
}

func testEmbedder() *tableEmbedder {
	return &tableEmbedder{
		dim: 3,
		vectors: map[string][]float32{
			"alpha": {1, 0, 0},
			"beta":  {0, 1, 0},
			"gamma": {0, 0, 1},
		},
	}
}

func TestBuild(t *testing.T) {
	index, err := store.Build(context.Background(), testSegments(), testEmbedder())
	require.NoError(t, err)

	assert.Equal(t, 3, index.Dimension)
	assert.Equal(t, "table", index.Model)
	assert.NotEmpty(t, index.BuildID)
	assert.False(t, index.BuiltAt.IsZero())
	require.Equal(t, 3, index.Len())

	assert.Equal(t, models.IndexEntry{
		Vector: []float32{0, 1, 0},
		Text:   "beta",
		Source: "https://a.example.com",
		Order:  1,
	}, index.Entries[1])
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, index.Sources())
}

func TestBuildFailsOnEmbeddingError(t *testing.T) {
	embedder := testEmbedder()
	embedder.err = errors.New("rate limited")

	index, err := store.Build(context.Background(), testSegments(), embedder)
	assert.Error(t, err)
	assert.Nil(t, index)
}

func TestBuildRejectsInconsistentVectors(t *testing.T) {
	embedder := testEmbedder()
	embedder.vectors["beta"] = []float32{0, 1}

	_, err := store.Build(context.Background(), testSegments(), embedder)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestBuildRequiresSegments(t *testing.T) {
	embedder := testEmbedder()

	_, err := store.Build(context.Background(), nil, embedder)
	assert.ErrorIs(t, err, types.ErrNoSegments)
	assert.Equal(t, 0, embedder.calls)
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	index, err := store.Build(context.Background(), testSegments(), testEmbedder())
	require.NoError(t, err)

	results, err := store.Search(index, []float32{0.1, 0.9, 0.3}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "beta", results[0].Text)
	assert.Equal(t, "gamma", results[1].Text)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchReturnsAtMostEntries(t *testing.T) {
	index, err := store.Build(context.Background(), testSegments(), testEmbedder())
	require.NoError(t, err)

	results, err := store.Search(index, []float32{1, 1, 1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Equal scores keep insertion order
	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, "beta", results[1].Text)
	assert.Equal(t, "gamma", results[2].Text)
}

func TestSearchEdgeCases(t *testing.T) {
	index, err := store.Build(context.Background(), testSegments(), testEmbedder())
	require.NoError(t, err)

	results, err := store.Search(index, []float32{1, 0, 0}, 0)
	assert.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.Search(&models.Index{Dimension: 3}, []float32{1, 0, 0}, 3)
	assert.NoError(t, err)
	assert.Empty(t, results)

	_, err = store.Search(index, []float32{1, 0}, 3)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestSearchZeroQueryScoresZero(t *testing.T) {
	index, err := store.Build(context.Background(), testSegments(), testEmbedder())
	require.NoError(t, err)

	results, err := store.Search(index, []float32{0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Score)
}
