package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
)

// Build embeds every segment and pairs each vector with the segment's text
// and source. Any embedding failure fails the whole build; a partial index
// is never returned.
func Build(ctx context.Context, segments []models.Segment, embedder types.Embedder) (*models.Index, error) {
	if len(segments) == 0 {
		return nil, types.ErrNoSegments
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(segments) {
		return nil, fmt.Errorf("%w: got %d vectors for %d segments", types.ErrEmbedding, len(vectors), len(segments))
	}

	dim := embedder.Dimensions()
	if dim == 0 {
		dim = len(vectors[0])
	}

	entries := make([]models.IndexEntry, len(segments))
	for i, seg := range segments {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: segment %d has %d dimensions, want %d", types.ErrDimensionMismatch, i, len(vectors[i]), dim)
		}
		entries[i] = models.IndexEntry{
			Vector: vectors[i],
			Text:   seg.Text,
			Source: seg.Source,
			Order:  seg.Order,
		}
	}

	return &models.Index{
		Dimension: dim,
		Model:     embedder.Model(),
		BuildID:   uuid.NewString(),
		BuiltAt:   time.Now().UTC(),
		Entries:   entries,
	}, nil
}

// Search returns up to k entries most similar to the query by cosine
// similarity, best first. Equal scores keep insertion order.
func Search(index *models.Index, query []float32, k int) ([]models.ScoredSegment, error) {
	if index.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != index.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", types.ErrDimensionMismatch, len(query), index.Dimension)
	}

	scored := make([]models.ScoredSegment, len(index.Entries))
	for i, e := range index.Entries {
		scored[i] = models.ScoredSegment{
			Segment: models.Segment{Source: e.Source, Text: e.Text, Order: e.Order},
			Score:   cosineSimilarity(query, e.Vector),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// validateIndex checks that every entry matches the index dimension.
func validateIndex(index *models.Index) error {
	if index == nil {
		return fmt.Errorf("nil index")
	}
	if index.Dimension <= 0 {
		return fmt.Errorf("%w: index dimension %d", types.ErrDimensionMismatch, index.Dimension)
	}
	for i, e := range index.Entries {
		if len(e.Vector) != index.Dimension {
			return fmt.Errorf("%w: entry %d has %d dimensions, want %d", types.ErrDimensionMismatch, i, len(e.Vector), index.Dimension)
		}
	}
	return nil
}

func infoOf(index *models.Index) *models.IndexInfo {
	return &models.IndexInfo{
		Dimension: index.Dimension,
		Model:     index.Model,
		BuildID:   index.BuildID,
		BuiltAt:   index.BuiltAt,
		Count:     index.Len(),
		Sources:   index.Sources(),
	}
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
