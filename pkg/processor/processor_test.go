package processor_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
	"github.com/xhad/newsdesk/pkg/processor"
)

func longArticle(paragraphs, sentences int) string {
	var b strings.Builder
	n := 0
	for p := 0; p < paragraphs; p++ {
		if p > 0 {
			b.WriteString("\n\n")
		}
		for s := 0; s < sentences; s++ {
			if s > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "Item %03d closes the market report", n)
			b.WriteString(".")
			n++
		}
	}
	return b.String()
}

func TestProcessor_SingleShortDocument(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 1000})

	segments, err := p.Split([]models.Document{
		{Source: "https://news.example.com/sky", Text: "The sky is blue. Water is wet."},
	})

	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "https://news.example.com/sky", segments[0].Source)
	assert.Equal(t, "The sky is blue. Water is wet.", segments[0].Text)
	assert.Equal(t, 0, segments[0].Order)
}

func TestProcessor_SegmentsRespectMaximum(t *testing.T) {
	for _, size := range []int{200, 500, 1000} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			p := processor.NewWithConfig(processor.ProcessorConfig{
				ChunkSize:    size,
				ChunkOverlap: size / 5,
			})

			segments, err := p.Split([]models.Document{
				{Source: "https://a.example.com", Text: longArticle(6, 40)},
			})
			require.NoError(t, err)
			require.Greater(t, len(segments), 1)

			for i, seg := range segments {
				assert.LessOrEqual(t, utf8.RuneCountInString(seg.Text), size, "segment %d too long", i)
				assert.Equal(t, i, seg.Order)
				assert.NotEmpty(t, strings.TrimSpace(seg.Text))
			}
		})
	}
}

func TestProcessor_ConsecutiveSegmentsOverlap(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    300,
		ChunkOverlap: 100,
	})

	// A single paragraph forces sentence level splitting
	segments, err := p.Split([]models.Document{
		{Source: "https://a.example.com", Text: longArticle(1, 40)},
	})
	require.NoError(t, err)
	require.Greater(t, len(segments), 2)

	for i := 1; i < len(segments); i++ {
		first := strings.TrimSpace(strings.SplitN(segments[i].Text, ".", 2)[0])
		assert.Contains(t, segments[i-1].Text, first, "segment %d does not overlap its predecessor", i)
	}
}

func TestProcessor_UnsplittableRunMayExceedMaximum(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    50,
		ChunkOverlap: 10,
	})

	run := strings.Repeat("x", 120)
	segments, err := p.Split([]models.Document{{Source: "https://a.example.com", Text: run}})

	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, run, segments[0].Text)
}

func TestProcessor_OrderRestartsPerDocument(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 200, ChunkOverlap: 20})

	segments, err := p.Split([]models.Document{
		{Source: "https://a.example.com", Text: longArticle(2, 10)},
		{Source: "https://b.example.com", Text: "Short one."},
	})
	require.NoError(t, err)

	last := segments[len(segments)-1]
	assert.Equal(t, "https://b.example.com", last.Source)
	assert.Equal(t, 0, last.Order)
	assert.Equal(t, "Short one.", last.Text)
}

func TestProcessor_CleansWhitespaceAndKeepsCase(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	segments, err := p.Split([]models.Document{
		{Source: "https://a.example.com", Text: "  Markets   RALLY\r\n\r\n\r\n\r\nOil\tfalls  "},
	})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "Markets RALLY\n\nOil falls", segments[0].Text)
}

func TestProcessor_EmptyDocumentsFail(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	segments, err := p.Split([]models.Document{
		{Source: "https://a.example.com", Text: ""},
		{Source: "https://b.example.com", Text: " \n\n\t "},
	})

	assert.ErrorIs(t, err, types.ErrNoSegments)
	assert.Empty(t, segments)
}

func TestProcessor_KeepsSentencePunctuation(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    60,
		ChunkOverlap: 0,
	})

	text := "The first sentence is here. The second sentence is here. " +
		"The third sentence is here. The fourth sentence is here. " +
		"The fifth sentence is here. The sixth sentence is here."

	segments, err := p.Split([]models.Document{{Source: "https://a.example.com", Text: text}})
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	periods := 0
	for i, seg := range segments {
		assert.True(t, strings.HasSuffix(seg.Text, "."), "segment %d lost its period: %q", i, seg.Text)
		assert.False(t, strings.HasPrefix(seg.Text, "."), "segment %d starts with a period: %q", i, seg.Text)
		assert.LessOrEqual(t, utf8.RuneCountInString(seg.Text), 60)
		periods += strings.Count(seg.Text, ".")
	}
	assert.Equal(t, 6, periods)
}

func TestProcessor_ZeroOverlap(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    300,
		ChunkOverlap: 0,
	})

	segments, err := p.Split([]models.Document{
		{Source: "https://a.example.com", Text: longArticle(1, 40)},
	})
	require.NoError(t, err)
	require.Greater(t, len(segments), 2)

	var joined []string
	for _, seg := range segments {
		joined = append(joined, seg.Text)
	}
	assert.Equal(t, 40, strings.Count(strings.Join(joined, " "), "closes the market report"))
}
