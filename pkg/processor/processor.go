package processor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// Separators are tried from coarsest to finest.
	Separators []string
}

// Processor splits documents into overlapping segments, preferring
// paragraph, line and sentence boundaries over arbitrary cuts.
type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}
	if len(config.Separators) == 0 {
		config.Separators = []string{"\n\n", "\n", ".", ","}
	}

	return Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(config.Separators),
			textsplitter.WithKeepSeparator(true),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}
}

// Split turns every document into segments tagged with the document source.
// ErrNoSegments is returned when no document has any text.
func (p *Processor) Split(docs []models.Document) ([]models.Segment, error) {
	var segments []models.Segment

	for _, doc := range docs {
		cleanContent := p.cleanText(doc.Text)
		if cleanContent == "" {
			continue
		}

		chunks, err := p.splitter.SplitText(cleanContent)
		if err != nil {
			return nil, fmt.Errorf("failed to split document %s: %w", doc.Source, err)
		}

		order := 0
		for _, chunk := range p.attachSeparators(chunks) {
			segments = append(segments, models.Segment{
				Source: doc.Source,
				Text:   chunk,
				Order:  order,
			})
			order++
		}
	}

	if len(segments) == 0 {
		return nil, types.ErrNoSegments
	}

	return segments, nil
}

// attachSeparators trims the chunks and moves a separator the splitter left
// at the start of a chunk back onto the end of the chunk before it, so
// sentences keep their closing punctuation.
func (p *Processor) attachSeparators(chunks []string) []string {
	out := make([]string, 0, len(chunks))

	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)

		if len(out) > 0 {
			prev := out[len(out)-1]
			for _, sep := range p.config.Separators {
				sep = strings.TrimSpace(sep)
				if sep == "" || !strings.HasPrefix(chunk, sep) {
					continue
				}
				if !strings.HasSuffix(prev, sep) {
					if utf8.RuneCountInString(prev)+utf8.RuneCountInString(sep) > p.config.ChunkSize {
						break
					}
					out[len(out)-1] = prev + sep
				}
				chunk = strings.TrimSpace(strings.TrimPrefix(chunk, sep))
				break
			}
		}

		if chunk != "" {
			out = append(out, chunk)
		}
	}

	return out
}

func (p *Processor) cleanText(text string) string {
	text = sanitizeUTF8(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	text = newlineRun.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
