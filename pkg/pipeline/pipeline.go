package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
	"github.com/xhad/newsdesk/pkg/llm"
	"github.com/xhad/newsdesk/pkg/scraper"
	"github.com/xhad/newsdesk/pkg/store"
)

type State int

const (
	Idle State = iota
	Ingesting
	Indexed
	Querying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ingesting:
		return "ingesting"
	case Indexed:
		return "indexed"
	case Querying:
		return "querying"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stage names a step of the ingest path, reported to progress callbacks.
type Stage string

const (
	StageLoading   Stage = "loading"
	StageSplitting Stage = "splitting"
	StageEmbedding Stage = "embedding"
	StageSaving    Stage = "saving"
)

type Config struct {
	MaxURLs  int
	TopK     int
	MinScore float64
	Logger   *slog.Logger
}

// Deps are the components the pipeline sequences. The embedder and the
// answerer are built on first use and reused afterwards.
type Deps struct {
	Loader      types.Loader
	Chunker     types.Chunker
	Store       types.IndexStore
	NewEmbedder func() (types.Embedder, error)
	NewAnswerer func() (types.Answerer, error)
}

// IngestResult summarises a successful rebuild.
type IngestResult struct {
	Documents int
	Segments  int
	Sources   []string
	Failures  []models.URLFailure
	BuildID   string
}

type IngestOptions struct {
	// OnStage is called as each ingest stage starts.
	OnStage func(Stage)
}

type IngestOption func(*IngestOptions)

// WithProgress reports each ingest stage as it starts.
func WithProgress(fn func(Stage)) IngestOption {
	return func(o *IngestOptions) {
		o.OnStage = fn
	}
}

// Pipeline runs ingest and query actions one at a time.
type Pipeline struct {
	config Config
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	embedder types.Embedder
	answerer types.Answerer
}

// New creates a pipeline. It starts Indexed when the store already holds an index.
func New(ctx context.Context, config Config, deps Deps) *Pipeline {
	if config.MaxURLs == 0 {
		config.MaxURLs = 3
	}
	if config.TopK == 0 {
		config.TopK = 3
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		config: config,
		deps:   deps,
		logger: logger,
		state:  Idle,
	}

	info, err := deps.Store.Info(ctx)
	switch {
	case err == nil:
		p.state = Indexed
		logger.Debug("found existing index", "build_id", info.BuildID, "entries", info.Count)
	case !errors.Is(err, types.ErrIndexNotFound):
		logger.Warn("existing index is not usable", "error", err)
	}

	return p
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ingest loads the URLs, splits and embeds their text and replaces the
// persisted index. URLs that fail to load are dropped and reported in the
// result. On any error the previous index and state are kept.
func (p *Pipeline) Ingest(ctx context.Context, urls []string, opts ...IngestOption) (*IngestResult, error) {
	var options IngestOptions
	for _, opt := range opts {
		opt(&options)
	}
	stage := func(s Stage) {
		p.logger.Debug("ingest stage", "stage", string(s))
		if options.OnStage != nil {
			options.OnStage(s)
		}
	}

	urls = scraper.NormalizeURLs(urls)
	if len(urls) == 0 {
		return nil, &Error{Kind: KindIngestion, Op: "ingest", Err: types.ErrNoURLs}
	}
	if len(urls) > p.config.MaxURLs {
		return nil, &Error{
			Kind: KindIngestion,
			Op:   "ingest",
			Err:  fmt.Errorf("%w: got %d, at most %d", types.ErrTooManyURLs, len(urls), p.config.MaxURLs),
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.state
	p.state = Ingesting
	fail := func(kind Kind, op string, err error) (*IngestResult, error) {
		p.state = prev
		p.logger.Warn("ingest failed", "op", op, "error", err)
		return nil, &Error{Kind: kind, Op: op, Err: err}
	}

	stage(StageLoading)
	docs, failures, err := p.deps.Loader.Load(ctx, urls)
	if err != nil {
		p.state = prev
		p.logger.Warn("ingest failed", "op", "load documents", "error", err, "failed_urls", len(failures))
		return nil, &Error{Kind: KindIngestion, Op: "load documents", Err: err, Failures: failures}
	}

	stage(StageSplitting)
	segments, err := p.deps.Chunker.Split(docs)
	if err != nil {
		return fail(KindIngestion, "split documents", err)
	}

	embedder, err := p.getEmbedder()
	if err != nil {
		return fail(KindConfiguration, "create embedder", err)
	}

	stage(StageEmbedding)
	index, err := store.Build(ctx, segments, embedder)
	if err != nil {
		return fail(KindIngestion, "build index", err)
	}

	stage(StageSaving)
	if err := p.deps.Store.Save(ctx, index); err != nil {
		return fail(KindIndex, "save index", err)
	}

	p.state = Indexed
	p.logger.Info("index built",
		"build_id", index.BuildID,
		"documents", len(docs),
		"segments", len(segments),
		"failed_urls", len(failures))

	return &IngestResult{
		Documents: len(docs),
		Segments:  len(segments),
		Sources:   index.Sources(),
		Failures:  failures,
		BuildID:   index.BuildID,
	}, nil
}

// Query answers a question from the persisted index. Without an index it
// fails with ErrIndexNotFound before any model is called.
func (p *Pipeline) Query(ctx context.Context, question string, opts ...types.AnswerOption) (*models.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &Error{Kind: KindQuery, Op: "query", Err: types.ErrEmptyQuestion}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.state
	p.state = Querying
	defer func() { p.state = prev }()

	info, err := p.deps.Store.Info(ctx)
	if err != nil {
		if errors.Is(err, types.ErrIndexNotFound) {
			prev = Idle
		}
		return nil, &Error{Kind: KindIndex, Op: "load index", Err: err}
	}
	prev = Indexed

	if info.Count == 0 {
		return &models.QueryResult{Answer: llm.NoContentAnswer, NoContent: true}, nil
	}

	embedder, err := p.getEmbedder()
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "create embedder", Err: err}
	}
	if dim := embedder.Dimensions(); dim > 0 && dim != info.Dimension {
		return nil, &Error{
			Kind: KindIndex,
			Op:   "load index",
			Err: fmt.Errorf("%w: index has %d dimensions, embedding model %s has %d",
				types.ErrDimensionMismatch, info.Dimension, embedder.Model(), dim),
		}
	}

	vector, err := embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, &Error{Kind: KindQuery, Op: "embed question", Err: err}
	}

	hits, err := p.deps.Store.Search(ctx, vector, p.config.TopK)
	if err != nil {
		return nil, &Error{Kind: KindIndex, Op: "search index", Err: err}
	}

	segments := make([]models.Segment, 0, len(hits))
	for _, hit := range hits {
		if p.config.MinScore > 0 && hit.Score < p.config.MinScore {
			continue
		}
		segments = append(segments, hit.Segment)
	}
	p.logger.Debug("retrieved segments", "hits", len(hits), "kept", len(segments))

	answerer, err := p.getAnswerer()
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "create answerer", Err: err}
	}

	result, err := answerer.Answer(ctx, question, segments, opts...)
	if err != nil {
		return nil, &Error{Kind: KindQuery, Op: "answer question", Err: err}
	}

	return result, nil
}

// Info describes the persisted index.
func (p *Pipeline) Info(ctx context.Context) (*models.IndexInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.deps.Store.Info(ctx)
	if err != nil {
		return nil, &Error{Kind: KindIndex, Op: "load index", Err: err}
	}
	return info, nil
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deps.Store.Close()
}

func (p *Pipeline) getEmbedder() (types.Embedder, error) {
	if p.embedder != nil {
		return p.embedder, nil
	}
	if p.deps.NewEmbedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	embedder, err := p.deps.NewEmbedder()
	if err != nil {
		return nil, err
	}
	p.embedder = embedder
	return embedder, nil
}

func (p *Pipeline) getAnswerer() (types.Answerer, error) {
	if p.answerer != nil {
		return p.answerer, nil
	}
	if p.deps.NewAnswerer == nil {
		return nil, fmt.Errorf("no answerer configured")
	}
	answerer, err := p.deps.NewAnswerer()
	if err != nil {
		return nil, err
	}
	p.answerer = answerer
	return answerer, nil
}
