package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	// VectorDim, when set, is the dimension a loaded index must have.
	VectorDim int
	BatchSize int
}

// VectorStore keeps the index in a Postgres table with a pgvector column.
// Save swaps the table inside one transaction.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

var _ types.IndexStore = (*VectorStore)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "news_segments"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) table() string {
	return pgx.Identifier{vs.config.TableName}.Sanitize()
}

func (vs *VectorStore) metaTable() string {
	return pgx.Identifier{vs.config.TableName + "_meta"}.Sanitize()
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createMeta := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			dimension INTEGER NOT NULL,
			model TEXT NOT NULL,
			build_id TEXT NOT NULL,
			built_at TIMESTAMPTZ NOT NULL
		)`, vs.metaTable())

	if _, err := vs.pool.Exec(ctx, createMeta); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

// Save replaces the stored index. Readers see the old index until commit.
func (vs *VectorStore) Save(ctx context.Context, index *models.Index) error {
	if err := validateIndex(index); err != nil {
		return err
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.table())); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE %s (
			id INTEGER PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, vs.table(), index.Dimension)

	if _, err := tx.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source, content, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5)`,
		vs.table())

	// Insert entries in batches
	batch := &pgx.Batch{}
	for i, e := range index.Entries {
		batch.Queue(stmt, i, sanitizeUTF8(e.Source), sanitizeUTF8(e.Text), e.Order, pgvector.NewVector(e.Vector))
		if batch.Len() >= vs.config.BatchSize || i == len(index.Entries)-1 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert entries: %w", err)
			}
			batch = &pgx.Batch{}
		}
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", vs.metaTable())); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	insertMeta := fmt.Sprintf(`
		INSERT INTO %s (id, dimension, model, build_id, built_at)
		VALUES (1, $1, $2, $3, $4)`, vs.metaTable())

	if _, err := tx.Exec(ctx, insertMeta, index.Dimension, index.Model, index.BuildID, index.BuiltAt); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (vs *VectorStore) loadMeta(ctx context.Context) (*models.Index, error) {
	query := fmt.Sprintf("SELECT dimension, model, build_id, built_at FROM %s WHERE id = 1", vs.metaTable())

	var index models.Index
	var builtAt time.Time
	err := vs.pool.QueryRow(ctx, query).Scan(&index.Dimension, &index.Model, &index.BuildID, &builtAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	index.BuiltAt = builtAt.UTC()

	if vs.config.VectorDim > 0 && index.Dimension != vs.config.VectorDim {
		return nil, fmt.Errorf("%w: index has %d dimensions, embedding model has %d",
			types.ErrDimensionMismatch, index.Dimension, vs.config.VectorDim)
	}

	return &index, nil
}

func (vs *VectorStore) Load(ctx context.Context) (*models.Index, error) {
	index, err := vs.loadMeta(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT source, content, chunk_index, embedding::text
		FROM %s
		ORDER BY id`,
		vs.table())

	rows, err := vs.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.IndexEntry
		var text string
		if err := rows.Scan(&e.Source, &e.Text, &e.Order, &text); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var vec pgvector.Vector
		if err := vec.Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse vector: %w", err)
		}
		e.Vector = vec.Slice()
		index.Entries = append(index.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}

	return index, nil
}

func (vs *VectorStore) Info(ctx context.Context) (*models.IndexInfo, error) {
	index, err := vs.loadMeta(ctx)
	if err != nil {
		return nil, err
	}

	info := infoOf(index)

	countQuery := fmt.Sprintf("SELECT count(*) FROM %s", vs.table())
	if err := vs.pool.QueryRow(ctx, countQuery).Scan(&info.Count); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	sourcesQuery := fmt.Sprintf("SELECT source FROM %s GROUP BY source ORDER BY min(id)", vs.table())
	rows, err := vs.pool.Query(ctx, sourcesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	sources, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	info.Sources = sources

	return info, nil
}

// Search ranks entries by cosine distance; ties keep insertion order.
func (vs *VectorStore) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]models.ScoredSegment, error) {
	index, err := vs.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	if len(queryEmbedding) != index.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			types.ErrDimensionMismatch, len(queryEmbedding), index.Dimension)
	}

	query := fmt.Sprintf(`
		SELECT source, content, chunk_index, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		vs.table())

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredSegment
	for rows.Next() {
		var seg models.ScoredSegment
		if err := rows.Scan(&seg.Source, &seg.Text, &seg.Order, &seg.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	return results, nil
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

// Postgres rejects invalid UTF-8 in text columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
