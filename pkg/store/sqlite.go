package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"

	_ "modernc.org/sqlite" // SQLite driver
)

type FileStoreConfig struct {
	Path string
	// VectorDim, when set, is the dimension a loaded index must have.
	VectorDim int
}

// FileStore keeps the index in a single SQLite file. Save writes a new file
// next to the old one and renames it into place, so readers see either the
// previous index or the new one.
type FileStore struct {
	config FileStoreConfig

	mu     sync.Mutex
	cached *models.Index
	stamp  fileStamp
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func (f fileStamp) same(other fileStamp) bool {
	return f.size == other.size && f.modTime.Equal(other.modTime)
}

const fileSchema = `
	CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE entries (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		embedding BLOB NOT NULL
	);`

var _ types.IndexStore = (*FileStore)(nil)

func NewFileStore(config FileStoreConfig) (*FileStore, error) {
	if config.Path == "" {
		config.Path = "newsdesk_index.db"
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	return &FileStore{config: config}, nil
}

func (s *FileStore) Path() string {
	return s.config.Path
}

// Save replaces the persisted index with index.
func (s *FileStore) Save(ctx context.Context, index *models.Index) error {
	if err := validateIndex(index); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := fmt.Sprintf("%s.tmp-%s", s.config.Path, uuid.NewString())
	if err := writeIndexFile(ctx, tmpPath, index); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, s.config.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing index file: %w", err)
	}

	if fi, err := os.Stat(s.config.Path); err == nil {
		s.cached = index
		s.stamp = fileStamp{modTime: fi.ModTime(), size: fi.Size()}
	} else {
		s.cached = nil
	}

	return nil
}

func writeIndexFile(ctx context.Context, path string, index *models.Index) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := writeIndex(ctx, db, index); err != nil {
		return err
	}

	return db.Close()
}

func writeIndex(ctx context.Context, db *sql.DB, index *models.Index) error {
	if _, err := db.ExecContext(ctx, fileSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"dimension": strconv.Itoa(index.Dimension),
		"model":     index.Model,
		"build_id":  index.BuildID,
		"built_at":  index.BuiltAt.UTC().Format(time.RFC3339Nano),
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO entries (id, source, content, chunk_index, embedding) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range index.Entries {
		blob, err := pgvector.NewVector(e.Vector).EncodeBinary(nil)
		if err != nil {
			return fmt.Errorf("failed to encode vector %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, i, e.Source, e.Text, e.Order, blob); err != nil {
			return fmt.Errorf("failed to insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Load returns the persisted index, or ErrIndexNotFound when none was saved.
// The decoded index is reused until the file changes.
func (s *FileStore) Load(ctx context.Context) (*models.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.config.Path)
	if errors.Is(err, os.ErrNotExist) {
		s.cached = nil
		return nil, types.ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}

	stamp := fileStamp{modTime: fi.ModTime(), size: fi.Size()}
	if s.cached == nil || !s.stamp.same(stamp) {
		index, err := readIndexFile(ctx, s.config.Path)
		if err != nil {
			return nil, err
		}
		s.cached = index
		s.stamp = stamp
	}

	if s.config.VectorDim > 0 && s.cached.Dimension != s.config.VectorDim {
		return nil, fmt.Errorf("%w: index has %d dimensions, embedding model has %d",
			types.ErrDimensionMismatch, s.cached.Dimension, s.config.VectorDim)
	}

	return s.cached, nil
}

func readIndexFile(ctx context.Context, path string) (*models.Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("reading index metadata: %w", err)
	}
	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		meta[key] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading index metadata: %w", err)
	}

	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension %q", meta["dimension"])
	}

	index := &models.Index{
		Dimension: dim,
		Model:     meta["model"],
		BuildID:   meta["build_id"],
	}
	if builtAt, err := time.Parse(time.RFC3339Nano, meta["built_at"]); err == nil {
		index.BuiltAt = builtAt
	}

	rows, err = db.QueryContext(ctx, "SELECT source, content, chunk_index, embedding FROM entries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("reading index entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.IndexEntry
		var blob []byte
		if err := rows.Scan(&e.Source, &e.Text, &e.Order, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if len(blob) != 4+4*dim {
			return nil, fmt.Errorf("%w: stored vector of %d bytes, want %d dimensions",
				types.ErrDimensionMismatch, len(blob), dim)
		}
		var vec pgvector.Vector
		if err := vec.DecodeBinary(blob); err != nil {
			return nil, fmt.Errorf("failed to decode vector: %w", err)
		}
		e.Vector = vec.Slice()
		index.Entries = append(index.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading index entries: %w", err)
	}

	return index, nil
}

func (s *FileStore) Info(ctx context.Context) (*models.IndexInfo, error) {
	index, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return infoOf(index), nil
}

func (s *FileStore) Search(ctx context.Context, query []float32, k int) ([]models.ScoredSegment, error) {
	index, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Search(index, query, k)
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	return nil
}
