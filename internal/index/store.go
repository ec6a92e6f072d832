package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// ErrWriterLocked is returned when another writer holds the index.
var ErrWriterLocked = errors.New("index writer already open")

// ErrIndexMissing is returned when a reader is opened on a path with no index.
var ErrIndexMissing = errors.New("index does not exist")

var schemaStatements = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS chapters USING fts5(
		story_id UNINDEXED,
		chapter_id UNINDEXED,
		chapter_content
	)`,
	`CREATE TABLE IF NOT EXISTS index_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
	`INSERT OR IGNORE INTO index_meta (key, value) VALUES ('generation', 0)`,
}

var writerPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// Writer appends documents to the index inside one pending batch. Only one
// Writer may be open per index path.
type Writer struct {
	db   *sql.DB
	lock *flock.Flock
	tx   *sql.Tx
	add  *sql.Stmt
}

// OpenWriter creates the index at path if needed and takes the writer lock.
func OpenWriter(ctx context.Context, path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrWriterLocked)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open index db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range append(writerPragmas, schemaStatements...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("prepare index %q: %w", stmt, err)
		}
	}
	return &Writer{db: db, lock: lock}, nil
}

func (w *Writer) begin(ctx context.Context) error {
	if w.tx != nil {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index batch: %w", err)
	}
	add, err := tx.PrepareContext(ctx,
		"INSERT INTO chapters (story_id, chapter_id, chapter_content) VALUES (?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	w.tx, w.add = tx, add
	return nil
}

func (w *Writer) reset() {
	if w.add != nil {
		_ = w.add.Close()
	}
	w.tx, w.add = nil, nil
}

// AddDocument stages doc in the pending batch.
func (w *Writer) AddDocument(ctx context.Context, doc Document) error {
	if err := w.begin(ctx); err != nil {
		return err
	}
	if _, err := w.add.ExecContext(ctx, int64(doc.StoryID), int64(doc.ChapterID), doc.Content); err != nil {
		return fmt.Errorf("insert story %d chapter %d: %w", doc.StoryID, doc.ChapterID, err)
	}
	return nil
}

// Commit makes the pending batch visible to readers and returns the new
// index generation.
func (w *Writer) Commit(ctx context.Context) (uint64, error) {
	if err := w.begin(ctx); err != nil {
		return 0, err
	}
	var gen int64
	err := w.tx.QueryRowContext(ctx,
		"UPDATE index_meta SET value = value + 1 WHERE key = 'generation' RETURNING value",
	).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("bump generation: %w", err)
	}
	tx := w.tx
	w.reset()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit index batch: %w", err)
	}
	return uint64(gen), nil
}

// Rollback discards the pending batch. It is a no-op when nothing is pending.
func (w *Writer) Rollback(context.Context) error {
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.reset()
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback index batch: %w", err)
	}
	return nil
}

// WaitForBackgroundWork merges index segments after a commit.
func (w *Writer) WaitForBackgroundWork(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, "INSERT INTO chapters (chapters) VALUES ('optimize')"); err != nil {
		return fmt.Errorf("optimize index: %w", err)
	}
	return nil
}

// Close rolls back any pending batch and releases the writer lock.
func (w *Writer) Close() error {
	rbErr := w.Rollback(context.Background())
	dbErr := w.db.Close()
	lockErr := w.lock.Unlock()
	return errors.Join(rbErr, dbErr, lockErr)
}

// Hit is one ranked search result.
type Hit struct {
	Score float64  `json:"score"`
	Doc   Document `json:"doc"`
	ID    int64    `json:"id"`
}

// Reader queries committed index data.
type Reader struct {
	db *sql.DB
}

// OpenReader opens an existing index for queries.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrIndexMissing)
		}
		return nil, fmt.Errorf("stat index: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure reader: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Search runs a MATCH expression and returns one page of hits ordered by
// descending score, plus the total number of matches.
func (r *Reader) Search(ctx context.Context, match string, offset, limit int) ([]Hit, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT count(*) FROM chapters WHERE chapters MATCH ?", match,
	).Scan(&total); err != nil {
		if isSyntaxError(err) {
			return nil, 0, fmt.Errorf("%w: %v", ErrBadQuery, err)
		}
		return nil, 0, fmt.Errorf("count matches: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT rowid, story_id, chapter_id, chapter_content, -bm25(chapters) AS score
FROM chapters
WHERE chapters MATCH ?
ORDER BY score DESC, rowid
LIMIT ? OFFSET ?`, match, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, limit)
	for rows.Next() {
		var (
			hit                Hit
			storyID, chapterID int64
		)
		if err := rows.Scan(&hit.ID, &storyID, &chapterID, &hit.Doc.Content, &hit.Score); err != nil {
			return nil, 0, fmt.Errorf("scan hit: %w", err)
		}
		hit.Doc.StoryID, hit.Doc.ChapterID = uint64(storyID), uint64(chapterID)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, total, nil
}

// isSyntaxError reports whether FTS5 rejected the MATCH expression.
func isSyntaxError(err error) bool {
	return strings.Contains(err.Error(), "fts5: syntax error")
}

// NumDocs returns the number of committed documents.
func (r *Reader) NumDocs(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM chapters").Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Generation returns the number of commits applied to the index.
func (r *Reader) Generation(ctx context.Context) (uint64, error) {
	var gen int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT value FROM index_meta WHERE key = 'generation'",
	).Scan(&gen); err != nil {
		return 0, fmt.Errorf("read generation: %w", err)
	}
	return uint64(gen), nil
}
