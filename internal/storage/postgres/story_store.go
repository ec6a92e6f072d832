// Package postgres provides the Postgres-backed story store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/archive-indexer/internal/crawler"
)

//go:embed schema.sql
var schemaSQL string

// ErrStoryNotFound is returned by GetStory for unknown ids.
var ErrStoryNotFound = errors.New("story not found")

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Story is a stored story with its resolved entities.
type Story struct {
	ID uint64 `json:"id"`
	crawler.StoryInfo
	crawler.StoryMeta
}

// entity describes one named-entity table and its link table.
type entity struct {
	table  string
	link   string
	column string
	names  func(*crawler.StoryInfo, *crawler.StoryMeta) *[]string
}

var entities = []entity{
	{"authors", "story_authors", "author_id", func(i *crawler.StoryInfo, _ *crawler.StoryMeta) *[]string { return &i.Authors }},
	{"categories", "story_categories", "category_id", func(_ *crawler.StoryInfo, m *crawler.StoryMeta) *[]string { return &m.Categories }},
	{"fandoms", "story_fandoms", "fandom_id", func(_ *crawler.StoryInfo, m *crawler.StoryMeta) *[]string { return &m.Fandoms }},
	{"warnings", "story_warnings", "warning_id", func(_ *crawler.StoryInfo, m *crawler.StoryMeta) *[]string { return &m.Warnings }},
	{"pairings", "story_pairings", "pairing_id", func(_ *crawler.StoryInfo, m *crawler.StoryMeta) *[]string { return &m.Pairings }},
	{"characters", "story_characters", "character_id", func(_ *crawler.StoryInfo, m *crawler.StoryMeta) *[]string { return &m.Characters }},
	{"freeforms", "story_freeforms", "freeform_id", func(_ *crawler.StoryInfo, m *crawler.StoryMeta) *[]string { return &m.Freeform }},
}

func (e entity) upsertSQL() string {
	return fmt.Sprintf(
		"INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id",
		e.table,
	)
}

func (e entity) linkSQL() string {
	return fmt.Sprintf(
		"INSERT INTO %s (story_id, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		e.link, e.column,
	)
}

func (e entity) selectSQL() string {
	return fmt.Sprintf(
		"SELECT e.name FROM %s e JOIN %s l ON l.%s = e.id WHERE l.story_id = $1 ORDER BY e.name",
		e.table, e.link, e.column,
	)
}

// StoryStore persists stories in Postgres.
type StoryStore struct {
	pool pool
}

// NewStoryStore connects a pool using cfg.
func NewStoryStore(ctx context.Context, cfg StoreConfig) (*StoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &StoryStore{pool: p}, nil
}

// NewStoryStoreWithPool wraps an existing pool (primarily for testing).
func NewStoryStoreWithPool(p pool) (*StoryStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StoryStore{pool: p}, nil
}

// Close releases the pool.
func (s *StoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *StoryStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Begin opens a story transaction.
func (s *StoryStore) Begin(ctx context.Context) (crawler.StoryTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin story tx: %w", err)
	}
	return &storyTx{tx: tx}, nil
}

// StoryCount returns the number of stored stories.
func (s *StoryStore) StoryCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM stories").Scan(&n); err != nil {
		return 0, fmt.Errorf("count stories: %w", err)
	}
	return n, nil
}

// GetStory loads a story and its entity names.
func (s *StoryStore) GetStory(ctx context.Context, id uint64) (Story, error) {
	story := Story{ID: id}
	var rating string
	err := s.pool.QueryRow(ctx,
		"SELECT name, summary, rating FROM stories WHERE id = $1", int64(id),
	).Scan(&story.Name, &story.Summary, &rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return Story{}, fmt.Errorf("story %d: %w", id, ErrStoryNotFound)
	}
	if err != nil {
		return Story{}, fmt.Errorf("load story %d: %w", id, err)
	}
	story.Rating = crawler.ParseRating(rating)

	for _, e := range entities {
		rows, err := s.pool.Query(ctx, e.selectSQL(), int64(id))
		if err != nil {
			return Story{}, fmt.Errorf("load %s for story %d: %w", e.table, id, err)
		}
		names, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return Story{}, fmt.Errorf("scan %s for story %d: %w", e.table, id, err)
		}
		*e.names(&story.StoryInfo, &story.StoryMeta) = names
	}
	return story, nil
}

type storyTx struct {
	tx pgx.Tx
}

func (t *storyTx) StoryExists(ctx context.Context, id uint64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM stories WHERE id = $1)", int64(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check story %d: %w", id, err)
	}
	return exists, nil
}

func (t *storyTx) InsertStory(
	ctx context.Context,
	id uint64,
	info crawler.StoryInfo,
	meta crawler.StoryMeta,
) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		"INSERT INTO stories (id, name, summary, rating) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING",
		int64(id), info.Name, info.Summary, meta.Rating.String(),
	)
	if err != nil {
		return false, fmt.Errorf("insert story %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return true, nil
	}

	for _, e := range entities {
		for _, name := range *e.names(&info, &meta) {
			if err := t.link(ctx, e, id, name); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (t *storyTx) link(ctx context.Context, e entity, storyID uint64, name string) error {
	var entityID int64
	if err := t.tx.QueryRow(ctx, e.upsertSQL(), name).Scan(&entityID); err != nil {
		return fmt.Errorf("upsert %s %q: %w", e.table, name, err)
	}
	if _, err := t.tx.Exec(ctx, e.linkSQL(), int64(storyID), entityID); err != nil {
		return fmt.Errorf("link %s %q to story %d: %w", e.table, name, storyID, err)
	}
	return nil
}

func (t *storyTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit story tx: %w", err)
	}
	return nil
}

func (t *storyTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback story tx: %w", err)
	}
	return nil
}
