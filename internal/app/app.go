// Package app wires the long-lived services of a crawl run and joins its two
// halves: the crawl orchestrator producing chapter records and the indexing
// pipeline consuming them.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-indexer/internal/config"
	"github.com/JakeFAU/archive-indexer/internal/crawler"
	collyfetcher "github.com/JakeFAU/archive-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/archive-indexer/internal/index"
	"github.com/JakeFAU/archive-indexer/internal/logging"
	"github.com/JakeFAU/archive-indexer/internal/storage/postgres"
)

// Producer walks the archive and emits chapter records. It closes out when done.
type Producer interface {
	Run(ctx context.Context, startURL string, out chan<- crawler.ChapterRecord) error
}

// Consumer indexes chapter records until its input is closed.
type Consumer interface {
	Run(ctx context.Context, in <-chan crawler.ChapterRecord) (index.Result, error)
}

// Runner joins one crawl with one indexing pass over a bounded queue.
type Runner struct {
	producer  Producer
	consumer  Consumer
	queueSize int
	logger    *zap.Logger
}

// NewRunner builds a Runner. A non-positive queueSize uses the default.
func NewRunner(producer Producer, consumer Consumer, queueSize int, logger *zap.Logger) *Runner {
	if queueSize <= 0 {
		queueSize = index.DefaultQueueSize
	}
	return &Runner{
		producer:  producer,
		consumer:  consumer,
		queueSize: queueSize,
		logger:    logging.OrNop(logger),
	}
}

// Run crawls from startURL while indexing concurrently. The returned error
// joins the crawl error and the index error, in that order. Each side stays
// atomic on its own: stories commit one by one, the index commits once.
func (r *Runner) Run(ctx context.Context, startURL string) (index.Result, error) {
	runID := uuid.NewString()
	log := r.logger.With(zap.String("run_id", runID), zap.String("url", startURL))
	log.Info("run started")

	records := make(chan crawler.ChapterRecord, r.queueSize)
	type indexOutcome struct {
		res index.Result
		err error
	}
	indexed := make(chan indexOutcome, 1)
	go func() {
		res, err := r.consumer.Run(ctx, records)
		indexed <- indexOutcome{res, err}
	}()

	crawlErr := r.producer.Run(ctx, startURL, records)
	if crawlErr != nil {
		log.Error("crawl failed", zap.Error(crawlErr))
	}
	out := <-indexed
	if out.err != nil {
		log.Error("indexing failed", zap.Error(out.err))
	}

	err := errors.Join(crawlErr, out.err)
	log.Info("run finished",
		zap.Int64("indexed", out.res.Indexed),
		zap.Int64("dropped", out.res.Dropped),
		zap.Uint64("generation", out.res.Generation),
		zap.Bool("ok", err == nil),
	)
	return out.res, err
}

// App holds the services a crawl run needs.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	stories *postgres.StoryStore
	writer  *index.Writer
	runner  *Runner
}

// New connects the story store, migrates it, opens the index writer and
// assembles the crawl and indexing sides.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	stories, err := postgres.NewStoryStore(ctx, postgres.StoreConfig{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
	if err != nil {
		return nil, err
	}
	if err := stories.Migrate(ctx); err != nil {
		stories.Close()
		return nil, err
	}

	writer, err := index.OpenWriter(ctx, cfg.Index.Path)
	if err != nil {
		stories.Close()
		return nil, fmt.Errorf("open index writer: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, stories: stories, writer: writer}

	sink, err := crawler.NewFileSystemSink(cfg.Crawler.DebugDir, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout,
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	})
	crawl, err := crawler.New(crawler.Config{
		DelayMin: cfg.Crawler.DelayMin,
		DelayMax: cfg.Crawler.DelayMax,
	}, fetcher, stories, sink, logger.Named("crawler"))
	if err != nil {
		a.Close()
		return nil, err
	}
	pipeline, err := index.NewPipeline(index.PipelineConfig{
		Workers:       cfg.Index.Workers,
		DocQueueSize:  cfg.Index.DocQueueSize,
		ProgressEvery: cfg.Index.ProgressEvery,
	}, writer, logger.Named("index"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = NewRunner(crawl, pipeline, cfg.Crawler.QueueSize, logger)
	return a, nil
}

// Crawl runs one crawl-and-index pass from startURL.
func (a *App) Crawl(ctx context.Context, startURL string) (index.Result, error) {
	return a.runner.Run(ctx, startURL)
}

// Close releases the index writer and the story store.
func (a *App) Close() {
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.logger.Warn("close index writer", zap.Error(err))
		}
	}
	a.stories.Close()
}
