package index

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-indexer/internal/crawler"
	"github.com/JakeFAU/archive-indexer/internal/logging"
	"github.com/JakeFAU/archive-indexer/internal/metrics"
)

// Pipeline defaults.
const (
	DefaultQueueSize     = 10_000
	DefaultProgressEvery = 100_000
)

// DocumentWriter is the single-owner side of the index store.
type DocumentWriter interface {
	AddDocument(ctx context.Context, doc Document) error
	Commit(ctx context.Context) (uint64, error)
	Rollback(ctx context.Context) error
	WaitForBackgroundWork(ctx context.Context) error
}

// PipelineConfig sizes the worker pool and the document queue.
type PipelineConfig struct {
	Workers       int
	DocQueueSize  int
	ProgressEvery int
}

// Result summarizes one pipeline run.
type Result struct {
	Indexed    int64
	Dropped    int64
	Generation uint64
}

// Pipeline converts chapter records with a worker pool and feeds a single writer.
type Pipeline struct {
	cfg    PipelineConfig
	writer DocumentWriter
	logger *zap.Logger
}

// NewPipeline applies defaults to cfg. Zero workers means one per CPU.
func NewPipeline(cfg PipelineConfig, writer DocumentWriter, logger *zap.Logger) (*Pipeline, error) {
	if writer == nil {
		return nil, fmt.Errorf("document writer is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(1, runtime.NumCPU())
	}
	if cfg.DocQueueSize <= 0 {
		cfg.DocQueueSize = DefaultQueueSize
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	metrics.Init()
	return &Pipeline{cfg: cfg, writer: writer, logger: logging.OrNop(logger)}, nil
}

// Run consumes in until it is closed, then commits the batch once. Any add or
// commit failure rolls the whole batch back; in is still drained to the end so
// the producer never blocks.
func (p *Pipeline) Run(ctx context.Context, in <-chan crawler.ChapterRecord) (Result, error) {
	docs := make(chan Document, p.cfg.DocQueueSize)
	var (
		wg      sync.WaitGroup
		dropped atomic.Int64
	)
	wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			p.convert(in, docs, &dropped)
		}()
	}
	go func() {
		wg.Wait()
		close(docs)
	}()

	res, err := p.write(ctx, docs)
	res.Dropped = dropped.Load()
	return res, err
}

func (p *Pipeline) convert(in <-chan crawler.ChapterRecord, docs chan<- Document, dropped *atomic.Int64) {
	for rec := range in {
		doc, err := FromRecord(rec)
		if err != nil {
			dropped.Add(1)
			metrics.ObserveConversionFailure()
			p.logger.Warn("dropping chapter record",
				zap.Uint64("story_id", rec.StoryID),
				zap.Uint64("chapter_id", rec.ChapterIndex),
				zap.Error(err),
			)
			continue
		}
		docs <- doc
	}
}

func (p *Pipeline) write(ctx context.Context, docs <-chan Document) (Result, error) {
	var (
		res    Result
		addErr error
	)
	for doc := range docs {
		if addErr != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			addErr = fmt.Errorf("index canceled: %w", err)
			continue
		}
		if err := p.writer.AddDocument(ctx, doc); err != nil {
			addErr = fmt.Errorf("add story %d chapter %d: %w", doc.StoryID, doc.ChapterID, err)
			p.logger.Error("index write failed, draining", zap.Error(addErr))
			continue
		}
		res.Indexed++
		metrics.ObserveDocumentIndexed()
		if res.Indexed%int64(p.cfg.ProgressEvery) == 0 {
			p.logger.Info("indexing progress", zap.String("documents", humanize.Comma(res.Indexed)))
		}
	}

	if addErr != nil {
		return res, p.abort(ctx, addErr)
	}

	gen, err := p.writer.Commit(ctx)
	if err != nil {
		return res, p.abort(ctx, fmt.Errorf("commit index: %w", err))
	}
	res.Generation = gen
	metrics.ObserveCommit("committed")
	p.logger.Info("index committed",
		zap.Uint64("generation", gen),
		zap.String("documents", humanize.Comma(res.Indexed)),
	)

	if err := p.writer.WaitForBackgroundWork(ctx); err != nil {
		return res, fmt.Errorf("wait for index merges: %w", err)
	}
	return res, nil
}

func (p *Pipeline) abort(ctx context.Context, cause error) error {
	metrics.ObserveCommit("rolled_back")
	// The rollback must run even when ctx is already done.
	if err := p.writer.Rollback(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback index: %w", err))
	}
	p.logger.Warn("index batch rolled back", zap.Error(cause))
	return cause
}
