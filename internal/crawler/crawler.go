package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-indexer/internal/metrics"
	"github.com/JakeFAU/archive-indexer/internal/selector"
)

// Config holds the settings for a crawl session.
type Config struct {
	DelayMin time.Duration
	DelayMax time.Duration
}

// Crawler walks paginated listing pages one story at a time.
type Crawler struct {
	fetcher Fetcher
	store   StoryStore
	sink    DebugSink
	delay   politeDelay
	pauser  pauseController
	logger  *zap.Logger
}

// New builds a Crawler. sink may be nil, in which case failing pages are not saved.
func New(cfg Config, fetcher Fetcher, store StoryStore, sink DebugSink, logger *zap.Logger) (*Crawler, error) {
	if fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	if store == nil {
		return nil, errors.New("crawler: story store is required")
	}
	if cfg.DelayMin == 0 && cfg.DelayMax == 0 {
		cfg.DelayMin, cfg.DelayMax = DefaultDelayMin, DefaultDelayMax
	}
	delay, err := newPoliteDelay(cfg.DelayMin, cfg.DelayMax)
	if err != nil {
		return nil, fmt.Errorf("crawler: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Crawler{
		fetcher: fetcher,
		store:   store,
		sink:    sink,
		delay:   delay,
		pauser:  &timerPauseController{},
		logger:  logger,
	}, nil
}

// Run crawls from startURL until the listing has no usable next link,
// sending every chapter of every new story on out. out is closed when Run
// returns. The first error stops the crawl.
func (c *Crawler) Run(ctx context.Context, startURL string, out chan<- ChapterRecord) error {
	defer close(out)

	base, err := baseOf(startURL)
	if err != nil {
		return fmt.Errorf("crawl start: %w", err)
	}
	start, err := url.Parse(startURL)
	if err != nil {
		return fmt.Errorf("crawl start: %w", err)
	}
	cursor := PaginationCursor{URL: start, Page: 1, Base: base}

	c.logger.Info("starting crawl of listing", zap.String("url", startURL))
	for {
		next, err := c.crawlPage(ctx, cursor, out)
		if err != nil {
			return fmt.Errorf("listing page %d (%s): %w", cursor.Page, cursor.URL, err)
		}
		if next == nil {
			c.logger.Info("no further listing pages", zap.Int("page_index", cursor.Page))
			return nil
		}
		cursor = PaginationCursor{URL: next, Page: cursor.Page + 1, Base: base}
	}
}

// crawlPage processes every story on one listing page and returns the next
// page URL, or nil when the walk is over.
func (c *Crawler) crawlPage(ctx context.Context, cursor PaginationCursor, out chan<- ChapterRecord) (*url.URL, error) {
	log := c.logger.With(zap.Int("page_index", cursor.Page), zap.String("url", cursor.URL.String()))
	log.Info("scraping listing page")

	body, err := c.politeGet(ctx, PageListing, cursor.URL.String())
	if err != nil {
		return nil, err
	}
	doc, err := selector.Parse(string(body))
	if err != nil {
		return nil, err
	}

	for i, entry := range doc.Select(selListEntry) {
		if _, restricted := doc.First(entry, selRestricted); restricted {
			log.Debug("skipping restricted story", zap.Int("story_index", i))
			metrics.ObserveStory("restricted")
			continue
		}
		link, ok := doc.First(entry, selStoryLink)
		if !ok {
			return nil, fmt.Errorf("listing entry %d has no story link", i)
		}
		href, ok := doc.Attr(link, "href")
		if !ok {
			return nil, fmt.Errorf("listing entry %d story link has no href", i)
		}
		storyURL, err := rebuildURL(cursor.Base, href)
		if err != nil {
			return nil, fmt.Errorf("listing entry %d: %w", i, err)
		}
		if err := c.crawlStory(ctx, cursor.Base, withAdultView(storyURL), out); err != nil {
			return nil, err
		}
	}

	return c.nextPage(doc, cursor.Base, log)
}

func (c *Crawler) nextPage(doc *selector.Document, base *url.URL, log *zap.Logger) (*url.URL, error) {
	link, ok := doc.Last(doc.Root(), selNextPage)
	if !ok {
		return nil, nil
	}
	if text := doc.Text(link); text != NextPageMarker {
		log.Debug("next link is mislabeled", zap.String("text", text))
		return nil, nil
	}
	href, ok := doc.Attr(link, "href")
	if !ok {
		log.Warn("next link has no href")
		return nil, nil
	}
	next, err := rebuildURL(base, href)
	if err != nil {
		return nil, fmt.Errorf("next page link: %w", err)
	}
	return next, nil
}

// crawlStory runs one story transaction. Chapters are sent only after the
// transaction commits.
func (c *Crawler) crawlStory(ctx context.Context, base, storyURL *url.URL, out chan<- ChapterRecord) error {
	id, err := storyID(storyURL)
	if err != nil {
		return err
	}
	log := c.logger.With(zap.Uint64("story_id", id), zap.String("url", storyURL.String()))

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("story %d: begin transaction: %w", id, err)
	}
	chapters, created, err := c.scrapeStory(ctx, tx, id, base, storyURL, log)
	if err != nil {
		metrics.ObserveStory("failed")
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return fmt.Errorf("story %d (%s): %w", id, storyURL, err)
	}
	if err := tx.Commit(ctx); err != nil {
		metrics.ObserveStory("failed")
		return fmt.Errorf("story %d (%s): commit: %w", id, storyURL, err)
	}
	if !created {
		return nil
	}

	for i, content := range chapters {
		rec := ChapterRecord{StoryID: id, ChapterIndex: uint64(i), Content: content}
		select {
		case out <- rec:
		case <-ctx.Done():
			return fmt.Errorf("story %d: queue chapter %d: %w", id, i, ctx.Err())
		}
	}
	metrics.ObserveStory("created")
	metrics.ObserveChaptersQueued(len(chapters))
	log.Info("queued story chapters", zap.Int("chapters", len(chapters)))
	return nil
}

// scrapeStory reports created=false when the story is already stored.
func (c *Crawler) scrapeStory(
	ctx context.Context,
	tx StoryTx,
	id uint64,
	base, storyURL *url.URL,
	log *zap.Logger,
) (chapters []string, created bool, err error) {
	exists, err := tx.StoryExists(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("check existing story: %w", err)
	}
	if exists {
		log.Warn("story already exists")
		metrics.ObserveStory("existing")
		return nil, false, nil
	}

	log.Info("scraping story")
	storyBody, err := c.politeGet(ctx, PageStory, storyURL.String())
	if err != nil {
		return nil, false, err
	}
	storyDoc, err := selector.Parse(string(storyBody))
	if err != nil {
		return nil, false, err
	}
	href, ok := downloadLink(storyDoc)
	if !ok {
		c.dump(ctx, id, storyURL.String(), storyBody, log)
		return nil, false, fmt.Errorf("%w for %s", ErrNoDownloadLink, storyURL)
	}
	downloadURL, err := rebuildURL(base, href)
	if err != nil {
		return nil, false, fmt.Errorf("download link: %w", err)
	}

	downloadBody, err := c.politeGet(ctx, PageDownload, downloadURL.String())
	if err != nil {
		return nil, false, err
	}
	downloadDoc, err := selector.Parse(string(downloadBody))
	if err != nil {
		return nil, false, err
	}
	info, err := extractInfo(downloadDoc)
	if err != nil {
		return nil, false, fmt.Errorf("%w from %s", err, downloadURL)
	}
	meta := extractMeta(downloadDoc, log)
	chapters = extractChapters(downloadDoc)

	existed, err := tx.InsertStory(ctx, id, info, meta)
	if err != nil {
		return nil, false, fmt.Errorf("insert story: %w", err)
	}
	if existed {
		log.Warn("story was inserted concurrently")
		metrics.ObserveStory("existing")
		return nil, false, nil
	}
	return chapters, true, nil
}

// politeGet is the only path to the network: every request waits out a
// randomized politeness delay first.
func (c *Crawler) politeGet(ctx context.Context, kind PageKind, target string) ([]byte, error) {
	delay := c.delay.Next()
	c.logger.Debug("pausing before request",
		zap.Duration("delay", delay),
		zap.String("kind", string(kind)),
		zap.String("url", target),
	)
	if err := c.pauser.Pause(ctx, delay); err != nil {
		return nil, err
	}
	metrics.ObservePolitenessDelay(delay)

	resp, err := c.fetcher.Fetch(ctx, FetchRequest{
		URL:     target,
		Kind:    kind,
		Headers: http.Header{"Cookie": {"view_adult=true"}},
	})
	if err != nil {
		metrics.ObserveFetch(target, string(kind), "error", 0)
		return nil, fmt.Errorf("fetch %s page %s: %w", kind, target, err)
	}
	metrics.ObserveFetch(target, string(kind), "ok", len(resp.Body))
	return resp.Body, nil
}

func (c *Crawler) dump(ctx context.Context, id uint64, pageURL string, body []byte, log *zap.Logger) {
	if c.sink == nil {
		return
	}
	if _, err := c.sink.SavePage(ctx, id, pageURL, body); err != nil {
		log.Warn("unable to save page for debugging", zap.Error(err))
	}
}
