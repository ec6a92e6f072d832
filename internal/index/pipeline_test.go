package index

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/archive-indexer/internal/crawler"
)

var errInjected = errors.New("injected add failure")

// fakeWriter records calls and fails the failAt-th AddDocument when set.
type fakeWriter struct {
	failAt     int64
	commitErr  error
	active     atomic.Int32
	overlapped atomic.Bool

	mu        sync.Mutex
	adds      int64
	docs      []Document
	keepDocs  bool
	commits   int
	rollbacks int
	merged    int
}

func (w *fakeWriter) enter() func() {
	if w.active.Add(1) > 1 {
		w.overlapped.Store(true)
	}
	return func() { w.active.Add(-1) }
}

func (w *fakeWriter) AddDocument(_ context.Context, doc Document) error {
	defer w.enter()()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.adds++
	if w.failAt > 0 && w.adds == w.failAt {
		return errInjected
	}
	if w.keepDocs {
		w.docs = append(w.docs, doc)
	}
	return nil
}

func (w *fakeWriter) Commit(context.Context) (uint64, error) {
	defer w.enter()()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commits++
	if w.commitErr != nil {
		return 0, w.commitErr
	}
	return 1, nil
}

func (w *fakeWriter) Rollback(context.Context) error {
	defer w.enter()()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollbacks++
	return nil
}

func (w *fakeWriter) WaitForBackgroundWork(context.Context) error {
	defer w.enter()()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.merged++
	return nil
}

// produce sends n records on a channel of the given capacity and reports when
// every send has completed.
func produce(n, capacity int, content func(i int) string) (<-chan crawler.ChapterRecord, <-chan struct{}) {
	in := make(chan crawler.ChapterRecord, capacity)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(in)
		for i := 0; i < n; i++ {
			in <- crawler.ChapterRecord{StoryID: uint64(i / 10), ChapterIndex: uint64(i % 10), Content: content(i)}
		}
	}()
	return in, done
}

func TestPipelineCommitsOnce(t *testing.T) {
	w := &fakeWriter{keepDocs: true}
	p, err := NewPipeline(PipelineConfig{Workers: 4, DocQueueSize: 8, ProgressEvery: 10}, w, nil)
	require.NoError(t, err)

	in, done := produce(100, 16, func(int) string { return "text" })
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	<-done

	assert.Equal(t, int64(100), res.Indexed)
	assert.Zero(t, res.Dropped)
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 1, w.commits)
	assert.Zero(t, w.rollbacks)
	assert.Equal(t, 1, w.merged)
	assert.Len(t, w.docs, 100)
	assert.False(t, w.overlapped.Load(), "writer must have a single owner")
}

func TestPipelineDropsUnconvertibleRecords(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := &fakeWriter{}
	p, err := NewPipeline(PipelineConfig{Workers: 2}, w, zap.New(core))
	require.NoError(t, err)

	in, _ := produce(30, 4, func(i int) string {
		if i%10 == 0 {
			return "broken \xff"
		}
		return "fine"
	})
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(27), res.Indexed)
	assert.Equal(t, int64(3), res.Dropped)
	assert.Equal(t, 3, logs.FilterMessage("dropping chapter record").Len())
	assert.Equal(t, 1, w.commits)
}

func TestPipelineRollsBackOnCommitFailure(t *testing.T) {
	w := &fakeWriter{commitErr: errors.New("disk full")}
	p, err := NewPipeline(PipelineConfig{Workers: 1}, w, nil)
	require.NoError(t, err)

	in, _ := produce(5, 1, func(int) string { return "x" })
	_, err = p.Run(context.Background(), in)
	require.ErrorIs(t, err, w.commitErr)
	assert.Equal(t, 1, w.rollbacks)
	assert.Zero(t, w.merged)
}

func TestPipelineCanceledContextRollsBack(t *testing.T) {
	w := &fakeWriter{}
	p, err := NewPipeline(PipelineConfig{Workers: 2}, w, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in, done := produce(50, 1, func(int) string { return "x" })
	_, err = p.Run(ctx, in)
	require.ErrorIs(t, err, context.Canceled)
	<-done
	assert.Zero(t, w.commits)
	assert.Equal(t, 1, w.rollbacks)
}

// A failure deep into a large stream aborts the whole batch while every
// queued record is still consumed.
func TestPipelineFailureMidStreamDrainsAndRollsBack(t *testing.T) {
	if testing.Short() {
		t.Skip("large stream")
	}
	const total, failAt = 250_000, 200_000

	w := &fakeWriter{failAt: failAt}
	p, err := NewPipeline(PipelineConfig{Workers: 4, DocQueueSize: DefaultQueueSize}, w, nil)
	require.NoError(t, err)

	in, done := produce(total, DefaultQueueSize, func(int) string { return "chapter body" })
	res, err := p.Run(context.Background(), in)
	require.ErrorIs(t, err, errInjected)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("producer blocked after the writer failed")
	}
	assert.Equal(t, int64(failAt), w.adds, "no adds after the failure")
	assert.Equal(t, int64(failAt-1), res.Indexed)
	assert.Zero(t, w.commits)
	assert.Equal(t, 1, w.rollbacks)
	assert.Zero(t, w.merged)
	assert.False(t, w.overlapped.Load())
}

// failingWriter injects an add failure into a real index writer.
type failingWriter struct {
	*Writer
	failAt int64
	adds   int64
}

func (w *failingWriter) AddDocument(ctx context.Context, doc Document) error {
	w.adds++
	if w.adds == w.failAt {
		return errInjected
	}
	return w.Writer.AddDocument(ctx, doc)
}

func TestPipelineFailureLeavesNoVisibleDocuments(t *testing.T) {
	if testing.Short() {
		t.Skip("large stream")
	}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chapters.db")
	w, err := OpenWriter(ctx, path)
	require.NoError(t, err)
	defer w.Close()

	p, err := NewPipeline(PipelineConfig{Workers: 4}, &failingWriter{Writer: w, failAt: 200_000}, nil)
	require.NoError(t, err)
	in, done := produce(250_000, DefaultQueueSize, func(int) string { return "chapter body" })
	_, err = p.Run(ctx, in)
	require.ErrorIs(t, err, errInjected)
	<-done

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	n, err := r.NumDocs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	gen, err := r.Generation(ctx)
	require.NoError(t, err)
	assert.Zero(t, gen)
}

func TestPipelineAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chapters.db")
	w, err := OpenWriter(ctx, path)
	require.NoError(t, err)
	defer w.Close()

	p, err := NewPipeline(PipelineConfig{Workers: 3}, w, nil)
	require.NoError(t, err)
	in, _ := produce(40, 8, func(i int) string {
		if i == 7 {
			return "the lighthouse keeper"
		}
		return "ordinary prose"
	})
	res, err := p.Run(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Indexed)

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	hits, total, err := r.Search(ctx, `"lighthouse"`, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, hits, 1)
	assert.Equal(t, Document{StoryID: 0, ChapterID: 7, Content: "the lighthouse keeper"}, hits[0].Doc)
}

func TestNewPipelineDefaults(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{}, &fakeWriter{}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.cfg.Workers, 1)
	assert.Equal(t, DefaultQueueSize, p.cfg.DocQueueSize)
	assert.Equal(t, DefaultProgressEvery, p.cfg.ProgressEvery)

	_, err = NewPipeline(PipelineConfig{}, nil, nil)
	require.Error(t, err)
}
