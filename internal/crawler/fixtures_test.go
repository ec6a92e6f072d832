package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type listingEntry struct {
	href       string
	title      string
	restricted bool
}

func listingPage(entries []listingEntry, pagination string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="outer"><div id="inner"><div id="main">`)
	b.WriteString(`<ol class="work index group">`)
	for _, e := range entries {
		b.WriteString(`<li><div class="header module"><h4 class="heading">`)
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, e.href, e.title)
		if e.restricted {
			b.WriteString(`<img alt="(Restricted)" src="/images/lockblue.png">`)
		}
		b.WriteString(`</h4></div></li>`)
	}
	b.WriteString(`</ol>`)
	fmt.Fprintf(&b, `<ol class="pagination actions">%s</ol>`, pagination)
	b.WriteString(`</div></div></div></body></html>`)
	return b.String()
}

func nextLink(href string) string {
	return fmt.Sprintf(`<li><a rel="next" href="%s">Next →</a></li>`, href)
}

func multiChapterStoryPage(downloadHref string) string {
	return `<html><body><div id="outer"><div id="inner"><div id="main">` +
		`<div class="work"><ul class="work navigation actions"><li class="download"><ul>` +
		`<li><a href="/downloads/epub">EPUB</a></li>` +
		fmt.Sprintf(`<li><a href="%s">HTML</a></li>`, downloadHref) +
		`</ul></li></ul></div></div></div></div></body></html>`
}

func singleChapterStoryPage(downloadHref string) string {
	return `<html><body><div id="outer"><div id="inner"><div id="main">` +
		`<ul class="work navigation actions"><li class="download"><ul>` +
		fmt.Sprintf(`<li><a href="%s">HTML</a></li>`, downloadHref) +
		`</ul></li></ul></div></div></div></body></html>`
}

func downloadPage(title string, chapters ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="preface"><div class="meta">`)
	fmt.Fprintf(&b, `<h1> %s </h1>`, title)
	b.WriteString(`<div class="byline">by <a rel="author" href="/users/ada">Ada</a>, <a rel="author" href="/users/bo"> Bo </a></div>`)
	b.WriteString(`<dl class="tags">`)
	b.WriteString(`<dt>Rating:</dt><dd><a href="/tags/m">Mature</a></dd>`)
	b.WriteString(`<dt>Archive Warning:</dt><dd><a>No Archive Warnings Apply</a></dd>`)
	b.WriteString(`<dt>Category:</dt><dd><a>F/M</a></dd>`)
	b.WriteString(`<dt>Fandom:</dt><dd><a>Fandom One</a>, <a>Fandom Two</a></dd>`)
	b.WriteString(`<dt>Relationship:</dt><dd><a>A/B</a></dd>`)
	b.WriteString(`<dt>Character:</dt><dd><a>A</a>, <a>B</a></dd>`)
	b.WriteString(`<dt>Additional Tags:</dt><dd><a>Fluff</a></dd>`)
	b.WriteString(`<dt>Stats:</dt><dd>Words: 10</dd>`)
	b.WriteString(`</dl>`)
	b.WriteString(`<blockquote class="userstuff"><p>A <em>short</em> summary.</p></blockquote>`)
	b.WriteString(`</div></div><div id="chapters">`)
	for _, c := range chapters {
		fmt.Fprintf(&b, `<div class="userstuff"><p>%s</p></div>`, c)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// eventLog records pauses and fetches in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type recordingPauser struct {
	log    *eventLog
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, delay time.Duration) error {
	p.delays = append(p.delays, delay)
	p.log.add("pause")
	return ctx.Err()
}

type recordingFetcher struct {
	log      *eventLog
	pages    map[string]string
	requests []FetchRequest
}

func (f *recordingFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.requests = append(f.requests, req)
	f.log.add("fetch " + string(req.Kind) + " " + req.URL)
	body, ok := f.pages[req.URL]
	if !ok {
		return FetchResponse{}, fmt.Errorf("unexpected url %s", req.URL)
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *recordingFetcher) kinds(kind PageKind) int {
	n := 0
	for _, r := range f.requests {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// memoryStore is an in-memory StoryStore with transactional staging.
type memoryStore struct {
	mu      sync.Mutex
	stories map[uint64]StoryInfo
	commits int
	aborts  int
}

func newMemoryStore(existing ...uint64) *memoryStore {
	s := &memoryStore{stories: make(map[uint64]StoryInfo)}
	for _, id := range existing {
		s.stories[id] = StoryInfo{Name: "existing"}
	}
	return s
}

func (s *memoryStore) Begin(context.Context) (StoryTx, error) {
	return &memoryTx{store: s, staged: make(map[uint64]StoryInfo)}, nil
}

func (s *memoryStore) has(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stories[id]
	return ok
}

type memoryTx struct {
	store  *memoryStore
	staged map[uint64]StoryInfo
}

func (t *memoryTx) StoryExists(_ context.Context, id uint64) (bool, error) {
	return t.store.has(id), nil
}

func (t *memoryTx) InsertStory(_ context.Context, id uint64, info StoryInfo, _ StoryMeta) (bool, error) {
	if t.store.has(id) {
		return true, nil
	}
	t.staged[id] = info
	return false, nil
}

func (t *memoryTx) Commit(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, info := range t.staged {
		t.store.stories[id] = info
	}
	t.store.commits++
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.aborts++
	return nil
}

// mockTx is a testify mock for asserting exact transaction calls.
type mockTx struct {
	mock.Mock
}

func (m *mockTx) StoryExists(ctx context.Context, id uint64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTx) InsertStory(ctx context.Context, id uint64, info StoryInfo, meta StoryMeta) (bool, error) {
	args := m.Called(ctx, id, info, meta)
	return args.Bool(0), args.Error(1)
}

func (m *mockTx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTx) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type singleTxStore struct {
	tx StoryTx
}

func (s singleTxStore) Begin(context.Context) (StoryTx, error) {
	return s.tx, nil
}

type recordingSink struct {
	saved map[uint64][]byte
}

func (s *recordingSink) SavePage(_ context.Context, storyID uint64, _ string, body []byte) (string, error) {
	if s.saved == nil {
		s.saved = make(map[uint64][]byte)
	}
	s.saved[storyID] = body
	return fmt.Sprintf("memory://%d", storyID), nil
}
