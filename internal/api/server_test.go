package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-indexer/internal/crawler"
	"github.com/JakeFAU/archive-indexer/internal/index"
	"github.com/JakeFAU/archive-indexer/internal/storage/postgres"
)

type fakeSearcher struct {
	gotQuery      string
	offset, limit int
	err           error
}

func (f *fakeSearcher) Search(_ context.Context, query string, offset, limit int) (index.Serp, error) {
	f.gotQuery, f.offset, f.limit = query, offset, limit
	if f.err != nil {
		return index.Serp{}, f.err
	}
	return index.Serp{
		Query:   query,
		NumHits: 1,
		Hits: []index.Hit{{
			Score: 1.5,
			ID:    9,
			Doc:   index.Document{StoryID: 3, ChapterID: 0, Content: "text"},
		}},
		Timings: []index.Timing{{Name: "search", Duration: 12}},
	}, nil
}

type fakeStories struct {
	stories map[uint64]postgres.Story
	err     error
}

func (f *fakeStories) GetStory(_ context.Context, id uint64) (postgres.Story, error) {
	if f.err != nil {
		return postgres.Story{}, f.err
	}
	s, ok := f.stories[id]
	if !ok {
		return postgres.Story{}, fmt.Errorf("story %d: %w", id, postgres.ErrStoryNotFound)
	}
	return s, nil
}

func (f *fakeStories) StoryCount(context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.stories)), nil
}

type fakeDocs struct{ n int64 }

func (f fakeDocs) NumDocs(context.Context) (int64, error) { return f.n, nil }

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSearchReturnsSerp(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewServer(searcher, nil, nil, nil)

	rec := serve(t, s, "/api/search?query=red+dragon&offset=20&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "red dragon", searcher.gotQuery)
	assert.Equal(t, 20, searcher.offset)
	assert.Equal(t, 5, searcher.limit)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "red dragon", body["query"])
	assert.EqualValues(t, 1, body["num_hits"])
	hits := body["hits"].([]any)
	require.Len(t, hits, 1)
	doc := hits[0].(map[string]any)["doc"].(map[string]any)
	assert.EqualValues(t, 3, doc["story_id"])
	assert.Equal(t, "text", doc["chapter_content"])
}

func TestSearchDefaultsAndClamps(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewServer(searcher, nil, nil, nil)

	require.Equal(t, http.StatusOK, serve(t, s, "/api/search?query=x").Code)
	assert.Equal(t, 0, searcher.offset)
	assert.Equal(t, index.DefaultLimit, searcher.limit)

	require.Equal(t, http.StatusOK, serve(t, s, "/api/search?query=x&limit=100000").Code)
	assert.Equal(t, index.MaxLimit, searcher.limit)
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"bad offset", "/api/search?query=x&offset=-1", nil, http.StatusBadRequest},
		{"bad limit", "/api/search?query=x&limit=zero", nil, http.StatusBadRequest},
		{"empty query", "/api/search?query=", index.ErrEmptyQuery, http.StatusBadRequest},
		{"malformed", "/api/search?query=%22x", fmt.Errorf("wrap: %w", index.ErrBadQuery), http.StatusBadRequest},
		{"backend", "/api/search?query=x", errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&fakeSearcher{err: tt.err}, nil, nil, nil)
			assert.Equal(t, tt.want, serve(t, s, tt.target).Code)
		})
	}
}

func TestMalformedQueriesAreBadRequests(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chapters.db")
	w, err := index.OpenWriter(ctx, path)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.AddDocument(ctx, index.Document{StoryID: 1, Content: "hello world"}))
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	r, err := index.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	s := NewServer(index.NewSearcher(r, nil), nil, r, nil)

	require.Equal(t, http.StatusOK, serve(t, s, "/api/search?query=hello").Code)
	for _, q := range []string{"hello AND OR world", "hello ( ) world", "hello NOT NOT world", "(AND hello)"} {
		rec := serve(t, s, "/api/search?query="+url.QueryEscape(q))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestGetStory(t *testing.T) {
	stories := &fakeStories{stories: map[uint64]postgres.Story{
		7: {
			ID:        7,
			StoryInfo: crawler.StoryInfo{Name: "Tale", Authors: []string{"Ada"}},
			StoryMeta: crawler.StoryMeta{Rating: crawler.RatingGeneral},
		},
	}}
	s := NewServer(nil, stories, nil, nil)

	rec := serve(t, s, "/api/stories/7")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Tale", body["name"])
	assert.Equal(t, "general", body["rating"])

	assert.Equal(t, http.StatusNotFound, serve(t, s, "/api/stories/8").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/api/stories/abc").Code)

	stories.err = errors.New("conn refused")
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, "/api/stories/7").Code)
}

func TestStats(t *testing.T) {
	stories := &fakeStories{stories: map[uint64]postgres.Story{1: {}, 2: {}}}
	s := NewServer(nil, stories, fakeDocs{n: 40}, nil)

	rec := serve(t, s, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stories":2,"documents":40}`, rec.Body.String())
}

func TestUnavailableBackends(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/api/search?query=x").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/api/stories/1").Code)
	rec := serve(t, s, "/api/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestHealthzAndMetrics(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	rec := serve(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	serve(t, s, "/api/stats")
	rec = serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
