package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-indexer/internal/index"
	"github.com/JakeFAU/archive-indexer/internal/logging"
	"github.com/JakeFAU/archive-indexer/internal/metrics"
	"github.com/JakeFAU/archive-indexer/internal/storage/postgres"
)

const (
	requestTimeout = 30 * time.Second
	storeTimeout   = 3 * time.Second
)

// Searcher runs user queries against the index.
type Searcher interface {
	Search(ctx context.Context, query string, offset, limit int) (index.Serp, error)
}

// StoryReader loads stored stories.
type StoryReader interface {
	GetStory(ctx context.Context, id uint64) (postgres.Story, error)
	StoryCount(ctx context.Context) (int64, error)
}

// DocumentCounter reports the number of indexed documents.
type DocumentCounter interface {
	NumDocs(ctx context.Context) (int64, error)
}

// Server wires HTTP handlers to the search and storage backends. Any backend
// may be nil; its routes then answer 503.
type Server struct {
	router   chi.Router
	searcher Searcher
	stories  StoryReader
	docs     DocumentCounter
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(searcher Searcher, stories StoryReader, docs DocumentCounter, logger *zap.Logger) *Server {
	metrics.Init()
	s := &Server{
		searcher: searcher,
		stories:  stories,
		docs:     docs,
		logger:   logging.OrNop(logger),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.search)
		r.Get("/stories/{id}", s.getStory)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// search handles GET /api/search?query=&offset=&limit=. It returns the Serp on
// success and 400 for empty or malformed queries.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search index unavailable")
		return
	}
	offset, limit, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	serp, err := s.searcher.Search(r.Context(), r.URL.Query().Get("query"), offset, limit)
	if err != nil {
		if errors.Is(err, index.ErrEmptyQuery) || errors.Is(err, index.ErrBadQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, serp)
}

// getStory handles GET /api/stories/{id}.
func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	if s.stories == nil {
		writeError(w, http.StatusServiceUnavailable, "story store unavailable")
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid story id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	story, err := s.stories.GetStory(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrStoryNotFound) {
			writeError(w, http.StatusNotFound, "story not found")
			return
		}
		s.logger.Error("get story failed", zap.Uint64("story_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load story")
		return
	}
	writeJSON(w, http.StatusOK, story)
}

// stats handles GET /api/stats. Counts from unavailable backends are omitted.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	out := map[string]int64{}
	if s.stories != nil {
		n, err := s.stories.StoryCount(ctx)
		if err != nil {
			s.logger.Error("count stories failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to count stories")
			return
		}
		out["stories"] = n
	}
	if s.docs != nil {
		n, err := s.docs.NumDocs(ctx)
		if err != nil {
			s.logger.Error("count documents failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to count documents")
			return
		}
		out["documents"] = n
	}
	writeJSON(w, http.StatusOK, out)
}

func parsePaging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	limit := index.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, index.MaxLimit)
	}
	return offset, limit, nil
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
