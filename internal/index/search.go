package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-indexer/internal/logging"
)

// Search defaults.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ErrEmptyQuery is returned for queries with no searchable terms.
var ErrEmptyQuery = errors.New("empty query")

// ErrBadQuery marks a query the parser rejects.
var ErrBadQuery = errors.New("malformed query")

// Timing is the duration of one search phase.
type Timing struct {
	Name     string `json:"name"`
	Duration int64  `json:"duration"` // microseconds
}

// Serp is a page of search results.
type Serp struct {
	Query   string   `json:"query"`
	NumHits int      `json:"num_hits"`
	Hits    []Hit    `json:"hits"`
	Timings []Timing `json:"timings"`
}

type hitSource interface {
	Search(ctx context.Context, match string, offset, limit int) ([]Hit, int, error)
}

// Searcher answers user queries against a Reader.
type Searcher struct {
	source hitSource
	logger *zap.Logger
}

// NewSearcher wraps a reader.
func NewSearcher(reader *Reader, logger *zap.Logger) *Searcher {
	return &Searcher{source: reader, logger: logging.OrNop(logger)}
}

// Search parses query, clamps paging and runs it.
func (s *Searcher) Search(ctx context.Context, query string, offset, limit int) (Serp, error) {
	if offset < 0 {
		return Serp{}, fmt.Errorf("offset %d: %w", offset, ErrBadQuery)
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	serp := Serp{Query: query}
	start := time.Now()
	match, err := ParseQuery(query)
	serp.Timings = append(serp.Timings, Timing{Name: "parse", Duration: time.Since(start).Microseconds()})
	if err != nil {
		return Serp{}, err
	}

	start = time.Now()
	hits, total, err := s.source.Search(ctx, match, offset, limit)
	serp.Timings = append(serp.Timings, Timing{Name: "search", Duration: time.Since(start).Microseconds()})
	if err != nil {
		return Serp{}, fmt.Errorf("query %q: %w", query, err)
	}
	serp.Hits, serp.NumHits = hits, total

	s.logger.Debug("search served",
		zap.String("query", query),
		zap.Int("num_hits", total),
		zap.Int("offset", offset),
		zap.Int("limit", limit),
	)
	return serp, nil
}

// ParseQuery turns user input into an FTS5 MATCH expression. Bare words and
// double-quoted phrases become quoted FTS5 strings; upper-case AND, OR and NOT
// stay operators; parentheses group.
func ParseQuery(input string) (string, error) {
	var (
		out   []string
		terms int
		depth int
	)
	rs := []rune(input)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			depth++
			out = append(out, "(")
			i++
		case r == ')':
			depth--
			if depth < 0 {
				return "", fmt.Errorf("unbalanced ')': %w", ErrBadQuery)
			}
			switch prev := last(out); {
			case prev == "(":
				return "", fmt.Errorf("empty group: %w", ErrBadQuery)
			case isOperator(prev):
				return "", fmt.Errorf("operator %s before ')': %w", prev, ErrBadQuery)
			}
			out = append(out, ")")
			i++
		case r == '"':
			end := i + 1
			for end < len(rs) && rs[end] != '"' {
				end++
			}
			if end == len(rs) {
				return "", fmt.Errorf("unterminated phrase: %w", ErrBadQuery)
			}
			if phrase := strings.TrimSpace(string(rs[i+1 : end])); phrase != "" {
				out = append(out, quote(phrase))
				terms++
			}
			i = end + 1
		default:
			end := i
			for end < len(rs) && !unicode.IsSpace(rs[end]) && rs[end] != '(' && rs[end] != ')' && rs[end] != '"' {
				end++
			}
			word := string(rs[i:end])
			switch word {
			case "AND", "OR", "NOT":
				// Operators are binary: each needs a term or group on its left.
				if prev := last(out); isOperator(prev) || prev == "(" {
					return "", fmt.Errorf("operator %s after %q: %w", word, prev, ErrBadQuery)
				}
				out = append(out, word)
			default:
				out = append(out, quote(word))
				terms++
			}
			i = end
		}
	}
	if depth != 0 {
		return "", fmt.Errorf("unbalanced '(': %w", ErrBadQuery)
	}
	if terms == 0 {
		return "", ErrEmptyQuery
	}
	if isOperator(out[0]) || isOperator(out[len(out)-1]) {
		return "", fmt.Errorf("dangling operator: %w", ErrBadQuery)
	}
	return strings.Join(out, " "), nil
}

func last(toks []string) string {
	if len(toks) == 0 {
		return ""
	}
	return toks[len(toks)-1]
}

func isOperator(tok string) bool {
	return tok == "AND" || tok == "OR" || tok == "NOT"
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
