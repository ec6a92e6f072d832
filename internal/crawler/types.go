// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"net/url"
	"time"
)

// Rating is the audience rating attached to a story.
type Rating int

// Known ratings. RatingUnknown is used when the rating tag is missing or unrecognized.
const (
	RatingUnknown Rating = iota
	RatingExplicit
	RatingMature
	RatingTeen
	RatingGeneral
	RatingNotRated
)

var ratingNames = map[Rating]string{
	RatingUnknown:  "unknown",
	RatingExplicit: "explicit",
	RatingMature:   "mature",
	RatingTeen:     "teen",
	RatingGeneral:  "general",
	RatingNotRated: "not-rated",
}

// String returns the stored wire name of the rating.
func (r Rating) String() string {
	if name, ok := ratingNames[r]; ok {
		return name
	}
	return ratingNames[RatingUnknown]
}

// ParseRating maps a stored wire name back to a Rating.
func ParseRating(name string) Rating {
	for r, n := range ratingNames {
		if n == name {
			return r
		}
	}
	return RatingUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (r Rating) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ChapterRecord is one scraped chapter queued for indexing.
type ChapterRecord struct {
	StoryID      uint64 `json:"story_id"`
	ChapterIndex uint64 `json:"chapter_id"`
	Content      string `json:"chapter_content"`
}

// StoryInfo holds the descriptive fields of a story.
type StoryInfo struct {
	Name    string   `json:"name"`
	Authors []string `json:"authors"`
	Summary string   `json:"summary"`
}

// StoryMeta holds the rating and tag lists of a story.
type StoryMeta struct {
	Rating     Rating   `json:"rating"`
	Categories []string `json:"categories"`
	Fandoms    []string `json:"fandoms"`
	Warnings   []string `json:"warnings"`
	Pairings   []string `json:"pairings"`
	Characters []string `json:"characters"`
	Freeform   []string `json:"freeform"`
}

// PaginationCursor tracks the listing page being walked.
type PaginationCursor struct {
	URL  *url.URL
	Page int
	Base *url.URL
}

// PageKind labels what a fetched page is used for.
type PageKind string

// Page kinds requested by the orchestrator.
const (
	PageListing  PageKind = "listing"
	PageStory    PageKind = "story"
	PageDownload PageKind = "download"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Kind    PageKind
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
