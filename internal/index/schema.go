// Package index turns chapter records into full-text documents, writes them
// through a single-writer SQLite FTS5 store, and serves ranked queries over
// the committed data.
package index

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/JakeFAU/archive-indexer/internal/crawler"
)

// Field names of the chapter schema.
const (
	FieldStoryID   = "story_id"
	FieldChapterID = "chapter_id"
	FieldContent   = "chapter_content"
)

// ErrConversion marks a chapter record the schema mapping rejected.
var ErrConversion = errors.New("chapter record does not fit the index schema")

// Document is one indexed chapter.
type Document struct {
	StoryID   uint64 `json:"story_id"`
	ChapterID uint64 `json:"chapter_id"`
	Content   string `json:"chapter_content"`
}

// FromRecord maps a chapter record onto the index schema. Ids are stored as
// signed 64-bit integers and content must be valid UTF-8.
func FromRecord(rec crawler.ChapterRecord) (Document, error) {
	if rec.StoryID > math.MaxInt64 {
		return Document{}, fmt.Errorf("%s %d out of range: %w", FieldStoryID, rec.StoryID, ErrConversion)
	}
	if rec.ChapterIndex > math.MaxInt64 {
		return Document{}, fmt.Errorf("%s %d out of range: %w", FieldChapterID, rec.ChapterIndex, ErrConversion)
	}
	if !utf8.ValidString(rec.Content) {
		return Document{}, fmt.Errorf("%s of story %d chapter %d is not valid UTF-8: %w",
			FieldContent, rec.StoryID, rec.ChapterIndex, ErrConversion)
	}
	return Document{
		StoryID:   rec.StoryID,
		ChapterID: rec.ChapterIndex,
		Content:   rec.Content,
	}, nil
}
