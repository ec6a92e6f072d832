package crawler

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-indexer/internal/selector"
)

// Extraction errors. They are wrapped with the page URL before being returned.
var (
	ErrNoDownloadLink = errors.New("unable to select the download link")
	ErrMissingTitle   = errors.New("unable to scrape story title")
	ErrMissingAuthor  = errors.New("unable to scrape story authors")
)

const defaultSummary = "<p></p>"

var ratingLabels = map[string]Rating{
	"Explicit":              RatingExplicit,
	"Mature":                RatingMature,
	"Teen And Up Audiences": RatingTeen,
	"General Audiences":     RatingGeneral,
	"Not Rated":             RatingNotRated,
}

// downloadLink returns the href of the last download affordance, preferring
// the multi-chapter layout.
func downloadLink(doc *selector.Document) (string, bool) {
	links := doc.Select(selMultiDownload)
	if len(links) == 0 {
		links = doc.Select(selSingleDownload)
	}
	if len(links) == 0 {
		return "", false
	}
	href, ok := doc.Attr(links[len(links)-1], "href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return href, true
}

func extractInfo(doc *selector.Document) (StoryInfo, error) {
	title, ok := doc.First(doc.Root(), selTitle)
	if !ok {
		return StoryInfo{}, ErrMissingTitle
	}
	info := StoryInfo{
		Name:    strings.TrimSpace(doc.Text(title)),
		Summary: defaultSummary,
	}
	for _, a := range doc.Select(selAuthor) {
		name := strings.TrimSpace(doc.Text(a))
		if name == "" {
			return StoryInfo{}, ErrMissingAuthor
		}
		info.Authors = append(info.Authors, name)
	}
	if summary, ok := doc.First(doc.Root(), selSummary); ok {
		info.Summary = doc.InnerMarkup(summary)
	}
	return info, nil
}

func extractMeta(doc *selector.Document, logger *zap.Logger) StoryMeta {
	meta := StoryMeta{Rating: RatingUnknown}
	names := doc.Select(selDetailName)
	values := doc.Select(selDetailValue)
	if len(names) != len(values) {
		logger.Warn("tag names and definitions differ in length, extra entries dropped",
			zap.Int("names", len(names)),
			zap.Int("definitions", len(values)),
		)
	}
	for i := 0; i < len(names) && i < len(values); i++ {
		label := strings.TrimSpace(doc.Text(names[i]))
		def := values[i]
		var dest *[]string
		switch label {
		case "Rating:":
			meta.Rating = ratingOf(doc, def)
		case "Archive Warning:":
			dest = &meta.Warnings
		case "Category:":
			dest = &meta.Categories
		case "Fandom:":
			dest = &meta.Fandoms
		case "Relationship:":
			dest = &meta.Pairings
		case "Character:":
			dest = &meta.Characters
		case "Additional Tags:":
			dest = &meta.Freeform
		}
		if dest == nil {
			continue
		}
		for _, child := range doc.Children(def) {
			*dest = append(*dest, strings.TrimSpace(doc.Text(child)))
		}
	}
	return meta
}

// ratingOf reads the first child of the definition, falling back to the
// definition text when it has no element children.
func ratingOf(doc *selector.Document, def selector.NodeID) Rating {
	source := def
	if kids := doc.Children(def); len(kids) > 0 {
		source = kids[0]
	}
	if r, ok := ratingLabels[strings.TrimSpace(doc.Text(source))]; ok {
		return r
	}
	return RatingUnknown
}

func extractChapters(doc *selector.Document) []string {
	nodes := doc.Select(selChapter)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, doc.Text(n))
	}
	return out
}
