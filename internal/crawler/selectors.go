package crawler

import "github.com/JakeFAU/archive-indexer/internal/selector"

// NextPageMarker is the exact visible text of a usable "next page" link.
const NextPageMarker = "Next →"

// Selector sources, kept as data so they can be compiled and checked in tests.
const (
	listEntrySelector      = `html > body > #outer > #inner > #main > ol.work.index.group > li`
	storyLinkSelector      = `.header.module > h4.heading > a`
	nextPageSelector       = `html > body > #outer > #inner > #main > ol.pagination.actions > li > a[rel=next]`
	restrictedSelector     = `div.header.module > h4.heading > img[alt="(Restricted)"]`
	multiDownloadSelector  = `html > body > #outer > #inner > #main > .work > .navigation.actions > .download > ul > li > a`
	singleDownloadSelector = `html > body > #outer > #inner > #main > .work.navigation.actions > .download > ul > li > a`
	chapterSelector        = `#chapters > .userstuff`
	titleSelector          = `html > body > #preface > .meta > h1`
	authorSelector         = `html > body > #preface > .meta > .byline > a[rel="author"]`
	summarySelector        = `html > body > #preface > .meta > blockquote`
	detailNameSelector     = `html > body > #preface > .meta > .tags > dt`
	detailValueSelector    = `html > body > #preface > .meta > .tags > dd`
)

var (
	selListEntry      = selector.MustCompile(listEntrySelector)
	selStoryLink      = selector.MustCompile(storyLinkSelector)
	selNextPage       = selector.MustCompile(nextPageSelector)
	selRestricted     = selector.MustCompile(restrictedSelector)
	selMultiDownload  = selector.MustCompile(multiDownloadSelector)
	selSingleDownload = selector.MustCompile(singleDownloadSelector)
	selChapter        = selector.MustCompile(chapterSelector)
	selTitle          = selector.MustCompile(titleSelector)
	selAuthor         = selector.MustCompile(authorSelector)
	selSummary        = selector.MustCompile(summarySelector)
	selDetailName     = selector.MustCompile(detailNameSelector)
	selDetailValue    = selector.MustCompile(detailValueSelector)
)
