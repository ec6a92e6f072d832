// Package crawler walks the paginated work listing of the archive, scrapes
// each new story inside its own storage transaction, and hands chapter text to
// the indexing pipeline.
//
// Pages and stories are processed strictly one at a time. Every outbound
// request is preceded by a randomized politeness pause.
package crawler
