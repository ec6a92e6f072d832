// Package selector locates data in parsed markup using a small CSS-like
// grammar. Documents are stored as an arena of nodes addressed by NodeID, so
// query results are plain index handles that stay valid for the lifetime of
// the Document that produced them.
//
// The grammar is whitespace separated tokens:
//
//	tag          element name
//	#id          every listed id must be present
//	.class       every listed class must be present
//	[attr]       attribute test, see AttrOp
//	>            next token only considers direct children
//
// Selectors are compiled from static strings; Compile reports grammar errors
// and MustCompile panics on them.
package selector
