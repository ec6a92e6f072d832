package selector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// NodeID addresses a node inside its owning Document.
type NodeID int32

// NodeKind distinguishes the node variants stored in the arena.
type NodeKind uint8

// Node kinds kept by the arena. Comments and doctypes are dropped at parse time.
const (
	DocumentNode NodeKind = iota
	ElementNode
	TextNode
)

// Attribute is a single key/value pair in source order.
type Attribute struct {
	Key string
	Val string
}

type node struct {
	kind     NodeKind
	tag      string
	attrs    []Attribute
	data     string
	parent   NodeID
	children []NodeID
}

// Document owns every node of a parsed page. The zero NodeID is the document root.
type Document struct {
	nodes []node
}

// Parse builds a Document from HTML markup.
func Parse(markup string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	doc := &Document{nodes: make([]node, 0, 256)}
	doc.nodes = append(doc.nodes, node{kind: DocumentNode, parent: -1})
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		doc.appendNode(c, 0)
	}
	return doc, nil
}

func (d *Document) appendNode(n *html.Node, parent NodeID) {
	var nd node
	switch n.Type {
	case html.ElementNode:
		nd = node{kind: ElementNode, tag: n.Data, attrs: convertAttrs(n.Attr)}
	case html.TextNode:
		nd = node{kind: TextNode, data: n.Data}
	default:
		return
	}
	nd.parent = parent
	id := NodeID(len(d.nodes))
	d.nodes = append(d.nodes, nd)
	d.nodes[parent].children = append(d.nodes[parent].children, id)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.appendNode(c, id)
	}
}

func convertAttrs(in []html.Attribute) []Attribute {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attribute, 0, len(in))
	for _, a := range in {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + a.Key
		}
		out = append(out, Attribute{Key: key, Val: a.Val})
	}
	return out
}

// Root returns the document node.
func (d *Document) Root() NodeID { return 0 }

// Len reports how many nodes the arena holds.
func (d *Document) Len() int { return len(d.nodes) }

// Kind reports the variant of id.
func (d *Document) Kind(id NodeID) NodeKind { return d.nodes[id].kind }

// Tag returns the element name, or "" for non-elements.
func (d *Document) Tag(id NodeID) string { return d.nodes[id].tag }

// Parent returns the parent of id, or -1 for the root.
func (d *Document) Parent(id NodeID) NodeID { return d.nodes[id].parent }

// Attr looks up an attribute. When a key repeats, the last occurrence wins.
func (d *Document) Attr(id NodeID, key string) (string, bool) {
	attrs := d.nodes[id].attrs
	for i := len(attrs) - 1; i >= 0; i-- {
		if attrs[i].Key == key {
			return attrs[i].Val, true
		}
	}
	return "", false
}

// Attrs returns the attributes of id in source order.
func (d *Document) Attrs(id NodeID) []Attribute {
	return append([]Attribute(nil), d.nodes[id].attrs...)
}

// Children returns the element children of id.
func (d *Document) Children(id NodeID) []NodeID {
	kids := d.nodes[id].children
	out := make([]NodeID, 0, len(kids))
	for _, k := range kids {
		if d.nodes[k].kind == ElementNode {
			out = append(out, k)
		}
	}
	return out
}

// ChildNodes returns every child of id, text nodes included.
func (d *Document) ChildNodes(id NodeID) []NodeID {
	return append([]NodeID(nil), d.nodes[id].children...)
}
