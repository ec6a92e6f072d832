package selector

import "strings"

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "keygen": true, "link": true,
	"meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

var rawTextElements = map[string]bool{
	"iframe": true, "noembed": true, "noframes": true, "noscript": true,
	"plaintext": true, "script": true, "style": true, "xmp": true,
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", " ", "&nbsp;")
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", " ", "&nbsp;")
)

// Text concatenates every text node under id in document order. A text node
// returns its own content; an element without text returns "".
func (d *Document) Text(id NodeID) string {
	if d.nodes[id].kind == TextNode {
		return d.nodes[id].data
	}
	var b strings.Builder
	d.writeText(&b, id)
	return b.String()
}

func (d *Document) writeText(b *strings.Builder, id NodeID) {
	for _, c := range d.nodes[id].children {
		n := &d.nodes[c]
		if n.kind == TextNode {
			b.WriteString(n.data)
			continue
		}
		d.writeText(b, c)
	}
}

// InnerMarkup serializes the children of id, leaving out id's own tag.
func (d *Document) InnerMarkup(id NodeID) string {
	var b strings.Builder
	for _, c := range d.nodes[id].children {
		d.render(&b, c)
	}
	return b.String()
}

// OuterMarkup serializes id including its own tag.
func (d *Document) OuterMarkup(id NodeID) string {
	var b strings.Builder
	d.render(&b, id)
	return b.String()
}

func (d *Document) render(b *strings.Builder, id NodeID) {
	n := &d.nodes[id]
	switch n.kind {
	case TextNode:
		if p := n.parent; p >= 0 && rawTextElements[d.nodes[p].tag] {
			b.WriteString(n.data)
			return
		}
		textEscaper.WriteString(b, n.data) //nolint:errcheck // strings.Builder never fails
	case ElementNode:
		b.WriteByte('<')
		b.WriteString(n.tag)
		for _, a := range n.attrs {
			b.WriteByte(' ')
			b.WriteString(a.Key)
			b.WriteString(`="`)
			attrEscaper.WriteString(b, a.Val) //nolint:errcheck // strings.Builder never fails
			b.WriteByte('"')
		}
		b.WriteByte('>')
		if voidElements[n.tag] {
			return
		}
		for _, c := range n.children {
			d.render(b, c)
		}
		b.WriteString("</")
		b.WriteString(n.tag)
		b.WriteByte('>')
	case DocumentNode:
		for _, c := range n.children {
			d.render(b, c)
		}
	}
}
