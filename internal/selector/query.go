package selector

import (
	"slices"
	"strings"
)

// Select runs sel against the whole document.
func (d *Document) Select(sel *Selector) []NodeID {
	return d.SelectFrom(d.Root(), sel)
}

// SelectFrom runs sel with from as the single starting candidate. The
// starting node itself is never part of the result.
func (d *Document) SelectFrom(from NodeID, sel *Selector) []NodeID {
	candidates := []NodeID{from}
	direct := false
	for i := range sel.matchers {
		m := &sel.matchers[i]
		if m.Combinator == DirectChild {
			next := make([]NodeID, 0, len(candidates))
			for _, c := range candidates {
				next = append(next, d.Children(c)...)
			}
			candidates = next
			direct = true
			continue
		}
		pool := candidates
		if !direct {
			pool = d.descendants(candidates)
		}
		candidates = candidates[:0:0]
		for _, id := range pool {
			if d.matches(id, m) {
				candidates = append(candidates, id)
			}
		}
		direct = false
	}
	return candidates
}

// First returns the first match of sel, if any.
func (d *Document) First(from NodeID, sel *Selector) (NodeID, bool) {
	res := d.SelectFrom(from, sel)
	if len(res) == 0 {
		return 0, false
	}
	return res[0], true
}

// Last returns the last match of sel, if any.
func (d *Document) Last(from NodeID, sel *Selector) (NodeID, bool) {
	res := d.SelectFrom(from, sel)
	if len(res) == 0 {
		return 0, false
	}
	return res[len(res)-1], true
}

// descendants walks each candidate subtree in document order, skipping the
// candidate itself and any element already reached through an earlier one.
func (d *Document) descendants(candidates []NodeID) []NodeID {
	seen := make([]bool, len(d.nodes))
	out := make([]NodeID, 0, len(candidates)*8)
	stack := make([]NodeID, 0, 32)
	for _, c := range candidates {
		kids := d.nodes[c].children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n := &d.nodes[id]
			if n.kind != ElementNode || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
			for i := len(n.children) - 1; i >= 0; i-- {
				stack = append(stack, n.children[i])
			}
		}
	}
	return out
}

func (d *Document) matches(id NodeID, m *Matcher) bool {
	n := &d.nodes[id]
	if n.kind != ElementNode {
		return false
	}
	if len(m.Tags) > 0 && !slices.Contains(m.Tags, n.tag) {
		return false
	}
	if !d.hasAllTokens(id, "id", m.IDs) || !d.hasAllTokens(id, "class", m.Classes) {
		return false
	}
	for _, test := range m.Attributes {
		if v, ok := d.Attr(id, test.Name); ok && !test.Matches(v) {
			return false
		}
	}
	return true
}

func (d *Document) hasAllTokens(id NodeID, attr string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	raw, ok := d.Attr(id, attr)
	if !ok {
		return false
	}
	have := strings.Fields(raw)
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
