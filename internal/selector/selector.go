package selector

import (
	"errors"
	"fmt"
	"strings"
)

// Combinator decides how a Matcher scopes traversal.
type Combinator uint8

const (
	// Descendant filters every descendant of the current candidates.
	Descendant Combinator = iota
	// DirectChild carries no constraint. It swaps the candidates for their
	// element children, and the next matcher filters exactly that set.
	DirectChild
)

// AttrOp is the comparison an AttributeTest applies.
type AttrOp uint8

// Attribute comparisons supported by the grammar.
const (
	AttrPresent  AttrOp = iota // [attr]
	AttrExact                  // [attr=v]
	AttrPrefix                 // [attr^=v]
	AttrSuffix                 // [attr$=v]
	AttrContains               // [attr*=v]
)

// AttributeTest checks a single attribute value. Tests only run when the
// attribute exists, so an absent attribute never fails a match.
type AttributeTest struct {
	Name  string
	Op    AttrOp
	Value string
}

// Matches applies the comparison to a present attribute value.
func (t AttributeTest) Matches(value string) bool {
	switch t.Op {
	case AttrPresent:
		return true
	case AttrExact:
		return value == t.Value
	case AttrPrefix:
		return strings.HasPrefix(value, t.Value)
	case AttrSuffix:
		return strings.HasSuffix(value, t.Value)
	case AttrContains:
		return strings.Contains(value, t.Value)
	default:
		return false
	}
}

func (t AttributeTest) String() string {
	var op string
	switch t.Op {
	case AttrPresent:
		return "[" + t.Name + "]"
	case AttrExact:
		op = "="
	case AttrPrefix:
		op = "^="
	case AttrSuffix:
		op = "$="
	case AttrContains:
		op = "*="
	}
	quote := `"`
	if strings.Contains(t.Value, `"`) {
		quote = "'"
	}
	return "[" + t.Name + op + quote + t.Value + quote + "]"
}

// Matcher is one compiled token.
type Matcher struct {
	Combinator Combinator
	Tags       []string
	IDs        []string
	Classes    []string
	Attributes []AttributeTest
}

func (m Matcher) String() string {
	if m.Combinator == DirectChild {
		return ">"
	}
	var b strings.Builder
	for _, t := range m.Tags {
		b.WriteString(t)
	}
	for _, id := range m.IDs {
		b.WriteString("#" + id)
	}
	for _, c := range m.Classes {
		b.WriteString("." + c)
	}
	for _, a := range m.Attributes {
		b.WriteString(a.String())
	}
	return b.String()
}

// Selector is an ordered list of matchers applied left to right.
type Selector struct {
	matchers []Matcher
}

// ErrSyntax is wrapped by every grammar error.
var ErrSyntax = errors.New("selector syntax error")

// Compile parses src into a Selector.
func Compile(src string) (*Selector, error) {
	tokens := strings.Fields(src)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty selector", ErrSyntax)
	}
	sel := &Selector{matchers: make([]Matcher, 0, len(tokens))}
	for _, tok := range tokens {
		m, err := parseToken(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: token %q in %q: %v", ErrSyntax, tok, src, err)
		}
		sel.matchers = append(sel.matchers, m)
	}
	return sel, nil
}

// MustCompile is Compile for static selectors; it panics on a grammar error.
func MustCompile(src string) *Selector {
	sel, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return sel
}

// Matchers returns a copy of the compiled matchers.
func (s *Selector) Matchers() []Matcher {
	return append([]Matcher(nil), s.matchers...)
}

// String renders the selector in canonical form. Compiling the result yields
// an equivalent Selector.
func (s *Selector) String() string {
	parts := make([]string, len(s.matchers))
	for i, m := range s.matchers {
		parts[i] = m.String()
	}
	return strings.Join(parts, " ")
}

func parseToken(tok string) (Matcher, error) {
	if tok == ">" {
		return Matcher{Combinator: DirectChild}, nil
	}
	m := Matcher{Combinator: Descendant}
	i := 0
	for i < len(tok) {
		switch tok[i] {
		case '#', '.':
			kind := tok[i]
			end := i + 1
			for end < len(tok) && !isDelim(tok[end]) {
				end++
			}
			name := tok[i+1 : end]
			if name == "" {
				return Matcher{}, fmt.Errorf("empty name after %q", kind)
			}
			if kind == '#' {
				m.IDs = append(m.IDs, name)
			} else {
				m.Classes = append(m.Classes, name)
			}
			i = end
		case '[':
			end, err := closingBracket(tok, i)
			if err != nil {
				return Matcher{}, err
			}
			test, err := parseAttribute(tok[i+1 : end])
			if err != nil {
				return Matcher{}, err
			}
			m.Attributes = append(m.Attributes, test)
			i = end + 1
		case '>', ']':
			return Matcher{}, fmt.Errorf("unexpected %q", tok[i])
		default:
			if i != 0 {
				return Matcher{}, fmt.Errorf("tag name must lead the token")
			}
			end := i
			for end < len(tok) && !isDelim(tok[end]) {
				end++
			}
			m.Tags = append(m.Tags, tok[i:end])
			i = end
		}
	}
	return m, nil
}

func isDelim(c byte) bool {
	return c == '#' || c == '.' || c == '[' || c == ']' || c == '>'
}

func closingBracket(tok string, open int) (int, error) {
	var quote byte
	for j := open + 1; j < len(tok); j++ {
		c := tok[j]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return j, nil
		}
	}
	return 0, errors.New("unterminated attribute test")
}

func parseAttribute(body string) (AttributeTest, error) {
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		if body == "" || !isName(body) {
			return AttributeTest{}, fmt.Errorf("invalid attribute name %q", body)
		}
		return AttributeTest{Name: body, Op: AttrPresent}, nil
	}
	name := body[:eq]
	op := AttrExact
	if name != "" {
		switch name[len(name)-1] {
		case '^':
			op = AttrPrefix
		case '$':
			op = AttrSuffix
		case '*':
			op = AttrContains
		}
		if op != AttrExact {
			name = name[:len(name)-1]
		}
	}
	if name == "" || !isName(name) {
		return AttributeTest{}, fmt.Errorf("no recognizable comparator in %q", body)
	}
	return AttributeTest{Name: name, Op: op, Value: unquote(body[eq+1:])}, nil
}

func isName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == ':':
		default:
			return false
		}
	}
	return true
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
