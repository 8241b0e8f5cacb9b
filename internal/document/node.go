// Package document models a parsed HTML page as a small typed tree.
//
// A tree holds exactly two node variants: *Element (tag, attributes,
// children) and *Text (a text leaf). Comments, doctypes and other markup
// are dropped while parsing.
package document

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node is implemented by *Element and *Text only.
type Node interface {
	node()
}

// Element is an HTML element with its attributes and children.
type Element struct {
	Tag      string
	Attrs    []Attribute
	Children []Node
}

// Attribute is one key="value" pair. Keys are lower-case.
type Attribute struct {
	Key   string
	Value string
}

// Text is a text leaf.
type Text struct {
	Data string
}

func (*Element) node() {}
func (*Text) node()    {}

// DocumentTag is the tag of the synthetic root returned by Parse.
const DocumentTag = "#document"

// Parse reads UTF-8 HTML from r and returns the synthetic root element.
func Parse(r io.Reader) (*Element, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	root := &Element{Tag: DocumentTag}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := convert(c); child != nil {
			root.Children = append(root.Children, child)
		}
	}
	return root, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Element, error) {
	return Parse(strings.NewReader(s))
}

func convert(n *html.Node) Node {
	switch n.Type {
	case html.TextNode:
		return &Text{Data: n.Data}
	case html.ElementNode:
		tag := n.Data
		if n.DataAtom != 0 {
			tag = n.DataAtom.String()
		}
		el := &Element{Tag: strings.ToLower(tag)}
		if len(n.Attr) > 0 {
			el.Attrs = make([]Attribute, 0, len(n.Attr))
			for _, a := range n.Attr {
				el.Attrs = append(el.Attrs, Attribute{Key: strings.ToLower(a.Key), Value: a.Val})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child := convert(c); child != nil {
				el.Children = append(el.Children, child)
			}
		}
		return el
	default:
		return nil
	}
}

// Attr returns the value of attribute name, or def when absent.
func (e *Element) Attr(name, def string) string {
	if e == nil {
		return def
	}
	name = strings.ToLower(name)
	for _, a := range e.Attrs {
		if a.Key == name {
			return a.Value
		}
	}
	return def
}

// Classes returns the whitespace-separated tokens of the class attribute.
func (e *Element) Classes() []string {
	return strings.Fields(e.Attr("class", ""))
}

// HasClass reports whether any of names is one of the element's classes.
func (e *Element) HasClass(names ...string) bool {
	for _, c := range e.Classes() {
		for _, n := range names {
			if c == n {
				return true
			}
		}
	}
	return false
}

// Is reports whether the element has the given tag.
func (e *Element) Is(tag string) bool {
	return e != nil && e.Tag == tag
}

// Predicate selects elements.
type Predicate func(*Element) bool

// Tag matches elements by tag name.
func Tag(name string) Predicate {
	name = strings.ToLower(name)
	return func(e *Element) bool { return e.Tag == name }
}

// Class matches elements carrying the class.
func Class(name string) Predicate {
	return func(e *Element) bool { return e.HasClass(name) }
}

// And matches when every predicate matches.
func And(ps ...Predicate) Predicate {
	return func(e *Element) bool {
		for _, p := range ps {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// FindAll returns every descendant element matching p in document order.
// The receiver itself is not included.
func (e *Element) FindAll(p Predicate) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	var walk func(*Element)
	walk = func(el *Element) {
		for _, c := range el.Children {
			ce, ok := c.(*Element)
			if !ok {
				continue
			}
			if p(ce) {
				out = append(out, ce)
			}
			walk(ce)
		}
	}
	walk(e)
	return out
}

// Find returns the first descendant element matching p, or nil.
func (e *Element) Find(p Predicate) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		ce, ok := c.(*Element)
		if !ok {
			continue
		}
		if p(ce) {
			return ce
		}
		if f := ce.Find(p); f != nil {
			return f
		}
	}
	return nil
}

// Text returns the concatenated text of the subtree. A <br> element
// contributes a newline.
func (e *Element) Text() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	writeText(&b, e)
	return b.String()
}

func writeText(b *strings.Builder, n Node) {
	switch v := n.(type) {
	case *Text:
		b.WriteString(v.Data)
	case *Element:
		if v.Tag == atom.Br.String() {
			b.WriteByte('\n')
			return
		}
		for _, c := range v.Children {
			writeText(b, c)
		}
	}
}

// Clone returns a deep copy of the subtree.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	cp := &Element{Tag: e.Tag, Attrs: append([]Attribute(nil), e.Attrs...)}
	if len(e.Children) > 0 {
		cp.Children = make([]Node, 0, len(e.Children))
		for _, c := range e.Children {
			switch v := c.(type) {
			case *Text:
				cp.Children = append(cp.Children, &Text{Data: v.Data})
			case *Element:
				cp.Children = append(cp.Children, v.Clone())
			}
		}
	}
	return cp
}

// Replace swaps the first occurrence of old anywhere in the subtree with
// repl. It reports whether a replacement happened.
func (e *Element) Replace(old *Element, repl Node) bool {
	if e == nil || old == nil {
		return false
	}
	for i, c := range e.Children {
		if ce, ok := c.(*Element); ok {
			if ce == old {
				e.Children[i] = repl
				return true
			}
			if ce.Replace(old, repl) {
				return true
			}
		}
	}
	return false
}
