// Package dom provides the small DOM toolkit the navigation engine works
// against: parsing documents and fragments, id lookup, selector queries,
// attribute and class manipulation, and node swapping on top of
// golang.org/x/net/html.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a live HTML document.
type Document struct {
	Root   *html.Node
	events *Events
}

// Parse reads a complete HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return &Document{Root: root, events: newEvents()}, nil
}

// ParseString parses a complete HTML document from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFragment parses markup as if it were inserted into <body> and returns
// a detached container node holding the parsed nodes. The container is a
// document node so it can be searched with the same helpers as a document.
func ParseFragment(s string) (*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	frag := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		frag.AppendChild(n)
	}
	return frag, nil
}

// Events returns the document's event dispatcher.
func (d *Document) Events() *Events {
	return d.events
}

// GetElementByID searches the whole document.
func (d *Document) GetElementByID(id string) *html.Node {
	return GetElementByID(d.Root, id)
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node {
	return findElement(d.Root, "head")
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	return findElement(d.Root, "body")
}

// Title returns the text of the <title> element.
func (d *Document) Title() string {
	head := d.Head()
	if head == nil {
		return ""
	}
	if t := findElement(head, "title"); t != nil {
		return TextContent(t)
	}
	return ""
}

// SetTitle sets the <title> text, creating the element when missing.
func (d *Document) SetTitle(title string) {
	head := d.Head()
	if head == nil {
		return
	}
	t := findElement(head, "title")
	if t == nil {
		t = NewElement("title", nil)
		head.AppendChild(t)
	}
	SetText(t, title)
}

// String renders the whole document.
func (d *Document) String() string {
	return OuterHTML(d.Root)
}

// GetElementByID returns the first element under n (n included) whose id
// attribute equals id.
func GetElementByID(n *html.Node, id string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode {
		if v, ok := Attr(n, "id"); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := GetElementByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// Query returns the descendants of n matching a CSS selector, in document
// order. n itself is not considered.
func Query(n *html.Node, selector string) []*html.Node {
	if n == nil {
		return nil
	}
	return goquery.NewDocumentFromNode(n).Find(selector).Nodes
}

// QueryFirst returns the first descendant of n matching selector, or nil.
func QueryFirst(n *html.Node, selector string) *html.Node {
	if nodes := Query(n, selector); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// NewElement builds a detached element with the given attributes. Attribute
// order follows keys as given to keep rendering stable.
func NewElement(tag string, attrs [][2]string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for _, kv := range attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: kv[0], Val: kv[1]})
	}
	return n
}

// Attr returns the value of an attribute.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries the attribute.
func HasAttr(n *html.Node, key string) bool {
	_, ok := Attr(n, key)
	return ok
}

// SetAttr sets or adds an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// Classes returns the class list of n.
func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

// HasClass reports whether n has the class.
func HasClass(n *html.Node, class string) bool {
	for _, c := range Classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass adds classes that are not yet present.
func AddClass(n *html.Node, classes ...string) {
	list := Classes(n)
	for _, c := range classes {
		if c != "" && !HasClass(n, c) {
			list = append(list, c)
			SetAttr(n, "class", strings.Join(list, " "))
		}
	}
}

// RemoveClass removes classes, dropping the attribute when it becomes empty.
func RemoveClass(n *html.Node, classes ...string) {
	drop := make(map[string]bool, len(classes))
	for _, c := range classes {
		drop[c] = true
	}
	var keep []string
	for _, c := range Classes(n) {
		if !drop[c] {
			keep = append(keep, c)
		}
	}
	if len(keep) == 0 {
		RemoveAttr(n, "class")
		return
	}
	SetAttr(n, "class", strings.Join(keep, " "))
}

// Remove detaches n from its parent.
func Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ReplaceWith puts repl where old is. repl is detached from wherever it
// lives first; old ends up detached.
func ReplaceWith(old, repl *html.Node) error {
	if old.Parent == nil {
		return fmt.Errorf("replace: node <%s> is not attached", old.Data)
	}
	Remove(repl)
	old.Parent.InsertBefore(repl, old)
	old.Parent.RemoveChild(old)
	return nil
}

// Contains reports whether n is root or one of its descendants.
func Contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// TextContent returns the concatenated text under n.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// SetText replaces the children of n with a single text node.
func SetText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

// Clone deep-copies n. The copy is detached.
func Clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(Clone(ch))
	}
	return c
}

// OuterHTML renders n including its own tag.
func OuterHTML(n *html.Node) string {
	var buf bytes.Buffer
	if n.Type == html.DocumentNode {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			html.Render(&buf, c)
		}
		return buf.String()
	}
	html.Render(&buf, n)
	return buf.String()
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		html.Render(&buf, c)
	}
	return buf.String()
}
