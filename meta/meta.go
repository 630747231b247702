// Package meta computes the document changes a committed navigation
// implies: head tags, body class and the history operation. It does not
// touch a document; callers apply the results.
package meta

import (
	"strings"

	"pagenav/model"
)

// Tag is a desired head element, identified by its id attribute. An empty
// Value means the element must not exist.
type Tag struct {
	ID        string
	Element   string // "meta" or "link"
	KeyAttr   string // "name", "property" or "rel"
	Key       string
	ValueAttr string // "content" or "href"
	Value     string
}

// Attrs returns the attributes a new element for t carries, in order.
func (t Tag) Attrs() [][2]string {
	return [][2]string{
		{"id", t.ID},
		{t.KeyAttr, t.Key},
		{t.ValueAttr, t.Value},
	}
}

var ogProperties = []struct {
	name  string
	value func(*model.OpenGraph) string
}{
	{"type", func(og *model.OpenGraph) string { return og.Type }},
	{"title", func(og *model.OpenGraph) string { return og.Title }},
	{"image", func(og *model.OpenGraph) string { return og.Image }},
	{"url", func(og *model.OpenGraph) string { return og.URL }},
	{"site_name", func(og *model.OpenGraph) string { return og.SiteName }},
	{"description", func(og *model.OpenGraph) string { return og.Description }},
}

// Tags returns every head tag the engine manages, with values taken from m.
func Tags(m *model.Navigation) []Tag {
	if m == nil {
		m = &model.Navigation{}
	}
	tags := []Tag{
		{ID: "page-meta-description", Element: "meta", KeyAttr: "name", Key: "description", ValueAttr: "content", Value: m.Description},
		{ID: "page-meta-keywords", Element: "meta", KeyAttr: "name", Key: "keywords", ValueAttr: "content", Value: m.Keywords},
		{ID: "page-link-canonical", Element: "link", KeyAttr: "rel", Key: "canonical", ValueAttr: "href", Value: m.CanonicalLink},
	}
	og := m.OpenGraph
	if og == nil {
		og = &model.OpenGraph{}
	}
	for _, p := range ogProperties {
		tags = append(tags, Tag{
			ID:        "og-" + p.name,
			Element:   "meta",
			KeyAttr:   "property",
			Key:       "og:" + p.name,
			ValueAttr: "content",
			Value:     p.value(og),
		})
	}
	return tags
}

// BodyClass returns the class to remove from and the class to add to the
// body when moving from prev to next. Both are empty when nothing changes.
func BodyClass(prev, next *model.Navigation) (remove, add string) {
	var p, n string
	if prev != nil {
		p = prev.BodyClass
	}
	if next != nil {
		n = next.BodyClass
	}
	if p == n {
		return "", ""
	}
	return p, n
}

// HistoryOp is the history API call a navigation needs.
type HistoryOp int

const (
	HistoryNone HistoryOp = iota
	HistoryPush
	HistoryReplace
)

func (op HistoryOp) String() string {
	switch op {
	case HistoryPush:
		return "push"
	case HistoryReplace:
		return "replace"
	default:
		return "none"
	}
}

// HistoryInput describes a committed navigation.
type HistoryInput struct {
	URL      string // target, without fragment
	Hash     string
	Href     string // browser location before the commit
	First    bool
	PopState bool
	Replace  bool
}

// HistoryAction is what to do to the browser.
type HistoryAction struct {
	Op        HistoryOp
	SetHash   bool
	ScrollTop bool
	Replace   bool // effective replace semantics
}

// DecideHistory applies the history rules: first loads and navigations to
// the current location replace; pop-state navigations never touch history;
// a fragment on the current location is set through the hash alone, while
// a fragment on another URL travels with the pushed or replaced entry; only
// pushes scroll to the origin.
func DecideHistory(in HistoryInput) HistoryAction {
	replace := in.Replace || in.First || sameURL(in.URL, in.Href)
	a := HistoryAction{Replace: replace}
	if in.First || in.PopState {
		return a
	}
	// setting only the hash on another URL would keep the old path in
	// the location, so the full href is pushed or replaced instead
	if in.Hash != "" && sameURL(in.URL, in.Href) {
		a.SetHash = true
	} else if replace {
		a.Op = HistoryReplace
	} else {
		a.Op = HistoryPush
	}
	a.ScrollTop = !replace
	return a
}

func sameURL(target, href string) bool {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	return target == href
}
