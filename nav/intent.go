package nav

import (
	"strings"

	"pagenav/model"
	"pagenav/page"
)

// Source tells where a navigation intent came from.
type Source string

const (
	SourceLink     Source = "link"
	SourceForm     Source = "form"
	SourcePopState Source = "popstate"
	SourceFirst    Source = "first-load"
	SourceExternal Source = "external"
)

// Intent is a requested transition. It is passed by value and not changed
// once dispatched.
type Intent struct {
	URL     string // without fragment; relative URLs resolve against the browser location
	Hash    string // without '#'
	Replace bool
	Source  Source
	Data    map[string]any
}

// ParseIntent splits raw into URL and fragment.
func ParseIntent(raw string, source Source) Intent {
	in := Intent{URL: raw, Source: source}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		in.URL, in.Hash = raw[:i], raw[i+1:]
	}
	return in
}

// Href returns the URL with its fragment.
func (in Intent) Href() string {
	if in.Hash == "" {
		return in.URL
	}
	return in.URL + "#" + in.Hash
}

// Entry is the committed navigation.
type Entry struct {
	URL      string
	Hash     string
	Model    *model.Navigation
	Page     *page.Page
	Sequence uint64
	Intent   Intent
}

// Outcome reports how a navigation ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeCommitted: a new page was rendered and committed.
	OutcomeCommitted
	// OutcomeHash: only the fragment changed.
	OutcomeHash
	// OutcomeStale: superseded by a later navigation; nothing happened.
	OutcomeStale
	// OutcomeFallback: handed to the browser as a full navigation.
	OutcomeFallback
	// OutcomeRedirect: the server redirected, softly or hard.
	OutcomeRedirect
	// OutcomeReload: the server asked for a page reload.
	OutcomeReload
	// OutcomeSubmitted: a form response went to the page's submitted hook.
	OutcomeSubmitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeHash:
		return "hash"
	case OutcomeStale:
		return "stale"
	case OutcomeFallback:
		return "fallback"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeReload:
		return "reload"
	case OutcomeSubmitted:
		return "submitted"
	default:
		return "none"
	}
}
