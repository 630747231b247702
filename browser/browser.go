// Package browser abstracts the browser side effects the navigation engine
// performs: location changes, history entries and scrolling.
package browser

// Browser is the window the engine drives.
type Browser interface {
	// Href returns the full current URL, fragment included.
	Href() string
	// Assign performs a full navigation that adds a history entry.
	Assign(url string)
	// Replace performs a full navigation replacing the current entry.
	Replace(url string)
	// Reload reloads the current document.
	Reload()
	// SetHash sets the fragment of the current URL ("" clears it).
	SetHash(hash string)
	// CanPushState reports whether the history API is usable.
	CanPushState() bool
	PushState(title, url string)
	ReplaceState(title, url string)
	ScrollTo(x, y int)
	// OnPopState registers fn for back/forward traversals.
	OnPopState(fn func()) (off func())
}
