package nav

import "errors"

var (
	// ErrStale marks work superseded by a later navigation.
	ErrStale = errors.New("navigation is outdated")
	// ErrProtocol marks a malformed or unexpected server response.
	ErrProtocol = errors.New("page protocol error")
	// ErrStatus marks an unsuccessful response status.
	ErrStatus = errors.New("unexpected response status")
	// ErrStructural marks a missing required element.
	ErrStructural = errors.New("page structure error")
	// ErrAuthChanged marks a change of authentication state between pages.
	ErrAuthChanged = errors.New("authentication state changed")
	// ErrReloadRequested marks a server request for a full navigation.
	ErrReloadRequested = errors.New("server requested full navigation")
	// ErrNotStarted is returned when the engine has no current page.
	ErrNotStarted = errors.New("website is not started")
	// ErrConfig marks an invalid engine configuration.
	ErrConfig = errors.New("invalid configuration")
)
