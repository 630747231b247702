package nav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/net/html"

	"pagenav/dom"
	"pagenav/fetcher"
	"pagenav/model"
)

func (e *Engine) navigateContent(ctx context.Context, seq uint64, current *Entry, in Intent) (Outcome, error) {
	if in.Source == SourceFirst {
		m, err := e.firstModel(seq)
		if err != nil {
			return OutcomeNone, err
		}
		return e.renderPage(ctx, seq, current, in, m, nil)
	}

	resp, err := minWait(ctx, e.cfg.NavMinTime(), func(ctx context.Context) (*fetcher.Response, error) {
		return e.queue.Enqueue(ctx, e.navRequest(seq, current, in))
	})
	if e.seq.IsStale(seq) {
		return OutcomeStale, ErrStale
	}
	if err != nil {
		return OutcomeNone, fmt.Errorf("fetching page: %w", err)
	}

	if resp.Status != http.StatusOK && resp.Type != fetcher.TypeHTML {
		return OutcomeNone, fmt.Errorf("%w: %d", ErrStatus, resp.Status)
	}
	if e.hasHeader(resp, e.cfg.Protocol.ReloadHeader) {
		return OutcomeNone, ErrReloadRequested
	}
	if out, handled, err := e.processSignals(ctx, seq, resp); handled || err != nil {
		return out, err
	}
	if resp.Type != fetcher.TypeHTML {
		return OutcomeNone, fmt.Errorf("%w: response is %q, not html", ErrProtocol, resp.Header.Get("Content-Type"))
	}

	frag, m, err := e.parseFragment(resp)
	if err != nil {
		return OutcomeNone, err
	}
	if current != nil && current.Model != nil && current.Model.IsAuthenticated != m.IsAuthenticated {
		return OutcomeNone, ErrAuthChanged
	}
	return e.renderPage(ctx, seq, current, in, m, frag)
}

// firstModel reads the navigation payload embedded in the document and
// removes it.
func (e *Engine) firstModel(seq uint64) (*model.Navigation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq.IsStale(seq) {
		return nil, ErrStale
	}
	elem := e.doc.GetElementByID(e.cfg.Protocol.NavDataID)
	if elem == nil {
		return nil, fmt.Errorf("%w: first navigation data #%s not found", ErrStructural, e.cfg.Protocol.NavDataID)
	}
	m, err := model.Parse([]byte(dom.TextContent(elem)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	dom.Remove(elem)
	return m, nil
}

func (e *Engine) navRequest(seq uint64, current *Entry, in Intent) fetcher.Request {
	p := e.cfg.Protocol
	h := http.Header{}
	h.Set(p.StateHeader, stateToken(current))
	return fetcher.Request{
		Method:       http.MethodGet,
		URL:          in.URL,
		Query:        url.Values{p.CacheBustParam: {strconv.FormatUint(seq, 10)}},
		Header:       h,
		DisableCache: true,
	}
}

func stateToken(current *Entry) string {
	if current == nil || current.Model == nil {
		return ""
	}
	return current.Model.State
}

func (e *Engine) hasHeader(resp *fetcher.Response, name string) bool {
	if name == "" {
		return false
	}
	_, ok := resp.Header[http.CanonicalHeaderKey(name)]
	return ok
}

// processSignals acts on the action and redirect headers. handled reports
// that the response was consumed and the caller must stop.
func (e *Engine) processSignals(ctx context.Context, seq uint64, resp *fetcher.Response) (out Outcome, handled bool, err error) {
	p := e.cfg.Protocol
	if action := resp.Header.Get(p.ActionHeader); action != "" {
		switch action {
		case "reset", "reload":
			if err := e.locked(seq, e.browser.Reload); err != nil {
				return OutcomeStale, true, err
			}
			return OutcomeReload, true, nil
		default:
			return OutcomeNone, true, fmt.Errorf("%w: unknown page action %q", ErrProtocol, action)
		}
	}

	loc := resp.Header.Get(p.LocationHeader)
	if loc == "" {
		return OutcomeNone, false, nil
	}
	replace := e.hasHeader(resp, p.ReplaceHeader)
	if e.hasHeader(resp, p.ReloadHeader) {
		err := e.locked(seq, func() {
			if replace {
				e.browser.Replace(loc)
			} else {
				e.browser.Assign(loc)
			}
		})
		if err != nil {
			return OutcomeStale, true, err
		}
		return OutcomeRedirect, true, nil
	}

	if e.seq.IsStale(seq) {
		return OutcomeStale, true, ErrStale
	}
	in := ParseIntent(loc, SourceLink)
	in.Replace = replace
	if _, err := e.Navigate(ctx, in); err != nil {
		return OutcomeRedirect, true, fmt.Errorf("redirect to %s: %w", loc, err)
	}
	return OutcomeRedirect, true, nil
}

// parseFragment parses an html response into a detached fragment and takes
// the navigation model out of it.
func (e *Engine) parseFragment(resp *fetcher.Response) (*html.Node, *model.Navigation, error) {
	frag, err := dom.ParseFragment(resp.Text())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsing fragment: %v", ErrProtocol, err)
	}
	elem := dom.GetElementByID(frag, e.cfg.Protocol.NavDataID)
	if elem == nil {
		return nil, nil, fmt.Errorf("%w: navigation data #%s not found", ErrProtocol, e.cfg.Protocol.NavDataID)
	}
	m, err := model.Parse([]byte(dom.TextContent(elem)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	dom.Remove(elem)
	return frag, m, nil
}
