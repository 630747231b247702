package nav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"pagenav/dom"
	"pagenav/fetcher"
)

// SubmitRequest describes a form submission. URL and Method default to the
// form's action and method.
type SubmitRequest struct {
	Form   *html.Node
	URL    string
	Method string
}

// Submit sends a form through the current page's queue. An html response
// re-renders the page in place with the current model; any other successful
// response goes to the page's submitted hook. Unlike Navigate, failures are
// returned; only a re-render that already tore the page down ends in a full
// navigation.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (Outcome, error) {
	e.mu.Lock()
	current := e.current
	if current == nil || current.Page == nil {
		e.mu.Unlock()
		return OutcomeNone, ErrNotStarted
	}
	seq := e.seq.Next()
	e.mu.Unlock()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
		if req.Form != nil {
			method = dom.FormMethod(req.Form)
		}
	}
	target := req.URL
	if target == "" && req.Form != nil {
		target = dom.FormAction(req.Form)
	}
	if target == "" {
		target = current.URL
	}
	target, _, err := e.resolve(target)
	if err != nil {
		return OutcomeNone, err
	}

	log := e.logger.With("seq", seq, "url", target, "page", current.Page.ID)
	e.progress.Show()
	defer e.progress.Hide()

	queue := current.Page.Queue()
	queue.Reset()

	p := e.cfg.Protocol
	r := fetcher.Request{
		Method: method,
		URL:    target,
		Query:  current.Model.QueryValues(),
		Header: http.Header{},
	}
	r.Header.Set(p.StateHeader, stateToken(current))
	r.Header.Set(p.SubmitHeader, "true")
	if req.Form != nil {
		values := dom.FormValues(req.Form)
		if method == http.MethodGet {
			for k, vs := range values {
				r.Query[k] = vs
			}
		} else {
			r.Form = values
		}
	}
	if method != http.MethodGet {
		addFormToken(&r, e.cfg.Antiforgery.FormFieldName, current.Model.ValidationToken)
	}

	resp, err := minWait(ctx, e.cfg.SubmitMinTime(), func(ctx context.Context) (*fetcher.Response, error) {
		return queue.Enqueue(ctx, r)
	})
	if e.seq.IsStale(seq) {
		log.Debug("submit outdated")
		return OutcomeStale, nil
	}
	if err != nil {
		return OutcomeNone, fmt.Errorf("submitting form: %w", err)
	}

	switch resp.Status {
	case http.StatusOK, http.StatusCreated:
	default:
		return OutcomeNone, fmt.Errorf("%w: submit responded %d", ErrStatus, resp.Status)
	}

	if out, handled, err := e.processSignals(ctx, seq, resp); handled || err != nil {
		if errors.Is(err, ErrStale) {
			return OutcomeStale, nil
		}
		return out, err
	}

	if resp.Type == fetcher.TypeHTML {
		if len(resp.Data) == 0 {
			return OutcomeNone, fmt.Errorf("%w: submit response has no html", ErrProtocol)
		}
		frag, err := dom.ParseFragment(resp.Text())
		if err != nil {
			return OutcomeNone, fmt.Errorf("%w: parsing fragment: %v", ErrProtocol, err)
		}
		out, err := e.renderPage(ctx, seq, current, current.Intent, nil, frag)
		switch {
		case errors.Is(err, ErrStale):
			return OutcomeStale, nil
		case err != nil && !e.pageAlive(current):
			// the page was torn down for the re-render; reload it
			log.Warn("submit render failed, falling back", "error", err)
			if err := e.locked(seq, func() { e.forceNav(current.Intent, false) }); err != nil {
				return OutcomeStale, nil
			}
			return OutcomeFallback, nil
		}
		log.Debug("submit rendered", "outcome", out)
		return out, err
	}

	if err := current.Page.Submitted(ctx, resp); err != nil {
		return OutcomeNone, fmt.Errorf("handling submit response: %w", err)
	}
	log.Debug("submit handled", "status", resp.Status)
	return OutcomeSubmitted, nil
}

// addFormToken puts the antiforgery token into the form body under name
// unless the form already carries one.
func addFormToken(r *fetcher.Request, name, token string) {
	if name == "" || token == "" {
		return
	}
	if r.Form == nil {
		r.Form = url.Values{}
	}
	if !r.Form.Has(name) {
		r.Form.Set(name, token)
	}
}
