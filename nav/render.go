package nav

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/net/html"

	"pagenav/dom"
	"pagenav/model"
	"pagenav/page"
	"pagenav/registry"
	"pagenav/session"
)

// renderPage materialises the page for m and commits it. A nil m re-renders
// the current page from frag with the current model, as after a form
// submission. A nil frag renders the content root already in the document.
func (e *Engine) renderPage(ctx context.Context, seq uint64, current *Entry, in Intent, m *model.Navigation, frag *html.Node) (Outcome, error) {
	nav := m
	if nav == nil {
		if current == nil {
			return OutcomeNone, ErrNotStarted
		}
		nav = current.Model
	}

	factory, err := e.resolvePage(ctx, nav.PageType())
	if err != nil {
		return OutcomeNone, err
	}
	if e.seq.IsStale(seq) {
		return OutcomeStale, ErrStale
	}

	e.mu.Lock()
	if e.seq.IsStale(seq) {
		e.mu.Unlock()
		return OutcomeStale, ErrStale
	}
	contentID := e.cfg.Protocol.ContentID
	var oldRoot, newRoot *html.Node
	if frag != nil {
		newRoot = dom.GetElementByID(frag, contentID)
		if newRoot == nil {
			e.mu.Unlock()
			return OutcomeNone, fmt.Errorf("%w: content root #%s not found in response", ErrProtocol, contentID)
		}
		if current != nil && current.Page != nil {
			oldRoot = current.Page.Root()
		} else {
			oldRoot = e.doc.GetElementByID(contentID)
		}
	} else {
		newRoot = e.doc.GetElementByID(contentID)
		if newRoot == nil {
			e.mu.Unlock()
			return OutcomeNone, fmt.Errorf("%w: content root #%s not found", ErrStructural, contentID)
		}
	}
	if current != nil && current.Page != nil {
		current.Page.Destroy()
	}
	p, err := page.New(e.pageEnv(), nav, newRoot, factory)
	e.mu.Unlock()
	if err != nil {
		return OutcomeNone, err
	}

	hash := in.Hash
	if m == nil {
		hash = current.Hash
	}
	if err := p.Render(ctx, hash); err != nil {
		p.Destroy()
		return OutcomeNone, err
	}

	e.mu.Lock()
	if e.seq.IsStale(seq) {
		e.mu.Unlock()
		p.Destroy()
		return OutcomeStale, ErrStale
	}
	var scripts []dom.Script
	if frag != nil {
		if oldRoot == nil {
			e.mu.Unlock()
			p.Destroy()
			return OutcomeNone, fmt.Errorf("%w: content root #%s not found", ErrStructural, contentID)
		}
		if err := dom.ReplaceWith(oldRoot, newRoot); err != nil {
			e.mu.Unlock()
			p.Destroy()
			return OutcomeNone, fmt.Errorf("%w: %v", ErrStructural, err)
		}
		scripts = dom.RefreshScripts(newRoot)
	}
	var entry *Entry
	if m != nil {
		entry = e.commit(seq, current, in, m, p)
	} else {
		current.Page = p
	}
	e.mu.Unlock()

	dom.RunScripts(scripts, e.scripts)
	if entry != nil {
		e.record(ctx, entry)
	}
	e.logger.Debug("page rendered", "seq", seq, "page", p.Type(), "id", p.ID)
	return OutcomeCommitted, nil
}

// resolvePage returns the factory for a page type, applying the configured
// default. The generic page serves when neither names one.
func (e *Engine) resolvePage(ctx context.Context, name string) (page.Factory, error) {
	if name == "" {
		name = e.cfg.Navigation.DefaultPage
	}
	if name == "" {
		return page.Generic, nil
	}
	f, err := e.pages.Load(ctx, name)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: page type %q is not registered", ErrProtocol, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading page type %q: %w", name, err)
	}
	return f, nil
}

func (e *Engine) record(ctx context.Context, entry *Entry) {
	if e.journal == nil {
		return
	}
	err := e.journal.Record(ctx, session.Entry{
		Sequence: entry.Sequence,
		URL:      entry.URL,
		Hash:     entry.Hash,
		Title:    entry.Model.Title,
		PageType: entry.Model.PageType(),
	})
	if err != nil {
		e.logger.Warn("recording navigation failed", "url", entry.URL, "error", err)
	}
}
