// Package nav is the navigation engine: it turns navigation intents into
// page transitions, swapping content roots fetched from the server, keeping
// history and head metadata in step and owning the lifecycle of the live
// page.
package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"pagenav/browser"
	"pagenav/config"
	"pagenav/dom"
	"pagenav/fetcher"
	"pagenav/page"
	"pagenav/progress"
	"pagenav/registry"
	"pagenav/sequence"
	"pagenav/session"
)

// Journal receives every committed navigation.
type Journal interface {
	Record(ctx context.Context, e session.Entry) error
}

// Engine drives navigation for one document.
type Engine struct {
	cfg      *config.Config
	doc      *dom.Document
	browser  browser.Browser
	pages    *registry.Registry[page.Factory]
	widgets  *registry.Registry[page.WidgetFactory]
	progress *progress.Indicator
	scripts  dom.ScriptRunner
	journal  Journal
	client   *http.Client
	logger   *slog.Logger

	seq   sequence.Sequencer
	queue *fetcher.Queue

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards current and every DOM and browser mutation
	mu      sync.Mutex
	current *Entry
	started bool
	offs    []func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the configuration (default: config.Default()).
func WithConfig(c *config.Config) Option {
	return func(e *Engine) { e.cfg = c }
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPages sets the page type registry.
func WithPages(r *registry.Registry[page.Factory]) Option {
	return func(e *Engine) { e.pages = r }
}

// WithWidgets sets the widget registry.
func WithWidgets(r *registry.Registry[page.WidgetFactory]) Option {
	return func(e *Engine) { e.widgets = r }
}

// WithProgress sets the progress indicator.
func WithProgress(p *progress.Indicator) Option {
	return func(e *Engine) { e.progress = p }
}

// WithScriptRunner sets what runs scripts found in swapped-in content.
func WithScriptRunner(r dom.ScriptRunner) Option {
	return func(e *Engine) { e.scripts = r }
}

// WithJournal records committed navigations.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithHTTPClient sets the client used by every request queue.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// New creates an engine for doc, driving b. The engine does nothing until
// Start is called.
func New(doc *dom.Document, b browser.Browser, opts ...Option) (*Engine, error) {
	if doc == nil || b == nil {
		return nil, fmt.Errorf("%w: document and browser are required", ErrConfig)
	}
	e := &Engine{doc: doc, browser: b}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.Default()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.pages == nil {
		e.pages = registry.New[page.Factory]()
	}
	if e.widgets == nil {
		e.widgets = registry.New[page.WidgetFactory]()
	}
	if e.progress == nil {
		e.progress = progress.New(e.cfg.ProgressOptions(), nil, nil)
	}
	if def := e.cfg.Navigation.DefaultPage; def != "" && !e.pages.Has(def) {
		return nil, fmt.Errorf("%w: default page type %q is not registered", ErrConfig, def)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.queue = fetcher.NewQueue(e.queueOptions())
	return e, nil
}

func (e *Engine) queueOptions() fetcher.Options {
	o := e.cfg.FetcherOptions()
	o.Client = e.client
	o.Prepare = e.prepareRequest
	return o
}

// prepareRequest annotates every outgoing request.
func (e *Engine) prepareRequest(req *fetcher.Request) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Method == "" || req.Method == http.MethodGet {
		return
	}
	if token := e.ValidationToken(); token != "" && e.cfg.Antiforgery.HeaderName != "" {
		req.Header.Set(e.cfg.Antiforgery.HeaderName, token)
	}
}

// Start subscribes to the browser and runs the first-load navigation from
// the payload embedded in the document. Its error is fatal: the engine has
// no page to fall back to.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	if e.browser.CanPushState() {
		e.offs = append(e.offs, e.browser.OnPopState(func() {
			if _, err := e.HandlePopState(e.ctx); err != nil {
				e.logger.Error("popstate navigation failed", "error", err)
			}
		}))
	}
	if body := e.doc.Body(); body != nil {
		ev := e.doc.Events()
		e.offs = append(e.offs, ev.On(body, "invalid", func(ev *dom.Event, _ *html.Node) {
			ev.PreventDefault()
			dom.AddClass(ev.Target, "invalid")
			if dom.HasAttr(ev.Target, "required") {
				dom.AddClass(ev.Target, "invalid-required")
			}
		}))
		e.offs = append(e.offs, ev.On(body, "change", func(ev *dom.Event, _ *html.Node) {
			dom.RemoveClass(ev.Target, "invalid", "invalid-required")
		}))
	}
	e.mu.Unlock()

	in := ParseIntent(e.browser.Href(), SourceFirst)
	_, err := e.Navigate(ctx, in)
	return err
}

// Close destroys the live page and stops all requests.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	offs := e.offs
	e.offs = nil
	var p *page.Page
	if e.current != nil {
		p = e.current.Page
	}
	e.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if p != nil {
		p.Destroy()
	}
	e.queue.Destroy()
	e.progress.Hide()
}

// Current returns a copy of the committed entry, or nil before the first
// commit.
func (e *Engine) Current() *Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	c := *e.current
	return &c
}

// ValidationToken returns the antiforgery token of the current model.
func (e *Engine) ValidationToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.Model == nil {
		return ""
	}
	return e.current.Model.ValidationToken
}

// Document returns the document the engine mutates. Callers reading it
// concurrently with navigations must hold View.
func (e *Engine) Document() *dom.Document { return e.doc }

// View runs fn while no navigation mutates the document.
func (e *Engine) View(fn func(doc *dom.Document, current *Entry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.doc, e.current)
}

// HandlePopState navigates to the browser's location after a history
// traversal.
func (e *Engine) HandlePopState(ctx context.Context) (Outcome, error) {
	e.logger.Debug("popstate", "url", e.browser.Href())
	return e.Navigate(ctx, ParseIntent(e.browser.Href(), SourcePopState))
}

// Navigate performs in. Only recoverable failures end in a full browser
// navigation; a first-load failure, or the caller's context ending before
// the current page was torn down, is returned as an error.
func (e *Engine) Navigate(ctx context.Context, in Intent) (Outcome, error) {
	target, external, err := e.resolve(in.URL)
	if err != nil {
		return OutcomeNone, err
	}
	in.URL = target

	e.mu.Lock()
	current := e.current
	seq := e.seq.Next()
	e.mu.Unlock()

	log := e.logger.With("seq", seq, "url", in.URL)
	e.progress.Show()
	defer e.progress.Hide()
	e.queue.Reset()

	if in.Source == SourceExternal || external || !e.browser.CanPushState() {
		e.forceNav(in, external)
		log.Debug("navigation handed to browser")
		return OutcomeFallback, nil
	}

	if current != nil && (current.Hash != "" || in.Hash != "") && strings.EqualFold(current.URL, in.URL) {
		if out, ok := e.changeHash(seq, current, in); ok {
			log.Debug("hash navigation", "hash", in.Hash, "outcome", out)
			return out, nil
		}
		// an abandoned render already tore the page down
		log.Debug("hash navigation needs a new page", "hash", in.Hash)
	}

	out, err := e.navigateContent(ctx, seq, current, in)
	switch {
	case err == nil:
		log.Debug("navigation finished", "outcome", out)
		return out, nil
	case errors.Is(err, ErrStale) || e.seq.IsStale(seq):
		log.Debug("navigation outdated")
		return OutcomeStale, nil
	case ctx.Err() != nil && e.pageAlive(current):
		return OutcomeNone, ctx.Err()
	case in.Source == SourceFirst:
		return OutcomeNone, fmt.Errorf("first navigation: %w", err)
	}

	if errors.Is(err, ErrReloadRequested) || errors.Is(err, ErrAuthChanged) {
		log.Info("full navigation required", "error", err)
	} else {
		log.Warn("navigation failed, falling back", "error", err)
	}
	if err := e.locked(seq, func() { e.forceNav(in, false) }); err != nil {
		return OutcomeStale, nil
	}
	return OutcomeFallback, nil
}

// forceNav hands in to the browser as a full navigation.
func (e *Engine) forceNav(in Intent, external bool) {
	if in.Replace && !external && in.Source != SourceExternal {
		e.browser.Replace(in.Href())
	} else {
		e.browser.Assign(in.Href())
	}
}

// locked runs fn under the engine lock unless seq is outdated.
func (e *Engine) locked(seq uint64, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq.IsStale(seq) {
		return ErrStale
	}
	fn()
	return nil
}

// alive reports whether current still has a live page. Once a render has
// destroyed it, only a new page or a full navigation can recover.
func alive(current *Entry) bool {
	return current == nil || current.Page == nil || !current.Page.Destroyed()
}

func (e *Engine) pageAlive(current *Entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return alive(current)
}

// changeHash applies a hash-only transition to the current page. It
// reports false when that page is gone and a content navigation is needed.
func (e *Engine) changeHash(seq uint64, current *Entry, in Intent) (Outcome, bool) {
	e.mu.Lock()
	if e.seq.IsStale(seq) || e.current != current {
		e.mu.Unlock()
		return OutcomeStale, true
	}
	if !alive(current) {
		e.mu.Unlock()
		return OutcomeNone, false
	}
	if strings.EqualFold(current.Hash, in.Hash) {
		e.mu.Unlock()
		return OutcomeHash, true
	}
	// a traversal already moved the browser
	if in.Source != SourcePopState {
		e.browser.SetHash(in.Hash)
	}
	current.Hash = in.Hash
	p := current.Page
	e.mu.Unlock()

	if p != nil {
		p.ChangedHash(in.Hash)
	}
	return OutcomeHash, true
}

// resolve makes raw absolute against the browser location and reports
// whether it leaves the site.
func (e *Engine) resolve(raw string) (string, bool, error) {
	base, err := url.Parse(e.browser.Href())
	if err != nil {
		return "", false, fmt.Errorf("parsing location: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parsing url %q: %w", raw, err)
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	u.RawFragment = ""
	external := !strings.EqualFold(u.Host, base.Host) || (u.Scheme != "http" && u.Scheme != "https")
	return u.String(), external, nil
}

// RenderComponents mounts widgets on unclaimed elements of p, or of the
// current page when p is nil.
func (e *Engine) RenderComponents(ctx context.Context, p *page.Page) (int, error) {
	if p == nil {
		e.mu.Lock()
		if e.current != nil {
			p = e.current.Page
		}
		e.mu.Unlock()
	}
	if p == nil {
		return 0, nil
	}
	return p.MountWidgets(ctx)
}

func (e *Engine) pageEnv() page.Env {
	return page.Env{
		Context: e.ctx,
		Events:  e.doc.Events(),
		Widgets: e.widgets,
		Queue:   e.queueOptions(),
		Submit: func(ctx context.Context, form *html.Node) error {
			_, err := e.Submit(ctx, SubmitRequest{Form: form})
			return err
		},
		Logger: e.logger,
	}
}
