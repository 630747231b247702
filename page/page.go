// Package page implements the page object: one rendered view owning its
// content root, a private request queue, destroy callbacks and the widgets
// mounted inside it.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/net/html"

	"pagenav/dom"
	"pagenav/fetcher"
	"pagenav/model"
	"pagenav/registry"
)

const (
	// ScriptAttr names the widget to mount on an element.
	ScriptAttr = "data-content-script"
	// ClaimedAttr marks an element that already has a widget.
	ClaimedAttr = "data-ui-element"
)

var (
	ErrDestroyed = errors.New("page destroyed")
	ErrNoForm    = errors.New("no form to submit")
)

// Behavior is the type-specific part of a page, selected by page.type.
type Behavior interface {
	// RenderContent runs once, after listeners and widgets are in place.
	RenderContent(ctx context.Context, p *Page) error
	ChangedHash(p *Page, newHash, oldHash string)
	// Submitted handles a successful non-HTML form response.
	Submitted(ctx context.Context, p *Page, resp *fetcher.Response) error
}

// Base is a Behavior that does nothing; embed it to override selectively.
type Base struct{}

func (Base) RenderContent(context.Context, *Page) error { return nil }

func (Base) ChangedHash(*Page, string, string) {}

func (Base) Submitted(context.Context, *Page, *fetcher.Response) error { return nil }

// Factory constructs the behaviour for a new page.
type Factory func(p *Page) (Behavior, error)

// Generic is the factory used when no page type applies.
func Generic(*Page) (Behavior, error) { return Base{}, nil }

// Widget is a component mounted on an element inside a page.
type Widget interface {
	Render(ctx context.Context) error
	Destroy()
}

// WidgetFactory constructs a widget for elem.
type WidgetFactory func(elem *html.Node, p *Page) (Widget, error)

// Env is what a page borrows from the engine.
type Env struct {
	// Context outlives single navigations; listener-driven work runs on it.
	Context context.Context
	Events  *dom.Events
	Widgets *registry.Registry[WidgetFactory]
	Queue   fetcher.Options
	// Submit sends a form on behalf of the page.
	Submit func(ctx context.Context, form *html.Node) error
	Logger *slog.Logger
}

// Page is one rendered view.
type Page struct {
	ID    string
	Model *model.Navigation

	env      Env
	root     *html.Node
	queue    *fetcher.Queue
	behavior Behavior

	rendered  atomic.Bool
	destroyed atomic.Bool

	mu         sync.Mutex
	hash       string
	destroyFns []func()
	widgets    []Widget
}

// New constructs a page for root. The page is not rendered yet.
func New(env Env, m *model.Navigation, root *html.Node, factory Factory) (*Page, error) {
	if env.Context == nil {
		env.Context = context.Background()
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if factory == nil {
		factory = Generic
	}
	p := &Page{
		ID:    uuid.NewString(),
		Model: m,
		env:   env,
		root:  root,
		queue: fetcher.NewQueue(env.Queue),
	}
	b, err := factory(p)
	if err != nil {
		p.queue.Destroy()
		return nil, fmt.Errorf("constructing page %q: %w", m.PageType(), err)
	}
	p.behavior = b
	return p, nil
}

// Root returns the content root element.
func (p *Page) Root() *html.Node { return p.root }

// Queue returns the page's own request queue.
func (p *Page) Queue() *fetcher.Queue { return p.queue }

// Behavior returns the type-specific behaviour.
func (p *Page) Behavior() Behavior { return p.behavior }

// Type returns the page type from the model.
func (p *Page) Type() string { return p.Model.PageType() }

// Hash returns the fragment the page currently shows.
func (p *Page) Hash() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hash
}

func (p *Page) Rendered() bool  { return p.rendered.Load() }
func (p *Page) Destroyed() bool { return p.destroyed.Load() }

// Render attaches listeners, mounts widgets and renders the behaviour.
// Only the first call does anything.
func (p *Page) Render(ctx context.Context, hash string) error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	if !p.rendered.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	p.hash = hash
	p.mu.Unlock()

	if _, err := p.MountWidgets(ctx); err != nil {
		return err
	}
	if err := p.behavior.RenderContent(ctx, p); err != nil {
		return fmt.Errorf("rendering page %q: %w", p.Type(), err)
	}
	p.listen()
	return nil
}

func (p *Page) listen() {
	ev := p.env.Events
	if ev == nil {
		return
	}
	p.OnDestroy(ev.On(p.root, "submit", func(e *dom.Event, _ *html.Node) {
		e.PreventDefault()
		form := dom.ClosestForm(e.Target)
		if err := p.Submit(p.env.Context, form); err != nil {
			p.env.Logger.Warn("page submit failed", "page", p.ID, "error", err)
		}
	}))
	p.OnDestroy(ev.On(p.root, "invalid", func(e *dom.Event, _ *html.Node) {
		e.PreventDefault()
		dom.AddClass(e.Target, "invalid")
		if dom.HasAttr(e.Target, "data-val-required") {
			dom.AddClass(e.Target, "invalid-required")
		}
	}))
	p.OnDestroy(ev.On(p.root, "change", func(e *dom.Event, _ *html.Node) {
		dom.RemoveClass(e.Target, "invalid")
		if dom.HasAttr(e.Target, "data-val-required") {
			dom.RemoveClass(e.Target, "invalid-required")
		}
	}))
}

// MountWidgets mounts a widget on every unclaimed element under the root
// that names one. Unknown names are skipped. It returns how many widgets
// were mounted.
func (p *Page) MountWidgets(ctx context.Context) (int, error) {
	if p.env.Widgets == nil {
		return 0, nil
	}
	mounted := 0
	for _, elem := range dom.Query(p.root, "["+ScriptAttr+"]") {
		if dom.HasAttr(elem, ClaimedAttr) {
			continue
		}
		name, _ := dom.Attr(elem, ScriptAttr)
		if name == "" {
			continue
		}
		factory, err := p.env.Widgets.Load(ctx, name)
		if errors.Is(err, registry.ErrNotFound) {
			p.env.Logger.Debug("unknown widget", "widget", name, "page", p.ID)
			continue
		}
		if err != nil {
			return mounted, err
		}
		// loading may have outlived the page
		if p.destroyed.Load() {
			return mounted, ErrDestroyed
		}
		w, err := factory(elem, p)
		if err != nil {
			return mounted, fmt.Errorf("constructing widget %q: %w", name, err)
		}
		dom.SetAttr(elem, ClaimedAttr, name)
		if !p.Own(w) {
			return mounted, ErrDestroyed
		}
		if err := w.Render(ctx); err != nil {
			return mounted, fmt.Errorf("rendering widget %q: %w", name, err)
		}
		mounted++
	}
	return mounted, nil
}

// Own makes w part of the page; it is destroyed with it. A widget handed
// to an already destroyed page is destroyed immediately and Own reports
// false.
func (p *Page) Own(w Widget) bool {
	p.mu.Lock()
	if p.destroyed.Load() {
		p.mu.Unlock()
		w.Destroy()
		return false
	}
	p.widgets = append(p.widgets, w)
	p.mu.Unlock()
	return true
}

// Widgets returns the mounted widgets.
func (p *Page) Widgets() []Widget {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Widget(nil), p.widgets...)
}

// OnDestroy registers fn to run when the page is destroyed.
func (p *Page) OnDestroy(fn func()) {
	p.mu.Lock()
	if p.destroyed.Load() {
		p.mu.Unlock()
		fn()
		return
	}
	p.destroyFns = append(p.destroyFns, fn)
	p.mu.Unlock()
}

// ChangedHash records the new fragment and notifies the behaviour.
func (p *Page) ChangedHash(newHash string) {
	if p.destroyed.Load() {
		return
	}
	p.mu.Lock()
	old := p.hash
	p.hash = newHash
	p.mu.Unlock()
	p.behavior.ChangedHash(p, newHash, old)
}

// Submitted passes a non-HTML submit response to the behaviour.
func (p *Page) Submitted(ctx context.Context, resp *fetcher.Response) error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	return p.behavior.Submitted(ctx, p, resp)
}

// Submit sends form, or the first form of the page when form is nil.
func (p *Page) Submit(ctx context.Context, form *html.Node) error {
	if p.destroyed.Load() {
		return ErrDestroyed
	}
	if form == nil {
		form = dom.QueryFirst(p.root, "form")
	}
	if form == nil || p.env.Submit == nil {
		return ErrNoForm
	}
	return p.env.Submit(ctx, form)
}

// BuildURL returns the page path with the model query overlaid by params.
func (p *Page) BuildURL(params map[string]string) string {
	q := p.Model.QueryValues()
	for k, v := range params {
		q.Set(k, v)
	}
	u := url.URL{Path: p.Model.Path, RawQuery: q.Encode()}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// Destroy tears the page down: widgets, destroy callbacks, then the
// request queue. Later calls do nothing.
func (p *Page) Destroy() {
	p.mu.Lock()
	if !p.destroyed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	widgets, fns := p.widgets, p.destroyFns
	p.widgets, p.destroyFns = nil, nil
	p.mu.Unlock()

	for _, w := range widgets {
		w.Destroy()
	}
	for _, fn := range fns {
		fn()
	}
	p.queue.Destroy()
}
