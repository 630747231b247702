package nav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"pagenav/browser"
	"pagenav/config"
	"pagenav/dom"
	"pagenav/fetcher"
	"pagenav/fragserver"
	"pagenav/page"
	"pagenav/registry"
	"pagenav/session"
)

// tracker records page lifecycle events across every page type.
type tracker struct {
	mu     sync.Mutex
	events []string
	hashes [][2]string
	subs   []*fetcher.Response
	// gates block RenderContent of a page type until closed.
	gates map[string]chan struct{}
	// entered is signalled when a gated render starts.
	entered chan string
}

func newTracker() *tracker {
	return &tracker{gates: make(map[string]chan struct{}), entered: make(chan string, 4)}
}

func (tr *tracker) add(ev string) {
	tr.mu.Lock()
	tr.events = append(tr.events, ev)
	tr.mu.Unlock()
}

func (tr *tracker) Events() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

func (tr *tracker) index(ev string) int {
	for i, e := range tr.Events() {
		if e == ev {
			return i
		}
	}
	return -1
}

func (tr *tracker) factory(name string) page.Factory {
	return func(p *page.Page) (page.Behavior, error) {
		tr.add("construct " + name)
		p.OnDestroy(func() { tr.add("destroy " + name) })
		return &trackedBehavior{tr: tr, name: name}, nil
	}
}

type trackedBehavior struct {
	page.Base
	tr   *tracker
	name string
}

func (b *trackedBehavior) RenderContent(ctx context.Context, p *page.Page) error {
	b.tr.mu.Lock()
	gate := b.tr.gates[b.name]
	b.tr.mu.Unlock()
	if gate != nil {
		b.tr.entered <- b.name
		<-gate
	}
	b.tr.add("render " + b.name)
	return nil
}

func (b *trackedBehavior) ChangedHash(p *page.Page, newHash, oldHash string) {
	b.tr.mu.Lock()
	b.tr.hashes = append(b.tr.hashes, [2]string{newHash, oldHash})
	b.tr.mu.Unlock()
}

func (b *trackedBehavior) Submitted(ctx context.Context, p *page.Page, resp *fetcher.Response) error {
	b.tr.mu.Lock()
	b.tr.subs = append(b.tr.subs, resp)
	b.tr.mu.Unlock()
	return nil
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []session.Entry
}

func (j *memoryJournal) Record(_ context.Context, e session.Entry) error {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
	return nil
}

func (j *memoryJournal) Entries() []session.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]session.Entry(nil), j.entries...)
}

type harness struct {
	t       *testing.T
	cfg     *config.Config
	srv     *fragserver.Server
	ts      *httptest.Server
	browser *browser.Memory
	doc     *dom.Document
	tracker *tracker
	pages   *registry.Registry[page.Factory]
	widgets *registry.Registry[page.WidgetFactory]
	journal *memoryJournal
	scripts []dom.Script
	engine  *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Navigation.NavMinTimeMs = 0
	cfg.Navigation.SubmitMinTimeMs = 0

	h := &harness{
		t:       t,
		cfg:     cfg,
		srv:     fragserver.New(fragserver.Options{Token: "tok"}),
		tracker: newTracker(),
		pages:   registry.New[page.Factory](),
		widgets: registry.New[page.WidgetFactory](),
		journal: &memoryJournal{},
	}
	for _, name := range []string{"home", "list", "article", "blocking"} {
		h.pages.Register(name, registry.Static(h.tracker.factory(name)))
	}
	h.srv.Handle(fragserver.Page{Path: "/home", Type: "home", Title: "Home", Content: `<h1>Home</h1>`})
	h.srv.Handle(fragserver.Page{Path: "/products", Type: "list", Title: "Products", Content: `<ul><li>Tea</li></ul>`})
	h.ts = httptest.NewServer(h.srv)
	t.Cleanup(h.ts.Close)
	return h
}

// load fetches path as a full document and creates the engine on it.
func (h *harness) load(path string, opts ...Option) *Engine {
	h.t.Helper()
	resp, err := http.Get(h.ts.URL + path)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	h.doc, err = dom.ParseString(string(b))
	require.NoError(h.t, err)
	h.browser = browser.NewMemory(h.ts.URL + path)

	base := []Option{
		WithConfig(h.cfg),
		WithPages(h.pages),
		WithWidgets(h.widgets),
		WithJournal(h.journal),
		WithScriptRunner(dom.ScriptRunnerFunc(func(s dom.Script) { h.scripts = append(h.scripts, s) })),
	}
	e, err := New(h.doc, h.browser, append(base, opts...)...)
	require.NoError(h.t, err)
	h.t.Cleanup(e.Close)
	h.engine = e
	return e
}

// start loads path and runs the first navigation.
func (h *harness) start(path string) *Engine {
	h.t.Helper()
	e := h.load(path)
	require.NoError(h.t, e.Start(context.Background()))
	h.browser.ResetCalls()
	return e
}

func (h *harness) url(path string) string { return h.ts.URL + path }

func (h *harness) navigate(raw string) Outcome {
	h.t.Helper()
	out, err := h.engine.Navigate(context.Background(), ParseIntent(raw, SourceLink))
	require.NoError(h.t, err)
	return out
}

func (h *harness) contentRoot() *html.Node {
	return h.doc.GetElementByID("page-content")
}

func (h *harness) serveRaw(path, contentType, body string) {
	h.srv.Router().Get(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		io.WriteString(w, body)
	})
}
