package nav

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"pagenav/browser"
	"pagenav/config"
	"pagenav/dom"
	"pagenav/fragserver"
	"pagenav/model"
	"pagenav/page"
	"pagenav/registry"
)

func TestParseIntent(t *testing.T) {
	in := ParseIntent("/a/b?x=1#top", SourceLink)
	assert.Equal(t, "/a/b?x=1", in.URL)
	assert.Equal(t, "top", in.Hash)
	assert.Equal(t, "/a/b?x=1#top", in.Href())

	in = ParseIntent("/a", SourcePopState)
	assert.Equal(t, "", in.Hash)
	assert.Equal(t, "/a", in.Href())
}

func TestNewRejectsUnregisteredDefaultPage(t *testing.T) {
	doc, err := dom.ParseString(`<html><body></body></html>`)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Navigation.DefaultPage = "missing"

	_, err = New(doc, browser.NewMemory("http://site.test/"), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestFirstLoad(t *testing.T) {
	h := newHarness(t)
	e := h.load("/home")
	require.NoError(t, e.Start(context.Background()))

	cur := e.Current()
	require.NotNil(t, cur)
	assert.Equal(t, h.url("/home"), cur.URL)
	assert.Equal(t, "home", cur.Page.Type())
	assert.True(t, cur.Page.Rendered())
	assert.Equal(t, h.contentRoot(), cur.Page.Root())
	assert.Equal(t, "tok", e.ValidationToken())

	// payload consumed, no extra requests
	assert.Nil(t, h.doc.GetElementByID("nav-data"))
	assert.Len(t, h.srv.Requests(), 1)

	// the server rendered the head; history is left alone
	assert.Zero(t, h.browser.Count(browser.OpPushState))
	assert.Zero(t, h.browser.Count(browser.OpReplaceState))
	assert.Zero(t, h.browser.Count(browser.OpScroll))
	assert.Equal(t, "Home", h.doc.Title())

	require.Len(t, h.journal.Entries(), 1)
	assert.Equal(t, "home", h.journal.Entries()[0].PageType)
}

func TestFirstLoadWithoutPayloadIsFatal(t *testing.T) {
	h := newHarness(t)
	h.serveRaw("/bare", "text/html", `<html><body><div id="page-content"></div></body></html>`)
	e := h.load("/bare")

	err := e.Start(context.Background())
	assert.ErrorIs(t, err, ErrStructural)
	assert.Nil(t, e.Current())
	assert.Zero(t, h.browser.Count(browser.OpAssign))
}

func TestFirstLoadWithoutContentRootIsFatal(t *testing.T) {
	h := newHarness(t)
	h.serveRaw("/rootless", "text/html",
		`<html><body><script id="nav-data" type="application/json">{"page":{"type":"home"}}</script></body></html>`)
	e := h.load("/rootless")

	err := e.Start(context.Background())
	assert.ErrorIs(t, err, ErrStructural)
}

func TestNavigateEndToEnd(t *testing.T) {
	h := newHarness(t)
	e := h.start("/home")
	home := e.Current().Page
	oldRoot := h.contentRoot()

	out := h.navigate("/products")
	assert.Equal(t, OutcomeCommitted, out)

	cur := e.Current()
	require.NotNil(t, cur)
	assert.Equal(t, h.url("/products"), cur.URL)
	assert.Equal(t, "list", cur.Page.Type())
	assert.Equal(t, "Products", h.doc.Title())

	// one push, and a push scrolls to the origin
	assert.Equal(t, 1, h.browser.Count(browser.OpPushState))
	assert.Zero(t, h.browser.Count(browser.OpReplaceState))
	assert.Equal(t, 1, h.browser.Count(browser.OpScroll))
	assert.Equal(t, h.url("/products"), h.browser.Href())

	// the previous page is gone before the new one renders
	assert.True(t, home.Destroyed())
	destroyed := h.tracker.index("destroy home")
	rendered := h.tracker.index("render list")
	require.NotEqual(t, -1, destroyed)
	require.NotEqual(t, -1, rendered)
	assert.Less(t, destroyed, rendered)

	// the new root replaced the old one in the document
	assert.Equal(t, cur.Page.Root(), h.contentRoot())
	assert.False(t, dom.Contains(h.doc.Root, oldRoot))
	assert.Equal(t, "Tea", dom.TextContent(h.contentRoot()))
	assert.Nil(t, h.doc.GetElementByID("nav-data"))

	reqs := h.srv.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "/products", last.Path)
	assert.True(t, last.Nav)
	assert.Equal(t, "state:/home", last.State)
	assert.Equal(t, strconv.FormatUint(cur.Sequence, 10), last.Query.Get("_"))
}

func TestHashOnlyTransitions(t *testing.T) {
	h := newHarness(t)
	e := h.start("/home")
	requests := len(h.srv.Requests())
	depth := h.browser.Len()

	assert.Equal(t, OutcomeHash, h.navigate("/home#x"))
	assert.Equal(t, OutcomeHash, h.navigate("/home#y"))

	assert.Equal(t, [][2]string{{"x", ""}, {"y", "x"}}, h.tracker.hashes)
	assert.Equal(t, "y", e.Current().Hash)
	assert.Equal(t, "y", e.Current().Page.Hash())
	assert.Equal(t, h.url("/home#y"), h.browser.Href())

	assert.Zero(t, h.browser.Count(browser.OpPushState))
	assert.Zero(t, h.browser.Count(browser.OpReplaceState))
	assert.Equal(t, 2, h.browser.Count(browser.OpSetHash))
	assert.Equal(t, requests, len(h.srv.Requests()))
	// only the hash entries themselves were added
	assert.Equal(t, depth+2, h.browser.Len())

	// same hash again changes nothing
	assert.Equal(t, OutcomeHash, h.navigate("/HOME#y"))
	assert.Len(t, h.tracker.hashes, 2)
}

func TestNavigateToCurrentLocationReplaces(t *testing.T) {
	h := newHarness(t)
	h.start("/home")

	assert.Equal(t, OutcomeCommitted, h.navigate("/home"))
	assert.Equal(t, 1, h.browser.Count(browser.OpReplaceState))
	assert.Zero(t, h.browser.Count(browser.OpPushState))
	assert.Zero(t, h.browser.Count(browser.OpScroll))
}

func TestReplaceIntent(t *testing.T) {
	h := newHarness(t)
	e := h.start("/home")

	in := ParseIntent("/products", SourceLink)
	in.Replace = true
	out, err := e.Navigate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, out)
	assert.Equal(t, 1, h.browser.Count(browser.OpReplaceState))
	assert.Zero(t, h.browser.Count(browser.OpPushState))
	assert.Equal(t, 1, h.browser.Len())
}

func TestHashOnAnotherPagePushesFullURL(t *testing.T) {
	h := newHarness(t)
	h.start("/home")

	assert.Equal(t, OutcomeCommitted, h.navigate("/products#reviews"))
	assert.Equal(t, h.url("/products#reviews"), h.browser.Href())
	assert.Equal(t, 1, h.browser.Count(browser.OpPushState))
	assert.Equal(t, [][2]string(nil), h.tracker.hashes)
}

func TestPopStateNeverTouchesHistory(t *testing.T) {
	h := newHarness(t)
	e := h.start("/home")
	h.navigate("/products")
	h.browser.ResetCalls()

	// Back fires the pop-state listener synchronously.
	require.True(t, h.browser.Back())

	cur := e.Current()
	assert.Equal(t, h.url("/home"), cur.URL)
	assert.Equal(t, "home", cur.Page.Type())
	assert.Equal(t, SourcePopState, cur.Intent.Source)
	assert.Equal(t, "Home", h.doc.Title())
	assert.Zero(t, h.browser.Count(browser.OpPushState))
	assert.Zero(t, h.browser.Count(browser.OpReplaceState))
	assert.Zero(t, h.browser.Count(browser.OpScroll))

	require.True(t, h.browser.Forward())
	assert.Equal(t, "list", e.Current().Page.Type())
	assert.Zero(t, h.browser.Count(browser.OpPushState))
}

func TestPopStateHashDoesNotSetHash(t *testing.T) {
	h := newHarness(t)
	e := h.start("/home")
	h.navigate("/home#x")
	h.browser.ResetCalls()

	require.True(t, h.browser.Back())
	assert.Equal(t, "", e.Current().Hash)
	assert.Zero(t, h.browser.Count(browser.OpSetHash))
	assert.Equal(t, [][2]string{{"x", ""}, {"", "x"}}, h.tracker.hashes)
}

func TestAuthFlipForcesFullNavigation(t *testing.T) {
	h := newHarness(t)
	h.srv.SetAuthenticated(true)
	e := h.start("/home")
	home := e.Current().Page

	h.srv.SetAuthenticated(false)
	assert.Equal(t, OutcomeFallback, h.navigate("/products"))

	assert.Equal(t, []browser.Call{{Op: browser.OpAssign, URL: h.url("/products")}}, h.browser.Calls())
	assert.Equal(t, -1, h.tracker.index("construct list"))
	assert.False(t, home.Destroyed())
	assert.Equal(t, "Home", h.doc.Title())
	assert.Equal(t, "home", e.Current().Page.Type())
}

func TestMetadataUpsertAndRemove(t *testing.T) {
	h := newHarness(t)
	h.srv.Handle(fragserver.Page{
		Path: "/a", Type: "article", Title: "A", Description: "A", BodyClass: "article",
		OpenGraph: &model.OpenGraph{Title: "OG A", SiteName: "Site"},
	})
	h.srv.Handle(fragserver.Page{Path: "/b", Type: "article", Title: "B"})
	h.start("/home")

	h.navigate("/a")
	desc := h.doc.GetElementByID("page-meta-description")
	require.NotNil(t, desc)
	content, _ := dom.Attr(desc, "content")
	assert.Equal(t, "A", content)
	name, _ := dom.Attr(desc, "name")
	assert.Equal(t, "description", name)
	og := h.doc.GetElementByID("og-site_name")
	require.NotNil(t, og)
	prop, _ := dom.Attr(og, "property")
	assert.Equal(t, "og:site_name", prop)
	assert.True(t, dom.HasClass(h.doc.Body(), "article"))

	h.navigate("/b")
	assert.Nil(t, h.doc.GetElementByID("page-meta-description"))
	assert.Nil(t, h.doc.GetElementByID("og-site_name"))
	assert.Nil(t, h.doc.GetElementByID("og-title"))
	assert.False(t, dom.HasClass(h.doc.Body(), "article"))
	assert.Equal(t, "B", h.doc.Title())

	h.navigate("/a")
	assert.Len(t, dom.Query(h.doc.Root, "#page-meta-description"), 1)
	h.navigate("/home")
	h.navigate("/a")
	assert.Len(t, dom.Query(h.doc.Root, "#page-meta-description"), 1)
	assert.Len(t, dom.Query(h.doc.Head(), "meta[property='og:title']"), 1)
}

func TestStaleNavigationHasNoEffect(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	arrived := make(chan struct{}, 1)
	h.srv.Router().Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		h.srv.WriteFragment(w, r, fragserver.Page{Path: "/slow", Type: "article", Title: "Slow"})
	})
	t.Cleanup(func() { close(release) })
	e := h.start("/home")

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Navigate(context.Background(), ParseIntent("/slow", SourceLink))
		done <- out
	}()
	<-arrived

	assert.Equal(t, OutcomeCommitted, h.navigate("/products"))

	select {
	case out := <-done:
		assert.Equal(t, OutcomeStale, out)
	case <-time.After(5 * time.Second):
		t.Fatal("stale navigation did not finish")
	}
	assert.Equal(t, "Products", h.doc.Title())
	assert.Equal(t, "list", e.Current().Page.Type())
	assert.Equal(t, 1, h.browser.Count(browser.OpPushState))
	assert.Zero(t, h.browser.Count(browser.OpAssign))
	assert.Equal(t, -1, h.tracker.index("construct article"))
}

func TestStaleRenderDestroysItsPage(t *testing.T) {
	h := newHarness(t)
	h.srv.Handle(fragserver.Page{Path: "/blocking", Type: "blocking", Title: "Blocking"})
	gate := make(chan struct{})
	h.tracker.gates["blocking"] = gate
	e := h.start("/home")

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Navigate(context.Background(), ParseIntent("/blocking", SourceLink))
		done <- out
	}()
	require.Equal(t, "blocking", <-h.tracker.entered)

	assert.Equal(t, OutcomeCommitted, h.navigate("/products"))
	close(gate)

	select {
	case out := <-done:
		assert.Equal(t, OutcomeStale, out)
	case <-time.After(5 * time.Second):
		t.Fatal("stale navigation did not finish")
	}

	// the blocked page was built, then destroyed without being committed
	assert.NotEqual(t, -1, h.tracker.index("destroy blocking"))
	assert.Equal(t, "list", e.Current().Page.Type())
	assert.Equal(t, "Products", h.doc.Title())
	assert.Equal(t, e.Current().Page.Root(), h.contentRoot())
	assert.Equal(t, 1, h.browser.Count(browser.OpPushState))
}

func TestFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		path  string
		want  Outcome
		op    browser.Op
	}{
		{
			name:  "error status",
			setup: func(h *harness) {},
			path:  "/missing",
			want:  OutcomeFallback,
			op:    browser.OpAssign,
		},
		{
			name:  "reload signal",
			setup: func(h *harness) { h.srv.Reload("/stale") },
			path:  "/stale",
			want:  OutcomeFallback,
			op:    browser.OpAssign,
		},
		{
			name:  "page action",
			setup: func(h *harness) { h.srv.Action("/reset", "reset") },
			path:  "/reset",
			want:  OutcomeReload,
			op:    browser.OpReload,
		},
		{
			name:  "unknown page action",
			setup: func(h *harness) { h.srv.Action("/odd", "explode") },
			path:  "/odd",
			want:  OutcomeFallback,
			op:    browser.OpAssign,
		},
		{
			name:  "hard redirect",
			setup: func(h *harness) { h.srv.Redirect("/gone", "https://example.com/", true, true) },
			path:  "/gone",
			want:  OutcomeRedirect,
			op:    browser.OpReplace,
		},
		{
			name:  "not html",
			setup: func(h *harness) { h.serveRaw("/data", "application/json", `{"ok":true}`) },
			path:  "/data",
			want:  OutcomeFallback,
			op:    browser.OpAssign,
		},
		{
			name: "fragment without content root",
			setup: func(h *harness) {
				h.serveRaw("/rootless", "text/html", `<script id="nav-data" type="application/json">{"page":{"type":"article"}}</script>`)
			},
			path: "/rootless",
			want: OutcomeFallback,
			op:   browser.OpAssign,
		},
		{
			name: "fragment without model",
			setup: func(h *harness) {
				h.serveRaw("/modelless", "text/html", `<div id="page-content"></div>`)
			},
			path: "/modelless",
			want: OutcomeFallback,
			op:   browser.OpAssign,
		},
		{
			name: "unregistered page type",
			setup: func(h *harness) {
				h.srv.Handle(fragserver.Page{Path: "/unknown", Type: "unknown"})
			},
			path: "/unknown",
			want: OutcomeFallback,
			op:   browser.OpAssign,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			e := h.start("/home")

			assert.Equal(t, tt.want, h.navigate(tt.path))
			assert.Equal(t, 1, h.browser.Count(tt.op))
			assert.Zero(t, h.browser.Count(browser.OpPushState))
			assert.Equal(t, "home", e.Current().Page.Type())
		})
	}
}

func TestSoftRedirect(t *testing.T) {
	h := newHarness(t)
	h.srv.Redirect("/old", "/products", false, true)
	e := h.start("/home")

	assert.Equal(t, OutcomeRedirect, h.navigate("/old"))
	assert.Equal(t, h.url("/products"), e.Current().URL)
	assert.True(t, e.Current().Intent.Replace)
	assert.Equal(t, 1, h.browser.Count(browser.OpReplaceState))
	assert.Zero(t, h.browser.Count(browser.OpPushState))
}

func TestExternalAndHistoryless(t *testing.T) {
	h := newHarness(t)
	h.start("/home")
	requests := len(h.srv.Requests())

	assert.Equal(t, OutcomeFallback, h.navigate("https://other.example/x#y"))
	assert.Equal(t, []browser.Call{{Op: browser.OpAssign, URL: "https://other.example/x#y"}}, h.browser.Calls())

	h.browser.ResetCalls()
	h.browser.DisableHistory()
	in := ParseIntent("/products", SourceLink)
	in.Replace = true
	out, err := h.engine.Navigate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, out)
	assert.Equal(t, []browser.Call{{Op: browser.OpReplace, URL: h.url("/products")}}, h.browser.Calls())
	assert.Equal(t, requests, len(h.srv.Requests()))
}

func TestCallerCancellationIsReturned(t *testing.T) {
	h := newHarness(t)
	h.srv.Router().Get("/hang", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	e := h.start("/home")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := e.Navigate(ctx, ParseIntent("/hang", SourceLink))
	assert.Equal(t, OutcomeNone, out)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, h.browser.Count(browser.OpAssign))
}

// hangingBehavior renders until its context ends.
type hangingBehavior struct {
	page.Base
}

func (hangingBehavior) RenderContent(ctx context.Context, p *page.Page) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCancellationAfterTeardownFallsBack(t *testing.T) {
	h := newHarness(t)
	h.pages.Register("hanging", registry.Static(page.Factory(func(*page.Page) (page.Behavior, error) {
		return hangingBehavior{}, nil
	})))
	h.srv.Handle(fragserver.Page{Path: "/hanging", Type: "hanging", Title: "Hanging"})
	e := h.start("/home")
	home := e.Current().Page

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := e.Navigate(ctx, ParseIntent("/hanging", SourceLink))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, out)

	// the old page was gone, so the browser reloads the target
	assert.True(t, home.Destroyed())
	assert.Equal(t, 1, h.browser.Count(browser.OpAssign))
	assert.Equal(t, h.url("/hanging"), h.browser.Href())
}

func TestHashNavigationDuringAbandonedRenderRebuildsPage(t *testing.T) {
	h := newHarness(t)
	h.srv.Handle(fragserver.Page{Path: "/blocking", Type: "blocking", Title: "Blocking"})
	gate := make(chan struct{})
	h.tracker.gates["blocking"] = gate
	e := h.start("/home")
	home := e.Current().Page

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Navigate(context.Background(), ParseIntent("/blocking", SourceLink))
		done <- out
	}()
	require.Equal(t, "blocking", <-h.tracker.entered)
	require.True(t, home.Destroyed())

	assert.Equal(t, OutcomeCommitted, h.navigate("/home#x"))
	close(gate)

	select {
	case out := <-done:
		assert.Equal(t, OutcomeStale, out)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked navigation did not finish")
	}

	cur := e.Current()
	assert.Equal(t, "home", cur.Page.Type())
	assert.False(t, cur.Page.Destroyed())
	assert.NotSame(t, home, cur.Page)
	assert.Equal(t, "x", cur.Hash)
	assert.Equal(t, cur.Page.Root(), h.contentRoot())
	assert.Equal(t, "Home", h.doc.Title())
	assert.Equal(t, h.url("/home#x"), h.browser.Href())
	assert.NotEqual(t, -1, h.tracker.index("destroy blocking"))
}

type counterWidget struct {
	rendered, destroyed bool
}

func (w *counterWidget) Render(context.Context) error {
	w.rendered = true
	return nil
}

func (w *counterWidget) Destroy() { w.destroyed = true }

func TestWidgetsAndScripts(t *testing.T) {
	h := newHarness(t)
	var widgets []*counterWidget
	h.widgets.Register("counter", registry.Static(page.WidgetFactory(func(elem *html.Node, p *page.Page) (page.Widget, error) {
		w := &counterWidget{}
		widgets = append(widgets, w)
		return w, nil
	})))
	h.srv.Handle(fragserver.Page{
		Path:    "/widgets",
		Type:    "article",
		Content: `<div data-content-script="counter"></div><div data-content-script="nope"></div><script>init()</script>`,
	})
	e := h.start("/home")

	h.navigate("/widgets")
	require.Len(t, widgets, 1)
	assert.True(t, widgets[0].rendered)
	elem := dom.QueryFirst(h.contentRoot(), "[data-content-script=counter]")
	claimed, _ := dom.Attr(elem, page.ClaimedAttr)
	assert.Equal(t, "counter", claimed)

	require.Len(t, h.scripts, 1)
	assert.Equal(t, "init()", h.scripts[0].Text)
	assert.True(t, dom.Contains(h.contentRoot(), h.scripts[0].Node))

	n, err := e.RenderComponents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.navigate("/products")
	assert.True(t, widgets[0].destroyed)
}

func TestDocumentListenersToggleValidity(t *testing.T) {
	h := newHarness(t)
	h.srv.Handle(fragserver.Page{Path: "/form", Type: "article", Content: `<form><input name="q" required></form>`})
	h.start("/form")

	input := dom.QueryFirst(h.contentRoot(), "input")
	h.doc.Events().Dispatch(input, "invalid")
	assert.True(t, dom.HasClass(input, "invalid"))
	assert.True(t, dom.HasClass(input, "invalid-required"))

	h.doc.Events().Dispatch(input, "change")
	assert.False(t, dom.HasClass(input, "invalid"))
	assert.False(t, dom.HasClass(input, "invalid-required"))
}

func TestDefaultPageType(t *testing.T) {
	h := newHarness(t)
	h.cfg.Navigation.DefaultPage = "article"
	h.srv.Handle(fragserver.Page{Path: "/untyped", Title: "Untyped"})
	e := h.start("/home")

	assert.Equal(t, OutcomeCommitted, h.navigate("/untyped"))
	assert.NotEqual(t, -1, h.tracker.index("construct article"))
	assert.Equal(t, "", e.Current().Page.Type())
}

func TestGenericPageWithoutDefault(t *testing.T) {
	h := newHarness(t)
	h.srv.Handle(fragserver.Page{Path: "/untyped", Title: "Untyped"})
	e := h.start("/home")

	assert.Equal(t, OutcomeCommitted, h.navigate("/untyped"))
	_, generic := e.Current().Page.Behavior().(page.Base)
	assert.True(t, generic)
}

func TestCloseDestroysCurrentPage(t *testing.T) {
	h := newHarness(t)
	e := h.start("/home")
	p := e.Current().Page

	e.Close()
	assert.True(t, p.Destroyed())
	assert.True(t, e.queue.Destroyed())
}
