package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the Chrome-backed browser.
type ChromeOptions struct {
	ExecPath  string // Path to Chrome binary (empty = auto-detect)
	UserAgent string
	Headless  bool
	Timeout   time.Duration // per operation
	StartURL  string
}

// Chrome forwards the engine's browser side effects to a Chrome tab over
// the DevTools protocol. Same-document traversals in the tab are reported
// as pop-state events.
type Chrome struct {
	ctx     context.Context
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	href      string
	own       map[string]bool // same-document URLs we caused ourselves
	nextID    int
	listeners map[int]func()
}

// NewChrome launches Chrome and opens StartURL. The returned cancel func
// closes the browser.
func NewChrome(parent context.Context, o ChromeOptions, logger *slog.Logger) (*Chrome, context.CancelFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	allocOpts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.WindowSize(1280, 900),
	)
	if o.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(o.UserAgent))
	}
	if o.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	}
	if o.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		ctxCancel()
		allocCancel()
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Chrome{
		ctx:       ctx,
		timeout:   timeout,
		logger:    logger,
		href:      o.StartURL,
		own:       make(map[string]bool),
		listeners: make(map[int]func()),
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*page.EventNavigatedWithinDocument); ok {
			c.navigatedWithinDocument(e.URL)
		}
	})

	if o.StartURL != "" {
		if err := c.run(chromedp.Navigate(o.StartURL)); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("opening %s: %w", o.StartURL, err)
		}
	}
	return c, cancel, nil
}

func (c *Chrome) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (c *Chrome) do(op string, actions ...chromedp.Action) {
	if err := c.run(actions...); err != nil {
		c.logger.Warn("chrome operation failed", "op", op, "error", err)
	}
}

func (c *Chrome) Href() string {
	var loc string
	if err := c.run(chromedp.Location(&loc)); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.href
	}
	c.mu.Lock()
	c.href = loc
	c.mu.Unlock()
	return loc
}

func (c *Chrome) Assign(u string) {
	c.do("assign", chromedp.Navigate(u))
}

func (c *Chrome) Replace(u string) {
	c.do("replace", chromedp.Evaluate("location.replace("+jsString(u)+")", nil))
}

func (c *Chrome) Reload() {
	c.do("reload", chromedp.Reload())
}

func (c *Chrome) SetHash(hash string) {
	c.do("hash", chromedp.Evaluate("location.hash = "+jsString(hash), nil))
	c.markOwn()
}

func (c *Chrome) CanPushState() bool { return true }

func (c *Chrome) PushState(title, u string) {
	c.do("pushState", chromedp.Evaluate(fmt.Sprintf("history.pushState(history.state, %s, %s)", jsString(title), jsString(u)), nil))
	c.markOwn()
}

func (c *Chrome) ReplaceState(title, u string) {
	c.do("replaceState", chromedp.Evaluate(fmt.Sprintf("history.replaceState(history.state, %s, %s)", jsString(title), jsString(u)), nil))
	c.markOwn()
}

func (c *Chrome) ScrollTo(x, y int) {
	c.do("scroll", chromedp.Evaluate(fmt.Sprintf("window.scrollTo({left: %d, top: %d, behavior: 'auto'})", x, y), nil))
}

// Back asks the tab to traverse one entry back. Pop-state listeners run
// when the tab reports the traversal.
func (c *Chrome) Back() bool {
	return c.run(chromedp.Evaluate("history.back()", nil)) == nil
}

// Forward asks the tab to traverse one entry forward.
func (c *Chrome) Forward() bool {
	return c.run(chromedp.Evaluate("history.forward()", nil)) == nil
}

func (c *Chrome) OnPopState(fn func()) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// markOwn remembers the tab's current URL so the navigation event our own
// history call produces is not reported as a traversal.
func (c *Chrome) markOwn() {
	u := c.Href()
	c.mu.Lock()
	c.own[u] = true
	c.mu.Unlock()
}

func (c *Chrome) navigatedWithinDocument(u string) {
	c.mu.Lock()
	c.href = u
	if c.own[u] {
		delete(c.own, u)
		c.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	// listeners may call back into the tab; never block the event loop
	go func() {
		for _, fn := range fns {
			fn()
		}
	}()
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
