// Pagenav is a line-based terminal client for sites speaking the page
// fragment protocol. Links and forms are followed in place; only the
// content root of each page is fetched and re-rendered.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"

	"pagenav/browser"
	"pagenav/config"
	"pagenav/dom"
	"pagenav/nav"
	"pagenav/page"
	"pagenav/progress"
	"pagenav/registry"
	"pagenav/session"
	"pagenav/term"
)

func main() {
	url := ""
	printMode := false
	useChrome := false
	verbose := false
	initConfig := false

	for _, arg := range os.Args[1:] {
		switch arg {
		case "-p", "--print":
			printMode = true
		case "--chrome":
			useChrome = true
		case "-v", "--verbose":
			verbose = true
		case "--init-config":
			initConfig = true
		case "-h", "--help":
			printUsage()
			return
		default:
			if url == "" {
				url = arg
			}
		}
	}

	if initConfig {
		fmt.Print(config.DefaultTOML())
		return
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(url, printMode, useChrome, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Pagenav - terminal client for fragment-navigated sites

Usage: pagenav [options] [url]

Options:
  -p, --print       Print the first page and exit
  --chrome          Drive a Chrome window instead of the in-memory browser
  -v, --verbose     Log navigation details to stderr
  --init-config     Output default config (redirect to ~/.config/pagenav/config.toml)
  -h, --help        Show this help

Commands:
  <n>               Follow link n
  go <url>          Navigate to url (relative urls resolve against the page)
  back, forward     Traverse history
  submit [n]        Submit form n of the page (default 1)
  reload            Reload the page from the server
  links, show       List links / show the page again
  history           Show the session journal
  quit`)
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	browser browser.Browser
	store   *session.Store
	out     io.Writer
	width   int
	md      *converter.Converter

	pages   *registry.Registry[page.Factory]
	widgets *registry.Registry[page.WidgetFactory]
	bar     *progress.Indicator

	engine *nav.Engine
}

func run(url string, printMode, useChrome bool, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:     cfg,
		logger:  logger,
		out:     os.Stdout,
		width:   term.Width(os.Stdout),
		pages:   registry.New[page.Factory](),
		widgets: registry.New[page.WidgetFactory](),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	if cfg.Navigation.DefaultPage != "" {
		a.pages.Register(cfg.Navigation.DefaultPage, registry.Static(page.Factory(page.Generic)))
	}

	if path, err := cfg.SessionPath(); err != nil {
		logger.Warn("session journal disabled", "error", err)
	} else if a.store, err = session.Open(path); err != nil {
		logger.Warn("session journal disabled", "error", err)
	} else {
		defer a.store.Close()
	}

	if url == "" && cfg.Session.RestoreSession && a.store != nil {
		if last, err := a.store.Last(ctx); err == nil {
			url = last.Href()
		}
	}
	if url == "" {
		return fmt.Errorf("no url given and no session to restore")
	}

	if term.IsTerminal(os.Stderr) && !printMode {
		a.bar = progress.New(cfg.ProgressOptions(), nil, progress.NewTerminalSink(os.Stderr, 30))
	}

	if useChrome {
		c, cancel, err := browser.NewChrome(ctx, browser.ChromeOptions{
			ExecPath:  cfg.Fetcher.ChromePath,
			UserAgent: cfg.Fetcher.UserAgent,
			StartURL:  url,
			Timeout:   cfg.FetcherOptions().Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("starting chrome: %w", err)
		}
		defer cancel()
		a.browser = c
	} else {
		a.browser = browser.NewMemory(url)
	}

	if err := a.boot(ctx); err != nil {
		return err
	}
	defer func() { a.engine.Close() }()

	a.show()
	if printMode {
		return nil
	}
	return a.loop(ctx, os.Stdin)
}

// boot loads the browser's location as a full document and starts a fresh
// engine on it, as a browser does after a full navigation.
func (a *app) boot(ctx context.Context) error {
	href := a.browser.Href()
	doc, err := fetchDocument(ctx, href, a.cfg)
	if err != nil {
		return err
	}
	if a.engine != nil {
		a.engine.Close()
	}

	opts := []nav.Option{
		nav.WithConfig(a.cfg),
		nav.WithLogger(a.logger),
		nav.WithPages(a.pages),
		nav.WithWidgets(a.widgets),
		nav.WithScriptRunner(dom.ScriptRunnerFunc(func(s dom.Script) {
			a.logger.Debug("script skipped", "src", s.Src, "type", s.Type)
		})),
	}
	if a.bar != nil {
		opts = append(opts, nav.WithProgress(a.bar))
	}
	if a.store != nil {
		opts = append(opts, nav.WithJournal(a.store))
	}
	e, err := nav.New(doc, a.browser, opts...)
	if err != nil {
		return err
	}
	a.engine = e
	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("starting %s: %w", href, err)
	}
	return nil
}

func fetchDocument(ctx context.Context, href string, cfg *config.Config) (*dom.Document, error) {
	o := cfg.FetcherOptions()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", o.UserAgent)
	client := &http.Client{Timeout: o.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", href, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", href, resp.StatusCode)
	}
	return dom.Parse(resp.Body)
}

func (a *app) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(a.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		cmd, arg := fields[0], ""
		if len(fields) > 1 {
			arg = fields[1]
		}
		out, err := a.exec(ctx, cmd, arg)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
			continue
		}
		if err := a.settle(ctx, out); err != nil {
			return err
		}
	}
}

var errQuit = errors.New("quit")

func (a *app) exec(ctx context.Context, cmd, arg string) (nav.Outcome, error) {
	if n, err := strconv.Atoi(cmd); err == nil {
		return a.follow(ctx, n)
	}
	switch cmd {
	case "q", "quit", "exit":
		return nav.OutcomeNone, errQuit
	case "go", "g":
		if arg == "" {
			return nav.OutcomeNone, fmt.Errorf("go needs a url")
		}
		return a.engine.Navigate(ctx, nav.ParseIntent(arg, nav.SourceLink))
	case "back", "b":
		return a.traverse(-1), nil
	case "forward", "f":
		return a.traverse(1), nil
	case "reload", "r":
		a.browser.Reload()
		return nav.OutcomeReload, nil
	case "submit", "s":
		return a.submit(ctx, arg)
	case "links", "l":
		a.links()
	case "show":
		a.show()
	case "history", "h":
		return nav.OutcomeNone, a.history(ctx)
	default:
		return nav.OutcomeNone, fmt.Errorf("unknown command %q", cmd)
	}
	return nav.OutcomeNone, nil
}

type traverser interface {
	Back() bool
	Forward() bool
}

// traverse moves through history; the engine picks the move up through its
// pop-state listener.
func (a *app) traverse(delta int) nav.Outcome {
	t, ok := a.browser.(traverser)
	if !ok {
		return nav.OutcomeNone
	}
	moved := false
	if delta < 0 {
		moved = t.Back()
	} else {
		moved = t.Forward()
	}
	if !moved {
		fmt.Fprintln(a.out, "no history entry")
		return nav.OutcomeNone
	}
	return nav.OutcomeCommitted
}

// settle re-boots after the browser was sent on a full navigation and
// prints the page.
func (a *app) settle(ctx context.Context, out nav.Outcome) error {
	switch out {
	case nav.OutcomeFallback, nav.OutcomeReload:
		return a.boot(ctx)
	}
	cur := a.engine.Current()
	if cur != nil && stripHash(a.browser.Href()) != stripHash(cur.URL) {
		return a.boot(ctx)
	}
	if out != nav.OutcomeNone && out != nav.OutcomeStale {
		a.show()
	}
	return nil
}

func stripHash(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

func (a *app) follow(ctx context.Context, n int) (nav.Outcome, error) {
	links := a.linkTargets()
	if n < 1 || n > len(links) {
		return nav.OutcomeNone, fmt.Errorf("no link %d", n)
	}
	return a.engine.Navigate(ctx, nav.ParseIntent(links[n-1], nav.SourceLink))
}

func (a *app) submit(ctx context.Context, arg string) (nav.Outcome, error) {
	n := 1
	if arg != "" {
		var err error
		if n, err = strconv.Atoi(arg); err != nil {
			return nav.OutcomeNone, fmt.Errorf("bad form number %q", arg)
		}
	}
	var form *html.Node
	a.engine.View(func(doc *dom.Document, cur *nav.Entry) {
		if cur == nil || cur.Page == nil {
			return
		}
		forms := dom.Query(cur.Page.Root(), "form")
		if n >= 1 && n <= len(forms) {
			form = forms[n-1]
		}
	})
	if form == nil {
		return nav.OutcomeNone, fmt.Errorf("no form %d", n)
	}
	return a.engine.Submit(ctx, nav.SubmitRequest{Form: form})
}

func (a *app) linkTargets() []string {
	var hrefs []string
	a.engine.View(func(doc *dom.Document, cur *nav.Entry) {
		if cur == nil || cur.Page == nil {
			return
		}
		for _, link := range dom.Query(cur.Page.Root(), "a[href]") {
			href, _ := dom.Attr(link, "href")
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

func (a *app) links() {
	for i, href := range a.linkTargets() {
		fmt.Fprintf(a.out, "[%d] %s\n", i+1, href)
	}
}

func (a *app) show() {
	var title, content string
	a.engine.View(func(doc *dom.Document, cur *nav.Entry) {
		title = doc.Title()
		if cur != nil && cur.Page != nil {
			content = dom.OuterHTML(cur.Page.Root())
		}
	})
	md, err := a.md.ConvertString(content, converter.WithDomain(a.browser.Href()))
	if err != nil {
		a.logger.Warn("converting page failed", "error", err)
		md = content
	}
	rule := strings.Repeat("─", min(a.width, 80))
	fmt.Fprintf(a.out, "%s\n%s\n%s\n\n%s\n\n", rule, title, rule, strings.TrimSpace(md))
}

func (a *app) history(ctx context.Context) error {
	if a.store == nil {
		return fmt.Errorf("session journal disabled")
	}
	entries, err := a.store.History(ctx, 20)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s  %-30s %s\n", e.At.Format("15:04:05"), e.Title, e.Href())
	}
	return nil
}
