// Demo serves a small site over the page fragment protocol, for trying the
// navigator against: pagenav http://localhost:8080/
package main

import (
	"flag"
	"html/template"
	"log"
	"log/slog"
	"net/http"
	"os"

	"pagenav/config"
	"pagenav/fragserver"
	"pagenav/model"
)

const nav = `<nav><a href="/">Home</a> | <a href="/products">Products</a> | <a href="/contact">Contact</a> | <a href="/old-products">Old link</a></nav>`

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	srv := fragserver.New(fragserver.Options{
		Protocol:    cfg.Protocol,
		Antiforgery: cfg.Antiforgery,
		Token:       "demo-token",
		Logger:      logger,
	})
	srv.Handle(fragserver.Page{
		Path:        "/",
		Type:        "home",
		Title:       "Demo shop",
		Description: "A small shop served as fragments",
		BodyClass:   "home",
		OpenGraph:   &model.OpenGraph{Type: "website", Title: "Demo shop", SiteName: "Demo"},
		Content:     nav + `<h1>Welcome</h1><p>Browse the <a href="/products">catalogue</a> or read about <a href="/products#tea">tea</a>.</p>`,
	})
	srv.Handle(fragserver.Page{
		Path:        "/products",
		Type:        "list",
		Title:       "Products",
		Description: "Everything we sell",
		BodyClass:   "list",
		Content: nav + `<h1>Products</h1><table><tr><th>Item</th><th>Price</th></tr>` +
			`<tr><td id="tea">Tea</td><td>4.00</td></tr><tr><td>Coffee</td><td>5.50</td></tr></table>`,
		Extra: map[string]any{"count": 2},
	})
	srv.Handle(fragserver.Page{
		Path:    "/contact",
		Type:    "form",
		Title:   "Contact",
		Content: nav + `<h1>Contact</h1><form method="post" action="/contact/send"><input name="name" value="visitor"><textarea name="message">Hello</textarea></form>`,
	})
	srv.Redirect("/old-products", "/products", false, true)

	srv.Router().Post("/contact/send", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(cfg.Antiforgery.HeaderName) != "demo-token" {
			http.Error(w, "missing antiforgery token", http.StatusBadRequest)
			return
		}
		srv.WriteFragment(w, r, fragserver.Page{
			Path:    "/contact",
			Type:    "form",
			Content: nav + `<h1>Thanks, ` + template.HTMLEscapeString(r.PostFormValue("name")) + `</h1><p>We read every message.</p>`,
		})
	})

	logger.Info("serving demo site", "addr", *addr)
	if err := http.ListenAndServe(*addr, srv); err != nil {
		log.Fatalf("serving: %v", err)
	}
}
