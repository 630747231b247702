// Package fragserver is a server speaking the page fragment protocol: full
// documents on first requests, bare fragments when the navigation state
// header is present, and header signals for redirects, reloads and page
// actions.
package fragserver

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"pagenav/config"
	"pagenav/meta"
	"pagenav/model"
)

// Page is one page the server knows about.
type Page struct {
	Path        string
	Type        string
	Title       string
	Description string
	Keywords    string
	Canonical   string
	OpenGraph   *model.OpenGraph
	BodyClass   string
	// Content is the inner html of the content root.
	Content string
	// Extra is merged into the model's page section.
	Extra map[string]any
}

// Request is a request the server saw.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// State is the navigation state header; Nav reports it was present.
	State  string
	Nav    bool
	Submit bool
	Token  string
	Form   url.Values
}

type rule struct {
	location string
	replace  bool
	hard     bool
	reload   bool
	action   string
}

// Options configures a Server.
type Options struct {
	Protocol    config.Protocol
	Antiforgery config.Antiforgery
	// Token is the antiforgery token handed out in every model.
	Token  string
	Logger *slog.Logger
}

// Server serves registered pages.
type Server struct {
	proto  config.Protocol
	anti   config.Antiforgery
	token  string
	logger *slog.Logger
	router *chi.Mux

	authenticated atomic.Bool

	mu       sync.RWMutex
	pages    map[string]Page
	rules    map[string]rule
	requests []Request
}

// New creates a server with no pages.
func New(o Options) *Server {
	def := config.Default()
	if o.Protocol.ContentID == "" {
		o.Protocol = def.Protocol
	}
	if o.Antiforgery.HeaderName == "" {
		o.Antiforgery = def.Antiforgery
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	s := &Server{
		proto:  o.Protocol,
		anti:   o.Antiforgery,
		token:  o.Token,
		logger: o.Logger,
		pages:  make(map[string]Page),
		rules:  make(map[string]rule),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Get("/*", s.servePage)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router for extra endpoints such as form handlers.
func (s *Server) Router() chi.Router { return s.router }

// Handle registers p, replacing any page with the same path.
func (s *Server) Handle(p Page) {
	if p.Path == "" {
		p.Path = "/"
	}
	s.mu.Lock()
	s.pages[p.Path] = p
	s.mu.Unlock()
}

// Redirect answers requests for from with a location signal. A soft
// redirect is followed by the engine; a hard one by the browser.
func (s *Server) Redirect(from, to string, hard, replace bool) {
	s.setRule(from, rule{location: to, hard: hard, replace: replace})
}

// Reload answers requests for path with the reload signal.
func (s *Server) Reload(path string) {
	s.setRule(path, rule{reload: true})
}

// Action answers requests for path with a page action signal.
func (s *Server) Action(path, action string) {
	s.setRule(path, rule{action: action})
}

func (s *Server) setRule(path string, r rule) {
	s.mu.Lock()
	s.rules[path] = r
	s.mu.Unlock()
}

// SetAuthenticated sets the authentication flag of every model served from
// now on.
func (s *Server) SetAuthenticated(v bool) {
	s.authenticated.Store(v)
}

// Requests returns the requests seen so far.
func (s *Server) Requests() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, nav := r.Header[http.CanonicalHeaderKey(s.proto.StateHeader)]
		req := Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			State:  r.Header.Get(s.proto.StateHeader),
			Nav:    nav,
			Submit: r.Header.Get(s.proto.SubmitHeader) == "true",
			Token:  r.Header.Get(s.anti.HeaderName),
		}
		if r.Method != http.MethodGet {
			if err := r.ParseForm(); err == nil {
				req.Form = r.PostForm
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		s.logger.Debug("request", "method", r.Method, "url", r.URL.String(), "nav", nav)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	s.mu.RLock()
	ru, hasRule := s.rules[path]
	p, ok := s.pages[path]
	s.mu.RUnlock()

	if hasRule && s.signal(w, ru) {
		return
	}
	if !ok {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	if _, nav := r.Header[http.CanonicalHeaderKey(s.proto.StateHeader)]; nav {
		s.WriteFragment(w, r, p)
		return
	}
	s.WriteDocument(w, r, p)
}

// signal writes the header-only response for ru.
func (s *Server) signal(w http.ResponseWriter, ru rule) bool {
	h := w.Header()
	switch {
	case ru.action != "":
		h.Set(s.proto.ActionHeader, ru.action)
	case ru.reload:
		h.Set(s.proto.ReloadHeader, "true")
	case ru.location != "":
		h.Set(s.proto.LocationHeader, ru.location)
		if ru.replace {
			h.Set(s.proto.ReplaceHeader, "true")
		}
		if ru.hard {
			h.Set(s.proto.ReloadHeader, "true")
		}
	default:
		return false
	}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	return true
}

// Model builds the navigation model for p as requested by r.
func (s *Server) Model(r *http.Request, p Page) (*model.Navigation, error) {
	info := map[string]any{}
	for k, v := range p.Extra {
		info[k] = v
	}
	if p.Type != "" {
		info["type"] = p.Type
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encoding page section: %w", err)
	}
	q := r.URL.Query()
	q.Del(s.proto.CacheBustParam)
	return &model.Navigation{
		URL:             requestURL(r),
		Path:            r.URL.Path,
		Query:           q,
		Page:            &model.PageInfo{Type: p.Type, Raw: raw},
		Title:           p.Title,
		Description:     p.Description,
		Keywords:        p.Keywords,
		CanonicalLink:   p.Canonical,
		OpenGraph:       p.OpenGraph,
		BodyClass:       p.BodyClass,
		ValidationToken: s.token,
		State:           "state:" + p.Path,
		IsAuthenticated: s.authenticated.Load(),
	}, nil
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

type view struct {
	Model     *model.Navigation
	Payload   template.JS
	Content   template.HTML
	Tags      []meta.Tag
	NavDataID string
	ContentID string
	PageType  string
}

func (s *Server) view(r *http.Request, p Page) (*view, error) {
	m, err := s.Model(r, p)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding navigation model: %w", err)
	}
	var tags []meta.Tag
	for _, t := range meta.Tags(m) {
		if t.Value != "" {
			tags = append(tags, t)
		}
	}
	return &view{
		Model:     m,
		Payload:   template.JS(payload),
		Content:   template.HTML(p.Content),
		Tags:      tags,
		NavDataID: s.proto.NavDataID,
		ContentID: s.proto.ContentID,
		PageType:  p.Type,
	}, nil
}

// WriteDocument writes the full document for p with the first-load payload.
func (s *Server) WriteDocument(w http.ResponseWriter, r *http.Request, p Page) {
	s.write(w, r, p, "document")
}

// WriteFragment writes the fragment for p: the payload and the content root.
func (s *Server) WriteFragment(w http.ResponseWriter, r *http.Request, p Page) {
	s.write(w, r, p, "fragment")
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, p Page, name string) {
	v, err := s.view(r, p)
	if err != nil {
		s.logger.Error("building view failed", "path", p.Path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, v); err != nil {
		s.logger.Error("rendering page failed", "path", p.Path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(b.String()))
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
