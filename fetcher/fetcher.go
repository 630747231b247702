// Package fetcher provides the request queue used for page transitions and
// form submissions: requests run one at a time and a queue can be reset to
// abort everything it holds.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAborted is returned for requests cancelled by Reset or Destroy.
	ErrAborted = errors.New("request aborted")
	// ErrDestroyed is returned when enqueuing on a destroyed queue.
	ErrDestroyed = errors.New("queue destroyed")
)

// ResponseType classifies a response body.
type ResponseType string

const (
	TypeNone ResponseType = ""
	TypeHTML ResponseType = "html"
	TypeJSON ResponseType = "json"
	TypeText ResponseType = "text"
)

// Request describes one queued HTTP request.
type Request struct {
	Method       string
	URL          string
	Query        url.Values  // merged into the URL's own query
	Header       http.Header
	Form         url.Values // sent urlencoded for non-GET methods
	DisableCache bool
}

// Response contains the fetched body and metadata.
type Response struct {
	ID        string
	Status    int
	Header    http.Header
	Type      ResponseType
	Data      []byte
	FinalURL  string // URL after following redirects
	FetchTime time.Duration
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Data)
}

// Options configures a queue.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client // nil = new client with Timeout
	// Prepare runs on every request before it is sent.
	Prepare func(req *Request)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent: "pagenav/1.0",
		Timeout:   30 * time.Second,
	}
}

// Queue runs requests one after another.
type Queue struct {
	opts   Options
	client *http.Client
	slot   chan struct{}

	mu        sync.Mutex
	gen       context.Context
	abort     context.CancelFunc
	destroyed bool
}

// NewQueue creates an empty queue.
func NewQueue(o Options) *Queue {
	d := DefaultOptions()
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	q := &Queue{
		opts:   o,
		client: client,
		slot:   make(chan struct{}, 1),
	}
	q.gen, q.abort = context.WithCancel(context.Background())
	return q
}

// Enqueue waits for the queue to be free, sends req and reads the whole
// response. Requests pending or in flight when the queue is reset fail
// with ErrAborted.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Response, error) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return nil, ErrDestroyed
	}
	gen := q.gen
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(gen, cancel)
	defer stop()

	select {
	case q.slot <- struct{}{}:
		defer func() { <-q.slot }()
	case <-ctx.Done():
		return nil, q.cause(gen, ctx)
	}
	if gen.Err() != nil {
		return nil, ErrAborted
	}

	resp, err := q.do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, q.cause(gen, ctx)
		}
		return nil, err
	}
	return resp, nil
}

func (q *Queue) cause(gen, ctx context.Context) error {
	if gen.Err() != nil {
		return ErrAborted
	}
	return ctx.Err()
}

// Reset aborts every pending and in-flight request. The queue stays usable.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	q.abort()
	q.gen, q.abort = context.WithCancel(context.Background())
}

// Destroy aborts everything and rejects further requests.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	q.destroyed = true
	q.abort()
}

// Destroyed reports whether Destroy was called.
func (q *Queue) Destroyed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.destroyed
}

func (q *Queue) do(ctx context.Context, r Request) (*Response, error) {
	start := time.Now()

	if r.Header == nil {
		r.Header = http.Header{}
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Method = strings.ToUpper(r.Method)
	if q.opts.Prepare != nil {
		q.opts.Prepare(&r)
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %s: %w", r.URL, err)
	}
	if len(r.Query) > 0 {
		qs := u.Query()
		for k, vs := range r.Query {
			qs.Del(k)
			for _, v := range vs {
				qs.Add(k, v)
			}
		}
		u.RawQuery = qs.Encode()
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", q.opts.UserAgent)
	if r.DisableCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Response{
		ID:        uuid.NewString(),
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Type:      classify(resp.Header.Get("Content-Type"), len(data)),
		Data:      data,
		FinalURL:  resp.Request.URL.String(),
		FetchTime: time.Since(start),
	}, nil
}

func classify(contentType string, n int) ResponseType {
	if n == 0 {
		return TypeNone
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return TypeText
	}
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		return TypeHTML
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return TypeJSON
	default:
		return TypeText
	}
}
