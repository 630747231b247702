package browser

import (
	"net/url"
	"strings"
	"sync"
)

// Op names a recorded browser operation.
type Op string

const (
	OpAssign       Op = "assign"
	OpReplace      Op = "replace"
	OpReload       Op = "reload"
	OpSetHash      Op = "hash"
	OpPushState    Op = "pushState"
	OpReplaceState Op = "replaceState"
	OpScroll       Op = "scroll"
)

// Call is one recorded operation.
type Call struct {
	Op    Op
	URL   string
	Title string
}

// Memory is a headless browser keeping its session history in memory and
// recording every operation. Full navigations (assign, replace, reload)
// only move the URL; nothing is loaded.
type Memory struct {
	mu        sync.Mutex
	entries   []string
	index     int
	calls     []Call
	scrollX   int
	scrollY   int
	noHistory bool
	nextID    int
	listeners map[int]func()
}

// NewMemory starts a browser on startURL.
func NewMemory(startURL string) *Memory {
	return &Memory{
		entries:   []string{startURL},
		listeners: make(map[int]func()),
	}
}

// DisableHistory makes CanPushState report false.
func (m *Memory) DisableHistory() {
	m.mu.Lock()
	m.noHistory = true
	m.mu.Unlock()
}

func (m *Memory) Href() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[m.index]
}

func (m *Memory) Assign(u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpAssign, URL: u})
	m.push(m.resolve(u))
}

func (m *Memory) Replace(u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpReplace, URL: u})
	m.entries[m.index] = m.resolve(u)
}

func (m *Memory) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpReload, URL: m.entries[m.index]})
}

// SetHash adds a history entry differing only by fragment, as browsers do.
func (m *Memory) SetHash(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash = strings.TrimPrefix(hash, "#")
	cur := m.entries[m.index]
	if i := strings.IndexByte(cur, '#'); i >= 0 {
		cur = cur[:i]
	}
	if hash != "" {
		cur += "#" + hash
	}
	m.calls = append(m.calls, Call{Op: OpSetHash, URL: cur})
	if cur != m.entries[m.index] {
		m.push(cur)
	}
}

func (m *Memory) CanPushState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.noHistory
}

func (m *Memory) PushState(title, u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpPushState, URL: u, Title: title})
	m.push(m.resolve(u))
}

func (m *Memory) ReplaceState(title, u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpReplaceState, URL: u, Title: title})
	m.entries[m.index] = m.resolve(u)
}

func (m *Memory) ScrollTo(x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpScroll})
	m.scrollX, m.scrollY = x, y
}

// SetScroll simulates the user scrolling.
func (m *Memory) SetScroll(x, y int) {
	m.mu.Lock()
	m.scrollX, m.scrollY = x, y
	m.mu.Unlock()
}

// Scroll returns the viewport offset.
func (m *Memory) Scroll() (x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrollX, m.scrollY
}

func (m *Memory) OnPopState(fn func()) (off func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Back traverses one entry back and fires pop-state listeners. It reports
// false when there is nothing to go back to.
func (m *Memory) Back() bool {
	return m.traverse(-1)
}

// Forward traverses one entry forward and fires pop-state listeners.
func (m *Memory) Forward() bool {
	return m.traverse(1)
}

func (m *Memory) traverse(delta int) bool {
	m.mu.Lock()
	next := m.index + delta
	if next < 0 || next >= len(m.entries) {
		m.mu.Unlock()
		return false
	}
	m.index = next
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return true
}

// Calls returns a copy of the recorded operations.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Count returns how many times op was recorded.
func (m *Memory) Count(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Len returns the number of session history entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ResetCalls forgets recorded operations.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

func (m *Memory) push(u string) {
	m.entries = append(m.entries[:m.index+1], u)
	m.index = len(m.entries) - 1
}

func (m *Memory) resolve(ref string) string {
	base, err := url.Parse(m.entries[m.index])
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}
