package dom

import (
	"sync"

	"golang.org/x/net/html"
)

// Event is dispatched on a node and bubbles up through its ancestors.
type Event struct {
	Type   string
	Target *html.Node

	defaultPrevented bool
	stopped          bool
}

// PreventDefault marks the event's default action as cancelled.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether a listener called PreventDefault.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation stops the event from reaching further ancestors.
func (e *Event) StopPropagation() { e.stopped = true }

// Listener handles an event. CurrentTarget is the node the listener was
// registered on.
type Listener func(e *Event, currentTarget *html.Node)

type registration struct {
	id  int
	typ string
	fn  Listener
}

// Events keeps listeners keyed by node. Listeners survive node moves
// between a detached fragment and the live document.
type Events struct {
	mu     sync.Mutex
	nextID int
	byNode map[*html.Node][]registration
}

func newEvents() *Events {
	return &Events{byNode: make(map[*html.Node][]registration)}
}

// On registers fn for events of typ reaching n. The returned func removes
// the registration.
func (ev *Events) On(n *html.Node, typ string, fn Listener) (off func()) {
	ev.mu.Lock()
	ev.nextID++
	id := ev.nextID
	ev.byNode[n] = append(ev.byNode[n], registration{id: id, typ: typ, fn: fn})
	ev.mu.Unlock()

	return func() {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		regs := ev.byNode[n]
		for i, r := range regs {
			if r.id == id {
				regs = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
		if len(regs) == 0 {
			delete(ev.byNode, n)
		} else {
			ev.byNode[n] = regs
		}
	}
}

// Count returns the number of listeners registered on n.
func (ev *Events) Count(n *html.Node) int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return len(ev.byNode[n])
}

// Dispatch fires an event of typ at target and bubbles it to the root.
// Listeners run on the caller's goroutine, outside the registry lock.
func (ev *Events) Dispatch(target *html.Node, typ string) *Event {
	e := &Event{Type: typ, Target: target}
	for n := target; n != nil && !e.stopped; n = n.Parent {
		ev.mu.Lock()
		var fns []Listener
		for _, r := range ev.byNode[n] {
			if r.typ == typ {
				fns = append(fns, r.fn)
			}
		}
		ev.mu.Unlock()
		for _, fn := range fns {
			fn(e, n)
		}
	}
	return e
}
