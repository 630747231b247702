// Package progress implements the navigation loading indicator: a timer
// driven state machine that is independent of how a navigation ends.
package progress

import (
	"sync"
	"time"
)

// State is what the indicator currently shows.
type State struct {
	Visible   bool
	Width     int // percent
	Finishing bool
}

// Sink receives every state change.
type Sink interface {
	Update(s State)
}

// SinkFunc adapts a func to Sink.
type SinkFunc func(s State)

// Update calls f(s).
func (f SinkFunc) Update(s State) { f(s) }

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive the indicator.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Options configures indicator timing.
type Options struct {
	ShowDelay      time.Duration // before the indicator appears at PartialWidth
	SlowDelay      time.Duration // before it advances to full width
	MinVisible     time.Duration // minimum time between Show and the finish animation
	FinishDuration time.Duration // finish animation before hiding
	PartialWidth   int
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		ShowDelay:      10 * time.Millisecond,
		SlowDelay:      1700 * time.Millisecond,
		MinVisible:     500 * time.Millisecond,
		FinishDuration: 180 * time.Millisecond,
		PartialWidth:   70,
	}
}

// Indicator is safe for concurrent use. Every Show cancels whatever the
// previous Show/Hide pair still had pending.
type Indicator struct {
	opts  Options
	clock Clock
	sink  Sink

	mu      sync.Mutex
	state   State
	start   time.Time
	showGen int // invalidates the appear timer
	hideGen int // invalidates slow, hide and finish timers
	timers  struct {
		show, slow, hide, finish Timer
	}
}

// New creates a hidden indicator. A nil clock uses wall time; a nil sink
// discards updates.
func New(o Options, clock Clock, sink Sink) *Indicator {
	d := DefaultOptions()
	if o.PartialWidth <= 0 {
		o.PartialWidth = d.PartialWidth
	}
	if clock == nil {
		clock = realClock{}
	}
	if sink == nil {
		sink = SinkFunc(func(State) {})
	}
	return &Indicator{opts: o, clock: clock, sink: sink}
}

// State returns the current state.
func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Show restarts the indicator from zero.
func (i *Indicator) Show() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.showGen++
	i.hideGen++
	stop(i.timers.show, i.timers.slow, i.timers.hide, i.timers.finish)

	i.start = i.clock.Now()
	i.set(State{})

	showGen, hideGen := i.showGen, i.hideGen
	i.timers.show = i.clock.AfterFunc(i.opts.ShowDelay, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.showGen != showGen {
			return
		}
		i.set(State{Visible: true, Width: i.opts.PartialWidth})
	})
	i.timers.slow = i.clock.AfterFunc(i.opts.SlowDelay, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.hideGen != hideGen {
			return
		}
		i.set(State{Visible: true, Width: 100})
	})
}

// Hide finishes the indicator once it has been visible for MinVisible since
// the last Show, then resets it to hidden.
func (i *Indicator) Hide() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.hideGen++
	stop(i.timers.slow, i.timers.hide, i.timers.finish)

	d := i.opts.MinVisible - i.clock.Now().Sub(i.start)
	if d < 0 {
		d = 0
	}

	hideGen := i.hideGen
	i.timers.hide = i.clock.AfterFunc(d, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.hideGen != hideGen {
			return
		}
		i.showGen++ // a late appear must not resurrect a finished indicator
		i.set(State{Visible: true, Width: 100, Finishing: true})

		i.timers.finish = i.clock.AfterFunc(i.opts.FinishDuration, func() {
			i.mu.Lock()
			defer i.mu.Unlock()
			if i.hideGen != hideGen {
				return
			}
			i.set(State{})
		})
	})
}

func (i *Indicator) set(s State) {
	if s == i.state {
		return
	}
	i.state = s
	i.sink.Update(s)
}

func stop(timers ...Timer) {
	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
}
