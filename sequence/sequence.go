// Package sequence issues navigation sequence ids and detects stale work.
package sequence

import "go.uber.org/atomic"

// Sequencer hands out monotonically increasing ids. Work that captured an id
// is stale as soon as a newer id has been issued.
type Sequencer struct {
	n atomic.Uint64
}

// Next issues a fresh id.
func (s *Sequencer) Next() uint64 {
	return s.n.Inc()
}

// IsStale reports whether id is no longer the most recently issued id.
func (s *Sequencer) IsStale(id uint64) bool {
	return s.n.Load() != id
}

// Current returns the most recently issued id (0 before the first Next).
func (s *Sequencer) Current() uint64 {
	return s.n.Load()
}
