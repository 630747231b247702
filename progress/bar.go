package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Bar renders s as a fixed-width terminal bar, e.g. "[███████░░░]".
// A hidden indicator renders as blanks of the same width.
func (s State) Bar(width int) string {
	if width < 3 {
		return ""
	}
	if !s.Visible {
		return strings.Repeat(" ", width)
	}

	inner := width - 2
	filled := inner * s.Width / 100
	if filled > inner {
		filled = inner
	}

	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(strings.Repeat("█", filled))
	sb.WriteString(strings.Repeat("░", inner-filled))
	sb.WriteByte(']')
	return sb.String()
}

// TerminalSink redraws a bar in place on a terminal line.
type TerminalSink struct {
	mu    sync.Mutex
	w     io.Writer
	width int
}

// NewTerminalSink writes bars of the given width to w.
func NewTerminalSink(w io.Writer, width int) *TerminalSink {
	return &TerminalSink{w: w, width: width}
}

// Update redraws the bar.
func (t *TerminalSink) Update(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "\r%s\r", s.Bar(t.width))
}
