//go:build unix

// Package term reads terminal properties for the line-based driver.
package term

import (
	"os"

	"golang.org/x/sys/unix"
)

// DefaultWidth is used when the width cannot be read.
const DefaultWidth = 80

// Width returns the column count of the terminal behind f.
func Width(f *os.File) int {
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		return DefaultWidth
	}
	return int(ws.Col)
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	_, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	return err == nil
}
