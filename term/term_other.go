//go:build !unix

package term

import "os"

const DefaultWidth = 80

func Width(*os.File) int { return DefaultWidth }

func IsTerminal(*os.File) bool { return false }
