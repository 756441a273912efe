package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// runREPL puts stdin in raw mode and dispatches one keystroke at a time
// to the inspector, the way terminal_host.go reads raw bytes for its
// MMIO device — here there's no device to poll concurrently, so each
// keystroke is read with a single blocking Read instead of the
// non-blocking busy loop that pattern uses.
func runREPL(insp *inspector) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Piped input (e.g. in CI): run once non-interactively and exit.
		insp.next()
		return nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return nil
		}
		switch buf[0] {
		case 'n':
			term.Restore(fd, oldState)
			insp.next()
			term.MakeRaw(fd)
		case 'x':
			term.Restore(fd, oldState)
			insp.externalBranches()
			term.MakeRaw(fd)
		case 'c':
			term.Restore(fd, oldState)
			insp.compileAndInstall()
			term.MakeRaw(fd)
		case 'o':
			term.Restore(fd, oldState)
			insp.objcacheRoundTrip()
			term.MakeRaw(fd)
		case 'q', 0x03: // q or Ctrl-C
			return nil
		}
	}
}
