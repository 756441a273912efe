//go:build unix

// Package objcache's advisory whole-file lock (flock, not a byte-range
// lock over the header), so multiple processes sharing a cache file
// serialize their
// read-modify-write of the header per spec.md §6 ("writers must hold
// an OS file lock... across read-modify-write"). Grounded on
// golang.org/x/sys/unix's Flock, the same dependency the teacher's
// go.mod pulls in (there, transitively through gomobile tooling; here,
// exercised directly for its advisory-locking primitive).
package objcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockHeader takes an advisory exclusive flock on the whole open file;
// no narrower byte range is locked. The lock is released by
// unlockHeader; both must be
// called from the same goroutine holding the file descriptor, since
// flock locks are per-open-file-description, not per-process.
func lockHeader(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func unlockHeader(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
