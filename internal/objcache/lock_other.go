//go:build !unix

package objcache

import "os"

// lockHeader/unlockHeader are no-ops on non-Unix hosts: the AArch64
// host this system targets is Linux in practice, but keeping the build
// portable (as the teacher's own build does, shipping both a Vulkan and
// a software-only render path) means this package still compiles
// elsewhere, with the understanding that concurrent multi-process
// header writes aren't coordinated off Unix.
func lockHeader(f *os.File) error   { return nil }
func unlockHeader(f *os.File) error { return nil }
