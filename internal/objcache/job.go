package objcache

import (
	"sync"

	"github.com/otley-systems/xlatecore/internal/fingerprint"
	"github.com/otley-systems/xlatecore/internal/tcc"
)

// CodeEntry is one per-translation descriptor within a serialized
// region file: spec.md §6's "array of per-entry descriptors (guest RIP,
// host code offset, host code length, relocation count, relocation
// offset)".
type CodeEntry struct {
	GuestRIP    uint64
	HostOffset  uint64
	HostLength  uint64
	RelocCount  uint64
	RelocOffset uint64
}

// SerializationJobData is spec.md §3's SerializationJobData: everything
// the worker needs to append one completed translation to its region's
// file, plus the two hashes the producer computed up front so the
// worker can detect a backpatching race on dequeue.
type SerializationJobData struct {
	GuestIP       uint64
	GuestCodeLen  uint64
	GuestCodeHash uint64

	HostCode     []byte
	HostCodeHash uint64 // computed before enqueue, pre-backpatch

	Relocations []uint64

	Region *tcc.CodeRegionEntry

	// ThreadRefCount is held in reader mode by the producer before
	// enqueue; the worker releases it once the job is fully processed
	// (written, dropped, or detected as stale), per §4.3's "the job
	// holds a pointer to the thread's refcount mutex (in reader mode);
	// the worker releases it on completion".
	ThreadRefCount *sync.RWMutex
}

// release unlocks the job's reference to its thread's refcount mutex,
// exactly once, regardless of how the job was resolved.
func (j *SerializationJobData) release() {
	if j.ThreadRefCount != nil {
		j.ThreadRefCount.RUnlock()
	}
}

// rehash reports whether the host code still matches the hash the
// producer took at enqueue time. A false result (a mismatch) means
// backpatching happened
// while the job waited in queue, which §4.3 and the
// InvalidationRaceDetected error kind in §7 both call out by name; the
// job is dropped silently rather than writing stale bytes to disk.
func (j *SerializationJobData) rehash() bool {
	return fingerprint.HashCode(j.HostCode) == j.HostCodeHash
}

// WorkItemAddNamedRegion is spec.md §3's WorkItemAddNamedRegion: the
// worker's instructions for bringing a newly registered region online.
type WorkItemAddNamedRegion struct {
	Entry *tcc.CodeRegionEntry
	// Done is closed by the worker once the entry transitions to Ready
	// (or Corrupt, on load failure). AsyncAddNamedRegion does not hand
	// the channel back to its caller; callers that need the load to
	// finish wait on the entry's NamedJobRefCount instead.
	Done chan error
}

// WorkItemRemoveNamedRegion is spec.md §3's WorkItemRemoveNamedRegion:
// the worker's instructions for closing out a region the producer has
// already detached from the live map.
type WorkItemRemoveNamedRegion struct {
	Entry *tcc.CodeRegionEntry
	Done  chan error
}
