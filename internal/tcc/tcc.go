// Package tcc implements the Translation Cache Coordinator from spec.md
// §4.2: the per-thread and per-process mapping from guest instruction
// pointers to translated host code, the named-region map backing
// persistent caching, and the invalidation protocol that keeps both
// consistent under self-modifying code.
//
// Grounded on the teacher's CoprocessorManager (coprocessor_manager.go):
// a single struct owning a mutex-guarded map keyed by a small integer
// (there, ticket IDs; here, guest IPs), generalized to a two-level map
// (per-thread, then per-IP) plus the global reader/writer invalidation
// lock spec.md §5 calls "a separate global code-invalidation lock [that]
// coordinates writers against all compilers".
package tcc

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/otley-systems/xlatecore/internal/fingerprint"
)

// ThreadID identifies one guest thread's translation cache.
type ThreadID uint64

// HostCode is the translated AArch64 byte sequence the external emitter
// produced for one guest block. TCC never interprets its contents.
type HostCode []byte

type translation struct {
	addr uint64
	code HostCode
}

// threadCache is one guest thread's guest-IP -> host-code map.
type threadCache struct {
	mu   sync.RWMutex
	byIP map[uint64]translation
}

// TCC owns every translation in the process plus the named-region map
// backing persistent caching. One TCC exists per running guest process.
type TCC struct {
	// codeInvalidation is the global reader/writer lock from §5:
	// compilers (Lookup/Install) hold it in reader mode; invalidators
	// (InvalidateRange/Clear/shutdown) hold it in writer mode so no
	// translation is ever returned concurrently with an invalidation
	// that affects it.
	codeInvalidation sync.RWMutex

	threadsMu sync.Mutex
	threads   map[ThreadID]*threadCache

	regionsMu sync.RWMutex
	regions   map[uint64]*CodeRegionEntry

	compileGroup singleflight.Group

	sharedMu sync.Mutex
	shared   bool
}

// New returns an empty coordinator.
func New() *TCC {
	return &TCC{
		threads: make(map[ThreadID]*threadCache),
		regions: make(map[uint64]*CodeRegionEntry),
	}
}

func (t *TCC) threadCacheFor(thread ThreadID) *threadCache {
	t.threadsMu.Lock()
	defer t.threadsMu.Unlock()
	tc, ok := t.threads[thread]
	if !ok {
		tc = &threadCache{byIP: make(map[uint64]translation)}
		t.threads[thread] = tc
	}
	return tc
}

// Lookup returns the host code registered for guestIP on thread, if
// any. It is the "quick, lock-free in the fast path" operation from
// §4.2; this implementation approximates that with a reader-lock pair
// (global invalidation RLock, then per-thread RLock) rather than a
// genuinely lock-free structure, trading a small amount of contention
// for a correctness argument that's easy to state.
func (t *TCC) Lookup(thread ThreadID, guestIP uint64) (HostCode, bool) {
	t.codeInvalidation.RLock()
	defer t.codeInvalidation.RUnlock()

	tc := t.threadCacheFor(thread)
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	tr, ok := tc.byIP[guestIP]
	if !ok {
		return nil, false
	}
	return tr.code, true
}

// Install publishes a newly compiled translation. Like Lookup, it
// participates in the invalidation protocol as a reader: an
// invalidation that has already begun (holds the writer lock) is
// allowed to finish before Install proceeds, so a just-compiled
// translation can never be installed after the invalidation it should
// have been subject to.
func (t *TCC) Install(thread ThreadID, guestIP uint64, host HostCode) {
	t.codeInvalidation.RLock()
	defer t.codeInvalidation.RUnlock()

	tc := t.threadCacheFor(thread)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.byIP[guestIP] = translation{addr: guestIP, code: host}
}

// InvalidateRange removes every translation on thread whose guest
// address falls in [start, start+length), invoking callback once per
// removed entry. It holds the global invalidation lock in writer mode
// for its duration, so no compiler can publish a translation into the
// range while it runs, and waits for any compiler already in flight to
// finish first (§4.2's "Invalidation waits for all outstanding compile
// jobs touching the affected range").
//
// Calling InvalidateRange twice in immediate succession has the same
// observable effect as calling it once: the second call simply finds
// nothing left in range to remove.
func (t *TCC) InvalidateRange(thread ThreadID, start, length uint64, callback func(guestIP uint64, host HostCode)) {
	t.codeInvalidation.Lock()
	defer t.codeInvalidation.Unlock()

	tc := t.threadCacheFor(thread)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	end := start + length
	for ip, tr := range tc.byIP {
		if ip >= start && ip < end {
			delete(tc.byIP, ip)
			if callback != nil {
				callback(ip, tr.code)
			}
		}
	}
}

// Clear wipes every translation owned by thread.
func (t *TCC) Clear(thread ThreadID) {
	t.codeInvalidation.Lock()
	defer t.codeInvalidation.Unlock()

	tc := t.threadCacheFor(thread)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.byIP = make(map[uint64]translation)
}

// MarkShared transitions the process from thread-local optimistic TSO
// emulation to process-wide caution, per §5: "If the host lacks
// hardware TSO, atomic emulation is enabled when either (a) any memory
// has been marked shared or (b) auto-migration is disabled". Unlike the
// per-thread cache operations, this flag is process-global by design.
func (t *TCC) MarkShared() {
	t.sharedMu.Lock()
	defer t.sharedMu.Unlock()
	t.shared = true
}

// Shared reports whether MarkShared has been called.
func (t *TCC) Shared() bool {
	t.sharedMu.Lock()
	defer t.sharedMu.Unlock()
	return t.shared
}

// CompileOnce serializes concurrent compiles that share the same
// fingerprint, satisfying the invariant "at most one concurrent compile
// per fingerprint is in flight". Duplicate callers block on the first
// compile's result rather than redoing the work.
func (t *TCC) CompileOnce(key fingerprint.Key, compile func() (HostCode, error)) (HostCode, error, bool) {
	v, err, shared := t.compileGroup.Do(fingerprintKey(key), func() (any, error) {
		return compile()
	})
	if v == nil {
		return nil, err, shared
	}
	return v.(HostCode), err, shared
}

func fingerprintKey(k fingerprint.Key) string {
	return fmt.Sprintf("%x:%x:%x:%x", k.GuestIP, k.GuestCodeLen, k.GuestCodeHash, k.SerializationConfig)
}

// RegisterRegion adds a new named region in the Registering state and
// returns it; the caller holds NamedJobRefCount in writer mode (per
// §4.3 step 1) until the async add completes and MarkReady is called.
// If a region already exists at the same base, the previous entry is
// returned alongside the new one so the caller can wait on its writer
// lock before replacing it, per §4.3 step 3.
func (t *TCC) RegisterRegion(base, size, offset uint64, filename string) (entry *CodeRegionEntry, previous *CodeRegionEntry) {
	t.regionsMu.Lock()
	defer t.regionsMu.Unlock()

	previous = t.regions[base]
	entry = NewCodeRegionEntry(base, size, offset, filename)
	t.regions[base] = entry
	return entry, previous
}

// RemoveRegion moves the entry at base out of the map so the caller can
// perform the producer-side steps of §4.3's remove job (unmap the
// backing file, drop the unrelocated-address entry, enqueue the remove
// job) while holding exclusive ownership of the returned entry.
func (t *TCC) RemoveRegion(base uint64) *CodeRegionEntry {
	t.regionsMu.Lock()
	defer t.regionsMu.Unlock()
	e, ok := t.regions[base]
	if !ok {
		return nil
	}
	delete(t.regions, base)
	return e
}

// Region looks up the named region at base, or nil if none is
// registered.
func (t *TCC) Region(base uint64) *CodeRegionEntry {
	t.regionsMu.RLock()
	defer t.regionsMu.RUnlock()
	return t.regions[base]
}

// Regions returns a snapshot of every live named region, used by the
// AOCS shutdown closure walk ("Closure on shutdown walks every live
// entry once").
func (t *TCC) Regions() []*CodeRegionEntry {
	t.regionsMu.RLock()
	defer t.regionsMu.RUnlock()
	out := make([]*CodeRegionEntry, 0, len(t.regions))
	for _, e := range t.regions {
		out = append(out, e)
	}
	return out
}
