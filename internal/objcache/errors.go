package objcache

import "errors"

// ErrCacheCorruption is the sentinel for spec.md §7's CacheCorruption
// error kind: header mismatch, short read, or hash mismatch on load.
// Recovered by the caller: the region is marked Corrupt and the cache
// is treated as absent rather than the process failing.
var ErrCacheCorruption = errors.New("objcache: cache file corrupt")

// ErrResourceExhaustion is spec.md §7's ResourceExhaustion kind: unable
// to map a file, allocate a decode pool, or queue a job. Fatal to the
// specific request; the caller treats it as a cache miss.
var ErrResourceExhaustion = errors.New("objcache: resource exhaustion")

// ErrShuttingDown is returned by the producer-facing Async* calls once
// shutdown has been requested; no new work is accepted past that point.
var ErrShuttingDown = errors.New("objcache: service is shutting down")
