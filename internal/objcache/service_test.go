package objcache

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/fingerprint"
	"github.com/otley-systems/xlatecore/internal/tcc"
)

func TestAsyncAddNamedRegionFreshFileMarksReady(t *testing.T) {
	coord := tcc.New()
	svc := New(config.Default(), coord)
	svc.Start()

	filename := filepath.Join(t.TempDir(), "fresh.cache")
	if err := svc.AsyncAddNamedRegion(0x20000, 0x1000, 0, filename); err != nil {
		t.Fatalf("AsyncAddNamedRegion: %v", err)
	}

	svc.Shutdown()

	e := coord.Region(0x20000)
	if e == nil {
		t.Fatal("region should still be registered")
	}
	if e.State() != tcc.Ready {
		t.Errorf("state = %v, want Ready", e.State())
	}
}

// TestSerializeThenFetch exercises the full write path: a serialization
// job is appended to a region's on-disk file, then FetchCodeObject
// returns the bytes just persisted.
func TestSerializeThenFetch(t *testing.T) {
	coord := tcc.New()
	cfg := config.Default()
	cfg.CacheObjectCodeCompilation = config.CacheObjectCodeCompilationReadWrite
	svc := New(cfg, coord)
	svc.Start()
	defer svc.Shutdown()

	filename := filepath.Join(t.TempDir(), "region.cache")
	entry, _ := coord.RegisterRegion(0x10000, 0x1000, 0, filename)
	entry.MarkReady()

	hostCode := []byte{0x90, 0x90, 0xC3}
	var refMu sync.RWMutex
	refMu.RLock()
	job := &SerializationJobData{
		GuestIP:        0x10000,
		GuestCodeLen:   3,
		GuestCodeHash:  0xABCD,
		HostCode:       hostCode,
		HostCodeHash:   fingerprint.HashCode(hostCode),
		Region:         entry,
		ThreadRefCount: &refMu,
	}
	if err := svc.AsyncAddSerializationJob(job); err != nil {
		t.Fatalf("AsyncAddSerializationJob: %v", err)
	}
	WaitForEmptyJobQueue(&refMu)

	sec, ok := svc.FetchCodeObject(0x10000)
	if !ok {
		t.Fatal("FetchCodeObject should find the just-serialized section")
	}
	if string(sec.HostCode) != string(hostCode) {
		t.Errorf("fetched host code = %v, want %v", sec.HostCode, hostCode)
	}
}

// TestSerializeDropsBackpatchedJob is §7's InvalidationRaceDetected
// case: if the host code changed since HostCodeHash was computed, the
// job is dropped silently and never reaches the section map.
func TestSerializeDropsBackpatchedJob(t *testing.T) {
	coord := tcc.New()
	cfg := config.Default()
	cfg.CacheObjectCodeCompilation = config.CacheObjectCodeCompilationReadWrite
	svc := New(cfg, coord)
	svc.Start()
	defer svc.Shutdown()

	filename := filepath.Join(t.TempDir(), "region.cache")
	entry, _ := coord.RegisterRegion(0x10000, 0x1000, 0, filename)
	entry.MarkReady()

	var refMu sync.RWMutex
	refMu.RLock()
	job := &SerializationJobData{
		GuestIP:        0x10000,
		HostCode:       []byte{0x90},
		HostCodeHash:   fingerprint.HashCode([]byte{0xFF}), // stale hash: mismatch
		Region:         entry,
		ThreadRefCount: &refMu,
	}
	if err := svc.AsyncAddSerializationJob(job); err != nil {
		t.Fatalf("AsyncAddSerializationJob: %v", err)
	}
	WaitForEmptyJobQueue(&refMu)

	if _, ok := svc.FetchCodeObject(0x10000); ok {
		t.Error("a backpatched job should never be persisted")
	}
}

func TestAsyncAddSerializationJobDisabledReleasesImmediately(t *testing.T) {
	svc := New(config.Default(), tcc.New()) // CacheObjectCodeCompilationNone

	var refMu sync.RWMutex
	refMu.RLock()
	job := &SerializationJobData{ThreadRefCount: &refMu}
	if err := svc.AsyncAddSerializationJob(job); err != nil {
		t.Fatalf("AsyncAddSerializationJob: %v", err)
	}
	if !refMu.TryLock() {
		t.Fatal("job should have released its reader lock synchronously when caching is disabled")
	}
	refMu.Unlock()
}

func TestShutdownRejectsFurtherWork(t *testing.T) {
	svc := New(config.Default(), tcc.New())
	svc.Start()
	svc.Shutdown()

	if err := svc.AsyncAddNamedRegion(0x1000, 0x100, 0, ""); err != ErrShuttingDown {
		t.Errorf("AsyncAddNamedRegion after shutdown = %v, want ErrShuttingDown", err)
	}
	if err := svc.AsyncRemoveNamedRegion(0x1000); err != ErrShuttingDown {
		t.Errorf("AsyncRemoveNamedRegion after shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	svc := New(config.Default(), tcc.New())
	svc.Start()
	svc.Shutdown()
	svc.Shutdown() // must not block or panic the second time
}

func TestAsyncRemoveNamedRegionClosesFile(t *testing.T) {
	coord := tcc.New()
	cfg := config.Default()
	svc := New(cfg, coord)
	svc.Start()

	filename := filepath.Join(t.TempDir(), "region.cache")
	if err := svc.AsyncAddNamedRegion(0x30000, 0x1000, 0, filename); err != nil {
		t.Fatalf("AsyncAddNamedRegion: %v", err)
	}
	if err := svc.AsyncRemoveNamedRegion(0x30000); err != nil {
		t.Fatalf("AsyncRemoveNamedRegion: %v", err)
	}

	svc.Shutdown()

	if coord.Region(0x30000) != nil {
		t.Error("region should no longer be registered after remove")
	}
	svc.fdMu.Lock()
	_, open := svc.fds[0x30000]
	svc.fdMu.Unlock()
	if open {
		t.Error("region file should be closed after remove")
	}
}
