// Package objcache implements the Async Object-Cache Service (AOCS)
// from spec.md §4.3: one background worker that persists translated
// code to disk and loads cached regions on demand, draining a
// named-region queue ahead of a bulk serialization queue on every wake.
//
// Grounded on the teacher's CoprocessorManager worker/ticket pattern
// (coprocessor_manager.go, coproc_worker_x86.go): there, a dedicated
// goroutine drains MMIO-issued work items and reports completion
// through a shared map; here, the same shape drives file I/O instead of
// emulated CPU instructions, and golang.org/x/sync/errgroup replaces
// the teacher's sequential shutdown loop for the "walk every live
// entry" closure pass, since that work is naturally parallel and
// independent per region.
package objcache

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/tcc"
	"github.com/otley-systems/xlatecore/internal/xlog"
)

// Service owns the two work queues and the single worker goroutine
// that drains them, per §5: "one dedicated worker thread for AOCS
// (single-consumer on both queues)".
type Service struct {
	cfg *config.Options
	tcc *tcc.TCC
	log *slog.Logger

	mu          sync.Mutex
	namedQueue  []any // *WorkItemAddNamedRegion | *WorkItemRemoveNamedRegion
	serialQueue []*SerializationJobData

	wake         chan struct{}
	shutdownCh   chan struct{}
	doneCh       chan struct{}
	shutdownOnce sync.Once
	shuttingDown atomic.Bool

	cache *sectionCache

	fdMu sync.Mutex
	fds  map[uint64]*os.File
}

// New constructs a Service bound to the given coordinator. Start must
// be called before any Async* method is used.
func New(cfg *config.Options, t *tcc.TCC) *Service {
	return &Service{
		cfg:        cfg,
		tcc:        t,
		log:        xlog.For(xlog.ObjCache),
		wake:       make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		cache:      newSectionCache(),
		fds:        make(map[uint64]*os.File),
	}
}

// Start launches the worker goroutine, whatever the configured cache
// mode. With CacheObjectCodeCompilationNone, AsyncAddSerializationJob
// releases and drops each job without queueing it; named-region add and
// remove jobs are still queued and processed by the worker.
func (s *Service) Start() {
	go s.run()
}

func (s *Service) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) enabled() bool {
	return s.cfg.CacheObjectCodeCompilation != config.CacheObjectCodeCompilationNone
}

// AsyncAddNamedRegion implements §4.3's named-region add job. It
// registers the region, takes its NamedJobRefCount writer lock so
// concurrent lookups block until the worker finishes loading it, waits
// out any previous entry at the same base, then enqueues the load for
// the worker.
func (s *Service) AsyncAddNamedRegion(base, size, offset uint64, filename string) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}
	entry, previous := s.tcc.RegisterRegion(base, size, offset, filename)
	entry.NamedJobRefCount.Lock()

	if previous != nil {
		previous.NamedJobRefCount.Lock()
		s.closeRegionFile(previous.Base)
		s.cache.invalidateRegion(previous.Base)
		previous.NamedJobRefCount.Unlock()
	}

	item := &WorkItemAddNamedRegion{Entry: entry, Done: make(chan error, 1)}
	s.mu.Lock()
	s.namedQueue = append(s.namedQueue, item)
	s.mu.Unlock()
	s.wakeUp()
	return nil
}

// AsyncRemoveNamedRegion implements §4.3's named-region remove job.
func (s *Service) AsyncRemoveNamedRegion(base uint64) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}
	entry := s.tcc.Region(base)
	if entry == nil {
		return nil
	}
	entry.NamedJobRefCount.Lock() // waits for an outstanding add to finish
	s.tcc.RemoveRegion(base)
	s.cache.invalidateRegion(base)

	item := &WorkItemRemoveNamedRegion{Entry: entry, Done: make(chan error, 1)}
	s.mu.Lock()
	s.namedQueue = append(s.namedQueue, item)
	s.mu.Unlock()
	s.wakeUp()
	return nil
}

// AsyncAddSerializationJob enqueues a completed translation for
// persistence. The caller must have already locked job.ThreadRefCount
// in reader mode and computed job.HostCodeHash before calling, per
// §4.3's ordering requirement.
func (s *Service) AsyncAddSerializationJob(job *SerializationJobData) error {
	if !s.enabled() {
		job.release()
		return nil
	}
	if s.shuttingDown.Load() {
		job.release()
		return ErrShuttingDown
	}
	s.mu.Lock()
	s.serialQueue = append(s.serialQueue, job)
	s.mu.Unlock()
	s.wakeUp()
	return nil
}

// FetchCodeObject implements §6's fetch_code_object_from_cache(guest_ip).
// The reader-lock acquisition on NamedJobRefCount is what makes this
// call "block briefly... while an add is in flight" per §5, rather than
// racing the worker's in-progress load.
func (s *Service) FetchCodeObject(guestIP uint64) (*tcc.CodeObjectFileSection, bool) {
	for _, r := range s.tcc.Regions() {
		if guestIP < r.Base || guestIP >= r.Base+r.Size {
			continue
		}
		if sec, ok := s.cache.get(r.Base, guestIP); ok {
			return sec, true
		}
		r.NamedJobRefCount.RLock()
		sec := r.Section(guestIP)
		r.NamedJobRefCount.RUnlock()
		if sec != nil {
			s.cache.put(r.Base, guestIP, sec)
			return sec, true
		}
		return nil, false
	}
	return nil, false
}

// WaitForEmptyJobQueue implements §6's wait_for_empty_job_queue: a
// writer-acquire/release on the supplied mutex blocks until every
// reader (outstanding job referencing it) has released its hold.
func WaitForEmptyJobQueue(m *sync.RWMutex) {
	m.Lock()
	m.Unlock()
}

// Shutdown sets the shared flag, signals the worker, lets it drain the
// named-region queue to completion (dropping the serialization queue
// outright), then runs the closure pass over every live region
// concurrently before returning.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)
		close(s.shutdownCh)
		s.wakeUp()
	})
	<-s.doneCh
}

func (s *Service) run() {
	for {
		s.mu.Lock()
		var item any
		switch {
		case len(s.namedQueue) > 0:
			item = s.namedQueue[0]
			s.namedQueue = s.namedQueue[1:]
		case !s.shuttingDown.Load() && len(s.serialQueue) > 0:
			item = s.serialQueue[0]
			s.serialQueue = s.serialQueue[1:]
		}
		s.mu.Unlock()

		if item == nil {
			if s.shuttingDown.Load() {
				s.dropPendingSerialJobs()
				s.closeAllRegionFiles()
				close(s.doneCh)
				return
			}
			select {
			case <-s.wake:
			case <-s.shutdownCh:
			}
			continue
		}

		switch w := item.(type) {
		case *WorkItemAddNamedRegion:
			s.processAdd(w)
		case *WorkItemRemoveNamedRegion:
			s.processRemove(w)
		case *SerializationJobData:
			s.processSerialize(w)
		}
	}
}

func (s *Service) dropPendingSerialJobs() {
	s.mu.Lock()
	pending := s.serialQueue
	s.serialQueue = nil
	s.mu.Unlock()
	for _, j := range pending {
		j.release()
	}
}

func (s *Service) processAdd(w *WorkItemAddNamedRegion) {
	entry := w.Entry
	err := s.loadRegionFile(entry)
	switch {
	case err == nil:
		entry.MarkReady()
	case err == os.ErrNotExist || os.IsNotExist(err):
		entry.MarkReady() // no file yet: fresh region, nothing to load
	default:
		s.log.Warn("region cache load failed, demoting to corrupt", "base", entry.Base, "error", err)
		entry.NoteCorruption(s.cfg.CorruptionThreshold)
	}
	entry.NamedJobRefCount.Unlock()
	if w.Done != nil {
		w.Done <- err
		close(w.Done)
	}
}

func (s *Service) processRemove(w *WorkItemRemoveNamedRegion) {
	entry := w.Entry
	entry.BeginRemove()
	s.closeRegionFile(entry.Base)
	entry.MarkGone()
	entry.NamedJobRefCount.Unlock()
	if w.Done != nil {
		close(w.Done)
	}
}

func (s *Service) processSerialize(job *SerializationJobData) {
	defer job.release()
	if job.Region == nil {
		return
	}
	if !job.rehash() {
		// InvalidationRaceDetected (§7): backpatching raced the
		// enqueue; drop the job silently rather than persist stale
		// host code.
		return
	}
	if job.Region.State() == tcc.Corrupt {
		return // corrupt regions refuse new serialize jobs (§4.2)
	}

	job.Region.ObjectJobRefCount.RLock()
	defer job.Region.ObjectJobRefCount.RUnlock()

	entry, err := s.appendToFile(job)
	if err != nil {
		s.log.Warn("serialize failed, demoting region to corrupt", "base", job.Region.Base, "error", err)
		job.Region.NoteCorruption(s.cfg.CorruptionThreshold)
		return
	}

	sec := &tcc.CodeObjectFileSection{
		Serialized:  true,
		HostCode:    job.HostCode,
		RelocCount:  entry.RelocCount,
		RelocOffset: entry.RelocOffset,
	}
	job.Region.PutSection(job.GuestIP, sec)
	s.cache.put(job.Region.Base, job.GuestIP, sec)
}

// loadRegionFile reads a region's on-disk file (if any) and populates
// its in-memory section map.
func (s *Service) loadRegionFile(entry *tcc.CodeRegionEntry) error {
	if entry.Filename == "" {
		return nil
	}
	f, err := s.openFD(entry)
	if err != nil {
		return err
	}
	if err := lockHeader(f); err != nil {
		return err
	}
	defer unlockHeader(f)

	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	rf, err := Deserialize(f)
	if err != nil {
		return err
	}
	for _, e := range rf.Entries {
		entry.PutSection(e.GuestRIP, &tcc.CodeObjectFileSection{
			Serialized:  true,
			HostCode:    rf.CodeFor(e),
			RelocCount:  e.RelocCount,
			RelocOffset: e.RelocOffset,
		})
	}
	return nil
}

// appendToFile adds one translation to a region's on-disk file,
// read-modify-write under the advisory header lock (§6).
func (s *Service) appendToFile(job *SerializationJobData) (CodeEntry, error) {
	region := job.Region
	f, err := s.openFD(region)
	if err != nil {
		return CodeEntry{}, err
	}
	if err := lockHeader(f); err != nil {
		return CodeEntry{}, err
	}
	defer unlockHeader(f)

	if _, err := f.Seek(0, 0); err != nil {
		return CodeEntry{}, err
	}
	info, err := f.Stat()
	if err != nil {
		return CodeEntry{}, err
	}

	var rf *RegionFile
	if info.Size() == 0 {
		h := NewHeader(s.cfg, region.Base, region.FileOffset)
		rf = &RegionFile{Header: h}
	} else {
		rf, err = Deserialize(f)
		if err != nil {
			return CodeEntry{}, err
		}
	}

	e := rf.AppendEntry(job.GuestIP, job.HostCode, job.Relocations)

	if err := f.Truncate(0); err != nil {
		return CodeEntry{}, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return CodeEntry{}, err
	}
	if err := rf.Serialize(f); err != nil {
		return CodeEntry{}, err
	}
	return e, nil
}

func (s *Service) openFD(entry *tcc.CodeRegionEntry) (*os.File, error) {
	s.fdMu.Lock()
	defer s.fdMu.Unlock()
	if f, ok := s.fds[entry.Base]; ok {
		return f, nil
	}
	if entry.Filename == "" {
		return nil, os.ErrNotExist
	}
	if dir := filepath.Dir(entry.Filename); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(entry.Filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	s.fds[entry.Base] = f
	return f, nil
}

func (s *Service) closeRegionFile(base uint64) {
	s.fdMu.Lock()
	defer s.fdMu.Unlock()
	if f, ok := s.fds[base]; ok {
		f.Close()
		delete(s.fds, base)
	}
}

// closeAllRegionFiles is the shutdown closure walk from §4.3: every
// live region's file handle is flushed and closed, concurrently since
// each region is independent.
func (s *Service) closeAllRegionFiles() {
	var g errgroup.Group
	for _, r := range s.tcc.Regions() {
		base := r.Base
		g.Go(func() error {
			s.closeRegionFile(base)
			return nil
		})
	}
	_ = g.Wait()
}
