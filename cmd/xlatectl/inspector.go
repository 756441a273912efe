package main

import (
	"fmt"
	"sync"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/fingerprint"
	"github.com/otley-systems/xlatecore/internal/frontend"
	"github.com/otley-systems/xlatecore/internal/ir"
	"github.com/otley-systems/xlatecore/internal/objcache"
	"github.com/otley-systems/xlatecore/internal/tcc"
	"github.com/otley-systems/xlatecore/internal/xlog"
)

var log = xlog.For(xlog.Frontend)

// inspector holds everything one REPL session drives: the discovered
// translation unit plus the TCC/AOCS instances commands exercise.
type inspector struct {
	cfg       *config.Options
	frontend  *frontend.Frontend
	coord     *tcc.TCC
	cache     *objcache.Service
	stream    []byte
	entry     uint64
	cacheFile string

	info   *ir.BlockInfo
	cursor int // index into info.Blocks, walked by the 'n' command
}

func (insp *inspector) discover() error {
	info, err := insp.frontend.DecodeAtEntry(insp.stream, insp.entry, insp.entry, 0, insp.notifyPage)
	if err != nil {
		return err
	}
	insp.info = info
	return nil
}

func (insp *inspector) notifyPage(entry, pageBase, pageSize uint64) {
	log.Debug("touched guest page", "entry", fmt.Sprintf("%#x", entry), "page", fmt.Sprintf("%#x", pageBase), "size", pageSize)
}

func (insp *inspector) printSummary() {
	fmt.Printf("entry %#x: %d block(s), %d instruction(s), %d external branch(es)\n",
		insp.entry, len(insp.info.Blocks), insp.info.TotalInstructionCount, len(insp.info.ExternalBranches))
	fmt.Println("keys: n=next block  x=external branches  c=compile+install  o=objcache round-trip  q=quit")
}

// next prints the next undisplayed block's decoded instructions.
func (insp *inspector) next() {
	if insp.cursor >= len(insp.info.Blocks) {
		fmt.Println("(no more blocks)")
		return
	}
	b := insp.info.Blocks[insp.cursor]
	insp.cursor++
	fmt.Printf("block @ %#x (%d instr, invalid=%v)\n", b.Entry, b.Count, b.HasInvalidInstruction)
	for _, inst := range insp.info.Pool[b.Start : b.Start+b.Count] {
		fmt.Printf("  %#08x  %-8s size=%d\n", inst.PC, inst.Mnemonic, inst.Size)
	}
}

func (insp *inspector) externalBranches() {
	if len(insp.info.ExternalBranches) == 0 {
		fmt.Println("(no external branches)")
		return
	}
	for _, e := range insp.info.ExternalBranches {
		fmt.Printf("  %#08x -> %#08x  kind=%v\n", e.FromPC, e.Target, e.Kind)
	}
}

// compileAndInstall simulates the emitter by fabricating one NOP-sled
// host translation for the entry block and installing it into the
// coordinator through CompileOnce, demonstrating the duplicate-compile
// suppression path.
func (insp *inspector) compileAndInstall() {
	entryBlock, ok := insp.entryBlockOf()
	if !ok {
		fmt.Println("(nothing to compile)")
		return
	}
	guestBytes := insp.stream[entryBlock.Entry-insp.entry : entryBlock.Entry-insp.entry+uint64(blockByteLen(insp.info, entryBlock))]
	key := fingerprint.New(entryBlock.Entry, guestBytes, insp.cfg)

	host, err, shared := insp.coord.CompileOnce(key, func() (tcc.HostCode, error) {
		return tcc.HostCode{0xD5, 0x03, 0x20, 0x1F}, nil // AArch64 NOP, 4 bytes
	})
	if err != nil {
		fmt.Printf("compile failed: %v\n", err)
		return
	}
	insp.coord.Install(0, entryBlock.Entry, host)
	fmt.Printf("installed %d host byte(s) for %#x (shared compile group: %v)\n", len(host), entryBlock.Entry, shared)
}

// entryBlockOf returns the block whose guest address is the translation
// unit's original entry point, since Blocks is sorted by address and a
// backward branch can put an earlier-addressed block first.
func (insp *inspector) entryBlockOf() (ir.Block, bool) {
	for _, b := range insp.info.Blocks {
		if b.Entry == insp.entry {
			return b, true
		}
	}
	return ir.Block{}, false
}

func blockByteLen(info *ir.BlockInfo, b ir.Block) int {
	n := 0
	for _, inst := range info.Pool[b.Start : b.Start+b.Count] {
		n += inst.Size
	}
	return n
}

// objcacheRoundTrip registers a named region backed by -cache, persists
// the entry block's (fake) host code into it through the async service,
// waits for the write, then fetches it back.
func (insp *inspector) objcacheRoundTrip() {
	if insp.cacheFile == "" {
		fmt.Println("(no -cache file configured)")
		return
	}
	entryBlock, ok := insp.entryBlockOf()
	if !ok {
		fmt.Println("(nothing to persist)")
		return
	}
	base := insp.entry

	if err := insp.cache.AsyncAddNamedRegion(base, uint64(len(insp.stream)), 0, insp.cacheFile); err != nil {
		fmt.Printf("AsyncAddNamedRegion: %v\n", err)
		return
	}

	region := insp.coord.Region(base)
	if region == nil {
		fmt.Println("region did not register")
		return
	}

	hostCode := []byte{0xD5, 0x03, 0x20, 0x1F}
	var threadRef sync.RWMutex
	ref := &threadRef
	ref.RLock()
	job := &objcache.SerializationJobData{
		GuestIP:        entryBlock.Entry,
		GuestCodeLen:   uint64(blockByteLen(insp.info, entryBlock)),
		HostCode:       hostCode,
		HostCodeHash:   fingerprint.HashCode(hostCode),
		Region:         region,
		ThreadRefCount: ref,
	}
	if err := insp.cache.AsyncAddSerializationJob(job); err != nil {
		fmt.Printf("AsyncAddSerializationJob: %v\n", err)
		return
	}
	objcache.WaitForEmptyJobQueue(ref)

	sec, ok := insp.cache.FetchCodeObject(entryBlock.Entry)
	if !ok {
		fmt.Println("fetch after serialize: miss")
		return
	}
	fmt.Printf("round-tripped %d host byte(s) for %#x through %s\n", len(sec.HostCode), entryBlock.Entry, insp.cacheFile)
}
