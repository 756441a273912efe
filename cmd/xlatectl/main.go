// Command xlatectl is an interactive inspector over one guest code
// stream: it runs multi-block discovery from a chosen entry point, then
// drops into a single-keystroke REPL for walking the discovered blocks,
// installing a translation into a Translation Cache Coordinator, and
// round-tripping a region through the async object-cache service.
//
// Grounded on the teacher's main.go command-line shape (a fixed
// positional argument list parsed by hand, no framework) and
// terminal_host.go's raw-mode stdin reader, adapted from its
// MMIO-feeding polling loop to a blocking read-one-keystroke REPL since
// this tool has no concurrent device to service between keystrokes.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/decoder"
	"github.com/otley-systems/xlatecore/internal/frontend"
	"github.com/otley-systems/xlatecore/internal/objcache"
	"github.com/otley-systems/xlatecore/internal/tcc"
)

func main() {
	var (
		file       = flag.String("file", "", "path to a raw guest x86 byte stream (default: stdin)")
		entryHex   = flag.String("entry", "0", "guest entry address, hex")
		multiblock = flag.Bool("multiblock", true, "enable multi-block discovery")
		maxInst    = flag.Int("maxinst", 0, "instruction budget per translation unit (0 = default)")
		cacheFile  = flag.String("cache", "", "on-disk object-cache file for the named-region demo")
	)
	flag.Parse()

	var entry uint64
	if _, err := fmt.Sscanf(*entryHex, "%x", &entry); err != nil {
		fmt.Fprintf(os.Stderr, "xlatectl: bad -entry value %q: %v\n", *entryHex, err)
		os.Exit(1)
	}

	stream, err := readStream(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xlatectl: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Multiblock = *multiblock
	cfg.MaxInstPerBlock = *maxInst
	if *cacheFile != "" {
		cfg.CacheObjectCodeCompilation = config.CacheObjectCodeCompilationReadWrite
	}

	dec := decoder.New(cfg)
	fe := frontend.New(dec, cfg)
	coord := tcc.New()
	cache := objcache.New(cfg, coord)
	cache.Start()
	defer cache.Shutdown()

	insp := &inspector{
		cfg:       cfg,
		frontend:  fe,
		coord:     coord,
		cache:     cache,
		stream:    stream,
		entry:     entry,
		cacheFile: *cacheFile,
	}
	if err := insp.discover(); err != nil {
		fmt.Fprintf(os.Stderr, "xlatectl: discovery failed: %v\n", err)
		os.Exit(1)
	}
	insp.printSummary()

	if err := runREPL(insp); err != nil {
		fmt.Fprintf(os.Stderr, "xlatectl: %v\n", err)
		os.Exit(1)
	}
}

func readStream(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
