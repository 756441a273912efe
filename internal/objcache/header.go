package objcache

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/otley-systems/xlatecore/internal/config"
)

// cookie is the on-disk magic: "FEXC" packed into the high 32 bits of
// the header's first field, matching spec.md §6's "magic 'FEXC' << 32 |
// code_version" description.
const cookie uint32 = 0x46455843 // "FEXC"

// CodeVersion is bumped whenever the on-disk layout changes
// incompatibly; a mismatch means the cache is ignored, never deleted
// (§6's "Process-to-process contract").
const CodeVersion uint32 = 1

// Header flag bits, laid out exactly as spec.md §6 specifies.
const (
	FlagMultiblock          uint32 = 1 << 0
	FlagTSOEnabled          uint32 = 1 << 1
	FlagParanoidTSO         uint32 = 1 << 2
	FlagIs64BitMode         uint32 = 1 << 3
	FlagX87ReducedPrecision uint32 = 1 << 4
	FlagMemcpySetTSO        uint32 = 1 << 5
	smcChecksShift                 = 8
	smcChecksMask           uint32 = 0xF << smcChecksShift
)

// Header is the bit-exact on-disk layout from spec.md §6. Field order
// and widths match the spec precisely; Go's own struct layout happens
// to introduce no padding here (every uint32 run is a multiple of 8
// bytes before the next uint64), but WriteTo and ReadHeader in this
// file are written as if that weren't guaranteed, encoding each
// field explicitly so a future field reordering can't silently change
// the wire format.
type Header struct {
	CookieVersion    uint64 // cookie<<32 | CodeVersion
	Arch             uint32
	Flags            uint32
	MaxInstPerBlock  uint32
	ABILocalFlags    uint32
	OriginalBase     uint64
	OriginalOffset   uint64
	TotalCodeSize    uint64
	NumCodeEntries   uint64
	NumRelocsToHere  uint64
	TotalRelocations uint64
}

// HeaderSize is the fixed on-disk size of Header: 11 scalar fields,
// 72 bytes total, no padding.
const HeaderSize = 8 + 4*4 + 8*6

// NewHeader builds a Header for a freshly serialized region, packing
// the configuration bits spec.md §4.3's fingerprint also covers into
// the flags word.
func NewHeader(o *config.Options, base, offset uint64) Header {
	var flags uint32
	if o.Multiblock {
		flags |= FlagMultiblock
	}
	if o.TSOEnabled {
		flags |= FlagTSOEnabled
	}
	if o.ParanoidTSO {
		flags |= FlagParanoidTSO
	}
	if o.Is64BitMode {
		flags |= FlagIs64BitMode
	}
	if o.X87ReducedPrecision() {
		flags |= FlagX87ReducedPrecision
	}
	flags |= (uint32(o.SMCChecks) << smcChecksShift) & smcChecksMask

	return Header{
		CookieVersion:   uint64(cookie)<<32 | uint64(CodeVersion),
		Flags:           flags,
		MaxInstPerBlock: uint32(o.MaxInstPerBlockOrDefault()),
		OriginalBase:    base,
		OriginalOffset:  offset,
	}
}

// Valid reports whether the header's cookie and version match what
// this process writes; a mismatch means the cache is unusable (but not
// deleted, per §6).
func (h Header) Valid() bool {
	return uint32(h.CookieVersion>>32) == cookie && uint32(h.CookieVersion) == CodeVersion
}

// WriteTo encodes the header in the exact field order from spec.md §6.
func (h Header) WriteTo(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.CookieVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.Arch)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint32(buf[16:20], h.MaxInstPerBlock)
	binary.LittleEndian.PutUint32(buf[20:24], h.ABILocalFlags)
	binary.LittleEndian.PutUint64(buf[24:32], h.OriginalBase)
	binary.LittleEndian.PutUint64(buf[32:40], h.OriginalOffset)
	binary.LittleEndian.PutUint64(buf[40:48], h.TotalCodeSize)
	binary.LittleEndian.PutUint64(buf[48:56], h.NumCodeEntries)
	binary.LittleEndian.PutUint64(buf[56:64], h.NumRelocsToHere)
	binary.LittleEndian.PutUint64(buf[64:72], h.TotalRelocations)
	_, err := w.Write(buf)
	return err
}

// ReadHeader decodes a Header from its exact on-disk layout. A short
// read is reported as an error so the caller can classify it as
// CacheCorruption per §7, rather than silently returning a zero Header.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("objcache: short header read: %w", err)
	}
	var h Header
	h.CookieVersion = binary.LittleEndian.Uint64(buf[0:8])
	h.Arch = binary.LittleEndian.Uint32(buf[8:12])
	h.Flags = binary.LittleEndian.Uint32(buf[12:16])
	h.MaxInstPerBlock = binary.LittleEndian.Uint32(buf[16:20])
	h.ABILocalFlags = binary.LittleEndian.Uint32(buf[20:24])
	h.OriginalBase = binary.LittleEndian.Uint64(buf[24:32])
	h.OriginalOffset = binary.LittleEndian.Uint64(buf[32:40])
	h.TotalCodeSize = binary.LittleEndian.Uint64(buf[40:48])
	h.NumCodeEntries = binary.LittleEndian.Uint64(buf[48:56])
	h.NumRelocsToHere = binary.LittleEndian.Uint64(buf[56:64])
	h.TotalRelocations = binary.LittleEndian.Uint64(buf[64:72])
	return h, nil
}
