package objcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const codeEntrySize = 5 * 8 // five uint64 fields

func writeCodeEntry(w io.Writer, e CodeEntry) error {
	var buf [codeEntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.GuestRIP)
	binary.LittleEndian.PutUint64(buf[8:16], e.HostOffset)
	binary.LittleEndian.PutUint64(buf[16:24], e.HostLength)
	binary.LittleEndian.PutUint64(buf[24:32], e.RelocCount)
	binary.LittleEndian.PutUint64(buf[32:40], e.RelocOffset)
	_, err := w.Write(buf[:])
	return err
}

func readCodeEntry(r io.Reader) (CodeEntry, error) {
	var buf [codeEntrySize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return CodeEntry{}, err
	}
	return CodeEntry{
		GuestRIP:    binary.LittleEndian.Uint64(buf[0:8]),
		HostOffset:  binary.LittleEndian.Uint64(buf[8:16]),
		HostLength:  binary.LittleEndian.Uint64(buf[16:24]),
		RelocCount:  binary.LittleEndian.Uint64(buf[24:32]),
		RelocOffset: binary.LittleEndian.Uint64(buf[32:40]),
	}, nil
}

// RegionFile is the fully decoded contents of one on-disk cache file:
// header, per-entry descriptor table, the raw host-code blob they index
// into, and the trailing relocation table, in the order spec.md §6
// lays out ("an array of per-entry descriptors..., then raw host code,
// then a relocation table").
type RegionFile struct {
	Header      Header
	Entries     []CodeEntry
	Code        []byte
	Relocations []uint64
}

// Serialize encodes a RegionFile to w in the exact on-disk layout from
// spec.md §6. The header's count/size fields are derived from Entries,
// Code and Relocations rather than trusted from the caller, so a
// RegionFile built incrementally (one AppendEntry at a time) always
// serializes a self-consistent header.
func (f *RegionFile) Serialize(w io.Writer) error {
	h := f.Header
	h.NumCodeEntries = uint64(len(f.Entries))
	h.TotalCodeSize = uint64(len(f.Code))
	h.TotalRelocations = uint64(len(f.Relocations))
	if err := h.WriteTo(w); err != nil {
		return fmt.Errorf("objcache: write header: %w", err)
	}
	for _, e := range f.Entries {
		if err := writeCodeEntry(w, e); err != nil {
			return fmt.Errorf("objcache: write code entry: %w", err)
		}
	}
	if _, err := w.Write(f.Code); err != nil {
		return fmt.Errorf("objcache: write code blob: %w", err)
	}
	relocBuf := make([]byte, 8*len(f.Relocations))
	for i, r := range f.Relocations {
		binary.LittleEndian.PutUint64(relocBuf[i*8:i*8+8], r)
	}
	if _, err := w.Write(relocBuf); err != nil {
		return fmt.Errorf("objcache: write relocation table: %w", err)
	}
	return nil
}

// Deserialize decodes a RegionFile previously written by Serialize. A
// header whose cookie/version doesn't match, or any short read, is
// reported as an error for the caller to classify as CacheCorruption
// per §7 rather than panicking on malformed or truncated input.
func Deserialize(r io.Reader) (*RegionFile, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if !h.Valid() {
		return nil, fmt.Errorf("objcache: %w: cookie/version mismatch", ErrCacheCorruption)
	}

	entries := make([]CodeEntry, 0, h.NumCodeEntries)
	for i := uint64(0); i < h.NumCodeEntries; i++ {
		e, err := readCodeEntry(r)
		if err != nil {
			return nil, fmt.Errorf("objcache: %w: truncated entry table: %v", ErrCacheCorruption, err)
		}
		entries = append(entries, e)
	}

	code := make([]byte, h.TotalCodeSize)
	if _, err := io.ReadFull(r, code); err != nil {
		return nil, fmt.Errorf("objcache: %w: truncated code blob: %v", ErrCacheCorruption, err)
	}

	relocBuf := make([]byte, 8*h.TotalRelocations)
	if _, err := io.ReadFull(r, relocBuf); err != nil {
		return nil, fmt.Errorf("objcache: %w: truncated relocation table: %v", ErrCacheCorruption, err)
	}
	relocs := make([]uint64, h.TotalRelocations)
	for i := range relocs {
		relocs[i] = binary.LittleEndian.Uint64(relocBuf[i*8 : i*8+8])
	}

	return &RegionFile{Header: h, Entries: entries, Code: code, Relocations: relocs}, nil
}

// AppendEntry adds one translation's bytes to the file, returning the
// CodeEntry recorded for it. Relocations are appended to the shared
// table and the entry's RelocOffset points at where its slice begins.
func (f *RegionFile) AppendEntry(guestRIP uint64, hostCode []byte, relocations []uint64) CodeEntry {
	e := CodeEntry{
		GuestRIP:    guestRIP,
		HostOffset:  uint64(len(f.Code)),
		HostLength:  uint64(len(hostCode)),
		RelocCount:  uint64(len(relocations)),
		RelocOffset: uint64(len(f.Relocations)),
	}
	f.Code = append(f.Code, hostCode...)
	f.Relocations = append(f.Relocations, relocations...)
	f.Entries = append(f.Entries, e)
	return e
}

// CodeFor returns the raw host-code bytes an entry describes, a plain
// slice of the file's shared code blob.
func (f *RegionFile) CodeFor(e CodeEntry) []byte {
	return f.Code[e.HostOffset : e.HostOffset+e.HostLength]
}

// Bytes is a convenience for tests and round-trip checks: it serializes
// to an in-memory buffer and returns the result.
func (f *RegionFile) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
