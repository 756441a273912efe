package objcache

import (
	"bytes"
	"errors"
	"testing"

	"github.com/otley-systems/xlatecore/internal/config"
)

// TestRegionFileRoundTrip is spec.md §8's round-trip property: serialize
// then deserialize a region file and get byte-identical host code back
// out for every entry.
func TestRegionFileRoundTrip(t *testing.T) {
	rf := &RegionFile{Header: NewHeader(config.Default(), 0x10000, 0)}

	e1 := rf.AppendEntry(0x10000, []byte{0x48, 0x89, 0xE5, 0xC3}, []uint64{4})
	e2 := rf.AppendEntry(0x10010, []byte{0x90, 0x90}, nil)

	raw, err := rf.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	got, err := Deserialize(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if len(got.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(got.Entries))
	}
	if string(got.CodeFor(got.Entries[0])) != string([]byte{0x48, 0x89, 0xE5, 0xC3}) {
		t.Error("entry 0's host code did not round trip byte-identically")
	}
	if string(got.CodeFor(got.Entries[1])) != string([]byte{0x90, 0x90}) {
		t.Error("entry 1's host code did not round trip byte-identically")
	}
	if got.Entries[0].RelocCount != e1.RelocCount || got.Entries[1].RelocCount != e2.RelocCount {
		t.Error("relocation counts did not round trip")
	}
	if len(got.Relocations) != 1 || got.Relocations[0] != 4 {
		t.Errorf("relocations = %v, want [4]", got.Relocations)
	}
}

func TestDeserializeRejectsBadCookie(t *testing.T) {
	rf := &RegionFile{Header: NewHeader(config.Default(), 0, 0)}
	rf.AppendEntry(0x1000, []byte{0x90}, nil)
	raw, err := rf.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	raw[0] ^= 0xFF // corrupt the low byte of the cookie/version word (the code version)

	_, err = Deserialize(bytes.NewReader(raw))
	if !errors.Is(err, ErrCacheCorruption) {
		t.Fatalf("err = %v, want ErrCacheCorruption", err)
	}
}

func TestDeserializeRejectsTruncatedFile(t *testing.T) {
	rf := &RegionFile{Header: NewHeader(config.Default(), 0, 0)}
	rf.AppendEntry(0x1000, []byte{0x90, 0x90, 0x90, 0x90}, nil)
	raw, err := rf.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	_, err = Deserialize(bytes.NewReader(raw[:len(raw)-2]))
	if !errors.Is(err, ErrCacheCorruption) {
		t.Fatalf("err = %v, want ErrCacheCorruption", err)
	}
}

func TestAppendEntryOffsetsAccumulate(t *testing.T) {
	rf := &RegionFile{}
	e1 := rf.AppendEntry(0x1000, []byte{1, 2, 3}, nil)
	e2 := rf.AppendEntry(0x1010, []byte{4, 5}, nil)

	if e1.HostOffset != 0 {
		t.Errorf("first entry offset = %d, want 0", e1.HostOffset)
	}
	if e2.HostOffset != 3 {
		t.Errorf("second entry offset = %d, want 3", e2.HostOffset)
	}
	if len(rf.Code) != 5 {
		t.Errorf("combined code blob length = %d, want 5", len(rf.Code))
	}
}
