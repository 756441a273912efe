package fingerprint

import (
	"testing"

	"github.com/otley-systems/xlatecore/internal/config"
)

func TestHashCodeIsStable(t *testing.T) {
	code := []byte{0x48, 0x89, 0xE5, 0xC3}
	a := HashCode(code)
	b := HashCode(code)
	if a != b {
		t.Error("HashCode should be deterministic for identical input")
	}
	if a != HashCode(append([]byte{}, code...)) {
		t.Error("HashCode should not depend on slice identity")
	}
}

func TestHashCodeDiffersOnContent(t *testing.T) {
	a := HashCode([]byte{0x90})
	b := HashCode([]byte{0x91})
	if a == b {
		t.Error("different byte content should hash differently")
	}
}

func TestSerializationConfigDiffersOnFlags(t *testing.T) {
	base := config.Default()
	withTSO := config.Default()
	withTSO.TSOEnabled = true

	if SerializationConfig(base) == SerializationConfig(withTSO) {
		t.Error("toggling TSOEnabled should change the serialization config hash")
	}
}

func TestSerializationConfigStableAcrossCalls(t *testing.T) {
	cfg := config.Default()
	if SerializationConfig(cfg) != SerializationConfig(cfg) {
		t.Error("SerializationConfig should be stable for an unchanged Options value")
	}
}

func TestNewKeyReflectsInputs(t *testing.T) {
	cfg := config.Default()
	code := []byte{0x90, 0x90}
	k := New(0x400000, code, cfg)

	if k.GuestIP != 0x400000 {
		t.Errorf("GuestIP = %#x, want 0x400000", k.GuestIP)
	}
	if k.GuestCodeLen != uint64(len(code)) {
		t.Errorf("GuestCodeLen = %d, want %d", k.GuestCodeLen, len(code))
	}
	if k.GuestCodeHash != HashCode(code) {
		t.Error("GuestCodeHash should match HashCode(code)")
	}
	if k.SerializationConfig != SerializationConfig(cfg) {
		t.Error("SerializationConfig should match SerializationConfig(cfg)")
	}
}

func TestNewKeyDiffersOnGuestIP(t *testing.T) {
	cfg := config.Default()
	code := []byte{0x90}
	a := New(0x1000, code, cfg)
	b := New(0x2000, code, cfg)
	if a == b {
		t.Error("keys with different guest IPs should not compare equal")
	}
}
