// Package testutil holds the byte-stream fixtures shared across the
// decoder/frontend/tcc/objcache test suites, in particular the literal
// scenarios from spec.md §8.
package testutil

// Scenario1 is spec.md §8 scenario 1: "MOV RBP, RSP; RET" at 0x400000.
// 48 89 E5 is REX.W + MOV r/m64,r64 (ModRM E5 = mod 11, reg 100(RSP),
// rm 101(RBP)) i.e. MOV RBP, RSP; C3 is RET.
var Scenario1 = []byte{0x48, 0x89, 0xE5, 0xC3}

// Scenario1Entry is the guest entry address for Scenario1.
const Scenario1Entry = 0x400000

// Scenario2 is spec.md §8 scenario 2: "TEST EAX,EAX; JZ +5;
// NOP;NOP;NOP;NOP;NOP; RET" starting at 0x401000.
//
//	85 C0          TEST EAX, EAX
//	74 05          JZ +5          (falls through to 0x401004, jumps to 0x401009)
//	90 90 90 90 90 NOP x5
//	C3             RET
var Scenario2 = []byte{
	0x85, 0xC0,
	0x74, 0x05,
	0x90, 0x90, 0x90, 0x90, 0x90,
	0xC3,
}

// Scenario2Entry is the guest entry address for Scenario2.
const Scenario2Entry = 0x401000

// Scenario4 is spec.md §8 scenario 4: an EVEX-prefixed byte sequence
// that must be rejected outright (0x62 is recognised but unsupported).
var Scenario4 = []byte{0x62, 0xF1, 0x7C, 0x08, 0x58, 0xC1}

// Scenario4Entry is the guest entry address for Scenario4.
const Scenario4Entry = 0x402000

// CrossPageJump is spec.md §8 scenario 3: an unconditional JMP whose
// target lies on a different 4 KiB page than the branch instruction.
// E9 rel32 JMP; target is computed relative to the next instruction, far
// enough ahead to land on the following page.
func CrossPageJump(entry uint64) []byte {
	instEnd := entry + 5
	nextPage := (entry &^ 0xFFF) + 0x1000
	rel := int32(nextPage - instEnd)
	return []byte{
		0xE9,
		byte(rel), byte(rel >> 8), byte(rel >> 16), byte(rel >> 24),
	}
}
