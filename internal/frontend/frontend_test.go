package frontend

import (
	"testing"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/decoder"
	"github.com/otley-systems/xlatecore/internal/ir"
	"github.com/otley-systems/xlatecore/testutil"
)

func newTestFrontend() *Frontend {
	cfg := config.Default()
	return New(decoder.New(cfg), cfg)
}

func TestDecodeAtEntrySingleBlock(t *testing.T) {
	f := newTestFrontend()

	info, err := f.DecodeAtEntry(testutil.Scenario1, testutil.Scenario1Entry, testutil.Scenario1Entry, 0, nil)
	if err != nil {
		t.Fatalf("DecodeAtEntry: %v", err)
	}
	if len(info.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(info.Blocks))
	}
	if info.Blocks[0].Entry != testutil.Scenario1Entry {
		t.Errorf("block entry = %#x, want %#x", info.Blocks[0].Entry, testutil.Scenario1Entry)
	}
	if info.TotalInstructionCount != 2 {
		t.Errorf("total instructions = %d, want 2 (MOV, RET)", info.TotalInstructionCount)
	}
	if info.Blocks[0].HasInvalidInstruction {
		t.Error("scenario 1 should decode cleanly")
	}
}

// TestDecodeAtEntryConditionalSplit is §8 scenario 2: TEST EAX,EAX; JZ +5
// discovers a block at the entry, one at the Jcc's fallthrough address,
// and one at its jump target (the RET, which the jump lands on
// mid-stream relative to the fallthrough block).
func TestDecodeAtEntryConditionalSplit(t *testing.T) {
	f := newTestFrontend()

	info, err := f.DecodeAtEntry(testutil.Scenario2, testutil.Scenario2Entry, testutil.Scenario2Entry, 0, nil)
	if err != nil {
		t.Fatalf("DecodeAtEntry: %v", err)
	}
	if len(info.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(info.Blocks))
	}
	if info.Blocks[0].Entry != testutil.Scenario2Entry {
		t.Errorf("first block entry = %#x, want %#x", info.Blocks[0].Entry, testutil.Scenario2Entry)
	}
	fallthroughEntry := uint64(testutil.Scenario2Entry + 4)
	if info.Blocks[1].Entry != fallthroughEntry {
		t.Errorf("second block entry = %#x, want %#x", info.Blocks[1].Entry, fallthroughEntry)
	}
	jumpTargetEntry := uint64(testutil.Scenario2Entry + 9)
	if info.Blocks[2].Entry != jumpTargetEntry {
		t.Errorf("third block entry = %#x, want %#x", info.Blocks[2].Entry, jumpTargetEntry)
	}

	sum := 0
	for _, b := range info.Blocks {
		sum += b.Count
	}
	if sum != info.TotalInstructionCount {
		t.Errorf("sum of block counts = %d, total = %d", sum, info.TotalInstructionCount)
	}
}

// TestCrossPageJumpIsExternal is §8 scenario 3: a JMP landing on a
// different 4 KiB page than the one it's decoded from must be reported
// as an external branch, not a new in-unit block.
func TestCrossPageJumpIsExternal(t *testing.T) {
	f := newTestFrontend()
	entry := uint64(0x500FF0)
	stream := testutil.CrossPageJump(entry)

	info, err := f.DecodeAtEntry(stream, entry, entry, 0, nil)
	if err != nil {
		t.Fatalf("DecodeAtEntry: %v", err)
	}
	if len(info.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(info.Blocks))
	}
	if len(info.ExternalBranches) != 1 {
		t.Fatalf("external branches = %d, want 1", len(info.ExternalBranches))
	}
	if info.ExternalBranches[0].Kind != ir.ExternalCrossPage {
		t.Errorf("branch kind = %v, want ExternalCrossPage", info.ExternalBranches[0].Kind)
	}
}

// TestCallPastSelfIsInlined exercises the GOT-relative "jump past self"
// CALL idiom: a CALL whose target is exactly the next instruction must
// not terminate the block or generate an external call edge.
func TestCallPastSelfIsInlined(t *testing.T) {
	f := newTestFrontend()
	entry := uint64(0x3000)
	// E8 00 00 00 00: CALL rel32=0, target == instEnd (call-past-self).
	// C3: RET, so the block still has a natural terminator.
	stream := []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3}

	info, err := f.DecodeAtEntry(stream, entry, entry, 0, nil)
	if err != nil {
		t.Fatalf("DecodeAtEntry: %v", err)
	}
	if len(info.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(info.Blocks))
	}
	if info.Blocks[0].Count != 2 {
		t.Errorf("instructions in block = %d, want 2 (CALL, RET)", info.Blocks[0].Count)
	}
	if len(info.ExternalBranches) != 0 {
		t.Errorf("external branches = %d, want 0 (self-call is inlined)", len(info.ExternalBranches))
	}
}

// TestNotifyPageReportsUnitEntry checks that notifyPage is always called
// with the translation unit's original entry address, even for pages
// touched by a later, non-entry block.
func TestNotifyPageReportsUnitEntry(t *testing.T) {
	f := newTestFrontend()

	var seenEntries []uint64
	notify := func(entry, pageBase, pageSize uint64) {
		seenEntries = append(seenEntries, entry)
	}

	_, err := f.DecodeAtEntry(testutil.Scenario2, testutil.Scenario2Entry, testutil.Scenario2Entry, 0, notify)
	if err != nil {
		t.Fatalf("DecodeAtEntry: %v", err)
	}
	for _, e := range seenEntries {
		if e != testutil.Scenario2Entry {
			t.Errorf("notifyPage entry = %#x, want unit entry %#x", e, testutil.Scenario2Entry)
		}
	}
}

func TestDecodeAtEntryEmptyStreamFails(t *testing.T) {
	f := newTestFrontend()
	_, err := f.DecodeAtEntry(nil, 0, 0, 0, nil)
	if err != ErrNoStream {
		t.Fatalf("err = %v, want ErrNoStream", err)
	}
}

// TestBlocksAreSortedByEntry checks the documented post-condition: the
// returned BlockInfo.Blocks is sorted by guest entry address.
func TestBlocksAreSortedByEntry(t *testing.T) {
	f := newTestFrontend()
	info, err := f.DecodeAtEntry(testutil.Scenario2, testutil.Scenario2Entry, testutil.Scenario2Entry, 0, nil)
	if err != nil {
		t.Fatalf("DecodeAtEntry: %v", err)
	}
	for i := 1; i < len(info.Blocks); i++ {
		if info.Blocks[i-1].Entry >= info.Blocks[i].Entry {
			t.Fatalf("blocks not sorted: %#x before %#x", info.Blocks[i-1].Entry, info.Blocks[i].Entry)
		}
	}
}
