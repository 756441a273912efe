package emitter

import (
	"errors"
	"testing"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/decoder"
	"github.com/otley-systems/xlatecore/internal/ir"
	"github.com/otley-systems/xlatecore/testutil"
)

func TestSourceDecodesThroughRealDecoder(t *testing.T) {
	dec := decoder.New(config.Default())
	s := decoder.NewStream(testutil.Scenario1, testutil.Scenario1Entry)
	src := NewSource(dec, s)

	inst, err := src.DecodeInstruction()
	if err != nil {
		t.Fatalf("DecodeInstruction: %v", err)
	}
	if inst.Op != ir.OpMov {
		t.Errorf("op = %v, want OpMov", inst.Op)
	}
}

func TestTableRunDispatchesByOpcode(t *testing.T) {
	table := NewTable()
	rec := &Recorder{}
	table.Register(ir.OpMov, rec.Handle)
	table.Register(ir.OpRet, rec.Handle)

	insts := []ir.DecodedInst{
		{Op: ir.OpMov, Mnemonic: "MOV"},
		{Op: ir.OpRet, Mnemonic: "RET"},
	}
	if err := table.Run(nil, insts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.Seen) != 2 {
		t.Fatalf("recorder saw %d instructions, want 2", len(rec.Seen))
	}
}

func TestTableRunFallsBackToDefault(t *testing.T) {
	table := NewTable()
	rec := &Recorder{}
	table.Default = rec.Handle

	insts := []ir.DecodedInst{{Op: ir.OpNop, Mnemonic: "NOP"}}
	if err := table.Run(nil, insts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.Seen) != 1 {
		t.Fatalf("default handler saw %d instructions, want 1", len(rec.Seen))
	}
}

func TestTableRunErrorsOnMissingHandler(t *testing.T) {
	table := NewTable()
	insts := []ir.DecodedInst{{Op: ir.OpNop, Mnemonic: "NOP"}}
	if err := table.Run(nil, insts); err == nil {
		t.Fatal("Run should error when neither a specific handler nor Default is registered")
	}
}

func TestTableRunStopsAtFirstError(t *testing.T) {
	table := NewTable()
	wantErr := errors.New("boom")
	calls := 0
	table.Default = func(Capability, ir.DecodedInst) error {
		calls++
		return wantErr
	}

	insts := []ir.DecodedInst{
		{Op: ir.OpNop},
		{Op: ir.OpNop},
	}
	if err := table.Run(nil, insts); err != wantErr {
		t.Fatalf("Run err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1 (should stop at first error)", calls)
	}
}
