// Package emitter defines the narrow interface the external host-code
// generator consumes decoded guest instructions through (spec.md §1
// scopes the generator itself out: "only its contract as a consumer of
// decoded IR matters here"), plus a recording fake implementation
// usable in tests that don't need a real AArch64 backend.
//
// Design note from spec.md §9: "the opcode tables currently hold raw
// function pointers... model these as an enum + match... avoid dynamic
// dispatch on a per-instruction hot path." Table and Run below are that
// enum+match: a plain map keyed by ir.OpCode, looked up by opcode at
// Run time, rather than a dispatch pointer carried on every InstInfo.
package emitter

import (
	"fmt"

	"github.com/otley-systems/xlatecore/internal/decoder"
	"github.com/otley-systems/xlatecore/internal/ir"
)

// Capability is the polymorphic capability set from spec.md §6: a
// backend only ever needs these five operations to consume a
// translation unit, never direct access to the decoder's Pool or the
// frontend's block-discovery state.
type Capability interface {
	DecodeInstruction() (ir.DecodedInst, error)
	PeekByte() (byte, bool)
	ReadByte() (byte, bool)
	SkipBytes(n int)
	ReadData(n int) ([]byte, bool)
}

// Source adapts a Decoder plus its Stream into a Capability, the glue
// spec.md §2 calls "thin producer interface from MB to an external
// emitter".
type Source struct {
	Dec    *decoder.Decoder
	Stream *decoder.Stream
}

// NewSource builds a Capability over an existing decoder and stream.
func NewSource(dec *decoder.Decoder, s *decoder.Stream) *Source {
	return &Source{Dec: dec, Stream: s}
}

func (s *Source) DecodeInstruction() (ir.DecodedInst, error) { return s.Dec.DecodeOne(s.Stream) }
func (s *Source) PeekByte() (byte, bool)                     { return s.Stream.PeekByte() }
func (s *Source) ReadByte() (byte, bool)                     { return s.Stream.ReadByte() }
func (s *Source) SkipBytes(n int)                            { s.Stream.SkipBytes(n) }
func (s *Source) ReadData(n int) ([]byte, bool)              { return s.Stream.ReadData(n) }

// Emit is dispatched once per decoded instruction kind.
type Emit func(cap Capability, inst ir.DecodedInst) error

// Table is a per-OpCode dispatch table. A lookup miss falls back to
// whatever Default is registered, so a table built for a specific
// backend doesn't need an entry for every OpCode this module knows
// about.
type Table struct {
	Handlers map[ir.OpCode]Emit
	Default  Emit
}

// NewTable builds an empty dispatch table.
func NewTable() *Table {
	return &Table{Handlers: make(map[ir.OpCode]Emit)}
}

// Register installs the handler for one opcode.
func (t *Table) Register(op ir.OpCode, fn Emit) { t.Handlers[op] = fn }

// Run dispatches every instruction in insts through the table in order,
// stopping at the first handler error.
func (t *Table) Run(cap Capability, insts []ir.DecodedInst) error {
	for _, inst := range insts {
		fn, ok := t.Handlers[inst.Op]
		if !ok {
			fn = t.Default
		}
		if fn == nil {
			return fmt.Errorf("emitter: no handler registered for opcode %d (%s)", inst.Op, inst.Mnemonic)
		}
		if err := fn(cap, inst); err != nil {
			return err
		}
	}
	return nil
}

// Recorder is a Capability-consuming fake emitter that just appends
// every DecodedInst it's handed, in order, for tests asserting what a
// real backend would have been offered without needing one.
type Recorder struct {
	Seen []ir.DecodedInst
}

// Handle is an Emit value suitable for registration against every
// opcode a test cares about (or as Table.Default, to record
// everything unconditionally).
func (r *Recorder) Handle(_ Capability, inst ir.DecodedInst) error {
	r.Seen = append(r.Seen, inst)
	return nil
}
