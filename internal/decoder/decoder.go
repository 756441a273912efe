// Package decoder implements the single-instruction state machine from
// spec.md §4.1: Prefix -> Escape/Vex/Primary -> ModRM -> SIB ->
// Displacement -> ImmBytes -> terminal, plus the Invalid terminal state
// reachable from any step on failure.
//
// Grounded on cpu_x86.go's baseOps/extendedOps dispatch-table split and
// debug_disasm_x86.go's decodeModRM/readByte/readWord/readDword helpers,
// generalized from "decode and immediately execute" (the teacher, which
// is an interpreter) to "decode and hand a side-effect-free DecodedInst
// to the caller" (this module, which feeds an external JIT).
package decoder

import (
	"fmt"
	"sync"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/ir"
	"github.com/otley-systems/xlatecore/internal/opcode"
)

// Telemetry counts decode-time events the caller may want to export as
// metrics; EVEXRejected backs scenario 4 in spec.md §8.
type Telemetry struct {
	EVEXRejected   uint64
	DecodeFailures uint64
}

// Decoder owns the opcode dictionary, decode pool, and telemetry for one
// translation pipeline. It holds no guest execution state: unlike
// cpu_x86.go's CPU_X86, a Decoder never mutates guest registers or
// memory.
type Decoder struct {
	Tables    *opcode.Tables
	Config    *config.Options
	Telemetry Telemetry
}

var (
	sharedTablesOnce sync.Once
	sharedTables     *opcode.Tables
)

// New creates a Decoder against the process-wide opcode dictionary,
// building it on the first call.
func New(cfg *config.Options) *Decoder {
	sharedTablesOnce.Do(func() { sharedTables = opcode.NewTables() })
	return &Decoder{
		Tables: sharedTables,
		Config: cfg,
	}
}

// prefixState accumulates everything discovered while consuming legacy
// and REX prefix bytes, before the Primary/Escape/Vex dispatch.
type prefixState struct {
	seg            ir.SegOverride
	opSizeOverride bool
	addrSizeOverride bool
	lock           bool
	rep            int // 0 none, 1 REP/REPE (0xF3), 2 REPNE (0xF2)
	hasRex         bool
	rexW, rexR, rexX, rexB bool
	vex            bool
	vexMap         int
	vexVVVV        byte
	vexL           bool
	vexW           bool
}

// DecodeOne decodes a single instruction starting at the stream's current
// cursor. It implements the full state-machine table from §4.1; every
// return path either reaches the ImmBytes terminal with a populated
// DecodedInst, or returns ErrDecodeFailure, ErrInstSizeOverflow or
// ErrTruncatedStream with the Invalid-state placeholder instruction so the caller can still advance
// past it if it chooses to.
func (d *Decoder) DecodeOne(s *Stream) (ir.DecodedInst, error) {
	start := s.Pos()
	var ps prefixState
	ps.seg = ir.SegNone

	info, err := d.consumePrefixes(s, &ps)
	if err != nil {
		return d.invalidInst(s, start), err
	}

	var modrmByte byte
	haveModRM := false
	var reg4, rm4 byte
	mod := byte(3)

	if info.Flags&opcode.FlagModRM != 0 {
		b, ok := s.ReadByte()
		if !ok {
			return d.invalidInst(s, start), ErrTruncatedStream
		}
		modrmByte = b
		haveModRM = true
		mod = (b >> 6) & 3
		regField := (b >> 3) & 7
		rmField := b & 7
		reg4 = regField
		if ps.rexR {
			reg4 |= 8
		}
		rm4 = rmField

		if info.Flags&opcode.FlagGroup != 0 {
			gt, ok := d.Tables.Groups[lastOpcodeByte(s, start)]
			if !ok {
				d.Telemetry.DecodeFailures++
				return d.invalidInst(s, start), ErrDecodeFailure
			}
			sel := gt[regField]
			if sel == nil {
				d.Telemetry.DecodeFailures++
				return d.invalidInst(s, start), ErrDecodeFailure
			}
			// The group-selected entry supplies the real mnemonic/op;
			// the original table entry (0x80/0x81/0x83/...) keeps
			// supplying the immediate-shape flags, since those vary by
			// opcode byte even though the GroupTable is shared.
			merged := *sel
			// Keep the original entry's immediate-shape flags (they vary
			// per opcode byte even though the GroupTable is shared) and
			// its NoModRMReg marker: a group opcode's ModRM.reg field is
			// always an opcode extension, never a second register
			// operand, regardless of which group member it selected.
			merged.Flags |= info.Flags &^ opcode.FlagGroup
			info = &merged
		}
	}

	var baseReg, indexReg ir.Reg
	var scale uint8 = 1
	var dispBytes int
	haveMem := haveModRM && mod != 3

	if haveMem {
		if rmField := modrmByte & 7; rmField == 4 {
			sib, ok := s.ReadByte()
			if !ok {
				return d.invalidInst(s, start), ErrTruncatedStream
			}
			scaleField := (sib >> 6) & 3
			indexField := (sib >> 3) & 7
			baseField := sib & 7
			scale = 1 << scaleField

			indexExt := indexField
			if ps.rexX {
				indexExt |= 8
			}
			if ps.rexX || indexField != 4 {
				indexReg = mapReg(indexExt, 64, true)
			} else {
				indexReg = ir.RegNone
			}

			baseExt := baseField
			if ps.rexB {
				baseExt |= 8
			}
			if baseField == 5 && mod == 0 {
				baseReg = ir.RegNone
				dispBytes = 4
			} else {
				baseReg = mapReg(baseExt, 64, true)
				if mod == 1 {
					dispBytes = 1
				} else if mod == 2 {
					dispBytes = 4
				}
			}
		} else if mod == 0 && (modrmByte&7) == 5 {
			// RIP-relative in 64-bit mode, absolute disp32 in 32-bit mode.
			baseReg = ir.RegNone
			if d.Config.Is64BitMode {
				baseReg = ir.RegRIP
			}
			dispBytes = 4
		} else {
			rmExt := rm4
			if ps.rexB {
				rmExt |= 8
			}
			baseReg = mapReg(rmExt, 64, true)
			if mod == 1 {
				dispBytes = 1
			} else if mod == 2 {
				dispBytes = 4
			}
		}
	}

	var disp int32
	if dispBytes > 0 {
		data, ok := s.ReadData(dispBytes)
		if !ok {
			return d.invalidInst(s, start), ErrTruncatedStream
		}
		disp = signExtend(data)
	}

	opSize := resolveOperandSize(info.Flags, d.Config.Is64BitMode, ps.rexW, ps.vexW, ps.vexL, ps.opSizeOverride)

	var inst ir.DecodedInst
	inst.PC = start
	inst.Op = info.Op
	inst.Mnemonic = info.Mnemonic
	inst.Seg = ps.seg
	inst.InfoRef = info
	inst.Flags = flagsFromPrefixState(ps)

	if haveModRM {
		if haveMem {
			mem := ir.Operand{Kind: ir.OperandMem, Reg: baseReg, Index: indexReg, Scale: scale, Disp: disp, Size: opSize}
			regOp := ir.Operand{Kind: ir.OperandReg, Reg: mapReg(reg4, opSize, ps.hasRex), Size: opSize}
			if info.Flags&opcode.FlagNoModRMReg == 0 {
				setOperands(&inst, regOp, mem, info.Op)
			} else {
				inst.Dst[0] = mem
				inst.NumDst = 1
			}
		} else {
			rm4x := rm4
			if ps.rexB {
				rm4x |= 8
			}
			rmOp := ir.Operand{Kind: ir.OperandReg, Reg: mapReg(rm4x, opSize, ps.hasRex), Size: opSize}
			if info.Flags&opcode.FlagNoModRMReg == 0 {
				regOp := ir.Operand{Kind: ir.OperandReg, Reg: mapReg(reg4, opSize, ps.hasRex), Size: opSize}
				setOperands(&inst, regOp, rmOp, info.Op)
			} else {
				inst.Dst[0] = rmOp
				inst.NumDst = 1
			}
		}
	}

	immBytes, isRel := immediateShape(info.Flags, opSize, info.ImmBytes)
	if immBytes > 0 {
		data, ok := s.ReadData(immBytes)
		if !ok {
			return d.invalidInst(s, start), ErrTruncatedStream
		}
		v := uint64(0)
		for i := len(data) - 1; i >= 0; i-- {
			v = v<<8 | uint64(data[i])
		}
		if isRel {
			rel := signExtend(data)
			op := ir.Operand{Kind: ir.OperandRel, Disp: rel, Size: opSize}
			inst.Src[inst.NumSrc] = op
			inst.NumSrc++
		} else {
			op := ir.Operand{Kind: ir.OperandImm, Imm: v, Size: opSize}
			inst.Src[inst.NumSrc] = op
			inst.NumSrc++
		}
	}

	size := s.Pos() - start
	if size > ir.MaxInstSize {
		d.Telemetry.DecodeFailures++
		return d.invalidInst(s, start), fmt.Errorf("%w: %d bytes", ErrInstSizeOverflow, size)
	}
	inst.Size = uint8(size)
	s.Seek(start)
	raw, _ := s.ReadData(int(size))
	copy(inst.Raw[:], raw)
	inst.RawLen = uint8(size)

	return inst, nil
}

// invalidInst builds the synthetic "invalid instruction" pseudo-entry
// spec.md §4.1 describes: a single-byte placeholder flagged Invalid, so
// the frontend can mark HasInvalidInstruction on the enclosing block and
// roll back any non-entry block.
func (d *Decoder) invalidInst(s *Stream, start uint64) ir.DecodedInst {
	s.Seek(start)
	b, ok := s.ReadByte()
	size := uint8(1)
	if !ok {
		size = 0
	}
	inst := ir.DecodedInst{
		PC:       start,
		Size:     size,
		Op:       ir.OpInvalid,
		Mnemonic: "(invalid)",
		Flags:    ir.FlagInvalid,
		Seg:      ir.SegNone,
		InfoRef:  opcode.Invalid(),
	}
	if ok {
		inst.Raw[0] = b
		inst.RawLen = 1
	}
	return inst
}

// lastOpcodeByte re-reads the opcode byte that triggered a group lookup.
// Group InstInfo entries don't carry their own opcode byte (they're
// shared across several), so the decoder looks it up from the stream's
// position one byte behind the ModRM byte it just consumed.
func lastOpcodeByte(s *Stream, instStart uint64) byte {
	// The opcode byte precedes the ModRM byte that was just read; ModRM
	// is always the byte immediately before the current cursor at the
	// point this is called, and for these single-byte-opcode groups the
	// opcode itself is the byte before that.
	b, _ := peekAbsolute(s, s.Pos()-2)
	return b
}

func peekAbsolute(s *Stream, addr uint64) (byte, bool) {
	saved := s.Pos()
	s.Seek(addr)
	b, ok := s.PeekByte()
	s.Seek(saved)
	return b, ok
}

func signExtend(data []byte) int32 {
	switch len(data) {
	case 1:
		return int32(int8(data[0]))
	case 2:
		return int32(int16(uint16(data[0]) | uint16(data[1])<<8))
	case 4:
		return int32(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24)
	default:
		return 0
	}
}

func flagsFromPrefixState(ps prefixState) ir.InstFlags {
	var f ir.InstFlags
	if ps.hasRex {
		f |= ir.FlagHasRex
	}
	if ps.rexW {
		f |= ir.FlagRexW
	}
	if ps.rexR {
		f |= ir.FlagRexR
	}
	if ps.rexX {
		f |= ir.FlagRexX
	}
	if ps.rexB {
		f |= ir.FlagRexB
	}
	if ps.opSizeOverride {
		f |= ir.FlagOpSizeOverride
	}
	if ps.addrSizeOverride {
		f |= ir.FlagAddrSizeOverride
	}
	if ps.lock {
		f |= ir.FlagLock
	}
	if ps.rep == 2 {
		f |= ir.FlagRepne
	}
	if ps.rep == 1 {
		f |= ir.FlagRep
	}
	if ps.vex {
		f |= ir.FlagVex
		if ps.vexL {
			f |= ir.FlagVexL
		}
		if ps.vexW {
			f |= ir.FlagVexW
		}
	}
	return f
}

// setOperands assigns the ModRM reg/rm pair to Dst/Src following Intel's
// documented operand order for each mnemonic family. Instructions whose
// direction bit (bit 1 of the opcode) flips reg/rm source vs dest would
// need that bit threaded in; this module's scope only requires a
// consistent, decodable assignment for the emitter to consume, not
// execution-accurate semantics, per spec.md §1's scoping of the opcode
// tables as a static dictionary.
func setOperands(inst *ir.DecodedInst, regOp, rmOp ir.Operand, op ir.OpCode) {
	switch op {
	case ir.OpCmp, ir.OpTest:
		inst.Src[0] = regOp
		inst.Src[1] = rmOp
		inst.NumSrc = 2
	case ir.OpLea, ir.OpMovzx, ir.OpMovsx, ir.OpImul:
		inst.Dst[0] = regOp
		inst.NumDst = 1
		inst.Src[0] = rmOp
		inst.NumSrc = 1
	default:
		inst.Dst[0] = rmOp
		inst.NumDst = 1
		inst.Src[0] = regOp
		inst.NumSrc = 1
	}
}
