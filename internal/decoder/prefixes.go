package decoder

import (
	"github.com/otley-systems/xlatecore/internal/ir"
	"github.com/otley-systems/xlatecore/internal/opcode"
)

// vexGenericInfo stands in for VEX maps 2/3 (0F38/0F3A), whose full
// tables are outside this module's scope (spec.md §1 treats opcode-table
// contents as an external, static dictionary). Map validity (rejecting
// anything outside [1,3]) is still enforced by consumeVex.
var vexGenericInfo = &opcode.InstInfo{Mnemonic: "(vex)", Op: ir.OpMovss, Flags: opcode.FlagModRM | opcode.FlagXMMFlags}

// consumePrefixes implements the Prefix state: it consumes legacy
// prefixes and an optional REX byte, then dispatches to Escape, Vex, or
// Primary per §4.1's state table, returning the InstInfo the remaining
// states should decode against.
func (d *Decoder) consumePrefixes(s *Stream, ps *prefixState) (*opcode.InstInfo, error) {
	for {
		b, ok := s.PeekByte()
		if !ok {
			return opcode.Invalid(), ErrTruncatedStream
		}
		switch b {
		case 0x66:
			ps.opSizeOverride = true
		case 0x67:
			ps.addrSizeOverride = true
		case 0xF0:
			ps.lock = true
		case 0xF2:
			ps.rep = 2
		case 0xF3:
			ps.rep = 1
		case 0x26:
			ps.seg = ir.SegES
		case 0x2E:
			ps.seg = ir.SegCS
		case 0x36:
			ps.seg = ir.SegSS
		case 0x3E:
			ps.seg = ir.SegDS
		case 0x64:
			ps.seg = ir.SegFS
		case 0x65:
			ps.seg = ir.SegGS
		default:
			goto afterLegacy
		}
		s.ReadByte()
	}
afterLegacy:
	if d.Config.Is64BitMode {
		if b, ok := s.PeekByte(); ok && b >= 0x40 && b <= 0x4F {
			s.ReadByte()
			ps.hasRex = true
			ps.rexW = b&0x08 != 0
			ps.rexR = b&0x04 != 0
			ps.rexX = b&0x02 != 0
			ps.rexB = b&0x01 != 0
		}
	}

	b, ok := s.ReadByte()
	if !ok {
		return opcode.Invalid(), ErrTruncatedStream
	}

	switch {
	case b == 0x0F:
		return d.consumeEscape(s, ps)
	case (b == 0xC4 || b == 0xC5) && !ps.hasRex:
		return d.consumeVex(s, ps, b)
	case b == 0x62:
		d.Telemetry.EVEXRejected++
		return opcode.Invalid(), ErrDecodeFailure
	default:
		info := d.Tables.Primary[b]
		if info == nil {
			d.Telemetry.DecodeFailures++
			return opcode.Invalid(), ErrDecodeFailure
		}
		return info, nil
	}
}

// consumeEscape implements the Escape state entered after 0x0F. Three-byte
// escapes (0F 38, 0F 3A) are outside this module's table coverage and are
// treated as decode failures rather than guessed at; the repeat-prefix
// history (0xF3/0xF2/0x66 already recorded in ps) is preserved on the
// returned instruction's flags for the emitter to use when picking the
// SSE variant, per §4.1's "sub-dispatches to repeat-prefix-modified
// tables" note — the modified *table* itself isn't modeled since this
// module's SSE coverage is representative, not exhaustive.
func (d *Decoder) consumeEscape(s *Stream, ps *prefixState) (*opcode.InstInfo, error) {
	b, ok := s.PeekByte()
	if !ok {
		return opcode.Invalid(), ErrTruncatedStream
	}
	if b == 0x38 || b == 0x3A {
		d.Telemetry.DecodeFailures++
		return opcode.Invalid(), ErrDecodeFailure
	}
	s.ReadByte()
	info := d.Tables.Extended[b]
	if info == nil {
		d.Telemetry.DecodeFailures++
		return opcode.Invalid(), ErrDecodeFailure
	}
	return info, nil
}

// consumeVex implements the Vex state. lead is the byte that selected
// this state (0xC4 or 0xC5). In 32-bit mode, 0xC4/0xC5 are only VEX when
// the following byte's mod field is 11 — otherwise they're the legacy
// LDS/LES opcodes, which this module does not decode further (out of
// scope: no far-pointer load support).
func (d *Decoder) consumeVex(s *Stream, ps *prefixState, lead byte) (*opcode.InstInfo, error) {
	if !d.Config.Is64BitMode {
		if next, ok := s.PeekByte(); ok && (next>>6) != 3 {
			d.Telemetry.DecodeFailures++
			return opcode.Invalid(), ErrDecodeFailure
		}
	}

	ps.vex = true
	if lead == 0xC5 {
		b2, ok := s.ReadByte()
		if !ok {
			return opcode.Invalid(), ErrTruncatedStream
		}
		ps.rexR = b2&0x80 == 0
		ps.vexVVVV = ^(b2 >> 3) & 0xF
		ps.vexL = b2&0x04 != 0
		ps.vexMap = 1
	} else {
		b2, ok := s.ReadByte()
		if !ok {
			return opcode.Invalid(), ErrTruncatedStream
		}
		ps.rexR = b2&0x80 == 0
		ps.rexX = b2&0x40 == 0
		ps.rexB = b2&0x20 == 0
		ps.vexMap = int(b2 & 0x1F)

		b3, ok := s.ReadByte()
		if !ok {
			return opcode.Invalid(), ErrTruncatedStream
		}
		ps.vexW = b3&0x80 != 0
		ps.vexVVVV = ^(b3 >> 3) & 0xF
		ps.vexL = b3&0x04 != 0
	}

	if ps.vexMap < 1 || ps.vexMap > 3 {
		d.Telemetry.DecodeFailures++
		return opcode.Invalid(), ErrDecodeFailure
	}

	opByte, ok := s.ReadByte()
	if !ok {
		return opcode.Invalid(), ErrTruncatedStream
	}

	if ps.vexMap == 1 {
		info := d.Tables.Extended[opByte]
		if info == nil {
			d.Telemetry.DecodeFailures++
			return opcode.Invalid(), ErrDecodeFailure
		}
		return info, nil
	}
	return vexGenericInfo, nil
}

// resolveOperandSize applies §4.1's operand-size rule: for each operand,
// pick the highest-priority applicable size signal in the order (VEX.L,
// REX.W, operand-size override, default), with the XMM-flags and
// "widening 64 unless narrowing" sub-rules layered underneath.
func resolveOperandSize(flags opcode.Flag, is64Mode, rexW, vexW, vexL, opSizeOverride bool) int {
	if flags&opcode.FlagByte != 0 {
		return 8
	}

	size := 32
	if flags&opcode.FlagXMMFlags != 0 {
		size = 64
	}
	if flags&opcode.FlagDefault64 != 0 && is64Mode {
		size = 64
	}

	switch {
	case vexL:
		size = 256
	case rexW || (vexW && is64Mode):
		size = 64
	case opSizeOverride:
		switch size {
		case 64:
			size = 32
		case 32:
			size = 16
		}
	}
	return size
}

// immediateShape resolves how many immediate bytes trail the instruction
// and whether that immediate is a relative branch displacement, given the
// static flags and the operand size already resolved for this instance.
func immediateShape(flags opcode.Flag, opSize int, fixedImmBytes uint8) (n int, isRel bool) {
	switch {
	case flags&opcode.FlagRel8 != 0:
		return 1, true
	case flags&opcode.FlagRelZ != 0:
		if opSize == 16 {
			return 2, true
		}
		return 4, true
	case flags&opcode.FlagImm16 != 0:
		return 2, false
	case flags&opcode.FlagImm8 != 0:
		return 1, false
	case flags&opcode.FlagImmZ != 0:
		if opSize == 16 {
			return 2, false
		}
		return 4, false
	case flags&opcode.FlagImmV != 0:
		switch opSize {
		case 16:
			return 2, false
		case 64:
			return 8, false
		default:
			return 4, false
		}
	case fixedImmBytes > 0:
		return int(fixedImmBytes), false
	default:
		return 0, false
	}
}
