package decoder

import "github.com/otley-systems/xlatecore/internal/ir"

// gprTable maps a 4-bit register index (REX.R/X/B extend it to 4 bits
// from ModRM's 3-bit field) to the general-purpose register it names at
// 32/64-bit operand size. Index order follows the same EAX,ECX,EDX,EBX,
// ESP,EBP,ESI,EDI convention the teacher's regs32 array uses in
// cpu_x86.go, extended with R8-R15.
var gprTable = [16]ir.Reg{
	ir.RegEAX, ir.RegECX, ir.RegEDX, ir.RegEBX,
	ir.RegESP, ir.RegEBP, ir.RegESI, ir.RegEDI,
	ir.RegR8, ir.RegR9, ir.RegR10, ir.RegR11,
	ir.RegR12, ir.RegR13, ir.RegR14, ir.RegR15,
}

// byteRegNoRex maps register indices 4..7 to the high-byte aliases
// AH/CH/DH/BH, the "byte registers 4..7 without REX" special case from
// §4.1. With REX present, those same indices instead select SPL/BPL/SIL/
// DIL (the low byte of ESP/EBP/ESI/EDI), handled by mapReg falling
// through to gprTable.
var byteRegNoRex = [4]ir.Reg{ir.RegAH, ir.RegCH, ir.RegDH, ir.RegBH}

// mapReg resolves a ModRM reg/rm field (already extended to 4 bits by the
// caller folding in REX.R/X/B) to a concrete register identifier, given
// the resolved operand size in bits and whether a REX prefix was present
// on this instruction.
func mapReg(index byte, sizeBits int, hasRex bool) ir.Reg {
	if sizeBits == 8 && !hasRex && index >= 4 && index < 8 {
		return byteRegNoRex[index-4]
	}
	if int(index) >= len(gprTable) {
		return ir.RegNone
	}
	return gprTable[index]
}
