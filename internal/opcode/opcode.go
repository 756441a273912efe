// Package opcode is the Opcode Dictionary (OD): static, immutable tables
// mapping encoded opcode bytes to InstInfo records. Tables are built once
// (on the first decoder.New) and never mutated afterwards, the way the teacher's
// cpu_6502_opcode_table_gen.go builds its dispatch table once at package
// scope rather than on every CPU instance.
//
// Coverage here is representative, not encyclopedic: spec.md §1 explicitly
// treats "the x86 opcode tables" as an external, static dictionary the
// decoder queries, so this package's job is the dictionary *mechanism*
// (ModRM/group/VEX disambiguation, operand-size flag bits) rather than a
// byte-for-byte transcription of the Intel SDM.
package opcode

import "github.com/otley-systems/xlatecore/internal/ir"

// Flag bits drive the decoder's state-machine transitions (§4.1) and its
// operand-size resolution rule.
type Flag uint32

const (
	// FlagModRM means a ModRM byte follows the opcode.
	FlagModRM Flag = 1 << iota
	// FlagImm8 / FlagImmZ / FlagImmV mark how many immediate bytes
	// trail the instruction, per the operand-size rule in §4.1: ImmZ is
	// 16 or 32 bits depending on resolved operand size, ImmV is 16, 32
	// or 64.
	FlagImm8
	FlagImmZ
	FlagImmV
	FlagImm16 // fixed 16-bit immediate regardless of operand size (e.g. RET imm16)
	// FlagRel8 / FlagRelZ mark branch-displacement immediates, which
	// the frontend reads back out to compute a branch target.
	FlagRel8
	FlagRelZ
	// FlagGroup means InstInfo.Op is a group tag; the decoder re-reads
	// ModRM.reg to select a secondary table (§4.1 "Group instructions").
	FlagGroup
	// FlagXMMFlags implies a 64-bit operand-size default regardless of
	// mode, per §4.1's operand-size rule.
	FlagXMMFlags
	// FlagDefault64 means the instruction defaults to a 64-bit operand
	// size in 64-bit mode unless narrowed by 0x66 (the "widening 64
	// unless narrowing" sub-rule).
	FlagDefault64
	// FlagNoModRMReg means the ModRM.reg field is a fixed opcode
	// extension rather than a register operand (used together with
	// FlagGroup).
	FlagNoModRMReg
	// FlagByte forces an 8-bit operand size regardless of REX.W/VEX/
	// 0x66, for the fixed-byte-width Eb/Gb encodings (e.g. 0x88 MOV
	// Eb,Gb). This is what makes the "byte registers 4..7 without REX"
	// register-map special case in §4.1 reachable at all: without a
	// byte-sized operand, mapReg never has a reason to consult it.
	FlagByte
)

// ImmBytes reports the literal (mode-independent) immediate byte count
// for a fixed-size immediate, or 0 when the count depends on operand-size
// resolution (FlagImmZ/FlagImmV) — that resolution happens in the decoder,
// not here, because it needs live prefix state this static table can't
// see.
type InstInfo struct {
	Mnemonic string
	Op       ir.OpCode
	Flags    Flag
	ImmBytes uint8
}

// InstMnemonic implements ir.InfoRef.
func (i *InstInfo) InstMnemonic() string { return i.Mnemonic }

// GroupTable is a secondary dispatch keyed by ModRM.reg (0..7), used for
// group opcodes (0x80-0x83, 0xC0/0xC1, 0xD0-0xD3, 0xF6/0xF7, 0xFE/0xFF).
// Only one-byte primary opcodes have group tables; no 0x0F opcode does.
type GroupTable [8]*InstInfo

// Tables is the full static dictionary: the one-byte primary table, the
// 0x0F two-byte escape table, and the group tables keyed by primary
// opcode. The x87 range 0xD8-0xDF has no table of its own; it sits in
// Primary as one catch-all entry. Exactly one Tables value exists per
// process; NewTables is called once from an init-time sync.Once in the
// decoder package constructor so tests can still construct isolated
// instances without a hidden global.
type Tables struct {
	Primary  [256]*InstInfo
	Extended [256]*InstInfo // 0x0F xx
	Groups   map[byte]GroupTable
}

var invalidInfo = &InstInfo{Mnemonic: "(invalid)", Op: ir.OpInvalid}

// Invalid returns the shared sentinel InstInfo used for unrecognized
// opcode bytes; the decoder treats a Primary/Extended table miss the
// same as an explicit lookup of this entry.
func Invalid() *InstInfo { return invalidInfo }

// NewTables builds the static dictionary. Called once; the result should
// be treated as read-only for the lifetime of the process.
func NewTables() *Tables {
	t := &Tables{Groups: make(map[byte]GroupTable)}
	t.buildPrimary()
	t.buildExtended()
	t.buildGroups()
	return t
}

func reg(mn string, op ir.OpCode, flags Flag) *InstInfo {
	return &InstInfo{Mnemonic: mn, Op: op, Flags: flags}
}

func imm(mn string, op ir.OpCode, flags Flag, immBytes uint8) *InstInfo {
	return &InstInfo{Mnemonic: mn, Op: op, Flags: flags, ImmBytes: immBytes}
}

func (t *Tables) buildPrimary() {
	p := &t.Primary

	// ALU group: ADD/OR/ADC/SBB/AND/SUB/XOR/CMP each occupy a contiguous
	// run of 6 opcodes (/r Eb,Gb / /r Ev,Gv / /r Gb,Eb / /r Gv,Ev /
	// AL,Ib / eAX,Iz) plus one more for the two-byte form; model just
	// the /r forms and the accumulator-immediate forms, which is enough
	// for the decoder's ModRM/operand-size machinery to be exercised.
	aluOps := []struct {
		base byte
		mn   string
		op   ir.OpCode
	}{
		{0x00, "ADD", ir.OpAdd}, {0x08, "OR", ir.OpOr}, {0x10, "ADC", ir.OpAdc},
		{0x18, "SBB", ir.OpSbb}, {0x20, "AND", ir.OpAnd}, {0x28, "SUB", ir.OpSub},
		{0x30, "XOR", ir.OpXor}, {0x38, "CMP", ir.OpCmp},
	}
	for _, a := range aluOps {
		p[a.base+0] = reg(a.mn, a.op, FlagModRM|FlagByte) // Eb, Gb
		p[a.base+1] = reg(a.mn, a.op, FlagModRM)          // Ev, Gv
		p[a.base+2] = reg(a.mn, a.op, FlagModRM|FlagByte) // Gb, Eb
		p[a.base+3] = reg(a.mn, a.op, FlagModRM)          // Gv, Ev
		p[a.base+4] = imm(a.mn, a.op, FlagByte, 1)        // AL, Ib
		p[a.base+5] = imm(a.mn, a.op, FlagImmZ, 0)        // eAX, Iz
	}

	// PUSH/POP r, MOV r,imm, and INC/DEC r32 (INC/DEC at 0x40-0x4F are
	// 32-bit legacy mode only — in 64-bit mode these bytes are REX
	// prefixes, which the decoder's Prefix state handles before ever
	// consulting this table).
	for r := byte(0); r < 8; r++ {
		p[0x50+r] = reg("PUSH", ir.OpPush, 0)
		p[0x58+r] = reg("POP", ir.OpPop, 0)
		p[0x40+r] = reg("INC", ir.OpInc, 0)
		p[0x48+r] = reg("DEC", ir.OpDec, 0)
		p[0xB0+r] = imm("MOV", ir.OpMov, 0, 1)
		p[0xB8+r] = imm("MOV", ir.OpMov, FlagImmV, 0)
	}

	p[0x06] = reg("PUSH", ir.OpPush, 0) // PUSH ES
	p[0x07] = reg("POP", ir.OpPop, 0)
	p[0x0E] = reg("PUSH", ir.OpPush, 0)
	p[0x16] = reg("PUSH", ir.OpPush, 0)
	p[0x17] = reg("POP", ir.OpPop, 0)
	p[0x1E] = reg("PUSH", ir.OpPush, 0)
	p[0x1F] = reg("POP", ir.OpPop, 0)

	p[0x63] = reg("MOVSXD", ir.OpMovsx, FlagModRM)
	p[0x68] = imm("PUSH", ir.OpPush, FlagImmZ, 0)
	p[0x69] = imm("IMUL", ir.OpImul, FlagModRM|FlagImmZ, 0)
	p[0x6A] = imm("PUSH", ir.OpPush, 0, 1)
	p[0x6B] = imm("IMUL", ir.OpImul, FlagModRM, 1)

	for cc := byte(0); cc < 16; cc++ {
		p[0x70+cc] = imm("Jcc", ir.OpJcc, FlagRel8, 1)
	}

	p[0x80] = reg("(group1)", ir.OpGroup, FlagModRM|FlagGroup|FlagImm8|FlagByte|FlagNoModRMReg)
	p[0x81] = reg("(group1)", ir.OpGroup, FlagModRM|FlagGroup|FlagImmZ|FlagNoModRMReg)
	p[0x82] = reg("(group1)", ir.OpGroup, FlagModRM|FlagGroup|FlagImm8|FlagByte|FlagNoModRMReg) // alias of 0x80 in 32-bit mode, invalid in 64-bit
	p[0x83] = reg("(group1)", ir.OpGroup, FlagModRM|FlagGroup|FlagImm8|FlagNoModRMReg)

	p[0x84] = reg("TEST", ir.OpTest, FlagModRM|FlagByte)
	p[0x85] = reg("TEST", ir.OpTest, FlagModRM)
	p[0x86] = reg("XCHG", ir.OpXchg, FlagModRM|FlagByte)
	p[0x87] = reg("XCHG", ir.OpXchg, FlagModRM)
	p[0x88] = reg("MOV", ir.OpMov, FlagModRM|FlagByte)
	p[0x89] = reg("MOV", ir.OpMov, FlagModRM)
	p[0x8A] = reg("MOV", ir.OpMov, FlagModRM|FlagByte)
	p[0x8B] = reg("MOV", ir.OpMov, FlagModRM)
	p[0x8D] = reg("LEA", ir.OpLea, FlagModRM)
	p[0x8F] = reg("POP", ir.OpPop, FlagModRM|FlagNoModRMReg)

	p[0x90] = reg("NOP", ir.OpNop, 0)
	p[0x98] = reg("CBW/CWDE/CDQE", ir.OpCbw, FlagDefault64)
	p[0x99] = reg("CWD/CDQ/CQO", ir.OpCwd, FlagDefault64)
	p[0x9C] = reg("PUSHF", ir.OpPushf, 0)
	p[0x9D] = reg("POPF", ir.OpPopf, 0)

	p[0xA0] = imm("MOV", ir.OpMov, 0, 0) // moffs forms: address size bytes, simplified
	p[0xA1] = imm("MOV", ir.OpMov, 0, 0)
	p[0xA2] = imm("MOV", ir.OpMov, 0, 0)
	p[0xA3] = imm("MOV", ir.OpMov, 0, 0)
	p[0xA4] = reg("MOVSB", ir.OpMovs, 0)
	p[0xA5] = reg("MOVSW/D/Q", ir.OpMovs, 0)
	p[0xA6] = reg("CMPSB", ir.OpCmps, 0)
	p[0xA7] = reg("CMPSW/D/Q", ir.OpCmps, 0)
	p[0xA8] = imm("TEST", ir.OpTest, 0, 1)
	p[0xA9] = imm("TEST", ir.OpTest, FlagImmZ, 0)
	p[0xAA] = reg("STOSB", ir.OpStos, 0)
	p[0xAB] = reg("STOSW/D/Q", ir.OpStos, 0)
	p[0xAC] = reg("LODSB", ir.OpLods, 0)
	p[0xAD] = reg("LODSW/D/Q", ir.OpLods, 0)
	p[0xAE] = reg("SCASB", ir.OpScas, 0)
	p[0xAF] = reg("SCASW/D/Q", ir.OpScas, 0)

	p[0xC0] = reg("(group2)", ir.OpGroup, FlagModRM|FlagGroup|FlagImm8|FlagNoModRMReg)
	p[0xC1] = reg("(group2)", ir.OpGroup, FlagModRM|FlagGroup|FlagImm8|FlagNoModRMReg)
	p[0xC2] = imm("RET", ir.OpRetImm, FlagImm16, 0)
	p[0xC3] = reg("RET", ir.OpRet, 0)
	p[0xC6] = imm("MOV", ir.OpMov, FlagModRM|FlagByte|FlagNoModRMReg, 1)
	p[0xC7] = reg("MOV", ir.OpMov, FlagModRM|FlagImmZ|FlagNoModRMReg)
	p[0xC9] = reg("LEAVE", ir.OpLeave, 0)
	p[0xCC] = reg("INT3", ir.OpInt3, 0)
	p[0xCD] = imm("INT", ir.OpIntImm, 0, 1)

	p[0xD0] = reg("(group2)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
	p[0xD1] = reg("(group2)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
	p[0xD2] = reg("(group2)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
	p[0xD3] = reg("(group2)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
	p[0xD7] = reg("XLAT", ir.OpXlat, 0)

	// x87 escape range: decoded as a single opaque instruction, not
	// decomposed further (§4.1: "dispatches through a dedicated table
	// keyed by ((opcode - 0xD8) << 8) | modrm" — modeled here as one
	// catch-all tag since x87 semantics are out of this module's scope).
	for op := byte(0xD8); op <= 0xDF; op++ {
		p[op] = reg("(x87)", ir.OpX87, FlagModRM)
	}

	for cc := byte(0); cc < 4; cc++ {
		p[0xE0+cc] = imm([]string{"LOOPNE", "LOOPE", "LOOP", "JCXZ"}[cc],
			map[byte]ir.OpCode{0: ir.OpLoopcc, 1: ir.OpLoopcc, 2: ir.OpLoop, 3: ir.OpJcxz}[cc],
			FlagRel8, 1)
	}
	p[0xE4] = imm("IN", ir.OpIn, 0, 1)
	p[0xE5] = imm("IN", ir.OpIn, 0, 1)
	p[0xE6] = imm("OUT", ir.OpOut, 0, 1)
	p[0xE7] = imm("OUT", ir.OpOut, 0, 1)
	p[0xE8] = imm("CALL", ir.OpCall, FlagRelZ, 0)
	p[0xE9] = imm("JMP", ir.OpJmp, FlagRelZ, 0)
	p[0xEB] = imm("JMP", ir.OpJmp, FlagRel8, 1)
	p[0xEC] = reg("IN", ir.OpIn, 0)
	p[0xED] = reg("IN", ir.OpIn, 0)
	p[0xEE] = reg("OUT", ir.OpOut, 0)
	p[0xEF] = reg("OUT", ir.OpOut, 0)

	p[0xF4] = reg("HLT", ir.OpHlt, 0)
	p[0xF6] = reg("(group3)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
	p[0xF7] = reg("(group3)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
	p[0xFE] = reg("(groupFE)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
	p[0xFF] = reg("(groupFF)", ir.OpGroup, FlagModRM|FlagGroup|FlagNoModRMReg)
}

func (t *Tables) buildExtended() {
	e := &t.Extended

	for cc := byte(0); cc < 16; cc++ {
		e[0x80+cc] = imm("Jcc", ir.OpJcc, FlagRelZ, 0)
		e[0x90+cc] = reg("SETcc", ir.OpSetcc, FlagModRM|FlagByte|FlagNoModRMReg)
	}

	e[0x05] = reg("SYSCALL", ir.OpCall, 0)
	e[0x0B] = reg("UD2", ir.OpInvalid, 0)
	e[0x1F] = reg("NOP", ir.OpNop, FlagModRM) // multi-byte NOP Ev
	e[0xA2] = reg("CPUID", ir.OpCpuid, 0)
	e[0xA3] = reg("BT", ir.OpAnd, FlagModRM)
	e[0xAB] = reg("BTS", ir.OpOr, FlagModRM)
	e[0xAE] = reg("(fence)", ir.OpNop, FlagModRM|FlagNoModRMReg) // LFENCE/MFENCE/SFENCE
	e[0xAF] = reg("IMUL", ir.OpImul, FlagModRM)
	e[0xB0] = reg("CMPXCHG", ir.OpXchg, FlagModRM)
	e[0xB1] = reg("CMPXCHG", ir.OpXchg, FlagModRM)
	e[0xB3] = reg("BTR", ir.OpAnd, FlagModRM)
	e[0xB6] = reg("MOVZX", ir.OpMovzx, FlagModRM)
	e[0xB7] = reg("MOVZX", ir.OpMovzx, FlagModRM)
	e[0xBB] = reg("BTC", ir.OpAnd, FlagModRM)
	e[0xBE] = reg("MOVSX", ir.OpMovsx, FlagModRM)
	e[0xBF] = reg("MOVSX", ir.OpMovsx, FlagModRM)

	// SSE/XMM move family: representative subset, all sharing the
	// "64-bit default implied" operand-size rule from §4.1.
	for _, op := range []byte{0x10, 0x11, 0x28, 0x29, 0x6E, 0x7E, 0xD6} {
		e[op] = reg("(sse-move)", ir.OpMovss, FlagModRM|FlagXMMFlags)
	}
}

func (t *Tables) buildGroups() {
	// Group 1: ADD/OR/ADC/SBB/AND/SUB/XOR/CMP selected by ModRM.reg,
	// shared by opcodes 0x80-0x83.
	group1 := GroupTable{
		reg("ADD", ir.OpAdd, 0), reg("OR", ir.OpOr, 0), reg("ADC", ir.OpAdc, 0), reg("SBB", ir.OpSbb, 0),
		reg("AND", ir.OpAnd, 0), reg("SUB", ir.OpSub, 0), reg("XOR", ir.OpXor, 0), reg("CMP", ir.OpCmp, 0),
	}
	for _, op := range []byte{0x80, 0x81, 0x82, 0x83} {
		t.Groups[op] = group1
	}

	// Group 2: ROL/ROR/RCL/RCR/SHL/SHR/SHL(alias)/SAR, shared by
	// 0xC0/0xC1/0xD0-0xD3.
	group2 := GroupTable{
		reg("ROL", ir.OpRol, 0), reg("ROR", ir.OpRor, 0), reg("RCL", ir.OpRcl, 0), reg("RCR", ir.OpRcr, 0),
		reg("SHL", ir.OpShl, 0), reg("SHR", ir.OpShr, 0), reg("SHL", ir.OpShl, 0), reg("SAR", ir.OpSar, 0),
	}
	for _, op := range []byte{0xC0, 0xC1, 0xD0, 0xD1, 0xD2, 0xD3} {
		t.Groups[op] = group2
	}

	// Group 3 (0xF6/0xF7): TEST/TEST/NOT/NEG/MUL/IMUL/DIV/IDIV. Entries 0
	// and 1 (TEST) additionally consume an immediate, which the decoder
	// special-cases by ModRM.reg the same way §4.1 describes deriving
	// "(group, prefix_class, reg)" from the ModRM byte.
	t.Groups[0xF6] = GroupTable{
		imm("TEST", ir.OpTest, FlagByte, 1), imm("TEST", ir.OpTest, FlagByte, 1),
		reg("NOT", ir.OpNot, FlagByte), reg("NEG", ir.OpNeg, FlagByte),
		reg("MUL", ir.OpMul, FlagByte), reg("IMUL", ir.OpImul, FlagByte),
		reg("DIV", ir.OpDiv, FlagByte), reg("IDIV", ir.OpIdiv, FlagByte),
	}
	t.Groups[0xF7] = GroupTable{
		imm("TEST", ir.OpTest, FlagImmZ, 0), imm("TEST", ir.OpTest, FlagImmZ, 0),
		reg("NOT", ir.OpNot, 0), reg("NEG", ir.OpNeg, 0),
		reg("MUL", ir.OpMul, 0), reg("IMUL", ir.OpImul, 0),
		reg("DIV", ir.OpDiv, 0), reg("IDIV", ir.OpIdiv, 0),
	}

	// 0xFE: INC/DEC Eb only (reg values 2-7 invalid).
	t.Groups[0xFE] = GroupTable{
		reg("INC", ir.OpInc, FlagByte), reg("DEC", ir.OpDec, FlagByte),
	}
	// 0xFF: INC/DEC/CALL/CALLF/JMP/JMPF/PUSH/(invalid).
	t.Groups[0xFF] = GroupTable{
		reg("INC", ir.OpInc, 0), reg("DEC", ir.OpDec, 0),
		reg("CALL", ir.OpCall, 0), reg("CALLF", ir.OpCallFar, 0),
		reg("JMP", ir.OpJmp, 0), reg("JMPF", ir.OpJmpFar, 0),
		reg("PUSH", ir.OpPush, 0), nil,
	}
	// 0x80-0x83's FlagNoModRMReg tells the decoder the reg field already
	// selected the group entry, not a register operand; the immediate
	// width for group1 depends on the *opcode* (0x80/0x82=Ib, 0x81=Iz,
	// 0x83=Ib sign-extended), which the decoder applies from the
	// original InstInfo's Flags rather than the GroupTable entry's,
	// since group tables are shared across several opcodes with
	// different immediate shapes.
}
