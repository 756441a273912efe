package opcode

import (
	"testing"

	"github.com/otley-systems/xlatecore/internal/ir"
)

func TestNewTablesPrimaryCoverage(t *testing.T) {
	tabs := NewTables()

	cases := []struct {
		b  byte
		mn string
		op ir.OpCode
	}{
		{0x89, "MOV", ir.OpMov},
		{0xC3, "RET", ir.OpRet},
		{0x74, "Jcc", ir.OpJcc},
		{0xE8, "CALL", ir.OpCall},
		{0x90, "NOP", ir.OpNop},
	}
	for _, c := range cases {
		info := tabs.Primary[c.b]
		if info == nil {
			t.Fatalf("opcode 0x%02X: no table entry", c.b)
		}
		if info.Mnemonic != c.mn || info.Op != c.op {
			t.Errorf("opcode 0x%02X: got %s/%v, want %s/%v", c.b, info.Mnemonic, info.Op, c.mn, c.op)
		}
	}
}

func TestGroupTablesSelectByReg(t *testing.T) {
	tabs := NewTables()

	g, ok := tabs.Groups[0x83]
	if !ok {
		t.Fatal("group table for 0x83 missing")
	}
	if g[0].Mnemonic != "ADD" || g[7].Mnemonic != "CMP" {
		t.Errorf("group1 selection wrong: reg0=%s reg7=%s", g[0].Mnemonic, g[7].Mnemonic)
	}

	g2, ok := tabs.Groups[0xD1]
	if !ok {
		t.Fatal("group table for 0xD1 missing")
	}
	if g2[4].Mnemonic != "SHL" || g2[7].Mnemonic != "SAR" {
		t.Errorf("group2 selection wrong: reg4=%s reg7=%s", g2[4].Mnemonic, g2[7].Mnemonic)
	}
}

func TestInvalidIsSharedSentinel(t *testing.T) {
	a := Invalid()
	b := Invalid()
	if a != b {
		t.Error("Invalid() should return the same sentinel instance every call")
	}
	if a.Op != ir.OpInvalid {
		t.Errorf("Invalid().Op = %v, want OpInvalid", a.Op)
	}
}

func TestInstMnemonicImplementsInfoRef(t *testing.T) {
	var ref ir.InfoRef = &InstInfo{Mnemonic: "TEST"}
	if ref.InstMnemonic() != "TEST" {
		t.Errorf("InstMnemonic() = %q, want TEST", ref.InstMnemonic())
	}
}
