package tcc

import "testing"

func TestRegionStateTransitions(t *testing.T) {
	e := NewCodeRegionEntry(0x1000, 0x2000, 0, "a.so")
	if e.State() != Registering {
		t.Fatalf("new entry state = %v, want Registering", e.State())
	}

	e.MarkReady()
	if e.State() != Ready {
		t.Fatalf("after MarkReady, state = %v, want Ready", e.State())
	}

	// MarkReady again (e.g. duplicate add completion) must not move a
	// Ready entry anywhere.
	e.MarkReady()
	if e.State() != Ready {
		t.Fatalf("second MarkReady changed state to %v", e.State())
	}

	e.BeginRemove()
	if e.State() != Removing {
		t.Fatalf("after BeginRemove, state = %v, want Removing", e.State())
	}

	e.MarkGone()
	if e.State() != Gone {
		t.Fatalf("after MarkGone, state = %v, want Gone", e.State())
	}
}

func TestBeginRemoveFromCorrupt(t *testing.T) {
	e := NewCodeRegionEntry(0x1000, 0x2000, 0, "a.so")
	e.MarkReady()
	e.NoteCorruption(1)
	if e.State() != Corrupt {
		t.Fatalf("state after one corruption with threshold 1 = %v, want Corrupt", e.State())
	}

	e.BeginRemove()
	if e.State() != Removing {
		t.Fatalf("BeginRemove from Corrupt = %v, want Removing", e.State())
	}
}

func TestNoteCorruptionRespectsThreshold(t *testing.T) {
	e := NewCodeRegionEntry(0x1000, 0x2000, 0, "a.so")
	e.MarkReady()

	e.NoteCorruption(3)
	if e.State() != Ready {
		t.Fatalf("state after 1 of 3 allowed corruptions = %v, want Ready", e.State())
	}
	e.NoteCorruption(3)
	if e.State() != Ready {
		t.Fatalf("state after 2 of 3 allowed corruptions = %v, want Ready", e.State())
	}
	e.NoteCorruption(3)
	if e.State() != Corrupt {
		t.Fatalf("state after 3 of 3 allowed corruptions = %v, want Corrupt", e.State())
	}
}

func TestNoteCorruptionNeverResurrectsGone(t *testing.T) {
	e := NewCodeRegionEntry(0x1000, 0x2000, 0, "a.so")
	e.MarkReady()
	e.BeginRemove()
	e.MarkGone()

	e.NoteCorruption(1)
	if e.State() != Gone {
		t.Fatalf("NoteCorruption on a Gone entry changed state to %v", e.State())
	}
}

func TestSectionPutAndLookup(t *testing.T) {
	e := NewCodeRegionEntry(0x1000, 0x2000, 0, "a.so")

	if e.Section(0x40) != nil {
		t.Fatal("Section on an empty entry should miss")
	}

	sec := &CodeObjectFileSection{Serialized: true, HostCode: []byte{0x90, 0x90}}
	e.PutSection(0x40, sec)

	got := e.Section(0x40)
	if got != sec {
		t.Fatal("Section should return the section just put")
	}
}

func TestSectionHidesInvalid(t *testing.T) {
	e := NewCodeRegionEntry(0x1000, 0x2000, 0, "a.so")
	e.PutSection(0x40, &CodeObjectFileSection{Invalid: true})

	if e.Section(0x40) != nil {
		t.Error("Section must never return an entry flagged Invalid")
	}
}

func TestSectionsSnapshot(t *testing.T) {
	e := NewCodeRegionEntry(0x1000, 0x2000, 0, "a.so")
	e.PutSection(0x10, &CodeObjectFileSection{})
	e.PutSection(0x20, &CodeObjectFileSection{})

	if len(e.Sections()) != 2 {
		t.Fatalf("Sections() returned %d entries, want 2", len(e.Sections()))
	}
}
