package decoder

// Stream is the host-visible view over guest bytes mapped at a known
// base, spec.md §4.1's instr_stream parameter. It tracks a read cursor by
// guest address rather than by slice offset so callers can seek freely
// (the frontend restarts decoding at arbitrary branch targets).
type Stream struct {
	base uint64
	data []byte
	pos  uint64 // next guest address to read
}

// NewStream wraps data as the bytes mapped starting at guest address base.
func NewStream(data []byte, base uint64) *Stream {
	return &Stream{base: base, data: data, pos: base}
}

// Seek repositions the read cursor to the given guest address.
func (s *Stream) Seek(addr uint64) { s.pos = addr }

// Pos returns the current guest address of the read cursor.
func (s *Stream) Pos() uint64 { return s.pos }

func (s *Stream) offset(addr uint64) (int, bool) {
	if addr < s.base {
		return 0, false
	}
	off := addr - s.base
	if off > uint64(len(s.data)) {
		return 0, false
	}
	return int(off), true
}

// ReadByte consumes and returns one byte, advancing the cursor.
func (s *Stream) ReadByte() (byte, bool) {
	off, ok := s.offset(s.pos)
	if !ok || off >= len(s.data) {
		return 0, false
	}
	b := s.data[off]
	s.pos++
	return b, true
}

// PeekByte returns the next byte without advancing the cursor.
func (s *Stream) PeekByte() (byte, bool) {
	off, ok := s.offset(s.pos)
	if !ok || off >= len(s.data) {
		return 0, false
	}
	return s.data[off], true
}

// PeekAt returns the byte at an offset ahead of the cursor, without
// advancing, for lookahead during escape/VEX disambiguation.
func (s *Stream) PeekAt(ahead int) (byte, bool) {
	off, ok := s.offset(s.pos + uint64(ahead))
	if !ok || off >= len(s.data) {
		return 0, false
	}
	return s.data[off], true
}

// SkipBytes advances the cursor by n without returning the bytes.
func (s *Stream) SkipBytes(n int) { s.pos += uint64(n) }

// ReadData reads n raw bytes from the cursor, advancing it. Returns false
// if fewer than n bytes remain.
func (s *Stream) ReadData(n int) ([]byte, bool) {
	off, ok := s.offset(s.pos)
	if !ok || off+n > len(s.data) {
		return nil, false
	}
	out := s.data[off : off+n]
	s.pos += uint64(n)
	return out, true
}

// PageOf returns the base of the 4 KiB page containing addr.
func PageOf(addr uint64) uint64 { return addr &^ (PageSize - 1) }

// PageSize is the page granularity used for the cross-page and SMC
// tracking predicates throughout §4.1/§4.2.
const PageSize = 4096
