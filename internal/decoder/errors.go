package decoder

import (
	"errors"
	"fmt"
)

// ErrDecodeFailure is the sentinel for spec.md §7's DecodeFailure error
// kind: unknown or invalid opcode, EVEX, or a malformed VEX map. It is
// recovered locally by the caller (the enclosing block is flagged and
// non-entry blocks roll back) rather than propagated as fatal.
var ErrDecodeFailure = errors.New("decoder: invalid or unsupported instruction")

// ErrInstSizeOverflow wraps ErrDecodeFailure for the specific case of an
// instruction exceeding MAX_INST_SIZE (15 bytes for x86).
var ErrInstSizeOverflow = fmt.Errorf("%w: instruction exceeds 15 bytes", ErrDecodeFailure)

// ErrTruncatedStream means the byte stream ended mid-instruction (ran off
// the end of the mapped region). Treated the same as ErrDecodeFailure by
// callers: the partial instruction is invalid.
var ErrTruncatedStream = errors.New("decoder: truncated instruction stream")
