// Package frontend implements the multi-block discovery that drives the
// decoder: starting from one entry guest address, it decodes contiguous
// blocks of instructions, follows branches that stay within the current
// translation unit, and reports everything else as an external edge for
// the caller (the JIT) to stitch together separately.
//
// Grounded on the teacher's coprocessor_manager.go pending-work-set
// pattern (a dedupe map plus a FIFO slice of not-yet-processed items),
// generalized from "tickets waiting on a worker" to "block entries
// waiting to be decoded".
package frontend

import (
	"errors"
	"sort"

	"github.com/otley-systems/xlatecore/internal/config"
	"github.com/otley-systems/xlatecore/internal/decoder"
	"github.com/otley-systems/xlatecore/internal/ir"
)

// ErrNoStream is returned when DecodeAtEntry is asked to decode from an
// empty byte stream; this is the ResourceExhaustion class of failure
// from spec.md §7 and is the one error this package ever surfaces to its
// caller, since every other decode failure is recovered locally into
// HasInvalidInstruction.
var ErrNoStream = errors.New("frontend: empty instruction stream")

// NotifyPageFunc is called once per distinct guest page touched while
// decoding one translation unit, so the caller can arrange SMC tracking
// for that page.
type NotifyPageFunc func(entry, pageBase, pageSize uint64)

// Frontend owns a Decoder and drives it across one or more blocks per
// call to DecodeAtEntry.
type Frontend struct {
	Dec    *decoder.Decoder
	Config *config.Options
}

// New builds a Frontend around an existing Decoder, sharing its config.
func New(dec *decoder.Decoder, cfg *config.Options) *Frontend {
	return &Frontend{Dec: dec, Config: cfg}
}

// pendingBlock is one entry still waiting to be decoded.
type pendingBlock struct {
	addr    uint64
	isEntry bool
}

// DecodeAtEntry implements the public contract from spec.md §4.1: it
// decodes every block reachable from pc within the translation unit
// bounded by the guest byte range [streamBase, streamBase+len(stream))
// and maxInst total instructions, returning the discovered BlockInfo.
// The result is pure: the same arguments and Frontend configuration
// always produce the same BlockInfo.
func (f *Frontend) DecodeAtEntry(stream []byte, streamBase, pc uint64, maxInst int, notifyPage NotifyPageFunc) (*ir.BlockInfo, error) {
	if len(stream) == 0 {
		return nil, ErrNoStream
	}
	if maxInst <= 0 {
		maxInst = f.Config.MaxInstPerBlockOrDefault()
	}

	lowBound := streamBase
	highBound := streamBase + uint64(len(stream))

	s := decoder.NewStream(stream, streamBase)
	info := &ir.BlockInfo{}

	visited := map[uint64]bool{pc: true}
	queue := []pendingBlock{{addr: pc, isEntry: true}}
	notifiedPages := map[uint64]bool{}

	for len(queue) > 0 && info.TotalInstructionCount < maxInst {
		cur := queue[0]
		queue = queue[1:]

		budget := maxInst - info.TotalInstructionCount
		res, edges := f.decodeOneBlock(s, cur.addr, pc, cur.isEntry, lowBound, highBound, budget, notifiedPages, notifyPage)

		if !cur.isEntry && res.rolledBack {
			// Decode failure on a non-entry block: only the entry block
			// is allowed to expose HasInvalidInstruction, so this block
			// is dropped entirely rather than recorded.
			continue
		}

		start := len(info.Pool)
		info.Pool = append(info.Pool, res.insts...)
		info.Blocks = append(info.Blocks, ir.Block{
			Entry:                 cur.addr,
			Start:                 start,
			Count:                 len(res.insts),
			HasInvalidInstruction: res.invalid,
		})
		info.TotalInstructionCount += len(res.insts)

		for _, e := range edges {
			if e.isTarget {
				if !visited[e.addr] {
					visited[e.addr] = true
					queue = append(queue, pendingBlock{addr: e.addr, isEntry: false})
				}
				continue
			}
			info.ExternalBranches = append(info.ExternalBranches, ir.ExternalBranch{
				FromPC: e.from,
				Target: e.addr,
				Kind:   e.kind,
			})
		}
	}

	sort.Slice(info.Blocks, func(i, j int) bool { return info.Blocks[i].Entry < info.Blocks[j].Entry })
	return info, nil
}

// blockResult holds one block's decode output before it's folded into
// the shared BlockInfo pool.
type blockResult struct {
	insts      []ir.DecodedInst
	invalid    bool
	rolledBack bool
}

// decodeOneBlock decodes instructions starting at addr until a
// block-ending instruction, a decode failure, the early-termination
// heuristic, or the instruction budget stops it. topEntry is the
// translation unit's original entry address, passed through unchanged
// to notifyPage per §4.1 (the callback reports against the unit entry,
// not the individual block's start, matching scenario 1's expectation
// that decoding from 0x400000 reports page 0x400000 even for later
// blocks discovered within the same unit).
func (f *Frontend) decodeOneBlock(s *decoder.Stream, addr, topEntry uint64, isEntry bool, lowBound, highBound uint64, budget int, notifiedPages map[uint64]bool, notifyPage NotifyPageFunc) (blockResult, []branchEdge) {
	var res blockResult
	var edges []branchEdge

	s.Seek(addr)

	for len(res.insts) < budget {
		pos := s.Pos()
		page := decoder.PageOf(pos)
		if !notifiedPages[page] {
			notifiedPages[page] = true
			if notifyPage != nil {
				notifyPage(topEntry, page, decoder.PageSize)
			}
		}

		if !isEntry {
			b0, ok0 := s.PeekByte()
			b1, ok1 := s.PeekAt(1)
			if ok0 && ok1 && b0 == 0 && b1 == 0 {
				break
			}
		}

		inst, err := f.Dec.DecodeOne(s)
		if err != nil {
			res.invalid = true
			res.rolledBack = true
			return res, edges
		}
		res.insts = append(res.insts, inst)

		terminate, newEdges := classifyBranch(f.Config, inst, lowBound, highBound)
		edges = append(edges, newEdges...)
		if terminate {
			break
		}
	}
	return res, edges
}

// branchEdge is one outcome of classifying a block-ending instruction:
// either a new block to queue (isTarget) or an edge to report externally.
type branchEdge struct {
	from     uint64
	addr     uint64
	isTarget bool
	kind     ir.ExternalBranchKind
}

// classifyBranch implements §4.1's "multi-block discovery" rule for one
// decoded instruction, reporting whether it ends the current block and
// what new block entries or external edges it produces.
func classifyBranch(cfg *config.Options, inst ir.DecodedInst, lowBound, highBound uint64) (terminate bool, edges []branchEdge) {
	instEnd := inst.PC + uint64(inst.Size)
	target, hasTarget := directTarget(inst, instEnd)

	switch inst.Op {
	case ir.OpJmp, ir.OpJmpFar:
		terminate = true
		if hasTarget {
			edges = append(edges, resolveTarget(cfg, inst.PC, target, instEnd, lowBound, highBound, ir.ExternalJump))
		}

	case ir.OpJcc:
		terminate = true
		if hasTarget {
			edges = append(edges, resolveTarget(cfg, inst.PC, target, instEnd, lowBound, highBound, ir.ExternalConditionalJump))
		}
		edges = append(edges, branchEdge{from: inst.PC, addr: instEnd, isTarget: true})

	case ir.OpLoop, ir.OpLoopcc, ir.OpJcxz:
		terminate = true
		if hasTarget {
			edges = append(edges, resolveTarget(cfg, inst.PC, target, instEnd, lowBound, highBound, ir.ExternalConditionalJump))
		}
		edges = append(edges, branchEdge{from: inst.PC, addr: instEnd, isTarget: true})

	case ir.OpRet, ir.OpRetImm, ir.OpHlt:
		terminate = true

	case ir.OpCall:
		// A call whose immediate target is exactly the address right
		// after itself is the common GOT-relative "jump past self" idiom
		// used to read EIP off the stack; it's inlined rather than
		// recorded as an edge at all, so the emitter can collapse it.
		if hasTarget && target != instEnd {
			edges = append(edges, branchEdge{from: inst.PC, addr: target, kind: ir.ExternalCall})
		}
		// Indirect calls (no immediate target) and the self-jump idiom
		// never terminate the block: control returns to the next
		// instruction either way.

	case ir.OpCallFar:
		if hasTarget {
			edges = append(edges, branchEdge{from: inst.PC, addr: target, kind: ir.ExternalCall})
		}
	}
	return terminate, edges
}

// directTarget extracts the absolute branch target from an instruction
// decoded with a relative-displacement operand (Src holding an
// OperandRel), or reports false for indirect forms (register/memory
// targets), whose destination isn't known until runtime.
func directTarget(inst ir.DecodedInst, instEnd uint64) (uint64, bool) {
	for i := 0; i < int(inst.NumSrc); i++ {
		if inst.Src[i].Kind == ir.OperandRel {
			return uint64(int64(instEnd) + int64(inst.Src[i].Disp)), true
		}
	}
	return 0, false
}

// resolveTarget applies the in-range predicate from §4.1: a target
// stays inside the current translation unit only if multi-block
// discovery is enabled, it lies on the same page as instEnd (the address
// just past the branch), and it falls within [lowBound, min(align_up(
// instEnd, PAGE), highBound)). Anything else is reported as an external
// branch of the given kind, except that with multi-block discovery
// enabled a target on a different page from instEnd is classified
// ExternalCrossPage regardless of what kind the caller asked for.
func resolveTarget(cfg *config.Options, from, target, instEnd, lowBound, highBound uint64, kind ir.ExternalBranchKind) branchEdge {
	if !cfg.Multiblock {
		return branchEdge{from: from, addr: target, kind: kind}
	}
	if decoder.PageOf(target) != decoder.PageOf(instEnd) {
		return branchEdge{from: from, addr: target, kind: ir.ExternalCrossPage}
	}
	upper := alignUp(instEnd, decoder.PageSize)
	if highBound < upper {
		upper = highBound
	}
	if target < lowBound || target >= upper {
		return branchEdge{from: from, addr: target, kind: kind}
	}
	return branchEdge{from: from, addr: target, isTarget: true}
}

func alignUp(addr, size uint64) uint64 {
	return (addr + size - 1) &^ (size - 1)
}
