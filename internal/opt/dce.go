package opt

import "github.com/tinyrange/xlate/internal/ir"

const dceName = "dce"

// DeadCodeEliminationPass removes operations whose result is never read.
// Registers at or below the live-out threshold are assumed to be read after
// the block, and operations with side effects are always kept.
type DeadCodeEliminationPass struct {
	LiveOutThreshold ir.Reg
}

func NewDeadCodeEliminationPass(threshold ir.Reg) *DeadCodeEliminationPass {
	return &DeadCodeEliminationPass{LiveOutThreshold: threshold}
}

func (p *DeadCodeEliminationPass) Name() string { return dceName }

func (p *DeadCodeEliminationPass) Run(ops []ir.Op, stats *Stats) []ir.Op {
	live := make(map[ir.Reg]bool)
	keep := make([]bool, len(ops))
	var buf []ir.Reg

	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		dst, hasDef := op.Def()
		needed := op.HasSideEffects() || !hasDef || !known(op) ||
			dst <= p.LiveOutThreshold || live[dst]
		if !needed {
			stats.DeadCodeEliminations++
			continue
		}
		keep[i] = true
		if hasDef {
			delete(live, dst)
		}
		buf = op.Uses(buf[:0])
		for _, r := range buf {
			live[r] = true
		}
	}

	out := make([]ir.Op, 0, len(ops))
	for i, op := range ops {
		if keep[i] {
			out = append(out, op)
		}
	}
	return out
}

// known reports whether op is one of the operation types this package
// understands. Anything else is passed through.
func known(op ir.Op) bool {
	switch op.(type) {
	case ir.Binary, ir.BinaryImm, ir.Mov, ir.MovImm, ir.Load, ir.Store, ir.Cmp, ir.Branch, ir.Jump:
		return true
	}
	return false
}

// liveAfter reports whether r may be read by rest or after the block.
func liveAfter(rest []ir.Op, r ir.Reg, threshold ir.Reg) bool {
	if r <= threshold {
		return true
	}
	var buf []ir.Reg
	for _, op := range rest {
		buf = op.Uses(buf[:0])
		for _, u := range buf {
			if u == r {
				return true
			}
		}
		if d, ok := op.Def(); ok && d == r {
			return false
		}
	}
	return false
}
