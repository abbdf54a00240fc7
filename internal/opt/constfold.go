package opt

import "github.com/tinyrange/xlate/internal/ir"

const constFoldName = "constfold"

// constants tracks registers holding a value known at translation time.
type constants map[ir.Reg]uint64

func (c constants) get(r ir.Reg) (uint64, bool) {
	v, ok := c[r]
	return v, ok
}

// observe updates the table after op has executed.
func (c constants) observe(op ir.Op) {
	switch o := op.(type) {
	case ir.MovImm:
		c[o.Dst] = uint64(o.Imm)
	case ir.Mov:
		if v, ok := c[o.Src]; ok {
			c[o.Dst] = v
		} else {
			delete(c, o.Dst)
		}
	default:
		if d, ok := op.Def(); ok {
			delete(c, d)
		}
	}
}

// ConstantFoldingPass propagates known constants and replaces operations
// whose inputs are all known with a move-immediate. Conditional branches on
// known values become jumps or disappear.
type ConstantFoldingPass struct{}

func NewConstantFoldingPass() *ConstantFoldingPass { return &ConstantFoldingPass{} }

func (p *ConstantFoldingPass) Name() string { return constFoldName }

func (p *ConstantFoldingPass) Run(ops []ir.Op, stats *Stats) []ir.Op {
	known := make(constants)
	out := make([]ir.Op, 0, len(ops))

	for _, op := range ops {
		folded, drop := p.fold(op, known)
		if drop {
			stats.ConstantFolds++
			continue
		}
		if folded != nil {
			stats.ConstantFolds++
			op = folded
		}
		known.observe(op)
		out = append(out, op)
	}
	return out
}

// fold returns the replacement for op, or drop=true when op can be removed.
func (p *ConstantFoldingPass) fold(op ir.Op, known constants) (ir.Op, bool) {
	switch o := op.(type) {
	case ir.Mov:
		if v, ok := known.get(o.Src); ok {
			return ir.MovImm{Dst: o.Dst, Imm: int64(v)}, false
		}
	case ir.Binary:
		a, okA := known.get(o.Src1)
		b, okB := known.get(o.Src2)
		if okA && okB {
			return ir.MovImm{Dst: o.Dst, Imm: int64(ir.EvalBinary(o.Kind, a, b))}, false
		}
	case ir.BinaryImm:
		if a, ok := known.get(o.Src); ok {
			return ir.MovImm{Dst: o.Dst, Imm: int64(ir.EvalBinary(o.Kind, a, uint64(o.Imm)))}, false
		}
	case ir.Cmp:
		a, okA := known.get(o.Src1)
		b, okB := known.get(o.Src2)
		if okA && okB {
			var v int64
			if ir.EvalCompare(o.Cond, a, b) {
				v = 1
			}
			return ir.MovImm{Dst: o.Dst, Imm: v}, false
		}
	case ir.Branch:
		a, okA := known.get(o.Src1)
		b, okB := known.get(o.Src2)
		if okA && okB {
			if ir.EvalCompare(o.Cond, a, b) {
				return ir.Jump{Offset: o.Offset}, false
			}
			return nil, true
		}
	}
	return nil, false
}
