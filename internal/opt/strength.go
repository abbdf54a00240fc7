package opt

import (
	"math"
	"math/bits"

	"github.com/tinyrange/xlate/internal/ir"
)

const strengthName = "strength"

// StrengthReductionPass replaces multiplications and unsigned divisions by
// powers of two with shifts and removes arithmetic identities. Constants are
// recognized both as immediates and as registers loaded with a known value.
//
// Signed division by a power of two rounds towards zero while an arithmetic
// shift rounds towards negative infinity, so it is left alone.
type StrengthReductionPass struct{}

func NewStrengthReductionPass() *StrengthReductionPass { return &StrengthReductionPass{} }

func (p *StrengthReductionPass) Name() string { return strengthName }

func (p *StrengthReductionPass) Run(ops []ir.Op, stats *Stats) []ir.Op {
	known := make(constants)
	out := make([]ir.Op, 0, len(ops))

	for _, op := range ops {
		if repl, ok := p.reduce(op, known); ok {
			stats.StrengthReductions++
			if m, isMov := repl.(ir.Mov); isMov && m.Dst == m.Src {
				// the identity leaves the register as it was
				continue
			}
			op = repl
		}
		known.observe(op)
		out = append(out, op)
	}
	return out
}

func (p *StrengthReductionPass) reduce(op ir.Op, known constants) (ir.Op, bool) {
	switch o := op.(type) {
	case ir.Binary:
		if o.Src1 == o.Src2 {
			if repl, ok := sameOperand(o.Kind, o.Dst, o.Src1); ok {
				return repl, true
			}
		}
		if c, ok := known.get(o.Src2); ok {
			if repl, ok := withConstant(o.Kind, o.Dst, o.Src1, c); ok {
				return repl, true
			}
		}
		if c, ok := known.get(o.Src1); ok && o.Kind.Commutative() {
			if repl, ok := withConstant(o.Kind, o.Dst, o.Src2, c); ok {
				return repl, true
			}
		}
	case ir.BinaryImm:
		return withConstant(o.Kind, o.Dst, o.Src, uint64(o.Imm))
	}
	return nil, false
}

// withConstant simplifies dst = x <kind> c.
func withConstant(kind ir.OpKind, dst, x ir.Reg, c uint64) (ir.Op, bool) {
	switch kind {
	case ir.OpMul:
		switch {
		case c == 0:
			return ir.MovImm{Dst: dst}, true
		case c == 1:
			return ir.Mov{Dst: dst, Src: x}, true
		case isPow2(c):
			return ir.BinaryImm{Kind: ir.OpShl, Dst: dst, Src: x, Imm: log2(c)}, true
		}
	case ir.OpDivU:
		switch {
		case c == 1:
			return ir.Mov{Dst: dst, Src: x}, true
		case isPow2(c):
			return ir.BinaryImm{Kind: ir.OpShr, Dst: dst, Src: x, Imm: log2(c)}, true
		}
	case ir.OpDiv:
		if c == 1 {
			return ir.Mov{Dst: dst, Src: x}, true
		}
	case ir.OpRemU:
		switch {
		case c == 1:
			return ir.MovImm{Dst: dst}, true
		case isPow2(c) && c-1 <= math.MaxInt64:
			return ir.BinaryImm{Kind: ir.OpAnd, Dst: dst, Src: x, Imm: int64(c - 1)}, true
		}
	case ir.OpRem:
		if c == 1 || c == math.MaxUint64 {
			return ir.MovImm{Dst: dst}, true
		}
	case ir.OpAdd, ir.OpSub, ir.OpOr, ir.OpXor:
		if c == 0 {
			return ir.Mov{Dst: dst, Src: x}, true
		}
	case ir.OpShl, ir.OpShr, ir.OpSar:
		if c&63 == 0 {
			return ir.Mov{Dst: dst, Src: x}, true
		}
	case ir.OpAnd:
		switch c {
		case 0:
			return ir.MovImm{Dst: dst}, true
		case math.MaxUint64:
			return ir.Mov{Dst: dst, Src: x}, true
		}
	}
	return nil, false
}

// sameOperand simplifies dst = x <kind> x.
func sameOperand(kind ir.OpKind, dst, x ir.Reg) (ir.Op, bool) {
	switch kind {
	case ir.OpSub, ir.OpXor:
		return ir.MovImm{Dst: dst}, true
	case ir.OpAnd, ir.OpOr:
		return ir.Mov{Dst: dst, Src: x}, true
	}
	return nil, false
}

func isPow2(v uint64) bool { return v != 0 && v&(v-1) == 0 }

func log2(v uint64) int64 { return int64(bits.TrailingZeros64(v)) }
