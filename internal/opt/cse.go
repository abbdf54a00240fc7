package opt

import "github.com/tinyrange/xlate/internal/ir"

const cseName = "cse"

type exprTag uint8

const (
	exprBinary exprTag = iota + 1
	exprBinaryImm
	exprLoad
	exprCmp
)

// expr identifies a computation by operator and operands.
type expr struct {
	tag  exprTag
	kind ir.OpKind
	cond ir.CompareKind
	a, b ir.Reg
	imm  int64
	size uint8
}

func (e expr) reads(r ir.Reg) bool {
	if e.a == r {
		return true
	}
	return (e.tag == exprBinary || e.tag == exprCmp) && e.b == r
}

func exprOf(op ir.Op) (expr, bool) {
	switch o := op.(type) {
	case ir.Binary:
		a, b := o.Src1, o.Src2
		if o.Kind.Commutative() && b < a {
			a, b = b, a
		}
		return expr{tag: exprBinary, kind: o.Kind, a: a, b: b}, true
	case ir.BinaryImm:
		return expr{tag: exprBinaryImm, kind: o.Kind, a: o.Src, imm: o.Imm}, true
	case ir.Load:
		return expr{tag: exprLoad, a: o.Base, imm: o.Offset, size: o.Size}, true
	case ir.Cmp:
		return expr{tag: exprCmp, cond: o.Cond, a: o.Src1, b: o.Src2}, true
	}
	return expr{}, false
}

// CSEPass replaces a recomputation of an available expression with a move
// from the register already holding it. Constants are left to folding.
type CSEPass struct{}

func NewCSEPass() *CSEPass { return &CSEPass{} }

func (p *CSEPass) Name() string { return cseName }

func (p *CSEPass) Run(ops []ir.Op, stats *Stats) []ir.Op {
	available := make(map[expr]ir.Reg)
	out := make([]ir.Op, 0, len(ops))

	for _, op := range ops {
		e, ok := exprOf(op)
		dst, hasDef := op.Def()

		replaced := false
		if ok {
			if holder, found := available[e]; found {
				stats.CSEReplacements++
				replaced = true
				if holder == dst {
					// recomputing the same value into the same register
					continue
				}
				op = ir.Mov{Dst: dst, Src: holder}
			}
		}
		out = append(out, op)

		if hasDef {
			for k, holder := range available {
				if holder == dst || k.reads(dst) {
					delete(available, k)
				}
			}
		}
		if op.HasSideEffects() {
			switch op.(type) {
			case ir.Branch, ir.Jump:
			default:
				for k := range available {
					if k.tag == exprLoad {
						delete(available, k)
					}
				}
			}
		}
		if ok && !replaced && !e.reads(dst) {
			available[e] = dst
		}
	}
	return out
}
