package opt

import "github.com/tinyrange/xlate/internal/ir"

const peepholeName = "peephole"

// PeepholePass rewrites adjacent operation pairs:
//
//	mov a, a                       -> (removed)
//	<op> a, ...; mov c, a          -> <op> c, ...      (a dead afterwards)
//	addi a, x, k; addi c, a, j     -> addi c, x, k+j   (a dead afterwards)
//	store.N s, [b+o]; load.N d, [b+o] -> store; mov/andi d, s
type PeepholePass struct {
	LiveOutThreshold ir.Reg
}

func NewPeepholePass(threshold ir.Reg) *PeepholePass {
	return &PeepholePass{LiveOutThreshold: threshold}
}

func (p *PeepholePass) Name() string { return peepholeName }

func (p *PeepholePass) Run(ops []ir.Op, stats *Stats) []ir.Op {
	out := make([]ir.Op, 0, len(ops))
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		if m, ok := op.(ir.Mov); ok && m.Dst == m.Src {
			stats.PeepholeRewrites++
			continue
		}
		if i+1 < len(ops) {
			if repl, ok := p.combine(op, ops[i+1], ops[i+2:]); ok {
				stats.PeepholeRewrites++
				out = append(out, repl...)
				i++
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

func (p *PeepholePass) combine(first, second ir.Op, rest []ir.Op) ([]ir.Op, bool) {
	switch s := second.(type) {
	case ir.Mov:
		a, ok := first.Def()
		if !ok || s.Src != a || s.Dst == a || liveAfter(rest, a, p.LiveOutThreshold) {
			return nil, false
		}
		c := s.Dst
		switch f := first.(type) {
		case ir.Mov:
			if f.Src == c {
				return nil, true
			}
			return []ir.Op{ir.Mov{Dst: c, Src: f.Src}}, true
		case ir.MovImm:
			return []ir.Op{ir.MovImm{Dst: c, Imm: f.Imm}}, true
		case ir.Binary:
			f.Dst = c
			return []ir.Op{f}, true
		case ir.BinaryImm:
			f.Dst = c
			return []ir.Op{f}, true
		case ir.Load:
			f.Dst = c
			return []ir.Op{f}, true
		case ir.Cmp:
			f.Dst = c
			return []ir.Op{f}, true
		}
	case ir.BinaryImm:
		f, ok := first.(ir.BinaryImm)
		if !ok || f.Kind != ir.OpAdd || s.Kind != ir.OpAdd || s.Src != f.Dst {
			return nil, false
		}
		if s.Dst != f.Dst && liveAfter(rest, f.Dst, p.LiveOutThreshold) {
			return nil, false
		}
		sum := f.Imm + s.Imm
		if sum == 0 {
			if s.Dst == f.Src {
				return nil, true
			}
			return []ir.Op{ir.Mov{Dst: s.Dst, Src: f.Src}}, true
		}
		return []ir.Op{ir.BinaryImm{Kind: ir.OpAdd, Dst: s.Dst, Src: f.Src, Imm: sum}}, true
	case ir.Load:
		f, ok := first.(ir.Store)
		if !ok || f.Base != s.Base || f.Offset != s.Offset || f.Size != s.Size {
			return nil, false
		}
		if s.Size >= 8 {
			if s.Dst == f.Src {
				return []ir.Op{f}, true
			}
			return []ir.Op{f, ir.Mov{Dst: s.Dst, Src: f.Src}}, true
		}
		return []ir.Op{f, ir.BinaryImm{Kind: ir.OpAnd, Dst: s.Dst, Src: f.Src, Imm: int64(ir.SizeMask(s.Size))}}, true
	}
	return nil, false
}
