package align

import (
	"fmt"

	"github.com/tinyrange/xlate/internal/ir"
)

type PatternKind int

const (
	Random PatternKind = iota
	Sequential
	Strided
)

func (k PatternKind) String() string {
	switch k {
	case Sequential:
		return "sequential"
	case Strided:
		return "strided"
	default:
		return "random"
	}
}

// Pattern classifies an ordered run of accesses through one base register.
// Stride is set for Sequential and Strided patterns.
type Pattern struct {
	Kind   PatternKind
	Stride int64
}

func (p Pattern) String() string {
	if p.Kind == Random {
		return p.Kind.String()
	}
	return fmt.Sprintf("%s(%d)", p.Kind, p.Stride)
}

// DetectPattern looks at the successive offset differences of accesses.
// A constant difference equal to the element size is Sequential, any other
// constant difference is Strided. Repeated accesses to one offset are
// Strided with stride 0. Fewer than two accesses, differing base registers
// or uneven differences are Random.
func DetectPattern(accesses []Access) Pattern {
	if len(accesses) < 2 {
		return Pattern{Kind: Random}
	}
	base := accesses[0].Base
	stride := accesses[1].Offset - accesses[0].Offset
	for i := 1; i < len(accesses); i++ {
		if accesses[i].Base != base {
			return Pattern{Kind: Random}
		}
		if accesses[i].Offset-accesses[i-1].Offset != stride {
			return Pattern{Kind: Random}
		}
	}
	if stride == int64(accesses[0].Size) {
		return Pattern{Kind: Sequential, Stride: stride}
	}
	return Pattern{Kind: Strided, Stride: stride}
}

// Hint attaches the alignment of one memory operation of a block.
type Hint struct {
	Index  int
	Access Access
	Info   Info
}

// Group is a run of accesses through the same value of a base register.
type Group struct {
	Base     ir.Reg
	Indices  []int
	Accesses []Access
	Pattern  Pattern
}

type Report struct {
	Hints        []Hint
	Groups       []Group
	TotalPenalty int
}

// Misaligned counts the hints that are not naturally aligned.
func (r Report) Misaligned() int {
	n := 0
	for _, h := range r.Hints {
		if !h.Info.Natural {
			n++
		}
	}
	return n
}

// AnalyzeBlock classifies every load and store of b and groups them by base
// register. Redefining a base register starts a new group, since offsets
// through the old and new value are unrelated.
func (o *Optimizer) AnalyzeBlock(b ir.Block) Report {
	var rep Report
	open := make(map[ir.Reg]int)

	for i, op := range b.Ops {
		var acc Access
		switch m := op.(type) {
		case ir.Load:
			acc = Access{Base: m.Base, Offset: m.Offset, Size: m.Size}
		case ir.Store:
			acc = Access{Base: m.Base, Offset: m.Offset, Size: m.Size}
		default:
			if d, ok := op.Def(); ok {
				delete(open, d)
			}
			continue
		}

		info := o.Analyze(acc.Base, acc.Offset, acc.Size)
		rep.Hints = append(rep.Hints, Hint{Index: i, Access: acc, Info: info})
		rep.TotalPenalty += info.PenaltyCycles

		g, ok := open[acc.Base]
		if !ok {
			g = len(rep.Groups)
			rep.Groups = append(rep.Groups, Group{Base: acc.Base})
			open[acc.Base] = g
		}
		rep.Groups[g].Indices = append(rep.Groups[g].Indices, i)
		rep.Groups[g].Accesses = append(rep.Groups[g].Accesses, acc)

		if d, ok := op.Def(); ok {
			delete(open, d)
		}
	}

	for i := range rep.Groups {
		rep.Groups[i].Pattern = DetectPattern(rep.Groups[i].Accesses)
	}
	return rep
}
