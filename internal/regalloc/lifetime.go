// Package regalloc maps the virtual registers of a block onto a physical
// register file with a linear scan over register lifetimes.
package regalloc

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/tinyrange/xlate/internal/ir"
)

// Lifetime is the span of operation indices during which a virtual
// register must hold its value. LastUse is the last operation that touches
// the register, read or write, so a register that is only written has
// LastUse == Def. Registers read before any write are live-in and start at
// operation 0.
type Lifetime struct {
	Reg     ir.Reg
	Def     int
	LastUse int
	LiveIn  bool
}

func (l Lifetime) String() string {
	return fmt.Sprintf("%s [%d,%d]", l.Reg, l.Def, l.LastUse)
}

// AnalyzeLifetimes returns one lifetime for every register the block reads
// or writes, sorted by Def and then by register number.
func AnalyzeLifetimes(b ir.Block) []Lifetime {
	index := make(map[ir.Reg]int)
	var out []Lifetime
	var buf []ir.Reg

	touch := func(r ir.Reg, i int, read bool) {
		if j, ok := index[r]; ok {
			out[j].LastUse = i
			return
		}
		lt := Lifetime{Reg: r, Def: i, LastUse: i}
		if read {
			lt.Def = 0
			lt.LiveIn = true
		}
		index[r] = len(out)
		out = append(out, lt)
	}

	for i, op := range b.Ops {
		buf = op.Uses(buf[:0])
		for _, r := range buf {
			touch(r, i, true)
		}
		if d, ok := op.Def(); ok {
			touch(d, i, false)
		}
	}

	slices.SortFunc(out, func(a, b Lifetime) int {
		if c := cmp.Compare(a.Def, b.Def); c != 0 {
			return c
		}
		return cmp.Compare(a.Reg, b.Reg)
	})
	return out
}

// ExtendLiveOut stretches the lifetime of every register at or below
// threshold to the last of n operations, so its final value is still in
// place when the block exits.
func ExtendLiveOut(lifetimes []Lifetime, threshold ir.Reg, n int) []Lifetime {
	if n == 0 {
		return lifetimes
	}
	out := slices.Clone(lifetimes)
	for i := range out {
		if out[i].Reg <= threshold {
			out[i].LastUse = n - 1
		}
	}
	return out
}

// MaxPressure is the largest number of lifetimes live at one operation.
func MaxPressure(lifetimes []Lifetime) int {
	if len(lifetimes) == 0 {
		return 0
	}
	last := 0
	for _, lt := range lifetimes {
		last = max(last, lt.LastUse)
	}
	delta := make([]int, last+2)
	for _, lt := range lifetimes {
		delta[lt.Def]++
		delta[lt.LastUse+1]--
	}
	best, cur := 0, 0
	for _, d := range delta {
		cur += d
		best = max(best, cur)
	}
	return best
}
