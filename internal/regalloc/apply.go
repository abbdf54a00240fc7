package regalloc

import (
	"fmt"

	"github.com/tinyrange/xlate/internal/ir"
)

// SlotSize is the size in bytes of one spill slot.
const SlotSize = 8

// Frame describes where spilled registers live on the target: slot n is at
// [Base + n*SlotSize], reached through the two Scratch registers which the
// allocator never hands out.
type Frame struct {
	Base    ir.Reg
	Scratch [2]ir.Reg
}

// Apply rewrites b onto physical registers. Spilled sources are loaded into
// scratch registers before each operation and spilled destinations stored
// after it. Moves that become a copy of a register onto itself are dropped.
func Apply(b ir.Block, m *Mapping, frame Frame) (ir.Block, Stats, error) {
	stats := m.Stats
	out := make([]ir.Op, 0, len(b.Ops))
	var buf []ir.Reg

	for i, op := range b.Ops {
		var (
			missing ir.Reg
			failed  bool
			loads   []ir.Op
			scratch = map[ir.Reg]ir.Reg{}
		)

		buf = op.Uses(buf[:0])
		for _, r := range buf {
			loc, ok := m.Lookup(r)
			if !ok {
				missing, failed = r, true
				break
			}
			if !loc.Spilled {
				continue
			}
			if _, done := scratch[r]; done {
				continue
			}
			if len(scratch) == len(frame.Scratch) {
				return ir.Block{}, stats, fmt.Errorf("regalloc: op %d (%s) reads more than %d spilled registers", i, op, len(frame.Scratch))
			}
			s := frame.Scratch[len(scratch)]
			scratch[r] = s
			loads = append(loads, ir.Load{Dst: s, Base: frame.Base, Offset: int64(loc.Slot) * SlotSize, Size: SlotSize})
		}
		if failed {
			return ir.Block{}, stats, fmt.Errorf("regalloc: %s at op %d has no location", missing, i)
		}

		var store ir.Op
		if d, ok := op.Def(); ok {
			loc, found := m.Lookup(d)
			if !found {
				return ir.Block{}, stats, fmt.Errorf("regalloc: %s at op %d has no location", d, i)
			}
			if loc.Spilled {
				store = ir.Store{Src: frame.Scratch[0], Base: frame.Base, Offset: int64(loc.Slot) * SlotSize, Size: SlotSize}
			}
		}

		mapped := op.MapRegs(func(r ir.Reg, def bool) ir.Reg {
			loc := m.Locations[r]
			switch {
			case !loc.Spilled:
				return loc.Reg
			case def:
				return frame.Scratch[0]
			default:
				return scratch[r]
			}
		})

		out = append(out, loads...)
		if mov, ok := mapped.(ir.Mov); ok && mov.Dst == mov.Src {
			stats.CopiesEliminated++
		} else {
			out = append(out, mapped)
		}
		if store != nil {
			out = append(out, store)
		}
	}
	return b.WithOps(out), stats, nil
}
