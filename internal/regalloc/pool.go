package regalloc

import (
	"slices"

	"github.com/tinyrange/xlate/internal/ir"
)

// TempPool hands out physical registers. Released registers go to a FIFO
// reuse queue that is drained before any register that has never been
// handed out.
type TempPool struct {
	regs  []ir.Reg
	next  int
	free  []ir.Reg
	inUse map[ir.Reg]bool

	// TempsReused counts every Acquire served from the reuse queue.
	TempsReused int64
}

func NewTempPool(regs []ir.Reg) *TempPool {
	return &TempPool{
		regs:  slices.Clone(regs),
		inUse: make(map[ir.Reg]bool, len(regs)),
	}
}

// Acquire returns a free register, or false when every register is in use.
func (p *TempPool) Acquire() (ir.Reg, bool) {
	if len(p.free) > 0 {
		r := p.free[0]
		p.free = p.free[1:]
		p.inUse[r] = true
		p.TempsReused++
		return r, true
	}
	for p.next < len(p.regs) {
		r := p.regs[p.next]
		p.next++
		if p.inUse[r] {
			continue
		}
		p.inUse[r] = true
		return r, true
	}
	return 0, false
}

// Release returns r to the reuse queue. Releasing a register that is not in
// use is a no-op.
func (p *TempPool) Release(r ir.Reg) {
	if !p.inUse[r] {
		return
	}
	delete(p.inUse, r)
	p.free = append(p.free, r)
}
