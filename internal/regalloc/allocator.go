package regalloc

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tinyrange/xlate/internal/ir"
)

// AllocationError reports the virtual register that could not be given a
// physical register.
type AllocationError struct {
	Reg       ir.Reg
	Available int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("regalloc: no physical register for %s (%d available)", e.Reg, e.Available)
}

// Location is where a virtual register lives: a physical register, or a
// stack slot when Spilled is set.
type Location struct {
	Reg     ir.Reg
	Slot    int
	Spilled bool
}

func (l Location) String() string {
	if l.Spilled {
		return fmt.Sprintf("slot%d", l.Slot)
	}
	return l.Reg.String()
}

// Stats counts allocator work. All fields only grow.
type Stats struct {
	TempsReused      int64
	Spills           int64
	Coalesced        int64
	CopiesEliminated int64
}

func (s *Stats) Add(o Stats) {
	s.TempsReused += o.TempsReused
	s.Spills += o.Spills
	s.Coalesced += o.Coalesced
	s.CopiesEliminated += o.CopiesEliminated
}

// Mapping is the result of one allocation. It is owned by the caller and
// consumed by Apply.
type Mapping struct {
	Locations map[ir.Reg]Location
	Slots     int
	Stats     Stats
}

func (m *Mapping) Lookup(r ir.Reg) (Location, bool) {
	loc, ok := m.Locations[r]
	return loc, ok
}

// PhysicalRegs lists the distinct physical registers the mapping uses.
func (m *Mapping) PhysicalRegs() []ir.Reg {
	seen := make(map[ir.Reg]bool)
	for _, loc := range m.Locations {
		if !loc.Spilled {
			seen[loc.Reg] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

func (m *Mapping) String() string {
	var sb strings.Builder
	for _, r := range slices.Sorted(maps.Keys(m.Locations)) {
		fmt.Fprintf(&sb, "%s -> %s\n", r, m.Locations[r])
	}
	return sb.String()
}

// Allocator assigns physical registers by linear scan over lifetimes sorted
// by definition point. The zero value fails with *AllocationError when
// demand exceeds the register set.
type Allocator struct {
	// Spill moves the lifetime that ends furthest away to a stack slot
	// instead of failing.
	Spill bool
	// Coalesce gives the destination of "mov d, s" the register of s when
	// s dies at that move, so Apply can drop the copy.
	Coalesce bool
}

type active struct {
	lt  Lifetime
	reg ir.Reg
}

// Allocate maps every lifetime onto regs. A lifetime whose LastUse is
// strictly before the next Def is expired and its register returned to the
// pool for reuse.
func (a Allocator) Allocate(b ir.Block, lifetimes []Lifetime, regs []ir.Reg) (*Mapping, error) {
	order := slices.Clone(lifetimes)
	slices.SortStableFunc(order, func(x, y Lifetime) int {
		if x.Def != y.Def {
			return x.Def - y.Def
		}
		return int(x.Reg) - int(y.Reg)
	})

	m := &Mapping{Locations: make(map[ir.Reg]Location, len(order))}
	pool := NewTempPool(regs)
	var live []active

	insert := func(e active) {
		idx, _ := slices.BinarySearchFunc(live, e, func(x, y active) int {
			if x.lt.LastUse != y.lt.LastUse {
				return x.lt.LastUse - y.lt.LastUse
			}
			return int(x.lt.Reg) - int(y.lt.Reg)
		})
		live = slices.Insert(live, idx, e)
	}

	for _, cur := range order {
		// expire in LastUse order so the reuse queue is deterministic
		n := 0
		for n < len(live) && live[n].lt.LastUse < cur.Def {
			pool.Release(live[n].reg)
			n++
		}
		live = live[n:]

		if a.Coalesce {
			if idx := a.coalesceWith(b, cur, live); idx >= 0 {
				reg := live[idx].reg
				live = slices.Delete(live, idx, idx+1)
				m.Locations[cur.Reg] = Location{Reg: reg}
				m.Stats.Coalesced++
				insert(active{lt: cur, reg: reg})
				continue
			}
		}

		if reg, ok := pool.Acquire(); ok {
			m.Locations[cur.Reg] = Location{Reg: reg}
			insert(active{lt: cur, reg: reg})
			continue
		}

		if !a.Spill {
			return nil, &AllocationError{Reg: cur.Reg, Available: len(regs)}
		}

		// spill whichever of the live lifetimes and cur ends last
		if n := len(live); n > 0 && live[n-1].lt.LastUse > cur.LastUse {
			victim := live[n-1]
			live = live[:n-1]
			m.Locations[victim.lt.Reg] = Location{Slot: m.Slots, Spilled: true}
			m.Locations[cur.Reg] = Location{Reg: victim.reg}
			insert(active{lt: cur, reg: victim.reg})
		} else {
			m.Locations[cur.Reg] = Location{Slot: m.Slots, Spilled: true}
		}
		m.Slots++
		m.Stats.Spills++
	}

	m.Stats.TempsReused = pool.TempsReused
	return m, nil
}

// coalesceWith returns the index in live of the source of a move that
// defines cur and is that source's last use, or -1.
func (a Allocator) coalesceWith(b ir.Block, cur Lifetime, live []active) int {
	if cur.LiveIn || cur.Def >= len(b.Ops) {
		return -1
	}
	mov, ok := b.Ops[cur.Def].(ir.Mov)
	if !ok || mov.Dst != cur.Reg || mov.Src == mov.Dst {
		return -1
	}
	for i, e := range live {
		if e.lt.Reg == mov.Src && e.lt.LastUse == cur.Def {
			return i
		}
	}
	return -1
}
