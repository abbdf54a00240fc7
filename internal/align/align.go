// Package align classifies memory accesses by alignment and detects
// sequential and strided access patterns within a block.
package align

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/xlate/internal/ir"
)

const (
	// LowRegAlignment is assumed for base registers below 4, which hold
	// stack and frame style pointers.
	LowRegAlignment = 16
	// DefaultAlignment is assumed for every other base register.
	DefaultAlignment = 8
)

// Access is one memory reference. The full triple is the analysis key.
type Access struct {
	Base   ir.Reg
	Offset int64
	Size   uint8
}

func (a Access) String() string {
	return fmt.Sprintf("[%s%+d].%d", a.Base, a.Offset, a.Size)
}

// Info is the alignment classification of an access.
type Info struct {
	// Alignment is the largest power of two known to divide the address.
	Alignment     uint64
	Natural       bool
	PenaltyCycles int
}

// Hinter answers whether the memory subsystem knows the alignment of the
// address held in a base register.
type Hinter interface {
	BaseAlignment(base ir.Reg) (uint64, bool)
}

// HinterFunc adapts a function to Hinter.
type HinterFunc func(base ir.Reg) (uint64, bool)

func (f HinterFunc) BaseAlignment(base ir.Reg) (uint64, bool) { return f(base) }

type Stats struct {
	Hits   int64
	Misses int64
}

// Optimizer caches alignment analysis. It is safe for concurrent use.
type Optimizer struct {
	hinter Hinter

	mu    sync.RWMutex
	cache map[Access]Info

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns an optimizer. hinter may be nil.
func New(hinter Hinter) *Optimizer {
	return &Optimizer{hinter: hinter, cache: make(map[Access]Info)}
}

// Analyze classifies the access [base+offset] of size bytes.
func (o *Optimizer) Analyze(base ir.Reg, offset int64, size uint8) Info {
	key := Access{Base: base, Offset: offset, Size: size}

	o.mu.RLock()
	info, ok := o.cache[key]
	o.mu.RUnlock()
	if ok {
		o.hits.Add(1)
		return info
	}
	o.misses.Add(1)

	info = o.compute(key)

	o.mu.Lock()
	o.cache[key] = info
	o.mu.Unlock()
	return info
}

func (o *Optimizer) compute(a Access) Info {
	baseAlign := uint64(DefaultAlignment)
	if a.Base < 4 {
		baseAlign = LowRegAlignment
	}
	if o.hinter != nil {
		if hint, ok := o.hinter.BaseAlignment(a.Base); ok && hint != 0 {
			baseAlign = lowestBit(hint)
		}
	}

	alignment := baseAlign
	if a.Offset != 0 {
		alignment = min(baseAlign, lowestBit(uint64(a.Offset)))
	}

	info := Info{Alignment: alignment, Natural: alignment >= uint64(a.Size)}
	if !info.Natural {
		info.PenaltyCycles = Penalty(a.Size)
	}
	return info
}

// Penalty is the cost in cycles of a misaligned access of size bytes.
func Penalty(size uint8) int {
	switch size {
	case 1:
		return 1
	case 2:
		return 2
	case 4:
		return 3
	default:
		return 4
	}
}

func lowestBit(v uint64) uint64 {
	return 1 << bits.TrailingZeros64(v)
}

func (o *Optimizer) Stats() Stats {
	return Stats{Hits: o.hits.Load(), Misses: o.misses.Load()}
}

// Len is the number of cached classifications.
func (o *Optimizer) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.cache)
}
