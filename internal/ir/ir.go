// Package ir defines the architecture-neutral operations captured from a
// guest instruction stream. A Block is one straight-line translation unit.
package ir

import (
	"fmt"
	"reflect"
	"strings"
)

// Reg is a virtual register. After allocation the same type carries
// physical register numbers of the target architecture.
type Reg uint32

func (r Reg) String() string { return fmt.Sprintf("r%d", r) }

// Op is a single IR operation. The set of concrete types in this package is
// closed, but analyses only rely on these methods so operations added later
// flow through every pass unchanged.
type Op interface {
	// Def returns the register written by the operation, if any.
	Def() (Reg, bool)
	// Uses appends the registers read by the operation to buf.
	Uses(buf []Reg) []Reg
	// HasSideEffects reports effects beyond writing Dst (memory, control flow).
	HasSideEffects() bool
	// MapRegs returns a copy of the operation with every register replaced
	// by fn. def is true for the destination.
	MapRegs(fn func(r Reg, def bool) Reg) Op
	String() string
}

// Block is an immutable translation unit. Passes build new blocks.
type Block struct {
	PC  uint64
	Ops []Op
}

func NewBlock(pc uint64, ops ...Op) Block {
	return Block{PC: pc, Ops: ops}
}

// Clone returns a block that shares no operation storage with b.
func (b Block) Clone() Block {
	ops := make([]Op, len(b.Ops))
	copy(ops, b.Ops)
	return Block{PC: b.PC, Ops: ops}
}

// WithOps returns a block at the same pc holding ops.
func (b Block) WithOps(ops []Op) Block {
	return Block{PC: b.PC, Ops: ops}
}

func (b Block) Len() int { return len(b.Ops) }

// Equal compares pcs and operations.
func (b Block) Equal(other Block) bool {
	return b.PC == other.PC && OpsEqual(b.Ops, other.Ops)
}

func (b Block) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block 0x%x\n", b.PC)
	for _, op := range b.Ops {
		sb.WriteString("  ")
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// MaxReg returns the highest register referenced by the block and whether the
// block references any register at all.
func (b Block) MaxReg() (Reg, bool) {
	var (
		max   Reg
		found bool
		buf   []Reg
	)
	for _, op := range b.Ops {
		buf = op.Uses(buf[:0])
		if d, ok := op.Def(); ok {
			buf = append(buf, d)
		}
		for _, r := range buf {
			if !found || r > max {
				max = r
				found = true
			}
		}
	}
	return max, found
}

// OpsEqual compares two operation sequences element by element.
func OpsEqual(a, b []Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !OpEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// OpEqual compares operations without panicking on operation types that are
// not comparable with ==.
func OpEqual(a, b Op) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta != nil && ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
