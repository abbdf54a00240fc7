// Package interp executes IR blocks directly. It is the degrade path for
// blocks that fail to translate and the reference semantics the optimizer
// is checked against.
package interp

import (
	"errors"
	"fmt"
	"maps"

	"github.com/tinyrange/xlate/internal/ir"
)

var ErrUnsupported = errors.New("interp: unsupported operation")

// Exit describes how execution left a block.
type Exit struct {
	// Index is the operation that transferred control, or the block length
	// when execution fell off the end.
	Index  int
	Taken  bool
	Offset int64
}

// Machine holds guest register and memory state. Memory is sparse and
// little-endian; unwritten bytes read as zero.
type Machine struct {
	Regs map[ir.Reg]uint64
	Mem  map[uint64]byte
}

func New() *Machine {
	return &Machine{
		Regs: make(map[ir.Reg]uint64),
		Mem:  make(map[uint64]byte),
	}
}

func (m *Machine) Clone() *Machine {
	return &Machine{Regs: maps.Clone(m.Regs), Mem: maps.Clone(m.Mem)}
}

func (m *Machine) Reg(r ir.Reg) uint64 { return m.Regs[r] }

func (m *Machine) SetReg(r ir.Reg, v uint64) { m.Regs[r] = v }

func (m *Machine) Read(addr uint64, size uint8) uint64 {
	var v uint64
	for i := uint8(0); i < size; i++ {
		v |= uint64(m.Mem[addr+uint64(i)]) << (8 * i)
	}
	return v
}

func (m *Machine) Write(addr uint64, size uint8, v uint64) {
	for i := uint8(0); i < size; i++ {
		m.Mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

// Run executes b until it branches out or falls through.
func (m *Machine) Run(b ir.Block) (Exit, error) {
	for i, op := range b.Ops {
		switch o := op.(type) {
		case ir.Binary:
			m.Regs[o.Dst] = ir.EvalBinary(o.Kind, m.Regs[o.Src1], m.Regs[o.Src2])
		case ir.BinaryImm:
			m.Regs[o.Dst] = ir.EvalBinary(o.Kind, m.Regs[o.Src], uint64(o.Imm))
		case ir.Mov:
			m.Regs[o.Dst] = m.Regs[o.Src]
		case ir.MovImm:
			m.Regs[o.Dst] = uint64(o.Imm)
		case ir.Load:
			m.Regs[o.Dst] = m.Read(m.Regs[o.Base]+uint64(o.Offset), o.Size)
		case ir.Store:
			m.Write(m.Regs[o.Base]+uint64(o.Offset), o.Size, m.Regs[o.Src])
		case ir.Cmp:
			var v uint64
			if ir.EvalCompare(o.Cond, m.Regs[o.Src1], m.Regs[o.Src2]) {
				v = 1
			}
			m.Regs[o.Dst] = v
		case ir.Branch:
			if ir.EvalCompare(o.Cond, m.Regs[o.Src1], m.Regs[o.Src2]) {
				return Exit{Index: i, Taken: true, Offset: o.Offset}, nil
			}
		case ir.Jump:
			return Exit{Index: i, Taken: true, Offset: o.Offset}, nil
		default:
			return Exit{Index: i}, fmt.Errorf("%w: %s", ErrUnsupported, op)
		}
	}
	return Exit{Index: len(b.Ops)}, nil
}
