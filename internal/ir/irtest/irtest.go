// Package irtest generates random blocks and checks that two blocks behave
// the same under the reference interpreter.
package irtest

import (
	"fmt"
	"maps"
	"math/rand"

	"github.com/tinyrange/xlate/internal/interp"
	"github.com/tinyrange/xlate/internal/ir"
)

// Regs is the register range used by RandomBlock.
const Regs = 10

var interestingImms = []int64{0, 1, 2, 3, 4, 8, 16, 64, 255, 4096, -1, -8, 1 << 32, -1 << 63}

var offsets = []int64{0, 4, 8, 16, -8, 12}

var sizes = []uint8{1, 2, 4, 8}

func reg(r *rand.Rand) ir.Reg { return ir.Reg(r.Intn(Regs)) }

func imm(r *rand.Rand) int64 {
	if r.Intn(4) == 0 {
		return r.Int63n(1000) - 500
	}
	return interestingImms[r.Intn(len(interestingImms))]
}

// RandomBlock returns a block of n operations drawn from r. Exits are rare so
// most blocks run to completion.
func RandomBlock(r *rand.Rand, n int) ir.Block {
	ops := make([]ir.Op, 0, n)
	for len(ops) < n {
		var op ir.Op
		switch x := r.Intn(100); {
		case x < 15:
			op = ir.MovImm{Dst: reg(r), Imm: imm(r)}
		case x < 25:
			op = ir.Mov{Dst: reg(r), Src: reg(r)}
		case x < 50:
			op = ir.Binary{Kind: ir.OpKind(1 + r.Intn(int(ir.OpSar))), Dst: reg(r), Src1: reg(r), Src2: reg(r)}
		case x < 70:
			op = ir.BinaryImm{Kind: ir.OpKind(1 + r.Intn(int(ir.OpSar))), Dst: reg(r), Src: reg(r), Imm: imm(r)}
		case x < 78:
			op = ir.Load{Dst: reg(r), Base: reg(r), Offset: offsets[r.Intn(len(offsets))], Size: sizes[r.Intn(len(sizes))]}
		case x < 88:
			op = ir.Store{Src: reg(r), Base: reg(r), Offset: offsets[r.Intn(len(offsets))], Size: sizes[r.Intn(len(sizes))]}
		case x < 96:
			op = ir.Cmp{Cond: ir.CompareKind(r.Intn(8)), Dst: reg(r), Src1: reg(r), Src2: reg(r)}
		case x < 99:
			op = ir.Branch{Cond: ir.CompareKind(r.Intn(8)), Src1: reg(r), Src2: reg(r), Offset: int64(r.Intn(64)) * 4}
		default:
			op = ir.Jump{Offset: int64(r.Intn(64)) * 4}
		}
		ops = append(ops, op)
	}
	return ir.Block{PC: uint64(r.Intn(1<<20)) << 2, Ops: ops}
}

// RandomMachine seeds every register of RandomBlock's range.
func RandomMachine(r *rand.Rand) *interp.Machine {
	m := interp.New()
	for i := ir.Reg(0); i < Regs; i++ {
		if r.Intn(3) == 0 {
			m.SetReg(i, uint64(interestingImms[r.Intn(len(interestingImms))]))
		} else {
			m.SetReg(i, r.Uint64())
		}
	}
	return m
}

// Equivalent runs both blocks from the same state and compares how they
// exit, every register at or below liveOut, and memory.
func Equivalent(want, got ir.Block, liveOut ir.Reg, start *interp.Machine) error {
	a, b := start.Clone(), start.Clone()
	exitA, errA := a.Run(want)
	exitB, errB := b.Run(got)
	if errA != nil || errB != nil {
		return fmt.Errorf("run: %v / %v", errA, errB)
	}
	if exitA.Taken != exitB.Taken || exitA.Offset != exitB.Offset {
		return fmt.Errorf("exit differs: %+v vs %+v", exitA, exitB)
	}
	for r := ir.Reg(0); r <= liveOut; r++ {
		if a.Reg(r) != b.Reg(r) {
			return fmt.Errorf("%s = %#x, want %#x", r, b.Reg(r), a.Reg(r))
		}
	}
	if !maps.Equal(a.Mem, b.Mem) {
		return fmt.Errorf("memory differs")
	}
	return nil
}
