// Package riscv encodes register-allocated operations as RV64IM machine
// code. RV64IM division already has the zero and overflow results the IR
// defines, so every operation lowers without fixups.
package riscv

import (
	"fmt"
	"math"

	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/ir"
)

func init() {
	asm.Register(Encoder{})
}

// scratch holds immediates and computed addresses. The register allocator
// never hands it out.
const scratch = X31

type Encoder struct{}

func (Encoder) Arch() arch.Architecture { return arch.RISCV64 }

var regFunct = map[ir.OpKind]struct{ funct7, funct3 uint32 }{
	ir.OpAdd:  {0, 0},
	ir.OpSub:  {funct7Alt, 0},
	ir.OpMul:  {funct7M, 0},
	ir.OpDiv:  {funct7M, 4},
	ir.OpDivU: {funct7M, 5},
	ir.OpRem:  {funct7M, 6},
	ir.OpRemU: {funct7M, 7},
	ir.OpAnd:  {0, 7},
	ir.OpOr:   {0, 6},
	ir.OpXor:  {0, 4},
	ir.OpShl:  {0, 1},
	ir.OpShr:  {0, 5},
	ir.OpSar:  {funct7Alt, 5},
}

// immFunct3 lists the kinds with an I-type form.
var immFunct3 = map[ir.OpKind]uint32{
	ir.OpAdd: 0,
	ir.OpXor: 4,
	ir.OpOr:  6,
	ir.OpAnd: 7,
}

var loadFunct3 = map[uint8]uint32{1: 4, 2: 5, 4: 6, 8: 3}

var storeFunct3 = map[uint8]uint32{1: 0, 2: 1, 4: 2, 8: 3}

func (e Encoder) Encode(op ir.Op) ([]byte, error) {
	buf := asm.NewBuffer(arch.RISCV64)
	if err := e.encode(buf, op); err != nil {
		if _, ok := err.(*asm.UnsupportedOperationError); ok {
			return nil, err
		}
		return nil, &asm.EncodingError{Arch: arch.RISCV64, Op: op, Err: err}
	}
	return buf.Bytes(), nil
}

func (e Encoder) encode(buf *asm.Buffer, op ir.Op) error {
	if err := checkRegs(op); err != nil {
		return err
	}

	switch o := op.(type) {
	case ir.Binary:
		f, ok := regFunct[o.Kind]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.RISCV64, Op: op}
		}
		buf.Emit32(encodeR(f.funct7, uint32(o.Src2), uint32(o.Src1), f.funct3, uint32(o.Dst), opReg))

	case ir.BinaryImm:
		return e.binaryImm(buf, o)

	case ir.Mov:
		buf.Emit32(mustI(0, uint32(o.Src), 0, uint32(o.Dst), opImm))

	case ir.MovImm:
		loadImmediate(buf, uint32(o.Dst), o.Imm)

	case ir.Load:
		f3, ok := loadFunct3[o.Size]
		if !ok {
			return fmt.Errorf("riscv: load size %d", o.Size)
		}
		base, off := address(buf, o.Base, o.Offset)
		buf.Emit32(mustI(off, base, f3, uint32(o.Dst), opLoad))

	case ir.Store:
		f3, ok := storeFunct3[o.Size]
		if !ok {
			return fmt.Errorf("riscv: store size %d", o.Size)
		}
		base, off := address(buf, o.Base, o.Offset)
		insn, err := encodeS(off, base, uint32(o.Src), f3, opStore)
		if err != nil {
			return err
		}
		buf.Emit32(insn)

	case ir.Cmp:
		return compare(buf, o)

	case ir.Branch:
		rs1, rs2, f3, err := branchOperands(o)
		if err != nil {
			return err
		}
		insn, err := encodeB(o.Offset, rs1, rs2, f3)
		if err != nil {
			return err
		}
		buf.Emit32(insn)

	case ir.Jump:
		insn, err := encodeJ(o.Offset, X0)
		if err != nil {
			return err
		}
		buf.Emit32(insn)

	default:
		return &asm.UnsupportedOperationError{Arch: arch.RISCV64, Op: op}
	}
	return nil
}

func (e Encoder) binaryImm(buf *asm.Buffer, o ir.BinaryImm) error {
	rd, rs := uint32(o.Dst), uint32(o.Src)

	switch o.Kind {
	case ir.OpShl:
		buf.Emit32(mustI(int32(o.Imm&63), rs, 1, rd, opImm))
		return nil
	case ir.OpShr:
		buf.Emit32(mustI(int32(o.Imm&63), rs, 5, rd, opImm))
		return nil
	case ir.OpSar:
		buf.Emit32(mustI(int32(0x400|o.Imm&63), rs, 5, rd, opImm))
		return nil
	case ir.OpSub:
		if o.Imm != math.MinInt64 && asm.FitsSigned(-o.Imm, 12) {
			buf.Emit32(mustI(int32(-o.Imm), rs, 0, rd, opImm))
			return nil
		}
	}

	if f3, ok := immFunct3[o.Kind]; ok && asm.FitsSigned(o.Imm, 12) {
		buf.Emit32(mustI(int32(o.Imm), rs, f3, rd, opImm))
		return nil
	}

	f, ok := regFunct[o.Kind]
	if !ok {
		return &asm.UnsupportedOperationError{Arch: arch.RISCV64, Op: o}
	}
	loadImmediate(buf, scratch, o.Imm)
	buf.Emit32(encodeR(f.funct7, scratch, rs, f.funct3, rd, opReg))
	return nil
}

// address returns a base register and 12-bit offset for [base+offset],
// computing the address into the scratch register when the offset is wide.
func address(buf *asm.Buffer, base ir.Reg, offset int64) (uint32, int32) {
	if asm.FitsSigned(offset, 12) {
		return uint32(base), int32(offset)
	}
	loadImmediate(buf, scratch, offset)
	buf.Emit32(encodeR(0, uint32(base), scratch, 0, scratch, opReg))
	return scratch, 0
}

func compare(buf *asm.Buffer, o ir.Cmp) error {
	rd, a, b := uint32(o.Dst), uint32(o.Src1), uint32(o.Src2)
	const (
		slt  = 2
		sltu = 3
		xor  = 4
	)

	switch o.Cond {
	case ir.CompareEqual:
		buf.Emit32(encodeR(0, b, a, xor, rd, opReg))
		buf.Emit32(mustI(1, rd, sltu, rd, opImm))
	case ir.CompareNotEqual:
		buf.Emit32(encodeR(0, b, a, xor, rd, opReg))
		buf.Emit32(encodeR(0, rd, X0, sltu, rd, opReg))
	case ir.CompareLess:
		buf.Emit32(encodeR(0, b, a, slt, rd, opReg))
	case ir.CompareGreaterOrEqual:
		buf.Emit32(encodeR(0, b, a, slt, rd, opReg))
		buf.Emit32(mustI(1, rd, xor, rd, opImm))
	case ir.CompareGreater:
		buf.Emit32(encodeR(0, a, b, slt, rd, opReg))
	case ir.CompareLessOrEqual:
		buf.Emit32(encodeR(0, a, b, slt, rd, opReg))
		buf.Emit32(mustI(1, rd, xor, rd, opImm))
	case ir.CompareLessUnsigned:
		buf.Emit32(encodeR(0, b, a, sltu, rd, opReg))
	case ir.CompareGreaterOrEqualUnsigned:
		buf.Emit32(encodeR(0, b, a, sltu, rd, opReg))
		buf.Emit32(mustI(1, rd, xor, rd, opImm))
	default:
		return &asm.UnsupportedOperationError{Arch: arch.RISCV64, Op: o}
	}
	return nil
}

func branchOperands(o ir.Branch) (rs1, rs2, funct3 uint32, err error) {
	a, b := uint32(o.Src1), uint32(o.Src2)
	switch o.Cond {
	case ir.CompareEqual:
		return a, b, 0, nil
	case ir.CompareNotEqual:
		return a, b, 1, nil
	case ir.CompareLess:
		return a, b, 4, nil
	case ir.CompareGreaterOrEqual:
		return a, b, 5, nil
	case ir.CompareGreater:
		return b, a, 4, nil
	case ir.CompareLessOrEqual:
		return b, a, 5, nil
	case ir.CompareLessUnsigned:
		return a, b, 6, nil
	case ir.CompareGreaterOrEqualUnsigned:
		return a, b, 7, nil
	}
	return 0, 0, 0, &asm.UnsupportedOperationError{Arch: arch.RISCV64, Op: o}
}

func checkRegs(op ir.Op) error {
	var bad error
	op.MapRegs(func(r ir.Reg, _ bool) ir.Reg {
		if r > X31 && bad == nil {
			bad = fmt.Errorf("riscv: register %s does not exist", r)
		}
		return r
	})
	return bad
}
