// Package arm64 encodes register-allocated operations as AArch64 machine
// code. x16 and x17 are clobbered by immediate materialization, division
// and wide address computation.
package arm64

import (
	"fmt"

	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/ir"
)

func init() {
	asm.Register(Encoder{})
}

type Encoder struct{}

func (Encoder) Arch() arch.Architecture { return arch.ARM64 }

var regForm = map[ir.OpKind]func(dst, left, right uint32) uint32{
	ir.OpAdd: encodeAddReg64,
	ir.OpSub: encodeSubReg64,
	ir.OpMul: encodeMul,
	ir.OpAnd: encodeAndReg,
	ir.OpOr:  encodeOrrReg,
	ir.OpXor: encodeEorReg,
	ir.OpShl: func(dst, left, right uint32) uint32 { return encodeShiftReg(dst, left, right, 0) },
	ir.OpShr: func(dst, left, right uint32) uint32 { return encodeShiftReg(dst, left, right, 1) },
	ir.OpSar: func(dst, left, right uint32) uint32 { return encodeShiftReg(dst, left, right, 2) },
}

var conditions = map[ir.CompareKind]uint32{
	ir.CompareEqual:                  condEQ,
	ir.CompareNotEqual:               condNE,
	ir.CompareLess:                   condLT,
	ir.CompareGreaterOrEqual:         condGE,
	ir.CompareLessOrEqual:            condLE,
	ir.CompareGreater:                condGT,
	ir.CompareLessUnsigned:           condLO,
	ir.CompareGreaterOrEqualUnsigned: condHS,
}

func (e Encoder) Encode(op ir.Op) ([]byte, error) {
	buf := asm.NewBuffer(arch.ARM64)
	if err := e.encode(buf, op); err != nil {
		if _, ok := err.(*asm.UnsupportedOperationError); ok {
			return nil, err
		}
		return nil, &asm.EncodingError{Arch: arch.ARM64, Op: op, Err: err}
	}
	return buf.Bytes(), nil
}

func (e Encoder) encode(buf *asm.Buffer, op ir.Op) error {
	if err := checkRegs(op); err != nil {
		return err
	}

	switch o := op.(type) {
	case ir.Binary:
		dst, a, b := uint32(o.Dst), uint32(o.Src1), uint32(o.Src2)
		if o.Kind.IsDivision() {
			division(buf, o.Kind, dst, a, b)
			return nil
		}
		form, ok := regForm[o.Kind]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.ARM64, Op: op}
		}
		buf.Emit32(form(dst, a, b))

	case ir.BinaryImm:
		return binaryImm(buf, o)

	case ir.Mov:
		buf.Emit32(encodeMoveReg(uint32(o.Dst), uint32(o.Src)))

	case ir.MovImm:
		loadImmediate(buf, uint32(o.Dst), o.Imm)

	case ir.Load:
		base, off := address(buf, o.Base, o.Offset, o.Size)
		insn, err := encodeLoadStore(uint32(o.Dst), base, off, o.Size, false)
		if err != nil {
			return err
		}
		buf.Emit32(insn)

	case ir.Store:
		base, off := address(buf, o.Base, o.Offset, o.Size)
		insn, err := encodeLoadStore(uint32(o.Src), base, off, o.Size, true)
		if err != nil {
			return err
		}
		buf.Emit32(insn)

	case ir.Cmp:
		cond, ok := conditions[o.Cond]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.ARM64, Op: op}
		}
		buf.Emit32(encodeCmpReg64(uint32(o.Src1), uint32(o.Src2)))
		buf.Emit32(encodeCset(uint32(o.Dst), cond))

	case ir.Branch:
		cond, ok := conditions[o.Cond]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.ARM64, Op: op}
		}
		insn, err := encodeBranchCond(o.Offset, cond)
		if err != nil {
			return err
		}
		buf.Emit32(encodeCmpReg64(uint32(o.Src1), uint32(o.Src2)))
		buf.Emit32(insn)

	case ir.Jump:
		insn, err := encodeBranch(o.Offset)
		if err != nil {
			return err
		}
		buf.Emit32(insn)

	default:
		return &asm.UnsupportedOperationError{Arch: arch.ARM64, Op: op}
	}
	return nil
}

func binaryImm(buf *asm.Buffer, o ir.BinaryImm) error {
	dst, src := uint32(o.Dst), uint32(o.Src)

	switch o.Kind {
	case ir.OpShl:
		buf.Emit32(encodeLogicalShift(dst, src, uint32(o.Imm), false))
		return nil
	case ir.OpShr:
		buf.Emit32(encodeLogicalShift(dst, src, uint32(o.Imm), true))
		return nil
	case ir.OpSar:
		buf.Emit32(encodeArithShift(dst, src, uint32(o.Imm)))
		return nil
	case ir.OpAdd, ir.OpSub:
		imm := o.Imm
		if o.Kind == ir.OpSub {
			imm = -imm
		}
		switch {
		case imm >= 0 && imm <= 0xFFF:
			insn, _ := encodeAddImm64(dst, src, uint32(imm))
			buf.Emit32(insn)
			return nil
		case imm < 0 && imm >= -0xFFF:
			insn, _ := encodeSubImm64(dst, src, uint32(-imm))
			buf.Emit32(insn)
			return nil
		}
	}

	if o.Kind.IsDivision() {
		loadImmediate(buf, X17, o.Imm)
		division(buf, o.Kind, dst, src, X17)
		return nil
	}
	form, ok := regForm[o.Kind]
	if !ok {
		return &asm.UnsupportedOperationError{Arch: arch.ARM64, Op: o}
	}
	loadImmediate(buf, X16, o.Imm)
	buf.Emit32(form(dst, src, X16))
	return nil
}

// division computes the quotient into x16 first so dst may alias either
// operand. A zero divisor makes sdiv/udiv return 0, which msub turns into
// the dividend for remainders; quotients are patched to all ones with csinv.
func division(buf *asm.Buffer, kind ir.OpKind, dst, a, b uint32) {
	signed := kind == ir.OpDiv || kind == ir.OpRem
	buf.Emit32(encodeDiv(X16, a, b, signed))
	if kind == ir.OpDiv || kind == ir.OpDivU {
		buf.Emit32(encodeCmpZero(b))
		buf.Emit32(encodeCsinv(dst, X16, XZR, condNE))
		return
	}
	buf.Emit32(encodeMsub(dst, X16, b, a))
}

// loadImmediate builds value 16 bits at a time, starting from MOVN when
// most chunks are all ones.
func loadImmediate(buf *asm.Buffer, rd uint32, value int64) {
	u := uint64(value)
	var zeros, ones int
	for shift := uint32(0); shift < 64; shift += 16 {
		switch uint16(u >> shift) {
		case 0:
			zeros++
		case 0xFFFF:
			ones++
		}
	}

	inverted := ones > zeros
	fill := uint16(0)
	if inverted {
		fill = 0xFFFF
	}

	first := true
	for shift := uint32(0); shift < 64; shift += 16 {
		chunk := uint16(u >> shift)
		if chunk == fill {
			continue
		}
		switch {
		case first && inverted:
			buf.Emit32(encodeMovn(rd, ^chunk, shift))
		case first:
			buf.Emit32(encodeMovz(rd, chunk, shift))
		default:
			buf.Emit32(encodeMovk(rd, chunk, shift))
		}
		first = false
	}
	if first {
		if inverted {
			buf.Emit32(encodeMovn(rd, 0, 0))
		} else {
			buf.Emit32(encodeMovz(rd, 0, 0))
		}
	}
}

// address returns base and offset unchanged when a load/store form can
// encode them, otherwise it computes the address into x16.
func address(buf *asm.Buffer, base ir.Reg, offset int64, size uint8) (uint32, int64) {
	if _, err := encodeLoadStore(0, uint32(base), offset, size, false); err == nil {
		return uint32(base), offset
	}
	loadImmediate(buf, X16, offset)
	buf.Emit32(encodeAddExtReg64(X16, uint32(base), X16))
	return X16, 0
}

func checkRegs(op ir.Op) error {
	var bad error
	op.MapRegs(func(r ir.Reg, _ bool) ir.Reg {
		if r > SP && bad == nil {
			bad = fmt.Errorf("arm64: register %s does not exist", r)
		}
		return r
	})
	return bad
}
