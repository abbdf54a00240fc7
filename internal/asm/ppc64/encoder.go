// Package ppc64 encodes register-allocated operations as big-endian 64-bit
// Power ISA machine code. r11 and r12 are clobbered by immediates, compares
// and indexed addressing. Division has no lowering.
package ppc64

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

func (Encoder) Arch() arch.Architecture { return arch.PPC64 }

type condition struct {
	bit      uint32 // CR0 bit: 0 lt, 1 gt, 2 eq
	whenSet  bool
	unsigned bool
}

var conditions = map[ir.CompareKind]condition{
	ir.CompareEqual:                  {2, true, false},
	ir.CompareNotEqual:               {2, false, false},
	ir.CompareLess:                   {0, true, false},
	ir.CompareGreaterOrEqual:         {0, false, false},
	ir.CompareGreater:                {1, true, false},
	ir.CompareLessOrEqual:            {1, false, false},
	ir.CompareLessUnsigned:           {0, true, true},
	ir.CompareGreaterOrEqualUnsigned: {0, false, true},
}

var memOpcodes = map[uint8]struct {
	load, store   uint32
	loadX, storeX uint32
}{
	8: {opLd, opStd, 21 << 1, 149 << 1},
	4: {opLwz, opStw, 23 << 1, 151 << 1},
	2: {opLhz, opSth, 279 << 1, 407 << 1},
	1: {opLbz, opStb, 87 << 1, 215 << 1},
}

func (e Encoder) Encode(op ir.Op) ([]byte, error) {
	buf := asm.NewBuffer(arch.PPC64)
	if err := e.encode(buf, op); err != nil {
		if _, ok := err.(*asm.UnsupportedOperationError); ok {
			return nil, err
		}
		return nil, &asm.EncodingError{Arch: arch.PPC64, Op: op, Err: err}
	}
	return buf.Bytes(), nil
}

func (e Encoder) encode(buf *asm.Buffer, op ir.Op) error {
	if err := checkRegs(op); err != nil {
		return err
	}

	switch o := op.(type) {
	case ir.Binary:
		return binaryReg(buf, o.Kind, uint32(o.Dst), uint32(o.Src1), uint32(o.Src2), op)

	case ir.BinaryImm:
		return binaryImm(buf, o)

	case ir.Mov:
		buf.Emit32(encodeLogical(xoOr, uint32(o.Dst), uint32(o.Src), uint32(o.Src)))

	case ir.MovImm:
		loadImmediate(buf, uint32(o.Dst), o.Imm)

	case ir.Load:
		return memory(buf, uint32(o.Dst), o.Base, o.Offset, o.Size, false)

	case ir.Store:
		return memory(buf, uint32(o.Src), o.Base, o.Offset, o.Size, true)

	case ir.Cmp:
		c, ok := conditions[o.Cond]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.PPC64, Op: op}
		}
		buf.Emit32(encodeCmp(uint32(o.Src1), uint32(o.Src2), c.unsigned))
		buf.Emit32(mustD(opAddi, R11, R0, 1))
		buf.Emit32(mustD(opAddi, R12, R0, 0))
		if c.whenSet {
			buf.Emit32(encodeIsel(uint32(o.Dst), R11, R12, c.bit))
		} else {
			buf.Emit32(encodeIsel(uint32(o.Dst), R12, R11, c.bit))
		}

	case ir.Branch:
		c, ok := conditions[o.Cond]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.PPC64, Op: op}
		}
		bo := uint32(4)
		if c.whenSet {
			bo = 12
		}
		insn, err := encodeBC(bo, c.bit, o.Offset)
		if err != nil {
			return err
		}
		buf.Emit32(encodeCmp(uint32(o.Src1), uint32(o.Src2), c.unsigned))
		buf.Emit32(insn)

	case ir.Jump:
		insn, err := encodeB(o.Offset)
		if err != nil {
			return err
		}
		buf.Emit32(insn)

	default:
		return &asm.UnsupportedOperationError{Arch: arch.PPC64, Op: op}
	}
	return nil
}

func binaryReg(buf *asm.Buffer, kind ir.OpKind, dst, a, b uint32, op ir.Op) error {
	switch kind {
	case ir.OpAdd:
		buf.Emit32(encodeXO(xoAdd, dst, a, b))
	case ir.OpSub:
		buf.Emit32(encodeXO(xoSubf, dst, b, a))
	case ir.OpMul:
		buf.Emit32(encodeXO(xoMulld, dst, a, b))
	case ir.OpAnd:
		buf.Emit32(encodeLogical(xoAnd, dst, a, b))
	case ir.OpOr:
		buf.Emit32(encodeLogical(xoOr, dst, a, b))
	case ir.OpXor:
		buf.Emit32(encodeLogical(xoXor, dst, a, b))
	case ir.OpShl, ir.OpShr, ir.OpSar:
		// sld and friends use seven bits of the amount.
		buf.Emit32(encodeLogicalImm(opAndi, R11, b, 63))
		xo := map[ir.OpKind]uint32{ir.OpShl: xoSld, ir.OpShr: xoSrd, ir.OpSar: xoSrad}[kind]
		buf.Emit32(encodeLogical(xo, dst, a, R11))
	default:
		return &asm.UnsupportedOperationError{Arch: arch.PPC64, Op: op}
	}
	return nil
}

func binaryImm(buf *asm.Buffer, o ir.BinaryImm) error {
	dst, src := uint32(o.Dst), uint32(o.Src)
	sh := uint32(o.Imm & 63)

	switch o.Kind {
	case ir.OpShl:
		buf.Emit32(encodeMD(1, dst, src, sh, 63-sh))
		return nil
	case ir.OpShr:
		buf.Emit32(encodeMD(0, dst, src, (64-sh)&63, sh))
		return nil
	case ir.OpSar:
		buf.Emit32(encodeSradi(dst, src, sh))
		return nil
	case ir.OpAdd, ir.OpSub:
		imm := o.Imm
		if o.Kind == ir.OpSub {
			imm = -imm
		}
		// addi treats ra=0 as the constant zero.
		if src != R0 && asm.FitsSigned(imm, 16) {
			buf.Emit32(mustD(opAddi, dst, src, imm))
			return nil
		}
	case ir.OpMul:
		if asm.FitsSigned(o.Imm, 16) {
			buf.Emit32(mustD(opMulli, dst, src, o.Imm))
			return nil
		}
	case ir.OpAnd, ir.OpOr, ir.OpXor:
		if o.Imm >= 0 && o.Imm <= 0xFFFF {
			opcode := map[ir.OpKind]uint32{ir.OpAnd: opAndi, ir.OpOr: opOri, ir.OpXor: opXori}[o.Kind]
			buf.Emit32(encodeLogicalImm(opcode, dst, src, uint16(o.Imm)))
			return nil
		}
	}

	if o.Kind.IsDivision() {
		return &asm.UnsupportedOperationError{Arch: arch.PPC64, Op: o}
	}
	loadImmediate(buf, R11, o.Imm)
	return binaryReg(buf, o.Kind, dst, src, R11, o)
}

func memory(buf *asm.Buffer, reg uint32, base ir.Reg, offset int64, size uint8, store bool) error {
	ops, ok := memOpcodes[size]
	if !ok {
		return fmt.Errorf("ppc64: access size %d", size)
	}
	if base == R0 {
		return fmt.Errorf("ppc64: r0 cannot be a base register")
	}

	opcode, indexed := ops.load, ops.loadX
	if store {
		opcode, indexed = ops.store, ops.storeX
	}

	var (
		insn uint32
		err  error
	)
	if size == 8 {
		insn, err = encodeDS(opcode, reg, uint32(base), offset)
	} else {
		insn, err = encodeD(opcode, reg, uint32(base), offset)
	}
	if err == nil {
		buf.Emit32(insn)
		return nil
	}

	loadImmediate(buf, R11, offset)
	buf.Emit32(encodeLogical(indexed, uint32(base), reg, R11))
	return nil
}

func checkRegs(op ir.Op) error {
	var bad error
	op.MapRegs(func(r ir.Reg, _ bool) ir.Reg {
		if r > R31 && bad == nil {
			bad = fmt.Errorf("ppc64: register %s does not exist", r)
		}
		return r
	})
	return bad
}
