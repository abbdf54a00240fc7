// Package amd64 encodes register-allocated operations as x86-64 machine
// code. x86 arithmetic is two-address, so three-operand forms go through a
// move first, and rax, rcx and rdx are reserved for division, shifts and
// condition materialization.
package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/ir"
)

func init() {
	asm.Register(Encoder{})
}

type Encoder struct{}

func (Encoder) Arch() arch.Architecture { return arch.X86_64 }

// aluOps maps a kind to its "op r/m64, r64" opcode and its group 1 digit.
var aluOps = map[ir.OpKind]struct {
	opcode byte
	digit  byte
}{
	ir.OpAdd: {0x01, 0},
	ir.OpOr:  {0x09, 1},
	ir.OpAnd: {0x21, 4},
	ir.OpSub: {0x29, 5},
	ir.OpXor: {0x31, 6},
}

var shiftDigit = map[ir.OpKind]byte{
	ir.OpShl: 4,
	ir.OpShr: 5,
	ir.OpSar: 7,
}

var conditionCode = map[ir.CompareKind]byte{
	ir.CompareEqual:                  0x4,
	ir.CompareNotEqual:               0x5,
	ir.CompareLess:                   0xC,
	ir.CompareGreaterOrEqual:         0xD,
	ir.CompareLessOrEqual:            0xE,
	ir.CompareGreater:                0xF,
	ir.CompareLessUnsigned:           0x2,
	ir.CompareGreaterOrEqualUnsigned: 0x3,
}

func (e Encoder) Encode(op ir.Op) ([]byte, error) {
	buf := asm.NewBuffer(arch.X86_64)
	if err := e.encode(buf, op); err != nil {
		if _, ok := err.(*asm.UnsupportedOperationError); ok {
			return nil, err
		}
		return nil, &asm.EncodingError{Arch: arch.X86_64, Op: op, Err: err}
	}
	return buf.Bytes(), nil
}

func (e Encoder) encode(buf *asm.Buffer, op ir.Op) error {
	if err := checkRegs(op); err != nil {
		return err
	}

	switch o := op.(type) {
	case ir.Binary:
		return binaryReg(buf, o)

	case ir.BinaryImm:
		return binaryImm(buf, o)

	case ir.Mov:
		movReg(buf, o.Dst, o.Src)

	case ir.MovImm:
		movImm(buf, o.Dst, o.Imm)

	case ir.Load:
		base, disp := address(buf, o.Base, o.Offset)
		switch o.Size {
		case 8:
			memOp(buf, nil, rexState{w: true}, []byte{0x8B}, o.Dst, base, disp)
		case 4:
			memOp(buf, nil, rexState{}, []byte{0x8B}, o.Dst, base, disp)
		case 2:
			memOp(buf, nil, rexState{w: true}, []byte{0x0F, 0xB7}, o.Dst, base, disp)
		case 1:
			memOp(buf, nil, rexState{w: true}, []byte{0x0F, 0xB6}, o.Dst, base, disp)
		default:
			return fmt.Errorf("amd64: load size %d", o.Size)
		}

	case ir.Store:
		base, disp := address(buf, o.Base, o.Offset)
		switch o.Size {
		case 8:
			memOp(buf, nil, rexState{w: true}, []byte{0x89}, o.Src, base, disp)
		case 4:
			memOp(buf, nil, rexState{}, []byte{0x89}, o.Src, base, disp)
		case 2:
			memOp(buf, []byte{0x66}, rexState{}, []byte{0x89}, o.Src, base, disp)
		case 1:
			memOp(buf, nil, rexState{force: needsByteREX(o.Src)}, []byte{0x88}, o.Src, base, disp)
		default:
			return fmt.Errorf("amd64: store size %d", o.Size)
		}

	case ir.Cmp:
		cc, ok := conditionCode[o.Cond]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.X86_64, Op: op}
		}
		regReg(buf, true, []byte{0x39}, o.Src2, o.Src1)
		buf.EmitBytes(0x0F, 0x90|cc, 0xC0)
		buf.EmitBytes(0x0F, 0xB6, 0xC0)
		movReg(buf, o.Dst, RAX)

	case ir.Branch:
		cc, ok := conditionCode[o.Cond]
		if !ok {
			return &asm.UnsupportedOperationError{Arch: arch.X86_64, Op: op}
		}
		if !asm.FitsSigned(o.Offset, 32) {
			return fmt.Errorf("amd64: branch offset %d: %w", o.Offset, asm.ErrOutOfRange)
		}
		regReg(buf, true, []byte{0x39}, o.Src2, o.Src1)
		buf.EmitBytes(0x0F, 0x80|cc)
		buf.EmitBytes(binary.LittleEndian.AppendUint32(nil, uint32(o.Offset))...)

	case ir.Jump:
		if !asm.FitsSigned(o.Offset, 32) {
			return fmt.Errorf("amd64: jump offset %d: %w", o.Offset, asm.ErrOutOfRange)
		}
		buf.EmitBytes(0xE9)
		buf.EmitBytes(binary.LittleEndian.AppendUint32(nil, uint32(o.Offset))...)

	default:
		return &asm.UnsupportedOperationError{Arch: arch.X86_64, Op: op}
	}
	return nil
}

func binaryReg(buf *asm.Buffer, o ir.Binary) error {
	if o.Kind.IsDivision() {
		return division(buf, o.Kind, o.Dst, o.Src1, func() { movReg(buf, RCX, o.Src2) })
	}
	if digit, ok := shiftDigit[o.Kind]; ok {
		movReg(buf, RCX, o.Src2)
		movReg(buf, RAX, o.Src1)
		regDigit(buf, []byte{0xD3}, digit, RAX)
		movReg(buf, o.Dst, RAX)
		return nil
	}

	emit, ok := twoAddress(o.Kind)
	if !ok {
		return &asm.UnsupportedOperationError{Arch: arch.X86_64, Op: o}
	}
	switch {
	case o.Dst == o.Src1:
		emit(buf, o.Dst, o.Src2)
	case o.Dst == o.Src2 && o.Kind.Commutative():
		emit(buf, o.Dst, o.Src1)
	case o.Dst == o.Src2:
		movReg(buf, RAX, o.Src2)
		movReg(buf, o.Dst, o.Src1)
		emit(buf, o.Dst, RAX)
	default:
		movReg(buf, o.Dst, o.Src1)
		emit(buf, o.Dst, o.Src2)
	}
	return nil
}

// twoAddress returns an emitter for dst = dst <kind> src.
func twoAddress(kind ir.OpKind) (func(buf *asm.Buffer, dst, src ir.Reg), bool) {
	if kind == ir.OpMul {
		return func(buf *asm.Buffer, dst, src ir.Reg) {
			regReg(buf, true, []byte{0x0F, 0xAF}, dst, src)
		}, true
	}
	alu, ok := aluOps[kind]
	if !ok {
		return nil, false
	}
	return func(buf *asm.Buffer, dst, src ir.Reg) {
		regReg(buf, true, []byte{alu.opcode}, src, dst)
	}, true
}

func binaryImm(buf *asm.Buffer, o ir.BinaryImm) error {
	if o.Kind.IsDivision() {
		return division(buf, o.Kind, o.Dst, o.Src, func() { movImm(buf, RCX, o.Imm) })
	}
	if digit, ok := shiftDigit[o.Kind]; ok {
		if o.Dst != o.Src {
			movReg(buf, o.Dst, o.Src)
		}
		regDigit(buf, []byte{0xC1}, digit, o.Dst)
		buf.EmitBytes(byte(o.Imm & 63))
		return nil
	}

	fits32 := asm.FitsSigned(o.Imm, 32)
	if o.Kind == ir.OpMul && fits32 {
		if asm.FitsSigned(o.Imm, 8) {
			regReg(buf, true, []byte{0x6B}, o.Dst, o.Src)
			buf.EmitBytes(byte(o.Imm))
		} else {
			regReg(buf, true, []byte{0x69}, o.Dst, o.Src)
			buf.EmitBytes(binary.LittleEndian.AppendUint32(nil, uint32(o.Imm))...)
		}
		return nil
	}

	if alu, ok := aluOps[o.Kind]; ok && fits32 {
		if o.Dst != o.Src {
			movReg(buf, o.Dst, o.Src)
		}
		if asm.FitsSigned(o.Imm, 8) {
			regDigit(buf, []byte{0x83}, alu.digit, o.Dst)
			buf.EmitBytes(byte(o.Imm))
		} else {
			regDigit(buf, []byte{0x81}, alu.digit, o.Dst)
			buf.EmitBytes(binary.LittleEndian.AppendUint32(nil, uint32(o.Imm))...)
		}
		return nil
	}

	emit, ok := twoAddress(o.Kind)
	if !ok {
		return &asm.UnsupportedOperationError{Arch: arch.X86_64, Op: o}
	}
	movImm(buf, RAX, o.Imm)
	if o.Dst != o.Src {
		movReg(buf, o.Dst, o.Src)
	}
	emit(buf, o.Dst, RAX)
	return nil
}

// division lowers the four division kinds with the zero-divisor and
// signed-overflow results the IR defines; idiv and div would fault on both.
// loadDivisor must leave the divisor in rcx.
func division(buf *asm.Buffer, kind ir.OpKind, dst, dividend ir.Reg, loadDivisor func()) error {
	signed := kind == ir.OpDiv || kind == ir.OpRem
	quotient := kind == ir.OpDiv || kind == ir.OpDivU

	loadDivisor()
	movReg(buf, RAX, dividend)
	regReg(buf, true, []byte{0x85}, RCX, RCX)
	nonZero := jump8(buf, 0x75)
	if quotient {
		movImm(buf, RAX, -1)
	} else {
		movReg(buf, RDX, RAX)
	}
	var done []int
	done = append(done, jump8(buf, 0xEB))
	if err := land(buf, nonZero); err != nil {
		return err
	}

	if signed {
		regDigit(buf, []byte{0x83}, 7, RCX)
		buf.EmitBytes(0xFF)
		notMinusOne := jump8(buf, 0x75)
		if quotient {
			regDigit(buf, []byte{0xF7}, 3, RAX) // neg
		} else {
			buf.EmitBytes(0x31, 0xD2) // xor edx, edx
		}
		done = append(done, jump8(buf, 0xEB))
		if err := land(buf, notMinusOne); err != nil {
			return err
		}
		buf.EmitBytes(0x48, 0x99) // cqo
		regDigit(buf, []byte{0xF7}, 7, RCX)
	} else {
		buf.EmitBytes(0x31, 0xD2)
		regDigit(buf, []byte{0xF7}, 6, RCX)
	}

	for _, at := range done {
		if err := land(buf, at); err != nil {
			return err
		}
	}
	if quotient {
		movReg(buf, dst, RAX)
	} else {
		movReg(buf, dst, RDX)
	}
	return nil
}

// address folds offsets that do not fit a 32-bit displacement into rax.
func address(buf *asm.Buffer, base ir.Reg, offset int64) (ir.Reg, int32) {
	if asm.FitsSigned(offset, 32) {
		return base, int32(offset)
	}
	movImm(buf, RAX, offset)
	regReg(buf, true, []byte{0x01}, base, RAX)
	return RAX, 0
}

func checkRegs(op ir.Op) error {
	var bad error
	op.MapRegs(func(r ir.Reg, _ bool) ir.Reg {
		if r > R15 && bad == nil {
			bad = fmt.Errorf("amd64: register %s does not exist", r)
		}
		return r
	})
	return bad
}
