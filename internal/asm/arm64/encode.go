package arm64

import (
	"fmt"

	"github.com/tinyrange/xlate/internal/asm"
)

const (
	X16 = 16
	X17 = 17
	// XZR and SP share encoding 31; which one applies depends on the
	// instruction.
	XZR = 31
	SP  = 31
)

// Condition codes.
const (
	condEQ = 0x0
	condNE = 0x1
	condHS = 0x2
	condLO = 0x3
	condGE = 0xA
	condLT = 0xB
	condGT = 0xC
	condLE = 0xD
)

func encodeAddReg64(dst, left, right uint32) uint32 {
	return 0x8B000000 | right<<16 | left<<5 | dst
}

// encodeAddExtReg64 is ADD (extended register, UXTX); unlike the shifted
// form, register 31 as left operand is SP.
func encodeAddExtReg64(dst, left, right uint32) uint32 {
	return 0x8B206000 | right<<16 | left<<5 | dst
}

func encodeSubReg64(dst, left, right uint32) uint32 {
	return 0xCB000000 | right<<16 | left<<5 | dst
}

func encodeAndReg(dst, left, right uint32) uint32 {
	return 0x8A000000 | right<<16 | left<<5 | dst
}

func encodeOrrReg(dst, left, right uint32) uint32 {
	return 0xAA000000 | right<<16 | left<<5 | dst
}

func encodeEorReg(dst, left, right uint32) uint32 {
	return 0xCA000000 | right<<16 | left<<5 | dst
}

func encodeMul(dst, left, right uint32) uint32 {
	return 0x9B007C00 | right<<16 | left<<5 | dst
}

// encodeMsub computes dst = minuend - left*right.
func encodeMsub(dst, left, right, minuend uint32) uint32 {
	return 0x9B008000 | right<<16 | minuend<<10 | left<<5 | dst
}

func encodeDiv(dst, left, right uint32, signed bool) uint32 {
	if signed {
		return 0x9AC00C00 | right<<16 | left<<5 | dst
	}
	return 0x9AC00800 | right<<16 | left<<5 | dst
}

// encodeShiftReg covers LSLV (op2=0), LSRV (1) and ASRV (2).
func encodeShiftReg(dst, src, amount, op2 uint32) uint32 {
	return 0x9AC02000 | amount<<16 | op2<<10 | src<<5 | dst
}

func encodeAddImm64(dst, src, imm uint32) (uint32, error) {
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64: immediate %d out of range for ADD: %w", imm, asm.ErrOutOfRange)
	}
	return 0x91000000 | imm<<10 | src<<5 | dst, nil
}

func encodeSubImm64(dst, src, imm uint32) (uint32, error) {
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64: immediate %d out of range for SUB: %w", imm, asm.ErrOutOfRange)
	}
	return 0xD1000000 | imm<<10 | src<<5 | dst, nil
}

func encodeCmpReg64(left, right uint32) uint32 {
	return 0xEB00001F | right<<16 | left<<5
}

func encodeCmpZero(reg uint32) uint32 {
	return 0xF100001F | reg<<5
}

func encodeMoveReg(dst, src uint32) uint32 {
	return 0xAA0003E0 | src<<16 | dst
}

func encodeMovz(dst uint32, imm uint16, shift uint32) uint32 {
	return 0xD2800000 | (shift/16)<<21 | uint32(imm)<<5 | dst
}

func encodeMovk(dst uint32, imm uint16, shift uint32) uint32 {
	return 0xF2800000 | (shift/16)<<21 | uint32(imm)<<5 | dst
}

func encodeMovn(dst uint32, imm uint16, shift uint32) uint32 {
	return 0x92800000 | (shift/16)<<21 | uint32(imm)<<5 | dst
}

// encodeLogicalShift is LSL/LSR by immediate via UBFM.
func encodeLogicalShift(dst, src, shift uint32, right bool) uint32 {
	shift &= 63
	if right {
		return 0xD3400000 | shift<<16 | 63<<10 | src<<5 | dst
	}
	return 0xD3400000 | ((64-shift)&63)<<16 | (63-shift)<<10 | src<<5 | dst
}

// encodeArithShift is ASR by immediate via SBFM.
func encodeArithShift(dst, src, shift uint32) uint32 {
	return 0x93400000 | (shift&63)<<16 | 63<<10 | src<<5 | dst
}

func encodeCsinv(dst, left, right, cond uint32) uint32 {
	return 0xDA800000 | right<<16 | cond<<12 | left<<5 | dst
}

// encodeCset is CSINC dst, xzr, xzr, !cond.
func encodeCset(dst, cond uint32) uint32 {
	return 0x9A9F07E0 | (cond^1)<<12 | dst
}

func encodeBranchCond(offset int64, cond uint32) (uint32, error) {
	if offset%4 != 0 || !asm.FitsSigned(offset, 21) {
		return 0, fmt.Errorf("arm64: branch offset %d: %w", offset, asm.ErrOutOfRange)
	}
	return 0x54000000 | (uint32(offset>>2)&0x7FFFF)<<5 | cond, nil
}

func encodeBranch(offset int64) (uint32, error) {
	if offset%4 != 0 || !asm.FitsSigned(offset, 28) {
		return 0, fmt.Errorf("arm64: jump offset %d: %w", offset, asm.ErrOutOfRange)
	}
	return 0x14000000 | uint32(offset>>2)&0x3FFFFFF, nil
}

var loadStoreBase = map[uint8]struct{ load, store uint32 }{
	8: {0xF9400000, 0xF9000000},
	4: {0xB9400000, 0xB9000000},
	2: {0x79400000, 0x79000000},
	1: {0x39400000, 0x39000000},
}

// encodeLoadStore picks the scaled unsigned-offset form, falling back to
// the unscaled LDUR/STUR form for small negative or unaligned offsets.
func encodeLoadStore(reg, base uint32, offset int64, size uint8, store bool) (uint32, error) {
	ops, ok := loadStoreBase[size]
	if !ok {
		return 0, fmt.Errorf("arm64: access size %d", size)
	}
	op := ops.load
	if store {
		op = ops.store
	}

	if offset >= 0 && offset%int64(size) == 0 && offset/int64(size) <= 0xFFF {
		imm := uint32(offset / int64(size))
		return op | imm<<10 | base<<5 | reg, nil
	}
	if asm.FitsSigned(offset, 9) {
		// Clearing bit 24 turns the unsigned-offset opcode into LDUR/STUR.
		return op&^(1<<24) | (uint32(offset)&0x1FF)<<12 | base<<5 | reg, nil
	}
	return 0, fmt.Errorf("arm64: offset %d: %w", offset, asm.ErrOutOfRange)
}
