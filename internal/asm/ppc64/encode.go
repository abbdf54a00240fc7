package ppc64

import (
	"fmt"

	"github.com/tinyrange/xlate/internal/asm"
)

const (
	R0  = 0
	R11 = 11
	R12 = 12
	R31 = 31
)

// X-form extended opcodes, already shifted into place.
const (
	xoAdd   = 266 << 1
	xoSubf  = 40 << 1
	xoMulld = 233 << 1
	xoAnd   = 28 << 1
	xoOr    = 444 << 1
	xoXor   = 316 << 1
	xoSld   = 27 << 1
	xoSrd   = 539 << 1
	xoSrad  = 794 << 1
	xoCmpl  = 32 << 1
	xoIsel  = 15 << 1
)

// encodeXO is the arithmetic form: rt = ra <op> rb.
func encodeXO(xo, rt, ra, rb uint32) uint32 {
	return 31<<26 | rt<<21 | ra<<16 | rb<<11 | xo
}

// encodeLogical is the X form used by logical and shift instructions,
// where the destination sits in the RA field: ra = rs <op> rb.
func encodeLogical(xo, ra, rs, rb uint32) uint32 {
	return 31<<26 | rs<<21 | ra<<16 | rb<<11 | xo
}

func encodeD(opcode, rt, ra uint32, imm int64) (uint32, error) {
	if !asm.FitsSigned(imm, 16) {
		return 0, fmt.Errorf("ppc64: immediate %d out of range: %w", imm, asm.ErrOutOfRange)
	}
	return opcode<<26 | rt<<21 | ra<<16 | uint32(imm)&0xFFFF, nil
}

// encodeDS is the form of ld and std, whose displacement must be a
// multiple of four.
func encodeDS(opcode, rt, ra uint32, imm int64) (uint32, error) {
	if imm%4 != 0 || !asm.FitsSigned(imm, 16) {
		return 0, fmt.Errorf("ppc64: displacement %d: %w", imm, asm.ErrOutOfRange)
	}
	return opcode<<26 | rt<<21 | ra<<16 | uint32(imm)&0xFFFC, nil
}

// encodeLogicalImm covers ori, oris, xori, andi. with an unsigned field.
func encodeLogicalImm(opcode, ra, rs uint32, imm uint16) uint32 {
	return opcode<<26 | rs<<21 | ra<<16 | uint32(imm)
}

const (
	opMulli = 7
	opAddi  = 14
	opAddis = 15
	opBC    = 16
	opB     = 18
	opOri   = 24
	opOris  = 25
	opXori  = 26
	opAndi  = 28
	opRld   = 30
	opLwz   = 32
	opLbz   = 34
	opStw   = 36
	opStb   = 38
	opLhz   = 40
	opSth   = 44
	opLd    = 58
	opStd   = 62
)

// encodeMD encodes rldicl (xo 0) and rldicr (xo 1). The six-bit shift and
// mask fields are split with their high bit stored separately.
func encodeMD(xo, ra, rs, sh, mask uint32) uint32 {
	return opRld<<26 | rs<<21 | ra<<16 | (sh&0x1F)<<11 | (mask&0x1F)<<6 | (mask>>5)<<5 | xo<<2 | (sh>>5)<<1
}

func encodeSradi(ra, rs, sh uint32) uint32 {
	return 31<<26 | rs<<21 | ra<<16 | (sh&0x1F)<<11 | 413<<2 | (sh>>5)<<1
}

func encodeCmp(ra, rb uint32, unsigned bool) uint32 {
	insn := uint32(31<<26 | 1<<21 | ra<<16 | rb<<11)
	if unsigned {
		insn |= xoCmpl
	}
	return insn
}

func encodeIsel(rt, ra, rb, bc uint32) uint32 {
	return 31<<26 | rt<<21 | ra<<16 | rb<<11 | bc<<6 | xoIsel
}

func encodeBC(bo, bi uint32, offset int64) (uint32, error) {
	if offset%4 != 0 || !asm.FitsSigned(offset, 16) {
		return 0, fmt.Errorf("ppc64: branch offset %d: %w", offset, asm.ErrOutOfRange)
	}
	return opBC<<26 | bo<<21 | bi<<16 | uint32(offset)&0xFFFC, nil
}

func encodeB(offset int64) (uint32, error) {
	if offset%4 != 0 || !asm.FitsSigned(offset, 26) {
		return 0, fmt.Errorf("ppc64: jump offset %d: %w", offset, asm.ErrOutOfRange)
	}
	return opB<<26 | uint32(offset)&0x3FFFFFC, nil
}

func mustD(opcode, rt, ra uint32, imm int64) uint32 {
	insn, err := encodeD(opcode, rt, ra, imm)
	if err != nil {
		panic(err)
	}
	return insn
}

// loadImmediate materializes value with li/lis/ori, shifting in the upper
// word with rldicr when the value does not fit 32 bits.
func loadImmediate(buf *asm.Buffer, rd uint32, value int64) {
	if asm.FitsSigned(value, 16) {
		buf.Emit32(mustD(opAddi, rd, R0, value))
		return
	}
	if asm.FitsSigned(value, 32) {
		buf.Emit32(mustD(opAddis, rd, R0, int64(int16(value>>16))))
		if lo := uint16(value); lo != 0 {
			buf.Emit32(encodeLogicalImm(opOri, rd, rd, lo))
		}
		return
	}

	loadImmediate(buf, rd, value>>32)
	buf.Emit32(encodeMD(1, rd, rd, 32, 31))
	if hi := uint16(value >> 16); hi != 0 {
		buf.Emit32(encodeLogicalImm(opOris, rd, rd, hi))
	}
	if lo := uint16(value); lo != 0 {
		buf.Emit32(encodeLogicalImm(opOri, rd, rd, lo))
	}
}
