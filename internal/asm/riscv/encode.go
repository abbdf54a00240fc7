package riscv

import (
	"fmt"
	"math/bits"

	"github.com/tinyrange/xlate/internal/asm"
)

const (
	opLoad    = 0x03
	opImm     = 0x13
	opImm32   = 0x1b
	opStore   = 0x23
	opReg     = 0x33
	opLUI     = 0x37
	opBranch  = 0x63
	opJAL     = 0x6f
	funct7M   = 0x01
	funct7Alt = 0x20
)

const (
	X0  = 0
	X31 = 31
)

func encodeR(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func encodeI(imm int32, rs1 uint32, funct3 uint32, rd uint32, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, fmt.Errorf("riscv: immediate %d out of range for I-type: %w", imm, asm.ErrOutOfRange)
	}
	uimm := uint32(imm) & 0xfff
	return (uimm << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode, nil
}

func encodeS(imm int32, rs1 uint32, rs2 uint32, funct3 uint32, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, fmt.Errorf("riscv: immediate %d out of range for S-type: %w", imm, asm.ErrOutOfRange)
	}
	uimm := uint32(imm) & 0xfff
	immHi := (uimm >> 5) & 0x7f
	immLo := uimm & 0x1f

	return (immHi << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (immLo << 7) | opcode, nil
}

func encodeU(imm int32, rd uint32, opcode uint32) uint32 {
	uimm := uint32(imm) & 0xfffff
	return (uimm << 12) | (rd << 7) | opcode
}

func encodeB(offset int64, rs1, rs2, funct3 uint32) (uint32, error) {
	if offset%2 != 0 || !asm.FitsSigned(offset, 13) {
		return 0, fmt.Errorf("riscv: branch offset %d: %w", offset, asm.ErrOutOfRange)
	}
	u := uint32(offset)
	return ((u>>12)&1)<<31 | ((u>>5)&0x3f)<<25 | (rs2 << 20) | (rs1 << 15) |
		(funct3 << 12) | ((u>>1)&0xf)<<8 | ((u>>11)&1)<<7 | opBranch, nil
}

func encodeJ(offset int64, rd uint32) (uint32, error) {
	if offset%2 != 0 || !asm.FitsSigned(offset, 21) {
		return 0, fmt.Errorf("riscv: jump offset %d: %w", offset, asm.ErrOutOfRange)
	}
	u := uint32(offset)
	return ((u>>20)&1)<<31 | ((u>>1)&0x3ff)<<21 | ((u>>11)&1)<<20 |
		((u>>12)&0xff)<<12 | (rd << 7) | opJAL, nil
}

func mustI(imm int32, rs1, funct3, rd, opcode uint32) uint32 {
	insn, err := encodeI(imm, rs1, funct3, rd, opcode)
	if err != nil {
		panic(err)
	}
	return insn
}

// loadImmediate materializes value into rd. Values that fit a signed
// 32-bit integer take LUI+ADDIW; wider values are built from their upper
// bits, shifted, plus the low 12 bits.
func loadImmediate(buf *asm.Buffer, rd uint32, value int64) {
	if asm.FitsSigned(value, 12) {
		buf.Emit32(mustI(int32(value), X0, 0, rd, opImm))
		return
	}
	if asm.FitsSigned(value, 32) {
		hi := (value + 0x800) >> 12
		lo := value - hi<<12
		buf.Emit32(encodeU(int32(hi), rd, opLUI))
		if lo != 0 {
			buf.Emit32(mustI(int32(lo), rd, 0, rd, opImm32))
		}
		return
	}

	lo := (value << 52) >> 52
	hi := (value - lo) >> 12
	shift := 12 + bits.TrailingZeros64(uint64(hi))
	hi >>= shift - 12

	loadImmediate(buf, rd, hi)
	buf.Emit32(mustI(int32(shift), rd, 1, rd, opImm))
	if lo != 0 {
		buf.Emit32(mustI(int32(lo), rd, 0, rd, opImm))
	}
}
