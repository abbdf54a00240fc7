package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/ir"
)

const (
	RAX = 0
	RCX = 1
	RDX = 2
	RSP = 4
	RBP = 5
	R12 = 12
	R13 = 13
	R15 = 15
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

// needsByteREX reports whether the low byte of reg is only addressable
// with a REX prefix (spl, bpl, sil, dil and r8b-r15b).
func needsByteREX(reg ir.Reg) bool {
	return reg >= RSP
}

func emitREX(buf *asm.Buffer, rex rexState) {
	if p := rex.prefix(); p != 0 {
		buf.EmitBytes(p)
	}
}

// regReg emits opcode with a register-direct ModRM byte.
func regReg(buf *asm.Buffer, w bool, opcode []byte, reg, rm ir.Reg) {
	emitREX(buf, rexState{w: w, r: reg >= 8, b: rm >= 8})
	buf.EmitBytes(opcode...)
	buf.EmitBytes(0xC0 | byte(reg&7)<<3 | byte(rm&7))
}

// regDigit emits an opcode whose ModRM reg field is an opcode extension.
func regDigit(buf *asm.Buffer, opcode []byte, digit byte, rm ir.Reg) {
	emitREX(buf, rexState{w: true, b: rm >= 8})
	buf.EmitBytes(opcode...)
	buf.EmitBytes(0xC0 | digit<<3 | byte(rm&7))
}

type memEncoding struct {
	modrm byte
	sib   []byte
	disp  []byte
	rex   rexState
}

func encodeMemoryOperand(reg, base ir.Reg, disp int32) memEncoding {
	enc := memEncoding{rex: rexState{r: reg >= 8, b: base >= 8}}
	rm := byte(base & 7)

	switch {
	case disp == 0 && rm != RBP:
		enc.modrm = 0x00
	case disp >= -128 && disp <= 127:
		enc.modrm = 0x40
		enc.disp = []byte{byte(disp)}
	default:
		enc.modrm = 0x80
		enc.disp = binary.LittleEndian.AppendUint32(nil, uint32(disp))
	}

	// rsp and r12 share the SIB escape; [rbp] and [r13] need a displacement.
	if rm == RSP {
		enc.sib = []byte{0x24}
	}
	enc.modrm |= byte(reg&7)<<3 | rm
	return enc
}

// memOp emits prefix, REX, opcode and the memory operand for [base+disp].
func memOp(buf *asm.Buffer, prefix []byte, rex rexState, opcode []byte, reg, base ir.Reg, disp int32) {
	enc := encodeMemoryOperand(reg, base, disp)
	enc.rex.w = rex.w
	enc.rex.force = rex.force
	buf.EmitBytes(prefix...)
	emitREX(buf, enc.rex)
	buf.EmitBytes(opcode...)
	buf.EmitBytes(enc.modrm)
	buf.EmitBytes(enc.sib...)
	buf.EmitBytes(enc.disp...)
}

func movReg(buf *asm.Buffer, dst, src ir.Reg) {
	regReg(buf, true, []byte{0x89}, src, dst)
}

// movImm picks the shortest of mov r32, imm32 (zero-extending),
// mov r/m64, imm32 (sign-extending) and movabs.
func movImm(buf *asm.Buffer, dst ir.Reg, value int64) {
	switch {
	case value >= 0 && value <= 0xFFFFFFFF:
		emitREX(buf, rexState{b: dst >= 8})
		buf.EmitBytes(0xB8 + byte(dst&7))
		buf.EmitBytes(binary.LittleEndian.AppendUint32(nil, uint32(value))...)
	case asm.FitsSigned(value, 32):
		regDigit(buf, []byte{0xC7}, 0, dst)
		buf.EmitBytes(binary.LittleEndian.AppendUint32(nil, uint32(value))...)
	default:
		emitREX(buf, rexState{w: true, b: dst >= 8})
		buf.EmitBytes(0xB8 + byte(dst&7))
		buf.EmitBytes(binary.LittleEndian.AppendUint64(nil, uint64(value))...)
	}
}

// jump8 emits a short jump with a zero displacement and returns the offset
// of the displacement byte for land.
func jump8(buf *asm.Buffer, opcode byte) int {
	buf.EmitBytes(opcode, 0)
	return buf.Len() - 1
}

// land points the short jump recorded at at the current position.
func land(buf *asm.Buffer, at int) error {
	rel := buf.Len() - (at + 1)
	if rel > 127 {
		return fmt.Errorf("amd64: short jump of %d bytes: %w", rel, asm.ErrOutOfRange)
	}
	buf.Patch8(at, byte(rel))
	return nil
}
