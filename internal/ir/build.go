package ir

// Helpers for building blocks in code. They mirror the textual syntax
// accepted by Parse.

func Add(dst, a, b Reg) Op { return Binary{Kind: OpAdd, Dst: dst, Src1: a, Src2: b} }
func Sub(dst, a, b Reg) Op { return Binary{Kind: OpSub, Dst: dst, Src1: a, Src2: b} }
func Mul(dst, a, b Reg) Op { return Binary{Kind: OpMul, Dst: dst, Src1: a, Src2: b} }
func And(dst, a, b Reg) Op { return Binary{Kind: OpAnd, Dst: dst, Src1: a, Src2: b} }
func Or(dst, a, b Reg) Op  { return Binary{Kind: OpOr, Dst: dst, Src1: a, Src2: b} }
func Xor(dst, a, b Reg) Op { return Binary{Kind: OpXor, Dst: dst, Src1: a, Src2: b} }

func AddImm(dst, src Reg, imm int64) Op { return BinaryImm{Kind: OpAdd, Dst: dst, Src: src, Imm: imm} }
func MulImm(dst, src Reg, imm int64) Op { return BinaryImm{Kind: OpMul, Dst: dst, Src: src, Imm: imm} }
func ShlImm(dst, src Reg, sh int64) Op  { return BinaryImm{Kind: OpShl, Dst: dst, Src: src, Imm: sh} }

func Move(dst, src Reg) Op          { return Mov{Dst: dst, Src: src} }
func MoveImm(dst Reg, imm int64) Op { return MovImm{Dst: dst, Imm: imm} }

func LoadN(size uint8, dst, base Reg, offset int64) Op {
	return Load{Dst: dst, Base: base, Offset: offset, Size: size}
}

func StoreN(size uint8, src, base Reg, offset int64) Op {
	return Store{Src: src, Base: base, Offset: offset, Size: size}
}
