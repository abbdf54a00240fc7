package ir

import "fmt"

type OpKind int

const (
	OpInvalid OpKind = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpDivU
	OpRem
	OpRemU
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpSar
)

var opKindNames = [...]string{
	OpInvalid: "invalid",
	OpAdd:     "add",
	OpSub:     "sub",
	OpMul:     "mul",
	OpDiv:     "div",
	OpDivU:    "divu",
	OpRem:     "rem",
	OpRemU:    "remu",
	OpAnd:     "and",
	OpOr:      "or",
	OpXor:     "xor",
	OpShl:     "shl",
	OpShr:     "shr",
	OpSar:     "sar",
}

func (k OpKind) String() string {
	if k >= 0 && int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Commutative reports whether the operands may be swapped.
func (k OpKind) Commutative() bool {
	switch k {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}

// IsDivision covers every kind with a divide-by-zero special case.
func (k OpKind) IsDivision() bool {
	switch k {
	case OpDiv, OpDivU, OpRem, OpRemU:
		return true
	}
	return false
}

type CompareKind int

const (
	CompareEqual CompareKind = iota
	CompareNotEqual
	CompareLess
	CompareGreaterOrEqual
	CompareLessOrEqual
	CompareGreater
	CompareLessUnsigned
	CompareGreaterOrEqualUnsigned
)

var compareKindNames = [...]string{
	CompareEqual:                  "eq",
	CompareNotEqual:               "ne",
	CompareLess:                   "lt",
	CompareGreaterOrEqual:         "ge",
	CompareLessOrEqual:            "le",
	CompareGreater:                "gt",
	CompareLessUnsigned:           "ltu",
	CompareGreaterOrEqualUnsigned: "geu",
}

func (c CompareKind) String() string {
	if c >= 0 && int(c) < len(compareKindNames) {
		return compareKindNames[c]
	}
	return fmt.Sprintf("cond(%d)", int(c))
}

// Negate returns the condition that holds exactly when c does not.
func (c CompareKind) Negate() CompareKind {
	switch c {
	case CompareEqual:
		return CompareNotEqual
	case CompareNotEqual:
		return CompareEqual
	case CompareLess:
		return CompareGreaterOrEqual
	case CompareGreaterOrEqual:
		return CompareLess
	case CompareLessOrEqual:
		return CompareGreater
	case CompareGreater:
		return CompareLessOrEqual
	case CompareLessUnsigned:
		return CompareGreaterOrEqualUnsigned
	default:
		return CompareLessUnsigned
	}
}

// Binary computes Dst = Src1 <Kind> Src2.
type Binary struct {
	Kind OpKind
	Dst  Reg
	Src1 Reg
	Src2 Reg
}

func (o Binary) Def() (Reg, bool)     { return o.Dst, true }
func (o Binary) HasSideEffects() bool { return false }
func (o Binary) Uses(buf []Reg) []Reg { return append(buf, o.Src1, o.Src2) }
func (o Binary) String() string {
	return fmt.Sprintf("%s %s, %s, %s", o.Kind, o.Dst, o.Src1, o.Src2)
}
func (o Binary) MapRegs(fn func(Reg, bool) Reg) Op {
	return Binary{Kind: o.Kind, Dst: fn(o.Dst, true), Src1: fn(o.Src1, false), Src2: fn(o.Src2, false)}
}

// BinaryImm computes Dst = Src <Kind> Imm.
type BinaryImm struct {
	Kind OpKind
	Dst  Reg
	Src  Reg
	Imm  int64
}

func (o BinaryImm) Def() (Reg, bool)     { return o.Dst, true }
func (o BinaryImm) HasSideEffects() bool { return false }
func (o BinaryImm) Uses(buf []Reg) []Reg { return append(buf, o.Src) }
func (o BinaryImm) String() string {
	return fmt.Sprintf("%si %s, %s, %d", o.Kind, o.Dst, o.Src, o.Imm)
}
func (o BinaryImm) MapRegs(fn func(Reg, bool) Reg) Op {
	return BinaryImm{Kind: o.Kind, Dst: fn(o.Dst, true), Src: fn(o.Src, false), Imm: o.Imm}
}

// Mov copies Src into Dst.
type Mov struct {
	Dst Reg
	Src Reg
}

func (o Mov) Def() (Reg, bool)     { return o.Dst, true }
func (o Mov) HasSideEffects() bool { return false }
func (o Mov) Uses(buf []Reg) []Reg { return append(buf, o.Src) }
func (o Mov) String() string       { return fmt.Sprintf("mov %s, %s", o.Dst, o.Src) }
func (o Mov) MapRegs(fn func(Reg, bool) Reg) Op {
	return Mov{Dst: fn(o.Dst, true), Src: fn(o.Src, false)}
}

// MovImm loads a 64-bit constant.
type MovImm struct {
	Dst Reg
	Imm int64
}

func (o MovImm) Def() (Reg, bool)     { return o.Dst, true }
func (o MovImm) HasSideEffects() bool { return false }
func (o MovImm) Uses(buf []Reg) []Reg { return buf }
func (o MovImm) String() string       { return fmt.Sprintf("movi %s, %d", o.Dst, o.Imm) }
func (o MovImm) MapRegs(fn func(Reg, bool) Reg) Op {
	return MovImm{Dst: fn(o.Dst, true), Imm: o.Imm}
}

// Load reads Size bytes at Base+Offset, zero-extended into Dst.
type Load struct {
	Dst    Reg
	Base   Reg
	Offset int64
	Size   uint8
}

func (o Load) Def() (Reg, bool)     { return o.Dst, true }
func (o Load) HasSideEffects() bool { return false }
func (o Load) Uses(buf []Reg) []Reg { return append(buf, o.Base) }
func (o Load) String() string {
	return fmt.Sprintf("load.%d %s, %s", o.Size, o.Dst, formatAddress(o.Base, o.Offset))
}
func (o Load) MapRegs(fn func(Reg, bool) Reg) Op {
	return Load{Dst: fn(o.Dst, true), Base: fn(o.Base, false), Offset: o.Offset, Size: o.Size}
}

// Store writes the low Size bytes of Src to Base+Offset.
type Store struct {
	Src    Reg
	Base   Reg
	Offset int64
	Size   uint8
}

func (o Store) Def() (Reg, bool)     { return 0, false }
func (o Store) HasSideEffects() bool { return true }
func (o Store) Uses(buf []Reg) []Reg { return append(buf, o.Src, o.Base) }
func (o Store) String() string {
	return fmt.Sprintf("store.%d %s, %s", o.Size, o.Src, formatAddress(o.Base, o.Offset))
}
func (o Store) MapRegs(fn func(Reg, bool) Reg) Op {
	return Store{Src: fn(o.Src, false), Base: fn(o.Base, false), Offset: o.Offset, Size: o.Size}
}

// Cmp sets Dst to 1 when the condition holds and 0 otherwise.
type Cmp struct {
	Cond CompareKind
	Dst  Reg
	Src1 Reg
	Src2 Reg
}

func (o Cmp) Def() (Reg, bool)     { return o.Dst, true }
func (o Cmp) HasSideEffects() bool { return false }
func (o Cmp) Uses(buf []Reg) []Reg { return append(buf, o.Src1, o.Src2) }
func (o Cmp) String() string {
	return fmt.Sprintf("cmp.%s %s, %s, %s", o.Cond, o.Dst, o.Src1, o.Src2)
}
func (o Cmp) MapRegs(fn func(Reg, bool) Reg) Op {
	return Cmp{Cond: o.Cond, Dst: fn(o.Dst, true), Src1: fn(o.Src1, false), Src2: fn(o.Src2, false)}
}

// Branch leaves the block towards Offset when the condition holds.
type Branch struct {
	Cond   CompareKind
	Src1   Reg
	Src2   Reg
	Offset int64
}

func (o Branch) Def() (Reg, bool)     { return 0, false }
func (o Branch) HasSideEffects() bool { return true }
func (o Branch) Uses(buf []Reg) []Reg { return append(buf, o.Src1, o.Src2) }
func (o Branch) String() string {
	return fmt.Sprintf("b.%s %s, %s, %d", o.Cond, o.Src1, o.Src2, o.Offset)
}
func (o Branch) MapRegs(fn func(Reg, bool) Reg) Op {
	return Branch{Cond: o.Cond, Src1: fn(o.Src1, false), Src2: fn(o.Src2, false), Offset: o.Offset}
}

// Jump leaves the block unconditionally.
type Jump struct {
	Offset int64
}

func (o Jump) Def() (Reg, bool)                  { return 0, false }
func (o Jump) HasSideEffects() bool              { return true }
func (o Jump) Uses(buf []Reg) []Reg              { return buf }
func (o Jump) String() string                    { return fmt.Sprintf("jmp %d", o.Offset) }
func (o Jump) MapRegs(fn func(Reg, bool) Reg) Op { return o }

func formatAddress(base Reg, offset int64) string {
	switch {
	case offset > 0:
		return fmt.Sprintf("[%s+%d]", base, offset)
	case offset < 0:
		return fmt.Sprintf("[%s%d]", base, offset)
	default:
		return fmt.Sprintf("[%s]", base)
	}
}
