package ir

import (
	"math"
	"strings"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	src := `
block 0x1000
  movi r1, 10
  add r3, r1, r2
  muli r4, r3, 8
  load.4 r5, [r1+8]
  store.8 r5, [r2-16]
  cmp.ltu r6, r5, r1
  b.ne r6, r0, 32
  jmp -4
`
	b, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.PC != 0x1000 {
		t.Fatalf("pc = %#x, want 0x1000", b.PC)
	}
	want := []Op{
		MovImm{Dst: 1, Imm: 10},
		Binary{Kind: OpAdd, Dst: 3, Src1: 1, Src2: 2},
		BinaryImm{Kind: OpMul, Dst: 4, Src: 3, Imm: 8},
		Load{Dst: 5, Base: 1, Offset: 8, Size: 4},
		Store{Src: 5, Base: 2, Offset: -16, Size: 8},
		Cmp{Cond: CompareLessUnsigned, Dst: 6, Src1: 5, Src2: 1},
		Branch{Cond: CompareNotEqual, Src1: 6, Src2: 0, Offset: 32},
		Jump{Offset: -4},
	}
	if !OpsEqual(b.Ops, want) {
		t.Fatalf("ops mismatch:\n got %v\nwant %v", b.Ops, want)
	}

	again, err := Parse(b.String())
	if err != nil {
		t.Fatalf("Parse(String()): %v", err)
	}
	if !again.Equal(b) {
		t.Fatalf("round trip mismatch:\n%s\n%s", b, again)
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"add r1, r2",
		"load.3 r1, [r2]",
		"cmp.zz r1, r2, r3",
		"frob r1",
		"movi r1, banana",
		"mov x1, r2",
	} {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", src)
		}
	}
}

func TestParseMultipleBlocks(t *testing.T) {
	blocks, err := ParseBlocks(strings.NewReader("pc 0x10\nmovi r1, 1\npc 0x20\nmov r2, r1\n"))
	if err != nil {
		t.Fatalf("ParseBlocks: %v", err)
	}
	if len(blocks) != 2 || blocks[0].PC != 0x10 || blocks[1].PC != 0x20 {
		t.Fatalf("unexpected blocks %v", blocks)
	}
	if len(blocks[0].Ops) != 1 || len(blocks[1].Ops) != 1 {
		t.Fatalf("unexpected op counts %d %d", len(blocks[0].Ops), len(blocks[1].Ops))
	}
}

func TestEvalBinary(t *testing.T) {
	minInt := uint64(1) << 63
	neg1 := uint64(math.MaxUint64)
	tests := []struct {
		kind OpKind
		a, b uint64
		want uint64
	}{
		{OpAdd, math.MaxUint64, 1, 0},
		{OpSub, 0, 1, neg1},
		{OpMul, 3, 5, 15},
		{OpDiv, uint64(negate(7)), 2, uint64(negate(3))},
		{OpDiv, 7, 0, neg1},
		{OpDiv, minInt, neg1, minInt},
		{OpDivU, 7, 0, neg1},
		{OpRem, uint64(negate(7)), 2, uint64(negate(1))},
		{OpRem, 7, 0, 7},
		{OpRem, minInt, neg1, 0},
		{OpRemU, 9, 4, 1},
		{OpShl, 1, 65, 2},
		{OpShr, minInt, 63, 1},
		{OpSar, minInt, 63, neg1},
	}
	for _, tt := range tests {
		if got := EvalBinary(tt.kind, tt.a, tt.b); got != tt.want {
			t.Errorf("EvalBinary(%s, %#x, %#x) = %#x, want %#x", tt.kind, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestEvalCompare(t *testing.T) {
	neg := uint64(math.MaxUint64)
	if !EvalCompare(CompareLess, neg, 0) {
		t.Fatal("-1 < 0 signed")
	}
	if EvalCompare(CompareLessUnsigned, neg, 0) {
		t.Fatal("max < 0 unsigned")
	}
	for c := CompareEqual; c <= CompareGreaterOrEqualUnsigned; c++ {
		if EvalCompare(c, 3, 5) == EvalCompare(c.Negate(), 3, 5) {
			t.Errorf("%s and %s agree on (3, 5)", c, c.Negate())
		}
	}
}

func TestValidateAndLiveIn(t *testing.T) {
	b := NewBlock(0,
		Add(3, 1, 2),
		Move(1, 3),
		Add(4, 1, 5),
	)
	if err := Validate(b); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	live := LiveIn(b)
	if len(live) != 3 || live[0] != 1 || live[1] != 2 || live[2] != 5 {
		t.Fatalf("LiveIn = %v, want [r1 r2 r5]", live)
	}

	bad := NewBlock(0, Load{Dst: 1, Base: 2, Size: 3})
	if err := Validate(bad); err == nil {
		t.Fatal("expected malformed error for size 3")
	}
}

func TestMaxReg(t *testing.T) {
	max, ok := NewBlock(0, Add(3, 9, 2), Jump{}).MaxReg()
	if !ok || max != 9 {
		t.Fatalf("MaxReg = %v %v", max, ok)
	}
	if _, ok := NewBlock(0, Jump{}).MaxReg(); ok {
		t.Fatal("MaxReg on register-free block reported a register")
	}
}

func negate(v int64) int64 { return -v }
