package arm64

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/ir"
)

func decodeWords(code []byte) []uint32 {
	var out []uint32
	for i := 0; i+4 <= len(code); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(code[i:]))
	}
	return out
}

func TestEncodeGolden(t *testing.T) {
	tests := []struct {
		src  string
		want []uint32
	}{
		{"add r0, r1, r2", []uint32{0x8b020020}},
		{"sub r3, r4, r5", []uint32{0xcb050083}},
		{"mul r0, r1, r2", []uint32{0x9b027c20}},
		{"addi r0, r1, 16", []uint32{0x91004020}},
		{"subi r0, r1, 16", []uint32{0xd1004020}},
		{"addi r0, r1, -16", []uint32{0xd1004020}},
		{"shli r0, r1, 4", []uint32{0xd37cec20}},
		{"shri r0, r1, 4", []uint32{0xd344fc20}},
		{"sari r0, r1, 4", []uint32{0x9344fc20}},
		{"mov r0, r1", []uint32{0xaa0103e0}},
		{"movi r0, 0", []uint32{0xd2800000}},
		{"movi r0, -1", []uint32{0x92800000}},
		{"movi r0, 0x12345678", []uint32{0xd28acf00, 0xf2a24680}},
		{"load.8 r0, [r1+8]", []uint32{0xf9400420}},
		{"load.8 r0, [r1-8]", []uint32{0xf85f8020}},
		{"store.4 r2, [r31+12]", []uint32{0xb9000fe2}},
		{"cmp.lt r0, r1, r2", []uint32{0xeb02003f, 0x9a9fa7e0}},
		{"b.eq r0, r1, 8", []uint32{0xeb01001f, 0x54000040}},
		{"jmp 16", []uint32{0x14000004}},
		{"div r0, r1, r2", []uint32{0x9ac20c30, 0xf100005f, 0xda9f1200}},
		{"rem r0, r1, r2", []uint32{0x9ac20c30, 0x9b028600}},
	}

	enc, err := asm.Lookup(arch.ARM64)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	for _, tt := range tests {
		blk, err := ir.Parse(tt.src)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.src, err)
		}
		code, err := enc.Encode(blk.Ops[0])
		if err != nil {
			t.Fatalf("encode %q: %v", tt.src, err)
		}
		got := decodeWords(code)
		if len(got) != len(tt.want) {
			t.Fatalf("encode %q = %#x, want %#x", tt.src, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("encode %q word %d = 0x%08x, want 0x%08x", tt.src, i, got[i], tt.want[i])
			}
		}
	}
}

func TestWideOffsetUsesScratch(t *testing.T) {
	code, err := Encoder{}.Encode(ir.LoadN(8, 0, 1, 1<<20))
	if err != nil {
		t.Fatal(err)
	}
	words := decodeWords(code)
	// movz x16, #0x10, lsl #16; add x16, x1, x16, uxtx; ldr x0, [x16]
	want := []uint32{0xd2a00210, 0x8b306030, 0xf9400200}
	for i := range want {
		if i >= len(words) || words[i] != want[i] {
			t.Fatalf("words = %#x, want %#x", words, want)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encoder{}.Encode(ir.Jump{Offset: 6})
	if !errors.Is(err, asm.ErrOutOfRange) {
		t.Fatalf("unaligned jump: got %v", err)
	}
	_, err = Encoder{}.Encode(ir.Move(32, 0))
	var encErr *asm.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("bad register: got %v", err)
	}
}
