package ppc64

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/ir"
)

func TestEncodeGolden(t *testing.T) {
	tests := []struct {
		src  string
		want []uint32
	}{
		{"add r3, r4, r5", []uint32{0x7c642a14}},
		{"sub r3, r4, r5", []uint32{0x7c652050}},
		{"and r3, r4, r5", []uint32{0x7c832838}},
		{"mov r3, r4", []uint32{0x7c832378}},
		{"addi r3, r4, 16", []uint32{0x38640010}},
		{"shli r3, r4, 4", []uint32{0x788326e4}},
		{"movi r3, 1", []uint32{0x38600001}},
		{"movi r3, 0x12345678", []uint32{0x3c601234, 0x60635678}},
		{"load.8 r3, [r1+8]", []uint32{0xe8610008}},
		{"store.4 r3, [r1+12]", []uint32{0x9061000c}},
		{"cmp.lt r3, r4, r5", []uint32{0x7c242800, 0x39600001, 0x39800000, 0x7c6b601e}},
		{"b.eq r3, r4, 8", []uint32{0x7c232000, 0x41820008}},
		{"jmp 16", []uint32{0x48000010}},
	}

	enc, err := asm.Lookup(arch.PPC64)
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
		if len(code) != 4*len(tt.want) {
			t.Fatalf("encode %q: %d bytes, want %d", tt.src, len(code), 4*len(tt.want))
		}
		for i, w := range tt.want {
			if got := binary.BigEndian.Uint32(code[4*i:]); got != w {
				t.Fatalf("encode %q word %d = 0x%08x, want 0x%08x", tt.src, i, got, w)
			}
		}
	}
}

func TestDivisionIsUnsupported(t *testing.T) {
	for _, src := range []string{"div r3, r4, r5", "remu r3, r4, r5", "divi r3, r4, 3"} {
		_, err := Encoder{}.Encode(ir.MustParse(src).Ops[0])
		var unsupported *asm.UnsupportedOperationError
		if !errors.As(err, &unsupported) {
			t.Fatalf("%s: got %v, want UnsupportedOperationError", src, err)
		}
	}
}

func TestZeroBaseRejected(t *testing.T) {
	_, err := Encoder{}.Encode(ir.LoadN(8, 3, 0, 0))
	var encErr *asm.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("got %v, want EncodingError", err)
	}
}
