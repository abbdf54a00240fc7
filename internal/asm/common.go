// Package asm defines the per-architecture encoder interface used by the
// translator and the registry the reference encoders add themselves to.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/ir"
)

// Encoder turns one register-allocated operation into target machine code.
// Operands are physical register numbers of the encoder's architecture.
type Encoder interface {
	Arch() arch.Architecture
	Encode(op ir.Op) ([]byte, error)
}

// UnsupportedOperationError is returned when an architecture has no
// lowering for an operation.
type UnsupportedOperationError struct {
	Arch arch.Architecture
	Op   ir.Op
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: unsupported operation %q", e.Arch, e.Op)
}

// EncodingError is returned when an operation is supported but one of its
// operands cannot be encoded, for example an out of range offset.
type EncodingError struct {
	Arch arch.Architecture
	Op   ir.Op
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: encode %q: %v", e.Arch, e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

var ErrOutOfRange = errors.New("operand out of range")

var (
	encodersMu sync.RWMutex
	encoders   = make(map[arch.Architecture]Encoder)
)

// Register makes enc available through Lookup. It panics when the same
// architecture is registered twice so mistakes are caught during init.
func Register(enc Encoder) {
	if enc == nil {
		panic("asm: encoder must be non-nil")
	}
	a := enc.Arch()
	if !a.Valid() {
		panic(fmt.Sprintf("asm: cannot register encoder for invalid architecture %q", a))
	}

	encodersMu.Lock()
	defer encodersMu.Unlock()

	if _, exists := encoders[a]; exists {
		panic(fmt.Sprintf("asm: encoder for %s already registered", a))
	}
	encoders[a] = enc
}

// Lookup returns the encoder registered for a.
func Lookup(a arch.Architecture) (Encoder, error) {
	encodersMu.RLock()
	defer encodersMu.RUnlock()

	if enc, ok := encoders[a]; ok {
		return enc, nil
	}
	if a == arch.Invalid {
		return nil, fmt.Errorf("asm: architecture must be specified")
	}
	return nil, fmt.Errorf("asm: no encoder registered for %q", a)
}

// Registered lists the architectures with an encoder.
func Registered() []arch.Architecture {
	encodersMu.RLock()
	defer encodersMu.RUnlock()

	out := make([]arch.Architecture, 0, len(encoders))
	for a := range encoders {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Buffer collects the bytes of one encoded operation.
type Buffer struct {
	order byteOrder
	code  []byte
}

// NewBuffer returns a buffer that emits instruction words in a's byte order.
func NewBuffer(a arch.Architecture) *Buffer {
	var order byteOrder = binary.LittleEndian
	if a.Endianness() == arch.BigEndian {
		order = binary.BigEndian
	}
	return &Buffer{order: order, code: make([]byte, 0, 16)}
}

func (b *Buffer) EmitBytes(data ...byte) { b.code = append(b.code, data...) }

// Emit32 appends a fixed-width instruction word in the buffer's byte order.
func (b *Buffer) Emit32(insn uint32) {
	b.code = b.order.AppendUint32(b.code, insn)
}

// Patch8 overwrites a single byte, used for short branch displacements.
func (b *Buffer) Patch8(at int, v byte) { b.code[at] = v }

func (b *Buffer) Len() int { return len(b.code) }

func (b *Buffer) Bytes() []byte { return b.code }

// FitsSigned reports whether v is representable as a bits-wide two's
// complement integer.
func FitsSigned(v int64, bits uint) bool {
	lim := int64(1) << (bits - 1)
	return v >= -lim && v < lim
}
