// Package arch describes the target instruction set architectures the
// translator knows about: their names, byte order and register files.
package arch

import (
	"fmt"
	"runtime"
	"strings"
)

type Architecture string

const (
	Invalid Architecture = "invalid"
	X86_64  Architecture = "x86_64"
	ARM64   Architecture = "arm64"
	RISCV64 Architecture = "riscv64"
	PPC64   Architecture = "ppc64"
)

// All lists every supported architecture in a stable order.
var All = []Architecture{X86_64, ARM64, RISCV64, PPC64}

type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// Parse accepts the canonical names plus the common aliases used by
// toolchains (amd64, aarch64, riscv, powerpc64).
func Parse(s string) (Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86_64", "amd64", "x86-64", "x64":
		return X86_64, nil
	case "arm64", "aarch64":
		return ARM64, nil
	case "riscv64", "riscv", "rv64":
		return RISCV64, nil
	case "ppc64", "powerpc64", "powerpc", "ppc":
		return PPC64, nil
	default:
		return Invalid, fmt.Errorf("arch: unknown architecture %q", s)
	}
}

func (a Architecture) Endianness() Endianness {
	if a == PPC64 {
		return BigEndian
	}
	return LittleEndian
}

// InstructionAlignment is the required alignment of encoded instructions.
func (a Architecture) InstructionAlignment() int {
	if a == X86_64 {
		return 1
	}
	return 4
}

func (a Architecture) Valid() bool {
	switch a {
	case X86_64, ARM64, RISCV64, PPC64:
		return true
	}
	return false
}

// Host returns the architecture the process is running on.
func Host() (Architecture, error) {
	switch runtime.GOARCH {
	case "ppc64", "ppc64le":
		// the translator only emits big-endian ppc64
		return Invalid, fmt.Errorf("arch: host %s is not a supported target", runtime.GOARCH)
	}
	a, err := Parse(runtime.GOARCH)
	if err != nil {
		return Invalid, fmt.Errorf("arch: host %s is not a supported target", runtime.GOARCH)
	}
	return a, nil
}
