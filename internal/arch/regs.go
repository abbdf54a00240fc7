package arch

import (
	"fmt"

	"github.com/tinyrange/xlate/internal/ir"
)

// RegisterFile describes how the translator may use the general purpose
// registers of a target. Physical registers use the architecture's own
// numbering (x86 ModRM numbers, X0-X30, x0-x31, r0-r31).
type RegisterFile struct {
	// Allocatable registers in preference order. Caller-saved registers come
	// first so short lived temporaries avoid callee-saved ones.
	Allocatable []ir.Reg
	CalleeSaved []ir.Reg
	// Scratch registers are clobbered by multi-instruction encoder sequences
	// and never handed out by the allocator.
	Scratch []ir.Reg
	// SpillScratch holds reloaded spill slots around a single operation.
	SpillScratch [2]ir.Reg
	// StackPointer is the base register for spill slots.
	StackPointer ir.Reg
}

// Registers returns the register file for a, or an error for architectures
// without one.
func Registers(a Architecture) (RegisterFile, error) {
	switch a {
	case X86_64:
		return RegisterFile{
			Allocatable:  regs(6, 7, 8, 9, 3, 12, 13, 14, 15),
			CalleeSaved:  regs(3, 12, 13, 14, 15),
			Scratch:      regs(0, 1, 2),
			SpillScratch: [2]ir.Reg{10, 11},
			StackPointer: 4,
		}, nil
	case ARM64:
		alloc := regRange(0, 13)
		alloc = append(alloc, regRange(19, 28)...)
		return RegisterFile{
			Allocatable:  alloc,
			CalleeSaved:  regRange(19, 28),
			Scratch:      regs(16, 17),
			SpillScratch: [2]ir.Reg{14, 15},
			StackPointer: 31,
		}, nil
	case RISCV64:
		alloc := regs(5, 6, 7)
		alloc = append(alloc, regRange(10, 17)...)
		alloc = append(alloc, 28, 8, 9)
		alloc = append(alloc, regRange(18, 27)...)
		return RegisterFile{
			Allocatable:  alloc,
			CalleeSaved:  append(regs(8, 9), regRange(18, 27)...),
			Scratch:      regs(31),
			SpillScratch: [2]ir.Reg{29, 30},
			StackPointer: 2,
		}, nil
	case PPC64:
		alloc := regRange(3, 8)
		alloc = append(alloc, regRange(14, 31)...)
		return RegisterFile{
			Allocatable:  alloc,
			CalleeSaved:  regRange(14, 31),
			Scratch:      regs(11, 12),
			SpillScratch: [2]ir.Reg{9, 10},
			StackPointer: 1,
		}, nil
	default:
		return RegisterFile{}, fmt.Errorf("arch: no register file for %q", a)
	}
}

// IsCalleeSaved reports whether r must be preserved across calls.
func (f RegisterFile) IsCalleeSaved(r ir.Reg) bool {
	for _, c := range f.CalleeSaved {
		if c == r {
			return true
		}
	}
	return false
}

var x86Names = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// RegisterName formats a physical register the way the architecture's
// assembler spells it.
func RegisterName(a Architecture, r ir.Reg) string {
	switch a {
	case X86_64:
		if int(r) < len(x86Names) {
			return x86Names[r]
		}
	case ARM64:
		if r == 31 {
			return "sp"
		}
		return fmt.Sprintf("x%d", r)
	case RISCV64:
		return fmt.Sprintf("x%d", r)
	case PPC64:
		return fmt.Sprintf("r%d", r)
	}
	return fmt.Sprintf("%s?%d", a, r)
}

// Validate checks that no register is both allocatable and reserved for
// encoder scratch, spill reloads or the stack pointer.
func (f RegisterFile) Validate(a Architecture) error {
	if f.SpillScratch[0] == f.SpillScratch[1] {
		return fmt.Errorf("arch: %s: spill scratch registers must differ", a)
	}
	reserved := map[ir.Reg]bool{f.StackPointer: true, f.SpillScratch[0]: true, f.SpillScratch[1]: true}
	for _, r := range f.Scratch {
		reserved[r] = true
	}
	seen := make(map[ir.Reg]bool, len(f.Allocatable))
	for _, r := range f.Allocatable {
		if reserved[r] {
			return fmt.Errorf("arch: %s: %s is allocatable and reserved", a, RegisterName(a, r))
		}
		if seen[r] {
			return fmt.Errorf("arch: %s: %s is listed twice", a, RegisterName(a, r))
		}
		seen[r] = true
	}
	return nil
}

func regs(ids ...ir.Reg) []ir.Reg { return ids }

func regRange(lo, hi ir.Reg) []ir.Reg {
	var out []ir.Reg
	for r := lo; r <= hi; r++ {
		out = append(out, r)
	}
	return out
}
