package arch

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Architecture
	}{
		{"x86_64", X86_64},
		{"AMD64", X86_64},
		{"aarch64", ARM64},
		{" arm64 ", ARM64},
		{"rv64", RISCV64},
		{"powerpc64", PPC64},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}

	_, err := Parse("vax")
	require.ErrorContains(t, err, "unknown architecture")
}

func TestProperties(t *testing.T) {
	for _, a := range All {
		require.True(t, a.Valid())
	}
	require.False(t, Invalid.Valid())
	require.Equal(t, BigEndian, PPC64.Endianness())
	require.Equal(t, LittleEndian, ARM64.Endianness())
	require.Equal(t, 1, X86_64.InstructionAlignment())
	require.Equal(t, 4, RISCV64.InstructionAlignment())
}

func TestRegisterFiles(t *testing.T) {
	for _, a := range All {
		t.Run(string(a), func(t *testing.T) {
			f, err := Registers(a)
			require.NoError(t, err)
			require.NotEmpty(t, f.Allocatable)

			require.NoError(t, f.Validate(a))
			for _, r := range f.CalleeSaved {
				require.True(t, f.IsCalleeSaved(r))
			}
		})
	}

	_, err := Registers(Invalid)
	require.Error(t, err)
}

func TestValidateRejectsOverlap(t *testing.T) {
	f, err := Registers(X86_64)
	require.NoError(t, err)

	f.Allocatable = append(f.Allocatable, f.Scratch[0])
	require.ErrorContains(t, f.Validate(X86_64), "rax is allocatable and reserved")

	f, _ = Registers(ARM64)
	f.Allocatable = append(f.Allocatable, f.Allocatable[0])
	require.ErrorContains(t, f.Validate(ARM64), "x0 is listed twice")

	f, _ = Registers(PPC64)
	f.SpillScratch[1] = f.SpillScratch[0]
	require.ErrorContains(t, f.Validate(PPC64), "spill scratch")
}

func TestRISCVHasTwentyFourRegisters(t *testing.T) {
	f, err := Registers(RISCV64)
	require.NoError(t, err)
	require.Len(t, f.Allocatable, 24)
}

func TestRegisterName(t *testing.T) {
	require.Equal(t, "rsp", RegisterName(X86_64, 4))
	require.Equal(t, "r15", RegisterName(X86_64, 15))
	require.Equal(t, "sp", RegisterName(ARM64, 31))
	require.Equal(t, "x10", RegisterName(RISCV64, 10))
	require.Equal(t, "r3", RegisterName(PPC64, 3))
}

func TestHost(t *testing.T) {
	a, err := Host()
	switch runtime.GOARCH {
	case "amd64", "arm64", "riscv64":
		require.NoError(t, err)
		require.True(t, a.Valid())
	default:
		require.Error(t, err)
	}
}
