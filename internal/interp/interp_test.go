package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/xlate/internal/ir"
)

func TestRunArithmeticAndMemory(t *testing.T) {
	b := ir.MustParse(`
block 0x400
  movi r1, 0x100
  movi r2, 7
  muli r3, r2, 6
  store.4 r3, [r1+4]
  load.2 r4, [r1+4]
  cmp.eq r5, r4, r3
`)
	m := New()
	exit, err := m.Run(b)
	require.NoError(t, err)
	require.False(t, exit.Taken)
	require.Equal(t, len(b.Ops), exit.Index)
	require.Equal(t, uint64(42), m.Reg(3))
	require.Equal(t, uint64(42), m.Read(0x104, 4))
	require.Equal(t, uint64(42), m.Reg(4))
	require.Equal(t, uint64(1), m.Reg(5))
}

func TestRunBranchExit(t *testing.T) {
	b := ir.MustParse(`
  movi r1, 1
  b.ne r1, r0, 64
  movi r2, 5
`)
	m := New()
	exit, err := m.Run(b)
	require.NoError(t, err)
	require.Equal(t, Exit{Index: 1, Taken: true, Offset: 64}, exit)
	require.Zero(t, m.Reg(2))
}

type customOp struct{ ir.Jump }

func TestRunUnknownOp(t *testing.T) {
	m := New()
	_, err := m.Run(ir.NewBlock(0, customOp{}))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestCloneIsIndependent(t *testing.T) {
	m := New()
	m.SetReg(1, 10)
	m.Write(0, 8, 0xdead)
	c := m.Clone()
	c.SetReg(1, 11)
	c.Write(0, 1, 0)
	require.Equal(t, uint64(10), m.Reg(1))
	require.Equal(t, uint64(0xdead), m.Read(0, 8))
}
