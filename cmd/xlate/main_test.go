package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/xlate/internal/adaptive"
	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/config"
	"github.com/tinyrange/xlate/internal/interp"
	"github.com/tinyrange/xlate/internal/translate"
)

func TestReadBlocks(t *testing.T) {
	blocks, err := readBlocks([]string{filepath.Join("testdata", "sum.ir")})
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.EqualValues(t, 0x1000, blocks[0].PC)
	require.EqualValues(t, 0x1040, blocks[1].PC)

	m := interp.New()
	_, err = m.Run(blocks[0])
	require.NoError(t, err)
	require.EqualValues(t, 7, m.Reg(0))

	m = interp.New()
	_, err = m.Run(blocks[1])
	require.NoError(t, err)
	require.EqualValues(t, 95, m.Reg(0))

	_, err = readBlocks([]string{filepath.Join(t.TempDir(), "missing.ir")})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadOptions(t *testing.T) {
	opts, err := loadOptions(flags{source: "x86_64", target: "aarch64", tier: "hot"})
	require.NoError(t, err)
	require.Equal(t, arch.X86_64, opts.Source)
	require.Equal(t, arch.ARM64, opts.Target)
	require.True(t, opts.FixedTier)
	require.Equal(t, adaptive.Hot, opts.Tier)

	path := filepath.Join(t.TempDir(), config.Filename)
	c := config.Default()
	c.Target = "ppc64"
	c.Adaptive.Tier = "warm"
	require.NoError(t, config.Write(path, c))

	opts, err = loadOptions(flags{config: path})
	require.NoError(t, err)
	require.Equal(t, arch.RISCV64, opts.Source)
	require.Equal(t, arch.PPC64, opts.Target)
	require.True(t, opts.FixedTier)
	require.Equal(t, adaptive.Warm, opts.Tier)

	// -tier auto overrides a pinned tier from the file
	opts, err = loadOptions(flags{config: path, tier: "auto"})
	require.NoError(t, err)
	require.False(t, opts.FixedTier)

	_, err = loadOptions(flags{target: "vax"})
	require.Error(t, err)
	_, err = loadOptions(flags{target: "riscv64", tier: "tepid"})
	require.Error(t, err)
}

func TestTranslateAndVerify(t *testing.T) {
	blocks, err := readBlocks([]string{filepath.Join("testdata", "sum.ir")})
	require.NoError(t, err)

	opts := translate.DefaultOptions(arch.RISCV64, arch.X86_64)
	opts.FixedTier = true
	opts.Tier = adaptive.Hot
	tr, err := translate.New(opts)
	require.NoError(t, err)
	defer tr.Close()

	for _, b := range blocks {
		res, err := tr.Translate(context.Background(), b)
		require.NoError(t, err)
		require.NoError(t, verify(b, res, tr.Options()))

		var out bytes.Buffer
		printResult(&out, tr, b, res)
		require.Contains(t, out.String(), "tier hot")
		require.Contains(t, out.String(), "passes: cse, constfold")
		require.Contains(t, out.String(), "registers: ")
		require.Contains(t, out.String(), "optimized:")
		require.Contains(t, out.String(), "bytes):")
	}
}

func TestBench(t *testing.T) {
	blocks, err := readBlocks([]string{filepath.Join("testdata", "sum.ir")})
	require.NoError(t, err)

	opts := translate.DefaultOptions(arch.RISCV64, arch.ARM64)
	opts.Adaptive = adaptive.Config{WarmThreshold: 2, HotThreshold: 4}
	tr, err := translate.New(opts)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, bench(context.Background(), tr, blocks, 10, 4))
	tr.Wait()

	s := tr.Stats()
	require.EqualValues(t, 20, s.Adaptive.Executions)
	require.EqualValues(t, 4, s.Adaptive.Promotions)
	require.Zero(t, s.Interpreted)

	var out bytes.Buffer
	printStats(&out, tr)
	require.Contains(t, out.String(), "promotions")
	require.Contains(t, out.String(), "cached:")
}

// The binary gets every reference encoder without importing them itself.
func TestEveryTargetTranslates(t *testing.T) {
	require.Equal(t, "arm64, ppc64, riscv64, x86_64", targetList())

	blocks, err := readBlocks([]string{filepath.Join("testdata", "sum.ir")})
	require.NoError(t, err)
	for _, target := range arch.All {
		tr, err := translate.New(translate.DefaultOptions(arch.RISCV64, target))
		require.NoError(t, err, target)
		m := interp.New()
		out, err := tr.Execute(context.Background(), blocks[0], m)
		require.NoError(t, err, target)
		require.False(t, out.Interpreted, target)
		require.NotNil(t, out.Result)
		require.Positive(t, out.Result.Size())
		require.EqualValues(t, 7, m.Reg(0))
		require.NoError(t, tr.Close())
	}
}

func TestColumns(t *testing.T) {
	var out bytes.Buffer
	columns(&out, [][]string{
		{"kind", "count"},
		{"translate.block", "12"},
		{"opt.fold", "3"},
	})
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		require.Len(t, l, len(lines[0]))
	}
	require.True(t, strings.HasSuffix(lines[2], " 3"))
	require.True(t, strings.HasPrefix(lines[1], "translate.block"))
}

func TestIndent(t *testing.T) {
	require.Equal(t, "    a\n    b\n", indent("a\nb\n"))
}
