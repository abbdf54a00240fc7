package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, "v1", c.Version)
	require.Equal(t, DefaultCacheSize, c.Cache.MaxSize)
	require.EqualValues(t, 10, c.Adaptive.WarmThreshold)
	require.EqualValues(t, 100, c.Adaptive.HotThreshold)
	require.EqualValues(t, 3, c.LiveOutThreshold())
	require.Equal(t, 16, c.Optimizer.MaxRounds)
	require.Equal(t, "retry", c.Allocator.Spill)
	require.Equal(t, "auto", c.Adaptive.Tier)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`version: "1.2"
source: aarch64
target: riscv64
cache:
  maxSize: 64
adaptive:
  warmThreshold: 2
  hotThreshold: 5
optimizer:
  liveOutThreshold: 0
allocator:
  spill: never
`))
	require.NoError(t, err)
	require.Equal(t, "v1.2", c.Version)
	require.Equal(t, "aarch64", c.Source)
	require.Equal(t, 64, c.Cache.MaxSize)
	require.EqualValues(t, 2, c.Adaptive.WarmThreshold)
	require.EqualValues(t, 0, c.LiveOutThreshold())
	require.Equal(t, DefaultMaxRounds, c.Optimizer.MaxRounds)
	require.Equal(t, "never", c.Allocator.Spill)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"major version", "version: v2.0.0\n", "unsupported version"},
		{"bad version", "version: banana\n", "invalid version"},
		{"architecture", "target: vax\n", "unknown architecture"},
		{"thresholds", "adaptive:\n  warmThreshold: 50\n  hotThreshold: 20\n", "below warmThreshold"},
		{"spill", "allocator:\n  spill: sometimes\n", "unknown spill policy"},
		{"tier", "adaptive:\n  tier: lukewarm\n", "tier"},
		{"yaml", "cache: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	c := Default()
	c.Target = "x86_64"
	c.Allocator.Spill = "always"
	require.NoError(t, Write(path, c))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "maxSize: 4096")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, c, loaded)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
