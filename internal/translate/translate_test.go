package translate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/goleak"

	"github.com/tinyrange/xlate/internal/adaptive"
	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/config"
	"github.com/tinyrange/xlate/internal/interp"
	"github.com/tinyrange/xlate/internal/ir"
	"github.com/tinyrange/xlate/internal/ir/irtest"
	"github.com/tinyrange/xlate/internal/regalloc"
	"github.com/tinyrange/xlate/internal/tcache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTranslator(t *testing.T, opts Options) *Translator {
	t.Helper()
	tr, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tr.Close()) })
	return tr
}

const sample = `
block 0x1000
	movi r4, 8
	load.8 r5, [r1+16]
	add r6, r5, r4
	mul r7, r6, r6
	store.8 r7, [r1+24]
	cmp.ltu r0, r5, r7
	b.eq r0, r2, 64
	addi r3, r6, 1
`

func TestTranslateEveryTarget(t *testing.T) {
	b := ir.MustParse(sample)
	for _, target := range arch.All {
		t.Run(string(target), func(t *testing.T) {
			tr := newTranslator(t, DefaultOptions(arch.RISCV64, target))

			res, err := tr.Translate(context.Background(), b)
			require.NoError(t, err)
			require.Equal(t, adaptive.Cold, res.Tier)
			require.Equal(t, tcache.Key{PC: 0x1000, Source: arch.RISCV64, Target: target}, res.Key)
			require.NotZero(t, res.Size())
			require.Len(t, res.Instructions, res.Allocated.Len())

			code := res.Code()
			code[0] ^= 0xFF
			require.NotEqual(t, code, res.Code(), "Code must return a copy")

			require.Contains(t, res.Listing(), "store.8")

			again, err := tr.Translate(context.Background(), b)
			require.NoError(t, err)
			require.Same(t, res, again)
			require.EqualValues(t, 1, tr.Stats().Cache.Hits)
			require.EqualValues(t, 1, tr.Stats().Translated)
		})
	}
}

func TestNewRejectsBadArchitectures(t *testing.T) {
	_, err := New(DefaultOptions(arch.Invalid, arch.X86_64))
	require.ErrorContains(t, err, "source")
	_, err = New(DefaultOptions(arch.ARM64, "mips"))
	require.ErrorContains(t, err, "target")
}

func TestPromotionUpgradesCachedTranslation(t *testing.T) {
	opts := DefaultOptions(arch.X86_64, arch.ARM64)
	opts.Adaptive = adaptive.Config{WarmThreshold: 2, HotThreshold: 3}
	tr := newTranslator(t, opts)
	b := ir.MustParse(sample)
	ctx := context.Background()

	res, err := tr.Translate(ctx, b)
	require.NoError(t, err)
	require.Equal(t, adaptive.Cold, res.Tier)

	// second execution promotes to warm; the cold translation is still served
	res, err = tr.Translate(ctx, b)
	require.NoError(t, err)
	require.Equal(t, adaptive.Cold, res.Tier)
	tr.Wait()

	cur, ok := tr.Cache().Peek(tr.Key(b))
	require.True(t, ok)
	require.Equal(t, adaptive.Warm, cur.Tier)

	_, err = tr.Translate(ctx, b)
	require.NoError(t, err)
	tr.Wait()

	cur, _ = tr.Cache().Peek(tr.Key(b))
	require.Equal(t, adaptive.Hot, cur.Tier)

	s := tr.Stats()
	require.EqualValues(t, 2, s.Upgrades.Applied)
	require.EqualValues(t, 2, s.Cache.Replacements)
	require.EqualValues(t, 2, s.Adaptive.Promotions)
	require.LessOrEqual(t, cur.Optimized.Len(), b.Len())
}

func TestFixedTierSkipsUpgrades(t *testing.T) {
	opts := DefaultOptions(arch.ARM64, arch.RISCV64)
	opts.FixedTier = true
	opts.Tier = adaptive.Hot
	opts.Adaptive = adaptive.Config{WarmThreshold: 1, HotThreshold: 2}
	tr := newTranslator(t, opts)

	for range 5 {
		res, err := tr.Translate(context.Background(), ir.MustParse(sample))
		require.NoError(t, err)
		require.Equal(t, adaptive.Hot, res.Tier)
	}
	tr.Wait()
	require.Zero(t, tr.Stats().Upgrades.Scheduled)
}

// pressureBlock keeps n registers live at once and sums them into r0.
func pressureBlock(n int) ir.Block {
	var sb strings.Builder
	sb.WriteString("block 0x2000\n")
	for i := range n {
		fmt.Fprintf(&sb, "movi r%d, %d\n", 10+i, i+1)
	}
	sb.WriteString("movi r0, 0\n")
	for i := range n {
		fmt.Fprintf(&sb, "add r0, r0, r%d\n", 10+i)
	}
	return ir.MustParse(sb.String())
}

func TestSpillPolicies(t *testing.T) {
	const n = 40
	b := pressureBlock(n)

	cold := func(policy SpillPolicy) Options {
		opts := DefaultOptions(arch.X86_64, arch.RISCV64)
		opts.FixedTier = true
		opts.Tier = adaptive.Cold
		opts.Spill = policy
		return opts
	}

	t.Run("never", func(t *testing.T) {
		tr := newTranslator(t, cold(SpillNever))
		_, err := tr.Translate(context.Background(), b)

		var terr *Error
		require.ErrorAs(t, err, &terr)
		require.Equal(t, StageAllocate, terr.Stage)
		var aerr *regalloc.AllocationError
		require.ErrorAs(t, err, &aerr)
		require.Zero(t, tr.Cache().Len(), "failures are not cached")
		require.EqualValues(t, 1, tr.Stats().Failed)
	})

	for _, policy := range []SpillPolicy{SpillRetry, SpillAlways} {
		t.Run(policy.String(), func(t *testing.T) {
			tr := newTranslator(t, cold(policy))
			res, err := tr.Translate(context.Background(), b)
			require.NoError(t, err)
			require.Positive(t, res.Stats.Alloc.Spills)
			require.Greater(t, res.Stats.Pressure, 24)
			require.Positive(t, res.Mapping.Slots)
			require.Equal(t, []ir.Reg{8, 9, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27}, res.Stats.CalleeSaved)
		})
	}
}

func TestExecuteFallsBackToInterpreter(t *testing.T) {
	opts := DefaultOptions(arch.X86_64, arch.RISCV64)
	opts.FixedTier = true
	opts.Spill = SpillNever
	tr := newTranslator(t, opts)

	m := interp.New()
	out, err := tr.Execute(context.Background(), pressureBlock(40), m)
	require.NoError(t, err)
	require.True(t, out.Interpreted)
	require.Nil(t, out.Result)
	require.EqualValues(t, 40*41/2, m.Reg(0))
	require.EqualValues(t, 1, tr.Stats().Interpreted)
}

func TestUnsupportedOperationIsReported(t *testing.T) {
	tr := newTranslator(t, DefaultOptions(arch.X86_64, arch.PPC64))
	b := ir.MustParse("block 0x40\ndiv r0, r1, r2\n")

	_, err := tr.Translate(context.Background(), b)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, StageEncode, terr.Stage)
	var unsupported *asm.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	require.Contains(t, err.Error(), "x86_64->ppc64@0x40")

	m := interp.New()
	m.SetReg(1, 7)
	out, err := tr.Execute(context.Background(), b, m)
	require.NoError(t, err)
	require.True(t, out.Interpreted)
	require.Equal(t, ^uint64(0), m.Reg(0), "division by zero yields all ones")
}

func TestExecuteRunsOptimizedBlock(t *testing.T) {
	opts := DefaultOptions(arch.RISCV64, arch.X86_64)
	opts.FixedTier = true
	opts.Tier = adaptive.Hot
	tr := newTranslator(t, opts)

	m := interp.New()
	m.SetReg(1, 0x1000)
	m.Write(0x1010, 8, 5)
	out, err := tr.Execute(context.Background(), ir.MustParse(sample), m)
	require.NoError(t, err)
	require.False(t, out.Interpreted)
	require.NotNil(t, out.Result)
	require.EqualValues(t, 14, m.Reg(3))
	require.EqualValues(t, 169, m.Read(0x1018, 8))
}

func TestCancelledContext(t *testing.T) {
	tr := newTranslator(t, DefaultOptions(arch.RISCV64, arch.X86_64))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Translate(ctx, ir.MustParse(sample))
	require.ErrorIs(t, err, context.Canceled)
	_, err = tr.Execute(ctx, ir.MustParse(sample), interp.New())
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentTranslateSharesResult(t *testing.T) {
	opts := DefaultOptions(arch.ARM64, arch.X86_64)
	opts.FixedTier = true
	tr := newTranslator(t, opts)
	b := ir.MustParse(sample)

	const n = 16
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.Translate(context.Background(), b)
			if err != nil {
				t.Error(err)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.Same(t, results[0], r)
	}
	require.EqualValues(t, 1, tr.Stats().Translated)
}

// gatedEncoder blocks the first Encode until release is closed.
type gatedEncoder struct {
	asm.Encoder
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (e *gatedEncoder) Encode(op ir.Op) ([]byte, error) {
	e.once.Do(func() {
		close(e.started)
		<-e.release
	})
	return e.Encoder.Encode(op)
}

func TestCancelledLeaderKeepsSharedMiss(t *testing.T) {
	base, err := asm.Lookup(arch.X86_64)
	require.NoError(t, err)
	enc := &gatedEncoder{Encoder: base, started: make(chan struct{}), release: make(chan struct{})}

	opts := DefaultOptions(arch.RISCV64, arch.X86_64)
	opts.FixedTier = true
	opts.Encoder = enc
	tr := newTranslator(t, opts)
	b := ir.MustParse(sample)

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		wg                   sync.WaitGroup
		leaderRes, waiterRes *Result
		leaderErr, waiterErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		leaderRes, leaderErr = tr.Translate(leaderCtx, b)
	}()
	<-enc.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		waiterRes, waiterErr = tr.Translate(context.Background(), b)
	}()
	// give the waiter time to join the in-flight translation
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(enc.release)
	wg.Wait()

	require.NoError(t, leaderErr)
	require.NoError(t, waiterErr)
	require.Same(t, leaderRes, waiterRes)
	require.Equal(t, 1, tr.Cache().Len())
	require.Zero(t, tr.Stats().Cache.Failures)
	require.EqualValues(t, 1, tr.Stats().Translated)
}

func TestEvictionResetsExecutionCount(t *testing.T) {
	opts := DefaultOptions(arch.RISCV64, arch.ARM64)
	opts.CacheSize = 1
	opts.Adaptive = adaptive.Config{WarmThreshold: 2, HotThreshold: 3}
	tr := newTranslator(t, opts)

	a := ir.MustParse(sample)
	other := a.Clone()
	other.PC = 0x2000

	for range 2 {
		_, err := tr.Translate(context.Background(), a)
		require.NoError(t, err)
	}
	tr.Wait()
	require.EqualValues(t, 2, tr.selector.Count(tr.Key(a)))
	require.Equal(t, adaptive.Warm, tr.Tier(a))

	_, err := tr.Translate(context.Background(), other)
	require.NoError(t, err)
	require.Zero(t, tr.selector.Count(tr.Key(a)))
	require.Equal(t, adaptive.Cold, tr.Tier(a))
	require.EqualValues(t, 1, tr.selector.Count(tr.Key(other)))

	res, err := tr.Translate(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, adaptive.Cold, res.Tier)
}

func TestEncodersRegisteredOnImport(t *testing.T) {
	require.ElementsMatch(t, arch.All, asm.Registered())
	for _, target := range arch.All {
		_, err := New(DefaultOptions(arch.RISCV64, target))
		require.NoError(t, err, target)
	}
}

func TestPasses(t *testing.T) {
	tr := newTranslator(t, DefaultOptions(arch.RISCV64, arch.X86_64))
	require.Empty(t, tr.Passes(adaptive.Cold))
	require.Equal(t, []string{"cse", "constfold", "dce", "strength"}, tr.Passes(adaptive.Warm))
	require.Contains(t, tr.Passes(adaptive.Hot), "peephole")
	require.Nil(t, tr.Passes(adaptive.Tier(7)))
}

// oddEncoder emits three bytes per operation.
type oddEncoder struct{}

func (oddEncoder) Arch() arch.Architecture      { return arch.ARM64 }
func (oddEncoder) Encode(ir.Op) ([]byte, error) { return []byte{1, 2, 3}, nil }

func TestEncodingMustKeepInstructionSize(t *testing.T) {
	opts := DefaultOptions(arch.RISCV64, arch.ARM64)
	opts.FixedTier = true
	opts.Encoder = oddEncoder{}
	tr := newTranslator(t, opts)

	_, err := tr.Translate(context.Background(), ir.MustParse(sample))
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, StageEncode, terr.Stage)
	require.ErrorContains(t, err, "not a multiple of the 4 byte instruction size")
}

func TestTraceHook(t *testing.T) {
	var (
		mu  sync.Mutex
		ops []string
		got []attribute.KeyValue
	)
	opts := DefaultOptions(arch.RISCV64, arch.ARM64)
	opts.Trace = func(op string, d time.Duration, attrs []attribute.KeyValue) {
		mu.Lock()
		defer mu.Unlock()
		ops = append(ops, op)
		got = append(got, attrs...)
	}
	tr := newTranslator(t, opts)
	_, err := tr.Translate(context.Background(), ir.MustParse(sample))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"optimize", "allocate", "encode", "translate"}, ops)
	require.Contains(t, got, attribute.String("tier", "cold"))
	require.Contains(t, got, attribute.String("pc", "0x1000"))
}

func TestOptionsFromConfig(t *testing.T) {
	c, err := config.Parse([]byte(`
source: amd64
target: aarch64
adaptive:
  tier: warm
allocator:
  spill: always
optimizer:
  liveOutThreshold: 5
`))
	require.NoError(t, err)

	opts, err := OptionsFromConfig(c)
	require.NoError(t, err)
	require.Equal(t, arch.X86_64, opts.Source)
	require.Equal(t, arch.ARM64, opts.Target)
	require.True(t, opts.FixedTier)
	require.Equal(t, adaptive.Warm, opts.Tier)
	require.Equal(t, SpillAlways, opts.Spill)
	require.EqualValues(t, 5, opts.Optimizer.LiveOutThreshold)
	require.Equal(t, config.DefaultCacheSize, opts.CacheSize)

	opts, err = OptionsFromConfig(config.Default())
	require.NoError(t, err)
	require.False(t, opts.FixedTier)
	require.Equal(t, arch.Invalid, opts.Target)
}

func TestErrorUnwrap(t *testing.T) {
	boom := errors.New("boom")
	err := error(&Error{Stage: StageEncode, Err: boom})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "encode: boom")

	_, err = ParseSpillPolicy("sometimes")
	require.Error(t, err)
	p, err := ParseSpillPolicy("NEVER")
	require.NoError(t, err)
	require.Equal(t, SpillNever, p)
}

// Every tier keeps the interpreter-visible behaviour of random blocks, and
// the translation always encodes on targets with full division support.
func TestTranslationPreservesSemantics(t *testing.T) {
	targets := []arch.Architecture{arch.X86_64, arch.ARM64, arch.RISCV64}
	translators := make(map[arch.Architecture]*Translator)
	for _, target := range targets {
		opts := DefaultOptions(arch.RISCV64, target)
		opts.FixedTier = true
		opts.Tier = adaptive.Hot
		opts.CacheSize = 8
		translators[target] = newTranslator(t, opts)
	}

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 150
	properties := gopter.NewProperties(params)

	properties.Property("translated blocks match the interpreter", prop.ForAll(
		func(seed int64, target arch.Architecture, tier adaptive.Tier) string {
			r := rand.New(rand.NewSource(seed))
			b := irtest.RandomBlock(r, 4+r.Intn(24))
			start := irtest.RandomMachine(r)

			res, err := translators[target].Compile(context.Background(), b, tier)
			if err != nil {
				return err.Error()
			}
			if err := irtest.Equivalent(b, res.Optimized, 3, start); err != nil {
				return fmt.Sprintf("%v\n%s\n--\n%s", err, b, res.Optimized)
			}
			if res.Size() == 0 && res.Allocated.Len() > 0 {
				return "no code emitted"
			}
			return ""
		},
		gen.Int64(),
		gen.IntRange(0, len(targets)-1).Map(func(i int) arch.Architecture { return targets[i] }),
		gen.IntRange(int(adaptive.Cold), int(adaptive.Hot)).Map(func(v int) adaptive.Tier { return adaptive.Tier(v) }),
	))

	properties.TestingRun(t)
}
