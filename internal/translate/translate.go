// Package translate turns guest IR blocks into target machine code. A
// Translator picks an optimization tier from execution counts, optimizes
// and register-allocates the block, encodes it for the target and caches
// the result, upgrading hot blocks in the background.
package translate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tinyrange/xlate/internal/adaptive"
	"github.com/tinyrange/xlate/internal/align"
	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/interp"
	"github.com/tinyrange/xlate/internal/ir"
	"github.com/tinyrange/xlate/internal/opt"
	"github.com/tinyrange/xlate/internal/regalloc"
	"github.com/tinyrange/xlate/internal/tcache"
	"github.com/tinyrange/xlate/internal/timeslice"
)

// Translation stages reported in Error.Stage.
const (
	StageAllocate = "allocate"
	StageEncode   = "encode"
)

var (
	timesliceAlloc     = timeslice.RegisterKind("translate.alloc", timeslice.SliceFlagAlloc)
	timesliceEncode    = timeslice.RegisterKind("translate.encode", timeslice.SliceFlagEncode)
	timesliceTranslate = timeslice.RegisterKind("translate.block", timeslice.SliceFlagCache)
)

// Error wraps a failed translation with the stage that failed.
type Error struct {
	Key   tcache.Key
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("translate %s: %s: %v", e.Key, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Instruction is one operation of the allocated block with its encoding.
type Instruction struct {
	Op    ir.Op
	Bytes []byte
}

type Stats struct {
	Optimizer opt.Stats
	Alloc     regalloc.Stats
	// Pressure is the largest number of simultaneously live registers.
	Pressure int
	// CalleeSaved lists the callee-saved registers the block writes, which a
	// runtime must preserve around it.
	CalleeSaved  []ir.Reg
	Misaligned   int
	AlignPenalty int
}

// Result is a translation shared between cache readers. Every field,
// including the slices and the mapping behind them, is read-only once the
// Result is returned; callers that need to modify code use Code.
type Result struct {
	Key  tcache.Key
	Tier adaptive.Tier
	// Optimized is the block after the tier's pipeline, still on virtual
	// registers; Allocated is the same block on target registers.
	Optimized    ir.Block
	Allocated    ir.Block
	Mapping      *regalloc.Mapping
	Alignment    align.Report
	Instructions []Instruction
	Stats        Stats

	code []byte
}

// Code returns a copy of the encoded block.
func (r *Result) Code() []byte { return bytes.Clone(r.code) }

func (r *Result) Size() int { return len(r.code) }

// Listing formats the allocated operations next to their encodings.
func (r *Result) Listing() string {
	var sb strings.Builder
	for _, in := range r.Instructions {
		fmt.Fprintf(&sb, "%-28s %x\n", in.Op, in.Bytes)
	}
	return sb.String()
}

// TranslatorStats aggregates the statistics of every component.
type TranslatorStats struct {
	Cache       tcache.Stats
	Adaptive    adaptive.Stats
	Upgrades    adaptive.UpgradeStats
	Optimizer   opt.Stats
	Alloc       regalloc.Stats
	Align       align.Stats
	Translated  int64
	Failed      int64
	Interpreted int64
}

type Translator struct {
	opts Options
	log  *slog.Logger
	enc  asm.Encoder
	regs arch.RegisterFile

	pipelines [adaptive.Hot + 1]*opt.Pipeline
	align     *align.Optimizer
	cache     *tcache.Cache[*Result]
	selector  *adaptive.Selector[tcache.Key]
	upgrader  *adaptive.Upgrader[tcache.Key]

	allocMu    sync.Mutex
	allocStats regalloc.Stats

	translated  atomic.Int64
	failed      atomic.Int64
	interpreted atomic.Int64
}

func New(opts Options) (*Translator, error) {
	if !opts.Source.Valid() {
		return nil, fmt.Errorf("translate: invalid source architecture %q", opts.Source)
	}
	if !opts.Target.Valid() {
		return nil, fmt.Errorf("translate: invalid target architecture %q", opts.Target)
	}

	enc := opts.Encoder
	if enc == nil {
		var err error
		if enc, err = asm.Lookup(opts.Target); err != nil {
			return nil, fmt.Errorf("translate: %w", err)
		}
	}
	regs, err := arch.Registers(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	if err := regs.Validate(opts.Target); err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("source", opts.Source, "target", opts.Target)

	t := &Translator{
		opts:     opts,
		log:      log,
		enc:      enc,
		regs:     regs,
		align:    align.New(opts.Hinter),
		cache:    tcache.New[*Result](opts.CacheSize),
		selector: adaptive.NewSelector[tcache.Key](opts.Adaptive),
		upgrader: adaptive.NewUpgrader[tcache.Key](log),
	}
	t.pipelines[adaptive.Cold] = opt.NewPipeline(opts.Optimizer)
	t.pipelines[adaptive.Warm] = opt.NewFastPipeline(opts.Optimizer)
	t.pipelines[adaptive.Hot] = opt.NewStandardPipeline(opts.Optimizer)

	// An evicted block must not be resurrected by a late upgrade, and starts
	// counting executions from zero when it is seen again.
	t.cache.OnEvict(func(k tcache.Key) {
		t.upgrader.Cancel(k)
		t.selector.Forget(k)
	})
	return t, nil
}

func (t *Translator) Options() Options { return t.opts }

// Tier is the tier b's execution count currently selects.
func (t *Translator) Tier(b ir.Block) adaptive.Tier {
	if t.opts.FixedTier {
		return t.opts.Tier
	}
	return t.selector.Tier(t.Key(b))
}

// Passes names the optimization passes run at tier, in order.
func (t *Translator) Passes(tier adaptive.Tier) []string {
	if tier < adaptive.Cold || tier > adaptive.Hot {
		return nil
	}
	return t.pipelines[tier].PassNames()
}

func (t *Translator) Key(b ir.Block) tcache.Key {
	return tcache.Key{PC: b.PC, Source: t.opts.Source, Target: t.opts.Target}
}

// Translate records an execution of b and returns its translation, from
// the cache when possible. When the block has been promoted past the tier
// of its cached translation, a re-translation is scheduled in the
// background and the current one is returned. ctx is only checked on entry:
// a miss translation already under way runs to completion.
func (t *Translator) Translate(ctx context.Context, b ir.Block) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := t.Key(b)

	tier := t.opts.Tier
	if !t.opts.FixedTier {
		var promoted bool
		tier, promoted = t.selector.Record(key)
		if promoted {
			t.log.Debug("block promoted", "pc", fmt.Sprintf("%#x", b.PC), "tier", tier)
		}
	}

	// Other callers may be waiting on this miss, so the translation itself
	// ignores cancellation of ctx.
	flightCtx := context.WithoutCancel(ctx)
	res, err := t.cache.GetOrTranslate(key, func() (*Result, error) {
		return t.compile(flightCtx, key, b, tier)
	})
	if err != nil {
		return nil, err
	}
	if !t.opts.FixedTier && res.Tier < tier {
		t.scheduleUpgrade(key, b, tier)
	}
	return res, nil
}

// Compile translates b at tier without consulting or filling the cache.
func (t *Translator) Compile(ctx context.Context, b ir.Block, tier adaptive.Tier) (*Result, error) {
	return t.compile(ctx, t.Key(b), b, tier)
}

func (t *Translator) compile(ctx context.Context, key tcache.Key, b ir.Block, tier adaptive.Tier) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	pcAttr := fmt.Sprintf("%#x", b.PC)

	if err := ir.Validate(b); err != nil {
		t.log.Warn("malformed block", "pc", pcAttr, "err", err)
	}

	optimized, ostats := t.pipelines[tier].Optimize(b)
	t.selector.AddOptimizeTime(ostats.Elapsed)
	t.trace("optimize", ostats.Elapsed, key, tier,
		attribute.Int("ops.in", b.Len()),
		attribute.Int("ops.out", optimized.Len()),
		attribute.Int64("changes", ostats.Changes()))

	allocStart := time.Now()
	mapping, lifetimes, err := t.allocate(optimized, tier)
	if err != nil {
		t.failed.Add(1)
		return nil, &Error{Key: key, Stage: StageAllocate, Err: err}
	}
	allocated, astats, err := regalloc.Apply(optimized, mapping, regalloc.Frame{
		Base:    t.regs.StackPointer,
		Scratch: t.regs.SpillScratch,
	})
	if err != nil {
		t.failed.Add(1)
		return nil, &Error{Key: key, Stage: StageAllocate, Err: err}
	}
	allocElapsed := time.Since(allocStart)
	timeslice.Record(timesliceAlloc, allocElapsed)
	t.trace("allocate", allocElapsed, key, tier,
		attribute.Int64("spills", astats.Spills),
		attribute.Int64("temps.reused", astats.TempsReused))

	report := t.align.AnalyzeBlock(optimized)

	encStart := time.Now()
	insnAlign := t.opts.Target.InstructionAlignment()
	instructions := make([]Instruction, 0, allocated.Len())
	var code []byte
	for _, op := range allocated.Ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		enc, err := t.enc.Encode(op)
		if err != nil {
			t.failed.Add(1)
			return nil, &Error{Key: key, Stage: StageEncode, Err: err}
		}
		if len(enc)%insnAlign != 0 {
			t.failed.Add(1)
			return nil, &Error{Key: key, Stage: StageEncode,
				Err: fmt.Errorf("%s: %d bytes is not a multiple of the %d byte instruction size", op, len(enc), insnAlign)}
		}
		instructions = append(instructions, Instruction{Op: op, Bytes: enc})
		code = append(code, enc...)
	}
	encElapsed := time.Since(encStart)
	timeslice.Record(timesliceEncode, encElapsed)
	t.trace("encode", encElapsed, key, tier, attribute.Int("bytes", len(code)))

	t.allocMu.Lock()
	t.allocStats.Add(astats)
	t.allocMu.Unlock()
	t.translated.Add(1)

	res := &Result{
		Key:          key,
		Tier:         tier,
		Optimized:    optimized,
		Allocated:    allocated,
		Mapping:      mapping,
		Alignment:    report,
		Instructions: instructions,
		Stats: Stats{
			Optimizer:    ostats,
			Alloc:        astats,
			Pressure:     regalloc.MaxPressure(lifetimes),
			CalleeSaved:  t.calleeSaved(mapping),
			Misaligned:   report.Misaligned(),
			AlignPenalty: report.TotalPenalty,
		},
		code: code,
	}

	total := time.Since(start)
	timeslice.Record(timesliceTranslate, total)
	t.trace("translate", total, key, tier, attribute.Int("bytes", len(code)))
	t.log.Debug("translated block", "pc", pcAttr, "tier", tier, "ops", allocated.Len(), "bytes", len(code))
	return res, nil
}

func (t *Translator) calleeSaved(m *regalloc.Mapping) []ir.Reg {
	var out []ir.Reg
	for _, r := range m.PhysicalRegs() {
		if t.regs.IsCalleeSaved(r) {
			out = append(out, r)
		}
	}
	return out
}

// allocate runs the allocator for tier under the configured spill policy.
func (t *Translator) allocate(b ir.Block, tier adaptive.Tier) (*regalloc.Mapping, []regalloc.Lifetime, error) {
	lifetimes := regalloc.AnalyzeLifetimes(b)
	lifetimes = regalloc.ExtendLiveOut(lifetimes, t.opts.Optimizer.LiveOutThreshold, b.Len())

	alloc := regalloc.Allocator{
		Spill:    t.opts.Spill == SpillAlways,
		Coalesce: tier == adaptive.Hot,
	}
	mapping, err := alloc.Allocate(b, lifetimes, t.regs.Allocatable)

	var allocErr *regalloc.AllocationError
	if errors.As(err, &allocErr) && t.opts.Spill == SpillRetry {
		t.log.Debug("retrying allocation with spills", "pc", fmt.Sprintf("%#x", b.PC), "reg", allocErr.Reg)
		alloc.Spill = true
		mapping, err = alloc.Allocate(b, lifetimes, t.regs.Allocatable)
	}
	return mapping, lifetimes, err
}

func (t *Translator) scheduleUpgrade(key tcache.Key, b ir.Block, tier adaptive.Tier) {
	b = b.Clone()
	t.upgrader.Schedule(key, func(ctx context.Context) (func(), error) {
		res, err := t.compile(ctx, key, b, tier)
		if err != nil {
			return nil, err
		}
		return func() {
			if cur, ok := t.cache.Peek(key); ok && cur.Tier >= res.Tier {
				return
			}
			if t.cache.Replace(key, res) {
				t.log.Debug("installed upgraded translation", "pc", fmt.Sprintf("%#x", key.PC), "tier", res.Tier)
			}
		}, nil
	})
}

// Outcome describes one Execute call.
type Outcome struct {
	// Result is nil when the block was interpreted.
	Result      *Result
	Interpreted bool
	Exit        interp.Exit
}

// Execute translates b and runs it on m. Native execution of the encoded
// block belongs to the runtime, so a successful translation runs its
// optimized IR in the interpreter. A block that fails to translate is
// interpreted as given; the failure is logged and only affects that block.
func (t *Translator) Execute(ctx context.Context, b ir.Block, m *interp.Machine) (Outcome, error) {
	res, err := t.Translate(ctx, b)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, err
		}
		t.log.Info("interpreting block", "pc", fmt.Sprintf("%#x", b.PC), "err", err)
		t.interpreted.Add(1)
		exit, runErr := m.Run(b)
		return Outcome{Interpreted: true, Exit: exit}, runErr
	}
	exit, err := m.Run(res.Optimized)
	return Outcome{Result: res, Exit: exit}, err
}

// Wait blocks until scheduled upgrades have finished.
func (t *Translator) Wait() { t.upgrader.Wait() }

// Close cancels pending upgrades and waits for them.
func (t *Translator) Close() error { return t.upgrader.Close() }

func (t *Translator) Cache() *tcache.Cache[*Result] { return t.cache }

func (t *Translator) Stats() TranslatorStats {
	var optTotals opt.Stats
	for _, p := range t.pipelines {
		optTotals.Add(p.Totals())
	}
	t.allocMu.Lock()
	alloc := t.allocStats
	t.allocMu.Unlock()

	return TranslatorStats{
		Cache:       t.cache.Stats(),
		Adaptive:    t.selector.Stats(),
		Upgrades:    t.upgrader.Stats(),
		Optimizer:   optTotals,
		Alloc:       alloc,
		Align:       t.align.Stats(),
		Translated:  t.translated.Load(),
		Failed:      t.failed.Load(),
		Interpreted: t.interpreted.Load(),
	}
}

func (t *Translator) trace(op string, d time.Duration, key tcache.Key, tier adaptive.Tier, extra ...attribute.KeyValue) {
	if t.opts.Trace == nil {
		return
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("pc", fmt.Sprintf("%#x", key.PC)),
		attribute.String("source", string(key.Source)),
		attribute.String("target", string(key.Target)),
		attribute.String("tier", tier.String()),
	}, extra...)
	t.opts.Trace(op, d, attrs)
}
