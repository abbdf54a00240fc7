package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/tinyrange/xlate/internal/adaptive"
	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/config"
	"github.com/tinyrange/xlate/internal/interp"
	"github.com/tinyrange/xlate/internal/ir"
	"github.com/tinyrange/xlate/internal/ir/irtest"
	"github.com/tinyrange/xlate/internal/timeslice"
	"github.com/tinyrange/xlate/internal/translate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "xlate: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config    string
	source    string
	target    string
	tier      string
	verify    bool
	bench     int
	workers   int
	timeslice string
	report    string
	debug     bool
}

func run() error {
	var f flags
	flag.StringVar(&f.config, "config", "", "Configuration file (default: ./"+config.Filename+" if present)")
	flag.StringVar(&f.source, "source", "", "Source architecture (x86_64, aarch64, riscv64, ppc64)")
	flag.StringVar(&f.target, "target", "", "Target architecture: "+targetList()+" (default: host)")
	flag.StringVar(&f.tier, "tier", "", "Optimization tier: cold, warm, hot or auto")
	flag.BoolVar(&f.verify, "verify", false, "Run original and optimized blocks in the interpreter and compare live-out registers")
	flag.IntVar(&f.bench, "bench", 0, "Translate every block N times through the cache")
	flag.IntVar(&f.workers, "workers", runtime.NumCPU(), "Goroutines used by -bench")
	flag.StringVar(&f.timeslice, "timeslice", "", "Record stage timings to FILE")
	flag.StringVar(&f.report, "report", "", "Summarize a timeslice recording and exit")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file.ir>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Translate IR blocks to a target architecture.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -target aarch64 loop.ir\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -tier hot -verify loop.ir\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -bench 10000 -timeslice ts.bin loop.ir && %s -report ts.bin\n\n", os.Args[0], os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if f.debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if f.report != "" {
		return report(os.Stdout, f.report)
	}

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		return fmt.Errorf("at least one IR file required")
	}

	opts, err := loadOptions(f)
	if err != nil {
		return err
	}

	if f.timeslice != "" {
		out, err := os.Create(f.timeslice)
		if err != nil {
			return fmt.Errorf("create timeslice file: %w", err)
		}
		defer out.Close()

		closer, err := timeslice.StartRecording(out)
		if err != nil {
			return fmt.Errorf("start recording timeslices: %w", err)
		}
		defer closer.Close()
	}

	blocks, err := readBlocks(files)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tr, err := translate.New(opts)
	if err != nil {
		return err
	}
	defer tr.Close()

	slog.Debug("translating", "blocks", len(blocks), "source", opts.Source, "target", opts.Target)

	if f.bench > 0 {
		if err := bench(ctx, tr, blocks, f.bench, f.workers); err != nil {
			return err
		}
		tr.Wait()
		printStats(os.Stdout, tr)
		return nil
	}

	var failed error
	for _, b := range blocks {
		res, err := tr.Translate(ctx, b)
		if err != nil {
			failed = errors.Join(failed, err)
			fmt.Fprintf(os.Stdout, "block %#x: %v\n\n", b.PC, err)
			continue
		}
		printResult(os.Stdout, tr, b, res)

		if f.verify {
			if err := verify(b, res, tr.Options()); err != nil {
				failed = errors.Join(failed, fmt.Errorf("verify %#x: %w", b.PC, err))
				fmt.Fprintf(os.Stdout, "verify: FAIL: %v\n\n", err)
			} else {
				fmt.Fprintf(os.Stdout, "verify: ok\n\n")
			}
		}
	}
	tr.Wait()
	printStats(os.Stdout, tr)
	return failed
}

// loadOptions layers flags over the configuration file over the defaults.
func loadOptions(f flags) (translate.Options, error) {
	cfg := config.Default()
	path := f.config
	if path == "" {
		if _, err := os.Stat(config.Filename); err == nil {
			path = config.Filename
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return translate.Options{}, err
		}
		slog.Debug("loaded config", "path", path, "version", cfg.Version)
	}

	opts, err := translate.OptionsFromConfig(cfg)
	if err != nil {
		return translate.Options{}, err
	}

	if f.source != "" {
		if opts.Source, err = arch.Parse(f.source); err != nil {
			return translate.Options{}, err
		}
	}
	if f.target != "" {
		if opts.Target, err = arch.Parse(f.target); err != nil {
			return translate.Options{}, err
		}
	}
	if opts.Source == arch.Invalid {
		opts.Source = arch.RISCV64
	}
	if opts.Target == arch.Invalid {
		if opts.Target, err = arch.Host(); err != nil {
			return translate.Options{}, err
		}
	}

	switch f.tier {
	case "":
	case config.DefaultTier:
		opts.FixedTier = false
	default:
		if opts.Tier, err = adaptive.ParseTier(f.tier); err != nil {
			return translate.Options{}, err
		}
		opts.FixedTier = true
	}
	return opts, nil
}

func readBlocks(files []string) ([]ir.Block, error) {
	var blocks []ir.Block
	for _, name := range files {
		fh, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		bs, err := ir.ParseBlocks(fh)
		fh.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		blocks = append(blocks, bs...)
	}
	return blocks, nil
}

// verify runs the original and optimized blocks from the same zeroed
// machine and compares every register up to the live-out threshold.
func verify(b ir.Block, res *translate.Result, opts translate.Options) error {
	return irtest.Equivalent(b, res.Optimized, opts.Optimizer.LiveOutThreshold, interp.New())
}

func targetList() string {
	var names []string
	for _, a := range asm.Registered() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}

func printResult(w io.Writer, tr *translate.Translator, b ir.Block, res *translate.Result) {
	fmt.Fprintf(w, "block %#x (%s -> %s, tier %s, now %s)\n", res.Key.PC, res.Key.Source, res.Key.Target, res.Tier, tr.Tier(b))
	if passes := tr.Passes(res.Tier); len(passes) > 0 {
		fmt.Fprintf(w, "passes: %s\n", strings.Join(passes, ", "))
	}
	fmt.Fprintf(w, "optimized:\n%s", indent(res.Optimized.String()))
	fmt.Fprintf(w, "allocation:\n%s", indent(res.Mapping.String()))
	fmt.Fprintf(w, "registers: %s\n", regList(res.Key.Target, res.Mapping.PhysicalRegs()))
	if len(res.Stats.CalleeSaved) > 0 {
		fmt.Fprintf(w, "callee-saved: %s\n", regList(res.Key.Target, res.Stats.CalleeSaved))
	}
	fmt.Fprintf(w, "code (%d bytes):\n%s", res.Size(), indent(res.Listing()))
	s := res.Stats
	fmt.Fprintf(w, "stats: folds=%d dce=%d cse=%d strength=%d peephole=%d rounds=%d optimize=%dus spills=%d pressure=%d misaligned=%d penalty=%d\n",
		s.Optimizer.ConstantFolds, s.Optimizer.DeadCodeEliminations, s.Optimizer.CSEReplacements,
		s.Optimizer.StrengthReductions, s.Optimizer.PeepholeRewrites, s.Optimizer.Rounds, s.Optimizer.ElapsedMicros(),
		s.Alloc.Spills, s.Pressure, s.Misaligned, s.AlignPenalty)
}

func regList(a arch.Architecture, regs []ir.Reg) string {
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = arch.RegisterName(a, r)
	}
	return strings.Join(names, " ")
}
