package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tinyrange/xlate/internal/interp"
	"github.com/tinyrange/xlate/internal/ir"
	"github.com/tinyrange/xlate/internal/translate"
)

// bench executes every block n times through the translator from workers
// goroutines. Execution counts drive tier promotion, so hot blocks are
// upgraded in the background while the benchmark runs.
func bench(ctx context.Context, tr *translate.Translator, blocks []ir.Block, n, workers int) error {
	if workers < 1 {
		workers = 1
	}
	total := int64(n) * int64(len(blocks))

	var pb *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		pb = progressbar.Default(total, "translating")
	} else {
		pb = progressbar.DefaultSilent(total)
	}
	defer pb.Close()

	jobs := make(chan ir.Block)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for range n {
			for _, b := range blocks {
				select {
				case jobs <- b:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})

	start := time.Now()
	for range workers {
		g.Go(func() error {
			m := interp.New()
			for b := range jobs {
				if _, err := tr.Execute(ctx, b, m); err != nil {
					return fmt.Errorf("block %#x: %w", b.PC, err)
				}
				pb.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Fprintf(os.Stdout, "%d executions in %s (%s/op)\n", total, elapsed, elapsed/time.Duration(max(total, 1)))
	return nil
}

func printStats(w io.Writer, tr *translate.Translator) {
	s := tr.Stats()
	cache := tr.Cache()
	rows := [][2]string{
		{"translated", fmt.Sprint(s.Translated)},
		{"failed", fmt.Sprint(s.Failed)},
		{"interpreted", fmt.Sprint(s.Interpreted)},
		{"cache hits", fmt.Sprint(s.Cache.Hits)},
		{"cache misses", fmt.Sprint(s.Cache.Misses)},
		{"cache hit rate", fmt.Sprintf("%.1f%%", s.Cache.HitRate()*100)},
		{"cache entries", fmt.Sprintf("%d/%d", cache.Len(), cache.MaxSize())},
		{"cache evictions", fmt.Sprint(s.Cache.Evictions)},
		{"cache replacements", fmt.Sprint(s.Cache.Replacements)},
		{"executions", fmt.Sprint(s.Adaptive.Executions)},
		{"promotions", fmt.Sprint(s.Adaptive.Promotions)},
		{"upgrades applied", fmt.Sprint(s.Upgrades.Applied)},
		{"upgrades cancelled", fmt.Sprint(s.Upgrades.Cancelled)},
		{"optimize time", fmt.Sprintf("%dms", s.Adaptive.OptimizeMillis())},
		{"constant folds", fmt.Sprint(s.Optimizer.ConstantFolds)},
		{"dead code", fmt.Sprint(s.Optimizer.DeadCodeEliminations)},
		{"cse", fmt.Sprint(s.Optimizer.CSEReplacements)},
		{"strength reductions", fmt.Sprint(s.Optimizer.StrengthReductions)},
		{"peephole", fmt.Sprint(s.Optimizer.PeepholeRewrites)},
		{"spills", fmt.Sprint(s.Alloc.Spills)},
		{"coalesced", fmt.Sprint(s.Alloc.Coalesced)},
		{"align hits", fmt.Sprint(s.Align.Hits)},
		{"align misses", fmt.Sprint(s.Align.Misses)},
	}
	table(w, rows)

	if keys := cache.Keys(); len(keys) > 0 {
		fmt.Fprintln(w, "cached:")
		for _, k := range keys {
			fmt.Fprintf(w, "    %s\n", k)
		}
	}
}
