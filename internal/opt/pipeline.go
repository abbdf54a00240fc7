// Package opt implements the block optimization pipeline: common
// subexpression elimination, constant folding, dead code elimination,
// strength reduction and peephole simplification.
package opt

import (
	"sync/atomic"
	"time"

	"github.com/tinyrange/xlate/internal/ir"
	"github.com/tinyrange/xlate/internal/timeslice"
)

const (
	// DefaultLiveOutThreshold is the highest register number that dead code
	// elimination treats as observable outside the block.
	DefaultLiveOutThreshold ir.Reg = 3
	DefaultMaxRounds               = 16
)

// Pass transforms a sequence of operations. Passes never fail; operations a
// pass does not understand are copied to the output unchanged.
type Pass interface {
	Name() string
	Run(ops []ir.Op, stats *Stats) []ir.Op
}

type Config struct {
	// LiveOutThreshold marks r0..LiveOutThreshold as live-out. Definitions
	// of these registers are never removed.
	LiveOutThreshold ir.Reg
	// MaxRounds bounds how often the pass sequence is repeated while it
	// keeps changing the block.
	MaxRounds int
}

func (c *Config) normalize() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{LiveOutThreshold: DefaultLiveOutThreshold, MaxRounds: DefaultMaxRounds}
}

// Pipeline runs a fixed sequence of passes. It is safe for concurrent use;
// the only shared state is the lifetime statistics.
type Pipeline struct {
	cfg    Config
	passes []Pass
	totals counters
}

// NewPipeline builds a pipeline running passes in order. With no passes the
// pipeline returns blocks unchanged.
func NewPipeline(cfg Config, passes ...Pass) *Pipeline {
	cfg.normalize()
	return &Pipeline{cfg: cfg, passes: passes}
}

// NewFastPipeline runs CSE, constant folding, dead code elimination and
// strength reduction.
func NewFastPipeline(cfg Config) *Pipeline {
	return NewPipeline(cfg,
		NewCSEPass(),
		NewConstantFoldingPass(),
		NewDeadCodeEliminationPass(cfg.LiveOutThreshold),
		NewStrengthReductionPass(),
	)
}

// NewStandardPipeline adds peephole simplification and a final constant
// fold to the fast pipeline.
func NewStandardPipeline(cfg Config) *Pipeline {
	return NewPipeline(cfg,
		NewCSEPass(),
		NewConstantFoldingPass(),
		NewDeadCodeEliminationPass(cfg.LiveOutThreshold),
		NewStrengthReductionPass(),
		NewPeepholePass(cfg.LiveOutThreshold),
		NewConstantFoldingPass(),
	)
}

// PassNames lists the passes in execution order.
func (p *Pipeline) PassNames() []string {
	names := make([]string, len(p.passes))
	for i, pass := range p.passes {
		names[i] = pass.Name()
	}
	return names
}

// Optimize returns an optimized copy of b and the statistics of this run.
// The pass sequence repeats until a full round leaves the block unchanged,
// so optimizing the result again is a no-op.
func (p *Pipeline) Optimize(b ir.Block) (ir.Block, Stats) {
	start := time.Now()
	var stats Stats

	ops := make([]ir.Op, len(b.Ops))
	copy(ops, b.Ops)

	for round := 0; round < p.cfg.MaxRounds && len(p.passes) > 0; round++ {
		stats.Rounds++
		changed := false
		for _, pass := range p.passes {
			passStart := time.Now()
			next := pass.Run(ops, &stats)
			timeslice.Record(passKind(pass.Name()), time.Since(passStart))
			if !ir.OpsEqual(next, ops) {
				changed = true
			}
			ops = next
		}
		if !changed {
			break
		}
	}

	stats.Elapsed = time.Since(start)
	p.totals.add(stats)
	return b.WithOps(ops), stats
}

// Totals returns the statistics accumulated over every Optimize call.
func (p *Pipeline) Totals() Stats { return p.totals.snapshot() }

// Stats counts the transformations applied by one or more optimizer runs.
type Stats struct {
	ConstantFolds        int64
	DeadCodeEliminations int64
	CSEReplacements      int64
	StrengthReductions   int64
	PeepholeRewrites     int64
	Rounds               int64
	// Elapsed is measured with nanosecond resolution.
	Elapsed time.Duration
}

func (s *Stats) Add(o Stats) {
	s.ConstantFolds += o.ConstantFolds
	s.DeadCodeEliminations += o.DeadCodeEliminations
	s.CSEReplacements += o.CSEReplacements
	s.StrengthReductions += o.StrengthReductions
	s.PeepholeRewrites += o.PeepholeRewrites
	s.Rounds += o.Rounds
	s.Elapsed += o.Elapsed
}

// Changes is the total number of rewrites.
func (s Stats) Changes() int64 {
	return s.ConstantFolds + s.DeadCodeEliminations + s.CSEReplacements +
		s.StrengthReductions + s.PeepholeRewrites
}

// ElapsedMicros reports Elapsed truncated to microseconds.
func (s Stats) ElapsedMicros() int64 { return s.Elapsed.Microseconds() }

type counters struct {
	constantFolds        atomic.Int64
	deadCodeEliminations atomic.Int64
	cseReplacements      atomic.Int64
	strengthReductions   atomic.Int64
	peepholeRewrites     atomic.Int64
	rounds               atomic.Int64
	elapsed              atomic.Int64
}

func (c *counters) add(s Stats) {
	c.constantFolds.Add(s.ConstantFolds)
	c.deadCodeEliminations.Add(s.DeadCodeEliminations)
	c.cseReplacements.Add(s.CSEReplacements)
	c.strengthReductions.Add(s.StrengthReductions)
	c.peepholeRewrites.Add(s.PeepholeRewrites)
	c.rounds.Add(s.Rounds)
	c.elapsed.Add(int64(s.Elapsed))
}

func (c *counters) snapshot() Stats {
	return Stats{
		ConstantFolds:        c.constantFolds.Load(),
		DeadCodeEliminations: c.deadCodeEliminations.Load(),
		CSEReplacements:      c.cseReplacements.Load(),
		StrengthReductions:   c.strengthReductions.Load(),
		PeepholeRewrites:     c.peepholeRewrites.Load(),
		Rounds:               c.rounds.Load(),
		Elapsed:              time.Duration(c.elapsed.Load()),
	}
}

var (
	timesliceCSE       = timeslice.RegisterKind("opt.cse", timeslice.SliceFlagPass)
	timesliceConstFold = timeslice.RegisterKind("opt.constfold", timeslice.SliceFlagPass)
	timesliceDCE       = timeslice.RegisterKind("opt.dce", timeslice.SliceFlagPass)
	timesliceStrength  = timeslice.RegisterKind("opt.strength", timeslice.SliceFlagPass)
	timeslicePeephole  = timeslice.RegisterKind("opt.peephole", timeslice.SliceFlagPass)
	timesliceOtherPass = timeslice.RegisterKind("opt.other", timeslice.SliceFlagPass)
)

func passKind(name string) timeslice.TimesliceID {
	switch name {
	case cseName:
		return timesliceCSE
	case constFoldName:
		return timesliceConstFold
	case dceName:
		return timesliceDCE
	case strengthName:
		return timesliceStrength
	case peepholeName:
		return timeslicePeephole
	default:
		return timesliceOtherPass
	}
}
