package translate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tinyrange/xlate/internal/adaptive"
	"github.com/tinyrange/xlate/internal/align"
	"github.com/tinyrange/xlate/internal/arch"
	"github.com/tinyrange/xlate/internal/asm"
	"github.com/tinyrange/xlate/internal/config"
	"github.com/tinyrange/xlate/internal/ir"
	"github.com/tinyrange/xlate/internal/opt"
)

// SpillPolicy controls what happens when a block needs more registers than
// the target offers.
type SpillPolicy int

const (
	// SpillRetry allocates without spilling first and retries with spill
	// slots after an AllocationError.
	SpillRetry SpillPolicy = iota
	SpillAlways
	SpillNever
)

var spillNames = [...]string{SpillRetry: "retry", SpillAlways: "always", SpillNever: "never"}

func (p SpillPolicy) String() string {
	if p < 0 || int(p) >= len(spillNames) {
		return fmt.Sprintf("SpillPolicy(%d)", int(p))
	}
	return spillNames[p]
}

func ParseSpillPolicy(s string) (SpillPolicy, error) {
	for i, name := range spillNames {
		if strings.EqualFold(s, name) {
			return SpillPolicy(i), nil
		}
	}
	return SpillRetry, fmt.Errorf("translate: unknown spill policy %q", s)
}

// TraceFunc receives the duration of each translation stage with
// attributes describing the block.
type TraceFunc func(operation string, d time.Duration, attrs []attribute.KeyValue)

type Options struct {
	Source arch.Architecture
	Target arch.Architecture

	Optimizer opt.Config
	Adaptive  adaptive.Config
	CacheSize int
	Spill     SpillPolicy

	// FixedTier pins every block to Tier instead of consulting execution
	// counts. No background upgrades happen in this mode.
	FixedTier bool
	Tier      adaptive.Tier

	// Encoder overrides the encoder registered for Target.
	Encoder asm.Encoder
	Hinter  align.Hinter
	Logger  *slog.Logger
	Trace   TraceFunc
}

// DefaultOptions translates between the two architectures with every
// component at its default.
func DefaultOptions(source, target arch.Architecture) Options {
	return Options{
		Source:    source,
		Target:    target,
		Optimizer: opt.DefaultConfig(),
		Adaptive:  adaptive.DefaultConfig(),
	}
}

// OptionsFromConfig converts a loaded configuration. Architectures missing
// from the file stay Invalid for the caller to fill in.
func OptionsFromConfig(c config.Config) (Options, error) {
	o := Options{
		Source:    arch.Invalid,
		Target:    arch.Invalid,
		CacheSize: c.Cache.MaxSize,
		Optimizer: opt.Config{
			LiveOutThreshold: ir.Reg(c.LiveOutThreshold()),
			MaxRounds:        c.Optimizer.MaxRounds,
		},
		Adaptive: adaptive.Config{
			WarmThreshold: c.Adaptive.WarmThreshold,
			HotThreshold:  c.Adaptive.HotThreshold,
		},
	}

	var err error
	if c.Source != "" {
		if o.Source, err = arch.Parse(c.Source); err != nil {
			return Options{}, err
		}
	}
	if c.Target != "" {
		if o.Target, err = arch.Parse(c.Target); err != nil {
			return Options{}, err
		}
	}
	if o.Spill, err = ParseSpillPolicy(c.Allocator.Spill); err != nil {
		return Options{}, err
	}
	if c.Adaptive.Tier != "" && c.Adaptive.Tier != config.DefaultTier {
		if o.Tier, err = adaptive.ParseTier(c.Adaptive.Tier); err != nil {
			return Options{}, err
		}
		o.FixedTier = true
	}
	return o, nil
}
