// Package adaptive picks how much optimization a block gets from how often
// it has executed, and re-translates hot blocks in the background.
package adaptive

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultWarmThreshold = 10
	DefaultHotThreshold  = 100
)

type Tier int

const (
	// Cold blocks are translated without optimization.
	Cold Tier = iota
	// Warm blocks run CSE, constant folding, dead code elimination and
	// strength reduction.
	Warm
	// Hot blocks run the full pipeline and coalescing register allocation.
	Hot
)

var tierNames = [...]string{Cold: "cold", Warm: "warm", Hot: "hot"}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier accepts the names printed by Tier.String.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if strings.EqualFold(s, name) {
			return Tier(i), nil
		}
	}
	return Cold, fmt.Errorf("adaptive: unknown tier %q", s)
}

type Config struct {
	// WarmThreshold is the execution count at which a block becomes Warm.
	WarmThreshold uint64
	// HotThreshold is the execution count at which a block becomes Hot.
	HotThreshold uint64
}

func DefaultConfig() Config {
	return Config{WarmThreshold: DefaultWarmThreshold, HotThreshold: DefaultHotThreshold}
}

func (c *Config) normalize() {
	if c.WarmThreshold == 0 {
		c.WarmThreshold = DefaultWarmThreshold
	}
	if c.HotThreshold == 0 {
		c.HotThreshold = DefaultHotThreshold
	}
	if c.HotThreshold < c.WarmThreshold {
		c.HotThreshold = c.WarmThreshold
	}
}

// TierFor maps an execution count to a tier.
func (c Config) TierFor(count uint64) Tier {
	switch {
	case count < c.WarmThreshold:
		return Cold
	case count < c.HotThreshold:
		return Warm
	default:
		return Hot
	}
}

// Stats are the selector's counters. OptimizeTime is kept at nanosecond
// resolution.
type Stats struct {
	Executions   int64
	Promotions   int64
	Blocks       int
	OptimizeTime time.Duration
}

// OptimizeMillis reports OptimizeTime in whole milliseconds; it is zero for
// sub-millisecond totals.
func (s Stats) OptimizeMillis() int64 { return s.OptimizeTime.Milliseconds() }

// Selector counts executions per block key. It is safe for concurrent use.
type Selector[K comparable] struct {
	cfg Config

	mu     sync.Mutex
	counts map[K]uint64

	executions atomic.Int64
	promotions atomic.Int64
	optimize   atomic.Int64
}

func NewSelector[K comparable](cfg Config) *Selector[K] {
	cfg.normalize()
	return &Selector[K]{cfg: cfg, counts: make(map[K]uint64)}
}

// Record counts one execution of key and returns the tier the block now
// belongs to. promoted is true exactly when this execution crossed a
// threshold.
func (s *Selector[K]) Record(key K) (tier Tier, promoted bool) {
	s.mu.Lock()
	n := s.counts[key] + 1
	s.counts[key] = n
	s.mu.Unlock()

	s.executions.Add(1)
	tier = s.cfg.TierFor(n)
	if tier != s.cfg.TierFor(n-1) {
		s.promotions.Add(1)
		return tier, true
	}
	return tier, false
}

// Tier is the current tier of key without counting an execution.
func (s *Selector[K]) Tier(key K) Tier {
	return s.cfg.TierFor(s.Count(key))
}

func (s *Selector[K]) Count(key K) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// Forget drops the counter of key, typically after its translation has
// been evicted.
func (s *Selector[K]) Forget(key K) {
	s.mu.Lock()
	delete(s.counts, key)
	s.mu.Unlock()
}

// AddOptimizeTime accumulates time spent optimizing.
func (s *Selector[K]) AddOptimizeTime(d time.Duration) {
	s.optimize.Add(int64(d))
}

func (s *Selector[K]) Stats() Stats {
	s.mu.Lock()
	blocks := len(s.counts)
	s.mu.Unlock()
	return Stats{
		Executions:   s.executions.Load(),
		Promotions:   s.promotions.Load(),
		Blocks:       blocks,
		OptimizeTime: time.Duration(s.optimize.Load()),
	}
}
