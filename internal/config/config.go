// Package config loads the translator configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/xlate/internal/adaptive"
	"github.com/tinyrange/xlate/internal/arch"
)

const (
	Filename       = "xlate.yaml"
	CurrentVersion = "v1"

	DefaultCacheSize        = 4096
	DefaultLiveOutThreshold = 3
	DefaultMaxRounds        = 16
	DefaultSpill            = "retry"
	DefaultTier             = "auto"
)

type Config struct {
	Version string `yaml:"version"`
	Source  string `yaml:"source,omitempty"`
	Target  string `yaml:"target,omitempty"`

	Cache     CacheConfig     `yaml:"cache"`
	Adaptive  AdaptiveConfig  `yaml:"adaptive"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Allocator AllocatorConfig `yaml:"allocator"`
}

type CacheConfig struct {
	MaxSize int `yaml:"maxSize"`
}

type AdaptiveConfig struct {
	WarmThreshold uint64 `yaml:"warmThreshold"`
	HotThreshold  uint64 `yaml:"hotThreshold"`
	// Tier pins every block to one tier; "auto" lets execution counts decide.
	Tier string `yaml:"tier,omitempty"`
}

type OptimizerConfig struct {
	// LiveOutThreshold is a pointer so an explicit 0 (only r0 live-out) is
	// distinguishable from an unset field.
	LiveOutThreshold *uint32 `yaml:"liveOutThreshold,omitempty"`
	MaxRounds        int     `yaml:"maxRounds"`
}

type AllocatorConfig struct {
	// Spill is one of retry, always or never.
	Spill string `yaml:"spill"`
}

// Default returns a configuration with every field at its default.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if !strings.HasPrefix(c.Version, "v") {
		c.Version = "v" + c.Version
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = DefaultCacheSize
	}
	if c.Adaptive.WarmThreshold == 0 {
		c.Adaptive.WarmThreshold = adaptive.DefaultWarmThreshold
	}
	if c.Adaptive.HotThreshold == 0 {
		c.Adaptive.HotThreshold = adaptive.DefaultHotThreshold
	}
	if c.Adaptive.Tier == "" {
		c.Adaptive.Tier = DefaultTier
	}
	if c.Optimizer.LiveOutThreshold == nil {
		v := uint32(DefaultLiveOutThreshold)
		c.Optimizer.LiveOutThreshold = &v
	}
	if c.Optimizer.MaxRounds <= 0 {
		c.Optimizer.MaxRounds = DefaultMaxRounds
	}
	if c.Allocator.Spill == "" {
		c.Allocator.Spill = DefaultSpill
	}
}

// Validate checks the fields that normalize cannot repair.
func (c Config) Validate() error {
	if !semver.IsValid(c.Version) {
		return fmt.Errorf("config: invalid version %q", c.Version)
	}
	if major := semver.Major(c.Version); major != semver.Major(CurrentVersion) {
		return fmt.Errorf("config: unsupported version %s (want %s)", c.Version, CurrentVersion)
	}
	for _, name := range []string{c.Source, c.Target} {
		if name == "" {
			continue
		}
		if _, err := arch.Parse(name); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Adaptive.HotThreshold < c.Adaptive.WarmThreshold {
		return fmt.Errorf("config: hotThreshold %d is below warmThreshold %d",
			c.Adaptive.HotThreshold, c.Adaptive.WarmThreshold)
	}
	if c.Adaptive.Tier != DefaultTier {
		if _, err := adaptive.ParseTier(c.Adaptive.Tier); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	switch c.Allocator.Spill {
	case "retry", "always", "never":
	default:
		return fmt.Errorf("config: unknown spill policy %q", c.Allocator.Spill)
	}
	return nil
}

// LiveOutThreshold returns the configured threshold after normalization.
func (c Config) LiveOutThreshold() uint32 {
	if c.Optimizer.LiveOutThreshold == nil {
		return DefaultLiveOutThreshold
	}
	return *c.Optimizer.LiveOutThreshold
}

// Parse decodes, normalizes and validates a YAML document.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Write stores c as YAML at path with defaults filled in.
func Write(path string, c Config) error {
	c.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: close %s: %w", path, err)
	}
	return nil
}
