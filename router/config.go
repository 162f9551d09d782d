package router

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/workspace-agents/orchestrator/contextmgr"
	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/guardrail/ratelimit"
	"github.com/workspace-agents/orchestrator/loopguard"
)

const defaultFanoutTimeout = 30 * time.Second

// Duration parses human-readable durations ("30s", "1h") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Config holds initialization parameters for the router and its
// subsystems. Each subsystem section delegates to that subsystem's
// config type.
type Config struct {
	Context contextmgr.Config `yaml:"context"`

	// MaxDelegationDepth caps delegation hops per top-level request.
	MaxDelegationDepth int `yaml:"max_delegation_depth,omitempty"`

	// FanoutTimeout bounds each concurrent branch of a multi-domain
	// request.
	FanoutTimeout Duration `yaml:"fanout_timeout,omitempty"`

	// DefaultCapability handles requests when classification fails or
	// yields no registered candidate.
	DefaultCapability protocol.CapabilityID `yaml:"default_capability,omitempty"`

	// RateLimits configures the process-wide fixed-window counters.
	RateLimits map[string]ratelimit.Limit `yaml:"rate_limits,omitempty"`

	// Observer names a registered observability observer ("slog",
	// "noop", or one installed via observability.RegisterObserver).
	Observer string `yaml:"observer,omitempty"`
}

// DefaultConfig returns a Config with the stock thresholds and limits.
func DefaultConfig() Config {
	return Config{
		Context:            contextmgr.DefaultConfig(),
		MaxDelegationDepth: loopguard.DefaultMaxDepth,
		FanoutTimeout:      Duration(defaultFanoutTimeout),
		DefaultCapability:  protocol.General,
		RateLimits:         ratelimit.DefaultLimits(),
		Observer:           "slog",
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	c.Context.Merge(&source.Context)

	if source.MaxDelegationDepth > 0 {
		c.MaxDelegationDepth = source.MaxDelegationDepth
	}
	if source.FanoutTimeout > 0 {
		c.FanoutTimeout = source.FanoutTimeout
	}
	if source.DefaultCapability != "" {
		c.DefaultCapability = source.DefaultCapability
	}
	if len(source.RateLimits) > 0 {
		for category, limit := range source.RateLimits {
			c.RateLimits[category] = limit
		}
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// LoadConfig reads a YAML config file, merges it over the defaults, and
// returns the result.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}

func defaultLogger() *slog.Logger {
	return slog.Default()
}
