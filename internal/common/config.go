// -----------------------------------------------------------------------
// Configuration loading: defaults -> file1 -> file2 -> ... -> env
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/jobsengine/internal/jobsengine"
)

// Config is the demo binary's top-level, file-loadable configuration. It is
// a plain serialization DTO: the engine's actual TypeConfig/ProcessingFunc
// callback slots are wired in code (cmd/jobsengine-demo), never from a
// config file, since a function value has no TOML/YAML representation.
type Config struct {
	Environment string       `toml:"environment" yaml:"environment"`
	Logging     LoggingConfig `toml:"logging" yaml:"logging"`
	Engine      EngineConfig  `toml:"engine" yaml:"engine" validate:"required"`
	Groups      map[string]GroupConfig `toml:"groups" yaml:"groups" validate:"required,dive"`
	// Types is usually empty in the file: the demo binary registers its
	// job types (and their callbacks) in code after loading config, so an
	// empty table here is the common case, not a misconfiguration.
	Types map[string]TypeConfig `toml:"types" yaml:"types" validate:"dive"`
	Cron  []CronFeedConfig      `toml:"cron" yaml:"cron" validate:"dive"`
}

// LoggingConfig mirrors the teacher's logging section, trimmed of the
// WebSocket-event fields this engine has no UI surface to drive.
type LoggingConfig struct {
	Level      string   `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format     string   `toml:"format" yaml:"format" validate:"oneof=text json"`
	Output     []string `toml:"output" yaml:"output" validate:"dive,oneof=stdout file console"`
	TimeFormat string   `toml:"time_format" yaml:"time_format"`
}

// EngineConfig is the file-loadable mirror of jobsengine.EngineConfig:
// thread count plus a priority-ratio table keyed by the lowercase priority
// name (jobsengine.Priority.String()).
type EngineConfig struct {
	ThreadsCount   int            `toml:"threads_count" yaml:"threads_count" validate:"gte=1"`
	PriorityRatios map[string]int `toml:"priority_ratios" yaml:"priority_ratios"`
}

// GroupConfig is the file-loadable mirror of jobsengine.GroupConfig.
type GroupConfig struct {
	ThreadsCount     int           `toml:"threads_count" yaml:"threads_count" validate:"gte=1"`
	BulkCount        int           `toml:"bulk_count" yaml:"bulk_count" validate:"gte=1"`
	DelayNextRequest time.Duration `toml:"delay_next_request" yaml:"delay_next_request"`
	RateLimitPerSec  float64       `toml:"rate_limit_per_sec" yaml:"rate_limit_per_sec" validate:"gte=0"`
	RateLimitBurst   int           `toml:"rate_limit_burst" yaml:"rate_limit_burst" validate:"gte=0"`
}

// TypeConfig is the file-loadable mirror of jobsengine.TypeConfig's
// declarative fields — group routing and timeout. Callback behavior is
// registered in code by job type name after the config loads.
type TypeConfig struct {
	Group   string        `toml:"group" yaml:"group" validate:"required"`
	Timeout time.Duration `toml:"timeout" yaml:"timeout"`
}

// CronFeedConfig configures one internal/cronfeed bridge: submit a job of
// Type (routed to that type's group) on the given cron schedule string.
type CronFeedConfig struct {
	Name     string `toml:"name" yaml:"name" validate:"required"`
	Schedule string `toml:"schedule" yaml:"schedule" validate:"required"`
	Type     string `toml:"type" yaml:"type" validate:"required"`
	Priority string `toml:"priority" yaml:"priority"`
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
}

// NewDefaultConfig returns a Config with one default group ("default") and
// no registered types — callers add types before loading a job-specific
// overlay file.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Engine: EngineConfig{
			ThreadsCount: 4,
			PriorityRatios: map[string]int{
				"critical":  3,
				"very_high": 3,
				"high":      3,
				"normal":    3,
				"low":       3,
				"very_low":  0,
			},
		},
		Groups: map[string]GroupConfig{
			"default": {ThreadsCount: 4, BulkCount: 8},
		},
		Types: make(map[string]TypeConfig),
		Cron:  nil,
	}
}

// LoadFromFiles loads configuration starting from defaults, then merges
// each file in order (later files override earlier ones); the format is
// chosen per file by extension (.toml or .yaml/.yml). Environment variable
// overrides are applied last, highest priority short of explicit CLI flags.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse yaml config %s (file %d of %d): %w", path, i+1, len(paths), err)
			}
		default:
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse toml config %s (file %d of %d): %w", path, i+1, len(paths), err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyEnvOverrides applies JOBSENGINE_-prefixed environment variable
// overrides, the same convention as the teacher's QUAERO_-prefixed set.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("JOBSENGINE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("JOBSENGINE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("JOBSENGINE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("JOBSENGINE_LOG_OUTPUT"); output != "" {
		outputs := make([]string, 0)
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if threads := os.Getenv("JOBSENGINE_THREADS_COUNT"); threads != "" {
		if n, err := strconv.Atoi(threads); err == nil {
			config.Engine.ThreadsCount = n
		}
	}
}

// Validate checks struct tags via go-playground/validator, the same
// library and validate:"..." tag idiom the teacher uses for its own
// schema structs (internal/workers/processing's SignalAnalysisSchema).
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// IsProduction reports whether the loaded environment is "production".
func (c *Config) IsProduction() bool { return c.Environment == "production" }

// ToPriorityRatios converts the file-loaded, string-keyed ratio table into
// the jobsengine.Priority-keyed map the engine actually consumes.
func (c *Config) ToPriorityRatios() map[jobsengine.Priority]int {
	named := map[string]jobsengine.Priority{
		"critical":  jobsengine.Critical,
		"very_high": jobsengine.VeryHigh,
		"high":      jobsengine.High,
		"normal":    jobsengine.Normal,
		"low":       jobsengine.Low,
		"very_low":  jobsengine.VeryLow,
	}
	out := make(map[jobsengine.Priority]int, len(c.Engine.PriorityRatios))
	for name, ratio := range c.Engine.PriorityRatios {
		if p, ok := named[name]; ok {
			out[p] = ratio
		}
	}
	if len(out) == 0 {
		return jobsengine.DefaultPriorityRatios()
	}
	return out
}

// ParsePriority resolves a lowercase priority name to jobsengine.Priority,
// defaulting to Normal for an unrecognized or empty name.
func ParsePriority(name string) jobsengine.Priority {
	switch strings.ToLower(name) {
	case "critical":
		return jobsengine.Critical
	case "very_high":
		return jobsengine.VeryHigh
	case "high":
		return jobsengine.High
	case "low":
		return jobsengine.Low
	case "very_low":
		return jobsengine.VeryLow
	default:
		return jobsengine.Normal
	}
}
