// Package config handles reading and writing the cct configuration file (~/.cct/config.toml).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Defaults applied when a key is unset.
const (
	DefaultPageTurns       = 5
	DefaultConcurrency     = 4
	DefaultAnalysisTimeout = 2 * time.Minute
	DefaultBackend         = "sqlite"
	DefaultWeigher         = "bytes"

	// Page weight budgets per weigher. Single turns above 4x the budget
	// are split.
	DefaultPageBudgetBytes  = 256 << 10
	DefaultPageBudgetTokens = 64_000
)

// Config holds cct configuration settings. Zero values mean "use the default".
type Config struct {
	ProjectsDir     string  `toml:"projects_dir,omitempty" json:"projects_dir,omitempty"`
	OutputDir       string  `toml:"output_dir,omitempty" json:"output_dir,omitempty"`
	BankPath        string  `toml:"bank_path,omitempty" json:"bank_path,omitempty"`
	BankBackend     string  `toml:"bank_backend,omitempty" json:"bank_backend,omitempty"`
	PageTurns       int     `toml:"page_turns,omitempty" json:"page_turns,omitempty"`
	PageBudget      int     `toml:"page_budget,omitempty" json:"page_budget,omitempty"`
	PageCeiling     int     `toml:"page_ceiling,omitempty" json:"page_ceiling,omitempty"`
	Weigher         string  `toml:"weigher,omitempty" json:"weigher,omitempty"`
	Concurrency     int     `toml:"concurrency,omitempty" json:"concurrency,omitempty"`
	RateLimit       float64 `toml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	AnalysisTimeout string  `toml:"analysis_timeout,omitempty" json:"analysis_timeout,omitempty"`
	Model           string  `toml:"model,omitempty" json:"model,omitempty"`
	Similarity      float64 `toml:"similarity,omitempty" json:"similarity,omitempty"`
	DefaultFormat   string  `toml:"default_format,omitempty" json:"default_format,omitempty"`
	APIBaseURL      string  `toml:"api_base_url,omitempty" json:"api_base_url,omitempty"`
}

// accessor reads and validates one configuration key as a string.
type accessor struct {
	get func(*Config) string
	set func(*Config, string) error
}

// keys maps each configuration key to its accessor.
var keys = map[string]accessor{
	"projects_dir": {
		func(c *Config) string { return c.ProjectsDir },
		func(c *Config, v string) error { c.ProjectsDir = v; return nil },
	},
	"output_dir": {
		func(c *Config) string { return c.OutputDir },
		func(c *Config, v string) error { c.OutputDir = v; return nil },
	},
	"bank_path": {
		func(c *Config) string { return c.BankPath },
		func(c *Config, v string) error { c.BankPath = v; return nil },
	},
	"bank_backend": {
		func(c *Config) string { return c.BankBackend },
		func(c *Config, v string) error {
			if v != "" && v != "sqlite" && v != "json" {
				return fmt.Errorf("bank_backend must be \"sqlite\" or \"json\", got %q", v)
			}
			c.BankBackend = v
			return nil
		},
	},
	"page_turns":   intKey(func(c *Config) *int { return &c.PageTurns }),
	"page_budget":  intKey(func(c *Config) *int { return &c.PageBudget }),
	"page_ceiling": intKey(func(c *Config) *int { return &c.PageCeiling }),
	"weigher": {
		func(c *Config) string { return c.Weigher },
		func(c *Config, v string) error {
			if v != "" && v != "bytes" && v != "tokens" {
				return fmt.Errorf("weigher must be \"bytes\" or \"tokens\", got %q", v)
			}
			c.Weigher = v
			return nil
		},
	},
	"concurrency": intKey(func(c *Config) *int { return &c.Concurrency }),
	"rate_limit":  floatKey(func(c *Config) *float64 { return &c.RateLimit }, 0, 0),
	"analysis_timeout": {
		func(c *Config) string { return c.AnalysisTimeout },
		func(c *Config, v string) error {
			if v != "" {
				if d, err := time.ParseDuration(v); err != nil || d <= 0 {
					return fmt.Errorf("analysis_timeout must be a positive duration like \"90s\", got %q", v)
				}
			}
			c.AnalysisTimeout = v
			return nil
		},
	},
	"model": {
		func(c *Config) string { return c.Model },
		func(c *Config, v string) error { c.Model = v; return nil },
	},
	"similarity": floatKey(func(c *Config) *float64 { return &c.Similarity }, 0, 1),
	"default_format": {
		func(c *Config) string { return c.DefaultFormat },
		func(c *Config, v string) error {
			if v != "" && v != "table" && v != "json" {
				return fmt.Errorf("default_format must be \"table\" or \"json\", got %q", v)
			}
			c.DefaultFormat = v
			return nil
		},
	},
	"api_base_url": {
		func(c *Config) string { return c.APIBaseURL },
		func(c *Config, v string) error { c.APIBaseURL = v; return nil },
	},
}

func intKey(field func(*Config) *int) accessor {
	return accessor{
		func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("value must be a non-negative integer, got %q", v)
			}
			*field(c) = n
			return nil
		},
	}
}

// floatKey builds the accessor for a float key. hi of 0 means unbounded.
func floatKey(field func(*Config) *float64, lo, hi float64) accessor {
	return accessor{
		func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'g', -1, 64)
		},
		func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < lo || (hi > 0 && f > hi) {
				if hi > 0 {
					return fmt.Errorf("value must be a number between %g and %g, got %q", lo, hi, v)
				}
				return fmt.Errorf("value must be a non-negative number, got %q", v)
			}
			*field(c) = f
			return nil
		},
	}
}

// ValidKeys returns the sorted list of valid configuration keys.
func ValidKeys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dir returns the cct data directory (~/.cct).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cct")
	}
	return filepath.Join(home, ".cct")
}

// Path returns the default config file path (~/.cct/config.toml).
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the config from the default path.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config from a specific path. Returns an empty Config if
// the file does not exist. Supports both TOML and JSON formats (detected by
// file extension; defaults to TOML).
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// validate runs every setter over the loaded values.
func (c *Config) validate() error {
	probe := *c
	for _, k := range ValidKeys() {
		if err := keys[k].set(&probe, keys[k].get(c)); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

// Save writes the config to the default path.
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config to a specific path, creating parent directories as needed.
// Writes TOML format regardless of file extension.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Get returns the string value of a configuration key.
func (c *Config) Get(key string) (string, error) {
	k, ok := keys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	return k.get(c), nil
}

// Set assigns a value to a configuration key. An empty value unsets it.
func (c *Config) Set(key, value string) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if err := k.set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// ResolvedProjectsDir returns projects_dir or ~/.claude/projects.
func (c *Config) ResolvedProjectsDir() string {
	if c.ProjectsDir != "" {
		return c.ProjectsDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}

// ResolvedBackend returns bank_backend or the default.
func (c *Config) ResolvedBackend() string {
	if c.BankBackend != "" {
		return c.BankBackend
	}
	return DefaultBackend
}

// ResolvedBankPath returns bank_path or a backend-specific file under Dir.
func (c *Config) ResolvedBankPath() string {
	if c.BankPath != "" {
		return c.BankPath
	}
	if c.ResolvedBackend() == "json" {
		return filepath.Join(Dir(), "bank.json")
	}
	return filepath.Join(Dir(), "bank.db")
}

// ResolvedPageTurns returns page_turns or DefaultPageTurns.
func (c *Config) ResolvedPageTurns() int {
	if c.PageTurns > 0 {
		return c.PageTurns
	}
	return DefaultPageTurns
}

// ResolvedPageBudget returns page_budget, or the default budget for the
// named weigher.
func (c *Config) ResolvedPageBudget(weigher string) int {
	if c.PageBudget > 0 {
		return c.PageBudget
	}
	if weigher == "tokens" {
		return DefaultPageBudgetTokens
	}
	return DefaultPageBudgetBytes
}

// ResolvedWeigher returns weigher or DefaultWeigher.
func (c *Config) ResolvedWeigher() string {
	if c.Weigher != "" {
		return c.Weigher
	}
	return DefaultWeigher
}

// ResolvedConcurrency returns concurrency or DefaultConcurrency.
func (c *Config) ResolvedConcurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return DefaultConcurrency
}

// ResolvedTimeout returns analysis_timeout or DefaultAnalysisTimeout.
func (c *Config) ResolvedTimeout() time.Duration {
	if d, err := time.ParseDuration(c.AnalysisTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultAnalysisTimeout
}
