package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"prodplan/internal/model"
)

// Config is the process-level planner configuration. Values load from an
// optional YAML file (PLANNER_CONFIG) and may be overridden by environment
// variables. Per-request fields in PlanRequest override both.
type Config struct {
	Addr            string        `yaml:"addr"`
	Weights         model.Weights `yaml:"weights"`
	TimeLimitSec    float64       `yaml:"timeLimitSec"`
	Workers         int           `yaml:"workers"`
	ExhaustiveLimit int           `yaml:"exhaustiveLimit"`
	MaxIterations   int           `yaml:"maxIterations"`
	HorizonMin      int           `yaml:"horizonMin"`
	MirrorPolicy    string        `yaml:"mirrorPolicy"`
	RateLimitRPS    float64       `yaml:"rateLimitRps"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
}

func Default() Config {
	return Config{
		Addr:            ":8080",
		Weights:         model.DefaultWeights(),
		TimeLimitSec:    30,
		Workers:         4,
		ExhaustiveLimit: 9,
		MaxIterations:   20000,
		MirrorPolicy:    "default",
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// Load builds the effective config: defaults, then the YAML file named by
// PLANNER_CONFIG (if set), then environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("PLANNER_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ADDR"); v != "" {
		c.Addr = v
	}
	envFloat("PLANNER_TIME_LIMIT_SEC", &c.TimeLimitSec)
	envInt("PLANNER_WORKERS", &c.Workers)
	envInt("PLANNER_EXHAUSTIVE_LIMIT", &c.ExhaustiveLimit)
	envInt("PLANNER_MAX_ITERATIONS", &c.MaxIterations)
	envInt("PLANNER_HORIZON_MIN", &c.HorizonMin)
	if v := os.Getenv("PLANNER_MIRROR_POLICY"); v != "" {
		c.MirrorPolicy = v
	}
	envFloat("RATE_LIMIT_RPS", &c.RateLimitRPS)
	envInt("RATE_LIMIT_BURST", &c.RateLimitBurst)
}

func (c *Config) validate() error {
	if c.TimeLimitSec <= 0 {
		return fmt.Errorf("timeLimitSec must be positive, got %v", c.TimeLimitSec)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.MirrorPolicy {
	case "", "default", "forward":
	default:
		return fmt.Errorf("unknown mirrorPolicy %q", c.MirrorPolicy)
	}
	w := c.Weights
	if w.Lateness < 0 || w.Changeover < 0 || w.Makespan < 0 || w.Balance < 0 || w.Compactness < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	return nil
}

// Overlay applies a tenant's stored config document on top of c and
// returns the result. Unknown keys are ignored.
func (c Config) Overlay(doc map[string]any) Config {
	out := c
	if doc == nil {
		return out
	}
	if v, ok := numField(doc, "timeLimitSec"); ok && v > 0 {
		out.TimeLimitSec = v
	}
	if v, ok := numField(doc, "workers"); ok && v >= 1 {
		out.Workers = int(v)
	}
	if v, ok := numField(doc, "exhaustiveLimit"); ok && v >= 0 {
		out.ExhaustiveLimit = int(v)
	}
	if v, ok := numField(doc, "maxIterations"); ok && v > 0 {
		out.MaxIterations = int(v)
	}
	if v, ok := numField(doc, "horizonMin"); ok && v > 0 {
		out.HorizonMin = int(v)
	}
	if v, ok := doc["mirrorPolicy"].(string); ok && (v == "default" || v == "forward") {
		out.MirrorPolicy = v
	}
	if wm, ok := doc["weights"].(map[string]any); ok {
		if v, ok := numField(wm, "lateness"); ok && v >= 0 {
			out.Weights.Lateness = v
		}
		if v, ok := numField(wm, "changeover"); ok && v >= 0 {
			out.Weights.Changeover = v
		}
		if v, ok := numField(wm, "makespan"); ok && v >= 0 {
			out.Weights.Makespan = v
		}
		if v, ok := numField(wm, "balance"); ok && v >= 0 {
			out.Weights.Balance = v
		}
		if v, ok := numField(wm, "compactness"); ok && v >= 0 {
			out.Weights.Compactness = v
		}
	}
	return out
}

// Doc renders the tunable subset as a JSON-friendly document, the shape
// stored per tenant and served by the config endpoints.
func (c Config) Doc() map[string]any {
	return map[string]any{
		"timeLimitSec":    c.TimeLimitSec,
		"workers":         c.Workers,
		"exhaustiveLimit": c.ExhaustiveLimit,
		"maxIterations":   c.MaxIterations,
		"horizonMin":      c.HorizonMin,
		"mirrorPolicy":    c.MirrorPolicy,
		"weights": map[string]any{
			"lateness":    c.Weights.Lateness,
			"changeover":  c.Weights.Changeover,
			"makespan":    c.Weights.Makespan,
			"balance":     c.Weights.Balance,
			"compactness": c.Weights.Compactness,
		},
	}
}

func numField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
