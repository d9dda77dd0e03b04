package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
)

// AllowedFields are the content fields a run may target.
var AllowedFields = []string{
	"Data Science (Optimizations & Time-Series Analysis)",
	"Generative AI & AI Agents",
}

type BackoffFileConfig struct {
	InitialDelayMS *int    `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
	BackoffFactor  float64 `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
	MaxDelayMS     *int    `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// FaultConfig injects a provider failure into a simulated stage call.
type FaultConfig struct {
	Stage      string `json:"stage" yaml:"stage"`
	Calls      []int  `json:"calls" yaml:"calls"`
	Kind       string `json:"kind,omitempty" yaml:"kind,omitempty"`
	StatusCode int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Code       string `json:"code,omitempty" yaml:"code,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	RetryAfter string `json:"retry_after,omitempty" yaml:"retry_after,omitempty"`
}

type RunConfigFile struct {
	Version  int    `json:"version" yaml:"version"`
	Field    string `json:"field" yaml:"field"`
	RunsRoot string `json:"runs_root,omitempty" yaml:"runs_root,omitempty"`

	Retry struct {
		MaxAttempts int               `json:"max_attempts" yaml:"max_attempts"`
		Backoff     BackoffFileConfig `json:"backoff" yaml:"backoff"`
	} `json:"retry" yaml:"retry"`

	CircuitBreaker struct {
		Threshold int `json:"threshold" yaml:"threshold"`
	} `json:"circuit_breaker" yaml:"circuit_breaker"`

	Convergence struct {
		CharCeiling   int  `json:"char_ceiling" yaml:"char_ceiling"`
		SignoffMargin *int `json:"signoff_margin,omitempty" yaml:"signoff_margin,omitempty"`
		MaxIterations *int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	} `json:"convergence" yaml:"convergence"`

	Pivot struct {
		MaxPivots *int `json:"max_pivots,omitempty" yaml:"max_pivots,omitempty"`
	} `json:"pivot" yaml:"pivot"`

	Budget struct {
		MaxCallsPerRun   int      `json:"max_calls_per_run" yaml:"max_calls_per_run"`
		MaxCostPerRunUSD float64  `json:"max_cost_per_run_usd" yaml:"max_cost_per_run_usd"`
		WarnCostUSD      *float64 `json:"warn_cost_usd,omitempty" yaml:"warn_cost_usd,omitempty"`
	} `json:"budget" yaml:"budget"`

	Pricing cost.Pricing `json:"pricing" yaml:"pricing"`

	Stages struct {
		Catalog           string        `json:"catalog,omitempty" yaml:"catalog,omitempty"`
		RecentTopicWindow int           `json:"recent_topic_window,omitempty" yaml:"recent_topic_window,omitempty"`
		Faults            []FaultConfig `json:"faults,omitempty" yaml:"faults,omitempty"`
	} `json:"stages" yaml:"stages"`
}

// DefaultRunConfig returns a validated-shape config with every default applied.
func DefaultRunConfig() *RunConfigFile {
	cfg := &RunConfigFile{}
	applyConfigDefaults(cfg)
	return cfg
}

func LoadRunConfigFile(path string) (*RunConfigFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RunConfigFile
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, err
		}
	}
	applyConfigDefaults(&cfg)
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveRunConfigFile writes cfg as YAML (or JSON for a .json path).
func SaveRunConfigFile(path string, cfg *RunConfigFile) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	var (
		b   []byte
		err error
	)
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		b, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		b, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func decodeJSONStrict(b []byte, cfg *RunConfigFile) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *RunConfigFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyConfigDefaults(cfg *RunConfigFile) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	cfg.Field = strings.TrimSpace(cfg.Field)
	if cfg.Field == "" {
		cfg.Field = AllowedFields[0]
	}
	cfg.RunsRoot = strings.TrimSpace(cfg.RunsRoot)
	if cfg.RunsRoot == "" {
		cfg.RunsRoot = "runs"
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Backoff.InitialDelayMS == nil {
		v := 1000
		cfg.Retry.Backoff.InitialDelayMS = &v
	}
	if cfg.Retry.Backoff.BackoffFactor == 0 {
		cfg.Retry.Backoff.BackoffFactor = 2.0
	}
	if cfg.Retry.Backoff.MaxDelayMS == nil {
		v := 30_000
		cfg.Retry.Backoff.MaxDelayMS = &v
	}

	if cfg.CircuitBreaker.Threshold == 0 {
		cfg.CircuitBreaker.Threshold = 3
	}

	if cfg.Convergence.CharCeiling == 0 {
		cfg.Convergence.CharCeiling = 3000
	}
	if cfg.Convergence.SignoffMargin == nil {
		v := 50
		cfg.Convergence.SignoffMargin = &v
	}
	if cfg.Convergence.MaxIterations == nil {
		v := 5
		cfg.Convergence.MaxIterations = &v
	}

	if cfg.Pivot.MaxPivots == nil {
		v := 2
		cfg.Pivot.MaxPivots = &v
	}

	limits := cost.DefaultLimits()
	if cfg.Budget.MaxCallsPerRun == 0 {
		cfg.Budget.MaxCallsPerRun = limits.MaxCalls
	}
	if cfg.Budget.MaxCostPerRunUSD == 0 {
		cfg.Budget.MaxCostPerRunUSD = limits.MaxCostUSD
	}
	if cfg.Budget.WarnCostUSD == nil {
		v := limits.WarnCostUSD
		cfg.Budget.WarnCostUSD = &v
	}

	pricing := cost.DefaultPricing()
	if cfg.Pricing.InputPerMillionUSD == 0 {
		cfg.Pricing.InputPerMillionUSD = pricing.InputPerMillionUSD
	}
	if cfg.Pricing.OutputPerMillionUSD == 0 {
		cfg.Pricing.OutputPerMillionUSD = pricing.OutputPerMillionUSD
	}
	if cfg.Pricing.ImagePerCallUSD == 0 {
		cfg.Pricing.ImagePerCallUSD = pricing.ImagePerCallUSD
	}
	if cfg.Pricing.EstimatedOutputTokens == 0 {
		cfg.Pricing.EstimatedOutputTokens = pricing.EstimatedOutputTokens
	}
	if cfg.Pricing.CharsPerToken == 0 {
		cfg.Pricing.CharsPerToken = pricing.CharsPerToken
	}

	cfg.Stages.Catalog = strings.TrimSpace(cfg.Stages.Catalog)
	if cfg.Stages.RecentTopicWindow == 0 {
		cfg.Stages.RecentTopicWindow = 10
	}
	for i := range cfg.Stages.Faults {
		f := &cfg.Stages.Faults[i]
		f.Stage = strings.TrimSpace(f.Stage)
		f.Kind = strings.ToLower(strings.TrimSpace(f.Kind))
		if f.Kind == "" {
			f.Kind = "model"
		}
	}
}

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid run config")

func ValidateConfig(cfg *RunConfigFile) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func validateConfig(cfg *RunConfigFile) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if !IsAllowedField(cfg.Field) {
		return fmt.Errorf("invalid field %q (want one of: %s)", cfg.Field, strings.Join(AllowedFields, " | "))
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.Backoff.InitialDelayMS != nil && *cfg.Retry.Backoff.InitialDelayMS < 0 {
		return fmt.Errorf("retry.backoff.initial_delay_ms must be >= 0")
	}
	if cfg.Retry.Backoff.MaxDelayMS != nil && *cfg.Retry.Backoff.MaxDelayMS < 0 {
		return fmt.Errorf("retry.backoff.max_delay_ms must be >= 0")
	}
	if cfg.Retry.Backoff.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff.backoff_factor must be >= 1")
	}
	if cfg.CircuitBreaker.Threshold < 1 {
		return fmt.Errorf("circuit_breaker.threshold must be >= 1")
	}
	if cfg.Convergence.CharCeiling < 1 {
		return fmt.Errorf("convergence.char_ceiling must be >= 1")
	}
	if m := cfg.Convergence.SignoffMargin; m != nil && (*m < 0 || *m >= cfg.Convergence.CharCeiling) {
		return fmt.Errorf("convergence.signoff_margin must be >= 0 and < char_ceiling")
	}
	if n := cfg.Convergence.MaxIterations; n != nil && *n < 0 {
		return fmt.Errorf("convergence.max_iterations must be >= 0")
	}
	if n := cfg.Pivot.MaxPivots; n != nil && *n < 0 {
		return fmt.Errorf("pivot.max_pivots must be >= 0")
	}
	if cfg.Budget.MaxCallsPerRun < 1 {
		return fmt.Errorf("budget.max_calls_per_run must be >= 1")
	}
	if cfg.Budget.MaxCostPerRunUSD <= 0 {
		return fmt.Errorf("budget.max_cost_per_run_usd must be > 0")
	}
	if w := cfg.Budget.WarnCostUSD; w != nil && *w < 0 {
		return fmt.Errorf("budget.warn_cost_usd must be >= 0")
	}
	if cfg.Pricing.InputPerMillionUSD < 0 || cfg.Pricing.OutputPerMillionUSD < 0 || cfg.Pricing.ImagePerCallUSD < 0 {
		return fmt.Errorf("pricing values must be >= 0")
	}
	if cfg.Stages.RecentTopicWindow < 0 {
		return fmt.Errorf("stages.recent_topic_window must be >= 0")
	}
	for i, f := range cfg.Stages.Faults {
		if !isStageName(f.Stage) {
			return fmt.Errorf("stages.faults[%d].stage: unknown stage %q", i, f.Stage)
		}
		switch f.Kind {
		case "model", "timeout", "data_not_found", "validation", "panic":
		default:
			return fmt.Errorf("stages.faults[%d].kind: invalid %q (want model|timeout|data_not_found|validation|panic)", i, f.Kind)
		}
		if len(f.Calls) == 0 {
			return fmt.Errorf("stages.faults[%d].calls is required", i)
		}
		for _, c := range f.Calls {
			if c < 1 {
				return fmt.Errorf("stages.faults[%d].calls entries must be >= 1", i)
			}
		}
	}
	return nil
}

func IsAllowedField(field string) bool {
	field = strings.TrimSpace(field)
	for _, f := range AllowedFields {
		if f == field {
			return true
		}
	}
	return false
}

func (cfg *RunConfigFile) limits() cost.Limits {
	l := cost.Limits{
		MaxCalls:   cfg.Budget.MaxCallsPerRun,
		MaxCostUSD: cfg.Budget.MaxCostPerRunUSD,
	}
	if cfg.Budget.WarnCostUSD != nil {
		l.WarnCostUSD = *cfg.Budget.WarnCostUSD
	}
	return l
}

func (cfg *RunConfigFile) signoffMargin() int {
	if cfg.Convergence.SignoffMargin == nil {
		return 0
	}
	return *cfg.Convergence.SignoffMargin
}

func (cfg *RunConfigFile) maxIterations() int {
	if cfg.Convergence.MaxIterations == nil {
		return 0
	}
	return *cfg.Convergence.MaxIterations
}

func (cfg *RunConfigFile) maxPivots() int {
	if cfg.Pivot.MaxPivots == nil {
		return 0
	}
	return *cfg.Pivot.MaxPivots
}

func trimNonEmpty(parts []string) []string {
	if len(parts) == 0 {
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
