package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRunConfigFile_YAMLAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	writeFile(t, path, `
version: 1
field: "Generative AI & AI Agents"
retry:
  max_attempts: 2
budget:
  max_cost_per_run_usd: 1.5
stages:
  faults:
    - stage: draft
      calls: [1, 2]
      status_code: 503
`)
	cfg, err := LoadRunConfigFile(path)
	if err != nil {
		t.Fatalf("LoadRunConfigFile: %v", err)
	}
	if cfg.Retry.MaxAttempts != 2 || cfg.Budget.MaxCostPerRunUSD != 1.5 {
		t.Fatalf("explicit values lost: %+v", cfg)
	}
	if cfg.CircuitBreaker.Threshold != 3 || cfg.Convergence.CharCeiling != 3000 || cfg.Budget.MaxCallsPerRun != 25 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.signoffMargin() != 50 || cfg.maxIterations() != 5 || cfg.maxPivots() != 2 {
		t.Fatalf("convergence defaults: margin=%d iter=%d pivots=%d", cfg.signoffMargin(), cfg.maxIterations(), cfg.maxPivots())
	}
	if cfg.limits().WarnCostUSD != 0.50 {
		t.Fatalf("warn threshold: %v", cfg.limits().WarnCostUSD)
	}
	if got := cfg.Stages.Faults[0].Kind; got != "model" {
		t.Fatalf("fault kind default: %q", got)
	}
}

func TestLoadRunConfigFile_RejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "run.yaml")
	writeFile(t, yml, "version: 1\nretries: 3\n")
	if _, err := LoadRunConfigFile(yml); err == nil {
		t.Fatalf("expected unknown yaml key to be rejected")
	}
	js := filepath.Join(dir, "run.json")
	writeFile(t, js, `{"version": 1, "retries": 3}`)
	if _, err := LoadRunConfigFile(js); err == nil {
		t.Fatalf("expected unknown json key to be rejected")
	}
}

func TestValidateConfig_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *RunConfigFile)
		want   string
	}{
		{"field", func(c *RunConfigFile) { c.Field = "Cooking" }, "invalid field"},
		{"attempts", func(c *RunConfigFile) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"margin", func(c *RunConfigFile) { c.Convergence.SignoffMargin = intPtr(3000) }, "signoff_margin"},
		{"budget", func(c *RunConfigFile) { c.Budget.MaxCostPerRunUSD = 0 }, "max_cost_per_run_usd"},
		{"fault stage", func(c *RunConfigFile) {
			c.Stages.Faults = []FaultConfig{{Stage: "publish", Kind: "model", Calls: []int{1}}}
		}, "unknown stage"},
		{"fault kind", func(c *RunConfigFile) {
			c.Stages.Faults = []FaultConfig{{Stage: StageDraft, Kind: "meteor", Calls: []int{1}}}
		}, "kind"},
	}
	for _, tc := range cases {
		cfg := DefaultRunConfig()
		tc.mutate(cfg)
		err := ValidateConfig(cfg)
		if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestSaveRunConfigFile_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.yaml")
	cfg := DefaultRunConfig()
	cfg.Field = AllowedFields[1]
	cfg.Pivot.MaxPivots = intPtr(0)
	if err := SaveRunConfigFile(path, cfg); err != nil {
		t.Fatalf("SaveRunConfigFile: %v", err)
	}
	got, err := LoadRunConfigFile(path)
	if err != nil {
		t.Fatalf("LoadRunConfigFile: %v", err)
	}
	if got.Field != AllowedFields[1] || got.maxPivots() != 0 {
		t.Fatalf("round trip: %+v", got)
	}
}
