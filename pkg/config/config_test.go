package config

import (
	"os"
	"testing"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pipeline.TemporalMaxIntervalDays != 182.5 {
		t.Errorf("TemporalMaxIntervalDays = %v, want 182.5", cfg.Pipeline.TemporalMaxIntervalDays)
	}
	if cfg.Pipeline.TemporalMinSamples != 10 {
		t.Errorf("TemporalMinSamples = %d, want 10", cfg.Pipeline.TemporalMinSamples)
	}
	if cfg.Pipeline.MaxSnippets != 5 {
		t.Errorf("MaxSnippets = %d, want 5", cfg.Pipeline.MaxSnippets)
	}
	if cfg.LLM.MaxRetries != 3 || cfg.LLM.InitialBackoffSec != 2 {
		t.Errorf("retry defaults = %d/%v, want 3/2", cfg.LLM.MaxRetries, cfg.LLM.InitialBackoffSec)
	}
	if len(cfg.Pipeline.EntityTypes) == 0 {
		t.Error("EntityTypes should have defaults")
	}
}

func TestLoadAPIKeyFromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.LLM.APIKey)
	}
}

func TestLoadPrefixedEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("RISK_ENGINE_PIPELINE_WORKERS", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.Workers != 9 {
		t.Errorf("Workers = %d, want 9", cfg.Pipeline.Workers)
	}
}
