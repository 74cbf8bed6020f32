package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != "ollama" {
		t.Errorf("expected default provider 'ollama', got %q", cfg.Provider)
	}
	if cfg.DedupDistance != 0.08 {
		t.Errorf("expected default dedup distance 0.08, got %g", cfg.DedupDistance)
	}
	if cfg.MaxSteps != 6 {
		t.Errorf("expected default max steps 6, got %d", cfg.MaxSteps)
	}
	if cfg.ContextTail != 30 || cfg.MemoryHits != 5 {
		t.Errorf("expected tail 30 / hits 5, got %d / %d", cfg.ContextTail, cfg.MemoryHits)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "recall.yaml")
	content := `
provider: stub
dedup_distance: 0.12
max_steps: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != "stub" {
		t.Errorf("expected provider 'stub', got %q", cfg.Provider)
	}
	if cfg.DedupDistance != 0.12 {
		t.Errorf("expected dedup distance 0.12, got %g", cfg.DedupDistance)
	}
	if cfg.MaxSteps != 3 {
		t.Errorf("expected max steps 3, got %d", cfg.MaxSteps)
	}
	// File silent on these: defaults survive.
	if cfg.ContextTail != 30 {
		t.Errorf("expected default context tail, got %d", cfg.ContextTail)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "recall.json")
	if err := os.WriteFile(path, []byte(`{"provider": "openai", "memory_hits": 9}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != "openai" || cfg.MemoryHits != 9 {
		t.Errorf("expected openai/9, got %s/%d", cfg.Provider, cfg.MemoryHits)
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "recall.toml")
	os.WriteFile(path, []byte("provider = 'x'"), 0644)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENT_DEDUP_DISTANCE", "0.2")
	t.Setenv("AGENT_MAX_STEPS", "2")
	t.Setenv("AGENT_CONTEXT_TAIL", "10")
	t.Setenv("OLLAMA_MODEL", "qwen2.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DedupDistance != 0.2 {
		t.Errorf("expected env dedup distance 0.2, got %g", cfg.DedupDistance)
	}
	if cfg.MaxSteps != 2 {
		t.Errorf("expected env max steps 2, got %d", cfg.MaxSteps)
	}
	if cfg.ContextTail != 10 {
		t.Errorf("expected env context tail 10, got %d", cfg.ContextTail)
	}
	if cfg.Model != "qwen2.5" {
		t.Errorf("expected env model 'qwen2.5', got %q", cfg.Model)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "recall.yaml")
	os.WriteFile(path, []byte("max_steps: 4"), 0644)
	t.Setenv("AGENT_MAX_STEPS", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxSteps != 9 {
		t.Errorf("expected env to win over file, got %d", cfg.MaxSteps)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"NegativeDistance", func(c *Config) { c.DedupDistance = -0.1 }},
		{"DistanceAboveCosineRange", func(c *Config) { c.DedupDistance = 2.5 }},
		{"ZeroMaxSteps", func(c *Config) { c.MaxSteps = 0 }},
		{"NegativeTail", func(c *Config) { c.ContextTail = -1 }},
		{"NegativeHits", func(c *Config) { c.MemoryHits = -1 }},
		{"ZeroRunLogCap", func(c *Config) { c.RunLogMaxBytes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data/recall"

	if cfg.DatabasePath() != filepath.Join("/data/recall", "recall.db") {
		t.Errorf("unexpected database path %q", cfg.DatabasePath())
	}
	if cfg.VectorPath() != filepath.Join("/data/recall", "vectors") {
		t.Errorf("unexpected vector path %q", cfg.VectorPath())
	}
}
