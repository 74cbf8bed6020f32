// Package config holds the runtime settings of the query service: capability
// backends, the dedup threshold and the loop budgets. Settings load from an
// optional JSON or YAML file and are overridden by environment variables, so
// deployments can tune thresholds without touching files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Provider selects the capability backend: ollama, openai, gemini,
	// anthropic or stub.
	Provider   string `json:"provider" yaml:"provider"`
	Model      string `json:"model" yaml:"model"`
	EmbedModel string `json:"embed_model" yaml:"embed_model"`

	// DataDir roots the SQLite database and the vector index.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DedupDistance is the cosine distance at or below which a new memory
	// is a semantic duplicate. Calibration is deployment-specific.
	DedupDistance float64 `json:"dedup_distance" yaml:"dedup_distance"`

	// EmbedDim pins the vector index dimensionality; 0 defers to the
	// first stored embedding.
	EmbedDim int `json:"embed_dim" yaml:"embed_dim"`

	// ContextTail is how many recent messages feed the model per step.
	ContextTail int `json:"context_tail" yaml:"context_tail"`

	// MemoryHits is how many retrieved memories feed the context block.
	MemoryHits int `json:"memory_hits" yaml:"memory_hits"`

	// MaxSteps is the default hard step cap per run (inclusive).
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// RunLogMaxBytes caps each run's retained log.
	RunLogMaxBytes int `json:"run_log_max_bytes" yaml:"run_log_max_bytes"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Provider:       "ollama",
		Model:          "llama3.2",
		EmbedModel:     "nomic-embed-text",
		DataDir:        defaultDataDir(),
		DedupDistance:  0.08,
		ContextTail:    30,
		MemoryHits:     5,
		MaxSteps:       6,
		RunLogMaxBytes: 64 * 1024,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall")
}

// Load builds the effective configuration: defaults, then the file at path
// (if non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to unmarshal JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s (use .json or .yaml)", ext)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("OLLAMA_EMBED_MODEL"); v != "" {
		cfg.EmbedModel = v
	}
	if v := os.Getenv("AGENT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENT_DEDUP_DISTANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DedupDistance = f
		}
	}
	if v := os.Getenv("AGENT_EMBED_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbedDim = n
		}
	}
	if v := os.Getenv("AGENT_CONTEXT_TAIL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContextTail = n
		}
	}
	if v := os.Getenv("AGENT_MEMORY_HITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MemoryHits = n
		}
	}
	if v := os.Getenv("AGENT_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("AGENT_RUNLOG_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RunLogMaxBytes = n
		}
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.DedupDistance < 0 || c.DedupDistance > 2 {
		return fmt.Errorf("dedup_distance must be within [0, 2], got %g", c.DedupDistance)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.ContextTail < 0 {
		return fmt.Errorf("context_tail must not be negative, got %d", c.ContextTail)
	}
	if c.MemoryHits < 0 {
		return fmt.Errorf("memory_hits must not be negative, got %d", c.MemoryHits)
	}
	if c.RunLogMaxBytes <= 0 {
		return fmt.Errorf("run_log_max_bytes must be positive, got %d", c.RunLogMaxBytes)
	}
	return nil
}

// DatabasePath returns the SQLite file under the data dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "recall.db")
}

// VectorPath returns the vector index directory under the data dir.
func (c Config) VectorPath() string {
	return filepath.Join(c.DataDir, "vectors")
}
