package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Corpus  CorpusConfig  `toml:"corpus"`
	Runs    RunsConfig    `toml:"runs"`
	Backend BackendConfig `toml:"backend"`
	QA      QAConfig      `toml:"qa"`
}

// CorpusConfig locates the document corpus
type CorpusConfig struct {
	Root    string `toml:"root"`
	Pattern string `toml:"pattern"`
}

// RunsConfig holds run persistence settings
type RunsConfig struct {
	BaseDir string `toml:"base_dir"`
}

// BackendConfig holds Ollama backend settings
type BackendConfig struct {
	Host             string  `toml:"host"`
	Model            string  `toml:"model"`
	NumCtx           int     `toml:"num_ctx"`
	NumPredict       int     `toml:"num_predict"`
	Temperature      float64 `toml:"temperature"`
	TopP             float64 `toml:"top_p"`
	RepeatPenalty    float64 `toml:"repeat_penalty"`
	FrequencyPenalty float64 `toml:"frequency_penalty"`
	TimeoutSeconds   int     `toml:"timeout_seconds"`
}

// QAConfig holds map-phase execution settings
type QAConfig struct {
	Parallel        int `toml:"parallel"`
	MaxAttempts     int `toml:"max_attempts"`
	MinAnswerLength int `toml:"min_answer_length"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Root:    "data",
			Pattern: "*.txt",
		},
		Runs: RunsConfig{
			BaseDir: "run",
		},
		Backend: BackendConfig{
			Host:             "http://127.0.0.1:11434",
			Model:            "gpt-oss:20b",
			NumCtx:           131072,
			NumPredict:       4096,
			Temperature:      0.4,
			TopP:             0.9,
			RepeatPenalty:    1.1,
			FrequencyPenalty: 0.3,
			TimeoutSeconds:   600,
		},
		QA: QAConfig{
			Parallel:        3,
			MaxAttempts:     3,
			MinAnswerLength: 10,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.Corpus.Root = ExpandPath(cfg.Corpus.Root)
	cfg.Runs.BaseDir = ExpandPath(cfg.Runs.BaseDir)

	return cfg, nil
}

// Save writes the configuration to a TOML file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "corpusqa", "config.toml")
}
