package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	User     UserConfig
	LLM      LLMConfig
	Ollama   OllamaConfig
	OpenAI   OpenAIConfig
	Session  SessionConfig
	Analyzer AnalyzerConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type UserConfig struct {
	ID string
}

type LLMConfig struct {
	Backend string // "ollama", "openai" or empty to pick by available credentials
	Timeout string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type SessionConfig struct {
	AutoThreshold   float64
	DeleteThreshold float64
	ExtractionFloor float64
	RecordSkipped   bool
	HistoryLimit    int
}

type AnalyzerConfig struct {
	MinProfileChars int
}

type LogConfig struct {
	Level string
}

const defaultTimeout = 45 * time.Second

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		User: UserConfig{
			ID: "local",
		},
		LLM: LLMConfig{
			Timeout: defaultTimeout.String(),
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Session: SessionConfig{
			AutoThreshold:   0.8,
			DeleteThreshold: 0.95,
			ExtractionFloor: 0.7,
			RecordSkipped:   true,
			HistoryLimit:    20,
		},
		Analyzer: AnalyzerConfig{
			MinProfileChars: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/vitals/config.json, then applies VITALS_* environment
// variables. Secrets are read from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	applyBackend(&cfg, b)
	applyEnvOverrides(&cfg)
	normalize(&cfg)

	if cfg.LLM.Backend != "" && cfg.LLM.Backend != "ollama" && cfg.LLM.Backend != "openai" {
		return Config{}, fmt.Errorf("invalid llm.backend %q: want ollama or openai", cfg.LLM.Backend)
	}
	return cfg, nil
}

// normalize clamps out-of-range values back to something usable.
func normalize(cfg *Config) {
	clamp := func(key string, v *float64) {
		switch {
		case *v < 0:
			fmt.Fprintf(os.Stderr, "[WARN] %s=%v is below 0. Using 0.\n", key, *v)
			*v = 0
		case *v > 1:
			fmt.Fprintf(os.Stderr, "[WARN] %s=%v is above 1. Using 1.\n", key, *v)
			*v = 1
		}
	}
	clamp("session.auto_threshold", &cfg.Session.AutoThreshold)
	clamp("session.delete_threshold", &cfg.Session.DeleteThreshold)
	clamp("session.extraction_floor", &cfg.Session.ExtractionFloor)

	if cfg.Session.HistoryLimit <= 0 {
		fmt.Fprintf(os.Stderr, "[WARN] session.history_limit=%d must be positive. Using 20.\n", cfg.Session.HistoryLimit)
		cfg.Session.HistoryLimit = 20
	}
	if _, err := time.ParseDuration(cfg.LLM.Timeout); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse llm.timeout=%q: %v. Using %s.\n", cfg.LLM.Timeout, err, defaultTimeout)
		cfg.LLM.Timeout = defaultTimeout.String()
	}
}

// TimeoutDuration returns llm.timeout as a duration.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "vitals-data"
		}
	}
	return filepath.Join(dir, "vitals")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "vitals", "config.json")
}
