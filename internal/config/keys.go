package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// specs lists every config key. Secrets are only read from the environment.
var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "VITALS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "VITALS_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VITALS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "user.id", typ: kString, env: "VITALS_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.User.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.User.ID },
	},
	{
		key: "llm.backend", typ: kString, env: "VITALS_LLM_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.LLM.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Backend },
	},
	{
		key: "llm.timeout", typ: kString, env: "VITALS_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "VITALS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "VITALS_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "openai.api_key", typ: kString, env: "VITALS_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "VITALS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "VITALS_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "session.auto_threshold", typ: kFloat, env: "VITALS_SESSION_AUTO_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Session.AutoThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Session.AutoThreshold },
	},
	{
		key: "session.delete_threshold", typ: kFloat, env: "VITALS_SESSION_DELETE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Session.DeleteThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Session.DeleteThreshold },
	},
	{
		key: "session.extraction_floor", typ: kFloat, env: "VITALS_SESSION_EXTRACTION_FLOOR",
		apply:   func(cfg *Config, v any) { cfg.Session.ExtractionFloor = v.(float64) },
		extract: func(cfg Config) any { return cfg.Session.ExtractionFloor },
	},
	{
		key: "session.record_skipped", typ: kBool, env: "VITALS_SESSION_RECORD_SKIPPED",
		apply:   func(cfg *Config, v any) { cfg.Session.RecordSkipped = v.(bool) },
		extract: func(cfg Config) any { return cfg.Session.RecordSkipped },
	},
	{
		key: "session.history_limit", typ: kInt, env: "VITALS_SESSION_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Session.HistoryLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.HistoryLimit },
	},
	{
		key: "analyzer.min_profile_chars", typ: kInt, env: "VITALS_ANALYZER_MIN_PROFILE_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Analyzer.MinProfileChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Analyzer.MinProfileChars },
	},
	{
		key: "log.level", typ: kString, env: "VITALS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer value %q", raw)
		}
		return i, nil
	case kBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool value %q", raw)
		}
		return v, nil
	case kFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value %q", raw)
		}
		return f, nil
	default:
		return raw, nil
	}
}

// applyBackend copies every non-secret key found in b into cfg. Values that
// do not parse keep their defaults.
func applyBackend(cfg *Config, b ConfigBackend) {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Lookup(s.key)
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] config key %s: %v. Using default value.\n", s.key, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] env var %s: %v. Using default value.\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}
