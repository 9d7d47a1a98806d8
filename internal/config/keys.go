package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "CRMAI_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "CRMAI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "CRMAI_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "server.api_token", typ: kString, env: "CRMAI_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "backend.base_url", typ: kString, env: "CRMAI_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.token", typ: kString, env: "CRMAI_BACKEND_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.Token },
	},
	{
		key: "backend.timeout", typ: kDuration, env: "CRMAI_BACKEND_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.Timeout },
	},
	{
		key: "backend.train_timeout", typ: kDuration, env: "CRMAI_BACKEND_TRAIN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.TrainTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.TrainTimeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CRMAI_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "CRMAI_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.ensure_model", typ: kBool, env: "CRMAI_OLLAMA_ENSURE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EnsureModel = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ollama.EnsureModel },
	},
	{
		key: "ollama.timeout", typ: kDuration, env: "CRMAI_OLLAMA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.Timeout },
	},
	{
		key: "chat.language", typ: kString, env: "CRMAI_CHAT_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Chat.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Language },
	},
	{
		key: "chat.currency", typ: kString, env: "CRMAI_CHAT_CURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Chat.Currency = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Currency },
	},
	{
		key: "model.seed", typ: kInt, env: "CRMAI_MODEL_SEED",
		apply:   func(cfg *Config, v any) { cfg.Model.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.Seed },
	},
	{
		key: "model.trees", typ: kInt, env: "CRMAI_MODEL_TREES",
		apply:   func(cfg *Config, v any) { cfg.Model.Trees = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.Trees },
	},
	{
		key: "model.retrain_interval", typ: kDuration, env: "CRMAI_MODEL_RETRAIN_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Model.RetrainInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Model.RetrainInterval },
	},
	{
		key: "model.train_on_start", typ: kBool, env: "CRMAI_MODEL_TRAIN_ON_START",
		apply:   func(cfg *Config, v any) { cfg.Model.TrainOnStart = v.(bool) },
		extract: func(cfg Config) any { return cfg.Model.TrainOnStart },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CRMAI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CRMAI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw text into the Go type of a key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
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
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
