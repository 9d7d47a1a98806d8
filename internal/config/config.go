package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Ollama  OllamaConfig
	Chat    ChatConfig
	Model   ModelConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins string // comma-separated
	APIToken    string
}

// Addr is the HTTP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Origins splits CORSOrigins into trimmed, non-empty entries.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// BackendConfig points at the upstream CRM service.
type BackendConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	TrainTimeout time.Duration
}

type OllamaConfig struct {
	BaseURL     string
	Model       string
	EnsureModel bool
	Timeout     time.Duration // bound on one generate call; 0 disables it
}

type ChatConfig struct {
	Language string
	Currency string
}

type ModelConfig struct {
	Seed            int
	Trees           int
	RetrainInterval time.Duration // 0 disables scheduled retraining
	TrainOnStart    bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			CORSOrigins: "http://localhost:3000,http://localhost:3001",
		},
		Backend: BackendConfig{
			BaseURL:      "http://localhost:5000",
			Timeout:      3 * time.Second,
			TrainTimeout: 5 * time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2:1b",
			Timeout: 2 * time.Minute,
		},
		Chat: ChatConfig{
			Language: "French",
			Currency: "€",
		},
		Model: ModelConfig{
			Seed:  42,
			Trees: 50,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/crmai/config.json, then applies CRMAI_* environment
// overrides. Secrets (tokens) are only read from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	for key, raw := range map[string]string{
		"backend.base_url": c.Backend.BaseURL,
		"ollama.base_url":  c.Ollama.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q: expected an absolute URL", key, raw)
		}
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("missing required config: ollama.model")
	}
	if c.Backend.Timeout <= 0 || c.Backend.TrainTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be positive")
	}
	if c.Ollama.Timeout < 0 {
		return fmt.Errorf("invalid ollama.timeout %s", c.Ollama.Timeout)
	}
	if c.Model.Trees <= 0 {
		return fmt.Errorf("invalid model.trees %d", c.Model.Trees)
	}
	if c.Model.RetrainInterval < 0 {
		return fmt.Errorf("invalid model.retrain_interval %s", c.Model.RetrainInterval)
	}
	return nil
}
