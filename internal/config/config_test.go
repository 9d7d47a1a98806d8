package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "127.0.0.1:8000" {
		t.Errorf("Server.Addr() = %q, want 127.0.0.1:8000", cfg.Server.Addr())
	}
	if got := cfg.Server.Origins(); len(got) != 2 || got[0] != "http://localhost:3000" || got[1] != "http://localhost:3001" {
		t.Errorf("Server.Origins() = %v", got)
	}
	if cfg.Backend.BaseURL != "http://localhost:5000" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 3*time.Second || cfg.Backend.TrainTimeout != 5*time.Second {
		t.Errorf("Backend timeouts = %s/%s, want 3s/5s", cfg.Backend.Timeout, cfg.Backend.TrainTimeout)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.Model != "llama3.2:1b" {
		t.Errorf("Ollama.Model = %q, want llama3.2:1b", cfg.Ollama.Model)
	}
	if cfg.Ollama.Timeout != 2*time.Minute {
		t.Errorf("Ollama.Timeout = %s, want 2m", cfg.Ollama.Timeout)
	}
	if cfg.Chat.Language != "French" || cfg.Chat.Currency != "€" {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Model.Seed != 42 || cfg.Model.Trees != 50 || cfg.Model.RetrainInterval != 0 {
		t.Errorf("Model = %+v", cfg.Model)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestFileValues verifies that all value types are read from the JSON file.
func TestFileValues(t *testing.T) {
	b := writeTempConfig(t, `{
		"server.port": 9000,
		"backend.base_url": "http://crm.internal:5000",
		"backend.timeout": "1500ms",
		"ollama.model": "mistral",
		"ollama.ensure_model": "true",
		"ollama.timeout": "30s",
		"chat.language": "English",
		"model.trees": 10,
		"model.retrain_interval": "1h",
		"storage.data_dir": "/tmp/crmai-test"
	}`)

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://crm.internal:5000" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 1500*time.Millisecond {
		t.Errorf("Backend.Timeout = %s", cfg.Backend.Timeout)
	}
	if cfg.Ollama.Model != "mistral" || !cfg.Ollama.EnsureModel || cfg.Ollama.Timeout != 30*time.Second {
		t.Errorf("Ollama = %+v", cfg.Ollama)
	}
	if cfg.Chat.Language != "English" {
		t.Errorf("Chat.Language = %q", cfg.Chat.Language)
	}
	if cfg.Model.Trees != 10 || cfg.Model.RetrainInterval != time.Hour {
		t.Errorf("Model = %+v", cfg.Model)
	}
	if cfg.Storage.DataDir != "/tmp/crmai-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, `{"ollama.model": "file-model", "server.port": 9000}`)

	t.Setenv("CRMAI_OLLAMA_MODEL", "env-model")
	t.Setenv("CRMAI_SERVER_PORT", "9100")
	t.Setenv("CRMAI_BACKEND_TOKEN", "upstream-secret")
	t.Setenv("CRMAI_MODEL_RETRAIN_INTERVAL", "30m")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.Model != "env-model" {
		t.Errorf("Ollama.Model = %q, want env-model", cfg.Ollama.Model)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Backend.Token != "upstream-secret" {
		t.Errorf("Backend.Token = %q", cfg.Backend.Token)
	}
	if cfg.Model.RetrainInterval != 30*time.Minute {
		t.Errorf("Model.RetrainInterval = %s", cfg.Model.RetrainInterval)
	}
}

// TestInvalidEnvIgnored verifies an unparsable env value keeps the default.
func TestInvalidEnvIgnored(t *testing.T) {
	t.Setenv("CRMAI_SERVER_PORT", "not-a-port")
	t.Setenv("CRMAI_BACKEND_TIMEOUT", "soon")

	cfg, err := loadWith(writeTempConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
	if cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("Backend.Timeout = %s, want default 3s", cfg.Backend.Timeout)
	}
}

// TestSecretsNotReadFromFile verifies tokens only come from the environment.
func TestSecretsNotReadFromFile(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{"backend.token": "from-file", "server.api_token": "from-file"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.Token != "" || cfg.Server.APIToken != "" {
		t.Errorf("secrets read from file: %+v %+v", cfg.Backend, cfg.Server)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{"bad port", `{"server.port": 70000}`, "server.port"},
		{"relative backend url", `{"backend.base_url": "localhost:5000"}`, "backend.base_url"},
		{"empty model", `{"ollama.model": ""}`, "ollama.model"},
		{"negative ollama timeout", `{"ollama.timeout": "-5s"}`, "ollama.timeout"},
		{"zero trees", `{"model.trees": 0}`, "model.trees"},
		{"negative interval", `{"model.retrain_interval": "-1m"}`, "model.retrain_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(writeTempConfig(t, tt.file))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "server.port", "9001"); err != nil {
		t.Fatalf("setKey server.port: %v", err)
	}
	if err := setKey(b, "model.retrain_interval", "2h"); err != nil {
		t.Fatalf("setKey model.retrain_interval: %v", err)
	}

	reloaded := newFileBackend(b.path)
	cfg, err := loadWith(reloaded)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Model.RetrainInterval != 2*time.Hour {
		t.Errorf("Model.RetrainInterval = %s, want 2h", cfg.Model.RetrainInterval)
	}
}

func TestSetKeyErrors(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "nope.key", "x"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unknown key error = %v", err)
	}
	if err := setKey(b, "backend.token", "x"); err == nil || !strings.Contains(err.Error(), "CRMAI_BACKEND_TOKEN") {
		t.Errorf("secret key error = %v", err)
	}
	if err := setKey(b, "server.port", "eighty"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "ollama.ensure_model", "maybe"); err == nil {
		t.Error("expected error for non-bool value")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Backend.Token = "hunter2"

	var found bool
	for _, k := range ShowAll(cfg) {
		if k.Key == "backend.token" {
			found = true
			if k.Value != "********" {
				t.Errorf("backend.token shown as %q", k.Value)
			}
		}
		if k.Key == "backend.timeout" && k.Value != "3s" {
			t.Errorf("backend.timeout shown as %q, want 3s", k.Value)
		}
	}
	if !found {
		t.Error("backend.token missing from ShowAll")
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "backend.token" || k == "server.api_token" {
			t.Errorf("ValidKeys contains secret %q", k)
		}
	}
}
