package config

import (
	"fmt"
	"testing"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	data map[string]any
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
	return i, true, nil
}

func (b *mapBackend) SetString(key, val string) error  { b.data[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *mapBackend) Delete(key string) error          { delete(b.data, key); return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4400 {
		t.Errorf("Server.Port = %d, want 4400", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "nomic-embed-text")
	}
	if cfg.Analyze.OverrideThreshold != 0.55 {
		t.Errorf("Analyze.OverrideThreshold = %v, want 0.55", cfg.Analyze.OverrideThreshold)
	}
	if cfg.Extract.MaxFileSize != 50<<20 {
		t.Errorf("Extract.MaxFileSize = %d, want %d", cfg.Extract.MaxFileSize, int64(50<<20))
	}
}

func TestBackendOverrides(t *testing.T) {
	b := &mapBackend{data: map[string]any{
		"ollama.text_model":          "mistral-nemo",
		"server.port":                9999,
		"analyze.override_threshold": "0.7",
	}}
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.TextModel != "mistral-nemo" {
		t.Errorf("Ollama.TextModel = %q, want %q", cfg.Ollama.TextModel, "mistral-nemo")
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Analyze.OverrideThreshold != 0.7 {
		t.Errorf("Analyze.OverrideThreshold = %v, want 0.7", cfg.Analyze.OverrideThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SORTD_OLLAMA_TEXT_MODEL", "qwen2.5")
	t.Setenv("SORTD_EXTRACT_MAX_FILE_SIZE", "1048576")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"ollama.text_model": "mistral-nemo",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env wins over the file backend.
	if cfg.Ollama.TextModel != "qwen2.5" {
		t.Errorf("Ollama.TextModel = %q, want %q", cfg.Ollama.TextModel, "qwen2.5")
	}
	if cfg.Extract.MaxFileSize != 1048576 {
		t.Errorf("Extract.MaxFileSize = %d, want 1048576", cfg.Extract.MaxFileSize)
	}
}

func TestSetKeyValidation(t *testing.T) {
	b := &mapBackend{data: map[string]any{}}

	if err := setKeyWith(b, "server.port", "8080"); err != nil {
		t.Fatalf("setKeyWith(server.port): %v", err)
	}
	if b.data["server.port"] != 8080 {
		t.Errorf("server.port = %v, want 8080", b.data["server.port"])
	}

	if err := setKeyWith(b, "server.port", "not-a-number"); err == nil {
		t.Error("setKeyWith(server.port, not-a-number) = nil, want error")
	}
	if err := setKeyWith(b, "analyze.override_threshold", "0.8"); err != nil {
		t.Errorf("setKeyWith(analyze.override_threshold): %v", err)
	}
	if err := setKeyWith(b, "analyze.override_threshold", "high"); err == nil {
		t.Error("setKeyWith(analyze.override_threshold, high) = nil, want error")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("setKeyWith(no.such.key) = nil, want error")
	}
}

func TestShowAllCoversEveryKey(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}

	kvs := ShowAll(cfg)
	if len(kvs) != len(specs) {
		t.Fatalf("ShowAll returned %d keys, key table has %d", len(kvs), len(specs))
	}
	seen := make(map[string]bool, len(kvs))
	for _, kv := range kvs {
		seen[kv.Key] = true
	}
	for _, s := range specs {
		if !seen[s.key] {
			t.Errorf("key %s missing from ShowAll", s.key)
		}
	}
}
