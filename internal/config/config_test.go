package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/biomedkg/kgx/pkg/ai/ollama"
	"github.com/biomedkg/kgx/pkg/ai/openai"
	"github.com/biomedkg/kgx/pkg/graph"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kgx.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.AI.Model != "moonshot-v1-8k" || cfg.AI.MinInterval != 1200*time.Millisecond || cfg.AI.MaxRetries != 5 {
		t.Fatalf("AI defaults = %+v", cfg.AI)
	}
	if cfg.Chunking.MaxChunkSize != 8000 || cfg.Chunking.OverlapSize != 500 {
		t.Fatalf("Chunking defaults = %+v", cfg.Chunking)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
ai:
  model: moonshot-v1-32k
  fallback_models: [moonshot-v1-8k]
  min_interval: 2s
extraction:
  entity_types: [疾病, 药物]
chunking:
  max_chunk_size: 4000
  overlap_size: 200
`)
	t.Setenv("AI_CHAT_KEY", "sk-test")
	t.Setenv("KG_OVERLAP_SIZE", "300")
	t.Setenv("AI_FALLBACK_MODELS", "moonshot-v1-8k, moonshot-v1-128k")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.AI.Model != "moonshot-v1-32k" || cfg.AI.APIKey != "sk-test" || cfg.AI.MinInterval != 2*time.Second {
		t.Errorf("AI = %+v", cfg.AI)
	}
	if want := []string{"moonshot-v1-8k", "moonshot-v1-128k"}; !reflect.DeepEqual(cfg.AI.FallbackModels, want) {
		t.Errorf("FallbackModels = %v, want %v", cfg.AI.FallbackModels, want)
	}
	if want := []string{"疾病", "药物"}; !reflect.DeepEqual(cfg.Extraction.EntityTypes, want) {
		t.Errorf("EntityTypes = %v, want %v", cfg.Extraction.EntityTypes, want)
	}
	if cfg.Chunking.MaxChunkSize != 4000 || cfg.Chunking.OverlapSize != 300 {
		t.Errorf("Chunking = %+v", cfg.Chunking)
	}
	if !reflect.DeepEqual(cfg.Extraction.RelationTypes, graph.DefaultRelationTypes) {
		t.Errorf("RelationTypes lost their default")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "ai:\n  modle: typo\n")); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := Load(writeConfig(t, "")); err != nil {
		t.Errorf("empty file error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantChunk bool
	}{
		{name: "overlap equals size", mutate: func(c *Config) { c.Chunking.OverlapSize = c.Chunking.MaxChunkSize }, wantChunk: true},
		{name: "negative overlap", mutate: func(c *Config) { c.Chunking.OverlapSize = -1 }, wantChunk: true},
		{name: "unknown adapter", mutate: func(c *Config) { c.AI.Adapter = "kimi" }},
		{name: "missing model", mutate: func(c *Config) { c.AI.Model = "" }},
		{name: "no entity types", mutate: func(c *Config) { c.Extraction.EntityTypes = nil }},
		{name: "temperature too high", mutate: func(c *Config) { c.Extraction.EntityTemperature = 3 }},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if got := errors.Is(err, graph.ErrInvalidChunkConfig); got != tt.wantChunk {
				t.Fatalf("errors.Is(ErrInvalidChunkConfig) = %v for %v", got, err)
			}
		})
	}
}

func TestNewTransport(t *testing.T) {
	cfg := Default()
	tr, err := cfg.NewTransport()
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	if _, ok := tr.(*openai.GraphOpenAIClient); !ok {
		t.Fatalf("transport = %T, want *openai.GraphOpenAIClient", tr)
	}

	cfg.AI.Adapter = AdapterOllama
	cfg.AI.BaseURL = "http://localhost:11434"
	tr, err = cfg.NewTransport()
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	if _, ok := tr.(*ollama.GraphOllamaClient); !ok {
		t.Fatalf("transport = %T, want *ollama.GraphOllamaClient", tr)
	}

	cfg.AI.Adapter = "kimi"
	if _, err := cfg.NewTransport(); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}

func TestCompleterFactory(t *testing.T) {
	cfg := Default()
	cfg.AI.FallbackModels = []string{"moonshot-v1-32k"}

	factory := cfg.CompleterFactory(nil)
	a, err := factory()
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	b, err := factory()
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if a == b {
		t.Fatal("factory returned the same completer twice")
	}

	c, err := cfg.NewCompleter(nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"moonshot-v1-8k", "moonshot-v1-32k"}; !reflect.DeepEqual(c.Models(), want) {
		t.Fatalf("Models() = %v, want %v", c.Models(), want)
	}
}

func TestAMQPURL(t *testing.T) {
	c := AMQPConfig{User: "guest", Password: "secret", Host: "mq", Port: "5672"}
	if got := c.URL(); got != "amqp://guest:secret@mq:5672/" {
		t.Fatalf("URL() = %s", got)
	}
}
