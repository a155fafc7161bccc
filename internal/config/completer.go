package config

import (
	"fmt"

	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/ai/ollama"
	"github.com/biomedkg/kgx/pkg/ai/openai"
	"github.com/biomedkg/kgx/pkg/graph"
)

// NewTransport creates the backend selected by AI.Adapter.
func (c *Config) NewTransport() (ai.Transport, error) {
	switch c.AI.Adapter {
	case AdapterOllama:
		client, err := ollama.NewGraphOllamaClient(ollama.NewGraphOllamaClientParams{
			Model:        c.AI.Model,
			BaseURL:      c.AI.BaseURL,
			ApiKey:       c.AI.APIKey,
			TokenEncoder: c.AI.TokenEncoder,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		return client, nil
	case AdapterOpenAI, "":
		return openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
			Model:   c.AI.Model,
			ChatURL: c.AI.BaseURL,
			ChatKey: c.AI.APIKey,
			Timeout: c.AI.RequestTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown ai adapter %q", c.AI.Adapter)
	}
}

// NewCompleter wraps a fresh transport in an ai.Client with its own
// rate limiter.
func (c *Config) NewCompleter(rec ai.RequestRecorder) (*ai.Client, error) {
	transport, err := c.NewTransport()
	if err != nil {
		return nil, err
	}
	return ai.NewClient(ai.NewClientParams{
		Transport:      transport,
		PrimaryModel:   c.AI.Model,
		FallbackModels: c.AI.FallbackModels,
		MinInterval:    c.AI.MinInterval,
		BackoffFactor:  c.AI.BackoffFactor,
		MaxRetries:     c.AI.MaxRetries,
		Recorder:       rec,
	})
}

// CompleterFactory adapts NewCompleter for graph.NewGraphClient.
func (c *Config) CompleterFactory(rec ai.RequestRecorder) graph.CompleterFactory {
	return func() (ai.Completer, error) {
		return c.NewCompleter(rec)
	}
}

// GraphClientParams maps the extraction and chunking settings.
func (c *Config) GraphClientParams() graph.NewGraphClientParams {
	return graph.NewGraphClientParams{
		EntityTypes:         c.Extraction.EntityTypes,
		RelationTypes:       c.Extraction.RelationTypes,
		EntityTemperature:   c.Extraction.EntityTemperature,
		RelationTemperature: c.Extraction.RelationTemperature,
		MaxTokens:           c.Extraction.MaxTokens,
		MaxTextLength:       c.Extraction.MaxTextLength,
		MaxChunkSize:        c.Chunking.MaxChunkSize,
		OverlapSize:         c.Chunking.OverlapSize,
		ParallelChunks:      c.Extraction.ParallelChunks,
	}
}
