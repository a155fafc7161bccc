// Package config assembles the runtime configuration: built-in defaults,
// then an optional YAML file, then environment variables. Command line
// flags are applied by the caller before Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/biomedkg/kgx/internal/util"
	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/graph"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

const (
	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"

	DefaultBaseURL = "https://api.moonshot.cn/v1"
	DefaultModel   = "moonshot-v1-8k"
)

type Config struct {
	AI         AIConfig         `yaml:"ai"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	S3         S3Config         `yaml:"s3"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Neo4j      Neo4jConfig      `yaml:"neo4j"`

	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json logfmt"`
}

type AIConfig struct {
	Adapter        string        `yaml:"adapter" validate:"oneof=openai ollama"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model" validate:"required"`
	FallbackModels []string      `yaml:"fallback_models"`
	MinInterval    time.Duration `yaml:"min_interval" validate:"gte=0"`
	BackoffFactor  float64       `yaml:"backoff_factor" validate:"gte=1"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=1"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	TokenEncoder   string        `yaml:"token_encoder"`
}

type ExtractionConfig struct {
	EntityTypes         []string `yaml:"entity_types" validate:"min=1,dive,required"`
	RelationTypes       []string `yaml:"relation_types" validate:"min=1,dive,required"`
	EntityTemperature   float64  `yaml:"entity_temperature" validate:"gte=0,lte=2"`
	RelationTemperature float64  `yaml:"relation_temperature" validate:"gte=0,lte=2"`
	MaxTokens           int      `yaml:"max_tokens" validate:"min=1"`
	MaxTextLength       int      `yaml:"max_text_length" validate:"min=1"`
	ParallelChunks      int      `yaml:"parallel_chunks" validate:"min=1"`
}

type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	OverlapSize  int `yaml:"overlap_size"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Prefix is prepended to uploaded artifact keys.
	Prefix string `yaml:"prefix"`
}

type AMQPConfig struct {
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Queue       string `yaml:"queue" validate:"required"`
	MaxRetries  int    `yaml:"max_retries" validate:"min=1"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// URL is the broker address built from the connection parts.
func (c AMQPConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.User, c.Password, c.Host, c.Port)
}

type Neo4jConfig struct {
	URI       string `yaml:"uri"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	BatchSize int    `yaml:"batch_size" validate:"min=1"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		AI: AIConfig{
			Adapter:        AdapterOpenAI,
			BaseURL:        DefaultBaseURL,
			Model:          DefaultModel,
			MinInterval:    ai.DefaultMinInterval,
			BackoffFactor:  ai.DefaultBackoffFactor,
			MaxRetries:     ai.DefaultMaxRetries,
			RequestTimeout: 60 * time.Second,
		},
		Extraction: ExtractionConfig{
			EntityTypes:         append([]string(nil), graph.DefaultEntityTypes...),
			RelationTypes:       append([]string(nil), graph.DefaultRelationTypes...),
			EntityTemperature:   graph.DefaultEntityTemperature,
			RelationTemperature: graph.DefaultRelationTemperature,
			MaxTokens:           graph.DefaultMaxTokens,
			MaxTextLength:       graph.DefaultMaxTextLength,
			ParallelChunks:      1,
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: graph.DefaultMaxChunkSize,
			OverlapSize:  graph.DefaultOverlapSize,
		},
		AMQP: AMQPConfig{
			Host:       "localhost",
			Port:       "5672",
			Queue:      "process_queue",
			MaxRetries: 10,
		},
		Neo4j: Neo4jConfig{
			Database:  "neo4j",
			BatchSize: 500,
		},
		LogFormat: "text",
	}
}

// Load builds a Config from defaults, the YAML file at path when path is
// not empty, and the environment. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.AI.Adapter = util.GetEnvString("AI_ADAPTER", c.AI.Adapter)
	c.AI.BaseURL = util.GetEnvString("AI_CHAT_URL", c.AI.BaseURL)
	c.AI.APIKey = util.GetEnvString("AI_CHAT_KEY", c.AI.APIKey)
	c.AI.Model = util.GetEnvString("AI_CHAT_MODEL", c.AI.Model)
	c.AI.FallbackModels = util.GetEnvList("AI_FALLBACK_MODELS", c.AI.FallbackModels)
	c.AI.MinInterval = util.GetEnvDuration("AI_MIN_INTERVAL", c.AI.MinInterval)
	c.AI.BackoffFactor = util.GetEnvNumeric("AI_BACKOFF_FACTOR", c.AI.BackoffFactor)
	c.AI.MaxRetries = util.GetEnvInt("AI_MAX_RETRIES", c.AI.MaxRetries)
	c.AI.RequestTimeout = util.GetEnvDuration("AI_REQUEST_TIMEOUT", c.AI.RequestTimeout)
	c.AI.TokenEncoder = util.GetEnvString("AI_TOKEN_ENCODER", c.AI.TokenEncoder)

	c.Extraction.EntityTypes = util.GetEnvList("KG_ENTITY_TYPES", c.Extraction.EntityTypes)
	c.Extraction.RelationTypes = util.GetEnvList("KG_RELATION_TYPES", c.Extraction.RelationTypes)
	c.Extraction.MaxTokens = util.GetEnvInt("KG_MAX_TOKENS", c.Extraction.MaxTokens)
	c.Extraction.MaxTextLength = util.GetEnvInt("KG_MAX_TEXT_LENGTH", c.Extraction.MaxTextLength)
	c.Extraction.ParallelChunks = util.GetEnvInt("KG_PARALLEL_CHUNKS", c.Extraction.ParallelChunks)
	c.Chunking.MaxChunkSize = util.GetEnvInt("KG_MAX_CHUNK_SIZE", c.Chunking.MaxChunkSize)
	c.Chunking.OverlapSize = util.GetEnvInt("KG_OVERLAP_SIZE", c.Chunking.OverlapSize)

	c.S3.Bucket = util.GetEnvString("AWS_BUCKET", c.S3.Bucket)
	c.S3.Region = util.GetEnvString("AWS_REGION", c.S3.Region)
	c.S3.Endpoint = util.GetEnvString("AWS_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = util.GetEnvString("AWS_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = util.GetEnvString("AWS_SECRET_KEY", c.S3.SecretKey)
	c.S3.Prefix = util.GetEnvString("AWS_PREFIX", c.S3.Prefix)

	c.AMQP.User = util.GetEnvString("RABBITMQ_USER", c.AMQP.User)
	c.AMQP.Password = util.GetEnvString("RABBITMQ_PASSWORD", c.AMQP.Password)
	c.AMQP.Host = util.GetEnvString("RABBITMQ_HOST", c.AMQP.Host)
	c.AMQP.Port = util.GetEnvString("RABBITMQ_PORT", c.AMQP.Port)
	c.AMQP.Queue = util.GetEnvString("RABBITMQ_QUEUE", c.AMQP.Queue)
	c.AMQP.MaxRetries = util.GetEnvInt("RABBITMQ_MAX_RETRIES", c.AMQP.MaxRetries)
	c.AMQP.MetricsAddr = util.GetEnvString("METRICS_ADDR", c.AMQP.MetricsAddr)

	c.Neo4j.URI = util.GetEnvString("NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.User = util.GetEnvString("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = util.GetEnvString("NEO4J_PASSWORD", c.Neo4j.Password)
	c.Neo4j.Database = util.GetEnvString("NEO4J_DATABASE", c.Neo4j.Database)

	c.Debug = util.GetEnvBool("DEBUG", c.Debug)
	c.LogFormat = util.GetEnvString("LOG_FORMAT", c.LogFormat)
}

var validate = validator.New()

// Validate checks the chunking bounds and the field constraints.
func (c *Config) Validate() error {
	if err := graph.ValidateChunkConfig(c.Chunking.MaxChunkSize, c.Chunking.OverlapSize); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
