// Package config assembles the process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/community"

	"github.com/go-playground/validator"
)

type Neo4j struct {
	URI      string `validate:"required"`
	Username string `validate:"required"`
	Password string
	Database string
}

type AI struct {
	Adapter    string `validate:"oneof=openai ollama"`
	ChatURL    string
	ChatKey    string
	ChatModel  string `validate:"required"`
	EmbedURL   string
	EmbedKey   string
	EmbedModel string `validate:"required"`
	EmbedDim   int    `validate:"min=1"`
	Parallel   int64  `validate:"min=1"`

	// Overrides for chat answers. Empty values and a zero temperature keep
	// the client defaults.
	AnswerModel       string
	AnswerPrompt      string
	AnswerThinking    string  `validate:"omitempty,oneof=low medium high"`
	AnswerTemperature float64 `validate:"min=0,max=2"`
}

type Build struct {
	Workers    int    `validate:"min=1"`
	EmbedBatch int    `validate:"min=1"`
	Projection string `validate:"required"`
	LeaseLock  bool
	LeaseTTL   time.Duration `validate:"min=0"`

	MaxLevels           int `validate:"min=1"`
	MinCommunitySize    int `validate:"min=1"`
	// StructuredSummaries asks the model for schema-constrained JSON.
	StructuredSummaries bool
}

type Retrieval struct {
	// TokenBudget caps the context handed to the model, 0 disables it.
	TokenBudget int `validate:"min=0"`
}

type Queue struct {
	User     string
	Password string
	Host     string `validate:"required"`
	Port     string `validate:"required"`
}

// URL is the AMQP dial address.
func (q Queue) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

type Server struct {
	Port string `validate:"required,numeric"`
}

type Config struct {
	Neo4j     Neo4j
	AI        AI
	Build     Build
	Retrieval Retrieval
	Queue     Queue
	Server    Server

	Debug     bool
	LogFormat string `validate:"oneof=text json"`
	Tracing   bool
}

var validate = validator.New()

// FromEnv reads every key with its default. It does not load .env files, call
// util.LoadEnv first for that.
func FromEnv() Config {
	return Config{
		Neo4j: Neo4j{
			URI:      util.GetEnvString("NEO4J_URI", "bolt://localhost:7687"),
			Username: util.GetEnvString("NEO4J_USERNAME", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnvString("NEO4J_DATABASE", "neo4j"),
		},
		AI: AI{
			Adapter:    util.GetEnvString("AI_ADAPTER", "openai"),
			ChatURL:    util.GetEnv("AI_CHAT_URL"),
			ChatKey:    util.GetEnv("AI_CHAT_KEY"),
			ChatModel:  util.GetEnv("AI_CHAT_MODEL"),
			EmbedURL:   util.GetEnv("AI_EMBED_URL"),
			EmbedKey:   util.GetEnv("AI_EMBED_KEY"),
			EmbedModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbedDim:   util.GetEnvInt("AI_EMBED_DIM", 384),
			Parallel:   int64(util.GetEnvInt("AI_PARALLEL_REQ", 10)),

			AnswerModel:       util.GetEnv("AI_ANSWER_MODEL"),
			AnswerPrompt:      util.GetEnv("AI_ANSWER_PROMPT"),
			AnswerThinking:    util.GetEnv("AI_ANSWER_THINKING"),
			AnswerTemperature: util.GetEnvNumeric("AI_ANSWER_TEMPERATURE", 0),
		},
		Build: Build{
			Workers:    util.GetEnvInt("COMMUNITY_WORKERS", 10),
			EmbedBatch: util.GetEnvInt("COMMUNITY_EMBED_BATCH", 100),
			Projection: util.GetEnvString("COMMUNITY_PROJECTION", community.DefaultProjectionName),
			LeaseLock:  util.GetEnvBool("BUILD_LEASE_LOCK", false),
			LeaseTTL:   util.GetEnvDuration("BUILD_LEASE_TTL", 2*time.Minute),

			MaxLevels:           util.GetEnvInt("COMMUNITY_MAX_LEVELS", community.DefaultLeidenParams().MaxLevels),
			MinCommunitySize:    util.GetEnvInt("COMMUNITY_MIN_SIZE", community.DefaultLeidenParams().MinCommunitySize),
			StructuredSummaries: util.GetEnvBool("COMMUNITY_STRUCTURED_SUMMARY", false),
		},
		Retrieval: Retrieval{
			TokenBudget: util.GetEnvInt("RETRIEVAL_TOKEN_BUDGET", 0),
		},
		Queue: Queue{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		Server: Server{
			Port: util.GetEnvString("PORT", "8080"),
		},
		Debug:     util.GetEnvBool("DEBUG", false),
		LogFormat: util.GetEnvString("LOG_FORMAT", "text"),
		Tracing:   util.GetEnvBool("TRACING_ENABLED", false),
	}
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
