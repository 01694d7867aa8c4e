package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultGenerationTimeout bounds one generation run.
	DefaultGenerationTimeout = 2 * time.Minute

	// DefaultRefreshInterval is how often ready cities get fresh news and events.
	DefaultRefreshInterval = 24 * time.Hour

	// DefaultPollInterval is how often clients poll while a city is pending.
	DefaultPollInterval = 5 * time.Second
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendNeo4j  = "neo4j"
)

// Config holds all configuration for cityscope.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Store      StoreConfig      `mapstructure:"store"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Generation GenerationConfig `mapstructure:"generation"`
	Client     ClientConfig     `mapstructure:"client"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend string      `mapstructure:"backend"`
	Mongo   MongoConfig `mapstructure:"mongo"`
	Neo4j   Neo4jConfig `mapstructure:"neo4j"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LLMConfig holds generation provider settings.
type LLMConfig struct {
	Provider         string `mapstructure:"provider"`
	Model            string `mapstructure:"model"`
	BaseURL          string `mapstructure:"base_url"`
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	GeminiAPIKey     string `mapstructure:"gemini_api_key"`
	OpenRouterAPIKey string `mapstructure:"openrouter_api_key"`
}

// APIKey returns the key of the selected provider.
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "genai":
		return c.GeminiAPIKey
	default:
		return c.OpenRouterAPIKey
	}
}

// String returns a safe representation of LLMConfig with the API keys masked.
func (c LLMConfig) String() string {
	return fmt.Sprintf("LLMConfig{Provider:%s, Model:%s, AnthropicAPIKey:%s, GeminiAPIKey:%s, OpenRouterAPIKey:%s}",
		c.Provider, c.Model, maskAPIKey(c.AnthropicAPIKey), maskAPIKey(c.GeminiAPIKey), maskAPIKey(c.OpenRouterAPIKey))
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// GenerationConfig holds orchestrator settings.
type GenerationConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	AllowConcurrentRuns bool          `mapstructure:"allow_concurrent_runs"`
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"` // 0 disables
}

// ClientConfig holds settings for the remote commands.
type ClientConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	AuthToken    string        `mapstructure:"auth_token"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "cityscope")
	v.SetDefault("store.mongo.collection", "cities")
	v.SetDefault("store.neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("store.neo4j.username", "neo4j")
	v.SetDefault("store.neo4j.database", "neo4j")

	v.SetDefault("llm.provider", "openrouter")

	v.SetDefault("generation.timeout", DefaultGenerationTimeout)
	v.SetDefault("generation.allow_concurrent_runs", false)
	v.SetDefault("generation.refresh_interval", DefaultRefreshInterval)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.poll_interval", DefaultPollInterval)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".cityscope"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("CITYSCOPE")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("llm.anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("llm.openrouter_api_key", "OPENROUTER_API_KEY")
	_ = v.BindEnv("llm.provider", "CITYSCOPE_LLM_PROVIDER")
	_ = v.BindEnv("llm.model", "CITYSCOPE_LLM_MODEL")
	_ = v.BindEnv("store.backend", "CITYSCOPE_STORE_BACKEND")
	_ = v.BindEnv("store.mongo.uri", "CITYSCOPE_MONGO_URI", "MONGODB_URI")
	_ = v.BindEnv("store.neo4j.uri", "CITYSCOPE_NEO4J_URI")
	_ = v.BindEnv("store.neo4j.password", "CITYSCOPE_NEO4J_PASSWORD")
	_ = v.BindEnv("api.listen_addr", "CITYSCOPE_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "CITYSCOPE_API_AUTH_TOKEN")
	_ = v.BindEnv("client.base_url", "CITYSCOPE_CLIENT_BASE_URL")
	_ = v.BindEnv("client.auth_token", "CITYSCOPE_CLIENT_AUTH_TOKEN", "CITYSCOPE_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK; use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
// Provider API keys are checked when a generator is built, since the remote
// commands run without one.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri must not be empty")
		}
		if c.Store.Mongo.Database == "" || c.Store.Mongo.Collection == "" {
			return fmt.Errorf("store.mongo.database and store.mongo.collection must not be empty")
		}
	case BackendNeo4j:
		if c.Store.Neo4j.URI == "" {
			return fmt.Errorf("store.neo4j.uri must not be empty")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, mongo, neo4j (got %q)", c.Store.Backend)
	}

	switch c.LLM.Provider {
	case "anthropic", "genai", "openrouter":
	default:
		return fmt.Errorf("llm.provider must be one of anthropic, genai, openrouter (got %q)", c.LLM.Provider)
	}

	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("generation.timeout must be greater than 0")
	}
	if c.Generation.RefreshInterval < 0 {
		return fmt.Errorf("generation.refresh_interval must be >= 0")
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be greater than 0")
	}
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url must not be empty")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
