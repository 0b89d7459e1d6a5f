// Package config loads runtime configuration from a YAML file, a .env file
// and AGENTEXEC_* environment variables. It only produces values; the root
// package turns them into component options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hupe1980/agentexec/logging"
)

// EnvPrefix prefixes every environment override, e.g. AGENTEXEC_LLM_MODEL.
const EnvPrefix = "AGENTEXEC"

// Config is the complete runtime configuration.
type Config struct {
	Log         LogConfig       `mapstructure:"log"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Stream      StreamConfig    `mapstructure:"stream"`
	Memory      MemoryConfig    `mapstructure:"memory"`
	VectorStore StoreConfig     `mapstructure:"vectorstore"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Session     StoreConfig     `mapstructure:"session"`
	AgentsFile  string          `mapstructure:"agents_file"`
	Server      ServerConfig    `mapstructure:"server"`
	Tools       ToolsConfig     `mapstructure:"tools"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, anthropic or scripted
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai or hash
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

type EngineConfig struct {
	MaxIterations       int    `mapstructure:"max_iterations"`
	MaxPriorTurns       int    `mapstructure:"max_prior_turns"`
	DefaultSystemPrompt string `mapstructure:"default_system_prompt"`
	ToolCallParser      string `mapstructure:"tool_call_parser"` // json, native or chain
}

type StreamConfig struct {
	CompleteRetention time.Duration `mapstructure:"complete_retention"`
	ErrorRetention    time.Duration `mapstructure:"error_retention"`
	Buffer            int           `mapstructure:"buffer"`
	Store             string        `mapstructure:"store"` // memory or redis
}

type MemoryConfig struct {
	RecentWindow     int           `mapstructure:"recent_window"`
	MaxEntries       int           `mapstructure:"max_entries"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxTextLength    int           `mapstructure:"max_text_length"`
	MaxSearchResults int           `mapstructure:"max_search_results"`
	DefaultTopK      int           `mapstructure:"default_top_k"`
	MinSimilarity    float64       `mapstructure:"min_similarity"`
	SearchTTL        time.Duration `mapstructure:"search_ttl"`
	StatsTTL         time.Duration `mapstructure:"stats_ttl"`
	EmbedEvery       int           `mapstructure:"embed_every"`
	VectorThreshold  int           `mapstructure:"vector_threshold"`
	RecentThreshold  int           `mapstructure:"recent_threshold"`
	RecentTTL        time.Duration `mapstructure:"recent_ttl"` // redis recent window only
}

// StoreConfig selects a storage driver: memory or sqlite.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	Driver string `mapstructure:"driver"` // memory or redis
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ToolsConfig struct {
	DefaultTimezone string `mapstructure:"default_timezone"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "") // provider default
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 256)

	v.SetDefault("engine.max_iterations", 10)
	v.SetDefault("engine.max_prior_turns", 10)
	v.SetDefault("engine.default_system_prompt", "You are a helpful AI assistant.")
	v.SetDefault("engine.tool_call_parser", "json")

	v.SetDefault("stream.complete_retention", "5s")
	v.SetDefault("stream.error_retention", "1s")
	v.SetDefault("stream.buffer", 64)
	v.SetDefault("stream.store", "memory")

	v.SetDefault("memory.recent_window", 10)
	v.SetDefault("memory.max_entries", 100)
	v.SetDefault("memory.batch_size", 5)
	v.SetDefault("memory.max_text_length", 2000)
	v.SetDefault("memory.max_search_results", 10)
	v.SetDefault("memory.default_top_k", 5)
	v.SetDefault("memory.min_similarity", 0.7)
	v.SetDefault("memory.search_ttl", "300s")
	v.SetDefault("memory.stats_ttl", "3600s")
	v.SetDefault("memory.embed_every", 10)
	v.SetDefault("memory.vector_threshold", 50)
	v.SetDefault("memory.recent_threshold", 10)
	v.SetDefault("memory.recent_ttl", "24h")

	v.SetDefault("vectorstore.driver", "memory")
	v.SetDefault("vectorstore.dsn", "")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.dsn", "")

	v.SetDefault("agents_file", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("tools.default_timezone", "Asia/Bangkok")
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; variables already set in the environment win. path may
// be empty, in which case only defaults and the environment apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	checks := []struct {
		key, value string
		allowed    []string
	}{
		{"llm.provider", c.LLM.Provider, []string{"openai", "anthropic", "scripted"}},
		{"embedding.provider", c.Embedding.Provider, []string{"openai", "hash"}},
		{"engine.tool_call_parser", c.Engine.ToolCallParser, []string{"json", "native", "chain"}},
		{"stream.store", c.Stream.Store, []string{"memory", "redis"}},
		{"vectorstore.driver", c.VectorStore.Driver, []string{"memory", "sqlite"}},
		{"cache.driver", c.Cache.Driver, []string{"memory", "redis"}},
		{"session.driver", c.Session.Driver, []string{"memory", "sqlite"}},
		{"log.format", c.Log.Format, []string{"json", "text"}},
	}
	var errs []error
	for _, ch := range checks {
		if !contains(ch.allowed, ch.value) {
			errs = append(errs, fmt.Errorf("%s: unsupported value %q (want one of %s)", ch.key, ch.value, strings.Join(ch.allowed, ", ")))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Engine.MaxIterations <= 0 {
		errs = append(errs, errors.New("engine.max_iterations must be positive"))
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Cache.Driver == "redis" || c.Stream.Store == "redis"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
