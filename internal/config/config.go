// Package config provides configuration for the localchat commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigFile names the environment variable pointing at an optional config file.
const EnvConfigFile = "LOCALCHAT_CONFIG"

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `mapstructure:"PORT"`
	ServerReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	ServerWriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`

	// Storage
	DBPath string `mapstructure:"DB_PATH"`

	// NATS settings. The event mirror is disabled when NATSURL is empty.
	NATSURL      string `mapstructure:"NATS_URL"`
	NATSCAFile   string `mapstructure:"NATS_CA_FILE"`
	NATSCertFile string `mapstructure:"NATS_CERT_FILE"`
	NATSKeyFile  string `mapstructure:"NATS_KEY_FILE"`
	NATSToken    string `mapstructure:"NATS_TOKEN"`

	// Auth settings. The API is open when AuthSecret is empty.
	AuthSecret     string        `mapstructure:"AUTH_SECRET"`
	AuthExpiration time.Duration `mapstructure:"AUTH_EXPIRATION"`

	// LLM settings
	LLMProvider     string        `mapstructure:"LLM_PROVIDER"`
	OllamaHost      string        `mapstructure:"OLLAMA_HOST"`
	AnthropicAPIKey string        `mapstructure:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string        `mapstructure:"OPENAI_API_KEY"`
	DefaultModel    string        `mapstructure:"DEFAULT_MODEL"`
	ModelCacheTTL   time.Duration `mapstructure:"MODEL_CACHE_TTL"`

	// Sessions
	StreamChunkSize  int           `mapstructure:"STREAM_CHUNK_SIZE"`
	TitleTemperature float64       `mapstructure:"TITLE_TEMPERATURE"`
	TitleTimeout     time.Duration `mapstructure:"TITLE_TIMEOUT"`

	// Rate limiting
	RateLimitRequests int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`

	// Logging
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	// Tracing
	TracingEndpoint string `mapstructure:"TRACING_ENDPOINT"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
}

var defaults = map[string]any{
	"PORT":                 "8080",
	"SERVER_READ_TIMEOUT":  30 * time.Second,
	"SERVER_WRITE_TIMEOUT": 0,
	"DB_PATH":              defaultDBPath(),
	"NATS_URL":             "",
	"NATS_CA_FILE":         "",
	"NATS_CERT_FILE":       "",
	"NATS_KEY_FILE":        "",
	"NATS_TOKEN":           "",
	"AUTH_SECRET":          "",
	"AUTH_EXPIRATION":      24 * time.Hour,
	"LLM_PROVIDER":         "ollama",
	"OLLAMA_HOST":          "",
	"ANTHROPIC_API_KEY":    "",
	"OPENAI_API_KEY":       "",
	"DEFAULT_MODEL":        "",
	"MODEL_CACHE_TTL":      5 * time.Minute,
	"STREAM_CHUNK_SIZE":    30,
	"TITLE_TEMPERATURE":    0.2,
	"TITLE_TIMEOUT":        30 * time.Second,
	"RATE_LIMIT_REQUESTS":  120,
	"RATE_LIMIT_WINDOW":    time.Minute,
	"LOG_LEVEL":            "info",
	"LOG_FILE":             "",
	"TRACING_ENDPOINT":     "localhost:4318",
	"TRACING_ENABLED":      false,
}

// Load reads configuration from environment variables and, when path or
// LOCALCHAT_CONFIG names one, a config file. Environment variables win.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if c.StreamChunkSize <= 0 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be positive, got %d", c.StreamChunkSize)
	}
	switch c.LLMProvider {
	case "ollama", "":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai provider")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	return nil
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "localchat.db"
	}
	return filepath.Join(dir, "localchat", "localchat.db")
}
