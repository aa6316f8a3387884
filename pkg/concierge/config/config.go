// Package config loads and validates Concierge configuration.
//
// Sources, later entries win for non-secret values:
//  1. built-in defaults
//  2. the YAML config file
//  3. environment variables (CONCIERGE_*)
//
// Secrets (gateway and engine API keys) resolve config → env → OS
// keyring, so keys never have to live in plaintext on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all Concierge configuration.
type Config struct {
	// Name is the assistant name shown in replies.
	Name string `yaml:"name"`

	// Gateway configures the messaging-platform connection.
	Gateway GatewayConfig `yaml:"gateway"`

	// Engine configures the answering engine endpoint.
	Engine EngineConfig `yaml:"engine"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Services configures the dispatch chain.
	Services ServicesConfig `yaml:"services"`

	// Tasks configures the task lifecycle service.
	Tasks TasksConfig `yaml:"tasks"`

	// Dashboards configures the dashboard scheduler and producers.
	Dashboards DashboardsConfig `yaml:"dashboards"`

	// Logging configures slog output.
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig is the messaging-platform connection config.
type GatewayConfig struct {
	// BaseURL is the platform API root (e.g. "https://chat.example.com").
	BaseURL string `yaml:"base_url"`

	// Email is the bot account email.
	Email string `yaml:"email"`

	// APIKey authenticates the bot. Prefer the env variable or the OS
	// keyring over writing it here.
	APIKey string `yaml:"api_key"`

	// MaxMessageLen is the platform's single-message size limit in bytes.
	MaxMessageLen int `yaml:"max_message_len"`
}

// EngineConfig is the answering-engine endpoint config.
// The engine speaks the OpenAI-compatible chat-completions API.
type EngineConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	// Instructions are prepended as the system prompt.
	Instructions string `yaml:"instructions"`

	// HistoryDepth is how many recent topic messages are sent as
	// conversation context with each question.
	HistoryDepth int `yaml:"history_depth"`
}

// DatabaseConfig is the SQLite store config.
type DatabaseConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`
}

// ServicesConfig controls the dispatch chain.
type ServicesConfig struct {
	// Disabled lists service names to leave out of the chain.
	Disabled []string `yaml:"disabled"`
}

// TasksConfig is the task lifecycle service config.
type TasksConfig struct {
	// ChannelPrefix names the designated tasks channels: a channel called
	// exactly ChannelPrefix, or "<ChannelPrefix>-*", holds task cards.
	ChannelPrefix string `yaml:"channel_prefix"`

	// FolderColocate, when true, places task cards in a single shared
	// tasks channel per folder instead of one derived channel per source
	// channel.
	FolderColocate bool `yaml:"folder_colocate"`

	// CardTopic is the topic task cards are posted to when the task does
	// not get its own dedicated topic.
	CardTopic string `yaml:"card_topic"`

	// MarkerEmoji is the reaction left on a promoted source message.
	MarkerEmoji string `yaml:"marker_emoji"`

	// PromoteEmoji promotes any message into a task when reacted with.
	PromoteEmoji string `yaml:"promote_emoji"`

	// DoneEmoji toggles task completion when reacted on a task card.
	DoneEmoji string `yaml:"done_emoji"`
}

// DashboardsConfig configures the dashboard scheduler.
type DashboardsConfig struct {
	// Disabled lists producer names to leave out of the registry.
	Disabled []string `yaml:"disabled"`

	// DefaultInterval is the refresh interval used when a start command
	// does not specify one.
	DefaultInterval time.Duration `yaml:"default_interval"`

	// RSS configures the feed producer.
	RSS RSSConfig `yaml:"rss"`
}

// RSSConfig configures the feed dashboard producer.
type RSSConfig struct {
	// MaxItems is how many items the pinned view shows.
	MaxItems int `yaml:"max_items"`

	// FetchTimeout bounds the best-effort page-metadata fetch used for
	// item image resolution.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Name: "Concierge",
		Gateway: GatewayConfig{
			MaxMessageLen: 10000,
		},
		Engine: EngineConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			HistoryDepth: 10,
		},
		Database: DatabaseConfig{
			Path: "./data/concierge.db",
		},
		Tasks: TasksConfig{
			ChannelPrefix: "tasks",
			CardTopic:     "tasks",
			MarkerEmoji:   "clipboard",
			PromoteEmoji:  "clipboard",
			DoneEmoji:     "check",
		},
		Dashboards: DashboardsConfig{
			DefaultInterval: 15 * time.Minute,
			RSS: RSSConfig{
				MaxItems:     8,
				FetchTimeout: 5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path, applies defaults, env overrides
// and secret resolution. A missing file is not an error when path is
// empty; an explicit path that does not exist is.
func Load(path string) (*Config, error) {
	// Best-effort .env bootstrap; absence is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnv(cfg)
	resolveSecrets(cfg)

	return cfg, nil
}

// applyEnv overlays CONCIERGE_* environment variables.
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Gateway.BaseURL, "CONCIERGE_GATEWAY_URL")
	set(&cfg.Gateway.Email, "CONCIERGE_GATEWAY_EMAIL")
	set(&cfg.Gateway.APIKey, "CONCIERGE_GATEWAY_API_KEY")
	set(&cfg.Engine.BaseURL, "CONCIERGE_ENGINE_URL")
	set(&cfg.Engine.APIKey, "CONCIERGE_ENGINE_API_KEY")
	set(&cfg.Engine.Model, "CONCIERGE_ENGINE_MODEL")
	set(&cfg.Database.Path, "CONCIERGE_DB_PATH")
	set(&cfg.Logging.Level, "CONCIERGE_LOG_LEVEL")
	set(&cfg.Logging.Format, "CONCIERGE_LOG_FORMAT")
}

// Validate checks required settings. Failures here are fatal at startup.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.Email == "" {
		return fmt.Errorf("gateway.email is required")
	}
	if c.Gateway.APIKey == "" {
		return fmt.Errorf("gateway.api_key is required (config, CONCIERGE_GATEWAY_API_KEY, or keyring)")
	}
	if c.Gateway.MaxMessageLen < 512 {
		return fmt.Errorf("gateway.max_message_len must be at least 512, got %d", c.Gateway.MaxMessageLen)
	}
	if c.Dashboards.DefaultInterval < time.Second {
		return fmt.Errorf("dashboards.default_interval must be at least 1s, got %s", c.Dashboards.DefaultInterval)
	}
	if c.Tasks.ChannelPrefix == "" {
		return fmt.Errorf("tasks.channel_prefix is required")
	}
	return nil
}
