package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/validation"
)

// State backends for the chat index and active-chat pointer.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	VaultPath         string `mapstructure:"VAULT_PATH" validate:"required"`
	ChatHistoryPath   string `mapstructure:"CHAT_HISTORY_PATH"`
	ChatFileExtension string `mapstructure:"CHAT_FILE_EXTENSION" validate:"required"`

	StateBackend string `mapstructure:"STATE_BACKEND" validate:"oneof=sqlite redis memory"`
	DatabasePath string `mapstructure:"DATABASE_PATH" validate:"required_if=StateBackend sqlite"`
	RedisAddr    string `mapstructure:"REDIS_ADDR" validate:"required_if=StateBackend redis"`
	RedisPrefix  string `mapstructure:"REDIS_PREFIX"`

	SaveEnabled               bool          `mapstructure:"SAVE_ENABLED"`
	SaveDebounce              time.Duration `mapstructure:"SAVE_DEBOUNCE" validate:"gt=0"`
	MessageTimestampTolerance time.Duration `mapstructure:"MESSAGE_TIMESTAMP_TOLERANCE" validate:"gt=0"`

	WatchEnabled  bool          `mapstructure:"WATCH_ENABLED"`
	WatchDebounce time.Duration `mapstructure:"WATCH_DEBOUNCE" validate:"gt=0"`

	DefaultModelName     string  `mapstructure:"DEFAULT_MODEL_NAME"`
	DefaultTemperature   float64 `mapstructure:"DEFAULT_TEMPERATURE" validate:"gte=0,lte=2"`
	DefaultContextWindow int     `mapstructure:"DEFAULT_CONTEXT_WINDOW" validate:"gt=0"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("VAULT_PATH", "./vault")
	viper.SetDefault("CHAT_HISTORY_PATH", "AI Forge/Chats")
	viper.SetDefault("CHAT_FILE_EXTENSION", "json")
	viper.SetDefault("STATE_BACKEND", BackendSQLite)
	viper.SetDefault("DATABASE_PATH", "./data/chat-state.db")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PREFIX", "chatstore:")
	viper.SetDefault("SAVE_ENABLED", true)
	viper.SetDefault("SAVE_DEBOUNCE", 1500*time.Millisecond)
	viper.SetDefault("MESSAGE_TIMESTAMP_TOLERANCE", time.Second)
	viper.SetDefault("WATCH_ENABLED", false)
	viper.SetDefault("WATCH_DEBOUNCE", 750*time.Millisecond)
	viper.SetDefault("DEFAULT_MODEL_NAME", "")
	viper.SetDefault("DEFAULT_TEMPERATURE", 0.7)
	viper.SetDefault("DEFAULT_CONTEXT_WINDOW", 4096)
	viper.SetDefault("LOG_LEVEL", "INFO")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against its field rules.
func (c *Config) Validate() error {
	return validation.Struct(c)
}
