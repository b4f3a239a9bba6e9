package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Auth      AuthConfig      `mapstructure:"auth" json:"auth"`
	Assistant AssistantConfig `mapstructure:"assistant" json:"assistant"`
	Usage     UsageConfig     `mapstructure:"usage" json:"usage"`
	Client    ClientConfig    `mapstructure:"client" json:"client"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" json:"host"`
	Port           int      `mapstructure:"port" json:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
	// AskRateLimit is the number of ask requests a user may make per minute
	AskRateLimit int `mapstructure:"ask_rate_limit" json:"ask_rate_limit"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	Database string `mapstructure:"database" json:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret" json:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl" json:"access_token_ttl"`
}

type AssistantConfig struct {
	// Provider is "openai" or "stub"
	Provider     string  `mapstructure:"provider" json:"provider"`
	Model        string  `mapstructure:"model" json:"model"`
	APIKey       string  `mapstructure:"api_key" json:"api_key,omitempty"`
	BaseURL      string  `mapstructure:"base_url" json:"base_url,omitempty"`
	SystemPrompt string  `mapstructure:"system_prompt" json:"system_prompt"`
	Temperature  float32 `mapstructure:"temperature" json:"temperature"`
	HistoryLimit int     `mapstructure:"history_limit" json:"history_limit"`
	// BreakerThreshold consecutive failures stop calls for BreakerCooldown
	BreakerThreshold int           `mapstructure:"breaker_threshold" json:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" json:"breaker_cooldown"`
}

type UsageConfig struct {
	FreeLimit        int `mapstructure:"free_limit" json:"free_limit"`
	ProLimit         int `mapstructure:"pro_limit" json:"pro_limit"`
	LowWaterMark     int `mapstructure:"low_water_mark" json:"low_water_mark"`
	PointsPerMessage int `mapstructure:"points_per_message" json:"points_per_message"`
}

type ClientConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Token   string `mapstructure:"token" json:"token,omitempty"`
	UserID  string `mapstructure:"user_id" json:"user_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

const defaultSystemPrompt = "You are Jurist Mind, a legal research assistant. Answer clearly, " +
	"cite the statutes and cases you rely on, and say when a question needs a qualified lawyer."

// Load reads config.json from the usual places and applies environment overrides.
// A missing file is not an error; defaults are used.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".jurist"))
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return decode(v)
}

// LoadFile reads an explicit config file
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	loadEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.ask_rate_limit", 30)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "jurist")
	v.SetDefault("database.database", "jurist")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("auth.access_token_ttl", "24h")

	v.SetDefault("assistant.provider", "openai")
	v.SetDefault("assistant.model", "gpt-4o-mini")
	v.SetDefault("assistant.system_prompt", defaultSystemPrompt)
	v.SetDefault("assistant.temperature", 0.2)
	v.SetDefault("assistant.history_limit", 20)
	v.SetDefault("assistant.breaker_threshold", 5)
	v.SetDefault("assistant.breaker_cooldown", "30s")

	v.SetDefault("usage.free_limit", 50)
	v.SetDefault("usage.pro_limit", 2000)
	v.SetDefault("usage.low_water_mark", 10)
	v.SetDefault("usage.points_per_message", 1)

	v.SetDefault("client.base_url", "http://localhost:3000")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("JURIST_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("JURIST_HOST"); host != "" {
		cfg.Server.Host = host
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if secret := os.Getenv("JURIST_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Assistant.APIKey = key
	}
	if provider := os.Getenv("JURIST_ASSISTANT_PROVIDER"); provider != "" {
		cfg.Assistant.Provider = provider
	}

	if base := os.Getenv("JURIST_BASE_URL"); base != "" {
		cfg.Client.BaseURL = base
	}
	if token := os.Getenv("JURIST_TOKEN"); token != "" {
		cfg.Client.Token = token
	}
	if user := os.Getenv("JURIST_USER_ID"); user != "" {
		cfg.Client.UserID = user
	}

	if level := os.Getenv("JURIST_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// NewLogger builds a logger from the log section. Unknown levels fall back to info.
func (c LogConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
