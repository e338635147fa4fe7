package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers accepted by STORAGE_DRIVER
const (
	StorageDriverNone   = "none"
	StorageDriverSQLite = "sqlite"
	StorageDriverMySQL  = "mysql"
)

// Config holds every setting the bot reads from the environment.
// It is loaded once at startup and never mutated afterwards.
type Config struct {
	// Discord
	DiscordToken string `env:"DISCORD_TOKEN,required,notEmpty"`
	AdminUserID  string `env:"ADMIN_USER_ID,required,notEmpty"`
	GuildID      string `env:"DISCORD_GUILD_ID"`

	// Hosted chat provider (OpenAI compatible)
	OpenAIAPIKey    string `env:"OPENAI_API_KEY,required,notEmpty"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIMaxTokens int    `env:"OPENAI_MAX_TOKENS" envDefault:"400"`
	ModerationModel string `env:"OPENAI_MODERATION_MODEL" envDefault:"text-moderation-stable"`
	ImageModel      string `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`
	ImageSize       string `env:"OPENAI_IMAGE_SIZE" envDefault:"1792x1024"`
	ImageQuality    string `env:"OPENAI_IMAGE_QUALITY" envDefault:"standard"`

	// Local model server (Ollama)
	OllamaServer          string        `env:"OLLAMA_SERVER" envDefault:"http://127.0.0.1:11434"`
	OllamaModel           string        `env:"OLLAMA_MODEL" envDefault:"orca-mini"`
	OllamaSupportedModels []string      `env:"OLLAMA_SUPPORTED_MODELS" envSeparator:","`
	SessionIdleTimeout    time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	// ProviderTimeout bounds a single provider HTTP call. Zero leaves the transport default in place.
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"0s"`

	// Backend persistence API
	BackendAPIURL string `env:"BACKEND_API_URL" envDefault:"http://127.0.0.1:3000/api"`
	BackendAPIKey string `env:"BACKEND_API_KEY,required,notEmpty"`

	// Text to speech
	VisionBrainAPIURL string `env:"VISION_BRAIN_API_URL" envDefault:"https://visionbrain.xyz/api/tts/"`
	VisionBrainAPIKey string `env:"VISION_BRAIN_API_KEY" envDefault:"no-api-key-for-bot-to-start"`

	// Crypto quotes
	CMCAPIURL string `env:"CMC_API_URL" envDefault:"https://pro-api.coinmarketcap.com/v1/cryptocurrency/quotes/latest"`
	CMCAPIKey string `env:"CMC_PRO_API_KEY"`

	// Presence
	StatusUpdateEnabled  bool          `env:"BOT_STATUS_UPDATE_ENABLED" envDefault:"true"`
	StatusUpdateInterval time.Duration `env:"BOT_STATUS_UPDATE_INTERVAL" envDefault:"30s"`

	// Failed persistence writes
	StorageDriver string      `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	DatabasePath  string      `env:"DATABASE_PATH" envDefault:"./data/bot_state.db"`
	MySQL         MySQLConfig `envPrefix:"MYSQL_"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// MySQLConfig holds MySQL connection settings, read from MYSQL_* variables
type MySQLConfig struct {
	Host     string        `env:"HOST" envDefault:"localhost"`
	Port     string        `env:"PORT" envDefault:"3306"`
	Database string        `env:"DATABASE" envDefault:"ai_relay_bot"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Load parses the environment into a Config and validates it
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalize trims list values and makes sure the default local model is always selectable
func (c *Config) normalize() {
	models := make([]string, 0, len(c.OllamaSupportedModels)+1)
	for _, m := range c.OllamaSupportedModels {
		m = strings.TrimSpace(m)
		if m != "" && !slices.Contains(models, m) {
			models = append(models, m)
		}
	}
	if c.OllamaModel != "" && !slices.Contains(models, c.OllamaModel) {
		models = append([]string{c.OllamaModel}, models...)
	}
	c.OllamaSupportedModels = models

	c.OpenAIBaseURL = strings.TrimRight(c.OpenAIBaseURL, "/")
	c.OllamaServer = strings.TrimRight(c.OllamaServer, "/")
	c.BackendAPIURL = strings.TrimRight(c.BackendAPIURL, "/")
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
}

// Validate checks values that struct tags cannot express
func (c *Config) Validate() error {
	for key, raw := range map[string]string{
		"OPENAI_BASE_URL": c.OpenAIBaseURL,
		"OLLAMA_SERVER":   c.OllamaServer,
		"BACKEND_API_URL": c.BackendAPIURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return NewConfigError(key, "invalid URL", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return NewConfigError(key, fmt.Sprintf("URL must use http or https: %s", raw), nil)
		}
	}

	if c.OpenAIMaxTokens <= 0 {
		return NewConfigError("OPENAI_MAX_TOKENS", fmt.Sprintf("must be positive: %d", c.OpenAIMaxTokens), nil)
	}

	if c.SessionIdleTimeout < time.Minute {
		return NewConfigError("SESSION_IDLE_TIMEOUT", fmt.Sprintf("must be at least 1 minute: %s", c.SessionIdleTimeout), nil)
	}

	if c.ProviderTimeout < 0 {
		return NewConfigError("PROVIDER_TIMEOUT", fmt.Sprintf("must not be negative: %s", c.ProviderTimeout), nil)
	}

	if c.StatusUpdateInterval < time.Second {
		return NewConfigError("BOT_STATUS_UPDATE_INTERVAL", fmt.Sprintf("must be at least 1 second: %s", c.StatusUpdateInterval), nil)
	}

	switch c.StorageDriver {
	case StorageDriverNone, StorageDriverSQLite:
	case StorageDriverMySQL:
		if c.MySQL.Username == "" {
			return NewConfigError("MYSQL_USERNAME", "required when STORAGE_DRIVER=mysql", nil)
		}
	default:
		return NewConfigError("STORAGE_DRIVER", fmt.Sprintf("unsupported driver: %s", c.StorageDriver), nil)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return NewConfigError("LOG_LEVEL", "invalid log level", err)
	}

	return nil
}

// IsAdmin reports whether the Discord user may run administrative commands
func (c *Config) IsAdmin(userID string) bool {
	return c.AdminUserID != "" && userID == c.AdminUserID
}

// CryptoEnabled reports whether a CoinMarketCap key was provided
func (c *Config) CryptoEnabled() bool {
	return c.CMCAPIKey != ""
}

// LogValue keeps credentials out of structured logs
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("openai_base_url", c.OpenAIBaseURL),
		slog.String("openai_model", c.OpenAIModel),
		slog.String("ollama_server", c.OllamaServer),
		slog.String("ollama_model", c.OllamaModel),
		slog.Any("ollama_supported_models", c.OllamaSupportedModels),
		slog.String("backend_api_url", c.BackendAPIURL),
		slog.Bool("crypto_enabled", c.CryptoEnabled()),
		slog.String("storage_driver", c.StorageDriver),
		slog.Duration("session_idle_timeout", c.SessionIdleTimeout),
	)
}

// ParseLogLevel converts LOG_LEVEL into a slog level
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
