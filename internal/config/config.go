package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"

	"kinguin-bot/internal/services/kinguin"
)

type Config struct {
	Telegram TelegramConfig
	Kinguin  KinguinConfig
	Database DatabaseConfig
	Poll     PollConfig
	Server   ServerConfig
	Log      LogConfig
}

type TelegramConfig struct {
	Token        string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	AllowedUsers []int64 `envconfig:"TELEGRAM_ALLOWED_USERS"`
}

type KinguinConfig struct {
	APIKey      string        `envconfig:"KINGUIN_API_KEY" required:"true"`
	APISecret   string        `envconfig:"KINGUIN_API_SECRET"`
	Environment string        `envconfig:"KINGUIN_ENVIRONMENT" default:"sandbox"`
	BaseURL     string        `envconfig:"KINGUIN_BASE_URL"`
	Timeout     time.Duration `envconfig:"KINGUIN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Path string `envconfig:"DATABASE_PATH" default:"data/purchases.db"`
}

type PollConfig struct {
	Attempts int           `envconfig:"POLL_ATTEMPTS" default:"5"`
	Interval time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	// Schedule drives the background sweep of unfinished orders.
	Schedule string `envconfig:"PENDING_CHECK_SCHEDULE" default:"@every 60s"`
}

type ServerConfig struct {
	Enabled   bool   `envconfig:"HTTP_ENABLED" default:"false"`
	Port      string `envconfig:"HTTP_PORT" default:"8080"`
	JWTSecret string `envconfig:"JWT_SECRET"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads the whole bot configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadKinguin reads only the gateway section, for tools that do not run the bot.
func LoadKinguin() (*KinguinConfig, error) {
	var cfg KinguinConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if _, err := cfg.Credential(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Kinguin.Credential(); err != nil {
		return err
	}
	if c.Poll.Attempts < 1 {
		return errors.Newf("POLL_ATTEMPTS must be at least 1, got %d", c.Poll.Attempts)
	}
	if c.Poll.Interval < 0 {
		return errors.New("POLL_INTERVAL must not be negative")
	}
	if c.Server.Enabled && c.Server.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when HTTP_ENABLED is set")
	}
	return nil
}

// IsUserAllowed admits everyone when no allow-list is configured.
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.Telegram.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.Telegram.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func (k *KinguinConfig) Credential() (kinguin.Credential, error) {
	env, err := kinguin.ParseEnvironment(k.Environment)
	if err != nil {
		return kinguin.Credential{}, err
	}
	return kinguin.Credential{
		APIKey:      k.APIKey,
		APISecret:   k.APISecret,
		Environment: env,
		BaseURL:     k.BaseURL,
	}, nil
}
