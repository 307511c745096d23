package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/HKUDS/imagebot-go/pkg/cron"
)

// ErrMissingTelegramToken is returned by RequireTelegram when no bot token is configured.
var ErrMissingTelegramToken = errors.New("config: TELEGRAM_TOKEN is required")

type TelegramConfig struct {
	Token           string        `yaml:"token"`
	AllowFrom       []string      `yaml:"allowFrom"`
	APIEndpoint     string        `yaml:"apiEndpoint,omitempty"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" validate:"gt=0"`
	PollTimeout     time.Duration `yaml:"pollTimeout" validate:"gt=0,ltfield=RequestTimeout"`
	ConflictBackoff time.Duration `yaml:"conflictBackoff" validate:"gt=0"`
}

type EngineConfig struct {
	Name   string `yaml:"name" validate:"required"`
	Width  int    `yaml:"width" validate:"gt=0"`
	Height int    `yaml:"height" validate:"gt=0"`
}

type ProviderConfig struct {
	APIKey  string         `yaml:"apiKey"`
	APIBase string         `yaml:"apiBase,omitempty"`
	Engines []EngineConfig `yaml:"engines,omitempty" validate:"dive"`
}

type ProvidersConfig struct {
	Stability   ProviderConfig `yaml:"stability"`
	HuggingFace ProviderConfig `yaml:"huggingface"`
}

type GenerationConfig struct {
	PreferredProvider string        `yaml:"preferredProvider" validate:"oneof=stability huggingface"`
	Fallback          bool          `yaml:"fallback"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
}

type TranslationConfig struct {
	Enabled bool          `yaml:"enabled"`
	Source  string        `yaml:"source" validate:"required"`
	Target  string        `yaml:"target" validate:"required"`
	APIBase string        `yaml:"apiBase,omitempty"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type DeliveryConfig struct {
	MaxRetries int           `yaml:"maxRetries" validate:"gte=1,lte=10"`
	Interval   time.Duration `yaml:"interval" validate:"gt=0"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idleTTL" validate:"gt=0"`
	PruneSchedule string        `yaml:"pruneSchedule" validate:"required"`
}

type LogConfig struct {
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Console bool   `yaml:"console"`
}

type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Generation  GenerationConfig  `yaml:"generation"`
	Translation TranslationConfig `yaml:"translation"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Session     SessionConfig     `yaml:"session"`
	Log         LogConfig         `yaml:"log"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			RequestTimeout:  60 * time.Second,
			PollTimeout:     30 * time.Second,
			ConflictBackoff: 5 * time.Second,
		},
		Generation: GenerationConfig{
			PreferredProvider: "stability",
			Fallback:          true,
			Timeout:           40 * time.Second,
		},
		Translation: TranslationConfig{
			Enabled: true,
			Source:  "ru",
			Target:  "en",
			Timeout: 10 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxRetries: 3,
			Interval:   2 * time.Second,
		},
		Session: SessionConfig{
			IdleTTL:       24 * time.Hour,
			PruneSchedule: "@every 10m",
		},
		Log: LogConfig{
			Dir:     filepath.Join(".imagebot", "logs"),
			Level:   "info",
			Console: true,
		},
	}
}

// LoadConfig loads the configuration from the given path, then applies .env files
// and environment variables on top of it.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	// Missing .env files are fine; existing variables are never overridden.
	for _, name := range []string{".env", ".env.local"} {
		_ = godotenv.Load(name)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is where onboard writes and run reads the config file.
func DefaultPath() string {
	return filepath.Join(".imagebot", "config.yaml")
}

func (c *Config) applyEnv() {
	setString(&c.Telegram.Token, "TELEGRAM_TOKEN")
	setString(&c.Providers.Stability.APIKey, "STABILITY_API_KEY")
	setString(&c.Providers.HuggingFace.APIKey, "HF_TOKEN")
	setString(&c.Log.Level, "IMAGEBOT_LOG_LEVEL")
	setString(&c.Generation.PreferredProvider, "IMAGEBOT_PREFERRED_PROVIDER")

	if v, ok := os.LookupEnv("IMAGEBOT_FALLBACK"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Generation.Fallback = b
		}
	}

	c.Telegram.Token = strings.TrimSpace(c.Telegram.Token)
	c.Providers.Stability.APIKey = strings.TrimSpace(c.Providers.Stability.APIKey)
	c.Providers.HuggingFace.APIKey = strings.TrimSpace(c.Providers.HuggingFace.APIKey)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Generation.PreferredProvider = strings.ToLower(strings.TrimSpace(c.Generation.PreferredProvider))
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks field constraints and translation language codes.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cron.Validate(c.Session.PruneSchedule); err != nil {
		return fmt.Errorf("config: session: %w", err)
	}
	if c.Translation.Source != "auto" {
		if _, err := language.Parse(c.Translation.Source); err != nil {
			return fmt.Errorf("config: translation source %q: %w", c.Translation.Source, err)
		}
	}
	if _, err := language.Parse(c.Translation.Target); err != nil {
		return fmt.Errorf("config: translation target %q: %w", c.Translation.Target, err)
	}
	return nil
}

// RequireTelegram fails when the bot cannot start without a chat token.
func (c *Config) RequireTelegram() error {
	if c.Telegram.Token == "" {
		return ErrMissingTelegramToken
	}
	return nil
}

// Warnings lists non-fatal problems, such as providers disabled for lack of a key.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Providers.Stability.APIKey == "" {
		warnings = append(warnings, "STABILITY_API_KEY is not set, stability provider disabled")
	}
	if c.Providers.HuggingFace.APIKey == "" {
		warnings = append(warnings, "HF_TOKEN is not set, huggingface provider disabled")
	}
	return warnings
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
