package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// DMCORE_DB_DSN maps to db.dsn, DMCORE_HTTP_PORT to http.port and so on.
const EnvPrefix = "DMCORE_"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const minConversationSecret = 32

type HTTPConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type DBConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type CryptoConfig struct {
	// ConversationSecret feeds key derivation for every conversation.
	// It is read once at start and never changes while the process runs.
	ConversationSecret string   `koanf:"conversation_secret"`
	LegacyKeys         []string `koanf:"legacy_keys"`
}

type MessagesConfig struct {
	MaxLength     int     `koanf:"max_length"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
}

type RedisConfig struct {
	Addr       string        `koanf:"addr"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	PendingTTL time.Duration `koanf:"pending_ttl"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	DB       DBConfig       `koanf:"db"`
	Auth     AuthConfig     `koanf:"auth"`
	Crypto   CryptoConfig   `koanf:"crypto"`
	Messages MessagesConfig `koanf:"messages"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
}

func defaults() map[string]any {
	return map[string]any{
		"http.host":                "0.0.0.0",
		"http.port":                8000,
		"http.cors_origins":        []string{"http://localhost:3000", "http://localhost:5173"},
		"db.driver":                DriverSQLite,
		"db.dsn":                   "file:dmcore.db",
		"messages.max_length":      5000,
		"messages.rate_per_second": 5.0,
		"messages.rate_burst":      10,
		"redis.pending_ttl":        "72h",
		"log.level":                "info",
		"log.development":          false,
	}
}

// Load builds a Config from defaults, an optional TOML file and
// DMCORE_-prefixed environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envValue maps DMCORE_CRYPTO_LEGACY_KEYS to crypto.legacy_keys. The first
// underscore after the prefix separates the section from the key, the rest
// are kept. List values are comma separated.
func envValue(key, value string) (string, any) {
	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	name = strings.Replace(name, "_", ".", 1)

	switch name {
	case "http.cors_origins", "crypto.legacy_keys":
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return name, out
	}
	return name, value
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if len(c.Crypto.ConversationSecret) < minConversationSecret {
		errs = append(errs, fmt.Errorf("crypto.conversation_secret must be at least %d bytes", minConversationSecret))
	}
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not supported", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	if c.HTTP.Port <= 0 {
		errs = append(errs, errors.New("http.port must be positive"))
	}
	if c.Messages.MaxLength <= 0 {
		errs = append(errs, errors.New("messages.max_length must be positive"))
	}
	if c.Messages.RatePerSecond <= 0 || c.Messages.RateBurst <= 0 {
		errs = append(errs, errors.New("messages rate limits must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
