package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DMCORE_AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("DMCORE_CRYPTO_CONVERSATION_SECRET", testSecret)
}

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dmcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)

	want := &Config{
		HTTP: HTTPConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		DB:       DBConfig{Driver: DriverSQLite, DSN: "file:dmcore.db"},
		Auth:     AuthConfig{JWTSecret: "jwt-secret"},
		Crypto:   CryptoConfig{ConversationSecret: testSecret},
		Messages: MessagesConfig{MaxLength: 5000, RatePerSecond: 5, RateBurst: 10},
		Redis:    RedisConfig{PendingTTL: 72 * time.Hour},
		Log:      LogConfig{Level: "info"},
	}
	assert.Empty(t, cmp.Diff(want, cfg))
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	setRequired(t)
	path := writeTOML(t, `
[http]
port = 9000
host = "127.0.0.1"

[db]
driver = "postgres"
dsn = "postgres://from-file"

[crypto]
legacy_keys = ["k1"]

[redis]
addr = "localhost:6379"
pending_ttl = "1h"
`)
	t.Setenv("DMCORE_DB_DSN", "postgres://from-env")
	t.Setenv("DMCORE_CRYPTO_LEGACY_KEYS", "k2, k3,")
	t.Setenv("DMCORE_HTTP_CORS_ORIGINS", "https://app.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, "postgres://from-env", cfg.DB.DSN)
	assert.Equal(t, []string{"k2", "k3"}, cfg.Crypto.LegacyKeys)
	assert.Equal(t, []string{"https://app.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.PendingTTL)
}

func TestLoad_MissingFile(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Setenv("DMCORE_CRYPTO_CONVERSATION_SECRET", "too-short")
	t.Setenv("DMCORE_DB_DRIVER", "mysql")

	_, err := Load("")
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"auth.jwt_secret", "crypto.conversation_secret", `"mysql"`} {
		assert.True(t, strings.Contains(msg, want), "expected %q in %q", want, msg)
	}
}

func TestValidate_Limits(t *testing.T) {
	cfg := &Config{
		HTTP:     HTTPConfig{Port: 8000},
		DB:       DBConfig{Driver: DriverSQLite, DSN: "x"},
		Auth:     AuthConfig{JWTSecret: "s"},
		Crypto:   CryptoConfig{ConversationSecret: testSecret},
		Messages: MessagesConfig{MaxLength: 10, RatePerSecond: 1, RateBurst: 1},
	}
	require.NoError(t, cfg.Validate())

	cfg.Messages.MaxLength = 0
	assert.Error(t, cfg.Validate())
}
