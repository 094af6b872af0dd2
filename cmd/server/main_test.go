package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dmcore/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		HTTP:     config.HTTPConfig{Host: "127.0.0.1", Port: 8000, CORSOrigins: []string{"http://localhost:3000"}},
		DB:       config.DBConfig{Driver: config.DriverSQLite, DSN: "file:" + filepath.Join(t.TempDir(), "dm.db")},
		Auth:     config.AuthConfig{JWTSecret: "jwt-secret"},
		Crypto:   config.CryptoConfig{ConversationSecret: "0123456789abcdef0123456789abcdef"},
		Messages: config.MessagesConfig{MaxLength: 100, RatePerSecond: 1, RateBurst: 1},
	}
}

func TestApp_Commands(t *testing.T) {
	app := newApp()
	require.NotNil(t, app.Command("serve"))
	require.NotNil(t, app.Command("migrate"))
}

func TestOpenStore_SQLiteWiring(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	st, err := openStore(ctx, cfg)
	require.NoError(t, err)
	defer st.db.Close()
	require.NoError(t, st.migrate(ctx, st.db))

	h, cleanup, err := buildHandler(ctx, cfg, zap.NewNop(), st)
	require.NoError(t, err)
	defer cleanup()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.Driver = "mysql"
	_, err := openStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "dm.db")
	t.Setenv("DMCORE_AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("DMCORE_CRYPTO_CONVERSATION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DMCORE_DB_DSN", dsn)

	require.NoError(t, newApp().Run([]string{"dmcore", "migrate"}))
}
