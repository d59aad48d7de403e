package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/forum/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FORUM_CONFIG", "PORT", "LOG_LEVEL", "DATABASE_URL", "SECRET_KEY", "ENVIRONMENT",
		"REDIS_ADDR", "REDIS_DB", "EMAIL_BACKEND", "SMTP_HOST", "MEDIA_BACKEND",
		"MEDIA_BUCKET", "CORS_ORIGINS", "RUN_WORKER", "NATS_URL",
	} {
		t.Setenv(key, "")
	}
}

// TestLoad_Defaults verifies the server boots with development defaults.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "console", cfg.Email.Backend)
	assert.Equal(t, "local", cfg.Media.Backend)
	assert.False(t, cfg.RunWorker)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RUN_WORKER", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.RunWorker)
}

func TestLoadWithFile_EnvWins(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "forum.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
secret_key: from-file
email:
  backend: smtp
  host: mail.example
media:
  backend: s3
  bucket: avatars
`), 0o600))
	t.Setenv("PORT", "7001")

	cfg, err := config.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.Port)
	assert.Equal(t, "from-file", cfg.SecretKey)
	assert.Equal(t, "smtp", cfg.Email.Backend)
	assert.Equal(t, "mail.example", cfg.Email.Host)
	assert.Equal(t, "avatars", cfg.Media.Bucket)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithFile_Missing(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()
	cfg.Environment = "production"
	assert.ErrorContains(t, cfg.Validate(), "SECRET_KEY")

	cfg = config.Load()
	cfg.Email.Backend = "smtp"
	assert.ErrorContains(t, cfg.Validate(), "SMTP_HOST")

	cfg = config.Load()
	cfg.Media.Backend = "ftp"
	assert.ErrorContains(t, cfg.Validate(), "unknown media backend")

	cfg = config.Load()
	cfg.Media.Backend = "gcs"
	assert.ErrorContains(t, cfg.Validate(), "MEDIA_BUCKET")
}
