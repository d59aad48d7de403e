package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/forum/pkg/config"
	"github.com/inkwell-labs/forum/pkg/mail"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "forum version "+version)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out, err := execute(t, "health", "--url", srv.URL+"/health")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	_, err = execute(t, "health", "--url", srv.URL+"/down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestTagAdd_RequiresName(t *testing.T) {
	_, err := execute(t, "tag", "add")
	require.Error(t, err)

	_, err = execute(t, "tag", "add", "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9090\"\nemail:\n  backend: pigeon\n"), 0o600))

	var stderr bytes.Buffer
	opts := &options{configPath: path, logLevel: "debug", stderr: &stderr}
	cfg, err := opts.readConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	_, err = opts.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pigeon")

	t.Cleanup(func() { slog.SetDefault(newLogger(os.Stderr, "info")) })
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestAppSender(t *testing.T) {
	cfg := config.Defaults()
	a := &app{cfg: cfg}
	assert.IsType(t, &mail.ConsoleSender{}, a.sender())

	cfg.Email.Backend = "smtp"
	cfg.Email.Host = "smtp.example.com"
	assert.IsType(t, &mail.SMTPSender{}, a.sender())
}

func TestAppClose_ReverseOrder(t *testing.T) {
	var order []int
	a := &app{}
	for i := 1; i <= 3; i++ {
		a.onClose(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, a.Close())
	assert.Equal(t, []int{3, 2, 1}, order)
	require.NoError(t, a.Close())
}

func TestNewApp_DatabaseUnreachable(t *testing.T) {
	cfg := config.Defaults()
	cfg.DatabaseURL = "postgres://nobody@127.0.0.1:1/forum?sslmode=disable&connect_timeout=1"

	var (
		a   *app
		err error
	)
	require.NotPanics(t, func() { a, err = newApp(context.Background(), cfg) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
	assert.Nil(t, a)
}
