package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/wricardo/mcp-training/tictactoe/game/config"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName == "" {
		t.Error("AppName should not be empty")
	}
}

// parseConfig runs the root command with args, capturing the config the
// server command would start with.
func parseConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var (
		cfg    *config.Config
		cfgErr error
	)
	capture := func(ctx context.Context, cmd *cli.Command) error {
		cfg, cfgErr = loadConfig(cmd)
		return nil
	}

	root := newRootCommand()
	for _, c := range root.Commands {
		c.Action = capture
	}

	envFile := filepath.Join(t.TempDir(), "missing.env")
	argv := append([]string{"tictactoe", "--env-file", envFile}, args...)
	require.NoError(t, root.Run(context.Background(), argv))
	return cfg, cfgErr
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(t)
	require.NoError(t, err)
	require.NotNil(t, cfg, "default command should be server")

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("HOST", "0.0.0.0")

	cfg, err := parseConfig(t, "--port", "9090", "--debug", "--store", "file", "--sessions-dir", "/tmp/games", "server")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.BackendFile, cfg.Store.Backend)
	assert.Equal(t, "/tmp/games", cfg.Store.SessionsDir)
}

func TestLoadConfig_StdioAlias(t *testing.T) {
	cfg, err := parseConfig(t, "--api-url", "http://example.test", "mcp")
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", cfg.APIURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := parseConfig(t, "--store", "cassandra")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "cassandra")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	cfg, err := config.Parse()
	require.NoError(t, err)
	return cfg
}

func TestNewApp_Memory(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.close(context.Background())

	_, err = a.service.Create(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, a.manager.Count())
}

func TestNewApp_File(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendFile
	cfg.Store.SessionsDir = t.TempDir()
	ctx := context.Background()

	a, err := newApp(ctx, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	game, err := a.service.Create(ctx, "alice")
	require.NoError(t, err)
	a.close(ctx)

	// a second process restores the lobby
	b, err := newApp(ctx, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer b.close(ctx)

	restored, err := b.service.Get(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", restored.Creator)
}

func TestNewApp_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	ctx := context.Background()

	a, err := newApp(ctx, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	game, err := a.service.Create(ctx, "alice")
	require.NoError(t, err)
	a.close(ctx)

	assert.True(t, mr.Exists(cfg.Redis.KeyPrefix+game.ID))
}

func TestNewApp_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendRedis
	cfg.Redis.Addr = addr

	_, err := newApp(context.Background(), cfg, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestHandlerRoutes(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer a.close(context.Background())

	srv := httptest.NewServer(a.handler("http://" + cfg.Addr()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIReachable(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	assert.True(t, apiReachable(context.Background(), healthy.URL))
	assert.False(t, apiReachable(context.Background(), "http://127.0.0.1:1"))
}
