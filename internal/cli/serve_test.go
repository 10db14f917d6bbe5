package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpolania/DeltaNEAR-sub000/internal/api"
	"github.com/bpolania/DeltaNEAR-sub000/internal/catalog"
	"github.com/bpolania/DeltaNEAR-sub000/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deltanear.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadServeConfigAddrOverride(t *testing.T) {
	path := writeConfig(t, "[server]\nhttp_addr = \":7000\"\n")

	cfg, err := loadServeConfig(&ServeOptions{RootOptions: &RootOptions{}, ConfigPath: path, Addr: "127.0.0.1:9999"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.HTTPAddr)
}

func TestLoadServeConfigInvalid(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"loud\"\n")

	_, err := loadServeConfig(&ServeOptions{RootOptions: &RootOptions{}, ConfigPath: path})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown level "loud"`)
}

func TestLoadServeConfigMalformed(t *testing.T) {
	path := writeConfig(t, "[server\n")

	_, err := loadServeConfig(&ServeOptions{RootOptions: &RootOptions{}, ConfigPath: path})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		lc      config.LogConfig
		verbose bool
		enabled slog.Level
		muted   slog.Level
	}{
		{"info default", config.LogConfig{Level: "info", Format: "text"}, false, slog.LevelInfo, slog.LevelDebug},
		{"warn", config.LogConfig{Level: "WARN", Format: "text"}, false, slog.LevelWarn, slog.LevelInfo},
		{"error", config.LogConfig{Level: "error", Format: "json"}, false, slog.LevelError, slog.LevelWarn},
		{"verbose forces debug", config.LogConfig{Level: "error", Format: "text"}, true, slog.LevelDebug, slog.LevelDebug - 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newLogger(tt.lc, tt.verbose, &bytes.Buffer{})
			assert.True(t, logger.Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Enabled(context.Background(), tt.muted))
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(config.LogConfig{Level: "info", Format: "json"}, false, buf)
	logger.Info("ready", "addr", ":8080")
	assert.Contains(t, buf.String(), `"msg":"ready"`)
	assert.Contains(t, buf.String(), `"addr":":8080"`)
}

func TestBuildServiceDefaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.NoncePath = filepath.Join(t.TempDir(), "nonces")

	svc, err := buildService(&cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	require.NotNil(t, svc.server)
	require.NotNil(t, svc.registry)
	assert.Nil(t, svc.redis)
	svc.close(slog.Default())
}

func TestBuildServiceRedisSink(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:0"

	svc, err := buildService(&cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	assert.NotNil(t, svc.redis)
	svc.close(slog.Default())
}

func TestBuildServiceBadCatalog(t *testing.T) {
	cfg := config.Defaults()
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "absent.cue")

	_, err := buildService(&cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.cue")
}

func TestBuildServiceReportsCatalogHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
venues: "gmx-v2": {chain: "arbitrum", instruments: ["perp"]}
fees: {protocol_fee_bps: 5, treasury: "treasury.near"}
`), 0644))
	cat, err := catalog.Load(path)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Catalog.Path = path
	svc, err := buildService(&cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	defer svc.close(slog.Default())

	rec := httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v api.VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, cat.Hash(), v.CatalogHash)
	assert.Equal(t, catalog.SchemaHash(), v.CatalogSchemaHash)
}

func TestBuildServiceBadFees(t *testing.T) {
	cfg := config.Defaults()
	cfg.Fees.ProtocolFeeBps = 5

	_, err := buildService(&cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fees: treasury is required")
}

func TestBuildServiceBadSignerKeys(t *testing.T) {
	cfg := config.Defaults()
	cfg.Signer = config.SignerConfig{Mode: config.SignerSecp256k1, Keys: map[string]string{"alice.near": "nope"}}

	_, err := buildService(&cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer")
}

func TestRunServeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.HTTPAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	err := runServe(ctx, &cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
}
