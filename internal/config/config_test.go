package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "tddf.db", cfg.Store.DatabaseURL)
	assert.False(t, cfg.Decode.StrictDates)
	assert.Equal(t, "utf8", cfg.Decode.Encoding)
	assert.Equal(t, 4, cfg.Ingest.MaxConcurrentFiles)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data", cfg.Server.DataDir)
	assert.Equal(t, 20, cfg.Server.MaxQueueDepth)
	assert.Equal(t, "inbox", cfg.Uploader.InboxDir)
	assert.Equal(t, "logs", cfg.Uploader.LogsDir)
	assert.Equal(t, "processed", cfg.Uploader.ProcessedDir)
	assert.Equal(t, int64(25*1024*1024), cfg.Uploader.ChunkThresholdBytes)
	assert.Equal(t, 3, cfg.Uploader.MaxRetries)
	assert.Equal(t, 300, cfg.Uploader.WakeIntervalSecs)
	assert.InDelta(t, 5.0, cfg.Uploader.RequestsPerSec, 0.001)
	assert.Equal(t, 21, cfg.FTP.Port)
	assert.Equal(t, "/outbound", cfg.FTP.RemoteDir)
	assert.Equal(t, "*.tddf", cfg.FTP.Pattern)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/tddf
decode:
  strict_dates: true
log:
  level: debug
  format: console
server:
  port: 9090
uploader:
  chunk_threshold_bytes: 1048576
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tddf", cfg.Store.DatabaseURL)
	assert.True(t, cfg.Decode.StrictDates)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(1048576), cfg.Uploader.ChunkThresholdBytes)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Uploader.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TDDF_STORE_DRIVER", "postgres")
	t.Setenv("TDDF_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("TDDF_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config populated the way Load's defaults would.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "tddf.db"
	cfg.Ingest.MaxConcurrentFiles = 4
	cfg.Server.Port = 8080
	cfg.Server.DataDir = "data"
	cfg.Uploader.MaxRetries = 3
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.APIKeys = []string{"key-1"}

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Server.DataDir = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "server.api_keys is required")
	assert.Contains(t, err.Error(), "server.data_dir is required")
}

func TestValidateUpload_Required(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("upload")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "uploader.server_url is required")
	assert.Contains(t, err.Error(), "uploader.api_key is required")

	cfg.Uploader.ServerURL = "https://mdas.example.com"
	cfg.Uploader.APIKey = "secret"
	assert.NoError(t, cfg.Validate("upload"))
}

func TestValidateUpload_RetryBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Uploader.ServerURL = "https://mdas.example.com"
	cfg.Uploader.APIKey = "secret"

	cfg.Uploader.MaxRetries = 0
	err := cfg.Validate("upload")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries must be between 1 and 10")

	cfg.Uploader.MaxRetries = 11
	err = cfg.Validate("upload")
	assert.Error(t, err)

	cfg.Uploader.MaxRetries = 10
	assert.NoError(t, cfg.Validate("upload"))
}

func TestValidateFetch(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("fetch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ftp.host is required")
	assert.Contains(t, err.Error(), "ftp.user is required")

	cfg.FTP.Host = "ftp.bank.example.com"
	cfg.FTP.User = "settle"
	assert.NoError(t, cfg.Validate("fetch"))
}

func TestValidateIngest_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Ingest.MaxConcurrentFiles = 0
	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_files must be between 1 and 32")

	cfg.Ingest.MaxConcurrentFiles = 33
	err = cfg.Validate("ingest")
	assert.Error(t, err)

	cfg.Ingest.MaxConcurrentFiles = 32
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "oracle"

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	err = cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
