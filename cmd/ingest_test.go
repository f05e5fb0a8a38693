package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdas-ops/tddf-cli/internal/config"
)

func setTestConfig(t *testing.T, c *config.Config) {
	t.Helper()
	orig := cfg
	cfg = c
	t.Cleanup(func() { cfg = orig })
}

func TestIngestCmd_RunE_FailsOnValidation(t *testing.T) {
	setTestConfig(t, &config.Config{
		Store: config.StoreConfig{Driver: "postgres"}, // missing database_url
	})

	ingestCmd.SetContext(context.Background())
	err := ingestCmd.RunE(ingestCmd, []string{"nonexistent.tddf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestIngestCmd_RunE_IngestsFile(t *testing.T) {
	dir := t.TempDir()

	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(dir, "test.db")
	c.Ingest.MaxConcurrentFiles = 2
	c.Decode.Encoding = "utf8"
	setTestConfig(t, c)

	path := filepath.Join(dir, "settle.tddf")
	require.NoError(t, os.WriteFile(path, []byte("00000001000010001DT"), 0644))

	ingestCmd.SetContext(context.Background())
	err := ingestCmd.RunE(ingestCmd, []string{path})
	require.NoError(t, err)
}

func TestIngestCmd_RunE_ReportsFailedFiles(t *testing.T) {
	dir := t.TempDir()

	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(dir, "fail.db")
	c.Ingest.MaxConcurrentFiles = 2
	setTestConfig(t, c)

	ingestCmd.SetContext(context.Background())
	err := ingestCmd.RunE(ingestCmd, []string{filepath.Join(dir, "missing.tddf")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 files failed")
}

func TestMigrateCmd_RunE_CreatesSchema(t *testing.T) {
	dir := t.TempDir()

	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(dir, "migrate.db")
	c.Ingest.MaxConcurrentFiles = 1
	setTestConfig(t, c)

	migrateCmd.SetContext(context.Background())
	require.NoError(t, migrateCmd.RunE(migrateCmd, nil))
	assert.FileExists(t, c.Store.DatabaseURL)
}
