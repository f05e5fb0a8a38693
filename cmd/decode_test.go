package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mdas-ops/tddf-cli/internal/config"
)

func TestDecodeCmd_RunE_DecodesFile(t *testing.T) {
	c := &config.Config{}
	c.Decode.Encoding = "utf8"
	setTestConfig(t, c)

	path := filepath.Join(t.TempDir(), "settle.tddf")
	require.NoError(t, os.WriteFile(path, []byte("00000001000010001BH\n00000002000010002DT\n"), 0644))

	decodeSummary = true
	t.Cleanup(func() { decodeSummary = false })

	decodeCmd.SetContext(context.Background())
	require.NoError(t, decodeCmd.RunE(decodeCmd, []string{path}))
}

func TestDecodeCmd_RunE_MissingFile(t *testing.T) {
	c := &config.Config{}
	setTestConfig(t, c)

	decodeCmd.SetContext(context.Background())
	err := decodeCmd.RunE(decodeCmd, []string{"/nonexistent/f.tddf"})
	require.Error(t, err)
}

func TestLayoutsCmd_RunE(t *testing.T) {
	layoutsCmd.SetContext(context.Background())
	require.NoError(t, layoutsCmd.RunE(layoutsCmd, nil))
}
