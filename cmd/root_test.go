package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"decode", "ingest", "fetch", "serve", "upload", "status", "export", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "tddf-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestDecodeCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"summary", "strict-dates", "encoding"} {
		flag := decodeCmd.Flags().Lookup(flagName)
		require.NotNil(t, flag, "decode should have --%s flag", flagName)
	}
}

func TestDecodeCommand_HasLayoutsSubcommand(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range decodeCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["layouts"], "decode should have layouts subcommand")
}

func TestIngestCommand_Flags(t *testing.T) {
	flag := ingestCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag, "ingest should have --concurrency flag")
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, ingestCmd.Flags().Lookup("encoding"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestUploadCommand_Flags(t *testing.T) {
	flag := uploadCmd.Flags().Lookup("dir")
	require.NotNil(t, flag, "upload should have --dir flag")
	assert.Equal(t, ".", flag.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	require.NotNil(t, exportCmd.Flags().Lookup("status"))
}
