package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/auth"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashKeyCommand(t *testing.T) {
	out, err := execute(t, "", "hash-key", "--key", "s3cret")
	require.NoError(t, err)
	ok, err := auth.VerifyOperatorKey("s3cret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, ok)

	out, err = execute(t, "from-stdin\n", "hash-key")
	require.NoError(t, err)
	ok, err = auth.VerifyOperatorKey("from-stdin", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = execute(t, "", "hash-key")
	assert.ErrorContains(t, err, "no input")
}

func TestTokenCommand_Validation(t *testing.T) {
	_, err := execute(t, "", "token")
	assert.ErrorContains(t, err, "operator")

	_, err = execute(t, "", "token", "--operator", "olga", "--role", "root")
	assert.ErrorContains(t, err, "unknown role")

	t.Setenv("MAMORI_JWT_PRIVATE_KEY", "")
	t.Setenv("MAMORI_JWT_PUBLIC_KEY", "")
	_, err = execute(t, "", "token", "--operator", "olga")
	assert.ErrorContains(t, err, "must be set")
}

func TestActionsArgs(t *testing.T) {
	_, err := execute(t, "", "actions", "approve")
	assert.Error(t, err)

	_, err = execute(t, "", "actions", "approve", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid action id")

	_, err = execute(t, "", "actions", "list", "--status", "done")
	assert.ErrorContains(t, err, "invalid status")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug").Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	logger := newLogger(&buf, "verbose")
	logger.Debug("dropped")
	assert.Empty(t, buf.String(), "unknown level falls back to info")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestGenKeyCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "", "genkey", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "MAMORI_JWT_PRIVATE_KEY=")

	_, err = execute(t, "", "genkey", "--dir", dir)
	assert.ErrorIs(t, err, auth.ErrKeyExists)
}
