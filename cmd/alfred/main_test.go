package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mail-alfred/internal/common"
)

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
	cfgFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ALFRED_LLM_PROVIDER", "")

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "alfred dev\n", stdout)
}

func TestRunCommand_DemoDryRun(t *testing.T) {
	stdout, _, err := executeCommand(t, "run", "--source", "demo", "--dry-run", "-c", "2", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Classification Summary")
	assert.Contains(t, stdout, "DRY RUN")
	assert.Contains(t, stdout, "already_classified")
}

func TestRunCommand_DemoVerboseLimit(t *testing.T) {
	stdout, _, err := executeCommand(t, "run", "--source", "demo", "--dry-run", "-v", "-n", "3", "--log-level", "error")
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(stdout, "(dry run)"), stdout)
}

func TestRunCommand_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "zero concurrency", args: []string{"run", "--source", "demo", "-c", "0"}},
		{name: "negative limit", args: []string{"run", "--source", "demo", "-n", "-1"}},
		{name: "watch with zero interval", args: []string{"run", "--source", "demo", "-w", "--interval", "0"}},
		{name: "unknown source", args: []string{"run", "--source", "pop3"}},
		{name: "bad log level", args: []string{"run", "--source", "demo", "--log-level", "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestAuthSetSecret_UnknownKey(t *testing.T) {
	_, _, err := executeCommand(t, "auth", "set-secret", "github_token", "x")
	require.Error(t, err)

	var userErr *common.UserError
	require.True(t, errors.As(err, &userErr))
	assert.Contains(t, userErr.UserMessage, "openai_api_key")
}

func TestReadSecret(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "sk-test\n", want: "sk-test"},
		{input: "  padded  \r\nsecond line\n", want: "padded"},
		{input: "no newline", want: "no newline"},
		{input: "", want: ""},
	}

	for _, tt := range tests {
		got, err := readSecret(strings.NewReader(tt.input))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
