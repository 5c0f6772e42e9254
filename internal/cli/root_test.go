package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("test")
	require.NotNil(t, cmd)
	assert.Equal(t, "seedream-pipeline", cmd.Use)
	assert.Equal(t, "test", cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	for _, name := range []string{"run", "login", "verify-session", "status", "export"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
	assert.Equal(t, "json", cmd.PersistentFlags().Lookup("log-format").DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand("test")
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	defaults := map[string]string{
		"limit":        "0",
		"max-retries":  "3",
		"retry-failed": "false",
		"prompt-file":  "MASTER_PROMPT.txt",
		"style":        "Photo",
		"mode":         "General",
	}
	for name, def := range defaults {
		f := run.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
	for _, name := range []string{"player-ids", "filter", "output-dir", "profile"} {
		assert.NotNil(t, run.Flags().Lookup(name), name)
	}
}

func TestInvalidFormatIsCommandError(t *testing.T) {
	cmd := NewRootCommand("test")
	cmd.SetArgs([]string{"status", "--format", "xml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "must be one of text, json")
}
