package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestProfileAppliesUnsetFlags(t *testing.T) {
	path := writeProfile(t, `
limit: 25
player_ids: [7, 8]
filter:
  name:
    $in: [Saka, Rice]
style: anime
retry_failed: false
max_retries: 5
`)
	cmd := NewRootCommand("test")
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, run.Flags().Parse([]string{"--limit", "3"}))

	p, err := loadProfile(path)
	require.NoError(t, err)
	opts := &RunOptions{Limit: 3, MaxRetries: 3}
	require.NoError(t, p.apply(run.Flags(), opts))

	assert.Equal(t, 3, opts.Limit, "explicit flag wins")
	assert.Equal(t, []int64{7, 8}, opts.PlayerIDs)
	assert.Equal(t, "anime", opts.Style)
	assert.Equal(t, 5, opts.MaxRetries)
	assert.False(t, opts.RetryFailed)

	var filter map[string]any
	require.NoError(t, json.Unmarshal([]byte(opts.Filter), &filter))
	assert.Equal(t, map[string]any{"name": map[string]any{"$in": []any{"Saka", "Rice"}}}, filter)
}

func TestProfileRejectsUnknownKeys(t *testing.T) {
	path := writeProfile(t, "limt: 3\n")
	_, err := loadProfile(path)
	require.Error(t, err)
}

func TestEmptyProfile(t *testing.T) {
	p, err := loadProfile(writeProfile(t, ""))
	require.NoError(t, err)
	opts := &RunOptions{Limit: 1}
	cmd := NewRunCommand(&RootOptions{})
	require.NoError(t, p.apply(cmd.Flags(), opts))
	assert.Equal(t, 1, opts.Limit)
}
