package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
	"github.com/joseph-ayodele/seedream-pipeline/internal/repository"
)

// seedTracking points the environment at a fresh sqlite store holding one
// completed and one failed entry.
func seedTracking(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking.db")
	t.Setenv("TRACKING_DB_DRIVER", common.DriverSQLite)
	t.Setenv("TRACKING_DB_URL", path)
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "output"))

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(ctx, repository.Config{
		Driver:   common.DriverSQLite,
		DSN:      path,
		Attempts: 1,
		Delay:    10 * time.Millisecond,
	}, log)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	tracking := repository.NewTrackingRepository(db, log)
	_, err = tracking.MarkProcessing(ctx, entity.ProcessingStart{RecordID: 1, RecordName: "Saka", Style: "Photo", Mode: "General"})
	require.NoError(t, err)
	require.NoError(t, tracking.MarkCompleted(ctx, 1, entity.OutputReference{LocalPath: "/out/1_generated.png"}, 3*time.Second))

	_, err = tracking.MarkProcessing(ctx, entity.ProcessingStart{RecordID: 2, RecordName: "Rice", Style: "Photo", Mode: "General"})
	require.NoError(t, err)
	require.NoError(t, tracking.MarkFailed(ctx, 2, "[AcquisitionFailure] download: 404", time.Second))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-format", "text"))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand_Counts(t *testing.T) {
	seedTracking(t)

	out, err := execute(t, "status", "--format", "json")
	require.NoError(t, err)

	var got struct {
		Total    int                  `json:"total"`
		Statuses []entity.StatusCount `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, []entity.StatusCount{
		{Status: "pending", Count: 0},
		{Status: "processing", Count: 0},
		{Status: "completed", Count: 1},
		{Status: "failed", Count: 1},
	}, got.Statuses)
}

func TestStatusCommand_Entry(t *testing.T) {
	seedTracking(t)

	out, err := execute(t, "status", "--id", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Rice")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "download: 404")
}

func TestStatusCommand_UnknownEntry(t *testing.T) {
	seedTracking(t)

	_, err := execute(t, "status", "--id", "99")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestExportCommand(t *testing.T) {
	dir := seedTracking(t)
	path := filepath.Join(dir, "report.xlsx")

	out, err := execute(t, "export", "-o", path, "--status", "FAILED")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Tracking")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[1][0])
}

func TestExportCommand_BadStatus(t *testing.T) {
	seedTracking(t)

	_, err := execute(t, "export", "--status", "done")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_MissingPrompt(t *testing.T) {
	dir := seedTracking(t)

	_, err := execute(t, "run", "--prompt-file", filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
