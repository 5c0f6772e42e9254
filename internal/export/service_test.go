package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
	"github.com/joseph-ayodele/seedream-pipeline/internal/repository"
)

func newTracking(t *testing.T) repository.TrackingRepository {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(ctx, repository.Config{
		Driver:   common.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "tracking.db"),
		Attempts: 1,
	}, log)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return repository.NewTrackingRepository(db, log)
}

func TestExportTrackingXLSX(t *testing.T) {
	ctx := context.Background()
	tracking := newTracking(t)

	_, err := tracking.MarkProcessing(ctx, entity.ProcessingStart{RecordID: 1, RecordName: "Saka", Style: "Photo", Mode: "General"})
	require.NoError(t, err)
	require.NoError(t, tracking.MarkCompleted(ctx, 1, entity.OutputReference{LocalPath: "/out/1_generated.png", PublicURL: "https://cdn/1.png"}, 1500*time.Millisecond))

	_, err = tracking.MarkProcessing(ctx, entity.ProcessingStart{RecordID: 2, RecordName: "Rice"})
	require.NoError(t, err)
	require.NoError(t, tracking.MarkFailed(ctx, 2, "AcquisitionFailure: 404", time.Second))
	_, err = tracking.MarkProcessing(ctx, entity.ProcessingStart{RecordID: 2})
	require.NoError(t, err)
	require.NoError(t, tracking.MarkFailed(ctx, 2, "GenerationTimeout: no result", time.Second))

	data, err := NewService(tracking, nil).ExportTrackingXLSX(ctx, Filter{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{trackingSheet, errorsSheet}, f.GetSheetList())

	rows, err := f.GetRows(trackingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Record ID", rows[0][0])
	assert.Equal(t, []string{"1", "Saka", "completed", "0"}, rows[1][:4])
	assert.Equal(t, "/out/1_generated.png", rows[1][8])
	assert.Equal(t, []string{"2", "Rice", "failed", "2"}, rows[2][:4])
	assert.Equal(t, "GenerationTimeout: no result", rows[2][7])

	errRows, err := f.GetRows(errorsSheet)
	require.NoError(t, err)
	require.Len(t, errRows, 3)
	assert.Equal(t, []string{"2", "1", "AcquisitionFailure: 404"}, errRows[1])
	assert.Equal(t, []string{"2", "2", "GenerationTimeout: no result"}, errRows[2])
}

func TestExportTrackingXLSX_StatusFilter(t *testing.T) {
	ctx := context.Background()
	tracking := newTracking(t)
	require.NoError(t, tracking.UpsertStatus(ctx, 10, constants.StatusPending))
	_, err := tracking.MarkProcessing(ctx, entity.ProcessingStart{RecordID: 11})
	require.NoError(t, err)

	data, err := NewService(tracking, nil).ExportTrackingXLSX(ctx, Filter{Statuses: []constants.TrackingStatus{constants.StatusPending}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	rows, err := f.GetRows(trackingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "10", rows[1][0])
}
