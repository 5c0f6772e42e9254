package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/seedream-pipeline/constants"
	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
)

func newTrackingRepo(t *testing.T) *trackingRepo {
	t.Helper()
	repo := NewTrackingRepository(openTempDB(t), discardLogger()).(*trackingRepo)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return repo
}

func start(id int64) entity.ProcessingStart {
	return entity.ProcessingStart{
		RecordID:       id,
		Style:          "Photo",
		Mode:           "General",
		SourceAssetURL: "https://img.example/" + "p.png",
		RecordName:     "Player",
		RunID:          "run-1",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTempDB(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestGetMissingEntry(t *testing.T) {
	repo := newTrackingRepo(t)
	_, err := repo.Get(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMarkProcessingCreatesEntry(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	e, err := repo.MarkProcessing(ctx, start(7))
	require.NoError(t, err)
	assert.Equal(t, constants.StatusProcessing, e.Status)
	assert.Equal(t, 0, e.RetryCount)
	assert.Equal(t, "Photo", e.Style)
	assert.Equal(t, "General", e.Mode)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "https://img.example/p.png", e.SourceAssetURL)
	require.NotNil(t, e.StartedAt)
	assert.Empty(t, e.ErrorLog)
	assert.True(t, e.UpdatedAt.After(e.CreatedAt) || e.UpdatedAt.Equal(e.CreatedAt))
}

func TestCompletedIsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	_, err := repo.MarkProcessing(ctx, start(1))
	require.NoError(t, err)
	ref := entity.OutputReference{LocalPath: "/out/1_generated.png", PublicURL: "https://cdn/x/1.png"}
	require.NoError(t, repo.MarkCompleted(ctx, 1, ref, 1500*time.Millisecond))

	e, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, e.Status)
	assert.Equal(t, ref.LocalPath, e.OutputPath)
	assert.Equal(t, ref.PublicURL, e.OutputURL)
	require.NotNil(t, e.DurationSeconds)
	assert.InDelta(t, 1.5, *e.DurationSeconds, 0.001)

	_, err = repo.MarkProcessing(ctx, start(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))

	err = repo.MarkFailed(ctx, 1, "Unknown: late", time.Second)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))

	e, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, e.Status)
	assert.Empty(t, e.ErrorLog)
}

func TestMarkFailedIncrementsAndAppends(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	for i, msg := range []string{"AcquisitionFailure: 404", "GenerationTimeout: 2m elapsed"} {
		_, err := repo.MarkProcessing(ctx, start(5))
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed(ctx, 5, msg, time.Second))

		e, err := repo.Get(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, constants.StatusFailed, e.Status)
		assert.Equal(t, i+1, e.RetryCount)
		assert.Equal(t, msg, e.LastError())
	}

	e, err := repo.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"AcquisitionFailure: 404", "GenerationTimeout: 2m elapsed"}, e.ErrorLog)
}

func TestMarkCompletedRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	require.NoError(t, repo.UpsertStatus(ctx, 9, constants.StatusPending))
	err := repo.MarkCompleted(ctx, 9, entity.OutputReference{LocalPath: "x"}, time.Second)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))

	err = repo.MarkFailed(ctx, 404, "Unknown: x", time.Second)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestResetStuckLeavesRetryCount(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	_, err := repo.MarkProcessing(ctx, start(3))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, 3, "SinkFailure: disk full", time.Second))
	_, err = repo.MarkProcessing(ctx, start(3))
	require.NoError(t, err)
	_, err = repo.MarkProcessing(ctx, start(4))
	require.NoError(t, err)

	ids, err := repo.ResetStuck(ctx, constants.StuckMarker)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{3, 4}, ids)

	e, err := repo.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, []string{"SinkFailure: disk full", constants.StuckMarker}, e.ErrorLog)

	e, err = repo.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, e.RetryCount)

	ids, err = repo.ResetStuck(ctx, constants.StuckMarker)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListRetryCandidates(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	fail := func(id int64, times int) {
		for i := 0; i < times; i++ {
			_, err := repo.MarkProcessing(ctx, start(id))
			require.NoError(t, err)
			require.NoError(t, repo.MarkFailed(ctx, id, "Unknown: x", time.Second))
		}
	}
	fail(10, 1)
	fail(11, 2)
	fail(12, 3)
	_, err := repo.MarkProcessing(ctx, start(13))
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, 13, entity.OutputReference{LocalPath: "p"}, time.Second))

	got, err := repo.List(ctx, ListFilter{
		Statuses:     []constants.TrackingStatus{constants.StatusFailed},
		RetryCountLT: 3,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].RecordID)
	assert.Equal(t, int64(11), got[1].RecordID)
	assert.Len(t, got[1].ErrorLog, 2)

	got, err = repo.List(ctx, ListFilter{
		Statuses:     []constants.TrackingStatus{constants.StatusFailed},
		RetryCountLT: 3,
		IDs:          []int64{11, 12},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].RecordID)

	got, err = repo.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestGetManyAndCounts(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	_, err := repo.MarkProcessing(ctx, start(1))
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, 1, entity.OutputReference{LocalPath: "p"}, time.Second))
	_, err = repo.MarkProcessing(ctx, start(2))
	require.NoError(t, err)
	require.NoError(t, repo.UpsertStatus(ctx, 3, constants.StatusPending))

	m, err := repo.GetMany(ctx, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Len(t, m, 3)
	assert.Equal(t, constants.StatusCompleted, m[1].Status)
	assert.Nil(t, m[4])

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []entity.StatusCount{
		{Status: "pending", Count: 1},
		{Status: "processing", Count: 1},
		{Status: "completed", Count: 1},
		{Status: "failed", Count: 0},
	}, counts)
}

func TestAppendErrorNeverTruncates(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	require.NoError(t, repo.UpsertStatus(ctx, 8, constants.StatusPending))
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendError(ctx, 8, "Unknown: note"))
	}
	e, err := repo.Get(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, e.ErrorLog, 5)

	err = repo.AppendError(ctx, 99, "Unknown: nope")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestUpsertStatusRejectsIllegalMove(t *testing.T) {
	ctx := context.Background()
	repo := newTrackingRepo(t)

	err := repo.UpsertStatus(ctx, 20, constants.StatusCompleted)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))

	require.NoError(t, repo.UpsertStatus(ctx, 20, constants.StatusProcessing))
	e, err := repo.Get(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusProcessing, e.Status)

	err = repo.UpsertStatus(ctx, 20, constants.TrackingStatus("queued"))
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
