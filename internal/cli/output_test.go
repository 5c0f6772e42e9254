package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
)

var sampleSummary = entity.Summary{
	TotalFetched:     12,
	SkippedCompleted: 4,
	SkippedFailed:    2,
	SkippedNoImage:   1,
	Processed:        5,
	Succeeded:        3,
	Failed:           2,
}

func TestWriteSummary_JSONGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, "json", sampleSummary))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "summary_json", buf.Bytes())
}

func TestWriteSummary_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, "text", sampleSummary))
	out := buf.String()
	for _, label := range []string{"Run summary", "total fetched", "skipped (completed)", "skipped (no image)", "processed", "succeeded", "failed"} {
		assert.Contains(t, out, label)
	}
	assert.Contains(t, out, "12")
}

func TestWriteStatusCounts_JSON(t *testing.T) {
	var buf bytes.Buffer
	counts := []entity.StatusCount{{Status: "completed", Count: 3}, {Status: "failed", Count: 1}}
	require.NoError(t, writeStatusCounts(&buf, "json", counts))
	assert.JSONEq(t, `{"total":4,"statuses":[{"status":"completed","count":3},{"status":"failed","count":1}]}`, buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitFor(t *testing.T) {
	invalid := common.NewAppError("INVALID_ARGUMENT", "prompt", common.ErrInvalidInput)
	assert.Equal(t, ExitCommandError, GetExitCode(exitFor("run", invalid)))

	session := common.NewAppError(common.KindSession, "expired", nil)
	err := exitFor("run aborted", session)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "SessionFailure")
}
