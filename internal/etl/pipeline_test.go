package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/finguard/pkg/models"
)

const testSource = "fraud_transactions"

type pipelineFixture struct {
	*loaderFixture
	src        *sliceSource
	watermarks *memWatermarks
	pipeline   *Pipeline
}

func newPipelineFixture(rows ...map[string]string) *pipelineFixture {
	f := &pipelineFixture{
		loaderFixture: newLoaderFixture(),
		src:           &sliceSource{name: "fraud.csv", rows: rows},
		watermarks:    newMemWatermarks(),
	}
	f.pipeline = NewPipeline(f.src, f.loader, f.watermarks, DefaultRuleConfig(), testSource)
	f.pipeline.Extractor.NewBatchID = fixedIDs("run-1", "run-2", "run-3")
	return f
}

func day(d int) string {
	return time.Date(2019, 1, d, 12, 0, 0, 0, time.UTC).Format("2006-01-02 15:04:05")
}

func TestPipelineRunLoadsAndAdvances(t *testing.T) {
	f := newPipelineFixture(
		txRow(day(1), "1", "10", "0"),
		txRow(day(3), "2", "-5", "1"),
		txRow(day(2), "3", "12", "0"),
	)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.BatchID)
	assert.Equal(t, 3, res.Extracted)
	assert.Equal(t, 2, res.FactCandidates)
	assert.Equal(t, 3, res.Stats.RawRows)
	assert.Equal(t, 2, res.Stats.FactRows)
	assert.Equal(t, res.Issues, res.Stats.IssueRows)
	assert.Equal(t, 1, res.IssueSummary[models.IssueInvalidAmount])
	assert.True(t, res.Advanced)
	assert.Equal(t, models.EpochWatermark, res.PreviousWatermark)

	want := time.Date(2019, 1, 3, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, want, res.NewWatermark)
	assert.Equal(t, want, f.watermarks.marks[testSource])
}

func TestPipelineRerunWithoutNewDataIsNoop(t *testing.T) {
	f := newPipelineFixture(
		txRow(day(1), "1", "10", "0"),
		txRow(day(2), "2", "11", "0"),
	)
	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	rawCalls, factCalls, issueCalls := f.raw.calls, f.fact.calls, f.issues.calls

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Extracted)
	assert.False(t, res.Advanced)
	assert.Equal(t, res.PreviousWatermark, res.NewWatermark)
	assert.Equal(t, rawCalls, f.raw.calls)
	assert.Equal(t, factCalls, f.fact.calls)
	assert.Equal(t, issueCalls, f.issues.calls)
	assert.Equal(t, 1, f.watermarks.advances)
}

func TestPipelineFailedLoadKeepsWatermark(t *testing.T) {
	f := newPipelineFixture(
		txRow(day(1), "1", "10", "0"),
		txRow(day(2), "2", "11", "0"),
		txRow(day(3), "3", "12", "0"),
	)
	f.loader.FactBatchSize = 1
	f.fact.fail = func(call int) error {
		if call >= 2 {
			return errSinkDown
		}
		return nil
	}

	_, err := f.pipeline.Run(context.Background())
	require.ErrorIs(t, err, ErrLoadFailed)

	var lerr *LoadError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 1, lerr.Chunk)
	assert.Equal(t, 1, lerr.Committed)
	assert.Zero(t, f.watermarks.advances)
	assert.Equal(t, models.EpochWatermark, f.watermarks.marks[testSource])

	// The next run sees the whole batch again.
	f.fact.fail = nil
	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Extracted)
	assert.Equal(t, "run-2", res.BatchID)
	assert.True(t, res.Advanced)
}

func TestPipelineAdvanceFailureIsStorageError(t *testing.T) {
	f := newPipelineFixture(txRow(day(1), "1", "10", "0"))
	f.watermarks.advErr = errors.New("control table locked")

	res, err := f.pipeline.Run(context.Background())
	require.ErrorIs(t, err, ErrStorageUnavailable)

	var serr *StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, StageAfterLoad, serr.Stage)
	assert.Contains(t, serr.Error(), "watermark is stale")

	require.NotNil(t, res)
	assert.False(t, res.Advanced)
	assert.Len(t, f.raw.rows(), 1)
	assert.Len(t, f.fact.rows(), 1)
}

func TestPipelineWatermarkReadFailure(t *testing.T) {
	f := newPipelineFixture(txRow(day(1), "1", "10", "0"))
	f.watermarks.getErr = errors.New("timeout")

	_, err := f.pipeline.Run(context.Background())

	var serr *StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, StageBeforeLoad, serr.Stage)
	assert.Zero(t, f.raw.calls)
}

func TestPipelineDryRun(t *testing.T) {
	f := newPipelineFixture(
		txRow(day(1), "1", "10", "0"),
		txRow(day(2), "2", "0", "0"),
	)
	f.pipeline.DryRun = true

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Extracted)
	assert.Equal(t, 1, res.FactCandidates)
	assert.NotZero(t, res.Issues)
	assert.False(t, res.Advanced)
	assert.Zero(t, f.raw.calls)
	assert.Zero(t, f.fact.calls)
	assert.Zero(t, f.issues.calls)
	assert.Zero(t, f.watermarks.advances)
}

func TestPipelineUnknownEventTimesDoNotAdvance(t *testing.T) {
	f := newPipelineFixture(
		txRow("", "1", "10", "0"),
		txRow("garbage", "2", "11", "0"),
	)

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.RawRows)
	assert.False(t, res.Advanced)
	assert.Zero(t, f.watermarks.advances)

	// Rows without an event time are picked up again.
	res, err = f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Extracted)
}

func TestPipelineFullIgnoresStoredWatermark(t *testing.T) {
	f := newPipelineFixture(txRow(day(1), "1", "10", "0"))
	f.watermarks.marks[testSource] = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	f.pipeline.Full = true

	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extracted)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), f.watermarks.marks[testSource],
		"advance never moves the watermark backwards")
}

func TestPipelineUsesRunLock(t *testing.T) {
	f := newPipelineFixture(txRow(day(1), "1", "10", "0"))
	locker := &fakeLocker{}
	f.pipeline.Locker = locker

	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)

	locker.err = errors.New("held")
	_, err = f.pipeline.Run(context.Background())
	assert.EqualError(t, err, "held")
	assert.Equal(t, 1, f.raw.calls)
}
