package etl

import (
	"context"
	"math"
	"time"

	"github.com/BartekS5/finguard/pkg/logger"
	"github.com/BartekS5/finguard/pkg/metrics"
	"github.com/BartekS5/finguard/pkg/models"
)

// RetryPolicy bounds how often a failed chunk is rewritten.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// backoff returns the wait before the given retry (1-based), doubling from
// BaseBackoff and capped at MaxBackoff.
func (p RetryPolicy) backoff(retry int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	d := time.Duration(float64(p.BaseBackoff) * math.Pow(2, float64(retry-1)))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// LoadChunks writes rows to sink in consecutive chunks of size rows. Each
// chunk is written and committed before the next one starts. A failing chunk
// is rolled back and retried as a unit; when the retries run out the
// returned error is a *LoadError. The first result is the number of chunks
// committed.
func LoadChunks[T any](ctx context.Context, sink Sink[T], rows []T, size int, policy RetryPolicy) (int, error) {
	if size < 1 {
		size = len(rows)
	}
	committed := 0
	for start, chunk := 0, 0; start < len(rows); start, chunk = start+size, chunk+1 {
		if err := ctx.Err(); err != nil {
			return committed, &LoadError{Sink: sink.Name(), Chunk: chunk, Committed: committed, Err: err}
		}
		end := min(start+size, len(rows))

		attempts, err := writeChunk(ctx, sink, rows[start:end], chunk, policy)
		if err != nil {
			return committed, &LoadError{Sink: sink.Name(), Chunk: chunk, Attempts: attempts, Committed: committed, Err: err}
		}
		committed++
		metrics.RowsLoadedTotal.WithLabelValues(sink.Name()).Add(float64(end - start))
		logger.Debugf("Sink %s: committed chunk %d (rows %d-%d)", sink.Name(), chunk, start, end-1)
	}
	return committed, nil
}

func writeChunk[T any](ctx context.Context, sink Sink[T], rows []T, chunk int, policy RetryPolicy) (int, error) {
	var lastErr error
	maxAttempts := policy.attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := policy.backoff(attempt - 1)
			logger.Warnf("Sink %s: retrying chunk %d in %s (attempt %d/%d): %v",
				sink.Name(), chunk, wait, attempt, maxAttempts, lastErr)
			metrics.ChunkRetriesTotal.WithLabelValues(sink.Name()).Inc()
			if !sleep(ctx, wait) {
				return attempt - 1, ctx.Err()
			}
		}

		lastErr = sink.BulkInsert(ctx, rows)
		if lastErr == nil {
			lastErr = sink.Commit(ctx)
			if lastErr == nil {
				return attempt, nil
			}
		}
		if rbErr := sink.Rollback(ctx); rbErr != nil {
			logger.Warnf("Sink %s: rollback of chunk %d failed: %v", sink.Name(), chunk, rbErr)
		}
	}
	return maxAttempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// LoadStats counts the rows and chunks committed per stream.
type LoadStats struct {
	RawRows     int
	FactRows    int
	IssueRows   int
	RawChunks   int
	FactChunks  int
	IssueChunks int
}

// BatchedLoader persists the raw, fact and issue streams of one batch.
type BatchedLoader struct {
	Raw    Sink[models.Transaction]
	Fact   Sink[models.FactTransaction]
	Issues Sink[models.Issue]

	RawBatchSize   int
	FactBatchSize  int
	IssueBatchSize int
	Retry          RetryPolicy
}

func NewBatchedLoader(raw Sink[models.Transaction], fact Sink[models.FactTransaction], issues Sink[models.Issue]) *BatchedLoader {
	return &BatchedLoader{
		Raw:            raw,
		Fact:           fact,
		Issues:         issues,
		RawBatchSize:   1000,
		FactBatchSize:  500,
		IssueBatchSize: 300,
		Retry:          DefaultRetryPolicy(),
	}
}

// Load writes the raw stream, then the fact stream, then the issue stream.
// It stops at the first stream that fails.
func (l *BatchedLoader) Load(ctx context.Context, batch models.Batch, facts []models.FactTransaction, issues []models.Issue) (LoadStats, error) {
	var stats LoadStats
	var err error

	logger.Infof("Loader: Processing %d raw, %d fact and %d issue records...", batch.Len(), len(facts), len(issues))

	stats.RawChunks, err = LoadChunks(ctx, l.Raw, batch.Transactions, l.RawBatchSize, l.Retry)
	if err != nil {
		return stats, err
	}
	stats.RawRows = batch.Len()

	stats.FactChunks, err = LoadChunks(ctx, l.Fact, facts, l.FactBatchSize, l.Retry)
	if err != nil {
		return stats, err
	}
	stats.FactRows = len(facts)

	stats.IssueChunks, err = LoadChunks(ctx, l.Issues, issues, l.IssueBatchSize, l.Retry)
	if err != nil {
		return stats, err
	}
	stats.IssueRows = len(issues)

	return stats, nil
}
