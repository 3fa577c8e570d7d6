package etl

import (
	"context"
	"time"
)

// Source is a tabular reader. Each row maps column name to its raw text,
// and rows are returned in source order.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]map[string]string, error)
}

// Sink receives one record stream in chunks. BulkInsert writes a whole chunk
// and Commit makes it durable; Rollback discards a chunk that failed.
type Sink[T any] interface {
	Name() string
	BulkInsert(ctx context.Context, rows []T) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WatermarkStore persists the last processed event time per source.
type WatermarkStore interface {
	// Get returns the watermark for source, creating it at the epoch
	// sentinel if it does not exist yet.
	Get(ctx context.Context, source string) (time.Time, error)
	// Advance moves the watermark to max(current, ts).
	Advance(ctx context.Context, source string, ts time.Time) error
}

// Locker serialises runs for one source. The returned func releases the lock.
type Locker interface {
	Acquire(ctx context.Context, source string) (func(context.Context) error, error)
}
