package etl

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleEvaluation means the batch handed to the rule engine broke its
	// contract. The run aborts before anything is loaded.
	ErrRuleEvaluation = errors.New("rule evaluation failed")
	// ErrLoadFailed means a sink chunk still failed after every retry.
	ErrLoadFailed = errors.New("load failed")
	// ErrStorageUnavailable means the watermark store could not be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// LoadError identifies the sink and chunk that exhausted its retries.
// Committed is the number of chunks of that sink that were committed before it.
type LoadError struct {
	Sink      string
	Chunk     int
	Attempts  int
	Committed int
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failed: sink %s chunk %d after %d attempts (%d chunks committed): %v",
		e.Sink, e.Chunk, e.Attempts, e.Committed, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}

// Watermark stages for StorageError.
const (
	StageBeforeLoad = "before_load"
	StageAfterLoad  = "after_load"
)

// StorageError is a watermark read/write failure. At StageAfterLoad the
// batch is already persisted and the watermark is stale, so the next run
// reprocesses it.
type StorageError struct {
	Op     string
	Source string
	Stage  string
	Err    error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage unavailable: %s watermark for %s (%s): %v", e.Op, e.Source, e.Stage, e.Err)
	if e.Stage == StageAfterLoad {
		msg += "; batch data is loaded but the watermark is stale"
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}
