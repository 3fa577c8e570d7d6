package etl

import (
	"context"
	"errors"
	"time"

	"github.com/BartekS5/finguard/pkg/models"
)

var errSinkDown = errors.New("sink down")

// memSink keeps committed chunks in memory. fail, when set, is asked before
// every BulkInsert call (1-based) whether that call should fail.
type memSink[T any] struct {
	name      string
	pending   []T
	committed [][]T
	calls     int
	rollbacks int
	fail      func(call int) error
}

func newMemSink[T any](name string) *memSink[T] {
	return &memSink[T]{name: name}
}

func (m *memSink[T]) Name() string { return m.name }

func (m *memSink[T]) BulkInsert(ctx context.Context, rows []T) error {
	m.calls++
	m.pending = nil
	if m.fail != nil {
		if err := m.fail(m.calls); err != nil {
			return err
		}
	}
	m.pending = append([]T(nil), rows...)
	return nil
}

func (m *memSink[T]) Commit(ctx context.Context) error {
	m.committed = append(m.committed, m.pending)
	m.pending = nil
	return nil
}

func (m *memSink[T]) Rollback(ctx context.Context) error {
	m.rollbacks++
	m.pending = nil
	return nil
}

func (m *memSink[T]) rows() []T {
	var out []T
	for _, c := range m.committed {
		out = append(out, c...)
	}
	return out
}

type sliceSource struct {
	name string
	rows []map[string]string
	err  error
}

func (s *sliceSource) Name() string { return s.name }

func (s *sliceSource) Read(ctx context.Context) ([]map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]map[string]string, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

type memWatermarks struct {
	marks    map[string]time.Time
	getErr   error
	advErr   error
	advances int
}

func newMemWatermarks() *memWatermarks {
	return &memWatermarks{marks: map[string]time.Time{}}
}

func (m *memWatermarks) Get(ctx context.Context, source string) (time.Time, error) {
	if m.getErr != nil {
		return time.Time{}, m.getErr
	}
	wm, ok := m.marks[source]
	if !ok {
		wm = models.EpochWatermark
		m.marks[source] = wm
	}
	return wm, nil
}

func (m *memWatermarks) Advance(ctx context.Context, source string, ts time.Time) error {
	if m.advErr != nil {
		return m.advErr
	}
	m.advances++
	if ts.After(m.marks[source]) {
		m.marks[source] = ts
	}
	return nil
}

type fakeLocker struct {
	acquired int
	released int
	err      error
}

func (f *fakeLocker) Acquire(ctx context.Context, source string) (func(context.Context) error, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

// txRow returns a fully populated source row; overrides replace or blank
// individual columns.
func txRow(ts, card, amt, fraud string, overrides ...string) map[string]string {
	row := map[string]string{
		models.ColEventTime: ts,
		models.ColCardID:    card,
		models.ColMerchant:  "fraud_Kirlin and Sons",
		models.ColCategory:  "personal_care",
		models.ColAmount:    amt,
		models.ColGender:    "M",
		models.ColCity:      "Columbia",
		models.ColState:     "SC",
		models.ColZip:       "29209",
		models.ColLat:       "33.9659",
		models.ColLong:      "-80.9355",
		models.ColMerchLat:  "33.986391",
		models.ColMerchLong: "-81.200714",
		models.ColIsFraud:   fraud,
		models.ColUnixTime:  "1371816865",
	}
	for i := 0; i+1 < len(overrides); i += 2 {
		row[overrides[i]] = overrides[i+1]
	}
	return row
}

func fixedIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

// normalizedBatch extracts rows against the epoch and normalizes them.
func normalizedBatch(rows ...map[string]string) models.Batch {
	ext := &Extractor{NewBatchID: fixedIDs("batch-1")}
	batch, err := ext.ExtractFull(context.Background(), &sliceSource{name: "test", rows: rows})
	if err != nil {
		panic(err)
	}
	return NewNormalizer().Normalize(batch)
}
