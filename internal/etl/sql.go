package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/BartekS5/finguard/pkg/database"
	"github.com/BartekS5/finguard/pkg/models"
)

// SQLSource reads a staging table, one map per row in OrderBy order.
type SQLSource struct {
	DB      *sql.DB
	Table   string
	OrderBy string
}

func (s *SQLSource) Name() string {
	return s.Table
}

func (s *SQLSource) Read(ctx context.Context) ([]map[string]string, error) {
	query := "SELECT * FROM " + quoteIdent(s.Table)
	if s.OrderBy != "" {
		query += " ORDER BY " + quoteIdent(s.OrderBy)
	}

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]string
	for rows.Next() {
		columns := make([]interface{}, len(cols))
		columnPointers := make([]interface{}, len(cols))
		for i := range columns {
			columnPointers[i] = &columns[i]
		}
		if err := rows.Scan(columnPointers...); err != nil {
			return nil, err
		}

		m := make(map[string]string, len(cols))
		for i, colName := range cols {
			m[colName] = cellText(columns[i])
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func cellText(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// quoteIdent brackets each part of a possibly schema-qualified name.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "[" + strings.ReplaceAll(strings.Trim(p, "[]"), "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}

// SQLSink bulk-copies each chunk into Table inside its own transaction.
type SQLSink[T any] struct {
	DB      *sql.DB
	Table   string
	Columns []string
	Values  func(T) []interface{}

	tx *sql.Tx
}

func (s *SQLSink[T]) Name() string {
	return s.Table
}

func (s *SQLSink[T]) BulkInsert(ctx context.Context, rows []T) error {
	if s.tx != nil {
		return fmt.Errorf("sink %s: previous chunk is still open", s.Table)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sink %s: begin transaction: %w", s.Table, err)
	}
	s.tx = tx

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(s.Table, mssql.BulkOptions{}, s.Columns...))
	if err != nil {
		return fmt.Errorf("sink %s: prepare bulk copy: %w", s.Table, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, s.Values(r)...); err != nil {
			return fmt.Errorf("sink %s: buffer row: %w", s.Table, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sink %s: bulk copy: %w", s.Table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != int64(len(rows)) {
		return fmt.Errorf("sink %s: bulk copy wrote %d of %d rows", s.Table, n, len(rows))
	}
	return nil
}

func (s *SQLSink[T]) Commit(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("sink %s: commit without an open chunk", s.Table)
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("sink %s: commit: %w", s.Table, err)
	}
	return nil
}

func (s *SQLSink[T]) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sink %s: rollback: %w", s.Table, err)
	}
	return nil
}

var rawColumns = []string{
	"BatchId", "RowNum",
	models.ColEventTime, models.ColCardID, models.ColMerchant, models.ColCategory,
	models.ColAmount, models.ColGender, models.ColCity, models.ColState, models.ColZip,
	models.ColLat, models.ColLong, models.ColMerchLat, models.ColMerchLong,
	models.ColUnixTime, models.ColIsFraud,
}

var factColumns = []string{
	"BatchId", "RowNum",
	models.ColEventTime, models.ColCardID, models.ColMerchant, models.ColCategory,
	models.ColAmount, models.ColGender, models.ColCity, models.ColState,
	models.ColIsFraud, "LoadDate",
}

var issueColumns = []string{"BatchId", "RowNum", "ColumnName", "IssueType", "IssueDescription"}

// NewSQLRawSink stores every extracted record as read, amount and label
// included verbatim.
func NewSQLRawSink(db *sql.DB) *SQLSink[models.Transaction] {
	return &SQLSink[models.Transaction]{
		DB:      db,
		Table:   database.RawTable,
		Columns: rawColumns,
		Values: func(t models.Transaction) []interface{} {
			return []interface{}{
				t.BatchID, t.RowNum,
				timeOrNil(t.EventTime), strOrNil(t.CardID), strOrNil(t.Merchant), strOrNil(t.Category),
				strOrNil(t.AmountRaw), strOrNil(t.Gender), strOrNil(t.City), strOrNil(t.State), strOrNil(t.Zip),
				floatOrNil(t.Lat), floatOrNil(t.Long), floatOrNil(t.MerchLat), floatOrNil(t.MerchLong),
				intOrNil(t.UnixTime), strOrNil(t.IsFraudRaw),
			}
		},
	}
}

// NewSQLFactSink stores cleansed transactions stamped with now() as LoadDate.
func NewSQLFactSink(db *sql.DB, now func() time.Time) *SQLSink[models.FactTransaction] {
	if now == nil {
		now = time.Now
	}
	return &SQLSink[models.FactTransaction]{
		DB:      db,
		Table:   database.FactTable,
		Columns: factColumns,
		Values: func(f models.FactTransaction) []interface{} {
			return []interface{}{
				f.BatchID, f.RowNum,
				timeOrNil(f.EventTime), strOrNil(f.CardID), strOrNil(f.Merchant), strOrNil(f.Category),
				f.Amount.String(), strOrNil(f.Gender), strOrNil(f.City), strOrNil(f.State),
				f.IsFraud, now().UTC(),
			}
		},
	}
}

func NewSQLIssueSink(db *sql.DB) *SQLSink[models.Issue] {
	return &SQLSink[models.Issue]{
		DB:      db,
		Table:   database.IssueTable,
		Columns: issueColumns,
		Values: func(i models.Issue) []interface{} {
			return []interface{}{i.BatchID, i.RowNum, i.ColumnName, string(i.IssueType), i.Description}
		},
	}
}

func strOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func intOrNil(i *int64) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
