package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseError reports a source value that could not be coerced to its
// column's type. Callers recover from it by treating the value as null.
type ParseError struct {
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var dateTimeFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"2006-01-02",
}

// nullTokens are cell values that mean "no value" in tabular extracts.
var nullTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"n/a":  {},
	"#N/A": {},
	"<NA>": {},
	"NULL": {},
	"null": {},
	"None": {},
	"NaN":  {},
	"nan":  {},
	"-NaN": {},
	"-nan": {},
}

// clean trims raw and reports false when the result is a null token.
func clean(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if _, ok := nullTokens[s]; ok {
		return "", false
	}
	return s, true
}

// NullString trims raw and returns nil for blank or null-token values.
func NullString(raw string) *string {
	s, ok := clean(raw)
	if !ok {
		return nil
	}
	return &s
}

// ParseDateTime parses an event timestamp. Timestamps without a zone are
// taken as UTC. A blank or null-token value returns (nil, nil).
func ParseDateTime(column, raw string) (*time.Time, error) {
	s, ok := clean(raw)
	if !ok {
		return nil, nil
	}
	for _, f := range dateTimeFormats {
		if t, err := time.Parse(f, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &ParseError{Column: column, Value: raw, Err: fmt.Errorf("unrecognised datetime format")}
}

// ParseFloat parses a float column. A blank value returns (nil, nil).
func ParseFloat(column, raw string) (*float64, error) {
	s, ok := clean(raw)
	if !ok {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		err = fmt.Errorf("not a finite number")
	}
	if err != nil {
		return nil, &ParseError{Column: column, Value: raw, Err: err}
	}
	return &f, nil
}

// ParseInt parses an integer column. Values written in float notation with
// no fractional part ("1371816865.0") are accepted.
func ParseInt(column, raw string) (*int64, error) {
	s, ok := clean(raw)
	if !ok {
		return nil, nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &i, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.Equal(d.Truncate(0)) {
		if err == nil {
			err = fmt.Errorf("not an integer")
		}
		return nil, &ParseError{Column: column, Value: raw, Err: err}
	}
	i := d.IntPart()
	return &i, nil
}

// ParseDecimal parses a currency amount. A blank value returns an invalid
// NullDecimal and no error.
func ParseDecimal(column, raw string) (decimal.NullDecimal, error) {
	s, ok := clean(raw)
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, &ParseError{Column: column, Value: raw, Err: err}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// NormalizeCardID renders a numeric card identifier as a plain digit string,
// so "2.703186189652095e+15" and "2703186189652095" compare equal.
// Non-numeric identifiers are kept as trimmed text.
func NormalizeCardID(raw string) *string {
	s := NullString(raw)
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return s
	}
	out := d.String()
	return &out
}
