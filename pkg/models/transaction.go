package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source column names. Issues reference these in ColumnName.
const (
	ColEventTime = "trans_date_trans_time"
	ColCardID    = "cc_num"
	ColMerchant  = "merchant"
	ColCategory  = "category"
	ColAmount    = "amt"
	ColGender    = "gender"
	ColCity      = "city"
	ColState     = "state"
	ColZip       = "zip"
	ColLat       = "lat"
	ColLong      = "long"
	ColMerchLat  = "merch_lat"
	ColMerchLong = "merch_long"
	ColIsFraud   = "is_fraud"
	ColUnixTime  = "unix_time"
)

// Columns is the ordered set of columns checked for nulls.
var Columns = []string{
	ColEventTime,
	ColCardID,
	ColMerchant,
	ColCategory,
	ColAmount,
	ColGender,
	ColCity,
	ColState,
	ColZip,
	ColLat,
	ColLong,
	ColMerchLat,
	ColMerchLong,
	ColIsFraud,
	ColUnixTime,
}

// Fact amounts are stored as DECIMAL(38, 10): at most 28 integer digits and
// 10 fractional ones.
const FactAmountScale = 10

// MaxFactAmount is the exclusive upper bound of a fact amount.
var MaxFactAmount = decimal.New(1, 28)

// EpochWatermark is the "beginning of time" watermark used for a source
// that has never been loaded, and for full extractions.
var EpochWatermark = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Transaction is one financial event extracted from a source row.
// Pointer fields are nil when the source value was absent or failed to parse.
type Transaction struct {
	BatchID string
	RowNum  int

	EventTime *time.Time
	CardID    *string
	Merchant  *string
	Category  *string
	AmountRaw *string
	Gender    *string
	City      *string
	State     *string
	Zip       *string
	Lat       *float64
	Long      *float64
	MerchLat  *float64
	MerchLong *float64

	IsFraudRaw *string
	UnixTime   *int64

	// Set by the normalizer.
	Amount  decimal.NullDecimal
	IsFraud *float64
}

// IsNull reports whether the named column is missing on t. Amount and label
// use the normalized values, so a value that failed coercion counts as null.
func (t *Transaction) IsNull(column string) bool {
	switch column {
	case ColEventTime:
		return t.EventTime == nil
	case ColCardID:
		return t.CardID == nil
	case ColMerchant:
		return t.Merchant == nil
	case ColCategory:
		return t.Category == nil
	case ColAmount:
		return !t.Amount.Valid
	case ColGender:
		return t.Gender == nil
	case ColCity:
		return t.City == nil
	case ColState:
		return t.State == nil
	case ColZip:
		return t.Zip == nil
	case ColLat:
		return t.Lat == nil
	case ColLong:
		return t.Long == nil
	case ColMerchLat:
		return t.MerchLat == nil
	case ColMerchLong:
		return t.MerchLong == nil
	case ColIsFraud:
		return t.IsFraud == nil
	case ColUnixTime:
		return t.UnixTime == nil
	default:
		return false
	}
}

// FactTransaction is a cleansed transaction accepted into the fact table.
type FactTransaction struct {
	BatchID   string
	RowNum    int
	EventTime *time.Time
	CardID    *string
	Merchant  *string
	Category  *string
	Amount    decimal.Decimal
	Gender    *string
	City      *string
	State     *string
	IsFraud   int
}

// Batch is the ordered set of transactions processed by one pipeline run.
type Batch struct {
	ID           string
	Source       string
	Transactions []Transaction
}

// Len returns the number of transactions in the batch.
func (b Batch) Len() int {
	return len(b.Transactions)
}

// MaxEventTime returns the latest known event time in the batch.
// The second result is false when no transaction has a known event time.
func (b Batch) MaxEventTime() (time.Time, bool) {
	var max time.Time
	found := false
	for i := range b.Transactions {
		et := b.Transactions[i].EventTime
		if et == nil {
			continue
		}
		if !found || et.After(max) {
			max = *et
			found = true
		}
	}
	return max, found
}

// WatermarkState is the persisted incremental-load boundary for one source.
type WatermarkState struct {
	SourceName    string    `db:"TableName" bson:"_id"`
	LastEventTime time.Time `db:"LastLoadedDate" bson:"last_loaded_date"`
}
