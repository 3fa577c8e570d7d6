package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/finguard/pkg/models"
)

func TestExtractKeepsRowsAfterWatermark(t *testing.T) {
	src := &sliceSource{name: "fraud_transactions", rows: []map[string]string{
		txRow("2019-01-01 00:00:00", "1", "10", "0"),
		txRow("2019-01-02 08:30:00", "2", "11", "0"),
		txRow("", "3", "12", "0"),
		txRow("2018-12-31 23:59:59", "4", "13", "0"),
		txRow("not a date", "5", "14", "0"),
		txRow("2019-01-01 00:00:01", "6", "15", "0"),
	}}
	wm := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	ext := &Extractor{NewBatchID: fixedIDs("b-42")}
	batch, err := ext.Extract(context.Background(), src, wm)
	require.NoError(t, err)

	assert.Equal(t, "b-42", batch.ID)
	assert.Equal(t, "fraud_transactions", batch.Source)
	require.Equal(t, 4, batch.Len())

	var cards []string
	for i, tx := range batch.Transactions {
		assert.Equal(t, i, tx.RowNum)
		assert.Equal(t, "b-42", tx.BatchID)
		cards = append(cards, *tx.CardID)
	}
	assert.Equal(t, []string{"2", "3", "5", "6"}, cards)
	assert.Nil(t, batch.Transactions[1].EventTime)
	assert.Nil(t, batch.Transactions[2].EventTime)
}

func TestExtractFullIgnoresWatermark(t *testing.T) {
	src := &sliceSource{name: "s", rows: []map[string]string{
		txRow("2001-05-05 10:00:00", "1", "10", "0"),
		txRow("2019-01-02 08:30:00", "2", "11", "0"),
	}}
	batch, err := NewExtractor().ExtractFull(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
	assert.NotEmpty(t, batch.ID)
}

func TestExtractFullKeepsRowsBeforeEpoch(t *testing.T) {
	src := &sliceSource{name: "s", rows: []map[string]string{
		txRow("1899-12-31 23:00:00", "1", "10", "0"),
		txRow("1900-01-01 00:00:00", "2", "11", "0"),
		txRow("2019-01-02 08:30:00", "3", "12", "0"),
	}}

	full, err := NewExtractor().ExtractFull(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 3, full.Len())
	assert.Equal(t, 2, full.Transactions[2].RowNum)

	incremental, err := NewExtractor().Extract(context.Background(), src, models.EpochWatermark)
	require.NoError(t, err)
	assert.Equal(t, 1, incremental.Len())
}

func TestExtractNothingNew(t *testing.T) {
	src := &sliceSource{name: "s", rows: []map[string]string{
		txRow("2019-01-01 00:00:00", "1", "10", "0"),
	}}
	batch, err := NewExtractor().Extract(context.Background(), src, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Len())
}

func TestExtractWrapsSourceError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewExtractor().Extract(context.Background(), &sliceSource{name: "s", err: boom}, models.EpochWatermark)
	assert.ErrorIs(t, err, boom)
}

func TestParseRowRecoversBadFieldsAsNull(t *testing.T) {
	tx, failures := parseRow(txRow("2019-01-01 00:00:18", "2.703186189652095e+15", "4.97", "0",
		models.ColLat, "north", models.ColUnixTime, "1371816865.0", models.ColLong, ""))

	assert.Equal(t, 1, failures)
	assert.Nil(t, tx.Lat)
	assert.Nil(t, tx.Long)
	require.NotNil(t, tx.UnixTime)
	assert.Equal(t, int64(1371816865), *tx.UnixTime)
	require.NotNil(t, tx.CardID)
	assert.Equal(t, "2703186189652095", *tx.CardID)
	require.NotNil(t, tx.AmountRaw)
	assert.Equal(t, "4.97", *tx.AmountRaw)
	assert.False(t, tx.Amount.Valid, "amount is set by the normalizer")
}

func TestReadCSV(t *testing.T) {
	data := "\ufefftrans_date_trans_time,cc_num,merchant,amt,is_fraud\n" +
		"2019-01-01 00:00:18,2703186189652095,\"Kirlin, and Sons\",4.97,0\n" +
		"2019-01-01 00:00:44,630423337322,short\n"

	rows, err := readCSV(context.Background(), strings.NewReader(data), ',')
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2019-01-01 00:00:18", rows[0][models.ColEventTime])
	assert.Equal(t, "Kirlin, and Sons", rows[0][models.ColMerchant])
	assert.Equal(t, "4.97", rows[0][models.ColAmount])

	_, ok := rows[1][models.ColAmount]
	assert.False(t, ok)
	assert.Equal(t, "short", rows[1][models.ColMerchant])
}

func TestReadCSVKeepsRowWithBareQuote(t *testing.T) {
	data := "trans_date_trans_time,cc_num,merchant,amt,is_fraud\n" +
		"2019-01-01 00:00:18,2703186189652095,Kirlin 12\" Store,4.97,0\n" +
		"2019-01-01 00:00:44,630423337322,Heller,107.23,0\n"

	rows, err := readCSV(context.Background(), strings.NewReader(data), ',')
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Kirlin 12\" Store", rows[0][models.ColMerchant])
	assert.Equal(t, "4.97", rows[0][models.ColAmount])
	assert.Equal(t, "Heller", rows[1][models.ColMerchant])
}

func TestReadCSVEmpty(t *testing.T) {
	rows, err := readCSV(context.Background(), strings.NewReader(""), ',')
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraud_sample.csv")
	require.NoError(t, os.WriteFile(path, []byte("cc_num;amt\n1;2.50\n"), 0o644))

	src := NewCSVSource(path)
	src.Comma = ';'
	assert.Equal(t, "fraud_sample.csv", src.Name())

	rows, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"cc_num": "1", "amt": "2.50"}}, rows)

	_, err = NewCSVSource(filepath.Join(t.TempDir(), "missing.csv")).Read(context.Background())
	assert.Error(t, err)
}
