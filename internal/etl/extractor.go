package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BartekS5/finguard/pkg/logger"
	"github.com/BartekS5/finguard/pkg/models"
	"github.com/BartekS5/finguard/pkg/utils"
)

// Extractor turns source rows into a batch of transactions newer than a
// watermark.
type Extractor struct {
	// NewBatchID is swapped in tests for deterministic ids.
	NewBatchID func() string
}

func NewExtractor() *Extractor {
	return &Extractor{NewBatchID: uuid.NewString}
}

// Extract reads src and keeps rows whose event time is after watermark.
// Rows with an unknown event time are always kept. Kept rows get dense,
// zero-based row numbers in source order.
func (e *Extractor) Extract(ctx context.Context, src Source, watermark time.Time) (models.Batch, error) {
	return e.extract(ctx, src, &watermark)
}

// ExtractFull extracts every row regardless of any stored watermark,
// including rows dated on or before the epoch.
func (e *Extractor) ExtractFull(ctx context.Context, src Source) (models.Batch, error) {
	return e.extract(ctx, src, nil)
}

// extract keeps every row when watermark is nil.
func (e *Extractor) extract(ctx context.Context, src Source, watermark *time.Time) (models.Batch, error) {
	rows, err := src.Read(ctx)
	if err != nil {
		return models.Batch{}, fmt.Errorf("extract from %s: %w", src.Name(), err)
	}

	batch := models.Batch{
		ID:           e.batchID(),
		Source:       src.Name(),
		Transactions: make([]models.Transaction, 0, len(rows)),
	}

	parseErrors := 0
	for _, row := range rows {
		tx, n := parseRow(row)
		parseErrors += n
		if watermark != nil && tx.EventTime != nil && !tx.EventTime.After(*watermark) {
			continue
		}
		tx.BatchID = batch.ID
		tx.RowNum = len(batch.Transactions)
		batch.Transactions = append(batch.Transactions, tx)
	}

	since := "the beginning"
	if watermark != nil {
		since = watermark.Format(time.RFC3339)
	}
	logger.Infof("Extracted %d of %d rows from %s since %s (%d field parse errors recovered as null)",
		batch.Len(), len(rows), src.Name(), since, parseErrors)
	return batch, nil
}

func (e *Extractor) batchID() string {
	if e.NewBatchID == nil {
		return uuid.NewString()
	}
	return e.NewBatchID()
}

// parseRow maps one source row onto a Transaction. Field parse failures are
// recovered as nulls and counted.
func parseRow(row map[string]string) (models.Transaction, int) {
	failures := 0
	note := func(err error) {
		if err == nil {
			return
		}
		failures++
		var perr *utils.ParseError
		if errors.As(err, &perr) {
			logger.Debugf("Recovered parse error as null: %v", perr)
		}
	}

	var tx models.Transaction
	var err error

	tx.EventTime, err = utils.ParseDateTime(models.ColEventTime, row[models.ColEventTime])
	note(err)
	tx.CardID = utils.NormalizeCardID(row[models.ColCardID])
	tx.Merchant = utils.NullString(row[models.ColMerchant])
	tx.Category = utils.NullString(row[models.ColCategory])
	tx.AmountRaw = utils.NullString(row[models.ColAmount])
	tx.Gender = utils.NullString(row[models.ColGender])
	tx.City = utils.NullString(row[models.ColCity])
	tx.State = utils.NullString(row[models.ColState])
	tx.Zip = utils.NullString(row[models.ColZip])
	tx.IsFraudRaw = utils.NullString(row[models.ColIsFraud])

	tx.Lat, err = utils.ParseFloat(models.ColLat, row[models.ColLat])
	note(err)
	tx.Long, err = utils.ParseFloat(models.ColLong, row[models.ColLong])
	note(err)
	tx.MerchLat, err = utils.ParseFloat(models.ColMerchLat, row[models.ColMerchLat])
	note(err)
	tx.MerchLong, err = utils.ParseFloat(models.ColMerchLong, row[models.ColMerchLong])
	note(err)
	tx.UnixTime, err = utils.ParseInt(models.ColUnixTime, row[models.ColUnixTime])
	note(err)

	return tx, failures
}
