package etl

import (
	"github.com/shopspring/decimal"

	"github.com/BartekS5/finguard/pkg/models"
	"github.com/BartekS5/finguard/pkg/utils"
)

// Normalizer coerces the type-ambiguous fields of a batch to numbers using a
// single parse-or-null policy.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize returns a copy of batch with Amount and IsFraud set. Values that
// cannot be coerced are left null; no record is dropped.
func (n *Normalizer) Normalize(batch models.Batch) models.Batch {
	out := batch
	out.Transactions = make([]models.Transaction, len(batch.Transactions))
	for i, tx := range batch.Transactions {
		tx.Amount = decimal.NullDecimal{}
		if tx.AmountRaw != nil {
			tx.Amount, _ = utils.ParseDecimal(models.ColAmount, *tx.AmountRaw)
		}
		tx.IsFraud = nil
		if tx.IsFraudRaw != nil {
			tx.IsFraud, _ = utils.ParseFloat(models.ColIsFraud, *tx.IsFraudRaw)
		}
		out.Transactions[i] = tx
	}
	return out
}

// FactRows selects the normalized transactions accepted by the fact table:
// a positive amount and a fraud label of exactly 0 or 1. Amounts are rounded
// to the fact scale; ones that round to zero or reach MaxFactAmount stay in
// the raw stream only.
func (n *Normalizer) FactRows(batch models.Batch) []models.FactTransaction {
	facts := make([]models.FactTransaction, 0, len(batch.Transactions))
	for _, tx := range batch.Transactions {
		if !tx.Amount.Valid {
			continue
		}
		amount := tx.Amount.Decimal.Round(models.FactAmountScale)
		if !amount.IsPositive() || amount.GreaterThanOrEqual(models.MaxFactAmount) {
			continue
		}
		label, ok := validLabel(tx.IsFraud)
		if !ok {
			continue
		}
		facts = append(facts, models.FactTransaction{
			BatchID:   tx.BatchID,
			RowNum:    tx.RowNum,
			EventTime: tx.EventTime,
			CardID:    tx.CardID,
			Merchant:  tx.Merchant,
			Category:  tx.Category,
			Amount:    amount,
			Gender:    tx.Gender,
			City:      tx.City,
			State:     tx.State,
			IsFraud:   label,
		})
	}
	return facts
}

func validLabel(v *float64) (int, bool) {
	if v == nil {
		return 0, false
	}
	switch *v {
	case 0:
		return 0, true
	case 1:
		return 1, true
	}
	return 0, false
}
