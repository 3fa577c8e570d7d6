package etl

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/BartekS5/finguard/pkg/models"
)

// RuleConfig holds the tunable thresholds of the rule engine.
type RuleConfig struct {
	// ImbalanceThreshold is the fraud ratio under which the batch is flagged.
	ImbalanceThreshold float64
	// OutlierMultiplier is k in Q3 + k*IQR.
	OutlierMultiplier float64
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{ImbalanceThreshold: 0.005, OutlierMultiplier: 1.5}
}

// RuleEngine runs the fixed battery of data-quality rules over a batch.
type RuleEngine struct {
	Config RuleConfig
}

func NewRuleEngine(cfg RuleConfig) *RuleEngine {
	return &RuleEngine{Config: cfg}
}

// Evaluate returns the issues found in a normalized batch. Output is ordered
// by rule, then column (null check), then row. Rules are independent, so one
// row can fail several of them.
func (r *RuleEngine) Evaluate(batch models.Batch) ([]models.Issue, error) {
	for i := range batch.Transactions {
		if batch.Transactions[i].RowNum != i {
			return nil, fmt.Errorf("%w: row %d carries row_num %d, expected dense numbering",
				ErrRuleEvaluation, i, batch.Transactions[i].RowNum)
		}
	}

	var issues []models.Issue
	issues = append(issues, r.nullValues(batch)...)
	issues = append(issues, r.invalidGender(batch)...)
	issues = append(issues, r.invalidClass(batch)...)
	issues = append(issues, r.invalidAmount(batch)...)
	issues = append(issues, r.outliers(batch)...)
	issues = append(issues, r.duplicates(batch)...)
	issues = append(issues, r.imbalance(batch)...)
	return issues, nil
}

func (r *RuleEngine) nullValues(batch models.Batch) []models.Issue {
	var issues []models.Issue
	for _, col := range models.Columns {
		for i := range batch.Transactions {
			tx := &batch.Transactions[i]
			if tx.IsNull(col) {
				issues = append(issues, newIssue(tx, col, models.IssueNullValue, "Null value detected"))
			}
		}
	}
	return issues
}

func (r *RuleEngine) invalidGender(batch models.Batch) []models.Issue {
	var issues []models.Issue
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		if tx.Gender != nil && (*tx.Gender == "M" || *tx.Gender == "F") {
			continue
		}
		issues = append(issues, newIssue(tx, models.ColGender, models.IssueInvalidValue, "Gender must be M or F"))
	}
	return issues
}

func (r *RuleEngine) invalidClass(batch models.Batch) []models.Issue {
	var issues []models.Issue
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		if _, ok := validLabel(tx.IsFraud); ok {
			continue
		}
		issues = append(issues, newIssue(tx, models.ColIsFraud, models.IssueInvalidClass, "Fraud label must be 0 or 1"))
	}
	return issues
}

func (r *RuleEngine) invalidAmount(batch models.Batch) []models.Issue {
	var issues []models.Issue
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		if tx.Amount.Valid && !tx.Amount.Decimal.IsPositive() {
			issues = append(issues, newIssue(tx, models.ColAmount, models.IssueInvalidAmount,
				"Transaction amount must be greater than 0"))
		}
	}
	return issues
}

// outliers flags amounts above Q3 + k*IQR. Null amounts take no part in the
// quartiles.
func (r *RuleEngine) outliers(batch models.Batch) []models.Issue {
	amounts := make([]float64, 0, len(batch.Transactions))
	for i := range batch.Transactions {
		if a := batch.Transactions[i].Amount; a.Valid {
			amounts = append(amounts, a.Decimal.InexactFloat64())
		}
	}
	if len(amounts) == 0 {
		return nil
	}
	sort.Float64s(amounts)
	q1 := quantile(amounts, 0.25)
	q3 := quantile(amounts, 0.75)
	upper := q3 + r.Config.OutlierMultiplier*(q3-q1)

	var issues []models.Issue
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		if !tx.Amount.Valid || tx.Amount.Decimal.InexactFloat64() <= upper {
			continue
		}
		issues = append(issues, newIssue(tx, models.ColAmount, models.IssueOutlier,
			"High transaction amount: "+tx.Amount.Decimal.String()))
	}
	return issues
}

// duplicates flags every repeat of (cc_num, unix_time, amt) after its first
// occurrence. Nulls compare equal to nulls.
func (r *RuleEngine) duplicates(batch models.Batch) []models.Issue {
	seen := make(map[string]struct{}, len(batch.Transactions))
	var issues []models.Issue
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		key := duplicateKey(tx)
		if _, dup := seen[key]; dup {
			issues = append(issues, newIssue(tx, models.AllColumns, models.IssueDuplicate, "Duplicate transaction detected"))
			continue
		}
		seen[key] = struct{}{}
	}
	return issues
}

func (r *RuleEngine) imbalance(batch models.Batch) []models.Issue {
	sum, n := 0.0, 0
	for i := range batch.Transactions {
		if v := batch.Transactions[i].IsFraud; v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	ratio := sum / float64(n)
	if ratio >= r.Config.ImbalanceThreshold {
		return nil
	}
	return []models.Issue{{
		BatchID:    batch.ID,
		RowNum:     models.BatchRowNum,
		ColumnName: models.ColIsFraud,
		IssueType:  models.IssueDataImbalance,
		Description: fmt.Sprintf("Extreme class imbalance detected: fraud ratio %.4f below %.4f",
			ratio, r.Config.ImbalanceThreshold),
	}}
}

// Summarize counts issues per type.
func Summarize(issues []models.Issue) map[models.IssueType]int {
	counts := make(map[models.IssueType]int, len(models.IssueTypes))
	for _, is := range issues {
		counts[is.IssueType]++
	}
	return counts
}

func newIssue(tx *models.Transaction, column string, typ models.IssueType, desc string) models.Issue {
	return models.Issue{
		BatchID:     tx.BatchID,
		RowNum:      tx.RowNum,
		ColumnName:  column,
		IssueType:   typ,
		Description: desc,
	}
}

func duplicateKey(tx *models.Transaction) string {
	const null = "\x00"
	card, unix, amt := null, null, null
	if tx.CardID != nil {
		card = *tx.CardID
	}
	if tx.UnixTime != nil {
		unix = strconv.FormatInt(*tx.UnixTime, 10)
	}
	if tx.Amount.Valid {
		amt = tx.Amount.Decimal.String()
	}
	return card + "\x1f" + unix + "\x1f" + amt
}

// quantile estimates the p-quantile of sorted by linear interpolation
// between the closest ranks, at position (n-1)*p.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
