package models

// IssueType classifies a data-quality finding.
type IssueType string

const (
	IssueNullValue     IssueType = "NULL_VALUE"
	IssueInvalidValue  IssueType = "INVALID_VALUE"
	IssueInvalidClass  IssueType = "INVALID_CLASS"
	IssueInvalidAmount IssueType = "INVALID_AMOUNT"
	IssueOutlier       IssueType = "OUTLIER"
	IssueDuplicate     IssueType = "DUPLICATE_RECORD"
	IssueDataImbalance IssueType = "DATA_IMBALANCE"
)

// IssueTypes lists every issue type in rule order.
var IssueTypes = []IssueType{
	IssueNullValue,
	IssueInvalidValue,
	IssueInvalidClass,
	IssueInvalidAmount,
	IssueOutlier,
	IssueDuplicate,
	IssueDataImbalance,
}

const (
	// BatchRowNum marks an issue that applies to the whole batch.
	BatchRowNum = -1
	// AllColumns marks an issue that spans every column of a row.
	AllColumns = "ALL"
)

// Issue is one data-quality finding raised against a batch.
type Issue struct {
	BatchID     string    `db:"BatchId" bson:"batch_id"`
	RowNum      int       `db:"RowNum" bson:"row_num"`
	ColumnName  string    `db:"ColumnName" bson:"column_name"`
	IssueType   IssueType `db:"IssueType" bson:"issue_type"`
	Description string    `db:"IssueDescription" bson:"description"`
}

// IsBatchLevel reports whether the issue references no single row.
func (i Issue) IsBatchLevel() bool {
	return i.RowNum == BatchRowNum
}
