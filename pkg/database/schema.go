package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Table names used by the SQL Server sinks and watermark store.
const (
	RawTable     = "stg_transactions_raw"
	FactTable    = "fact_transactions"
	IssueTable   = "dq_issues"
	ControlTable = "etl_load_control"
)

var schemaStatements = []string{
	`IF OBJECT_ID(N'dbo.stg_transactions_raw', N'U') IS NULL
CREATE TABLE dbo.stg_transactions_raw (
	BatchId               NVARCHAR(36)  NOT NULL,
	RowNum                INT           NOT NULL,
	trans_date_trans_time DATETIME2     NULL,
	cc_num                NVARCHAR(MAX) NULL,
	merchant              NVARCHAR(MAX) NULL,
	category              NVARCHAR(MAX) NULL,
	amt                   NVARCHAR(MAX) NULL,
	gender                NVARCHAR(MAX) NULL,
	city                  NVARCHAR(MAX) NULL,
	state                 NVARCHAR(MAX) NULL,
	zip                   NVARCHAR(MAX) NULL,
	lat                   FLOAT         NULL,
	long                  FLOAT         NULL,
	merch_lat             FLOAT         NULL,
	merch_long            FLOAT         NULL,
	unix_time             BIGINT        NULL,
	is_fraud              NVARCHAR(MAX) NULL,
	CONSTRAINT PK_stg_transactions_raw PRIMARY KEY (BatchId, RowNum)
)`,
	`IF OBJECT_ID(N'dbo.fact_transactions', N'U') IS NULL
CREATE TABLE dbo.fact_transactions (
	BatchId               NVARCHAR(36)   NOT NULL,
	RowNum                INT            NOT NULL,
	trans_date_trans_time DATETIME2      NULL,
	cc_num                NVARCHAR(MAX)  NULL,
	merchant              NVARCHAR(MAX)  NULL,
	category              NVARCHAR(MAX)  NULL,
	amt                   DECIMAL(38, 10) NOT NULL,
	gender                NVARCHAR(MAX)  NULL,
	city                  NVARCHAR(MAX)  NULL,
	state                 NVARCHAR(MAX)  NULL,
	is_fraud              INT            NOT NULL,
	LoadDate              DATETIME2      NOT NULL,
	CONSTRAINT PK_fact_transactions PRIMARY KEY (BatchId, RowNum)
)`,
	`IF OBJECT_ID(N'dbo.dq_issues', N'U') IS NULL
CREATE TABLE dbo.dq_issues (
	IssueId          BIGINT IDENTITY(1,1) PRIMARY KEY,
	BatchId          NVARCHAR(36)   NOT NULL,
	RowNum           INT            NOT NULL,
	ColumnName       NVARCHAR(64)   NOT NULL,
	IssueType        NVARCHAR(32)   NOT NULL,
	IssueDescription NVARCHAR(MAX)  NOT NULL
)`,
	`IF OBJECT_ID(N'dbo.etl_load_control', N'U') IS NULL
CREATE TABLE dbo.etl_load_control (
	TableName      NVARCHAR(128) NOT NULL PRIMARY KEY,
	LastLoadedDate DATETIME2     NOT NULL
)`,
}

// Value columns that earlier schemas created with a bounded width.
var unboundedColumns = []struct {
	table   string
	columns []string
}{
	{RawTable, []string{"cc_num", "merchant", "category", "amt", "gender", "city", "state", "zip", "is_fraud"}},
	{FactTable, []string{"cc_num", "merchant", "category", "gender", "city", "state"}},
	{IssueTable, []string{"IssueDescription"}},
}

// upgradeStatements widens columns of tables created by earlier schemas.
// COL_LENGTH is -1 for NVARCHAR(MAX), so each statement is a no-op once
// applied.
func upgradeStatements() []string {
	var stmts []string
	for _, t := range unboundedColumns {
		for _, col := range t.columns {
			stmts = append(stmts, fmt.Sprintf(
				"IF COL_LENGTH(N'dbo.%[1]s', N'%[2]s') <> -1 ALTER TABLE dbo.%[1]s ALTER COLUMN %[2]s NVARCHAR(MAX) %[3]s",
				t.table, col, nullability(t.table)))
		}
	}
	stmts = append(stmts, fmt.Sprintf(
		"IF COLUMNPROPERTY(OBJECT_ID(N'dbo.%[1]s'), N'amt', 'Precision') < 38 ALTER TABLE dbo.%[1]s ALTER COLUMN amt DECIMAL(38, 10) NOT NULL",
		FactTable))
	return stmts
}

func nullability(table string) string {
	if table == IssueTable {
		return "NOT NULL"
	}
	return "NULL"
}

// EnsureSchema creates the pipeline tables that do not exist yet and widens
// value columns of existing ones.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range append(schemaStatements, upgradeStatements()...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// EnsureMongoIndexes creates the secondary indexes the issue export and
// batch lookups rely on. Documents are keyed by _id, so nothing else is
// needed for upserts.
func EnsureMongoIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	batchRow := mongo.IndexModel{Keys: bson.D{{Key: "batch_id", Value: 1}, {Key: "row_num", Value: 1}}}
	for _, coll := range []string{RawTable, FactTable, IssueTable} {
		if _, err := db.Collection(coll).Indexes().CreateOne(ctx, batchRow); err != nil {
			return fmt.Errorf("ensure index on %s: %w", coll, err)
		}
	}
	return nil
}
