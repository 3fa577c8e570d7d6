package etl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/finguard/pkg/database"
	"github.com/BartekS5/finguard/pkg/models"
)

// IssueExporter reads logged issues back, optionally for one batch only.
type IssueExporter interface {
	Issues(ctx context.Context, batchID string) ([]models.Issue, error)
}

type SQLIssueExporter struct {
	DB *sqlx.DB
}

func (e *SQLIssueExporter) Issues(ctx context.Context, batchID string) ([]models.Issue, error) {
	query := fmt.Sprintf(`SELECT BatchId, RowNum, ColumnName, IssueType, IssueDescription FROM %s`, database.IssueTable)
	var args []interface{}
	if batchID != "" {
		query += ` WHERE BatchId = @p1`
		args = append(args, batchID)
	}
	query += ` ORDER BY IssueId`

	var issues []models.Issue
	if err := e.DB.SelectContext(ctx, &issues, query, args...); err != nil {
		return nil, fmt.Errorf("read %s: %w", database.IssueTable, err)
	}
	return issues, nil
}

type MongoIssueExporter struct {
	Collection *mongo.Collection
}

func NewMongoIssueExporter(client *mongo.Client, dbName string) *MongoIssueExporter {
	return &MongoIssueExporter{Collection: client.Database(dbName).Collection(database.IssueTable)}
}

func (e *MongoIssueExporter) Issues(ctx context.Context, batchID string) ([]models.Issue, error) {
	filter := bson.M{}
	if batchID != "" {
		filter["batch_id"] = batchID
	}
	opts := options.Find().SetSort(bson.D{{Key: "batch_id", Value: 1}, {Key: "row_num", Value: 1}})

	cursor, err := e.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", database.IssueTable, err)
	}
	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, fmt.Errorf("decode %s: %w", database.IssueTable, err)
	}
	return issues, nil
}

var issueExportHeader = []string{"RowNum", "ColumnName", "IssueType", "IssueDescription", "BatchId"}

// WriteIssuesCSV writes issues as a CSV report with a header row.
func WriteIssuesCSV(w io.Writer, issues []models.Issue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(issueExportHeader); err != nil {
		return err
	}
	for _, is := range issues {
		rec := []string{strconv.Itoa(is.RowNum), is.ColumnName, string(is.IssueType), is.Description, is.BatchID}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
