package etl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/finguard/pkg/database"
	"github.com/BartekS5/finguard/pkg/logger"
	"github.com/BartekS5/finguard/pkg/models"
)

// MongoSource reads a collection of flat transaction documents.
type MongoSource struct {
	Collection *mongo.Collection
	OrderBy    string
}

func (m *MongoSource) Name() string {
	return m.Collection.Name()
}

func (m *MongoSource) Read(ctx context.Context) ([]map[string]string, error) {
	findOpts := options.Find()
	if m.OrderBy != "" {
		findOpts.SetSort(bson.D{{Key: m.OrderBy, Value: 1}, {Key: "_id", Value: 1}})
	} else {
		findOpts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}

	cursor, err := m.Collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []map[string]string
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document %d: %w", len(results), err)
		}
		row := make(map[string]string, len(doc))
		for k, v := range doc {
			row[k] = bsonText(v)
		}
		results = append(results, row)
	}
	return results, cursor.Err()
}

func bsonText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case primitive.DateTime:
		return val.Time().UTC().Format("2006-01-02 15:04:05")
	case primitive.Decimal128:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// MongoSink upserts each chunk with an ordered BulkWrite keyed by a
// deterministic _id, so rewriting a chunk after a partial failure does not
// duplicate documents. Acknowledged writes are durable, so Commit has
// nothing left to do.
type MongoSink[T any] struct {
	Collection *mongo.Collection
	Key        func(T) string
	Doc        func(T) bson.M
}

func (m *MongoSink[T]) Name() string {
	return m.Collection.Name()
}

func (m *MongoSink[T]) BulkInsert(ctx context.Context, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(rows))
	for _, r := range rows {
		doc := m.Doc(r)
		doc["_id"] = m.Key(r)
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc["_id"]}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	res, err := m.Collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("sink %s: bulk write: %w", m.Name(), err)
	}
	logger.Debugf("Mongo BulkWrite %s: Match %d, Mod %d, Upsert %d", m.Name(), res.MatchedCount, res.ModifiedCount, res.UpsertedCount)
	return nil
}

func (m *MongoSink[T]) Commit(ctx context.Context) error {
	return nil
}

func (m *MongoSink[T]) Rollback(ctx context.Context) error {
	return nil
}

// rowKey is stable within a batch, so a retried chunk replaces its own
// documents.
func rowKey(batchID string, rowNum int) string {
	return batchID + ":" + strconv.Itoa(rowNum)
}

func NewMongoRawSink(client *mongo.Client, dbName string) *MongoSink[models.Transaction] {
	return &MongoSink[models.Transaction]{
		Collection: client.Database(dbName).Collection(database.RawTable),
		Key:        func(t models.Transaction) string { return rowKey(t.BatchID, t.RowNum) },
		Doc: func(t models.Transaction) bson.M {
			return bson.M{
				"batch_id":          t.BatchID,
				"row_num":           t.RowNum,
				models.ColEventTime: timeOrNil(t.EventTime),
				models.ColCardID:    strOrNil(t.CardID),
				models.ColMerchant:  strOrNil(t.Merchant),
				models.ColCategory:  strOrNil(t.Category),
				models.ColAmount:    strOrNil(t.AmountRaw),
				models.ColGender:    strOrNil(t.Gender),
				models.ColCity:      strOrNil(t.City),
				models.ColState:     strOrNil(t.State),
				models.ColZip:       strOrNil(t.Zip),
				models.ColLat:       floatOrNil(t.Lat),
				models.ColLong:      floatOrNil(t.Long),
				models.ColMerchLat:  floatOrNil(t.MerchLat),
				models.ColMerchLong: floatOrNil(t.MerchLong),
				models.ColUnixTime:  intOrNil(t.UnixTime),
				models.ColIsFraud:   strOrNil(t.IsFraudRaw),
			}
		},
	}
}

func NewMongoFactSink(client *mongo.Client, dbName string, now func() time.Time) *MongoSink[models.FactTransaction] {
	if now == nil {
		now = time.Now
	}
	return &MongoSink[models.FactTransaction]{
		Collection: client.Database(dbName).Collection(database.FactTable),
		Key:        func(f models.FactTransaction) string { return rowKey(f.BatchID, f.RowNum) },
		Doc: func(f models.FactTransaction) bson.M {
			var amount interface{} = f.Amount.String()
			if d, err := primitive.ParseDecimal128(f.Amount.String()); err == nil {
				amount = d
			}
			return bson.M{
				"batch_id":          f.BatchID,
				"row_num":           f.RowNum,
				models.ColEventTime: timeOrNil(f.EventTime),
				models.ColCardID:    strOrNil(f.CardID),
				models.ColMerchant:  strOrNil(f.Merchant),
				models.ColCategory:  strOrNil(f.Category),
				models.ColAmount:    amount,
				models.ColGender:    strOrNil(f.Gender),
				models.ColCity:      strOrNil(f.City),
				models.ColState:     strOrNil(f.State),
				models.ColIsFraud:   f.IsFraud,
				"load_date":         now().UTC(),
			}
		},
	}
}

func NewMongoIssueSink(client *mongo.Client, dbName string) *MongoSink[models.Issue] {
	return &MongoSink[models.Issue]{
		Collection: client.Database(dbName).Collection(database.IssueTable),
		Key: func(i models.Issue) string {
			return rowKey(i.BatchID, i.RowNum) + ":" + i.ColumnName + ":" + string(i.IssueType)
		},
		Doc: func(i models.Issue) bson.M {
			return bson.M{
				"batch_id":    i.BatchID,
				"row_num":     i.RowNum,
				"column_name": i.ColumnName,
				"issue_type":  string(i.IssueType),
				"description": i.Description,
			}
		},
	}
}
