package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/finguard/pkg/database"
	"github.com/BartekS5/finguard/pkg/models"
)

// SQLWatermarkStore keeps one etl_load_control row per source.
type SQLWatermarkStore struct {
	DB *sqlx.DB
}

func NewSQLWatermarkStore(db *sqlx.DB) *SQLWatermarkStore {
	return &SQLWatermarkStore{DB: db}
}

// The range lock makes the existence check and insert one atomic step.
var ensureWatermarkSQL = fmt.Sprintf(`INSERT INTO %[1]s (TableName, LastLoadedDate)
SELECT @p1, @p2
WHERE NOT EXISTS (SELECT 1 FROM %[1]s WITH (UPDLOCK, HOLDLOCK) WHERE TableName = @p1)`, database.ControlTable)

var selectWatermarkSQL = fmt.Sprintf(`SELECT TableName, LastLoadedDate FROM %s WHERE TableName = @p1`, database.ControlTable)

var advanceWatermarkSQL = fmt.Sprintf(`UPDATE %s
SET LastLoadedDate = CASE WHEN LastLoadedDate < @p2 THEN @p2 ELSE LastLoadedDate END
WHERE TableName = @p1`, database.ControlTable)

func (s *SQLWatermarkStore) Get(ctx context.Context, source string) (time.Time, error) {
	state, err := s.State(ctx, source)
	if err != nil {
		return time.Time{}, err
	}
	return state.LastEventTime, nil
}

// State returns the stored row for source, creating it first if needed.
func (s *SQLWatermarkStore) State(ctx context.Context, source string) (models.WatermarkState, error) {
	var state models.WatermarkState
	if _, err := s.DB.ExecContext(ctx, ensureWatermarkSQL, source, models.EpochWatermark); err != nil {
		return state, fmt.Errorf("%w: create watermark for %s: %w", ErrStorageUnavailable, source, err)
	}
	if err := s.DB.GetContext(ctx, &state, selectWatermarkSQL, source); err != nil {
		return state, fmt.Errorf("%w: read watermark for %s: %w", ErrStorageUnavailable, source, err)
	}
	state.LastEventTime = state.LastEventTime.UTC()
	return state, nil
}

func (s *SQLWatermarkStore) Advance(ctx context.Context, source string, ts time.Time) error {
	res, err := s.DB.ExecContext(ctx, advanceWatermarkSQL, source, ts.UTC())
	if err != nil {
		return fmt.Errorf("%w: advance watermark for %s: %w", ErrStorageUnavailable, source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: advance watermark for %s: %w", ErrStorageUnavailable, source, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no watermark row for %s", ErrStorageUnavailable, source)
	}
	return nil
}

// MongoWatermarkStore keeps one document per source, keyed by source name.
type MongoWatermarkStore struct {
	Collection *mongo.Collection
}

func NewMongoWatermarkStore(client *mongo.Client, dbName string) *MongoWatermarkStore {
	return &MongoWatermarkStore{Collection: client.Database(dbName).Collection(database.ControlTable)}
}

func (m *MongoWatermarkStore) Get(ctx context.Context, source string) (time.Time, error) {
	state, err := m.State(ctx, source)
	if err != nil {
		return time.Time{}, err
	}
	return state.LastEventTime, nil
}

func (m *MongoWatermarkStore) State(ctx context.Context, source string) (models.WatermarkState, error) {
	filter := bson.M{"_id": source}
	update := bson.M{"$setOnInsert": bson.M{"last_loaded_date": models.EpochWatermark}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var state models.WatermarkState
	err := m.Collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&state)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert created the document first; read it back.
		err = m.Collection.FindOne(ctx, filter).Decode(&state)
	}
	if err != nil {
		return state, fmt.Errorf("%w: read watermark for %s: %w", ErrStorageUnavailable, source, err)
	}
	state.LastEventTime = state.LastEventTime.UTC()
	return state, nil
}

func (m *MongoWatermarkStore) Advance(ctx context.Context, source string, ts time.Time) error {
	res, err := m.Collection.UpdateOne(ctx,
		bson.M{"_id": source},
		bson.M{"$max": bson.M{"last_loaded_date": ts.UTC()}})
	if err != nil {
		return fmt.Errorf("%w: advance watermark for %s: %w", ErrStorageUnavailable, source, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: no watermark document for %s", ErrStorageUnavailable, source)
	}
	return nil
}
