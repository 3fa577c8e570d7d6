package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SQL_CONNECTION_STRING", "sqlserver://sa:pw@localhost:1433?database=FinGuardDB")
	t.Setenv("SOURCE_PATH", "fraudTrain.csv")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLServer, cfg.SinkKind)
	assert.Equal(t, SourceCSV, cfg.Source.Kind)
	assert.Equal(t, "fraud_transactions", cfg.Source.SourceName)
	assert.Equal(t, 1000, cfg.Load.RawBatchSize)
	assert.Equal(t, 500, cfg.Load.FactBatchSize)
	assert.Equal(t, 300, cfg.Load.IssueBatchSize)
	assert.Equal(t, 3, cfg.Load.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Load.BaseBackoff)
	assert.Equal(t, 0.005, cfg.Rules.ImbalanceThreshold)
	assert.Equal(t, 1.5, cfg.Rules.OutlierMultiplier)
	assert.Equal(t, 15*time.Minute, cfg.RunLock.TTL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SINK_BACKEND", "mongo")
	t.Setenv("MONGO_CONNECTION_STRING", "mongodb://localhost:27017")
	t.Setenv("FACT_BATCH_SIZE", "250")
	t.Setenv("IMBALANCE_THRESHOLD", "0.01")
	t.Setenv("OUTLIER_MULTIPLIER", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendMongo, cfg.SinkKind)
	assert.Equal(t, 250, cfg.Load.FactBatchSize)
	assert.Equal(t, 0.01, cfg.Rules.ImbalanceThreshold)
	assert.Equal(t, 3.0, cfg.Rules.OutlierMultiplier)
}

func TestLoadConfigCollectsErrors(t *testing.T) {
	t.Setenv("SQL_CONNECTION_STRING", "")
	t.Setenv("RAW_BATCH_SIZE", "0")
	t.Setenv("SINK_BACKEND", "parquet")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAW_BATCH_SIZE must be greater than zero")
	assert.Contains(t, err.Error(), "SINK_BACKEND must be")
}

func TestLoadConfigRequiresSQLForSQLSink(t *testing.T) {
	t.Setenv("SQL_CONNECTION_STRING", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQL_CONNECTION_STRING is required")
}
