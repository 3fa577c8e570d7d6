// Package config loads runtime settings for the pipeline from environment
// variables (populated from the .env file in main.go).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sink and source backends.
const (
	BackendSQLServer = "sqlserver"
	BackendMongo     = "mongo"
	SourceCSV        = "csv"
)

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig
	SQL      SQLConfig
	Mongo    MongoConfig
	Source   SourceConfig
	Load     LoaderConfig
	Rules    RulesConfig
	RunLock  RunLockConfig
	Metrics  MetricsConfig
	SinkKind string
}

type AppConfig struct {
	Env      string
	LogLevel string
	LogFile  string
}

type SQLConfig struct {
	ConnString string
}

type MongoConfig struct {
	ConnString string
	Database   string
}

// SourceConfig describes where transactions are read from and the logical
// source name the watermark is kept under.
type SourceConfig struct {
	Kind       string
	Path       string
	Table      string
	OrderBy    string
	SourceName string
}

// LoaderConfig controls chunk sizes and retry behaviour of the batched loader.
type LoaderConfig struct {
	RawBatchSize   int
	FactBatchSize  int
	IssueBatchSize int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

type RulesConfig struct {
	ImbalanceThreshold float64
	OutlierMultiplier  float64
}

// RunLockConfig enables the Redis run lock when Addr is set.
type RunLockConfig struct {
	RedisAddr string
	TTL       time.Duration
}

type MetricsConfig struct {
	Addr string
}

// LoadConfig reads environment variables, applies defaults and validates
// the result.
func LoadConfig() (*Config, error) {
	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "production", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.LogFile = ldr.getString("LOG_FILE", "", false)

	cfg.SinkKind = strings.ToLower(ldr.getString("SINK_BACKEND", BackendSQLServer, false))

	cfg.Source.Kind = strings.ToLower(ldr.getString("SOURCE_KIND", SourceCSV, false))
	cfg.Source.Path = ldr.getString("SOURCE_PATH", "", false)
	cfg.Source.Table = ldr.getString("SOURCE_TABLE", "", false)
	cfg.Source.OrderBy = ldr.getString("SOURCE_ORDER_BY", "", false)
	cfg.Source.SourceName = ldr.getString("SOURCE_NAME", "fraud_transactions", false)

	needSQL := cfg.SinkKind == BackendSQLServer || cfg.Source.Kind == BackendSQLServer
	needMongo := cfg.SinkKind == BackendMongo || cfg.Source.Kind == BackendMongo
	cfg.SQL.ConnString = ldr.getString("SQL_CONNECTION_STRING", "", needSQL)
	cfg.Mongo.ConnString = ldr.getString("MONGO_CONNECTION_STRING", "", needMongo)
	cfg.Mongo.Database = ldr.getString("MONGO_DATABASE", "FinGuardDB", false)

	cfg.Load.RawBatchSize = ldr.getPositiveInt("RAW_BATCH_SIZE", 1000)
	cfg.Load.FactBatchSize = ldr.getPositiveInt("FACT_BATCH_SIZE", 500)
	cfg.Load.IssueBatchSize = ldr.getPositiveInt("ISSUE_BATCH_SIZE", 300)
	cfg.Load.MaxAttempts = ldr.getPositiveInt("LOAD_MAX_ATTEMPTS", 3)
	cfg.Load.BaseBackoff = time.Duration(ldr.getInt("LOAD_BASE_BACKOFF_MS", 500, false)) * time.Millisecond
	cfg.Load.MaxBackoff = time.Duration(ldr.getInt("LOAD_MAX_BACKOFF_MS", 10000, false)) * time.Millisecond

	cfg.Rules.ImbalanceThreshold = ldr.getFloat("IMBALANCE_THRESHOLD", 0.005)
	cfg.Rules.OutlierMultiplier = ldr.getFloat("OUTLIER_MULTIPLIER", 1.5)

	cfg.RunLock.RedisAddr = ldr.getString("REDIS_ADDR", "", false)
	cfg.RunLock.TTL = time.Duration(ldr.getInt("RUN_LOCK_TTL_SECONDS", 900, false)) * time.Second

	cfg.Metrics.Addr = ldr.getString("METRICS_ADDR", "", false)

	switch cfg.SinkKind {
	case BackendSQLServer, BackendMongo:
	default:
		ldr.addError(fmt.Sprintf("SINK_BACKEND must be %q or %q", BackendSQLServer, BackendMongo))
	}
	switch cfg.Source.Kind {
	case SourceCSV, BackendSQLServer, BackendMongo:
	default:
		ldr.addError(fmt.Sprintf("SOURCE_KIND must be %q, %q or %q", SourceCSV, BackendSQLServer, BackendMongo))
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getPositiveInt(key string, def int) int {
	i := l.getInt(key, def, false)
	if i <= 0 {
		l.addError(fmt.Sprintf("%s must be greater than zero", key))
		return def
	}
	return i
}

func (l *envLoader) getFloat(key string, def float64) float64 {
	val, ok := l.lookup(key, false)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		l.addError(fmt.Sprintf("%s must be a non-negative number", key))
		return def
	}
	return f
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
