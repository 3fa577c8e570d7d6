package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/BartekS5/finguard/internal/config"
	"github.com/BartekS5/finguard/internal/etl"
	"github.com/BartekS5/finguard/pkg/database"
	"github.com/BartekS5/finguard/pkg/lock"
	"github.com/BartekS5/finguard/pkg/logger"
	"github.com/BartekS5/finguard/pkg/metrics"
	"github.com/BartekS5/finguard/pkg/models"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.App.LogFile, cfg.App.LogLevel, cfg.App.Env); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

func (o *RunOptions) apply(cfg *config.Config) {
	if o.SourceKind != "" {
		cfg.Source.Kind = o.SourceKind
	}
	if o.SourcePath != "" {
		cfg.Source.Path = o.SourcePath
	}
	if o.SourceTable != "" {
		cfg.Source.Table = o.SourceTable
	}
	if o.SourceName != "" {
		cfg.Source.SourceName = o.SourceName
	}
	if o.RawBatchSize > 0 {
		cfg.Load.RawBatchSize = o.RawBatchSize
	}
	if o.FactBatchSize > 0 {
		cfg.Load.FactBatchSize = o.FactBatchSize
	}
	if o.IssueBatchSize > 0 {
		cfg.Load.IssueBatchSize = o.IssueBatchSize
	}
}

// connections holds the database handles opened for one command.
type connections struct {
	cfg   *config.Config
	sqlDB *sql.DB
	mongo *mongo.Client
}

// connect opens the sink backend, plus the source backend when withSource
// is set.
func connect(ctx context.Context, cfg *config.Config, withSource bool) (*connections, error) {
	needSQL := cfg.SinkKind == config.BackendSQLServer
	needMongo := cfg.SinkKind == config.BackendMongo
	if withSource {
		needSQL = needSQL || cfg.Source.Kind == config.BackendSQLServer
		needMongo = needMongo || cfg.Source.Kind == config.BackendMongo
	}

	c := &connections{cfg: cfg}
	if needSQL {
		if cfg.SQL.ConnString == "" {
			return nil, errors.New("SQL_CONNECTION_STRING is required for the sqlserver backend")
		}
		db, err := database.ConnectSQL(ctx, cfg.SQL.ConnString)
		if err != nil {
			return nil, err
		}
		c.sqlDB = db
	}
	if needMongo {
		if cfg.Mongo.ConnString == "" {
			c.Close()
			return nil, errors.New("MONGO_CONNECTION_STRING is required for the mongo backend")
		}
		client, err := database.ConnectMongo(ctx, cfg.Mongo.ConnString)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.mongo = client
	}
	return c, nil
}

func (c *connections) Close() {
	if c.sqlDB != nil {
		c.sqlDB.Close()
	}
	if c.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.mongo.Disconnect(ctx); err != nil {
			logger.Warnf("Failed to disconnect from MongoDB: %v", err)
		}
	}
}

func (c *connections) source() (etl.Source, error) {
	src := c.cfg.Source
	switch src.Kind {
	case config.SourceCSV:
		if src.Path == "" {
			return nil, errors.New("csv source needs SOURCE_PATH or --file")
		}
		return etl.NewCSVSource(src.Path), nil
	case config.BackendSQLServer, config.BackendMongo:
		if src.Table == "" {
			return nil, fmt.Errorf("%s source needs SOURCE_TABLE or --table", src.Kind)
		}
		if src.Kind == config.BackendSQLServer {
			return &etl.SQLSource{DB: c.sqlDB, Table: src.Table, OrderBy: src.OrderBy}, nil
		}
		coll := c.mongo.Database(c.cfg.Mongo.Database).Collection(src.Table)
		return &etl.MongoSource{Collection: coll, OrderBy: src.OrderBy}, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", src.Kind)
}

func (c *connections) loader() *etl.BatchedLoader {
	var l *etl.BatchedLoader
	if c.cfg.SinkKind == config.BackendMongo {
		db := c.cfg.Mongo.Database
		l = etl.NewBatchedLoader(
			etl.NewMongoRawSink(c.mongo, db),
			etl.NewMongoFactSink(c.mongo, db, nil),
			etl.NewMongoIssueSink(c.mongo, db))
	} else {
		l = etl.NewBatchedLoader(
			etl.NewSQLRawSink(c.sqlDB),
			etl.NewSQLFactSink(c.sqlDB, nil),
			etl.NewSQLIssueSink(c.sqlDB))
	}

	ld := c.cfg.Load
	l.RawBatchSize = ld.RawBatchSize
	l.FactBatchSize = ld.FactBatchSize
	l.IssueBatchSize = ld.IssueBatchSize
	l.Retry = etl.RetryPolicy{MaxAttempts: ld.MaxAttempts, BaseBackoff: ld.BaseBackoff, MaxBackoff: ld.MaxBackoff}
	return l
}

type watermarkStore interface {
	etl.WatermarkStore
	State(ctx context.Context, source string) (models.WatermarkState, error)
}

func (c *connections) watermarks() watermarkStore {
	if c.cfg.SinkKind == config.BackendMongo {
		return etl.NewMongoWatermarkStore(c.mongo, c.cfg.Mongo.Database)
	}
	return etl.NewSQLWatermarkStore(database.WrapSQL(c.sqlDB))
}

func (c *connections) issueExporter() etl.IssueExporter {
	if c.cfg.SinkKind == config.BackendMongo {
		return etl.NewMongoIssueExporter(c.mongo, c.cfg.Mongo.Database)
	}
	return &etl.SQLIssueExporter{DB: database.WrapSQL(c.sqlDB)}
}

func runPipeline(ctx context.Context, opts *RunOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts.apply(cfg)

	conns, err := connect(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer conns.Close()

	src, err := conns.source()
	if err != nil {
		return err
	}

	rules := etl.RuleConfig{ImbalanceThreshold: cfg.Rules.ImbalanceThreshold, OutlierMultiplier: cfg.Rules.OutlierMultiplier}
	pipeline := etl.NewPipeline(src, conns.loader(), conns.watermarks(), rules, cfg.Source.SourceName)
	pipeline.Full = opts.Full
	pipeline.DryRun = opts.DryRun

	if cfg.RunLock.RedisAddr != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.RunLock.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		pipeline.Locker = lock.NewRedisLocker(rdb, cfg.RunLock.TTL)
	}

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr); err != nil {
				logger.Warnf("Metrics server stopped: %v", err)
			}
		}()
	}

	fmt.Printf("Starting run for source %s from %s...\n", cfg.Source.SourceName, src.Name())
	res, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	printRunResult(os.Stdout, res, opts.DryRun)
	fmt.Println("Run finished successfully.")
	return nil
}

func printRunResult(w io.Writer, res *etl.RunResult, dryRun bool) {
	fmt.Fprintf(w, "Batch:      %s\n", res.BatchID)
	fmt.Fprintf(w, "Extracted:  %d\n", res.Extracted)
	if dryRun {
		fmt.Fprintf(w, "Fact rows:  %d (not loaded)\n", res.FactCandidates)
	} else {
		fmt.Fprintf(w, "Loaded:     raw %d, fact %d, issues %d\n", res.Stats.RawRows, res.Stats.FactRows, res.Stats.IssueRows)
	}
	fmt.Fprintf(w, "Issues:     %d\n", res.Issues)
	for _, typ := range models.IssueTypes {
		if n := res.IssueSummary[typ]; n > 0 {
			fmt.Fprintf(w, "  %-17s %d\n", typ, n)
		}
	}
	fmt.Fprintf(w, "Watermark:  %s -> %s\n", res.PreviousWatermark.Format(time.RFC3339), res.NewWatermark.Format(time.RFC3339))
}

func showWatermark(ctx context.Context, sourceName string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sourceName == "" {
		sourceName = cfg.Source.SourceName
	}

	conns, err := connect(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer conns.Close()

	state, err := conns.watermarks().State(ctx, sourceName)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", state.SourceName, state.LastEventTime.Format(time.RFC3339))
	return nil
}

func exportIssues(ctx context.Context, opts *ExportOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conns, err := connect(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer conns.Close()

	issues, err := conns.issueExporter().Issues(ctx, opts.BatchID)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if opts.Output != "" && opts.Output != "-" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := etl.WriteIssuesCSV(out, issues); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	logger.Infof("Exported %d issues to %s", len(issues), exportTarget(opts.Output))
	return nil
}

func exportTarget(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}

func initDB(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conns, err := connect(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer conns.Close()

	if cfg.SinkKind == config.BackendMongo {
		if err := database.EnsureMongoIndexes(ctx, conns.mongo, cfg.Mongo.Database); err != nil {
			return err
		}
	} else if err := database.EnsureSchema(ctx, conns.sqlDB); err != nil {
		return err
	}

	fmt.Printf("Storage for backend %s is ready.\n", cfg.SinkKind)
	return nil
}
