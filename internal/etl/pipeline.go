package etl

import (
	"context"
	"errors"
	"time"

	"github.com/BartekS5/finguard/pkg/logger"
	"github.com/BartekS5/finguard/pkg/metrics"
	"github.com/BartekS5/finguard/pkg/models"
)

// Pipeline runs one incremental extract-check-load pass for a source.
type Pipeline struct {
	Source     Source
	Extractor  *Extractor
	Normalizer *Normalizer
	Engine     *RuleEngine
	Loader     *BatchedLoader
	Watermarks WatermarkStore
	// Locker is optional; nil means runs are serialised by the caller.
	Locker Locker

	SourceName string
	// Full ignores the stored watermark and extracts every row.
	Full   bool
	DryRun bool
}

// RunResult summarises a finished run.
type RunResult struct {
	BatchID           string
	Extracted         int
	FactCandidates    int
	Stats             LoadStats
	IssueSummary      map[models.IssueType]int
	Issues            int
	PreviousWatermark time.Time
	NewWatermark      time.Time
	Advanced          bool
}

func NewPipeline(src Source, loader *BatchedLoader, watermarks WatermarkStore, rules RuleConfig, sourceName string) *Pipeline {
	return &Pipeline{
		Source:     src,
		Extractor:  NewExtractor(),
		Normalizer: NewNormalizer(),
		Engine:     NewRuleEngine(rules),
		Loader:     loader,
		Watermarks: watermarks,
		SourceName: sourceName,
	}
}

// Run extracts rows newer than the watermark, evaluates the rules, loads the
// raw, fact and issue streams and finally advances the watermark. The
// watermark only moves once every stream is committed.
func (p *Pipeline) Run(ctx context.Context) (res *RunResult, err error) {
	start := time.Now()
	status := "success"
	defer func() {
		if err != nil {
			status = "failure"
		}
		metrics.RunsTotal.WithLabelValues(p.SourceName, status).Inc()
		metrics.RunDurationSeconds.WithLabelValues(p.SourceName).Observe(time.Since(start).Seconds())
	}()

	if p.Locker != nil {
		release, err := p.Locker.Acquire(ctx, p.SourceName)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				logger.Warnf("Failed to release run lock for %s: %v", p.SourceName, rerr)
			}
		}()
	}

	logger.Infof("Starting pipeline for %s. Full: %v, DryRun: %v", p.SourceName, p.Full, p.DryRun)

	res = &RunResult{PreviousWatermark: models.EpochWatermark}
	if !p.Full {
		wm, err := p.Watermarks.Get(ctx, p.SourceName)
		if err != nil {
			return nil, &StorageError{Op: "read", Source: p.SourceName, Stage: StageBeforeLoad, Err: err}
		}
		res.PreviousWatermark = wm
	}
	res.NewWatermark = res.PreviousWatermark

	var batch models.Batch
	if p.Full {
		batch, err = p.Extractor.ExtractFull(ctx, p.Source)
	} else {
		batch, err = p.Extractor.Extract(ctx, p.Source, res.PreviousWatermark)
	}
	if err != nil {
		return nil, err
	}
	res.BatchID = batch.ID
	res.Extracted = batch.Len()
	metrics.RowsExtractedTotal.WithLabelValues(p.SourceName).Add(float64(batch.Len()))

	if batch.Len() == 0 {
		status = "empty"
		logger.Info("No new data to process.")
		return res, nil
	}

	batch = p.Normalizer.Normalize(batch)
	issues, err := p.Engine.Evaluate(batch)
	if err != nil {
		return nil, err
	}
	facts := p.Normalizer.FactRows(batch)

	res.Issues = len(issues)
	res.FactCandidates = len(facts)
	res.IssueSummary = Summarize(issues)
	for typ, n := range res.IssueSummary {
		metrics.IssuesDetectedTotal.WithLabelValues(string(typ)).Add(float64(n))
	}
	logger.Infof("Batch %s: %d rows, %d pass fact checks, %d issues %v",
		batch.ID, batch.Len(), len(facts), len(issues), res.IssueSummary)

	if p.DryRun {
		status = "dry_run"
		logger.Infof("[DRY RUN] Would load %d raw, %d fact and %d issue records", batch.Len(), len(facts), len(issues))
		return res, nil
	}

	res.Stats, err = p.Loader.Load(ctx, batch, facts, issues)
	if err != nil {
		var lerr *LoadError
		if errors.As(err, &lerr) {
			logger.Errorf("Loading batch %s failed on %s chunk %d; watermark left at %s",
				batch.ID, lerr.Sink, lerr.Chunk, res.PreviousWatermark.Format(time.RFC3339))
		}
		return res, err
	}

	maxTime, ok := batch.MaxEventTime()
	if !ok {
		logger.Warnf("Batch %s has no known event time; watermark stays at %s",
			batch.ID, res.PreviousWatermark.Format(time.RFC3339))
		return res, nil
	}
	if err := p.Watermarks.Advance(ctx, p.SourceName, maxTime); err != nil {
		serr := &StorageError{Op: "advance", Source: p.SourceName, Stage: StageAfterLoad, Err: err}
		logger.Errorf("Batch %s data loaded but watermark stale: %v", batch.ID, serr)
		return res, serr
	}
	if maxTime.After(res.PreviousWatermark) {
		res.NewWatermark = maxTime
	}
	res.Advanced = true
	metrics.WatermarkSeconds.WithLabelValues(p.SourceName).Set(float64(res.NewWatermark.Unix()))

	logger.Infof("Pipeline finished for %s. Watermark %s -> %s",
		p.SourceName, res.PreviousWatermark.Format(time.RFC3339), res.NewWatermark.Format(time.RFC3339))
	return res, nil
}
