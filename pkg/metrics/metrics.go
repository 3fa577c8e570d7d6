// Package metrics holds the Prometheus collectors updated by pipeline runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finguard_runs_total",
			Help: "Pipeline runs by source and outcome",
		},
		[]string{"source", "status"}, // status=success/failure/empty/dry_run
	)

	RunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finguard_run_duration_seconds",
			Help:    "Wall time of one pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"source"},
	)

	RowsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finguard_rows_extracted_total",
			Help: "Rows kept by incremental extraction",
		},
		[]string{"source"},
	)

	RowsLoadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finguard_rows_loaded_total",
			Help: "Rows committed per sink",
		},
		[]string{"sink"},
	)

	ChunkRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finguard_chunk_retries_total",
			Help: "Chunk write attempts that failed and were retried",
		},
		[]string{"sink"},
	)

	IssuesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finguard_issues_detected_total",
			Help: "Data-quality issues raised by the rule engine",
		},
		[]string{"issue_type"},
	)

	WatermarkSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finguard_watermark_timestamp_seconds",
			Help: "Current watermark per source as unix seconds",
		},
		[]string{"source"},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
